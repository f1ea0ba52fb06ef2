package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/MrWong99/lingua/internal/prompt"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"live":       {"gemini-live"},
	"transcribe": {"gemini"},
	"llm":        {"gemini", "openai", "anthropic", "ollama", "openai-native"},
}

// MaxPrefetchQuestions bounds practice.prefetch_questions.
const MaxPrefetchQuestions = 20

// Load reads the YAML configuration file at path, fills defaults and API
// keys from the environment, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := parse(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. The environment is not consulted.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, nil)
}

func parse(r io.Reader, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Practice
	p := cfg.Practice
	if !p.Voice.IsValid() {
		errs = append(errs, fmt.Errorf("practice.voice %q is invalid; valid values: male, female", p.Voice))
	}
	if !prompt.KnownLanguage(p.NativeLanguage) {
		errs = append(errs, fmt.Errorf("practice.native_language %q is not supported; valid values: %s", p.NativeLanguage, languageCodes()))
	}
	if !prompt.KnownLanguage(p.LearnLanguage) {
		errs = append(errs, fmt.Errorf("practice.learn_language %q is not supported; valid values: %s", p.LearnLanguage, languageCodes()))
	}
	if p.NativeLanguage == p.LearnLanguage {
		slog.Warn("practice.native_language equals practice.learn_language", "language", p.LearnLanguage)
	}
	if !prompt.KnownLevel(p.Difficulty) {
		errs = append(errs, fmt.Errorf("practice.difficulty %q is invalid; valid values: a1, a2, b1, b2, c1, c2", p.Difficulty))
	}
	if p.PrefetchQuestions < 0 || p.PrefetchQuestions > MaxPrefetchQuestions {
		errs = append(errs, fmt.Errorf("practice.prefetch_questions %d is out of range [0, %d]", p.PrefetchQuestions, MaxPrefetchQuestions))
	}
	if p.PrefetchQuestions > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("practice.prefetch_questions requires providers.llm to be configured"))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("live", cfg.Providers.Live.Name)
	validateProviderName("transcribe", cfg.Providers.Transcribe.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Providers.Live.APIKey == "" {
		errs = append(errs, errors.New("providers.live.api_key is required (or set GEMINI_API_KEY)"))
	}
	if t, ok := cfg.Providers.Live.FloatOption(TemperatureOption); ok && (t < 0 || t > 2) {
		errs = append(errs, fmt.Errorf("providers.live.options.temperature %.2f is out of range [0, 2]", t))
	}
	if cfg.Providers.Transcribe.APIKey == "" {
		slog.Warn("providers.transcribe.api_key is empty; spoken questions will only be recorded when the model reports them")
	}

	// Audio
	if !slices.Contains([]string{CaptureMalgo, DeviceNone}, cfg.Audio.CaptureDevice) {
		errs = append(errs, fmt.Errorf("audio.capture_device %q is invalid; valid values: malgo, none", cfg.Audio.CaptureDevice))
	}
	if !slices.Contains([]string{PlaybackOto, DeviceNone}, cfg.Audio.PlaybackDevice) {
		errs = append(errs, fmt.Errorf("audio.playback_device %q is invalid; valid values: oto, none", cfg.Audio.PlaybackDevice))
	}

	// Store
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; questions are kept in memory and lost on exit")
	}

	return errors.Join(errs...)
}

func languageCodes() string {
	var s string
	for i, l := range prompt.Languages {
		if i > 0 {
			s += ", "
		}
		s += l.Code
	}
	return s
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
