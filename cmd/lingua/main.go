// Command lingua is a terminal spoken-language tutor. It holds a realtime
// voice conversation with a Gemini model that asks questions in the language
// being learned and explains in the learner's native language.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lingua/internal/app"
	"github.com/MrWong99/lingua/internal/config"
	"github.com/MrWong99/lingua/internal/device"
	"github.com/MrWong99/lingua/internal/observe"
	"github.com/MrWong99/lingua/internal/prompt"
	"github.com/MrWong99/lingua/internal/ui"
	"github.com/MrWong99/lingua/pkg/audio"
	"github.com/MrWong99/lingua/pkg/audio/capture"
	"github.com/MrWong99/lingua/pkg/audio/playback"
	"github.com/MrWong99/lingua/pkg/provider/live"
	geminilive "github.com/MrWong99/lingua/pkg/provider/live/gemini"
	"github.com/MrWong99/lingua/pkg/provider/llm"
	"github.com/MrWong99/lingua/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/lingua/pkg/provider/llm/openai"
	"github.com/MrWong99/lingua/pkg/provider/transcribe"
	geminitranscribe "github.com/MrWong99/lingua/pkg/provider/transcribe/gemini"
)

const (
	shutdownTimeout = 15 * time.Second
	watchInterval   = 2 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "lingua.yaml", "path to the YAML configuration file")
	listSessions := flag.Bool("list-sessions", false, "print the stored practice sessions and exit")
	headless := flag.Bool("headless", false, "start a session immediately without the terminal UI")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "lingua: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "lingua: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The terminal UI owns the screen, so the log goes to a file unless
	// running headless.
	tui := !*headless && !*listSessions
	logOut := io.Writer(os.Stderr)
	if tui {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lingua: open log file: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: levelVar})))

	slog.Info("lingua starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "lingua"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	// Listing sessions needs neither sound devices nor a live provider
	// connection, but app.New requires the live slot to be filled.
	if *listSessions {
		cfg.Audio.CaptureDevice = config.DeviceNone
		cfg.Audio.PlaybackDevice = config.DeviceNone
	}

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Application ───────────────────────────────────────────────────────────
	opts := []app.Option{
		app.WithLevelVar(levelVar),
		app.WithHaptics(device.NewBell(os.Stderr)),
	}
	if !*listSessions {
		opts = append(opts, app.WithConfigWatch(*configPath, watchInterval))
	}
	if inh, err := device.NewInhibitor("lingua", "spoken practice session"); err == nil {
		opts = append(opts, app.WithWakeLock(inh))
	} else {
		slog.Info("wake lock unavailable", "err", err)
	}

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	if *listSessions {
		list, active, err := application.PracticeSessions(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "lingua: %v\n", err)
			return 1
		}
		if err := app.WriteSessions(os.Stdout, list, active); err != nil {
			fmt.Fprintf(os.Stderr, "lingua: %v\n", err)
			return 1
		}
		return 0
	}

	ctrl := application.Controller()
	var foreground func(context.Context) error
	if tui {
		foreground = func(ctx context.Context) error {
			return ui.Run(ctx, ctrl)
		}
	} else {
		printStartupSummary(cfg)
		foreground = func(ctx context.Context) error {
			if err := ctrl.Start(ctx); err != nil {
				return err
			}
			slog.Info("session running; press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		}
	}

	if err := application.Run(ctx, foreground); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmProviders are the any-llm-go backends offered for question
// generation.
var anyllmProviders = []string{"gemini", "openai", "anthropic", "ollama"}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── Live ──────────────────────────────────────────────────────────────────

	reg.RegisterLive("gemini-live", func(entry config.ProviderEntry) (live.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		opts = append(opts, geminilive.WithContinueSignal(entry.BoolOption("continue_signal", true)))
		if d := optString(entry.Options, "reconnect_delay"); d != "" {
			delay, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("reconnect_delay: %w", err)
			}
			opts = append(opts, geminilive.WithReconnectDelay(delay))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterTranscriber("gemini", func(entry config.ProviderEntry) (transcribe.Transcriber, error) {
		var opts []geminitranscribe.Option
		if entry.Model != "" {
			opts = append(opts, geminitranscribe.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminitranscribe.WithBaseURL(entry.BaseURL))
		}
		t, err := geminitranscribe.New(ctx, entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return t, nil
	})

	// ── LLM ───────────────────────────────────────────────────────────────────

	for _, providerName := range anyllmProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	reg.RegisterLLM("openai-native", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		p, err := oaillm.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterCapture(config.CaptureMalgo, func() (capture.Device, error) {
		return &capture.Malgo{}, nil
	})

	reg.RegisterPlayback(config.PlaybackOto, func(sampleRate int) (playback.Output, error) {
		out, err := playback.NewOto(sampleRate)
		if err != nil {
			return nil, err
		}
		return out, nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateLive(cfg.Providers.Live)
	if err != nil {
		return nil, fmt.Errorf("create live provider %q: %w", cfg.Providers.Live.Name, err)
	}
	ps.Live = p
	slog.Info("provider created", "kind", "live", "name", cfg.Providers.Live.Name)

	if entry := cfg.Providers.Transcribe; entry.Name != "" && entry.APIKey != "" {
		t, err := reg.CreateTranscriber(entry)
		if err != nil {
			return nil, fmt.Errorf("create transcriber %q: %w", entry.Name, err)
		}
		ps.Transcriber = t
		slog.Info("provider created", "kind", "transcribe", "name", entry.Name)
	}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		l, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		ps.LLM = l
		slog.Info("provider created", "kind", "llm", "name", entry.Name)
	}

	if name := cfg.Audio.CaptureDevice; name != config.DeviceNone {
		dev, err := reg.CreateCapture(name)
		if err != nil {
			return nil, fmt.Errorf("create capture device %q: %w", name, err)
		}
		ps.Capture = dev
		slog.Info("audio device ready", "kind", "capture", "name", name)
	}

	if name := cfg.Audio.PlaybackDevice; name != config.DeviceNone {
		out, err := reg.CreatePlayback(name, audio.PlaybackSampleRate)
		if err != nil {
			return nil, fmt.Errorf("create playback device %q: %w", name, err)
		}
		ps.Playback = out
		slog.Info("audio device ready", "kind", "playback", "name", name)
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	p := cfg.Practice
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        lingua startup summary         ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Live", cfg.Providers.Live.Name, cfg.Providers.Live.Model)
	printProvider("Transcribe", cfg.Providers.Transcribe.Name, cfg.Providers.Transcribe.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printRow("Native", prompt.LookupLanguage(p.NativeLanguage).Label)
	printRow("Learning", prompt.LookupLanguage(p.LearnLanguage).Label)
	printRow("Level", prompt.LookupLevel(p.Difficulty).Label)
	printRow("Voice", string(p.Voice))
	if cfg.Store.PostgresDSN != "" {
		printRow("Store", "postgres")
	} else {
		printRow("Store", "memory")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
