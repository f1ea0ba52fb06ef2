package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// PracticeChanged is true if any practice setting changed. Practice
	// changes apply from the next session.
	PracticeChanged bool

	// PracticeFields lists the yaml names of the changed practice settings.
	// "temperature" stands for providers.live.options.temperature, which is
	// also read per session.
	PracticeFields []string

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists sections that changed but are only read at
	// startup (providers, audio, store, server.listen_addr, server.log_file).
	RestartRequired []string
}

// Empty reports whether nothing the app reads changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PracticeChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	op, np := old.Practice, new.Practice
	practice := []struct {
		name    string
		changed bool
	}{
		{"voice", op.Voice != np.Voice},
		{"native_language", op.NativeLanguage != np.NativeLanguage},
		{"learn_language", op.LearnLanguage != np.LearnLanguage},
		{"difficulty", op.Difficulty != np.Difficulty},
		{"scoring", op.ScoringEnabled() != np.ScoringEnabled()},
		{"prefetch_questions", op.PrefetchQuestions != np.PrefetchQuestions},
		{"temperature", liveTemperature(old) != liveTemperature(new)},
	}
	for _, f := range practice {
		if f.changed {
			d.PracticeFields = append(d.PracticeFields, f.name)
		}
	}
	d.PracticeChanged = len(d.PracticeFields) > 0

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Server.LogFile != new.Server.LogFile {
		d.RestartRequired = append(d.RestartRequired, "server.log_file")
	}
	if !reflect.DeepEqual(withoutTemperature(old.Providers), withoutTemperature(new.Providers)) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}

	return d
}

// TemperatureOption is the live provider option read per session.
const TemperatureOption = "temperature"

// liveTemperature returns the configured live temperature; zero means unset.
func liveTemperature(cfg *Config) float64 {
	t, _ := cfg.Providers.Live.FloatOption(TemperatureOption)
	return t
}

// withoutTemperature returns p with the per-session temperature option
// removed, so the rest can be compared for restart-only changes.
func withoutTemperature(p ProvidersConfig) ProvidersConfig {
	if _, ok := p.Live.Options[TemperatureOption]; !ok {
		return p
	}
	opts := make(map[string]any, len(p.Live.Options))
	for k, v := range p.Live.Options {
		if k != TemperatureOption {
			opts[k] = v
		}
	}
	if len(opts) == 0 {
		opts = nil
	}
	p.Live.Options = opts
	return p
}
