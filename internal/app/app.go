// Package app wires the lingua subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the question store,
// audio pipelines and tutor controller from the config, Run serves the HTTP
// surface, watches the config file and drives the foreground front-end, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore, WithMetrics,
// etc.) and through [Providers]. When an option is not provided, New creates
// the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lingua/internal/config"
	"github.com/MrWong99/lingua/internal/health"
	"github.com/MrWong99/lingua/internal/observe"
	"github.com/MrWong99/lingua/internal/question"
	"github.com/MrWong99/lingua/internal/question/postgres"
	"github.com/MrWong99/lingua/internal/resilience"
	"github.com/MrWong99/lingua/internal/tutor"
	"github.com/MrWong99/lingua/pkg/audio/capture"
	"github.com/MrWong99/lingua/pkg/audio/playback"
	"github.com/MrWong99/lingua/pkg/provider/live"
	"github.com/MrWong99/lingua/pkg/provider/llm"
	"github.com/MrWong99/lingua/pkg/provider/transcribe"
)

const (
	shutdownGrace     = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
)

// Providers holds one value per provider slot. Nil means not configured.
// Populated by main.go via the config registry.
type Providers struct {
	// Live is required.
	Live live.Provider

	Transcriber transcribe.Transcriber
	LLM         llm.Provider

	// Capture and Playback are the sound devices. Nil runs without them.
	Capture  capture.Device
	Playback playback.Output
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store    question.Store
	metrics  *observe.Metrics
	wakeLock tutor.WakeLock
	haptics  tutor.Haptics
	levelVar *slog.LevelVar

	configPath    string
	watchInterval time.Duration

	recorder *capture.Recorder
	player   *playback.Streamer
	ctrl     *tutor.Controller
	health   *health.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a question store instead of creating one from config.
func WithStore(s question.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithWakeLock keeps the machine awake while a session runs.
func WithWakeLock(w tutor.WakeLock) Option {
	return func(a *App) { a.wakeLock = w }
}

// WithHaptics gives feedback when recording starts and stops.
func WithHaptics(h tutor.Haptics) Option {
	return func(a *App) { a.haptics = h }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = v }
}

// WithConfigWatch makes Run poll path and apply valid changes to the next
// session. A zero interval uses the watcher default.
func WithConfigWatch(path string, interval time.Duration) Option {
	return func(a *App) {
		a.configPath = path
		a.watchInterval = interval
	}
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Live == nil {
		return nil, errors.New("app: a live provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Question store ────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Audio pipelines ───────────────────────────────────────────────
	a.initAudio()

	// ── 3. Tutor ─────────────────────────────────────────────────────────
	a.initController()

	// ── 4. Health ────────────────────────────────────────────────────────
	a.initHealth()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the PostgreSQL store when a DSN is configured and falls back
// to an in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	title := a.cfg.Store.PracticeSession
	lang := a.cfg.Practice.LearnLanguage

	if dsn := a.cfg.Store.PostgresDSN; dsn != "" {
		store, err := postgres.NewStore(ctx, dsn, title, lang)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		slog.Info("question store ready", "kind", "postgres", "practice_session", title)
		return nil
	}

	a.store = question.NewMemoryStore(title, lang)
	slog.Info("question store ready", "kind", "memory", "practice_session", title)
	return nil
}

// initAudio wraps the devices in the capture and playback pipelines.
func (a *App) initAudio() {
	if dev := a.providers.Capture; dev != nil {
		rec := capture.NewRecorder(dev, capture.WithOnDrop(func() {
			a.metrics.RecordCaptureDropped(context.Background())
		}))
		a.recorder = rec
		a.closers = append(a.closers, rec.Close)
	}

	if out := a.providers.Playback; out != nil {
		p := playback.NewStreamer(out,
			playback.WithLevelFunc(func(level float64) {
				if a.ctrl != nil {
					a.ctrl.SetOutputLevel(level)
				}
			}),
			playback.WithOnStall(func() {
				a.metrics.RecordPlaybackStall(context.Background())
			}),
		)
		a.player = p
		a.closers = append(a.closers, func() error {
			p.Close()
			return nil
		})
	}
}

func (a *App) initController() {
	tcfg := tutor.Config{
		Provider:    a.providers.Live,
		Store:       a.store,
		Settings:    SettingsFrom(a.cfg),
		Transcriber: a.guardedTranscriber(),
		WakeLock:    a.wakeLock,
		Haptics:     a.haptics,
		Metrics:     a.metrics,
	}
	// Typed nils must not reach the interfaces.
	if a.player != nil {
		tcfg.Player = a.player
	}
	if a.recorder != nil {
		tcfg.Recorder = a.recorder
	}
	if gen := a.generator(); gen != nil {
		tcfg.Prefiller = gen
	}
	a.ctrl = tutor.New(tcfg)
}

func (a *App) guardedTranscriber() transcribe.Transcriber {
	tr := a.providers.Transcriber
	if tr == nil {
		return nil
	}
	b := resilience.New(resilience.Config{
		Name:          "transcribe",
		OnStateChange: logBreaker,
	})
	return resilience.NewTranscriber(tr, b,
		resilience.WithMetrics(a.metrics, a.cfg.Providers.Transcribe.Name))
}

func (a *App) generator() *question.Generator {
	p := a.providers.LLM
	if p == nil {
		return nil
	}
	b := resilience.New(resilience.Config{
		Name:          "llm",
		OnStateChange: logBreaker,
	})
	return question.NewGenerator(resilience.NewCompleter(p, b,
		resilience.WithMetrics(a.metrics, a.cfg.Providers.LLM.Name)))
}

func logBreaker(name string, from, to resilience.State) {
	slog.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
}

func (a *App) initHealth() {
	liveKey := a.cfg.Providers.Live.APIKey
	checks := []health.Checker{{
		Name: "live",
		Check: func(context.Context) error {
			if liveKey == "" {
				return errors.New("no api key configured")
			}
			return nil
		},
	}}
	if p, ok := a.store.(health.Pinger); ok {
		checks = append(checks, health.PingCheck("store", p))
	}
	a.health = health.New(
		health.WithChecks(checks...),
		health.WithStatus(func() any { return a.ctrl.State() }),
	)
}

// SettingsFrom converts the practice section of cfg to tutor settings.
func SettingsFrom(cfg *config.Config) tutor.Settings {
	p := cfg.Practice
	s := tutor.Settings{
		Voice:             string(p.Voice),
		NativeLanguage:    p.NativeLanguage,
		LearnLanguage:     p.LearnLanguage,
		Difficulty:        p.Difficulty,
		Scoring:           p.ScoringEnabled(),
		PrefetchQuestions: p.PrefetchQuestions,
	}
	if t, ok := cfg.Providers.Live.FloatOption(config.TemperatureOption); ok {
		s.Temperature = t
	}
	return s
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the tutor controller.
func (a *App) Controller() *tutor.Controller { return a.ctrl }

// Store returns the question store.
func (a *App) Store() question.Store { return a.store }

// Handler returns the HTTP surface: health probes, /status and /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(a.metrics)(mux)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP (when server.listen_addr is set), watches the config file
// (when configured) and runs foreground until it returns or ctx is cancelled.
// A nil foreground waits for ctx. The first failure stops everything.
func (a *App) Run(ctx context.Context, foreground func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if a.configPath != "" {
		var wopts []config.WatcherOption
		if a.watchInterval > 0 {
			wopts = append(wopts, config.WithInterval(a.watchInterval))
		}
		w, err := config.NewWatcher(a.configPath, a.Reload, wopts...)
		if err != nil {
			return fmt.Errorf("app: watch config: %w", err)
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		g.Go(func() error {
			slog.Info("http server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		if foreground == nil {
			<-gctx.Done()
			return nil
		}
		return foreground(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Reload applies a changed config. Practice settings reach the next session;
// the open session never changes. Sections only read at startup are logged.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(SlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PracticeChanged {
		a.ctrl.SetSettings(SettingsFrom(new))
		slog.Info("practice settings changed; applied from the next session", "fields", d.PracticeFields)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// SlogLevel maps a config log level to its slog level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the open session, then tears down all subsystems in init
// order. It respects the context deadline: if ctx expires before all closers
// finish, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.ctrl.Stop(ctx); err != nil {
			slog.Warn("session stop error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
