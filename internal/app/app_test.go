package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/lingua/internal/app"
	"github.com/MrWong99/lingua/internal/config"
	"github.com/MrWong99/lingua/internal/observe"
	"github.com/MrWong99/lingua/internal/question"
	audiomock "github.com/MrWong99/lingua/pkg/audio/mock"
	livemock "github.com/MrWong99/lingua/pkg/provider/live/mock"
	"github.com/MrWong99/lingua/pkg/provider/llm"
	llmmock "github.com/MrWong99/lingua/pkg/provider/llm/mock"
	transcribemock "github.com/MrWong99/lingua/pkg/provider/transcribe/mock"
)

// testConfig returns a valid config with defaults applied.
func testConfig() *config.Config {
	cfg := &config.Config{
		Providers: config.ProvidersConfig{
			Live: config.ProviderEntry{APIKey: "test-key"},
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

type harness struct {
	app   *app.App
	live  *livemock.Provider
	store *question.MemoryStore
	out   *audiomock.Output
}

func newHarness(t *testing.T, cfg *config.Config, opts ...app.Option) *harness {
	t.Helper()
	h := &harness{
		live:  &livemock.Provider{},
		store: question.NewMemoryStore("default", "en-US"),
		out:   &audiomock.Output{},
	}
	providers := &app.Providers{
		Live:        h.live,
		Transcriber: &transcribemock.Transcriber{},
		LLM:         &llmmock.Provider{Response: &llm.CompletionResponse{Content: `["Where do you live?"]`}},
		Capture:     &audiomock.CaptureDevice{},
		Playback:    h.out,
	}
	opts = append([]app.Option{app.WithStore(h.store), app.WithMetrics(testMetrics(t))}, opts...)
	a, err := app.New(t.Context(), cfg, providers, opts...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	h.app = a
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ── New ───────────────────────────────────────────────────────────────────────

func TestNew_RequiresLiveProvider(t *testing.T) {
	t.Parallel()
	_, err := app.New(t.Context(), testConfig(), &app.Providers{})
	if err == nil {
		t.Fatal("expected an error without a live provider")
	}
}

func TestNew_WithMocks(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	if h.app.Controller() == nil {
		t.Fatal("Controller() returned nil")
	}
	if h.app.Store() != h.store {
		t.Error("Store() should return the injected store")
	}
}

func TestNew_MemoryStoreWithoutDSN(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Store.PracticeSession = "travel"

	a, err := app.New(t.Context(), cfg, &app.Providers{Live: &livemock.Provider{}},
		app.WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	list, active, err := a.PracticeSessions(t.Context())
	if err != nil {
		t.Fatalf("PracticeSessions: %v", err)
	}
	if len(list) != 1 || list[0].Title != "travel" || list[0].ID != active {
		t.Errorf("sessions = %+v, active = %q", list, active)
	}
}

// ── Settings ──────────────────────────────────────────────────────────────────

func TestSettingsFrom(t *testing.T) {
	t.Parallel()
	off := false
	cfg := testConfig()
	cfg.Practice.Voice = config.VoiceFemale
	cfg.Practice.Difficulty = "b2"
	cfg.Practice.Scoring = &off
	cfg.Practice.PrefetchQuestions = 4
	cfg.Providers.Live.Options = map[string]any{"temperature": 0.9}

	s := app.SettingsFrom(cfg)
	if s.Voice != "female" || s.Difficulty != "b2" || s.Scoring || s.PrefetchQuestions != 4 {
		t.Errorf("settings = %+v", s)
	}
	if s.Temperature != 0.9 {
		t.Errorf("temperature = %v, want 0.9", s.Temperature)
	}
}

func TestStart_UsesPracticeSettings(t *testing.T) {
	t.Parallel()
	off := false
	cfg := testConfig()
	cfg.Practice.Scoring = &off
	cfg.Providers.Live.Options = map[string]any{"temperature": 0.9}
	h := newHarness(t, cfg)

	if err := h.app.Controller().Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := h.live.LastConfig()
	if got.Temperature != 0.9 {
		t.Errorf("temperature = %v, want 0.9", got.Temperature)
	}
	if got.LanguageCode != "hi-IN" {
		t.Errorf("language code = %q, want hi-IN", got.LanguageCode)
	}
	for _, tool := range got.Tools {
		if tool.Name == "give_score" {
			t.Error("give_score offered with scoring disabled")
		}
	}
}

// ── HTTP surface ──────────────────────────────────────────────────────────────

func TestHandler_Routes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	srv := httptest.NewServer(h.app.Handler())
	t.Cleanup(srv.Close)

	for _, path := range []string{"/healthz", "/readyz", "/status", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestHandler_ReadyzFailsWithoutAPIKey(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Providers.Live.APIKey = ""
	h := newHarness(t, cfg)

	rec := httptest.NewRecorder()
	h.app.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "live") {
		t.Errorf("body should name the live check: %s", rec.Body.String())
	}
}

func TestHandler_StatusReflectsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	if _, err := h.store.Seed(t.Context(), "a1", "What is your name?"); err != nil {
		t.Fatal(err)
	}
	if err := h.app.Controller().Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.live.Last().Activate()
	waitFor(t, "session start", func() bool { return h.app.Controller().State().SessionStarted })

	rec := httptest.NewRecorder()
	h.app.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	var st struct {
		Connection      string `json:"connection"`
		SessionStarted  bool   `json:"session_started"`
		CurrentQuestion string `json:"current_question"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !st.SessionStarted || st.CurrentQuestion != "What is your name?" {
		t.Errorf("status = %+v", st)
	}
	if st.Connection == "" {
		t.Error("connection state missing")
	}
}

// ── Reload ────────────────────────────────────────────────────────────────────

func TestReload_PracticeReachesNextSession(t *testing.T) {
	t.Parallel()
	old := testConfig()
	h := newHarness(t, old)

	if err := h.app.Controller().Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	updated := testConfig()
	updated.Practice.Difficulty = "c1"
	h.app.Reload(old, updated)

	if got := h.app.Controller().Settings().Difficulty; got != "c1" {
		t.Errorf("next session difficulty = %q, want c1", got)
	}
	if err := h.app.Controller().Start(t.Context()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if !strings.Contains(h.live.LastConfig().Instructions, "C1") {
		t.Error("second session should use the new difficulty")
	}
}

func TestReload_TemperatureOnly(t *testing.T) {
	t.Parallel()
	old := testConfig()
	h := newHarness(t, old)

	updated := testConfig()
	updated.Providers.Live.Options = map[string]any{"temperature": 1.3}
	h.app.Reload(old, updated)

	if got := h.app.Controller().Settings().Temperature; got != 1.3 {
		t.Errorf("next session temperature = %v, want 1.3", got)
	}
	if err := h.app.Controller().Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.live.LastConfig().Temperature; got != 1.3 {
		t.Errorf("session temperature = %v, want 1.3", got)
	}
}

func TestReload_LogLevel(t *testing.T) {
	t.Parallel()
	var lv slog.LevelVar
	old := testConfig()
	h := newHarness(t, old, app.WithLevelVar(&lv))

	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	h.app.Reload(old, updated)

	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", lv.Level())
	}
}

// ── Run ───────────────────────────────────────────────────────────────────────

func TestRun_ForegroundReturnEndsRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())

	done := make(chan error, 1)
	go func() {
		done <- h.app.Run(t.Context(), func(ctx context.Context) error { return nil })
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the foreground ended")
	}
}

func TestRun_ForegroundErrorIsReturned(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	boom := errors.New("boom")

	err := h.app.Run(t.Context(), func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("Run = %v, want boom", err)
	}
}

func TestRun_CancelStopsForeground(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan error, 1)
	go func() { done <- h.app.Run(ctx, nil) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_WatchesConfig(t *testing.T) {
	t.Parallel()
	const initial = `
providers:
  live: {api_key: k}
practice:
  difficulty: a1
`
	path := filepath.Join(t.TempDir(), "lingua.yaml")
	if err := os.WriteFile(path, []byte(initial), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, cfg, app.WithConfigWatch(path, 10*time.Millisecond))

	err = h.app.Run(t.Context(), func(ctx context.Context) error {
		changed := strings.Replace(initial, "a1", "b1", 1)
		if err := os.WriteFile(path, []byte(changed), 0o600); err != nil {
			return err
		}
		future := time.Now().Add(time.Minute)
		if err := os.Chtimes(path, future, future); err != nil {
			return err
		}
		deadline := time.Now().Add(2 * time.Second)
		for h.app.Controller().Settings().Difficulty != "b1" {
			if time.Now().After(deadline) {
				return errors.New("settings were not reloaded")
			}
			time.Sleep(5 * time.Millisecond)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// ── Shutdown ──────────────────────────────────────────────────────────────────

func TestShutdown_StopsSessionAndIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	if err := h.app.Controller().Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := h.live.Last()

	if err := h.app.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := h.app.Shutdown(t.Context()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if n := sess.CloseCount(); n != 1 {
		t.Errorf("session closed %d times, want 1", n)
	}
	if h.app.Controller().Active() {
		t.Error("controller still active after Shutdown")
	}
}

func TestShutdown_ExpiredContext(t *testing.T) {
	t.Parallel()
	h := newHarness(t, testConfig())
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := h.app.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown = %v, want context.Canceled", err)
	}
}

// ── Practice sessions ─────────────────────────────────────────────────────────

func TestWriteSessions(t *testing.T) {
	t.Parallel()
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	list := []question.PracticeSession{
		{ID: "a", Title: "default", Language: "en-US", CreatedAt: created},
		{ID: "b", Title: "travel", Language: "cmn-CN", CreatedAt: created},
	}
	var buf bytes.Buffer
	if err := app.WriteSessions(&buf, list, "b"); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[2], "*") || !strings.Contains(lines[2], "travel") {
		t.Errorf("active session not marked: %q", lines[2])
	}
	if strings.HasPrefix(lines[1], "*") {
		t.Errorf("inactive session marked: %q", lines[1])
	}
}
