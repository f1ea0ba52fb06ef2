// Package tutor runs a practice session: it opens the live session with an
// instruction built from the practice settings, primes the first question,
// streams the microphone to the model and keeps the question store in step
// with what the tutor asks and scores.
//
// The [Controller] exclusively owns the lifecycle of the live session, the
// capture recorder and the playback player. Exactly one session is open at a
// time; Start tears down any previous one first.
package tutor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lingua/internal/observe"
	"github.com/MrWong99/lingua/internal/prompt"
	"github.com/MrWong99/lingua/internal/question"
	"github.com/MrWong99/lingua/pkg/audio"
	"github.com/MrWong99/lingua/pkg/audio/capture"
	"github.com/MrWong99/lingua/pkg/provider/live"
	"github.com/MrWong99/lingua/pkg/provider/transcribe"
)

// ErrSessionFailed is the only failure users are shown.
var ErrSessionFailed = errors.New("An error has occurred. Please try again later.")

// ErrStopped is returned by Start when Stop overtook it.
var ErrStopped = errors.New("tutor: stopped before the session opened")

// DefaultTemperature is the live model temperature used when Settings leaves
// it zero.
const DefaultTemperature = 0.6

const (
	defaultTranscribeTimeout = 30 * time.Second
	hapticPulse              = 50 * time.Millisecond
)

// Settings is the practice configuration. The controller copies it at
// Start; changes only affect the next session.
type Settings struct {
	// Voice is "male" or "female".
	Voice string

	NativeLanguage string
	LearnLanguage  string

	// Difficulty is a level value such as "a1".
	Difficulty string

	// Scoring offers the give_score tool when true.
	Scoring bool

	// PrefetchQuestions asks the generator for this many questions before
	// connecting when the store has none pending.
	PrefetchQuestions int

	Temperature float64
}

// Recorder is the capture side of the controller. [capture.Recorder]
// implements it.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() error
	Mute()
	Unmute()
	Frames() <-chan audio.Frame
	Levels() <-chan float64
}

// Prefiller generates questions ahead of a session. [question.Generator]
// implements it.
type Prefiller interface {
	Prefill(ctx context.Context, s question.Store, n int, difficulty, learn string) ([]question.Question, error)
}

// WakeLock keeps the machine awake while a session runs.
type WakeLock interface {
	Acquire(ctx context.Context) error
	Release() error
}

// Haptics gives short physical feedback.
type Haptics interface {
	Pulse(d time.Duration) error
}

// Config holds the controller's collaborators. Provider and Store are
// required; a nil optional collaborator means the capability is absent.
type Config struct {
	Provider live.Provider
	Store    question.Store
	Settings Settings

	// Player receives the model's speech. Nil discards it.
	Player live.Player

	// Recorder captures the microphone. Nil runs the session without one.
	Recorder Recorder

	// Transcriber extracts the asked question from each completed turn.
	Transcriber transcribe.Transcriber

	Prefiller Prefiller
	WakeLock  WakeLock
	Haptics   Haptics
	Metrics   *observe.Metrics

	// TranscribeTimeout bounds one extraction. Default 30s.
	TranscribeTimeout time.Duration
}

// run is one Start..Stop span.
type run struct {
	settings Settings
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// Guarded by Controller.mu.
	session        live.Session
	dialedAt       time.Time
	wasActive      bool
	captureStarted bool
	wakeHeld       bool
}

// Controller binds a live session to the question workflow. All exported
// methods are safe for concurrent use.
type Controller struct {
	provider          live.Provider
	store             question.Store
	player            live.Player
	recorder          Recorder
	transcriber       transcribe.Transcriber
	prefiller         Prefiller
	wakeLock          WakeLock
	haptics           Haptics
	metrics           *observe.Metrics
	transcribeTimeout time.Duration

	// startMu serialises Start. Stop never takes it so it can overtake a
	// pending Start.
	startMu sync.Mutex

	// recordMu serialises dedupe-then-append on the store.
	recordMu sync.Mutex

	mu       sync.Mutex
	settings Settings
	active   *run
	turnDone bool
	state    State
	subs     map[int]chan State
	nextSub  int
}

// New returns an idle Controller.
func New(cfg Config) *Controller {
	c := &Controller{
		provider:          cfg.Provider,
		store:             cfg.Store,
		player:            cfg.Player,
		recorder:          cfg.Recorder,
		transcriber:       cfg.Transcriber,
		prefiller:         cfg.Prefiller,
		wakeLock:          cfg.WakeLock,
		haptics:           cfg.Haptics,
		metrics:           cfg.Metrics,
		transcribeTimeout: cfg.TranscribeTimeout,
		settings:          cfg.Settings,
		subs:              make(map[int]chan State),
	}
	if c.player == nil {
		c.player = nopPlayer{}
	}
	if c.transcribeTimeout <= 0 {
		c.transcribeTimeout = defaultTranscribeTimeout
	}
	return c
}

// SetSettings replaces the settings used by the next Start.
func (c *Controller) SetSettings(s Settings) {
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
}

// Settings returns the settings the next Start will use.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Active reports whether a session is open or opening.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// SetOutputLevel publishes the playback VU level. Wire it to the player's
// level tap.
func (c *Controller) SetOutputLevel(level float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return
	}
	c.updateLocked(func(s *State) { s.OutputLevel = level })
}

// ── Lifecycle ──────────────────────────────────────────────────────────────

// Start tears down any previous session and opens a new one. It returns once
// the connection is dialled; the first question is asked when the remote side
// completes setup. On failure the state carries [ErrSessionFailed] and the
// returned error wraps the cause.
func (c *Controller) Start(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if err := c.Stop(ctx); err != nil {
		slog.Warn("tutor: teardown of previous session incomplete", "err", err)
	}

	c.mu.Lock()
	r := &run{settings: c.settings}
	if r.settings.Temperature == 0 {
		r.settings.Temperature = DefaultTemperature
	}
	r.ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.active = r
	c.turnDone = false
	c.updateLocked(func(s *State) {
		*s = State{Connection: live.StateIdle, Loading: true}
	})
	c.mu.Unlock()

	err := c.open(ctx, r)
	if err != nil && !errors.Is(err, ErrStopped) && !c.isActive(r) {
		// Stop cancelled the dial; its failure is the stop, not an error.
		slog.Debug("tutor: connect abandoned after stop", "err", err)
		err = ErrStopped
	}
	switch {
	case err == nil:
		c.metrics.RecordSessionStart(ctx, "ok")
		return nil
	case errors.Is(err, ErrStopped):
		c.metrics.RecordSessionStart(ctx, "stopped")
		return err
	default:
		c.metrics.RecordSessionStart(ctx, "error")
		c.fail(r, err)
		return fmt.Errorf("%w: %w", ErrSessionFailed, err)
	}
}

func (c *Controller) open(ctx context.Context, r *run) (err error) {
	s := r.settings
	ctx, span := observe.StartSpan(ctx, "tutor.open",
		observe.SessionAttrs(s.NativeLanguage, s.LearnLanguage, s.Difficulty))
	defer func() {
		if !errors.Is(err, ErrStopped) {
			observe.Fail(span, err)
		}
		span.End()
	}()
	log := observe.Logger(ctx)

	if s.PrefetchQuestions > 0 && c.prefiller != nil {
		c.prefill(ctx, s)
	}

	prior, err := c.store.QuestionTexts(ctx)
	if err != nil {
		return fmt.Errorf("tutor: read asked questions: %w", err)
	}
	span.SetAttributes(attribute.Int("lingua.prior_questions", len(prior)))

	cfg := live.SessionConfig{
		Instructions: prompt.Build(prompt.Params{
			Voice:      s.Voice,
			Difficulty: s.Difficulty,
			Native:     s.NativeLanguage,
			Learn:      s.LearnLanguage,
			Prior:      prior,
		}),
		Voice:               s.Voice,
		LanguageCode:        s.NativeLanguage,
		Temperature:         s.Temperature,
		Tools:               toolDeclarations(s.Scoring),
		OutputTranscription: true,
	}

	c.mu.Lock()
	r.dialedAt = time.Now()
	c.mu.Unlock()

	// Dial on the run context so Stop can cancel it, under the open span.
	sess, err := c.provider.Connect(trace.ContextWithSpan(r.ctx, span), cfg, &handler{c: c, r: r}, c.player)
	if err != nil {
		return fmt.Errorf("tutor: connect: %w", err)
	}

	c.mu.Lock()
	if c.active != r {
		c.mu.Unlock()
		if cerr := sess.Close(); cerr != nil {
			log.Warn("tutor: failed to close overtaken session", "err", cerr)
		}
		return ErrStopped
	}
	r.session = sess
	c.mu.Unlock()

	c.metrics.SessionOpened(ctx)
	log.Info("tutor: session opened",
		"native_language", s.NativeLanguage,
		"learn_language", s.LearnLanguage,
		"difficulty", s.Difficulty,
		"prior_questions", len(prior),
	)
	return nil
}

// prefill generates questions when none are pending. Failures are logged
// and otherwise ignored.
func (c *Controller) prefill(ctx context.Context, s Settings) {
	ctx, span := observe.StartSpan(ctx, "tutor.prefill",
		trace.WithAttributes(attribute.Int("lingua.prefetch_target", s.PrefetchQuestions)))
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	added, err := c.prefiller.Prefill(ctx, c.store, s.PrefetchQuestions, s.Difficulty, s.LearnLanguage)
	if err != nil {
		observe.Fail(span, err)
		c.metrics.RecordGeneration(ctx, time.Since(start), "error")
		log.Warn("tutor: question prefetch failed", "err", err)
		return
	}
	c.metrics.RecordGeneration(ctx, time.Since(start), "ok")
	for range added {
		c.metrics.RecordQuestion(ctx, "prefetch")
	}
	span.SetAttributes(attribute.Int("lingua.prefetched", len(added)))
	if len(added) > 0 {
		log.Info("tutor: prefetched questions", "count", len(added))
	}
}

// Stop ends the current session. It is idempotent and safe in any state,
// including while Start is still dialling. Every resource is released even
// when releasing another one fails; the failures are joined.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	r := c.active
	c.active = nil
	c.turnDone = false
	c.updateLocked(func(s *State) {
		err := s.Error
		*s = State{Connection: live.StateClosed, Error: err}
		if r == nil {
			s.Connection = live.StateIdle
		}
	})
	c.mu.Unlock()

	if r == nil {
		return nil
	}
	err := c.release(r)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("tutor: stop: %w", ctx.Err()))
	}
	slog.Info("tutor: session ended")
	return err
}

// fail detaches r and releases it in the background. Safe to call from the
// session's receive goroutine and from run goroutines.
func (c *Controller) fail(r *run, cause error) {
	c.mu.Lock()
	if c.active != r {
		c.mu.Unlock()
		return
	}
	c.active = nil
	c.turnDone = false
	c.updateLocked(func(s *State) {
		*s = State{Connection: live.StateClosed, Error: ErrSessionFailed.Error()}
	})
	c.mu.Unlock()

	slog.Error("tutor: session failed", "err", cause)
	go func() {
		if err := c.release(r); err != nil {
			slog.Warn("tutor: teardown after failure incomplete", "err", err)
		}
	}()
}

// release frees every resource held by r. r must already be detached.
func (c *Controller) release(r *run) error {
	r.cancel()

	c.mu.Lock()
	sess := r.session
	wakeHeld := r.wakeHeld
	r.wakeHeld = false
	c.mu.Unlock()

	var errs []error
	if sess != nil {
		if err := sess.Close(); err != nil {
			slog.Warn("tutor: failed to close live session", "err", err)
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
		c.metrics.SessionEnded(context.Background())
	}
	if c.recorder != nil {
		if err := c.recorder.Stop(); err != nil {
			slog.Warn("tutor: failed to stop recorder", "err", err)
			errs = append(errs, fmt.Errorf("stop recorder: %w", err))
		}
	}
	if sp, ok := c.player.(suspender); ok {
		sp.Suspend()
	} else {
		c.player.Stop()
	}
	if wakeHeld {
		if err := c.wakeLock.Release(); err != nil {
			slog.Warn("tutor: failed to release wake lock", "err", err)
			errs = append(errs, fmt.Errorf("release wake lock: %w", err))
		}
	}
	c.pulse()
	return errors.Join(errs...)
}

// goTracked runs fn on a goroutine Stop waits for. It does nothing once r is
// no longer active.
func (c *Controller) goTracked(r *run, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != r {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
	return true
}

func (c *Controller) isActive(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == r
}

func (c *Controller) pulse() {
	if c.haptics == nil {
		return
	}
	if err := c.haptics.Pulse(hapticPulse); err != nil {
		slog.Debug("tutor: haptic pulse failed", "err", err)
	}
}

// ── Recording ──────────────────────────────────────────────────────────────

// PauseRecording stops streaming the microphone without closing it.
func (c *Controller) PauseRecording() {
	if c.recorder == nil {
		return
	}
	c.recorder.Mute()
	c.update(func(s *State) { s.Recording = false })
}

// ResumeRecording resumes streaming after PauseRecording. It has no effect
// unless a session has started.
func (c *Controller) ResumeRecording() {
	if c.recorder == nil {
		return
	}
	c.recorder.Unmute()
	c.update(func(s *State) {
		if s.SessionStarted {
			s.Recording = true
		}
	})
}

// startCapture runs after the first setup completion.
func (c *Controller) startCapture(r *run, s live.Session) {
	if c.wakeLock != nil {
		if err := c.wakeLock.Acquire(r.ctx); err != nil {
			slog.Info("tutor: wake lock unavailable", "err", err)
		} else {
			c.mu.Lock()
			stale := c.active != r
			if !stale {
				r.wakeHeld = true
			}
			c.mu.Unlock()
			if stale {
				_ = c.wakeLock.Release()
				return
			}
		}
	}
	c.pulse()

	if c.recorder == nil {
		c.updateFor(r, func(st *State) {
			st.Loading = false
			st.SessionStarted = true
		})
		return
	}

	c.recorder.Unmute()
	if err := c.recorder.Start(r.ctx); err != nil {
		if errors.Is(err, capture.ErrStopped) || r.ctx.Err() != nil {
			return
		}
		c.fail(r, fmt.Errorf("tutor: start capture: %w", err))
		return
	}
	if r.ctx.Err() != nil {
		_ = c.recorder.Stop()
		return
	}

	c.updateFor(r, func(st *State) {
		st.Loading = false
		st.Recording = true
		st.SessionStarted = true
	})
	slog.Info("tutor: recording started")

	c.goTracked(r, func() { c.pumpFrames(r, s) })
	c.goTracked(r, func() { c.pumpLevels(r) })
}

// pumpFrames forwards microphone blocks to the session. Frames offered
// while the session is reconnecting are dropped.
func (c *Controller) pumpFrames(r *run, s live.Session) {
	frames := c.recorder.Frames()
	for {
		select {
		case <-r.ctx.Done():
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			if err := s.SendAudio(f.Data); err != nil && !errors.Is(err, live.ErrNotActive) {
				slog.Debug("tutor: audio frame not sent", "err", err)
			}
		}
	}
}

func (c *Controller) pumpLevels(r *run) {
	levels := c.recorder.Levels()
	for {
		select {
		case <-r.ctx.Done():
			return
		case l, ok := <-levels:
			if !ok {
				return
			}
			c.updateFor(r, func(s *State) { s.InputLevel = l })
		}
	}
}

// ── Transcription ──────────────────────────────────────────────────────────

// extractQuestion records the question asked in a completed turn, if any.
func (c *Controller) extractQuestion(r *run, pcm []byte) {
	ctx, cancel := context.WithTimeout(r.ctx, c.transcribeTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "tutor.transcribe",
		observe.SessionAttrs(r.settings.NativeLanguage, r.settings.LearnLanguage, r.settings.Difficulty))
	defer span.End()
	log := observe.Logger(ctx)

	start := time.Now()
	text, err := c.transcriber.Transcribe(ctx, transcribe.Request{
		PCM:            pcm,
		SampleRate:     audio.PlaybackSampleRate,
		NativeLanguage: r.settings.NativeLanguage,
		LearnLanguage:  r.settings.LearnLanguage,
	})
	if err != nil {
		c.metrics.RecordTranscription(ctx, time.Since(start), "error")
		if r.ctx.Err() == nil {
			observe.Fail(span, err)
			log.Warn("tutor: question extraction failed", "err", err)
		}
		return
	}
	q, ok := transcribe.Extract(text)
	span.SetAttributes(attribute.Bool("lingua.question_found", ok))
	if !ok {
		c.metrics.RecordTranscription(ctx, time.Since(start), "not_found")
		return
	}
	c.metrics.RecordTranscription(ctx, time.Since(start), "ok")
	if _, err := c.recordAsked(ctx, r, q, "transcription"); err != nil {
		observe.Fail(span, err)
		log.Warn("tutor: failed to record transcribed question", "err", err)
	}
}

// ── Session events ─────────────────────────────────────────────────────────

// handler receives the events of one run. Events from a run that is no
// longer active are ignored.
type handler struct {
	c *Controller
	r *run
}

var (
	_ live.Handler                 = (*handler)(nil)
	_ live.ToolCancellationHandler = (*handler)(nil)
)

// HandleSetupComplete primes the first question and, on the first setup of
// the run, starts capture.
func (h *handler) HandleSetupComplete(s live.Session) {
	c, r := h.c, h.r
	c.mu.Lock()
	if c.active != r {
		c.mu.Unlock()
		return
	}
	r.wasActive = true
	first := !r.captureStarted
	r.captureStarted = true
	dialedAt := r.dialedAt
	c.mu.Unlock()

	c.metrics.RecordConnect(r.ctx, time.Since(dialedAt))

	pending, err := c.store.PendingQuestions(r.ctx)
	if err != nil {
		slog.Warn("tutor: failed to read pending questions", "err", err)
	}
	if len(pending) > 0 {
		if err := c.store.SetCurrent(r.ctx, pending[0].ID); err != nil {
			slog.Warn("tutor: failed to mark current question", "question_id", pending[0].ID, "err", err)
		}
		c.updateFor(r, func(st *State) { st.CurrentQuestion = pending[0].Text })
	}
	if err := s.SendTurns(primingTurns(pending), true); err != nil {
		slog.Warn("tutor: failed to send first question request", "err", err)
	}

	if first {
		c.goTracked(r, func() { c.startCapture(r, s) })
	}
}

// HandleContent maintains the live transcript and hands completed turns to
// question extraction.
func (h *handler) HandleContent(ev live.ContentEvent) {
	c, r := h.c, h.r
	c.mu.Lock()
	if c.active != r {
		c.mu.Unlock()
		return
	}
	if ev.Transcript != "" {
		c.updateLocked(func(s *State) {
			if c.turnDone {
				s.Transcript = ""
			}
			s.Transcript += ev.Transcript
		})
		c.turnDone = false
	}
	if ev.TurnComplete {
		c.turnDone = true
	}
	c.mu.Unlock()

	if ev.Interrupted {
		slog.Debug("tutor: model interrupted")
	}
	if ev.TurnComplete && c.transcriber != nil && len(ev.TurnAudio) > 0 {
		pcm := ev.TurnAudio
		c.goTracked(r, func() { c.extractQuestion(r, pcm) })
	}
}

// HandleToolCall answers every call; the session sends the replies.
func (h *handler) HandleToolCall(ctx context.Context, calls []live.FunctionCall) []live.FunctionResponse {
	if !h.c.isActive(h.r) {
		resps := make([]live.FunctionResponse, len(calls))
		for i, call := range calls {
			resps[i] = live.FunctionResponse{ID: call.ID, Name: call.Name, Response: map[string]any{}}
		}
		return resps
	}
	return h.c.dispatch(ctx, h.r, calls)
}

// HandleToolCancellation logs withdrawn calls.
func (h *handler) HandleToolCancellation(ids []string) {
	if !h.c.isActive(h.r) {
		return
	}
	slog.Info("tutor: tool calls cancelled", "call_ids", ids)
	h.c.metrics.RecordToolCancellation(h.r.ctx, len(ids))
}

// HandleClose tears the run down and surfaces the generic failure.
func (h *handler) HandleClose(err error) {
	c, r := h.c, h.r
	if !c.isActive(r) {
		return
	}
	c.metrics.RecordSessionClose(r.ctx, live.IsRetryable(err))
	var ce *live.CloseError
	if errors.As(err, &ce) {
		slog.Warn("tutor: live session closed",
			"close_code", ce.Code,
			"close_reason", ce.Reason,
			"retryable", ce.Retryable,
		)
	}
	c.fail(r, err)
}

// HandleState mirrors the connection state and counts reconnects.
func (h *handler) HandleState(st live.State) {
	c, r := h.c, h.r
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != r {
		return
	}
	if st == live.StateConnecting && r.wasActive {
		r.dialedAt = time.Now()
		c.metrics.RecordReconnect(r.ctx)
		slog.Info("tutor: reconnecting live session")
	}
	c.updateLocked(func(s *State) { s.Connection = st })
}

// suspender is implemented by players that can also pause their device
// between sessions.
type suspender interface {
	Suspend()
}

type nopPlayer struct{}

func (nopPlayer) AddPCM16([]byte) {}
func (nopPlayer) Resume()         {}
func (nopPlayer) Stop()           {}
func (nopPlayer) Complete()       {}
