package tutor_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lingua/internal/question"
	"github.com/MrWong99/lingua/internal/tutor"
	"github.com/MrWong99/lingua/pkg/audio"
	"github.com/MrWong99/lingua/pkg/audio/capture"
	audiomock "github.com/MrWong99/lingua/pkg/audio/mock"
	"github.com/MrWong99/lingua/pkg/provider/live"
	livemock "github.com/MrWong99/lingua/pkg/provider/live/mock"
	"github.com/MrWong99/lingua/pkg/provider/llm"
	llmmock "github.com/MrWong99/lingua/pkg/provider/llm/mock"
	transcribemock "github.com/MrWong99/lingua/pkg/provider/transcribe/mock"
)

// ── Helpers ────────────────────────────────────────────────────────────────

// countingStore counts RecordScore calls on top of the memory store.
type countingStore struct {
	*question.MemoryStore

	mu     sync.Mutex
	scores []scoreCall
}

type scoreCall struct {
	id    string
	score int
}

func (s *countingStore) RecordScore(ctx context.Context, id string, score int) error {
	s.mu.Lock()
	s.scores = append(s.scores, scoreCall{id, score})
	s.mu.Unlock()
	return s.MemoryStore.RecordScore(ctx, id, score)
}

func (s *countingStore) scoreCalls() []scoreCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scoreCall(nil), s.scores...)
}

type fakeWakeLock struct {
	mu       sync.Mutex
	err      error
	acquired int
	released int
}

func (w *fakeWakeLock) Acquire(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.acquired++
	return nil
}

func (w *fakeWakeLock) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.released++
	return nil
}

func (w *fakeWakeLock) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.acquired, w.released
}

type fakeHaptics struct {
	mu     sync.Mutex
	pulses []time.Duration
}

func (h *fakeHaptics) Pulse(d time.Duration) error {
	h.mu.Lock()
	h.pulses = append(h.pulses, d)
	h.mu.Unlock()
	return nil
}

func (h *fakeHaptics) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pulses)
}

type fixture struct {
	ctrl     *tutor.Controller
	provider *livemock.Provider
	store    *countingStore
	device   *audiomock.CaptureDevice
	recorder *capture.Recorder
	player   *livemock.Player
	trans    *transcribemock.Transcriber
	wake     *fakeWakeLock
	haptics  *fakeHaptics
}

func defaultSettings() tutor.Settings {
	return tutor.Settings{
		Voice:          "male",
		NativeLanguage: "hi-IN",
		LearnLanguage:  "en-US",
		Difficulty:     "a1",
		Scoring:        true,
	}
}

func newFixture(t *testing.T, settings tutor.Settings, mutate ...func(*tutor.Config)) *fixture {
	t.Helper()
	f := &fixture{
		provider: &livemock.Provider{},
		store:    &countingStore{MemoryStore: question.NewMemoryStore("default", settings.LearnLanguage)},
		device:   &audiomock.CaptureDevice{},
		player:   &livemock.Player{},
		trans:    &transcribemock.Transcriber{Text: "NOT FOUND"},
		wake:     &fakeWakeLock{},
		haptics:  &fakeHaptics{},
	}
	f.recorder = capture.NewRecorder(f.device)
	cfg := tutor.Config{
		Provider:    f.provider,
		Store:       f.store,
		Settings:    settings,
		Player:      f.player,
		Recorder:    f.recorder,
		Transcriber: f.trans,
		WakeLock:    f.wake,
		Haptics:     f.haptics,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.ctrl = tutor.New(cfg)
	t.Cleanup(func() {
		_ = f.ctrl.Stop(context.Background())
		_ = f.recorder.Close()
	})
	return f
}

// start starts the controller and completes the handshake.
func (f *fixture) start(t *testing.T) *livemock.Session {
	t.Helper()
	if err := f.ctrl.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.provider.Last()
	if sess == nil {
		t.Fatal("no session opened")
	}
	sess.Activate()
	waitFor(t, "recording", func() bool { return f.ctrl.State().Recording })
	return sess
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

func toolNames(cfg live.SessionConfig) []string {
	var names []string
	for _, tool := range cfg.Tools {
		names = append(names, tool.Name)
	}
	return names
}

// ── Session start ──────────────────────────────────────────────────────────

func TestStart_EmptyStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	sess := f.start(t)

	cfg := f.provider.LastConfig()
	if !strings.Contains(cfg.Instructions, "A1") || !strings.Contains(cfg.Instructions, "English") {
		t.Errorf("instruction does not reference level and learn language:\n%s", cfg.Instructions)
	}
	if strings.Contains(cfg.Instructions, "दोबारा नहीं पूछना") {
		t.Errorf("instruction has a do-not-repeat rule with no prior questions")
	}
	if cfg.Voice != "male" || cfg.LanguageCode != "hi-IN" {
		t.Errorf("voice/language = %q/%q", cfg.Voice, cfg.LanguageCode)
	}
	if cfg.Temperature != tutor.DefaultTemperature {
		t.Errorf("temperature = %v, want %v", cfg.Temperature, tutor.DefaultTemperature)
	}
	if !cfg.OutputTranscription {
		t.Error("output transcription not requested")
	}
	if got := strings.Join(toolNames(cfg), ","); got != "give_score,next_questions" {
		t.Errorf("tools = %s", got)
	}

	turns := sess.SentTurns()
	if len(turns) != 1 {
		t.Fatalf("content messages = %d, want 1", len(turns))
	}
	if !turns[0].TurnComplete {
		t.Error("first content is not turn-complete")
	}
	if len(turns[0].Turns) != 1 || turns[0].Turns[0].Role != "user" {
		t.Fatalf("turns = %+v, want a single user turn", turns[0].Turns)
	}
	if got := turns[0].Turns[0].Parts[0].Text; got != "पहला प्रश्न पूछो" {
		t.Errorf("user turn = %q", got)
	}

	st := f.ctrl.State()
	if !st.SessionStarted || st.Loading || st.Connection != live.StateActive {
		t.Errorf("state = %+v", st)
	}
	if acq, _ := f.wake.counts(); acq != 1 {
		t.Errorf("wake lock acquired %d times", acq)
	}
	if f.haptics.count() != 1 {
		t.Errorf("haptic pulses = %d, want 1", f.haptics.count())
	}
}

func TestStart_PriorQuestionsAreExcludedAndPrimed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	seeded, err := f.store.Seed(t.Context(), "a1", "How are you?", "What is your name?")
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	sess := f.start(t)

	cfg := f.provider.LastConfig()
	if !strings.Contains(cfg.Instructions, `["How are you?","What is your name?"]`) {
		t.Errorf("instruction lacks the prior question list:\n%s", cfg.Instructions)
	}

	turns := sess.SentTurns()
	if len(turns) != 1 || len(turns[0].Turns) != 2 {
		t.Fatalf("turns = %+v", turns)
	}
	prime := turns[0].Turns[0]
	if prime.Role != "model" || !prime.Parts[0].Thought {
		t.Errorf("priming turn = %+v, want a model thought", prime)
	}
	if want := "मैं यह प्रश्न पूछूंगा: How are you?"; prime.Parts[0].Text != want {
		t.Errorf("priming text = %q, want %q", prime.Parts[0].Text, want)
	}
	if !turns[0].TurnComplete {
		t.Error("priming content is not turn-complete")
	}

	id, ok, _ := f.store.Current(t.Context())
	if !ok || id != seeded[0].ID {
		t.Errorf("current = %q, %v; want %q", id, ok, seeded[0].ID)
	}
	if got := f.ctrl.State().CurrentQuestion; got != "How are you?" {
		t.Errorf("current question = %q", got)
	}
}

func TestStart_ScoringDisabledOmitsTool(t *testing.T) {
	t.Parallel()
	s := defaultSettings()
	s.Scoring = false
	f := newFixture(t, s)
	qs, _ := f.store.Seed(t.Context(), "a1", "How are you?")
	sess := f.start(t)

	if got := strings.Join(toolNames(f.provider.LastConfig()), ","); got != "next_questions" {
		t.Errorf("tools = %s", got)
	}

	resps := sess.DeliverToolCall(t.Context(), live.FunctionCall{ID: "c1", Name: "give_score", Args: map[string]any{"score": 8.0}})
	if len(resps) != 1 || resps[0].ID != "c1" {
		t.Fatalf("responses = %+v", resps)
	}
	if n := len(f.store.scoreCalls()); n != 0 {
		t.Errorf("RecordScore called %d times with scoring disabled", n)
	}
	all, _ := f.store.Questions(t.Context())
	if all[0].ID != qs[0].ID || !all[0].Pending() {
		t.Errorf("question scored with scoring disabled: %+v", all[0])
	}
}

func TestStart_Prefetch(t *testing.T) {
	t.Parallel()
	s := defaultSettings()
	s.PrefetchQuestions = 2
	gen := question.NewGenerator(&llmmock.Provider{Response: &llm.CompletionResponse{
		Content: `["Where is the station?", "What time is it?"]`,
	}})
	f := newFixture(t, s, func(c *tutor.Config) { c.Prefiller = gen })
	sess := f.start(t)

	if !strings.Contains(f.provider.LastConfig().Instructions, `["Where is the station?","What time is it?"]`) {
		t.Errorf("prefetched questions missing from instruction")
	}
	turns := sess.SentTurns()
	if len(turns[0].Turns) != 2 || !strings.HasSuffix(turns[0].Turns[0].Parts[0].Text, "Where is the station?") {
		t.Errorf("first prefetched question not primed: %+v", turns[0].Turns)
	}
}

func TestStart_PrefetchFailureIsIgnored(t *testing.T) {
	t.Parallel()
	s := defaultSettings()
	s.PrefetchQuestions = 3
	gen := question.NewGenerator(&llmmock.Provider{Err: errors.New("quota exceeded")})
	f := newFixture(t, s, func(c *tutor.Config) { c.Prefiller = gen })
	f.start(t)
	if f.ctrl.State().Error != "" {
		t.Errorf("prefetch failure surfaced: %q", f.ctrl.State().Error)
	}
}

func TestStart_ConnectFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	f.provider.ConnectError = errors.New("dial tcp: connection refused")

	err := f.ctrl.Start(t.Context())
	if !errors.Is(err, tutor.ErrSessionFailed) {
		t.Fatalf("Start error = %v, want ErrSessionFailed", err)
	}
	st := f.ctrl.State()
	if st.Error != tutor.ErrSessionFailed.Error() {
		t.Errorf("state error = %q", st.Error)
	}
	if strings.Contains(st.Error, "refused") {
		t.Error("internal error leaked to state")
	}
	if st.Loading || f.ctrl.Active() {
		t.Errorf("controller still starting: %+v", st)
	}
}

func TestStart_ReplacesPreviousSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	first := f.start(t)
	second := f.start(t)

	if first.CloseCount() != 1 {
		t.Errorf("first session closed %d times, want 1", first.CloseCount())
	}
	if second.CloseCount() != 0 {
		t.Errorf("second session closed")
	}
	if f.device.OpenStreams() != 1 {
		t.Errorf("open microphone streams = %d, want 1", f.device.OpenStreams())
	}
}

func TestSetSettings_AppliesToNextStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	f.start(t)

	s := defaultSettings()
	s.Voice = "female"
	s.NativeLanguage = "en-US"
	f.ctrl.SetSettings(s)
	if f.provider.LastConfig().Voice != "male" {
		t.Fatal("open session changed")
	}

	f.start(t)
	cfg := f.provider.LastConfig()
	if cfg.Voice != "female" || cfg.LanguageCode != "en-US" {
		t.Errorf("next session config = %q/%q", cfg.Voice, cfg.LanguageCode)
	}
}

// ── Tools ──────────────────────────────────────────────────────────────────

func TestToolCall_GiveScore(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	qs, _ := f.store.Seed(t.Context(), "a1", "How are you?")
	sess := f.start(t)

	resps := sess.DeliverToolCall(t.Context(), live.FunctionCall{
		ID:   "call-7",
		Name: "give_score",
		Args: map[string]any{"score": float64(7)},
	})

	calls := f.store.scoreCalls()
	if len(calls) != 1 {
		t.Fatalf("RecordScore called %d times, want 1", len(calls))
	}
	if calls[0] != (scoreCall{qs[0].ID, 7}) {
		t.Errorf("RecordScore(%q, %d), want (%q, 7)", calls[0].id, calls[0].score, qs[0].ID)
	}
	if len(resps) != 1 || resps[0].ID != "call-7" || resps[0].Name != "give_score" {
		t.Fatalf("responses = %+v", resps)
	}
	if _, hasErr := resps[0].Response["error"]; hasErr {
		t.Errorf("response = %v", resps[0].Response)
	}
	if replies := sess.ToolReplies(); len(replies) != 1 {
		t.Errorf("tool replies = %d, want 1", len(replies))
	}
}

func TestToolCall_GiveScoreErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	sess := f.start(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{name: "no current question", args: map[string]any{"score": 5.0}},
		{name: "not a number", args: map[string]any{"score": "five"}},
		{name: "missing", args: nil},
	}
	for _, tt := range tests {
		resps := sess.DeliverToolCall(t.Context(), live.FunctionCall{ID: tt.name, Name: "give_score", Args: tt.args})
		if len(resps) != 1 || resps[0].ID != tt.name {
			t.Fatalf("%s: responses = %+v", tt.name, resps)
		}
		if _, ok := resps[0].Response["error"]; !ok {
			t.Errorf("%s: response = %v, want an error", tt.name, resps[0].Response)
		}
	}

	qs, _ := f.store.Seed(t.Context(), "a1", "How are you?")
	_ = f.store.SetCurrent(t.Context(), qs[0].ID)
	resps := sess.DeliverToolCall(t.Context(), live.FunctionCall{ID: "big", Name: "give_score", Args: map[string]any{"score": 42.0}})
	if _, ok := resps[0].Response["error"]; !ok {
		t.Errorf("out of range score accepted: %v", resps[0].Response)
	}
	if f.ctrl.State().Error != "" {
		t.Error("tool failure ended the session")
	}
}

func TestToolCall_NextQuestions(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	sess := f.start(t)

	resps := sess.DeliverToolCall(t.Context(),
		live.FunctionCall{ID: "a", Name: "next_questions", Args: map[string]any{"next_question": "Where do you live?"}},
		live.FunctionCall{ID: "b", Name: "lookup_weather"},
	)
	if len(resps) != 2 || resps[0].ID != "a" || resps[1].ID != "b" {
		t.Fatalf("responses = %+v", resps)
	}
	if _, ok := resps[1].Response["error"]; !ok {
		t.Errorf("unknown tool answered without error: %v", resps[1].Response)
	}

	all, _ := f.store.Questions(t.Context())
	if len(all) != 1 || all[0].Text != "Where do you live?" || all[0].Difficulty != "a1" {
		t.Fatalf("questions = %+v", all)
	}
	id, ok, _ := f.store.Current(t.Context())
	if !ok || id != all[0].ID {
		t.Errorf("current = %q, want %q", id, all[0].ID)
	}

	// The same question dictated again is not stored twice.
	sess.DeliverToolCall(t.Context(), live.FunctionCall{ID: "c", Name: "next_questions", Args: map[string]any{"next_question": "where do you live"}})
	if all, _ := f.store.Questions(t.Context()); len(all) != 1 {
		t.Errorf("near-duplicate recorded: %+v", all)
	}

	// Then a score lands on it.
	sess.DeliverToolCall(t.Context(), live.FunctionCall{ID: "d", Name: "give_score", Args: map[string]any{"score": 9.0}})
	all, _ = f.store.Questions(t.Context())
	if all[0].Score != 9 {
		t.Errorf("score = %d, want 9", all[0].Score)
	}
}

// ── Content ────────────────────────────────────────────────────────────────

func TestContent_LiveTranscript(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	sess := f.start(t)

	sess.DeliverContent(live.ContentEvent{Transcript: "How "})
	sess.DeliverContent(live.ContentEvent{Transcript: "are you?"})
	if got := f.ctrl.State().Transcript; got != "How are you?" {
		t.Errorf("transcript = %q", got)
	}
	sess.DeliverContent(live.ContentEvent{TurnComplete: true})
	if got := f.ctrl.State().Transcript; got != "How are you?" {
		t.Errorf("transcript cleared at turn end: %q", got)
	}
	sess.DeliverContent(live.ContentEvent{Transcript: "Good."})
	if got := f.ctrl.State().Transcript; got != "Good." {
		t.Errorf("transcript after new turn = %q, want restart", got)
	}
}

func TestContent_TranscribedQuestionIsRecorded(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	f.trans.SetText("  What colour is the sky?  ")
	sess := f.start(t)

	pcm := make([]byte, 4800)
	sess.DeliverAudio(pcm, true)

	waitFor(t, "recorded question", func() bool {
		all, _ := f.store.Questions(context.Background())
		return len(all) == 1
	})
	all, _ := f.store.Questions(t.Context())
	if all[0].Text != "What colour is the sky?" {
		t.Errorf("text = %q", all[0].Text)
	}
	calls := f.trans.Calls()
	if len(calls) != 1 || calls[0].SampleRate != audio.PlaybackSampleRate || calls[0].LearnLanguage != "en-US" {
		t.Errorf("transcribe calls = %+v", calls)
	}
	waitFor(t, "current question", func() bool {
		id, ok, _ := f.store.Current(context.Background())
		return ok && id == all[0].ID
	})
}

func TestContent_ScoredQuestionIsNotRecordedAgain(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	qs, _ := f.store.Seed(t.Context(), "a1", "What colour is the sky?", "Where do you live?")
	sess := f.start(t)

	// The first question is primed and scored.
	sess.DeliverToolCall(t.Context(), live.FunctionCall{ID: "s", Name: "give_score", Args: map[string]any{"score": 8.0}})
	if calls := f.store.scoreCalls(); len(calls) != 1 || calls[0].id != qs[0].ID {
		t.Fatalf("score calls = %+v", calls)
	}
	_ = f.store.SetCurrent(t.Context(), qs[1].ID)

	// The scoring turn repeats the question it scored.
	f.trans.SetText("what colour is the sky")
	sess.DeliverAudio(make([]byte, 4800), true)
	waitFor(t, "transcription", func() bool { return len(f.trans.Calls()) == 1 })
	if err := f.ctrl.Stop(t.Context()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	all, _ := f.store.Questions(t.Context())
	if len(all) != 2 {
		t.Errorf("scored question recorded again: %+v", all)
	}
	if id, ok, _ := f.store.Current(t.Context()); !ok || id != qs[1].ID {
		t.Errorf("current = %q, want %q", id, qs[1].ID)
	}
}

func TestContent_NotFoundIsNotRecorded(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	f.trans.SetText("NOT FOUND")
	sess := f.start(t)

	sess.DeliverAudio(make([]byte, 4800), true)
	waitFor(t, "transcription", func() bool { return len(f.trans.Calls()) == 1 })
	if err := f.ctrl.Stop(t.Context()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if all, _ := f.store.Questions(t.Context()); len(all) != 0 {
		t.Errorf("sentinel recorded as question: %+v", all)
	}
}

func TestContent_NoTranscriptionWithoutTurnAudio(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	sess := f.start(t)

	sess.DeliverContent(live.ContentEvent{TurnComplete: true})
	sess.DeliverContent(live.ContentEvent{Interrupted: true})
	if err := f.ctrl.Stop(t.Context()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := len(f.trans.Calls()); n != 0 {
		t.Errorf("transcribe called %d times", n)
	}
}

// ── Capture ────────────────────────────────────────────────────────────────

func TestCapture_FramesAreStreamed(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	sess := f.start(t)

	block := make([]byte, capture.DefaultBlockSamples*audio.BytesPerSample)
	f.device.Emit(audio.Frame{Data: block, SampleRate: audio.CaptureSampleRate, Channels: 1})
	waitFor(t, "audio sent", func() bool { return len(sess.SentAudio()) == 1 })
	if got := len(sess.SentAudio()[0]); got != len(block) {
		t.Errorf("sent %d bytes, want %d", got, len(block))
	}
}

func TestCapture_PauseAndResume(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	sess := f.start(t)
	block := make([]byte, capture.DefaultBlockSamples*audio.BytesPerSample)

	f.ctrl.PauseRecording()
	if f.ctrl.State().Recording {
		t.Error("still recording after pause")
	}
	f.device.Emit(audio.Frame{Data: block, SampleRate: audio.CaptureSampleRate, Channels: 1})

	f.ctrl.ResumeRecording()
	if !f.ctrl.State().Recording {
		t.Error("not recording after resume")
	}
	f.device.Emit(audio.Frame{Data: block, SampleRate: audio.CaptureSampleRate, Channels: 1})
	waitFor(t, "audio sent", func() bool { return len(sess.SentAudio()) >= 1 })
	time.Sleep(20 * time.Millisecond)
	if n := len(sess.SentAudio()); n != 1 {
		t.Errorf("sent %d frames, want 1 (paused frame dropped)", n)
	}
}

func TestCapture_DeviceErrorFailsSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	f.device.OpenError = capture.ErrPermissionDenied

	if err := f.ctrl.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.provider.Last()
	sess.Activate()

	waitFor(t, "failure", func() bool { return f.ctrl.State().Error != "" })
	if got := f.ctrl.State().Error; got != tutor.ErrSessionFailed.Error() {
		t.Errorf("error = %q", got)
	}
	waitFor(t, "session close", func() bool { return sess.CloseCount() == 1 })
	waitFor(t, "wake lock release", func() bool { _, rel := f.wake.counts(); return rel == 1 })
}

// ── Teardown ───────────────────────────────────────────────────────────────

func TestStop_ReleasesEverythingOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	sess := f.start(t)
	sess.DeliverContent(live.ContentEvent{Transcript: "Hello"})

	for range 2 {
		if err := f.ctrl.Stop(t.Context()); err != nil {
			t.Fatalf("Stop: %v", err)
		}
	}
	if sess.CloseCount() != 1 {
		t.Errorf("session closed %d times, want 1", sess.CloseCount())
	}
	if n := f.device.OpenStreams(); n != 0 {
		t.Errorf("open microphone streams = %d", n)
	}
	if _, rel := f.wake.counts(); rel != 1 {
		t.Errorf("wake lock released %d times, want 1", rel)
	}
	calls := f.player.Calls()
	if len(calls) == 0 || calls[len(calls)-1] != "suspend" {
		t.Errorf("player calls = %v, want a final suspend", calls)
	}
	st := f.ctrl.State()
	if st.Recording || st.Loading || st.SessionStarted || st.Transcript != "" {
		t.Errorf("state after stop = %+v", st)
	}
}

func TestStop_BeforeStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	if err := f.ctrl.Stop(t.Context()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStop_BeforeSetupComplete(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	if err := f.ctrl.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.provider.Last()
	if err := f.ctrl.Stop(t.Context()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// A late setup acknowledgement from the closed session is ignored.
	sess.Activate()
	time.Sleep(20 * time.Millisecond)
	if n := len(sess.SentTurns()); n != 0 {
		t.Errorf("stale session primed %d times", n)
	}
	if f.device.CallCountOpen != 0 {
		t.Errorf("microphone opened after stop")
	}
}

func TestStop_WhileDialling(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	dialling := make(chan struct{})
	f.provider.ConnectHook = func(ctx context.Context) error {
		close(dialling)
		<-ctx.Done()
		return fmt.Errorf("dial: %w", ctx.Err())
	}

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Start(t.Context()) }()
	<-dialling
	if err := f.ctrl.Stop(t.Context()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, tutor.ErrStopped) {
			t.Fatalf("Start error = %v, want ErrStopped", err)
		}
		if errors.Is(err, tutor.ErrSessionFailed) {
			t.Error("a stopped dial is reported as a failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}

	st := f.ctrl.State()
	if st.Error != "" {
		t.Errorf("state error = %q, want none", st.Error)
	}
	if st.Loading || f.ctrl.Active() {
		t.Errorf("controller still starting: %+v", st)
	}
}

func TestClose_TerminalSurfacesGenericError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	sess := f.start(t)

	sess.DeliverClose(live.ClassifyClose(1008, "policy violation"))

	waitFor(t, "teardown", func() bool { return f.device.OpenStreams() == 0 })
	st := f.ctrl.State()
	if st.Error != tutor.ErrSessionFailed.Error() {
		t.Errorf("error = %q", st.Error)
	}
	if st.Recording || st.SessionStarted {
		t.Errorf("state = %+v", st)
	}
	if f.ctrl.Active() {
		t.Error("controller still active")
	}

	// Starting again clears the error.
	f.start(t)
	if got := f.ctrl.State().Error; got != "" {
		t.Errorf("error after restart = %q", got)
	}
}

func TestSubscribe(t *testing.T) {
	t.Parallel()
	f := newFixture(t, defaultSettings())
	ch, cancel := f.ctrl.Subscribe()

	first := <-ch
	if first.Connection != live.StateIdle || first.SessionStarted {
		t.Errorf("initial state = %+v", first)
	}

	f.start(t)
	waitFor(t, "started state", func() bool {
		select {
		case st := <-ch:
			return st.SessionStarted
		default:
			return false
		}
	})

	cancel()
	cancel()
	for range ch {
	}
}
