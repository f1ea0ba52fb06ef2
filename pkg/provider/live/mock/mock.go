// Package mock provides test doubles for the live session contract: a
// recording [Provider]/[Session] pair for exercising session owners, and a
// recording [Handler]/[Player] pair for exercising provider implementations.
//
// All types are safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lingua/pkg/provider/live"
)

// ─── Provider ─────────────────────────────────────────────────────────────────

// Provider is a mock implementation of [live.Provider].
type Provider struct {
	mu sync.Mutex

	// ConnectError is returned by Connect when non-nil.
	ConnectError error

	// ConnectHook, when set, runs at the start of Connect with its context.
	// A non-nil error is returned from Connect. Use it to hold a dial open.
	ConnectHook func(ctx context.Context) error

	// Configs records the SessionConfig of every Connect call.
	Configs []live.SessionConfig

	sessions []*Session
}

var _ live.Provider = (*Provider)(nil)

// Connect implements [live.Provider]. The returned session starts in
// [live.StateAwaitingSetup]; call [Session.Activate] to complete the
// handshake.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig, h live.Handler, player live.Player) (live.Session, error) {
	p.mu.Lock()
	p.Configs = append(p.Configs, cfg)
	err := p.ConnectError
	hook := p.ConnectHook
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, err
		}
	}

	s := &Session{h: h, player: player, state: live.StateAwaitingSetup}
	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()
	h.HandleState(live.StateConnecting)
	h.HandleState(live.StateAwaitingSetup)
	return s, nil
}

// Sessions returns every session created so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Last returns the most recent session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sessions) == 0 {
		return nil
	}
	return p.sessions[len(p.sessions)-1]
}

// LastConfig returns the most recent SessionConfig.
func (p *Provider) LastConfig() live.SessionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Configs) == 0 {
		return live.SessionConfig{}
	}
	return p.Configs[len(p.Configs)-1]
}

// ─── Session ──────────────────────────────────────────────────────────────────

// TurnsCall records one SendTurns invocation.
type TurnsCall struct {
	Turns        []live.Turn
	TurnComplete bool
}

// ToolReply records the responses returned by the handler for one delivered
// tool call, i.e. what a real session would send on the wire.
type ToolReply struct {
	Calls     []live.FunctionCall
	Responses []live.FunctionResponse
}

// Session is a mock implementation of [live.Session] bound to the handler
// and player passed to [Provider.Connect]. The Deliver* methods play the
// part of the receive loop.
type Session struct {
	h      live.Handler
	player live.Player

	mu sync.Mutex

	// SendError, when non-nil, is returned by SendAudio and SendTurns while
	// the session is active.
	SendError error

	state      live.State
	phase      live.TurnPhase
	audio      [][]byte
	turns      []TurnsCall
	replies    []ToolReply
	closeCount int
}

var _ live.Session = (*Session)(nil)

// SendAudio implements [live.Session].
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != live.StateActive {
		return live.ErrNotActive
	}
	if s.SendError != nil {
		return s.SendError
	}
	s.audio = append(s.audio, pcm)
	return nil
}

// SendTurns implements [live.Session].
func (s *Session) SendTurns(turns []live.Turn, turnComplete bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != live.StateActive {
		return live.ErrNotActive
	}
	if s.SendError != nil {
		return s.SendError
	}
	s.turns = append(s.turns, TurnsCall{Turns: turns, TurnComplete: turnComplete})
	return nil
}

// State implements [live.Session].
func (s *Session) State() live.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Phase implements [live.Session].
func (s *Session) Phase() live.TurnPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Close implements [live.Session].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	s.state = live.StateClosed
	return nil
}

// Activate completes the handshake: the session becomes active and the
// handler's HandleSetupComplete runs.
func (s *Session) Activate() {
	s.mu.Lock()
	s.state = live.StateActive
	s.phase = live.PhaseModelIdle
	s.mu.Unlock()
	s.h.HandleState(live.StateActive)
	s.h.HandleSetupComplete(s)
}

// DeliverAudio routes pcm to the player the way a real session does and
// reports the content event.
func (s *Session) DeliverAudio(pcm []byte, turnComplete bool) {
	s.player.AddPCM16(pcm)
	s.player.Resume()
	ev := live.ContentEvent{HasAudio: true}
	if turnComplete {
		s.player.Complete()
		ev.TurnComplete = true
		ev.TurnAudio = pcm
	}
	s.DeliverContent(ev)
}

// DeliverContent hands ev to the handler.
func (s *Session) DeliverContent(ev live.ContentEvent) {
	s.mu.Lock()
	switch {
	case ev.Interrupted:
		s.phase = live.PhaseInterrupted
	case ev.TurnComplete:
		s.phase = live.PhaseTurnComplete
	case ev.HasAudio:
		s.phase = live.PhaseModelSpeaking
	}
	s.mu.Unlock()
	if ev.Interrupted {
		s.player.Stop()
	}
	s.h.HandleContent(ev)
}

// DeliverToolCall runs the handler's tool dispatch and records its reply.
func (s *Session) DeliverToolCall(ctx context.Context, calls ...live.FunctionCall) []live.FunctionResponse {
	resps := s.h.HandleToolCall(ctx, calls)
	s.mu.Lock()
	s.replies = append(s.replies, ToolReply{Calls: calls, Responses: resps})
	s.mu.Unlock()
	return resps
}

// DeliverClose ends the session remotely with err.
func (s *Session) DeliverClose(err error) {
	s.mu.Lock()
	s.state = live.StateClosed
	s.mu.Unlock()
	s.h.HandleState(live.StateClosed)
	s.h.HandleClose(err)
}

// SentAudio returns every audio block sent.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}

// SentTurns returns every SendTurns call.
func (s *Session) SentTurns() []TurnsCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TurnsCall, len(s.turns))
	copy(out, s.turns)
	return out
}

// ToolReplies returns every recorded tool reply.
func (s *Session) ToolReplies() []ToolReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolReply, len(s.replies))
	copy(out, s.replies)
	return out
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// ─── Handler ──────────────────────────────────────────────────────────────────

// Handler is a recording [live.Handler]. Event channels are buffered; tests
// receive from them to synchronise with the session's receive goroutine.
type Handler struct {
	// ToolFunc answers tool calls. When nil every call gets an empty
	// response.
	ToolFunc func(ctx context.Context, calls []live.FunctionCall) []live.FunctionResponse

	SetupComplete chan live.Session
	Content       chan live.ContentEvent
	ToolCalls     chan []live.FunctionCall
	Closed        chan error
	Cancelled     chan []string

	mu     sync.Mutex
	states []live.State
}

var (
	_ live.Handler                 = (*Handler)(nil)
	_ live.ToolCancellationHandler = (*Handler)(nil)
)

// NewHandler returns a Handler with buffered event channels.
func NewHandler() *Handler {
	return &Handler{
		SetupComplete: make(chan live.Session, 8),
		Content:       make(chan live.ContentEvent, 64),
		ToolCalls:     make(chan []live.FunctionCall, 8),
		Closed:        make(chan error, 8),
		Cancelled:     make(chan []string, 8),
	}
}

// HandleSetupComplete implements [live.Handler].
func (h *Handler) HandleSetupComplete(s live.Session) { h.SetupComplete <- s }

// HandleContent implements [live.Handler].
func (h *Handler) HandleContent(ev live.ContentEvent) { h.Content <- ev }

// HandleToolCall implements [live.Handler].
func (h *Handler) HandleToolCall(ctx context.Context, calls []live.FunctionCall) []live.FunctionResponse {
	h.ToolCalls <- calls
	if h.ToolFunc != nil {
		return h.ToolFunc(ctx, calls)
	}
	return nil
}

// HandleClose implements [live.Handler].
func (h *Handler) HandleClose(err error) { h.Closed <- err }

// HandleState implements [live.Handler].
func (h *Handler) HandleState(st live.State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, st)
}

// HandleToolCancellation implements [live.ToolCancellationHandler].
func (h *Handler) HandleToolCancellation(ids []string) { h.Cancelled <- ids }

// States returns every state transition observed.
func (h *Handler) States() []live.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]live.State, len(h.states))
	copy(out, h.states)
	return out
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a recording [live.Player].
type Player struct {
	mu    sync.Mutex
	added [][]byte
	calls []string
}

var _ live.Player = (*Player)(nil)

// AddPCM16 implements [live.Player].
func (p *Player) AddPCM16(pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.added = append(p.added, pcm)
	p.calls = append(p.calls, "add")
}

// Resume implements [live.Player].
func (p *Player) Resume() { p.record("resume") }

// Stop implements [live.Player].
func (p *Player) Stop() { p.record("stop") }

// Suspend stops playback and pauses the device.
func (p *Player) Suspend() { p.record("suspend") }

// Complete implements [live.Player].
func (p *Player) Complete() { p.record("complete") }

func (p *Player) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

// Added returns every buffer passed to AddPCM16.
func (p *Player) Added() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.added))
	copy(out, p.added)
	return out
}

// Calls returns the ordered log of player calls.
func (p *Player) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}
