// Package live defines the contract for realtime speech sessions: one
// persistent, full-duplex connection to a remote model that consumes
// microphone audio and streams synthesised speech back.
//
// A [Session] drives a [Player] directly (inline audio is queued, interrupts
// hard-stop it, turn completion drains it) and reports everything else to a
// [Handler] in strict arrival order from a single receive goroutine. Tool
// calls are answered synchronously: the session writes the tool response
// before any further outbound audio is allowed through.
package live

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotActive is returned by [Session] send methods while the session is not
// in [StateActive]. It is not fatal; callers drop the frame and try again
// with the next one.
var ErrNotActive = errors.New("live: session not active")

// ReconnectDelay is the fixed backoff before a retryable close is followed by
// a reconnect attempt.
const ReconnectDelay = time.Second

// State is the connection lifecycle of a [Session].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingSetup
	StateActive
	StateClosing
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingSetup:
		return "awaiting_setup"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// TurnPhase is the model's position within the current turn while the
// session is active.
type TurnPhase int

const (
	PhaseModelIdle TurnPhase = iota
	PhaseModelSpeaking
	PhaseInterrupted
	PhaseTurnComplete
)

// String implements fmt.Stringer.
func (p TurnPhase) String() string {
	switch p {
	case PhaseModelIdle:
		return "model_idle"
	case PhaseModelSpeaking:
		return "model_speaking"
	case PhaseInterrupted:
		return "interrupted"
	case PhaseTurnComplete:
		return "turn_complete"
	default:
		return fmt.Sprintf("TurnPhase(%d)", int(p))
	}
}

// ToolDeclaration describes a function the model may call.
type ToolDeclaration struct {
	Name        string
	Description string

	// Parameters is a JSON-schema style object in the provider's dialect.
	Parameters map[string]any
}

// SessionConfig is the single handshake sent when a session opens. It is
// immutable for the lifetime of the session.
type SessionConfig struct {
	// Instructions is the system instruction.
	Instructions string

	// Voice is either a persona ("male", "female") that the provider maps to
	// one of its voices, or a provider voice name.
	Voice string

	// LanguageCode is the BCP-47 language the model speaks in.
	LanguageCode string

	// Temperature for generation. Zero leaves the provider default.
	Temperature float64

	Tools []ToolDeclaration

	// OutputTranscription requests text transcripts of the model's speech.
	OutputTranscription bool
}

// Part is one piece of a content turn.
type Part struct {
	Text string

	// Thought marks text that primes the model but is not part of the
	// visible conversation.
	Thought bool
}

// Turn is one contiguous unit of content from one role ("user" or "model").
type Turn struct {
	Role  string
	Parts []Part
}

// FunctionCall is one function invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
}

// FunctionResponse answers the [FunctionCall] with the same ID.
type FunctionResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// ContentEvent summarises one inbound content message after the session has
// routed its audio to the [Player].
type ContentEvent struct {
	// Transcript is output transcription text carried by the message.
	Transcript string

	// HasAudio reports whether the message carried inline audio.
	HasAudio bool

	// Interrupted means the model's utterance was cut off; playback has been
	// hard-stopped and the turn's accumulated audio discarded.
	Interrupted bool

	// TurnComplete means the model finished its turn; playback has been asked
	// to drain.
	TurnComplete bool

	// TurnAudio is the PCM16 of the whole completed turn. Only set with
	// TurnComplete.
	TurnAudio []byte
}

// Player is the playback side a session drives.
type Player interface {
	AddPCM16(pcm []byte)
	Resume()
	Stop()
	Complete()
}

// Handler receives inbound session events. Methods are called sequentially
// from the session's receive goroutine, in arrival order. They must not call
// [Session.Close] synchronously.
type Handler interface {
	// HandleSetupComplete is called each time the remote side acknowledges the
	// handshake, including after an automatic reconnect.
	HandleSetupComplete(s Session)

	// HandleContent is called for every content message.
	HandleContent(ev ContentEvent)

	// HandleToolCall must return one response per call. The session sends
	// them as a single tool response before releasing the outbound path, so
	// the handler must not send on the session itself.
	HandleToolCall(ctx context.Context, calls []FunctionCall) []FunctionResponse

	// HandleClose is called once when the session ends for a reason other
	// than [Session.Close]. err is a *[CloseError] for socket closes.
	HandleClose(err error)

	// HandleState is called on every lifecycle transition.
	HandleState(st State)
}

// ToolCancellationHandler may be implemented by a [Handler] to observe
// tool-call cancellations.
type ToolCancellationHandler interface {
	HandleToolCancellation(ids []string)
}

// Session is one open realtime connection.
type Session interface {
	// SendAudio streams a block of 16 kHz mono PCM16. Returns [ErrNotActive]
	// before setup completes or after close.
	SendAudio(pcm []byte) error

	// SendTurns sends content turns. Returns [ErrNotActive] when not active.
	SendTurns(turns []Turn, turnComplete bool) error

	State() State
	Phase() TurnPhase

	// Close ends the session. Idempotent. HandleClose is not called for
	// closes initiated here.
	Close() error
}

// Provider opens sessions.
type Provider interface {
	Connect(ctx context.Context, cfg SessionConfig, h Handler, p Player) (Session, error)
}

// TransientCloseReason is the close reason the Gemini Live service sends for
// short-lived server faults.
const TransientCloseReason = "Internal error encountered."

// Websocket close codes the classifier cares about.
const (
	CodeAbnormal       = 1006
	CodeServiceRestart = 1012
	CodeTryAgainLater  = 1013
)

// CloseError describes why a session's socket closed.
type CloseError struct {
	Code      int
	Reason    string
	Retryable bool
}

// Error implements error.
func (e *CloseError) Error() string {
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("live: connection closed (%s): code %d: %q", kind, e.Code, e.Reason)
}

// ClassifyClose builds a CloseError. A close is retryable when the reason is
// exactly [TransientCloseReason] or the code asks the client to come back
// later; everything else is terminal.
func ClassifyClose(code int, reason string) *CloseError {
	retry := reason == TransientCloseReason ||
		code == CodeServiceRestart ||
		code == CodeTryAgainLater
	return &CloseError{Code: code, Reason: reason, Retryable: retry}
}

// IsRetryable reports whether err is a retryable [CloseError].
func IsRetryable(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Retryable
}

// ProtocolError is logged for inbound messages that cannot be decoded. The
// message is dropped and the session continues.
type ProtocolError struct {
	Raw []byte
	Err error
}

// Error implements error.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("live: malformed message (%d bytes): %v", len(e.Raw), e.Err)
}

// Unwrap returns the decode error.
func (e *ProtocolError) Unwrap() error { return e.Err }
