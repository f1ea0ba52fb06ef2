// Package gemini implements [live.Provider] for Google's Gemini Live API.
//
// It holds one websocket to the BidiGenerateContent endpoint and exchanges
// JSON messages: a setup handshake, client content turns, realtime audio
// chunks and tool responses going out; setup acknowledgements, server
// content (inline audio, transcription, interrupt and turn-complete flags),
// tool calls and tool-call cancellations coming in.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lingua/internal/observe"
	"github.com/MrWong99/lingua/pkg/provider/live"
)

var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*session)(nil)
)

const (
	// DefaultModel is the live model used when none is configured.
	DefaultModel   = "models/gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	inputMIMEType = "audio/pcm;rate=16000"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	writeTimeout      = 10 * time.Second

	// Server content messages carry base64 audio well beyond the websocket
	// library's 32 KiB default.
	readLimit = 16 << 20
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithContinueSignal controls whether an empty, incomplete user turn is sent
// after every server message that carries audio but does not complete the
// turn. Gemini Live stalls mid-utterance for some models without it. Enabled
// by default.
func WithContinueSignal(enabled bool) Option {
	return func(p *Provider) { p.continueSignal = enabled }
}

// WithReconnectDelay overrides [live.ReconnectDelay].
func WithReconnectDelay(d time.Duration) Option {
	return func(p *Provider) { p.reconnectDelay = d }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey         string
	model          string
	baseURL        string
	continueSignal bool
	reconnectDelay time.Duration
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:         apiKey,
		model:          DefaultModel,
		baseURL:        defaultBaseURL,
		continueSignal: true,
		reconnectDelay: live.ReconnectDelay,
	}
	for _, o := range opts {
		o(p)
	}
	if !strings.HasPrefix(p.model, "models/") {
		p.model = "models/" + p.model
	}
	return p
}

// PersonaVoice maps a voice persona to a prebuilt Gemini voice. Anything that
// is not a known persona is treated as a voice name already.
func PersonaVoice(voice string) string {
	switch strings.ToLower(voice) {
	case "male":
		return "Charon"
	case "female":
		return "Aoede"
	default:
		return voice
	}
}

// Connect dials the service and sends the setup handshake. The session is
// usable for sending once the handler's HandleSetupComplete fires.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig, h live.Handler, player live.Player) (_ live.Session, err error) {
	ctx, span := observe.StartSpan(ctx, "gemini.connect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("lingua.model", p.model)))
	defer func() {
		observe.Fail(span, err)
		span.End()
	}()

	if h == nil {
		return nil, errors.New("gemini: connect: nil handler")
	}
	if player == nil {
		player = nopPlayer{}
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		p:      p,
		cfg:    cfg,
		h:      h,
		player: player,
		ctx:    sessCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    observe.Logger(ctx).With("model", p.model),
		origin: span.SpanContext(),
	}

	s.setState(live.StateConnecting)
	conn, err := s.dial(ctx)
	if err != nil {
		cancel()
		s.setState(live.StateClosed)
		return nil, fmt.Errorf("gemini: connect: %w", err)
	}

	go s.run(conn)
	go s.keepaliveLoop()
	return s, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	Tools                    []geminiTool       `json:"tools,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
	Temperature        *float64      `json:"temperature,omitempty"`
}

type speechConfig struct {
	VoiceConfig  *voiceConfig `json:"voiceConfig,omitempty"`
	LanguageCode string       `json:"languageCode,omitempty"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []inlineData `json:"mediaChunks"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// continueMessage keeps the server streaming the rest of an unfinished turn.
var continueMessage = clientContentMessage{
	ClientContent: clientContent{
		Turns:        []contentTurn{{Role: "user", Parts: []part{}}},
		TurnComplete: false,
	},
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete        *json.RawMessage  `json:"setupComplete,omitempty"`
	ServerContent        *serverContent    `json:"serverContent,omitempty"`
	ToolCall             *toolCallMsg      `json:"toolCall,omitempty"`
	ToolCallCancellation *toolCancellation `json:"toolCallCancellation,omitempty"`
	Error                *geminiError      `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type toolCancellation struct {
	IDs []string `json:"ids"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	p      *Provider
	cfg    live.SessionConfig
	h      live.Handler
	player live.Player

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// log carries the trace of the connect span.
	log *slog.Logger

	// origin is the connect span; reconnect spans link back to it.
	origin trace.SpanContext

	mu      sync.Mutex
	conn    *websocket.Conn
	state   live.State
	phase   live.TurnPhase
	closing bool

	// writeMu serialises outbound frames. It is held across tool handling so
	// that no audio can overtake a tool response.
	writeMu sync.Mutex

	// Owned by the run goroutine.
	turnAudio   []byte
	reconnected bool
}

// dial opens a websocket, sends the setup message and makes the connection
// current.
func (s *session) dial(ctx context.Context) (*websocket.Conn, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		s.p.baseURL, s.p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.setState(live.StateAwaitingSetup)

	if err := s.write(s.setupMessage()); err != nil {
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("setup: %w", err)
	}
	return conn, nil
}

func (s *session) setupMessage() setupMessage {
	cfg := s.cfg
	msg := setupMessage{
		Setup: setupConfig{
			Model: s.p.model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
			},
		},
	}

	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}

	if cfg.Voice != "" || cfg.LanguageCode != "" {
		sc := &speechConfig{LanguageCode: cfg.LanguageCode}
		if cfg.Voice != "" {
			sc.VoiceConfig = &voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: PersonaVoice(cfg.Voice)},
			}
		}
		msg.Setup.GenerationConfig.SpeechConfig = sc
	}

	if cfg.Temperature > 0 {
		t := cfg.Temperature
		msg.Setup.GenerationConfig.Temperature = &t
	}

	if len(cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		msg.Setup.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	if cfg.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return msg
}

// run owns the receive side. It reads until the socket closes, performs at
// most one reconnect per retryable close and reports terminal closes.
func (s *session) run(conn *websocket.Conn) {
	defer close(s.done)

	for {
		err := s.readLoop(conn)
		if s.isClosing() {
			s.setState(live.StateClosed)
			return
		}

		cerr := closeErrorFrom(err)
		if cerr.Retryable && !s.reconnected {
			s.reconnected = true
			s.log.Warn("gemini: transient close, reconnecting",
				"close_code", cerr.Code,
				"close_reason", cerr.Reason,
				"delay", s.p.reconnectDelay,
			)
			s.turnAudio = nil
			s.setState(live.StateConnecting)

			select {
			case <-time.After(s.p.reconnectDelay):
			case <-s.ctx.Done():
				s.setState(live.StateClosed)
				return
			}

			var dialErr error
			conn, dialErr = s.reconnect()
			if dialErr == nil {
				continue
			}
			if s.isClosing() {
				s.setState(live.StateClosed)
				return
			}
			s.log.Error("gemini: reconnect failed", "err", dialErr)
			cerr = &live.CloseError{Code: live.CodeAbnormal, Reason: dialErr.Error()}
		}

		s.log.Info("gemini: session closed",
			"close_code", cerr.Code,
			"close_reason", cerr.Reason,
			"retryable", cerr.Retryable,
		)
		s.setState(live.StateClosed)
		s.h.HandleClose(cerr)
		return
	}
}

// reconnect redials under its own span, linked to the connect span.
func (s *session) reconnect() (*websocket.Conn, error) {
	ctx, span := observe.StartSpan(s.ctx, "gemini.reconnect",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithLinks(trace.Link{SpanContext: s.origin}))
	defer span.End()
	conn, err := s.dial(ctx)
	observe.Fail(span, err)
	return conn, err
}

func (s *session) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return err
		}
		s.handleServerMessage(data)
	}
}

// closeErrorFrom turns a read error into a classified close.
func closeErrorFrom(err error) *live.CloseError {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return live.ClassifyClose(int(ce.Code), ce.Reason)
	}
	return &live.CloseError{Code: live.CodeAbnormal, Reason: err.Error()}
}

func (s *session) handleServerMessage(data []byte) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn("gemini: dropping message", "err", &live.ProtocolError{Raw: data, Err: err})
		return
	}

	if msg.Error != nil {
		s.log.Warn("gemini: server error",
			"code", msg.Error.Code,
			"status", msg.Error.Status,
			"message", msg.Error.Message,
		)
	}
	if msg.SetupComplete != nil {
		s.handleSetupComplete()
	}
	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}
	if msg.ToolCall != nil {
		s.handleToolCall(msg.ToolCall)
	}
	if msg.ToolCallCancellation != nil {
		s.log.Info("gemini: tool call cancelled", "ids", msg.ToolCallCancellation.IDs)
		if tc, ok := s.h.(live.ToolCancellationHandler); ok {
			tc.HandleToolCancellation(msg.ToolCallCancellation.IDs)
		}
	}
}

func (s *session) handleSetupComplete() {
	s.mu.Lock()
	s.phase = live.PhaseModelIdle
	s.mu.Unlock()
	s.reconnected = false

	s.setState(live.StateActive)
	s.h.HandleSetupComplete(s)
}

func (s *session) handleServerContent(sc *serverContent) {
	if sc.Interrupted {
		s.setPhase(live.PhaseInterrupted)
		s.player.Stop()
		s.turnAudio = nil
		s.h.HandleContent(live.ContentEvent{Interrupted: true})
		return
	}

	var ev live.ContentEvent
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				s.log.Warn("gemini: dropping audio part", "err", err)
				continue
			}
			if len(pcm) == 0 {
				continue
			}
			s.player.AddPCM16(pcm)
			s.player.Resume()
			s.turnAudio = append(s.turnAudio, pcm...)
			ev.HasAudio = true
		}
	}
	if ev.HasAudio {
		s.setPhase(live.PhaseModelSpeaking)
	}
	if sc.OutputTranscription != nil {
		ev.Transcript = sc.OutputTranscription.Text
	}

	if ev.HasAudio && !sc.TurnComplete && s.p.continueSignal {
		if err := s.write(continueMessage); err != nil {
			s.log.Debug("gemini: continue signal not sent", "err", err)
		}
	}

	if sc.TurnComplete {
		s.setPhase(live.PhaseTurnComplete)
		s.player.Complete()
		ev.TurnComplete = true
		ev.TurnAudio = s.turnAudio
		s.turnAudio = nil
	}

	s.h.HandleContent(ev)
}

func (s *session) handleToolCall(tc *toolCallMsg) {
	calls := make([]live.FunctionCall, len(tc.FunctionCalls))
	for i, fc := range tc.FunctionCalls {
		calls[i] = live.FunctionCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	resps := s.h.HandleToolCall(s.ctx, calls)
	msg := toolResponseMessage{
		ToolResponse: toolResponse{FunctionResponses: matchResponses(calls, resps)},
	}
	if err := s.writeLocked(msg); err != nil {
		s.log.Warn("gemini: failed to send tool response", "err", err)
	}
}

// matchResponses orders responses like calls and fills in an empty response
// for any call the handler did not answer.
func matchResponses(calls []live.FunctionCall, resps []live.FunctionResponse) []functionResponse {
	byID := make(map[string]live.FunctionResponse, len(resps))
	for _, r := range resps {
		byID[r.ID] = r
	}
	out := make([]functionResponse, len(calls))
	for i, c := range calls {
		r, ok := byID[c.ID]
		payload := r.Response
		if !ok || payload == nil {
			payload = map[string]any{}
		}
		out[i] = functionResponse{ID: c.ID, Name: c.Name, Response: payload}
	}
	return out
}

func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			conn := s.currentConn()
			if conn == nil {
				continue
			}
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			if err := conn.Ping(pingCtx); err != nil {
				s.log.Debug("gemini: keepalive ping failed", "err", err)
			}
			cancel()
		}
	}
}

// write marshals v and writes it as a text WebSocket message.
func (s *session) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(v)
}

func (s *session) writeLocked(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	conn := s.currentConn()
	if conn == nil {
		return live.ErrNotActive
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *session) currentConn() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *session) setState(st live.State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.h.HandleState(st)
}

func (s *session) setPhase(p live.TurnPhase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// ── live.Session ───────────────────────────────────────────────────────────────

// SendAudio delivers a raw PCM audio chunk (16 kHz, s16le, mono) to the model.
func (s *session) SendAudio(pcm []byte) error {
	if s.State() != live.StateActive {
		return live.ErrNotActive
	}
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []inlineData{{
				MIMEType: inputMIMEType,
				Data:     base64.StdEncoding.EncodeToString(pcm),
			}},
		},
	}
	if err := s.write(msg); err != nil {
		return fmt.Errorf("gemini: send audio: %w", err)
	}
	return nil
}

// SendTurns sends content turns as one clientContent message.
func (s *session) SendTurns(turns []live.Turn, turnComplete bool) error {
	if s.State() != live.StateActive {
		return live.ErrNotActive
	}
	out := make([]contentTurn, len(turns))
	for i, t := range turns {
		parts := make([]part, len(t.Parts))
		for j, p := range t.Parts {
			parts[j] = part{Text: p.Text, Thought: p.Thought}
		}
		out[i] = contentTurn{Role: t.Role, Parts: parts}
	}
	msg := clientContentMessage{
		ClientContent: clientContent{Turns: out, TurnComplete: turnComplete},
	}
	if err := s.write(msg); err != nil {
		return fmt.Errorf("gemini: send turns: %w", err)
	}
	return nil
}

// State returns the connection state.
func (s *session) State() live.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Phase returns the current turn phase.
func (s *session) Phase() live.TurnPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.state = live.StateClosing
	conn := s.conn
	s.mu.Unlock()

	s.cancel() // unblocks run and keepaliveLoop
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}
	return nil
}

type nopPlayer struct{}

func (nopPlayer) AddPCM16([]byte) {}
func (nopPlayer) Resume()         {}
func (nopPlayer) Stop()           {}
func (nopPlayer) Complete()       {}
