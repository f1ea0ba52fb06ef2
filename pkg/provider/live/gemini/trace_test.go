package gemini_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/lingua/pkg/provider/live"
	"github.com/MrWong99/lingua/pkg/provider/live/gemini"
	"github.com/MrWong99/lingua/pkg/provider/live/mock"
)

// Not parallel: the tracer provider is global.
func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func spansNamed(rec *tracetest.SpanRecorder, name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

func TestSpans_ReconnectLinksToConnect(t *testing.T) {
	rec := recordSpans(t)

	srv, _ := startGeminiServer(t, func(idx int, conn *websocket.Conn) {
		readMsg(t, conn)
		sendSetupComplete(t, conn)
		if idx == 0 {
			conn.Close(websocket.StatusInternalError, live.TransientCloseReason)
			return
		}
		waitClosed(conn)
	})

	_, h, _ := connect(t, srv, live.SessionConfig{},
		gemini.WithModel("gemini-live-test"),
		gemini.WithReconnectDelay(10*time.Millisecond))
	recv(t, h.SetupComplete)
	recv(t, h.SetupComplete)

	connects := spansNamed(rec, "gemini.connect")
	if len(connects) != 1 {
		t.Fatalf("connect spans = %d, want 1", len(connects))
	}
	var model string
	for _, kv := range connects[0].Attributes() {
		if kv.Key == "lingua.model" {
			model = kv.Value.AsString()
		}
	}
	if model != "models/gemini-live-test" {
		t.Errorf("lingua.model = %q", model)
	}

	reconnects := spansNamed(rec, "gemini.reconnect")
	if len(reconnects) != 1 {
		t.Fatalf("reconnect spans = %d, want 1", len(reconnects))
	}
	links := reconnects[0].Links()
	if len(links) != 1 || links[0].SpanContext.SpanID() != connects[0].SpanContext().SpanID() {
		t.Error("reconnect span does not link to the connect span")
	}
	if reconnects[0].Status().Code == codes.Error {
		t.Errorf("successful reconnect marked failed: %v", reconnects[0].Status())
	}
}

func TestSpans_DialFailureMarksConnect(t *testing.T) {
	rec := recordSpans(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	p := gemini.New("k", gemini.WithBaseURL(wsURL(srv)))
	if _, err := p.Connect(t.Context(), live.SessionConfig{}, mock.NewHandler(), nil); err == nil {
		t.Fatal("expected dial error")
	}
	connects := spansNamed(rec, "gemini.connect")
	if len(connects) != 1 || connects[0].Status().Code != codes.Error {
		t.Errorf("connect spans = %v, want one failed span", connects)
	}
}
