package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/lingua/internal/observe"
	"github.com/MrWong99/lingua/pkg/provider/llm"
	"github.com/MrWong99/lingua/pkg/provider/transcribe"
)

// GuardOption configures a guarded provider.
type GuardOption func(*guard)

// WithMetrics counts every request in m under the given provider name.
func WithMetrics(m *observe.Metrics, provider string) GuardOption {
	return func(g *guard) {
		g.metrics = m
		g.provider = provider
	}
}

type guard struct {
	breaker  *Breaker
	metrics  *observe.Metrics
	provider string
}

func newGuard(b *Breaker, opts []GuardOption) guard {
	g := guard{breaker: b}
	for _, o := range opts {
		o(&g)
	}
	if g.provider == "" {
		g.provider = b.Name()
	}
	return g
}

func (g *guard) do(ctx context.Context, kind string, fn func(ctx context.Context) error) error {
	err := g.breaker.Do(ctx, fn)
	status := "ok"
	switch {
	case errors.Is(err, ErrCircuitOpen):
		status = "circuit_open"
	case err != nil:
		status = "error"
	}
	g.metrics.RecordProviderRequest(ctx, g.provider, kind, status)
	return err
}

// Transcriber routes a transcribe.Transcriber through a [Breaker].
type Transcriber struct {
	next transcribe.Transcriber
	g    guard
}

var _ transcribe.Transcriber = (*Transcriber)(nil)

// NewTranscriber wraps next with b.
func NewTranscriber(next transcribe.Transcriber, b *Breaker, opts ...GuardOption) *Transcriber {
	return &Transcriber{next: next, g: newGuard(b, opts)}
}

// Transcribe implements transcribe.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, req transcribe.Request) (string, error) {
	var text string
	err := t.g.do(ctx, "transcribe", func(ctx context.Context) error {
		var err error
		text, err = t.next.Transcribe(ctx, req)
		return err
	})
	return text, err
}

// Completer routes an llm.Provider through a [Breaker].
type Completer struct {
	next llm.Provider
	g    guard
}

var _ llm.Provider = (*Completer)(nil)

// NewCompleter wraps next with b.
func NewCompleter(next llm.Provider, b *Breaker, opts ...GuardOption) *Completer {
	return &Completer{next: next, g: newGuard(b, opts)}
}

// Complete implements llm.Provider.
func (c *Completer) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var resp *llm.CompletionResponse
	err := c.g.do(ctx, "llm", func(ctx context.Context) error {
		var err error
		resp, err = c.next.Complete(ctx, req)
		return err
	})
	return resp, err
}
