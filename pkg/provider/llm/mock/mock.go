// Package mock provides a test double for the llm.Provider interface.
//
// Set Response or Err before use; every call is recorded in Calls.
//
//	p := &mock.Provider{Response: &llm.CompletionResponse{Content: `["How are you?"]`}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lingua/pkg/provider/llm"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Response is returned by Complete. May be nil.
	Response *llm.CompletionResponse

	// Err, if non-nil, is returned by Complete.
	Err error

	calls []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Complete records req and returns Response, Err.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	return p.Response, p.Err
}

// Calls returns a copy of every request passed to Complete.
func (p *Provider) Calls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.calls...)
}
