// Package mock provides a test double for transcribe.Transcriber.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lingua/pkg/provider/transcribe"
)

// Transcriber returns Text and Err from every call and records the requests.
// When Done is non-nil a value is sent on it after each call.
type Transcriber struct {
	mu sync.Mutex

	Text string
	Err  error
	Done chan struct{}

	calls []transcribe.Request
}

var _ transcribe.Transcriber = (*Transcriber)(nil)

// Transcribe records req and returns Text, Err.
func (t *Transcriber) Transcribe(_ context.Context, req transcribe.Request) (string, error) {
	t.mu.Lock()
	t.calls = append(t.calls, req)
	text, err, done := t.Text, t.Err, t.Done
	t.mu.Unlock()
	if done != nil {
		defer func() { done <- struct{}{} }()
	}
	return text, err
}

// SetText replaces the answer for subsequent calls.
func (t *Transcriber) SetText(s string) {
	t.mu.Lock()
	t.Text = s
	t.mu.Unlock()
}

// Calls returns a copy of the recorded requests.
func (t *Transcriber) Calls() []transcribe.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transcribe.Request(nil), t.calls...)
}
