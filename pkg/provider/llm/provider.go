// Package llm defines the text-completion contract used to generate practice
// questions ahead of a session.
//
// Implementations must be safe for concurrent use and return promptly when the
// context is cancelled.
package llm

import "context"

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a completion conversation.
type Message struct {
	Role    string
	Content string
}

// Usage holds token accounting reported by the backend. Zero when the backend
// does not report it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is sent as a leading system message when non-empty.
	SystemPrompt string

	Messages []Message

	// Temperature in [0.0, 2.0]. Zero leaves the backend default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the backend default.
	MaxTokens int
}

// CompletionResponse is the full reply of a completion.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
