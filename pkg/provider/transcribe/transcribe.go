// Package transcribe defines the contract for extracting the tutor's test
// question from the audio of a finished model turn.
//
// A [Transcriber] returns the model's raw answer. [Extract] applies the
// not-found rule and is the single place that decides whether a question
// should be recorded.
package transcribe

import (
	"context"
	"strings"
)

// NotFound is the text the extraction model answers with when the turn
// contained no question in the learn language.
const NotFound = "NOT FOUND"

// sentinelMaxLen bounds the answers treated as the sentinel. Longer answers
// that merely contain the phrase are kept.
const sentinelMaxLen = 15

// Request is the audio of one model turn plus the languages of the practice
// session.
type Request struct {
	// PCM is 16-bit little-endian mono audio.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int

	// NativeLanguage and LearnLanguage are language codes such as "hi-IN".
	NativeLanguage string
	LearnLanguage  string
}

// Transcriber extracts question text from a turn's audio.
//
// Implementations must be safe for concurrent use.
type Transcriber interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// IsSentinel reports whether text is the not-found answer.
func IsSentinel(text string) bool {
	return strings.Contains(text, NotFound) && len(text) < sentinelMaxLen
}

// Extract trims text and reports whether it holds a question worth
// recording.
func Extract(text string) (string, bool) {
	if IsSentinel(text) {
		return "", false
	}
	q := strings.TrimSpace(text)
	return q, q != ""
}
