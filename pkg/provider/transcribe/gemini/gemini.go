// Package gemini extracts questions from turn audio with a Gemini
// GenerateContent call: the PCM is wrapped in a WAV header and sent inline
// next to the extraction instruction.
package gemini

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/MrWong99/lingua/internal/prompt"
	"github.com/MrWong99/lingua/pkg/audio"
	"github.com/MrWong99/lingua/pkg/provider/transcribe"
)

// DefaultModel is the model used for question extraction.
const DefaultModel = "gemini-2.0-flash-lite-001"

// Option is a functional option for Transcriber.
type Option func(*Transcriber)

// WithModel overrides [DefaultModel].
func WithModel(model string) Option {
	return func(t *Transcriber) {
		if model != "" {
			t.model = model
		}
	}
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(t *Transcriber) { t.baseURL = url }
}

// Transcriber implements transcribe.Transcriber with the genai SDK.
type Transcriber struct {
	client  *genai.Client
	model   string
	baseURL string
}

var _ transcribe.Transcriber = (*Transcriber)(nil)

// New creates a Transcriber. apiKey must be non-empty.
func New(ctx context.Context, apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("gemini transcribe: apiKey must not be empty")
	}
	t := &Transcriber{model: DefaultModel}
	for _, o := range opts {
		o(t)
	}

	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if t.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: t.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini transcribe: create client: %w", err)
	}
	t.client = client
	return t, nil
}

// Transcribe implements transcribe.Transcriber. It returns the model's answer
// unfiltered; callers apply [transcribe.Extract].
func (t *Transcriber) Transcribe(ctx context.Context, req transcribe.Request) (string, error) {
	if len(req.PCM) == 0 {
		return transcribe.NotFound, nil
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = audio.PlaybackSampleRate
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(prompt.TranscriptionLead),
			genai.NewPartFromBytes(audio.EncodeWAV(req.PCM, rate), "audio/wav"),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.Transcription(req.NativeLanguage, req.LearnLanguage), genai.RoleUser),
	}

	resp, err := t.client.Models.GenerateContent(ctx, t.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: generate content: %w", err)
	}
	return resp.Text(), nil
}
