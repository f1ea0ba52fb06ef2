package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/lingua/internal/prompt"
	"github.com/MrWong99/lingua/pkg/provider/llm"
)

const generatorSystemPrompt = "You write short spoken-language practice questions for a language tutor."

// ErrMalformedReply is returned when the model's reply holds no JSON string
// array.
var ErrMalformedReply = errors.New("question: malformed generator reply")

// Generator asks a completion model for fresh practice questions.
type Generator struct {
	llm         llm.Provider
	temperature float64
}

// NewGenerator returns a Generator backed by p.
func NewGenerator(p llm.Provider) *Generator {
	return &Generator{llm: p, temperature: 0.9}
}

// Generate returns up to n new questions at difficulty in the learn language.
// Replies near-identical to an asked question or to each other are dropped.
func (g *Generator) Generate(ctx context.Context, n int, difficulty, learn string, asked []string) ([]string, error) {
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: generatorSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompt.Questions(n, difficulty, learn, asked)},
		},
		Temperature: g.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("question generator: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("question generator: %w: empty response", ErrMalformedReply)
	}

	texts, err := parseList(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("question generator: %w", err)
	}

	seen := make([]Question, 0, len(asked)+len(texts))
	for _, a := range asked {
		seen = append(seen, Question{Text: a})
	}
	var out []string
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := FindSimilar(t, seen, 0); dup {
			continue
		}
		seen = append(seen, Question{Text: t})
		out = append(out, t)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out, nil
}

// Prefill records n generated questions in s when s has no pending question.
// It returns the questions recorded.
func (g *Generator) Prefill(ctx context.Context, s Store, n int, difficulty, learn string) ([]Question, error) {
	pending, err := s.PendingQuestions(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 || n <= 0 {
		return nil, nil
	}
	asked, err := s.QuestionTexts(ctx)
	if err != nil {
		return nil, err
	}
	texts, err := g.Generate(ctx, n, difficulty, learn, asked)
	if err != nil {
		return nil, err
	}
	out := make([]Question, 0, len(texts))
	for _, t := range texts {
		q, err := s.RecordQuestion(ctx, t, difficulty)
		if err != nil {
			return out, err
		}
		out = append(out, q)
	}
	return out, nil
}

// parseList extracts the first JSON string array from reply. Models often
// wrap it in a markdown code fence.
func parseList(reply string) ([]string, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end < start {
		return nil, ErrMalformedReply
	}
	var out []string
	if err := json.Unmarshal([]byte(reply[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return out, nil
}
