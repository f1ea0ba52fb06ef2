package tutor

import (
	"context"
	"errors"
	"math"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lingua/internal/observe"
	"github.com/MrWong99/lingua/internal/question"
	"github.com/MrWong99/lingua/pkg/provider/live"
)

// Tool names the model is given.
const (
	ToolGiveScore     = "give_score"
	ToolNextQuestions = "next_questions"
)

// Priming turns sent after setup completes.
const (
	primeQuestionPrefix = "मैं यह प्रश्न पूछूंगा: "
	askFirstQuestion    = "पहला प्रश्न पूछो"
)

// toolDeclarations returns the functions offered to the model. give_score is
// left out when scoring is disabled.
func toolDeclarations(scoring bool) []live.ToolDeclaration {
	var tools []live.ToolDeclaration
	if scoring {
		tools = append(tools, live.ToolDeclaration{
			Name: ToolGiveScore,
			Description: "Call this function when giving any kind of score or points to the user. " +
				"उपयोगकर्ता को किसी भी प्रकार का स्कोर या अंक देते समय इस फ़ंक्शन को कॉल करें|",
			Parameters: map[string]any{
				"type": "OBJECT",
				"properties": map[string]any{
					"score": map[string]any{
						"type":        "NUMBER",
						"description": "The score or points given to the user. उपयोगकर्ता को दिया गया स्कोर या अंक|",
					},
				},
				"required": []string{"score"},
			},
		})
	}
	tools = append(tools, live.ToolDeclaration{
		Name: ToolNextQuestions,
		Description: "Call this function when the next question is asked. " +
			"अगला प्रश्न पूछे जाने पर इस फ़ंक्शन को कॉल करें|",
		Parameters: map[string]any{
			"type": "OBJECT",
			"properties": map[string]any{
				"next_question": map[string]any{
					"type":        "STRING",
					"description": "The next question. अगला प्रश्न",
				},
			},
			"required": []string{"next_question"},
		},
	})
	return tools
}

// primingTurns builds the first client content. A pending question is
// slipped in as a model thought so the tutor asks it without the text
// showing up in the transcript.
func primingTurns(pending []question.Question) []live.Turn {
	var turns []live.Turn
	if len(pending) > 0 {
		turns = append(turns, live.Turn{
			Role:  "model",
			Parts: []live.Part{{Text: primeQuestionPrefix + pending[0].Text, Thought: true}},
		})
	}
	return append(turns, live.Turn{
		Role:  "user",
		Parts: []live.Part{{Text: askFirstQuestion}},
	})
}

var (
	errBadArgument = errors.New("missing or invalid argument")
	errNoCurrent   = errors.New("no question is being asked")
	errUnknownTool = errors.New("unknown function")
)

// dispatch answers every call. Failures are reported back to the model in
// the response payload and never end the session.
func (c *Controller) dispatch(ctx context.Context, r *run, calls []live.FunctionCall) []live.FunctionResponse {
	resps := make([]live.FunctionResponse, 0, len(calls))
	for _, call := range calls {
		resps = append(resps, c.dispatchOne(ctx, r, call))
	}
	return resps
}

func (c *Controller) dispatchOne(ctx context.Context, r *run, call live.FunctionCall) live.FunctionResponse {
	ctx, span := observe.StartSpan(ctx, "tutor.tool", trace.WithAttributes(
		attribute.String("lingua.tool", call.Name),
		attribute.String("lingua.call_id", call.ID),
	))
	defer span.End()

	status, err := c.invoke(ctx, r, call)
	span.SetAttributes(attribute.String("lingua.tool_status", status))
	payload := map[string]any{}
	if err != nil {
		observe.Fail(span, err)
		observe.Logger(ctx).Warn("tutor: tool call failed",
			"tool", call.Name,
			"call_id", call.ID,
			"err", err,
		)
		payload["error"] = err.Error()
	}
	c.metrics.RecordToolCall(ctx, call.Name, status)
	return live.FunctionResponse{ID: call.ID, Name: call.Name, Response: payload}
}

func (c *Controller) invoke(ctx context.Context, r *run, call live.FunctionCall) (string, error) {
	switch call.Name {
	case ToolGiveScore:
		return c.giveScore(ctx, r, call.Args)
	case ToolNextQuestions:
		text, _ := call.Args["next_question"].(string)
		text = strings.TrimSpace(text)
		if text == "" {
			return "invalid", errBadArgument
		}
		if _, err := c.recordAsked(ctx, r, text, "tool"); err != nil {
			return "error", err
		}
		return "ok", nil
	default:
		return "unknown", errUnknownTool
	}
}

func (c *Controller) giveScore(ctx context.Context, r *run, args map[string]any) (string, error) {
	score, ok := number(args["score"])
	if !ok {
		return "invalid", errBadArgument
	}
	if !r.settings.Scoring {
		observe.Logger(ctx).Info("tutor: score ignored, scoring disabled", "score", score)
		return "ignored", nil
	}
	id, ok, err := c.store.Current(ctx)
	if err != nil {
		return "error", err
	}
	if !ok {
		return "no_current", errNoCurrent
	}
	n := int(math.Round(score))
	if err := c.store.RecordScore(ctx, id, n); err != nil {
		if errors.Is(err, question.ErrInvalidScore) {
			return "invalid", err
		}
		return "error", err
	}
	c.metrics.RecordScore(ctx)
	observe.Logger(ctx).Info("tutor: score recorded", "question_id", id, "score", n)
	return "ok", nil
}

// number accepts the numeric shapes a decoded JSON argument can take.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// recordAsked makes text the current question. A pending question that is
// nearly identical is reused instead of appending a duplicate. A question
// that was already scored is left alone and the current question stays.
func (c *Controller) recordAsked(ctx context.Context, r *run, text, source string) (question.Question, error) {
	c.recordMu.Lock()
	defer c.recordMu.Unlock()
	log := observe.Logger(ctx)
	trace.SpanFromContext(ctx).SetAttributes(observe.AttrSource.String(source))

	pending, err := c.store.PendingQuestions(ctx)
	if err != nil {
		return question.Question{}, err
	}
	q, found := question.FindSimilar(text, pending, question.DefaultSimilarity)
	if !found {
		asked, err := c.store.QuestionTexts(ctx)
		if err != nil {
			return question.Question{}, err
		}
		if question.ContainsSimilar(asked, text, question.DefaultSimilarity) {
			log.Debug("tutor: question already scored; not recorded again", "source", source)
			return question.Question{Text: text}, nil
		}
		if q, err = c.store.RecordQuestion(ctx, text, r.settings.Difficulty); err != nil {
			return question.Question{}, err
		}
		c.metrics.RecordQuestion(ctx, source)
		log.Info("tutor: question recorded", "question_id", q.ID, "source", source)
	}
	if err := c.store.SetCurrent(ctx, q.ID); err != nil {
		return question.Question{}, err
	}
	c.updateFor(r, func(s *State) { s.CurrentQuestion = q.Text })
	return q, nil
}
