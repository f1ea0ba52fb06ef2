package question_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/MrWong99/lingua/internal/question"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := question.NewMemoryStore("default", "en-US")

	q1, err := s.RecordQuestion(ctx, "How are you?", "a1")
	if err != nil {
		t.Fatalf("RecordQuestion: %v", err)
	}
	q2, _ := s.RecordQuestion(ctx, "What is your name?", "a1")
	if q1.ID == "" || q1.ID == q2.ID {
		t.Fatalf("ids not unique: %q %q", q1.ID, q2.ID)
	}
	if q1.Difficulty != "a1" || q1.SessionID != s.Active().ID {
		t.Errorf("question = %+v", q1)
	}

	if _, ok, _ := s.Current(ctx); ok {
		t.Error("current set before SetCurrent")
	}
	if err := s.SetCurrent(ctx, q1.ID); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	if err := s.RecordScore(ctx, q1.ID, 7); err != nil {
		t.Fatalf("RecordScore: %v", err)
	}

	pending, _ := s.PendingQuestions(ctx)
	if len(pending) != 1 || pending[0].ID != q2.ID {
		t.Errorf("pending = %+v, want only q2", pending)
	}
	texts, _ := s.QuestionTexts(ctx)
	if !slices.Equal(texts, []string{"How are you?", "What is your name?"}) {
		t.Errorf("texts = %v", texts)
	}
	id, ok, _ := s.Current(ctx)
	if !ok || id != q1.ID {
		t.Errorf("current = %q, %v", id, ok)
	}
}

func TestMemoryStore_Errors(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := question.NewMemoryStore("default", "en-US")
	q, _ := s.RecordQuestion(ctx, "Q", "a1")

	for _, score := range []int{0, 11, -3} {
		if err := s.RecordScore(ctx, q.ID, score); !errors.Is(err, question.ErrInvalidScore) {
			t.Errorf("score %d: err = %v, want ErrInvalidScore", score, err)
		}
	}
	if err := s.RecordScore(ctx, "missing", 5); !errors.Is(err, question.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.SetCurrent(ctx, "missing"); !errors.Is(err, question.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := s.Use(ctx, "missing"); !errors.Is(err, question.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_SessionsAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := question.NewMemoryStore("travel", "en-US")
	_, _ = s.RecordQuestion(ctx, "Where is the station?", "a2")

	other, err := s.CreateSession(ctx, "work", "cmn-CN")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.Use(ctx, other.ID); err != nil {
		t.Fatalf("Use: %v", err)
	}
	if texts, _ := s.QuestionTexts(ctx); len(texts) != 0 {
		t.Errorf("new session sees %v", texts)
	}
	all, _ := s.Sessions(ctx)
	if len(all) != 2 || all[0].Title != "travel" || all[1].Language != "cmn-CN" {
		t.Errorf("sessions = %+v", all)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	s := question.NewMemoryStore("default", "en-US")
	q, _ := s.RecordQuestion(ctx, "Q", "a1")

	pending, _ := s.PendingQuestions(ctx)
	pending[0].Text = "mutated"
	all, _ := s.Questions(ctx)
	if all[0].Text != "Q" {
		t.Error("caller mutation leaked into the store")
	}
	_ = s.RecordScore(ctx, q.ID, 3)
	if pending[0].Score != 0 {
		t.Error("store mutation leaked into an earlier snapshot")
	}
}

func TestFindSimilar(t *testing.T) {
	t.Parallel()
	qs := []question.Question{
		{ID: "1", Text: "What is your name?"},
		{ID: "2", Text: "Where do you live?"},
	}
	tests := []struct {
		text   string
		wantID string
	}{
		{"what is your name", "1"},
		{"  WHAT IS YOU NAME!  ", "1"},
		{"Where do u live?", "2"},
		{"Describe your favourite food.", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got, ok := question.FindSimilar(tt.text, qs, 0)
		if tt.wantID == "" {
			if ok {
				t.Errorf("FindSimilar(%q) matched %q", tt.text, got.Text)
			}
			continue
		}
		if !ok || got.ID != tt.wantID {
			t.Errorf("FindSimilar(%q) = %q, %v; want id %s", tt.text, got.ID, ok, tt.wantID)
		}
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	if got := question.Normalize("  Hello,   WORLD!\n"); got != "hello world" {
		t.Errorf("Normalize = %q", got)
	}
	if got := question.Normalize("आप कैसे हैं?"); got != "आप कैसे हैं" {
		t.Errorf("Normalize keeps combining marks: %q", got)
	}
}

func TestContainsSimilar(t *testing.T) {
	t.Parallel()
	asked := []string{"What is your name?", "Where do you live?"}
	if !question.ContainsSimilar(asked, "where do you live", 0) {
		t.Error("near-identical text not found")
	}
	if question.ContainsSimilar(asked, "What is your favourite food?", 0) {
		t.Error("different question matched")
	}
	if question.ContainsSimilar(nil, "What is your name?", 0) {
		t.Error("empty list matched")
	}
}
