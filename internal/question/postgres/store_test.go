package postgres_test

import (
	"errors"
	"os"
	"slices"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lingua/internal/question"
	"github.com/MrWong99/lingua/internal/question/postgres"
)

// testDSN skips the test unless LINGUA_TEST_POSTGRES_DSN is set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("LINGUA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LINGUA_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T, title string) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := t.Context()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS questions CASCADE",
		"DROP TABLE IF EXISTS practice_sessions CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}
	pool.Close()

	s, err := postgres.NewStore(ctx, dsn, title, "en-US")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestStore_QuestionLifecycle(t *testing.T) {
	s := newTestStore(t, "default")
	ctx := t.Context()

	q1, err := s.RecordQuestion(ctx, "How are you?", "a1")
	if err != nil {
		t.Fatalf("RecordQuestion: %v", err)
	}
	q2, err := s.RecordQuestion(ctx, "What is your name?", "a1")
	if err != nil {
		t.Fatalf("RecordQuestion: %v", err)
	}

	if _, ok, err := s.Current(ctx); err != nil || ok {
		t.Fatalf("Current before set = %v, %v", ok, err)
	}
	if err := s.SetCurrent(ctx, q1.ID); err != nil {
		t.Fatalf("SetCurrent: %v", err)
	}
	if err := s.RecordScore(ctx, q1.ID, 7); err != nil {
		t.Fatalf("RecordScore: %v", err)
	}

	pending, err := s.PendingQuestions(ctx)
	if err != nil {
		t.Fatalf("PendingQuestions: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != q2.ID {
		t.Errorf("pending = %+v", pending)
	}
	texts, err := s.QuestionTexts(ctx)
	if err != nil {
		t.Fatalf("QuestionTexts: %v", err)
	}
	if !slices.Equal(texts, []string{"How are you?", "What is your name?"}) {
		t.Errorf("texts = %v", texts)
	}
	id, ok, err := s.Current(ctx)
	if err != nil || !ok || id != q1.ID {
		t.Errorf("Current = %q, %v, %v", id, ok, err)
	}
}

func TestStore_Errors(t *testing.T) {
	s := newTestStore(t, "default")
	ctx := t.Context()

	if err := s.RecordScore(ctx, "missing", 5); !errors.Is(err, question.ErrNotFound) {
		t.Errorf("RecordScore missing: %v", err)
	}
	if err := s.RecordScore(ctx, "missing", 11); !errors.Is(err, question.ErrInvalidScore) {
		t.Errorf("RecordScore 11: %v", err)
	}
	if err := s.SetCurrent(ctx, "missing"); !errors.Is(err, question.ErrNotFound) {
		t.Errorf("SetCurrent missing: %v", err)
	}
}

func TestStore_SessionsReopenByTitle(t *testing.T) {
	s := newTestStore(t, "travel")
	ctx := t.Context()
	if _, err := s.RecordQuestion(ctx, "Where is the station?", "a2"); err != nil {
		t.Fatalf("RecordQuestion: %v", err)
	}
	if _, err := s.CreateSession(ctx, "work", "cmn-CN"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	again, err := postgres.NewStore(ctx, testDSN(t), "travel", "en-US")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(again.Close)
	if again.Active().ID != s.Active().ID {
		t.Errorf("reopened session id %q, want %q", again.Active().ID, s.Active().ID)
	}
	texts, _ := again.QuestionTexts(ctx)
	if len(texts) != 1 {
		t.Errorf("texts = %v", texts)
	}

	all, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("sessions = %+v", all)
	}
}
