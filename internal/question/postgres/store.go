package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/lingua/internal/question"
)

// Store is a question.Store scoped to one practice session. All methods are
// safe for concurrent use.
type Store struct {
	pool    *pgxpool.Pool
	session question.PracticeSession
}

var _ question.Store = (*Store)(nil)

// NewStore connects to dsn, runs [Migrate] and opens the practice session
// titled title, creating it when missing.
func NewStore(ctx context.Context, dsn, title, language string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("question store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("question store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("question store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{pool: pool}
	ps, err := s.openSession(ctx, title, language)
	if err != nil {
		pool.Close()
		return nil, err
	}
	s.session = ps
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Active returns the practice session this store serves.
func (s *Store) Active() question.PracticeSession { return s.session }

func (s *Store) openSession(ctx context.Context, title, language string) (question.PracticeSession, error) {
	const q = `
		INSERT INTO practice_sessions (id, title, language)
		VALUES ($1, $2, $3)
		ON CONFLICT (title) DO UPDATE SET title = EXCLUDED.title
		RETURNING id, title, language, created_at`

	var ps question.PracticeSession
	err := s.pool.QueryRow(ctx, q, uuid.NewString(), title, language).
		Scan(&ps.ID, &ps.Title, &ps.Language, &ps.CreatedAt)
	if err != nil {
		return question.PracticeSession{}, fmt.Errorf("question store: open session %q: %w", title, err)
	}
	return ps, nil
}

// CreateSession adds a practice session. The store keeps serving its own
// session.
func (s *Store) CreateSession(ctx context.Context, title, language string) (question.PracticeSession, error) {
	const q = `
		INSERT INTO practice_sessions (id, title, language)
		VALUES ($1, $2, $3)
		RETURNING id, title, language, created_at`

	var ps question.PracticeSession
	if err := s.pool.QueryRow(ctx, q, uuid.NewString(), title, language).
		Scan(&ps.ID, &ps.Title, &ps.Language, &ps.CreatedAt); err != nil {
		return question.PracticeSession{}, fmt.Errorf("question store: create session: %w", err)
	}
	return ps, nil
}

// Sessions returns every practice session in creation order.
func (s *Store) Sessions(ctx context.Context) ([]question.PracticeSession, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, language, created_at
		FROM   practice_sessions
		ORDER  BY created_at, title`)
	if err != nil {
		return nil, fmt.Errorf("question store: sessions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (question.PracticeSession, error) {
		var ps question.PracticeSession
		err := row.Scan(&ps.ID, &ps.Title, &ps.Language, &ps.CreatedAt)
		return ps, err
	})
	if err != nil {
		return nil, fmt.Errorf("question store: scan sessions: %w", err)
	}
	return out, nil
}

// PendingQuestions implements question.Store.
func (s *Store) PendingQuestions(ctx context.Context) ([]question.Question, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, text, difficulty, score, created_at
		FROM   questions
		WHERE  session_id = $1 AND score = 0
		ORDER  BY seq`, s.session.ID)
	if err != nil {
		return nil, fmt.Errorf("question store: pending: %w", err)
	}
	return collectQuestions(rows)
}

// QuestionTexts implements question.Store.
func (s *Store) QuestionTexts(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT text FROM questions WHERE session_id = $1 ORDER BY seq`, s.session.ID)
	if err != nil {
		return nil, fmt.Errorf("question store: texts: %w", err)
	}
	texts, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("question store: scan texts: %w", err)
	}
	if texts == nil {
		texts = []string{}
	}
	return texts, nil
}

// RecordQuestion implements question.Store.
func (s *Store) RecordQuestion(ctx context.Context, text, difficulty string) (question.Question, error) {
	q := question.Question{
		ID:         uuid.NewString(),
		SessionID:  s.session.ID,
		Text:       text,
		Difficulty: difficulty,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO questions (id, session_id, text, difficulty)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`, q.ID, q.SessionID, q.Text, q.Difficulty).Scan(&q.CreatedAt)
	if err != nil {
		return question.Question{}, fmt.Errorf("question store: record question: %w", err)
	}
	return q, nil
}

// RecordScore implements question.Store.
func (s *Store) RecordScore(ctx context.Context, id string, score int) error {
	if err := question.ValidateScore(score); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE questions SET score = $3 WHERE id = $1 AND session_id = $2`, id, s.session.ID, score)
	if err != nil {
		return fmt.Errorf("question store: record score: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("question store: record score %q: %w", id, question.ErrNotFound)
	}
	return nil
}

// SetCurrent implements question.Store.
func (s *Store) SetCurrent(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE practice_sessions SET current_question_id = $2
		WHERE  id = $1
		  AND  EXISTS (SELECT 1 FROM questions WHERE id = $2 AND session_id = $1)`, s.session.ID, id)
	if err != nil {
		return fmt.Errorf("question store: set current: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("question store: set current %q: %w", id, question.ErrNotFound)
	}
	return nil
}

// Current implements question.Store.
func (s *Store) Current(ctx context.Context) (string, bool, error) {
	var id *string
	err := s.pool.QueryRow(ctx, `
		SELECT current_question_id FROM practice_sessions WHERE id = $1`, s.session.ID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("question store: current: %w", question.ErrNotFound)
	}
	if err != nil {
		return "", false, fmt.Errorf("question store: current: %w", err)
	}
	if id == nil {
		return "", false, nil
	}
	return *id, true, nil
}

func collectQuestions(rows pgx.Rows) ([]question.Question, error) {
	qs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (question.Question, error) {
		var (
			q     question.Question
			score int16
		)
		if err := row.Scan(&q.ID, &q.SessionID, &q.Text, &q.Difficulty, &score, &q.CreatedAt); err != nil {
			return question.Question{}, err
		}
		q.Score = int(score)
		return q, nil
	})
	if err != nil {
		return nil, fmt.Errorf("question store: scan rows: %w", err)
	}
	return qs, nil
}
