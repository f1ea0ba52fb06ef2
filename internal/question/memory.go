package question

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. It keeps several practice sessions and
// serves the selected one.
type MemoryStore struct {
	mu        sync.Mutex
	sessions  []PracticeSession
	questions map[string][]Question
	current   map[string]string
	active    string
	now       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store with one practice session titled title,
// which becomes the active session.
func NewMemoryStore(title, language string) *MemoryStore {
	s := &MemoryStore{
		questions: make(map[string][]Question),
		current:   make(map[string]string),
		now:       time.Now,
	}
	ps, _ := s.CreateSession(context.Background(), title, language)
	s.active = ps.ID
	return s
}

// CreateSession adds a practice session. The active session is unchanged.
func (s *MemoryStore) CreateSession(_ context.Context, title, language string) (PracticeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := PracticeSession{ID: uuid.NewString(), Title: title, Language: language, CreatedAt: s.now()}
	s.sessions = append(s.sessions, ps)
	return ps, nil
}

// Sessions returns all practice sessions in creation order.
func (s *MemoryStore) Sessions(_ context.Context) ([]PracticeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PracticeSession(nil), s.sessions...), nil
}

// Use makes the practice session with id the active one.
func (s *MemoryStore) Use(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ps := range s.sessions {
		if ps.ID == id {
			s.active = id
			return nil
		}
	}
	return fmt.Errorf("question store: use %q: %w", id, ErrNotFound)
}

// Active returns the active practice session.
func (s *MemoryStore) Active() PracticeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ps := range s.sessions {
		if ps.ID == s.active {
			return ps
		}
	}
	return PracticeSession{}
}

// PendingQuestions implements Store.
func (s *MemoryStore) PendingQuestions(_ context.Context) ([]Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Question
	for _, q := range s.questions[s.active] {
		if q.Pending() {
			out = append(out, q)
		}
	}
	return out, nil
}

// Questions returns every question of the active session in insertion order.
func (s *MemoryStore) Questions(_ context.Context) ([]Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Question(nil), s.questions[s.active]...), nil
}

// QuestionTexts implements Store.
func (s *MemoryStore) QuestionTexts(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := s.questions[s.active]
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		out = append(out, q.Text)
	}
	return out, nil
}

// RecordQuestion implements Store.
func (s *MemoryStore) RecordQuestion(_ context.Context, text, difficulty string) (Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := Question{
		ID:         uuid.NewString(),
		SessionID:  s.active,
		Text:       text,
		Difficulty: difficulty,
		CreatedAt:  s.now(),
	}
	s.questions[s.active] = append(s.questions[s.active], q)
	return q, nil
}

// RecordScore implements Store.
func (s *MemoryStore) RecordScore(_ context.Context, id string, score int) error {
	if err := ValidateScore(score); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	qs := s.questions[s.active]
	for i := range qs {
		if qs[i].ID == id {
			qs[i].Score = score
			return nil
		}
	}
	return fmt.Errorf("question store: record score %q: %w", id, ErrNotFound)
}

// SetCurrent implements Store.
func (s *MemoryStore) SetCurrent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range s.questions[s.active] {
		if q.ID == id {
			s.current[s.active] = id
			return nil
		}
	}
	return fmt.Errorf("question store: set current %q: %w", id, ErrNotFound)
}

// Current implements Store.
func (s *MemoryStore) Current(_ context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.current[s.active]
	return id, ok, nil
}

// Seed appends texts as pending questions. It is meant for tests and for
// importing a question list.
func (s *MemoryStore) Seed(ctx context.Context, difficulty string, texts ...string) ([]Question, error) {
	out := make([]Question, 0, len(texts))
	for _, t := range texts {
		q, err := s.RecordQuestion(ctx, t, difficulty)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}
