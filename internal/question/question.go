// Package question holds the practice-question model and the store contract
// the tutor reads and appends to.
//
// A store is scoped to one practice session. The tutor never deletes or
// reorders questions; it only reads pending ones, appends newly asked ones
// and attaches scores.
package question

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Score bounds.
const (
	MinScore = 1
	MaxScore = 10
)

var (
	// ErrNotFound is returned when a question or practice session does not
	// exist.
	ErrNotFound = errors.New("question: not found")

	// ErrInvalidScore is returned for scores outside [MinScore, MaxScore].
	ErrInvalidScore = errors.New("question: invalid score")
)

// Question is one question asked by the tutor.
type Question struct {
	ID         string
	SessionID  string
	Text       string
	Difficulty string

	// Score is zero until the question is answered.
	Score int

	CreatedAt time.Time
}

// Pending reports whether the question is still unscored.
func (q Question) Pending() bool { return q.Score == 0 }

// PracticeSession groups the questions of one practice topic.
type PracticeSession struct {
	ID        string
	Title     string
	Language  string
	CreatedAt time.Time
}

// Store is the question store used by the tutor.
//
// Every call reads fresh state; implementations must not hand out slices they
// later mutate. Implementations must be safe for concurrent use.
type Store interface {
	// PendingQuestions returns the unscored questions in insertion order.
	PendingQuestions(ctx context.Context) ([]Question, error)

	// QuestionTexts returns the text of every question, scored or not, in
	// insertion order.
	QuestionTexts(ctx context.Context) ([]string, error)

	// RecordQuestion appends a question and returns it with its generated id.
	RecordQuestion(ctx context.Context, text, difficulty string) (Question, error)

	// RecordScore attaches score to the question with id.
	RecordScore(ctx context.Context, id string, score int) error

	// SetCurrent marks the question with id as the one being asked.
	SetCurrent(ctx context.Context, id string) error

	// Current returns the id of the question being asked, if any.
	Current(ctx context.Context) (string, bool, error)
}

// ValidateScore returns ErrInvalidScore when score is out of range.
func ValidateScore(score int) error {
	if score < MinScore || score > MaxScore {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidScore, score, MinScore, MaxScore)
	}
	return nil
}
