package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/MrWong99/lingua/internal/question"
)

// ErrNoCatalog is returned when the question store cannot list practice
// sessions.
var ErrNoCatalog = errors.New("app: question store does not list practice sessions")

// SessionCatalog is implemented by stores that keep several practice
// sessions. Both the memory and the PostgreSQL store do.
type SessionCatalog interface {
	Sessions(ctx context.Context) ([]question.PracticeSession, error)
	Active() question.PracticeSession
}

// PracticeSessions returns every practice session in the store and the id of
// the one questions are filed under.
func (a *App) PracticeSessions(ctx context.Context) ([]question.PracticeSession, string, error) {
	cat, ok := a.store.(SessionCatalog)
	if !ok {
		return nil, "", ErrNoCatalog
	}
	list, err := cat.Sessions(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("app: list practice sessions: %w", err)
	}
	return list, cat.Active().ID, nil
}

// WriteSessions prints list as a table, marking activeID.
func WriteSessions(w io.Writer, list []question.PracticeSession, activeID string) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tTITLE\tLANGUAGE\tCREATED\tID")
	for _, ps := range list {
		mark := ""
		if ps.ID == activeID {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			mark, ps.Title, ps.Language, ps.CreatedAt.Local().Format(time.DateTime), ps.ID)
	}
	return tw.Flush()
}
