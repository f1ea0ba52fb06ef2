// Package postgres provides a PostgreSQL-backed question store.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, "travel", "en-US")
//	if err != nil { … }
//	defer store.Close()
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddl = `
CREATE TABLE IF NOT EXISTS practice_sessions (
    id                  TEXT         PRIMARY KEY,
    title               TEXT         NOT NULL UNIQUE,
    language            TEXT         NOT NULL DEFAULT '',
    current_question_id TEXT,
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS questions (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL REFERENCES practice_sessions (id) ON DELETE CASCADE,
    seq         BIGSERIAL,
    text        TEXT         NOT NULL,
    difficulty  TEXT         NOT NULL DEFAULT '',
    score       SMALLINT     NOT NULL DEFAULT 0 CHECK (score BETWEEN 0 AND 10),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_questions_session_seq
    ON questions (session_id, seq);
`

// Migrate creates the practice_sessions and questions tables if they do not
// exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("question store: migrate: %w", err)
	}
	return nil
}
