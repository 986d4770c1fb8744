package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresGuard implements Guard on a processed_events table. The unique
// primary key makes insert-if-absent atomic without an explicit lock.
type PostgresGuard struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresGuard(db *sql.DB) *PostgresGuard {
	return &PostgresGuard{db: db, clock: time.Now}
}

func (g *PostgresGuard) InitSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS processed_events (
	event_key TEXT PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	processed_at TIMESTAMPTZ NOT NULL
);`
	if _, err := g.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("processed_events schema init: %w", err)
	}
	return nil
}

func (g *PostgresGuard) MarkProcessed(ctx context.Context, key, sessionID string) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("event key is required")
	}
	const q = `
INSERT INTO processed_events (event_key, session_id, processed_at)
VALUES ($1, $2, $3)
ON CONFLICT (event_key) DO NOTHING
`
	res, err := g.db.ExecContext(ctx, q, key, sessionID, g.clock().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (g *PostgresGuard) Forget(ctx context.Context, key string) error {
	const q = `DELETE FROM processed_events WHERE event_key = $1`
	_, err := g.db.ExecContext(ctx, q, key)
	return err
}
