package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"callbridge/pkg/utils"
)

// PostgresStore persists tasks in a single table. Claiming uses
// FOR UPDATE SKIP LOCKED so concurrent workers never double-claim.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			attempt INTEGER NOT NULL DEFAULT 0,
			run_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_due ON scheduled_tasks (run_at) WHERE status = 'pending';`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_session ON scheduled_tasks (session_id, kind) WHERE status = 'pending';`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("scheduler schema init: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Schedule(ctx context.Context, t Task) error {
	const q = `
INSERT INTO scheduled_tasks (id, session_id, kind, role, attempt, run_at, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`
	_, err := s.db.ExecContext(ctx, q,
		t.ID,
		t.SessionID,
		string(t.Kind),
		t.Role,
		t.Attempt,
		t.RunAt,
		string(t.Status),
		t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) Claim(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []Task
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `
SELECT id, session_id, kind, role, attempt, run_at, status, created_at
FROM scheduled_tasks
WHERE status = 'pending' AND run_at <= $1
ORDER BY run_at
LIMIT $2
FOR UPDATE SKIP LOCKED
`
		rows, err := tx.QueryContext(ctx, sel, now, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var t Task
			if err := rows.Scan(&t.ID, &t.SessionID, &t.Kind, &t.Role, &t.Attempt, &t.RunAt, &t.Status, &t.CreatedAt); err != nil {
				return err
			}
			out = append(out, t)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		const upd = `UPDATE scheduled_tasks SET status = 'claimed' WHERE id = $1`
		for _, t := range out {
			if _, err := tx.ExecContext(ctx, upd, t.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) Finish(ctx context.Context, id string, status TaskStatus) error {
	const q = `UPDATE scheduled_tasks SET status = $2 WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id, string(status))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (s *PostgresStore) CancelForSession(ctx context.Context, sessionID string, kind Kind) error {
	const q = `
UPDATE scheduled_tasks SET status = 'cancelled'
WHERE session_id = $1 AND kind = $2 AND status = 'pending'
`
	_, err := s.db.ExecContext(ctx, q, sessionID, string(kind))
	return err
}
