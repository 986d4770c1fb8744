package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"callbridge/pkg/utils"
)

// PostgresStore stores each session as a JSONB document plus a few indexed
// columns for lookups. The document is the source of truth; the columns are
// rewritten from it on every update.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

// InitSchema creates the session tables if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_sessions (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			request_id TEXT NOT NULL,
			client_call_sid TEXT NOT NULL DEFAULT '',
			provider_call_sid TEXT NOT NULL DEFAULT '',
			doc JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_call_sessions_request ON call_sessions (request_id);`,
		`CREATE INDEX IF NOT EXISTS idx_call_sessions_client_sid ON call_sessions (client_call_sid) WHERE client_call_sid <> '';`,
		`CREATE INDEX IF NOT EXISTS idx_call_sessions_provider_sid ON call_sessions (provider_call_sid) WHERE provider_call_sid <> '';`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("session schema init: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, cs CallSession) error {
	doc, err := json.Marshal(cs)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_sessions (id, status, request_id, client_call_sid, provider_call_sid, doc, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT DO NOTHING
`
	res, err := s.db.ExecContext(ctx, q,
		cs.ID,
		string(cs.Status),
		cs.Metadata.RequestID,
		cs.Client.CallSid,
		cs.Provider.CallSid,
		doc,
		cs.Metadata.CreatedAt,
		cs.Metadata.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (CallSession, error) {
	const q = `SELECT doc FROM call_sessions WHERE id = $1`
	return scanSession(s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStore) FindByCallSid(ctx context.Context, callSid string) (CallSession, error) {
	if callSid == "" {
		return CallSession{}, ErrNotFound
	}
	const q = `SELECT doc FROM call_sessions WHERE client_call_sid = $1 OR provider_call_sid = $1 LIMIT 1`
	return scanSession(s.db.QueryRowContext(ctx, q, callSid))
}

func (s *PostgresStore) Mutate(ctx context.Context, id string, fn func(*CallSession) error) (CallSession, error) {
	var out CallSession
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const sel = `SELECT doc FROM call_sessions WHERE id = $1 FOR UPDATE`
		cs, err := scanSession(tx.QueryRowContext(ctx, sel, id))
		if err != nil {
			return err
		}

		if err := fn(&cs); err != nil {
			if errors.Is(err, ErrNoChange) {
				out = cs
				return nil
			}
			return err
		}
		cs.Metadata.UpdatedAt = s.clock().UTC()

		doc, err := json.Marshal(cs)
		if err != nil {
			return err
		}
		const upd = `
UPDATE call_sessions
SET status = $2, client_call_sid = $3, provider_call_sid = $4, doc = $5, updated_at = $6
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd,
			cs.ID,
			string(cs.Status),
			cs.Client.CallSid,
			cs.Provider.CallSid,
			doc,
			cs.Metadata.UpdatedAt,
		); err != nil {
			return err
		}
		out = cs
		return nil
	})
	if err != nil {
		return CallSession{}, err
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM call_sessions WHERE id = $1`
	res, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (CallSession, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, err
	}
	var cs CallSession
	if err := json.Unmarshal(doc, &cs); err != nil {
		return CallSession{}, fmt.Errorf("session document decode: %w", err)
	}
	return cs, nil
}
