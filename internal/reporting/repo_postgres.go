package reporting

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"callbridge/internal/session"
)

// PostgresRepo reads session documents out of the same table the session
// store writes. Read-only; all writes go through session.PostgresStore.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListSessions(ctx context.Context, from, to time.Time, providerID string) ([]session.CallSession, error) {
	q := `
SELECT doc FROM call_sessions
WHERE created_at >= $1 AND created_at < $2
`
	args := []any{from, to}
	if providerID != "" {
		q += ` AND doc->'metadata'->>'provider_id' = $3`
		args = append(args, providerID)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []session.CallSession
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var cs session.CallSession
		if err := json.Unmarshal(doc, &cs); err != nil {
			return nil, fmt.Errorf("session document decode: %w", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
