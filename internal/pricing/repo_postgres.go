package pricing

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRepo reads fee policies from Postgres. Policies are managed out
// of band (migrations, admin tooling); this repo only looks them up.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) InitSchema(ctx context.Context) error {
	const q = `CREATE TABLE IF NOT EXISTS fee_policies (
		id TEXT PRIMARY KEY,
		service_category TEXT NOT NULL,
		currency TEXT NOT NULL,
		platform_fee_basis_points INT NOT NULL,
		min_platform_fee_minor BIGINT NOT NULL DEFAULT 0,
		effective_from TIMESTAMPTZ NOT NULL,
		effective_to TIMESTAMPTZ,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`
	if _, err := r.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("pricing schema init: %w", err)
	}
	return nil
}

func (r *PostgresRepo) FindFeePolicy(ctx context.Context, serviceCategory string, at time.Time) (FeePolicy, bool, error) {
	const q = `
SELECT id, service_category, currency, platform_fee_basis_points, min_platform_fee_minor,
       effective_from, effective_to, status, created_at, updated_at
FROM fee_policies
WHERE service_category = $1
  AND status = $2
  AND effective_from <= $3
  AND (effective_to IS NULL OR effective_to > $3)
ORDER BY effective_from DESC
LIMIT 1
`
	var p FeePolicy
	err := r.db.QueryRowContext(ctx, q, serviceCategory, string(PolicyStatusActive), at).Scan(
		&p.ID,
		&p.ServiceCategory,
		&p.Currency,
		&p.PlatformFeeBasisPoints,
		&p.MinPlatformFeeMinor,
		&p.EffectiveFrom,
		&p.EffectiveTo,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return FeePolicy{}, false, nil
	}
	if err != nil {
		return FeePolicy{}, false, err
	}
	return p, true, nil
}
