package pricing

import (
	"context"
	"time"
)

// MemoryRepo is a simple in-memory repository useful for tests and early
// development. Exact category matches only.
type MemoryRepo struct {
	Policies []FeePolicy
}

func (r *MemoryRepo) FindFeePolicy(ctx context.Context, serviceCategory string, at time.Time) (FeePolicy, bool, error) {
	_ = ctx

	// Prefer the most recent effective policy row.
	var best FeePolicy
	found := false

	for _, p := range r.Policies {
		if p.ServiceCategory != serviceCategory {
			continue
		}
		if p.Status != PolicyStatusActive {
			continue
		}
		if at.Before(p.EffectiveFrom) {
			continue
		}
		if p.EffectiveTo != nil && !at.Before(*p.EffectiveTo) {
			continue
		}

		if !found || p.EffectiveFrom.After(best.EffectiveFrom) {
			best = p
			found = true
		}
	}

	return best, found, nil
}
