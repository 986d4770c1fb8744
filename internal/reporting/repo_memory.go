package reporting

import (
	"context"
	"sync"
	"time"

	"callbridge/internal/session"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early
// development.

type MemoryRepo struct {
	mu sync.Mutex

	Sessions []session.CallSession
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListSessions(ctx context.Context, from, to time.Time, providerID string) ([]session.CallSession, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]session.CallSession, 0)
	for _, cs := range r.Sessions {
		if !cs.Metadata.CreatedAt.IsZero() {
			if cs.Metadata.CreatedAt.Before(from) || !cs.Metadata.CreatedAt.Before(to) {
				continue
			}
		}
		if providerID != "" && cs.Metadata.ProviderID != providerID {
			continue
		}
		out = append(out, cs)
	}
	return out, nil
}
