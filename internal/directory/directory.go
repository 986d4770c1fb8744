package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Directory tracks short-lived provider availability state in Redis.
//
// This is a side channel: orchestration outcomes must never depend on it.
// Callers run these operations behind their own error boundary and only log
// failures.
type Directory struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Directory { return &Directory{rdb: rdb} }

var ErrNotConfigured = errors.New("directory: redis client is nil")

func busyKey(providerID string) string {
	return fmt.Sprintf("provider:busy:%s", providerID)
}

// MarkBusy flags the provider busy while a session is in flight. The TTL is
// a safety bound; ClearBusy is the normal release path.
func (d *Directory) MarkBusy(ctx context.Context, providerID string, ttl time.Duration) error {
	if d.rdb == nil {
		return ErrNotConfigured
	}
	if providerID == "" {
		return fmt.Errorf("directory: provider id required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return d.rdb.Set(ctx, busyKey(providerID), "1", ttl).Err()
}

// MarkUnavailableFor puts the provider on cooldown after a no-answer, so
// the matcher skips them until the cooldown lapses. Availability restores
// itself via key expiry; no timer to unwind.
func (d *Directory) MarkUnavailableFor(ctx context.Context, providerID string, cooldown time.Duration) error {
	if d.rdb == nil {
		return ErrNotConfigured
	}
	if providerID == "" {
		return fmt.Errorf("directory: provider id required")
	}
	if cooldown <= 0 {
		return fmt.Errorf("directory: cooldown must be > 0")
	}
	return d.rdb.Set(ctx, busyKey(providerID), "cooldown", cooldown).Err()
}

// ClearBusy releases the busy flag once the provider's session ends.
func (d *Directory) ClearBusy(ctx context.Context, providerID string) error {
	if d.rdb == nil {
		return ErrNotConfigured
	}
	return d.rdb.Del(ctx, busyKey(providerID)).Err()
}

// IsBusy reports whether the provider is currently flagged busy or cooling
// down. Errors are returned for the caller to decide; a failed lookup must
// not block a session.
func (d *Directory) IsBusy(ctx context.Context, providerID string) (bool, error) {
	if d.rdb == nil {
		return false, ErrNotConfigured
	}
	n, err := d.rdb.Exists(ctx, busyKey(providerID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
