package events

import "context"

// Guard provides exactly-once admission for inbound webhook events.
//
// MarkProcessed records the event key if it is not already present and
// reports whether this call was the first to do so. The check and the
// insert are a single atomic operation.
//
// A storage error means the event's fate is unknown; callers must surface
// it as retryable (HTTP 500) and must never treat it as a duplicate.
//
// Forget removes an admission. Admission happens before the session
// mutation commits, so when that mutation fails the caller must forget the
// key; otherwise the sender's retried delivery would be swallowed as a
// duplicate and the event lost.
type Guard interface {
	MarkProcessed(ctx context.Context, key, sessionID string) (first bool, err error)
	Forget(ctx context.Context, key string) error
}
