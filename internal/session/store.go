package session

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrDuplicate = errors.New("session already exists for request")
	// ErrNoChange aborts a Mutate without writing or failing. Used when an
	// event turns out to be stale once the current state is inspected.
	ErrNoChange = errors.New("no change")
)

// Store persists call sessions.
//
// Mutate is the only write path after creation: implementations must load the
// session under a lock, apply fn, and persist the result in one transaction.
type Store interface {
	Create(ctx context.Context, s CallSession) error
	Get(ctx context.Context, id string) (CallSession, error)

	// FindByCallSid resolves a session by the call sid of either leg's
	// current attempt. Superseded sids do not resolve.
	FindByCallSid(ctx context.Context, callSid string) (CallSession, error)

	// Mutate applies fn to the stored session atomically and returns the
	// resulting state. fn returning ErrNoChange leaves the row untouched
	// and returns the current state with a nil error.
	Mutate(ctx context.Context, id string, fn func(*CallSession) error) (CallSession, error)

	Delete(ctx context.Context, id string) error
}
