package payment

import (
	"context"
	"errors"
)

var (
	ErrNotFound        = errors.New("payment intent not found")
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAlreadyFinal is returned when the intent is already in the state
	// the call would produce. Callers may treat it as success.
	ErrAlreadyFinal = errors.New("payment intent already finalized")
)

// Gateway captures, refunds, or cancels a previously authorized payment
// intent. All three operations are idempotent at the processor.
type Gateway interface {
	Capture(ctx context.Context, intentID string) error
	Refund(ctx context.Context, intentID, reason string) error
	Cancel(ctx context.Context, intentID, reason string) error
}
