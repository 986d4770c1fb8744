package payment

import (
	"context"
	"sync"
)

// Action records one call made against the FakeGateway.
type Action struct {
	Op       string // capture, refund, cancel
	IntentID string
	Reason   string
}

// FakeGateway is a recording Gateway for tests.
type FakeGateway struct {
	mu      sync.Mutex
	actions []Action

	// Err, when set, is returned by every call.
	Err error
}

func NewFakeGateway() *FakeGateway { return &FakeGateway{} }

func (f *FakeGateway) Capture(ctx context.Context, intentID string) error {
	return f.record(Action{Op: "capture", IntentID: intentID})
}

func (f *FakeGateway) Refund(ctx context.Context, intentID, reason string) error {
	return f.record(Action{Op: "refund", IntentID: intentID, Reason: reason})
}

func (f *FakeGateway) Cancel(ctx context.Context, intentID, reason string) error {
	return f.record(Action{Op: "cancel", IntentID: intentID, Reason: reason})
}

func (f *FakeGateway) record(a Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.actions = append(f.actions, a)
	return nil
}

func (f *FakeGateway) Actions() []Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Action, len(f.actions))
	copy(out, f.actions)
	return out
}
