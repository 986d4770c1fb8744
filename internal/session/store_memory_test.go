package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newSession(id, requestID string) CallSession {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return CallSession{
		ID:       id,
		Status:   StatusScheduled,
		Client:   Participant{Phone: "+15550001111", Status: ParticipantIdle},
		Provider: Participant{Phone: "+15550002222", Status: ParticipantIdle},
		Metadata: Metadata{
			RequestID: requestID,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

func TestMemoryStoreCreateRejectsDuplicateRequest(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	if err := st.Create(ctx, newSession("s1", "req1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := st.Create(ctx, newSession("s2", "req1")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestMemoryStoreMutate(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	st.SetClock(func() time.Time { return time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC) })

	if err := st.Create(ctx, newSession("s1", "req1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	out, err := st.Mutate(ctx, "s1", func(cs *CallSession) error {
		cs.Client.CallSid = "CA1"
		cs.Client.Status = ParticipantCalling
		cs.Status = StatusCalling
		return nil
	})
	if err != nil {
		t.Fatalf("mutate failed: %v", err)
	}
	if out.Client.CallSid != "CA1" || out.Status != StatusCalling {
		t.Fatalf("mutation not applied: %+v", out)
	}
	if !out.Metadata.UpdatedAt.Equal(time.Date(2025, 6, 1, 12, 5, 0, 0, time.UTC)) {
		t.Fatalf("updated_at not bumped: %v", out.Metadata.UpdatedAt)
	}

	got, err := st.FindByCallSid(ctx, "CA1")
	if err != nil || got.ID != "s1" {
		t.Fatalf("FindByCallSid: %v %+v", err, got)
	}
}

func TestMemoryStoreMutateNoChange(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	if err := st.Create(ctx, newSession("s1", "req1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	before, _ := st.Get(ctx, "s1")
	out, err := st.Mutate(ctx, "s1", func(cs *CallSession) error {
		cs.Status = StatusActive // must be discarded
		return ErrNoChange
	})
	if err != nil {
		t.Fatalf("ErrNoChange must not surface: %v", err)
	}
	_ = out

	after, _ := st.Get(ctx, "s1")
	if after.Status != before.Status {
		t.Fatalf("no-change mutate persisted a write: %s", after.Status)
	}
}

func TestMemoryStoreMutateErrorDiscardsWrite(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	if err := st.Create(ctx, newSession("s1", "req1")); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	boom := errors.New("boom")
	if _, err := st.Mutate(ctx, "s1", func(cs *CallSession) error {
		cs.Status = StatusActive
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := st.Get(ctx, "s1")
	if got.Status != StatusScheduled {
		t.Fatalf("failed mutate persisted a write: %s", got.Status)
	}
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	st := NewMemoryStore()
	if _, err := st.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := st.Delete(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
