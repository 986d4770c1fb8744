package events

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryGuardFirstThenDuplicate(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	first, err := g.MarkProcessed(ctx, "leg_CA1_completed", "s1")
	if err != nil || !first {
		t.Fatalf("expected first=true, got %v %v", first, err)
	}
	first, err = g.MarkProcessed(ctx, "leg_CA1_completed", "s1")
	if err != nil || first {
		t.Fatalf("expected duplicate, got %v %v", first, err)
	}
}

func TestMemoryGuardFailureIsNotDuplicate(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	boom := errors.New("storage down")
	g.FailNext(boom)
	first, err := g.MarkProcessed(ctx, "leg_CA1_completed", "s1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected error, got %v", err)
	}
	if first {
		t.Fatalf("a failed check must not admit the event")
	}

	// After the failure the event was never recorded; a retry is first.
	first, err = g.MarkProcessed(ctx, "leg_CA1_completed", "s1")
	if err != nil || !first {
		t.Fatalf("retry after failure must process, got %v %v", first, err)
	}
}

func TestMemoryGuardForgetReadmits(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	if first, err := g.MarkProcessed(ctx, "leg_CA1_completed", "s1"); err != nil || !first {
		t.Fatalf("expected first=true, got %v %v", first, err)
	}
	if err := g.Forget(ctx, "leg_CA1_completed"); err != nil {
		t.Fatalf("forget: %v", err)
	}

	// After a rollback the redelivery is first again, not a duplicate.
	if first, err := g.MarkProcessed(ctx, "leg_CA1_completed", "s1"); err != nil || !first {
		t.Fatalf("redelivery after forget must process, got %v %v", first, err)
	}
}

func TestMemoryGuardRejectsEmptyKey(t *testing.T) {
	g := NewMemoryGuard()
	if _, err := g.MarkProcessed(context.Background(), "", "s1"); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
