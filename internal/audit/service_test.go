package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresSessionAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeSessionCreated}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{SessionID: "s1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.RecordLeg(context.Background(), "s1", EventTypeDialAttempt, "client", "CA1", "attempt 1"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.Record(context.Background(), "s1", EventTypeSessionActive, "both connected"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 2 {
		t.Fatalf("expected 2 events")
	}
	if evs[0].CallSid != "CA1" || evs[0].Role != "client" {
		t.Fatalf("expected leg fields captured")
	}
	if evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamp assigned")
	}

	got, err := svc.BySession(context.Background(), "s1")
	if err != nil || len(got) != 2 {
		t.Fatalf("BySession: %v %d", err, len(got))
	}
}
