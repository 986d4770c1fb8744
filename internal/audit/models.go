package audit

import "time"

// Event is an immutable, append-only call record entry.
//
// Invariants:
// - Events are never updated or deleted.
// - Audit writes are best-effort; session processing never blocks on them.
//
// Storage (Postgres):
// - Table call_audit_events with an INSERT-only policy.
// - Optional: partition by time for retention.

type Event struct {
	ID string `json:"id" db:"id"`

	// Type indicates the business category of the record.
	Type EventType `json:"type" db:"type"`

	SessionID string `json:"session_id" db:"session_id"`

	// Role and CallSid identify the leg for per-leg events.
	Role    string `json:"role,omitempty" db:"role"`
	CallSid string `json:"call_sid,omitempty" db:"call_sid"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeSessionCreated   EventType = "session_created"
	EventTypeDialAttempt      EventType = "dial_attempt"
	EventTypeAMDResult        EventType = "amd_result"
	EventTypeSessionActive    EventType = "session_active"
	EventTypeSessionCompleted EventType = "session_completed"
	EventTypeSessionFailed    EventType = "session_failed"
	EventTypeSessionCancelled EventType = "session_cancelled"
	EventTypeForcedEnd        EventType = "forced_end"
	EventTypeStaleEvent       EventType = "stale_event"
	EventTypePaymentCaptured  EventType = "payment_captured"
	EventTypePaymentRefunded  EventType = "payment_refunded"
	EventTypePaymentCancelled EventType = "payment_cancelled"
)
