package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only. No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
	BySession(ctx context.Context, sessionID string) ([]Event, error)
}

// Service records the call record for each session.
//
// Audit is internal-only and best-effort: callers log append failures and
// move on.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.SessionID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// Record appends a typed event for a session.
func (s *Service) Record(ctx context.Context, sessionID string, typ EventType, message string) error {
	return s.Append(ctx, Event{SessionID: sessionID, Type: typ, Message: message})
}

// RecordLeg appends a per-leg event.
func (s *Service) RecordLeg(ctx context.Context, sessionID string, typ EventType, role, callSid, message string) error {
	return s.Append(ctx, Event{
		SessionID: sessionID,
		Type:      typ,
		Role:      role,
		CallSid:   callSid,
		Message:   message,
	})
}

// BySession returns the call record for one session, oldest first.
func (s *Service) BySession(ctx context.Context, sessionID string) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if sessionID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.BySession(ctx, sessionID)
}
