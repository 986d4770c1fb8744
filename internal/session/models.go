package session

import "time"

// CallSession is the authoritative record for one orchestrated two-leg call.
//
// Invariants:
// - All mutations go through Store.Mutate (single atomic read-modify-write).
// - Participant.ConnectedAt, once set, is never overwritten.
// - Payment.DecisionMade is set in the same mutation as the terminal status.
type CallSession struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	Client   Participant `json:"client"`
	Provider Participant `json:"provider"`

	Conference Conference `json:"conference"`
	Payment    Payment    `json:"payment"`

	// BillingSeconds is the both-connected overlap, rounded to whole seconds.
	BillingSeconds int `json:"billing_seconds"`

	Metadata Metadata `json:"metadata"`
}

type Status string

const (
	StatusScheduled          Status = "scheduled"
	StatusCalling            Status = "calling"
	StatusClientConnecting   Status = "client_connecting"
	StatusProviderConnecting Status = "provider_connecting"
	StatusBothConnecting     Status = "both_connecting"
	StatusActive             Status = "active"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// IsTerminal reports whether no further orchestration may touch the session.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Connecting reports whether the session is still in a pre-active phase.
func (s Status) Connecting() bool {
	switch s {
	case StatusScheduled, StatusCalling, StatusClientConnecting, StatusProviderConnecting, StatusBothConnecting:
		return true
	default:
		return false
	}
}

type Role string

const (
	RoleClient   Role = "client"
	RoleProvider Role = "provider"
)

func (r Role) Valid() bool { return r == RoleClient || r == RoleProvider }

type Participant struct {
	Phone  string            `json:"phone"`
	Status ParticipantStatus `json:"status"`

	// CallSid identifies the current leg attempt at the telephony provider.
	// Rebound on every retry; events carrying an older sid are stale.
	CallSid string `json:"call_sid,omitempty"`

	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`

	AttemptCount int `json:"attempt_count"`
}

type ParticipantStatus string

const (
	ParticipantIdle         ParticipantStatus = "idle"
	ParticipantCalling      ParticipantStatus = "calling"
	ParticipantRinging      ParticipantStatus = "ringing"
	ParticipantAMDPending   ParticipantStatus = "amd_pending"
	ParticipantConnected    ParticipantStatus = "connected"
	ParticipantNoAnswer     ParticipantStatus = "no_answer"
	ParticipantDisconnected ParticipantStatus = "disconnected"
)

type Conference struct {
	// Sid is recorded only by conference-start and participant-join events.
	Sid  string `json:"sid,omitempty"`
	Name string `json:"name"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	DurationSeconds int `json:"duration_seconds"`
}

type Payment struct {
	IntentID string        `json:"intent_id"`
	Status   PaymentStatus `json:"status"`

	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`

	RefundReason string `json:"refund_reason,omitempty"`

	// DecisionMade guards the capture/refund/cancel decision. One-shot.
	DecisionMade bool `json:"decision_made"`

	// Split of a captured amount, recorded alongside the capture.
	ProviderPayoutMinor int64 `json:"provider_payout_minor,omitempty"`
	PlatformFeeMinor    int64 `json:"platform_fee_minor,omitempty"`
}

type PaymentStatus string

const (
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentRefunded   PaymentStatus = "refunded"
	PaymentCancelled  PaymentStatus = "cancelled"
)

type Metadata struct {
	ProviderID string `json:"provider_id"`
	ClientID   string `json:"client_id"`

	// RequestID deduplicates session creation.
	RequestID string `json:"request_id"`

	ServiceCategory string `json:"service_category,omitempty"`

	// MaxDurationSeconds bounds the conference; the safety timer fires
	// at MaxDurationSeconds plus a grace period.
	MaxDurationSeconds int `json:"max_duration_seconds"`

	// ProviderMarkedBusy makes the provider-availability side effect one-shot.
	ProviderMarkedBusy bool `json:"provider_marked_busy,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant returns a pointer into the session for the given role.
func (s *CallSession) Participant(role Role) *Participant {
	if role == RoleProvider {
		return &s.Provider
	}
	return &s.Client
}

// RoleOfCallSid resolves which leg a call sid currently belongs to.
func (s *CallSession) RoleOfCallSid(sid string) (Role, bool) {
	if sid == "" {
		return "", false
	}
	if s.Client.CallSid == sid {
		return RoleClient, true
	}
	if s.Provider.CallSid == sid {
		return RoleProvider, true
	}
	return "", false
}

// BothConnected reports whether both legs are currently connected.
func (s *CallSession) BothConnected() bool {
	return s.Client.Status == ParticipantConnected && s.Provider.Status == ParticipantConnected
}

// EverBridged reports whether both legs connected at some point, regardless
// of their current state. This is the completed-vs-failed test once a
// session ends.
func (s *CallSession) EverBridged() bool {
	return s.Client.ConnectedAt != nil && s.Provider.ConnectedAt != nil
}

// RecomputeStatus derives the session status from leg states while the
// session is in a connecting phase. Terminal statuses are never changed here.
func (s *CallSession) RecomputeStatus() {
	if s.Status.IsTerminal() {
		return
	}
	cc := s.Client.Status == ParticipantConnected
	pc := s.Provider.Status == ParticipantConnected
	cd := dialing(s.Client.Status)
	pd := dialing(s.Provider.Status)
	switch {
	case cc && pc:
		s.Status = StatusActive
	case cd && pd:
		s.Status = StatusBothConnecting
	case cc && pd:
		s.Status = StatusProviderConnecting
	case pc && cd:
		s.Status = StatusClientConnecting
	case cd:
		s.Status = StatusClientConnecting
	case pd:
		s.Status = StatusProviderConnecting
	}
}

func dialing(st ParticipantStatus) bool {
	switch st {
	case ParticipantCalling, ParticipantRinging, ParticipantAMDPending:
		return true
	default:
		return false
	}
}
