package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/directory"
	"callbridge/internal/events"
	"callbridge/internal/observability"
	"callbridge/internal/payment"
	"callbridge/internal/pricing"
	"callbridge/internal/scheduler"
	"callbridge/internal/session"
	"callbridge/internal/telephony"
	"callbridge/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Engine drives call sessions from creation to the payment decision.
//
// All session state changes go through session.Store.Mutate; external side
// effects (telephony, payment, timers) run after the mutation commits, with
// the mutation recording enough state to keep them one-shot.
type Engine struct {
	store    session.Store
	guard    events.Guard
	gateway  telephony.Gateway
	payments payment.Gateway
	fees     *pricing.Service
	dir      *directory.Directory
	auditor  *audit.Service
	tasks    scheduler.Store
	metrics  *observability.Metrics
	rdb      *redis.Client
	log      *slog.Logger

	cfg   Config
	clock func() time.Time
}

type Config struct {
	// PublicBaseURL is the externally reachable base for webhook and TwiML
	// URLs handed to the telephony provider.
	PublicBaseURL string

	// CallerID is the outbound caller id (E.164).
	CallerID string

	MaxRetries         int
	RingTimeoutSeconds int

	// MinBillableSeconds is the capture threshold, compared inclusively.
	MinBillableSeconds int

	MaxConcurrentSessions int
	ConcurrencyKey        string
	ConcurrencyTTL        time.Duration

	DefaultMaxDurationSeconds int

	// ForceEndGrace is added to the session max duration for the safety
	// timer.
	ForceEndGrace time.Duration

	RetryBaseDelay time.Duration
	RetryStepDelay time.Duration

	ProviderCooldown time.Duration

	HoldMusicURL string
}

func (c Config) withDefaults() Config {
	out := c
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.RingTimeoutSeconds <= 0 {
		out.RingTimeoutSeconds = 60
	}
	if out.MinBillableSeconds <= 0 {
		out.MinBillableSeconds = 60
	}
	if out.MaxConcurrentSessions <= 0 {
		out.MaxConcurrentSessions = 50
	}
	if out.ConcurrencyKey == "" {
		out.ConcurrencyKey = "sessions:active"
	}
	if out.ConcurrencyTTL <= 0 {
		out.ConcurrencyTTL = 2 * time.Hour
	}
	if out.DefaultMaxDurationSeconds <= 0 {
		out.DefaultMaxDurationSeconds = 3600
	}
	if out.ForceEndGrace <= 0 {
		out.ForceEndGrace = 10 * time.Minute
	}
	if out.RetryBaseDelay <= 0 {
		out.RetryBaseDelay = 15 * time.Second
	}
	if out.RetryStepDelay <= 0 {
		out.RetryStepDelay = 5 * time.Second
	}
	if out.ProviderCooldown <= 0 {
		out.ProviderCooldown = 30 * time.Minute
	}
	return out
}

type Deps struct {
	Store    session.Store
	Guard    events.Guard
	Gateway  telephony.Gateway
	Payments payment.Gateway
	Fees     *pricing.Service
	Dir      *directory.Directory
	Auditor  *audit.Service
	Tasks    scheduler.Store
	Metrics  *observability.Metrics
	Redis    *redis.Client
	Log      *slog.Logger
}

func New(d Deps, cfg Config) (*Engine, error) {
	if d.Store == nil || d.Guard == nil || d.Gateway == nil || d.Payments == nil || d.Tasks == nil {
		return nil, errors.New("orchestrator: store, guard, gateway, payments and tasks are required")
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    d.Store,
		guard:    d.Guard,
		gateway:  d.Gateway,
		payments: d.Payments,
		fees:     d.Fees,
		dir:      d.Dir,
		auditor:  d.Auditor,
		tasks:    d.Tasks,
		metrics:  d.Metrics,
		rdb:      d.Redis,
		log:      log,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
	}, nil
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(clock func() time.Time) { e.clock = clock }

var (
	ErrInvalidRequest  = errors.New("orchestrator: invalid request")
	ErrTooManySessions = errors.New("orchestrator: concurrent session limit reached")
	ErrSessionTerminal = errors.New("orchestrator: session already terminal")
)

// CreateRequest describes a new session.
type CreateRequest struct {
	RequestID string `json:"request_id"`

	ClientID   string `json:"client_id"`
	ProviderID string `json:"provider_id"`

	ClientPhone   string `json:"client_phone"`
	ProviderPhone string `json:"provider_phone"`

	PaymentIntentID string `json:"payment_intent_id"`
	AmountMinor     int64  `json:"amount_minor"`
	Currency        string `json:"currency"`

	ServiceCategory string `json:"service_category,omitempty"`

	MaxDurationSeconds int `json:"max_duration_seconds,omitempty"`
}

func (r CreateRequest) validate() error {
	switch {
	case r.RequestID == "",
		r.ClientID == "", r.ProviderID == "",
		r.ClientPhone == "", r.ProviderPhone == "",
		r.PaymentIntentID == "",
		r.AmountMinor <= 0, r.Currency == "":
		return ErrInvalidRequest
	}
	return nil
}

// CreateSession stores a new session and places the client leg.
//
// Duplicate request ids fail with session.ErrDuplicate. The global
// concurrency cap is acquired before the write and released when the
// session reaches a terminal state.
func (e *Engine) CreateSession(ctx context.Context, req CreateRequest) (session.CallSession, error) {
	if err := req.validate(); err != nil {
		return session.CallSession{}, err
	}

	if e.dir != nil {
		// Non-blocking: a busy provider is a warning, not a rejection.
		if busy, err := e.dir.IsBusy(ctx, req.ProviderID); err != nil {
			e.log.Warn("provider availability check failed", "provider_id", req.ProviderID, "err", err)
		} else if busy {
			e.log.Warn("provider flagged busy, proceeding", "provider_id", req.ProviderID)
		}
	}

	if e.rdb != nil {
		ok, err := utils.AcquireConcurrencyCap(ctx, e.rdb, e.cfg.ConcurrencyKey, e.cfg.MaxConcurrentSessions, e.cfg.ConcurrencyTTL)
		if err != nil {
			return session.CallSession{}, fmt.Errorf("session cap acquire: %w", err)
		}
		if !ok {
			return session.CallSession{}, ErrTooManySessions
		}
	}

	now := e.clock().UTC()
	maxDuration := req.MaxDurationSeconds
	if maxDuration <= 0 {
		maxDuration = e.cfg.DefaultMaxDurationSeconds
	}

	cs := session.CallSession{
		ID:     uuid.NewString(),
		Status: session.StatusScheduled,
		Client: session.Participant{
			Phone:  req.ClientPhone,
			Status: session.ParticipantIdle,
		},
		Provider: session.Participant{
			Phone:  req.ProviderPhone,
			Status: session.ParticipantIdle,
		},
		Payment: session.Payment{
			IntentID:    req.PaymentIntentID,
			Status:      session.PaymentAuthorized,
			AmountMinor: req.AmountMinor,
			Currency:    req.Currency,
		},
		Metadata: session.Metadata{
			ProviderID:         req.ProviderID,
			ClientID:           req.ClientID,
			RequestID:          req.RequestID,
			ServiceCategory:    req.ServiceCategory,
			MaxDurationSeconds: maxDuration,
			CreatedAt:          now,
			UpdatedAt:          now,
		},
	}
	cs.Conference.Name = telephony.ConferenceNameFor(cs.ID, now)

	if err := e.store.Create(ctx, cs); err != nil {
		e.releaseCap(ctx)
		return session.CallSession{}, err
	}

	e.audit(ctx, cs.ID, audit.EventTypeSessionCreated, "session created")
	if e.metrics != nil {
		e.metrics.SessionsStarted.Inc()
		e.metrics.ActiveSessions.Inc()
	}

	if e.dir != nil {
		if err := e.dir.MarkBusy(ctx, req.ProviderID, time.Duration(maxDuration)*time.Second+e.cfg.ForceEndGrace); err != nil {
			e.log.Warn("provider busy flag failed", "provider_id", req.ProviderID, "err", err)
		}
	}

	if err := e.dialLeg(ctx, cs.ID, session.RoleClient, 1); err != nil {
		// The session exists; the first attempt failed to start. Fail it
		// through the normal path so the payment is released.
		e.log.Error("client dial failed", "session_id", cs.ID, "err", err)
		if _, ferr := e.failSession(ctx, cs.ID, "client_dial_failed"); ferr != nil {
			e.log.Error("session fail after dial error", "session_id", cs.ID, "err", ferr)
		}
		return session.CallSession{}, err
	}

	out, err := e.store.Get(ctx, cs.ID)
	if err != nil {
		return cs, nil
	}
	return out, nil
}

// CancelSession cancels a session that has not completed. Live legs are
// hung up and the payment decision is made through the same one-shot path.
func (e *Engine) CancelSession(ctx context.Context, id string) (session.CallSession, error) {
	var dec decision
	var sids []string

	out, err := e.store.Mutate(ctx, id, func(cs *session.CallSession) error {
		if cs.Status.IsTerminal() {
			return ErrSessionTerminal
		}
		for _, p := range []*session.Participant{&cs.Client, &cs.Provider} {
			if p.CallSid != "" && p.Status != session.ParticipantDisconnected && p.Status != session.ParticipantNoAnswer {
				sids = append(sids, p.CallSid)
			}
		}
		now := e.clock().UTC()
		cs.BillingSeconds = BillableSeconds(
			cs.Client.ConnectedAt, cs.Provider.ConnectedAt,
			cs.Client.DisconnectedAt, cs.Provider.DisconnectedAt,
			&now,
		)
		cs.Status = session.StatusCancelled
		dec = e.decide(ctx, cs, "session_cancelled")
		return nil
	})
	if err != nil {
		return session.CallSession{}, err
	}

	for _, sid := range sids {
		if err := e.gateway.HangupCall(ctx, sid); err != nil {
			e.log.Warn("hangup on cancel failed", "session_id", id, "call_sid", sid, "err", err)
		}
	}
	e.afterTerminal(ctx, out, dec, audit.EventTypeSessionCancelled, "session cancelled")
	return out, nil
}

// GetSession returns the current session state.
func (e *Engine) GetSession(ctx context.Context, id string) (session.CallSession, error) {
	return e.store.Get(ctx, id)
}

// dialLeg places one outbound leg and binds the resulting call sid to the
// participant. The bind rebinds atomically on retries, which is what makes
// events from superseded attempts detectable as stale.
func (e *Engine) dialLeg(ctx context.Context, sessionID string, role session.Role, attempt int) error {
	cs, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if cs.Status.IsTerminal() {
		return ErrSessionTerminal
	}

	p := cs.Participant(role)
	res, err := e.gateway.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:                p.Phone,
		From:              e.cfg.CallerID,
		TwiMLURL:          e.twimlURL(sessionID, role),
		StatusCallbackURL: e.legCallbackURL(sessionID, role),
		TimeoutSeconds:    e.cfg.RingTimeoutSeconds,
		MachineDetection:  true,
	})
	if err != nil {
		return fmt.Errorf("place %s leg: %w", role, err)
	}

	if _, err := e.store.Mutate(ctx, sessionID, func(cs *session.CallSession) error {
		if cs.Status.IsTerminal() {
			return session.ErrNoChange
		}
		p := cs.Participant(role)
		p.CallSid = res.CallSid
		p.Status = session.ParticipantCalling
		p.AttemptCount = attempt
		p.ConnectedAt = nil
		p.DisconnectedAt = nil
		if cs.Status == session.StatusScheduled {
			cs.Status = session.StatusCalling
		}
		cs.RecomputeStatus()
		return nil
	}); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.DialAttempts.WithLabelValues(string(role)).Inc()
	}
	e.auditLeg(ctx, sessionID, audit.EventTypeDialAttempt, role, res.CallSid, fmt.Sprintf("attempt %d", attempt))
	return nil
}

func (e *Engine) legCallbackURL(sessionID string, role session.Role) string {
	return fmt.Sprintf("%s/webhooks/telephony/leg?session=%s&role=%s",
		e.cfg.PublicBaseURL, url.QueryEscape(sessionID), role)
}

func (e *Engine) conferenceCallbackURL() string {
	return e.cfg.PublicBaseURL + "/webhooks/telephony/conference"
}

func (e *Engine) twimlURL(sessionID string, role session.Role) string {
	return fmt.Sprintf("%s/twiml/conference/%s/%s", e.cfg.PublicBaseURL, url.PathEscape(sessionID), role)
}

func (e *Engine) noAnswerURL() string {
	return e.cfg.PublicBaseURL + "/twiml/no-answer"
}

// ConferenceTwiMLFor renders the conference entry document for one leg.
func (e *Engine) ConferenceTwiMLFor(ctx context.Context, sessionID string, role session.Role) (string, error) {
	if !role.Valid() {
		return "", ErrInvalidRequest
	}
	cs, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return telephony.ConferenceTwiML(telephony.ConferenceParams{
		ConferenceName: cs.Conference.Name,
		Label:          string(role),
		StartOnEnter:   role == session.RoleClient,
		// Only the client's exit ends the conference; a provider leg torn
		// down on an answering-machine verdict must leave the client
		// bridged so the redial can reach them.
		EndOnExit:         role == session.RoleClient,
		WaitURL:           e.cfg.HoldMusicURL,
		StatusCallbackURL: e.conferenceCallbackURL(),
	})
}

// forgetAdmission rolls back an idempotency admission whose session
// mutation did not commit. The handler returns 500 either way; without the
// rollback the sender's retry would land as a duplicate and the event would
// be lost.
func (e *Engine) forgetAdmission(ctx context.Context, key string) {
	if err := e.guard.Forget(ctx, key); err != nil {
		e.log.Error("admission rollback failed; retried delivery will be dropped as duplicate", "event_key", key, "err", err)
	}
}

func (e *Engine) releaseCap(ctx context.Context) {
	if e.rdb == nil {
		return
	}
	if err := utils.ReleaseConcurrencyCap(ctx, e.rdb, e.cfg.ConcurrencyKey); err != nil {
		e.log.Warn("session cap release failed", "err", err)
	}
}

func (e *Engine) audit(ctx context.Context, sessionID string, typ audit.EventType, msg string) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.Record(ctx, sessionID, typ, msg); err != nil {
		e.log.Warn("audit append failed", "session_id", sessionID, "type", typ, "err", err)
	}
}

func (e *Engine) auditLeg(ctx context.Context, sessionID string, typ audit.EventType, role session.Role, callSid, msg string) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.RecordLeg(ctx, sessionID, typ, string(role), callSid, msg); err != nil {
		e.log.Warn("audit append failed", "session_id", sessionID, "type", typ, "err", err)
	}
}
