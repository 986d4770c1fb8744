package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/scheduler"
	"callbridge/internal/session"
	"callbridge/internal/telephony"
)

// Disposition classifies what a webhook event did. Everything except an
// infrastructure error maps to HTTP 200 so the provider stops retrying.
type Disposition string

const (
	DispositionProcessed      Disposition = "processed"
	DispositionDuplicate      Disposition = "duplicate"
	DispositionStale          Disposition = "stale"
	DispositionIgnored        Disposition = "ignored"
	DispositionUnknownSession Disposition = "unknown_session"
)

// effects collects side effects chosen inside a mutation; they run only
// after the new state is committed.
type effects struct {
	hangupSid    string
	dialProvider bool
	becameActive bool

	retryRole    session.Role
	retryAttempt int
	retryDelay   time.Duration

	redirectSid             string
	markProviderUnavailable bool

	terminal     bool
	terminalType audit.EventType
	terminalMsg  string
	decision     decision

	// completeAfter settles the session through completeSession once the
	// mutation that recorded the conference end has committed.
	completeAfter bool

	amdRole session.Role
	amdSid  string
	amdNote string
}

// HandleLegEvent applies one call-leg status callback to its session.
func (e *Engine) HandleLegEvent(ctx context.Context, ev telephony.LegEvent) (Disposition, error) {
	sessionID := ev.SessionID
	if sessionID == "" {
		cs, err := e.store.FindByCallSid(ctx, ev.CallSid)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				return e.countLeg(DispositionUnknownSession), nil
			}
			return "", err
		}
		sessionID = cs.ID
	}

	first, err := e.guard.MarkProcessed(ctx, ev.Key(), sessionID)
	if err != nil {
		return "", fmt.Errorf("idempotency mark: %w", err)
	}
	if !first {
		return e.countLeg(DispositionDuplicate), nil
	}

	var fx effects
	disp := DispositionProcessed

	out, err := e.store.Mutate(ctx, sessionID, func(cs *session.CallSession) error {
		if cs.Status.IsTerminal() {
			disp = DispositionIgnored
			return session.ErrNoChange
		}
		role, ok := cs.RoleOfCallSid(ev.CallSid)
		if !ok {
			// The sid was superseded by a retry, or never belonged here.
			disp = DispositionStale
			return session.ErrNoChange
		}
		return e.applyLegEvent(ctx, cs, role, ev, &fx)
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return e.countLeg(DispositionUnknownSession), nil
		}
		e.forgetAdmission(ctx, ev.Key())
		return "", err
	}
	if disp != DispositionProcessed {
		if disp == DispositionStale {
			e.auditLeg(ctx, sessionID, audit.EventTypeStaleEvent, session.Role(ev.Role), ev.CallSid, string(ev.CallStatus))
		}
		return e.countLeg(disp), nil
	}

	e.runEffects(ctx, out, fx)
	return e.countLeg(disp), nil
}

// applyLegEvent mutates the session for one leg callback. Called with the
// session row locked.
func (e *Engine) applyLegEvent(ctx context.Context, cs *session.CallSession, role session.Role, ev telephony.LegEvent, fx *effects) error {
	p := cs.Participant(role)
	now := e.clock().UTC()

	switch ev.CallStatus {
	case telephony.LegInitiated, telephony.LegQueued:
		if p.Status != session.ParticipantIdle && p.Status != session.ParticipantCalling {
			return session.ErrNoChange
		}
		p.Status = session.ParticipantCalling
		return nil

	case telephony.LegRinging:
		if p.Status == session.ParticipantConnected || p.Status == session.ParticipantAMDPending {
			return session.ErrNoChange
		}
		p.Status = session.ParticipantRinging
		return nil

	case telephony.LegAnswered:
		amd := ev.AnsweredBy
		fx.amdNote = string(amd)
		fx.amdRole = role
		fx.amdSid = ev.CallSid
		switch {
		case amd == telephony.AMDNone:
			// Answered with detection still running; the async AMD
			// callback settles it. The leg stays bridged meanwhile.
			if p.Status != session.ParticipantConnected {
				p.Status = session.ParticipantAMDPending
			}
			return nil
		case amd.Machine():
			fx.hangupSid = ev.CallSid
			e.applyNoAnswer(ctx, cs, role, p, "machine_detected", fx)
			return nil
		default:
			p.Status = session.ParticipantConnected
			if p.ConnectedAt == nil {
				t := now
				p.ConnectedAt = &t
			}
			e.afterConnect(cs, role, fx)
			return nil
		}

	case telephony.LegCompleted:
		if p.Status == session.ParticipantConnected || p.Status == session.ParticipantDisconnected {
			if p.Status == session.ParticipantConnected {
				p.Status = session.ParticipantDisconnected
			}
			if p.DisconnectedAt == nil {
				t := now
				p.DisconnectedAt = &t
			}
			e.maybeFinishLocked(ctx, cs, fx)
			return nil
		}
		// Completed before ever connecting counts as a failed attempt.
		e.applyNoAnswer(ctx, cs, role, p, "hung_up_early", fx)
		return nil

	case telephony.LegBusy, telephony.LegNoAnswer, telephony.LegFailed, telephony.LegCanceled:
		e.applyNoAnswer(ctx, cs, role, p, string(ev.CallStatus), fx)
		return nil

	default:
		return session.ErrNoChange
	}
}

// afterConnect runs the shared bookkeeping once a participant is marked
// connected: recompute the session status and queue follow-on dials.
func (e *Engine) afterConnect(cs *session.CallSession, role session.Role, fx *effects) {
	was := cs.Status
	cs.RecomputeStatus()
	if cs.Status == session.StatusActive && was != session.StatusActive {
		fx.becameActive = true
	}
	if role == session.RoleClient && cs.Provider.Status == session.ParticipantIdle {
		fx.dialProvider = true
	}
}

// applyNoAnswer marks a failed attempt and either schedules a retry or
// fails the whole session when attempts are exhausted.
func (e *Engine) applyNoAnswer(ctx context.Context, cs *session.CallSession, role session.Role, p *session.Participant, reason string, fx *effects) {
	p.Status = session.ParticipantNoAnswer

	if p.AttemptCount < e.cfg.MaxRetries {
		fx.retryRole = role
		fx.retryAttempt = p.AttemptCount + 1
		fx.retryDelay = e.cfg.RetryBaseDelay + time.Duration(p.AttemptCount)*e.cfg.RetryStepDelay
		return
	}

	now := e.clock().UTC()
	cs.BillingSeconds = BillableSeconds(
		cs.Client.ConnectedAt, cs.Provider.ConnectedAt,
		cs.Client.DisconnectedAt, cs.Provider.DisconnectedAt,
		&now,
	)
	cs.Status = session.StatusFailed
	cs.Metadata.FailureReason = string(role) + "_" + reason

	if role == session.RoleProvider {
		if cs.Client.Status == session.ParticipantConnected && cs.Client.CallSid != "" {
			fx.redirectSid = cs.Client.CallSid
		}
		if !cs.Metadata.ProviderMarkedBusy {
			cs.Metadata.ProviderMarkedBusy = true
			fx.markProviderUnavailable = true
		}
	}

	fx.terminal = true
	fx.terminalType = audit.EventTypeSessionFailed
	fx.terminalMsg = "session failed: " + cs.Metadata.FailureReason
	fx.decision = e.decide(ctx, cs, cs.Metadata.FailureReason)
}

// maybeFinishLocked checks, with the row locked, whether both legs are gone
// and the session can settle without waiting for conference events.
func (e *Engine) maybeFinishLocked(ctx context.Context, cs *session.CallSession, fx *effects) {
	gone := func(p session.Participant) bool {
		return p.Status == session.ParticipantDisconnected || p.Status == session.ParticipantNoAnswer
	}
	if !gone(cs.Client) || !gone(cs.Provider) {
		return
	}
	cs.BillingSeconds = BillableSeconds(
		cs.Client.ConnectedAt, cs.Provider.ConnectedAt,
		cs.Client.DisconnectedAt, cs.Provider.DisconnectedAt,
		cs.Conference.EndedAt,
	)
	if cs.EverBridged() {
		cs.Status = session.StatusCompleted
		fx.terminalType = audit.EventTypeSessionCompleted
		fx.terminalMsg = "session completed"
	} else {
		cs.Status = session.StatusFailed
		if cs.Metadata.FailureReason == "" {
			cs.Metadata.FailureReason = "never_connected"
		}
		fx.terminalType = audit.EventTypeSessionFailed
		fx.terminalMsg = "session failed: " + cs.Metadata.FailureReason
	}
	fx.terminal = true
	fx.decision = e.decide(ctx, cs, "below_minimum_duration")
}

// runEffects executes the side effects recorded during the mutation.
func (e *Engine) runEffects(ctx context.Context, cs session.CallSession, fx effects) {
	if fx.amdNote != "" {
		e.auditLeg(ctx, cs.ID, audit.EventTypeAMDResult, fx.amdRole, fx.amdSid, fx.amdNote)
	}

	if fx.hangupSid != "" {
		if err := e.gateway.HangupCall(ctx, fx.hangupSid); err != nil {
			e.log.Warn("machine leg hangup failed", "session_id", cs.ID, "call_sid", fx.hangupSid, "err", err)
		}
	}

	if fx.redirectSid != "" {
		if err := e.gateway.RedirectCall(ctx, fx.redirectSid, e.noAnswerURL()); err != nil {
			e.log.Warn("client redirect failed", "session_id", cs.ID, "call_sid", fx.redirectSid, "err", err)
		}
	}

	if fx.markProviderUnavailable && e.dir != nil {
		if err := e.dir.MarkUnavailableFor(ctx, cs.Metadata.ProviderID, e.cfg.ProviderCooldown); err != nil {
			e.log.Warn("provider cooldown failed", "provider_id", cs.Metadata.ProviderID, "err", err)
		}
	}

	if fx.retryAttempt > 0 {
		now := e.clock().UTC()
		task := scheduler.NewTask(cs.ID, scheduler.KindRetryDial, string(fx.retryRole), fx.retryAttempt, now.Add(fx.retryDelay), now)
		if err := e.tasks.Schedule(ctx, task); err != nil {
			e.log.Error("retry schedule failed", "session_id", cs.ID, "role", fx.retryRole, "err", err)
		} else {
			e.auditLeg(ctx, cs.ID, audit.EventTypeDialAttempt, fx.retryRole, "", fmt.Sprintf("retry %d scheduled in %s", fx.retryAttempt, fx.retryDelay))
		}
	}

	if fx.becameActive {
		e.audit(ctx, cs.ID, audit.EventTypeSessionActive, "both participants connected")
		e.scheduleForceEnd(ctx, cs)
	}

	if fx.dialProvider {
		attempt := cs.Provider.AttemptCount + 1
		if err := e.dialLeg(ctx, cs.ID, session.RoleProvider, attempt); err != nil {
			e.log.Error("provider dial failed", "session_id", cs.ID, "err", err)
			if _, ferr := e.failSession(ctx, cs.ID, "provider_dial_failed"); ferr != nil {
				e.log.Error("session fail after dial error", "session_id", cs.ID, "err", ferr)
			}
			return
		}
	}

	if fx.terminal {
		e.afterTerminal(ctx, cs, fx.decision, fx.terminalType, fx.terminalMsg)
	}

	if fx.completeAfter {
		if _, err := e.completeSession(ctx, cs.ID); err != nil {
			e.log.Error("session completion failed", "session_id", cs.ID, "err", err)
		}
	}
}

// scheduleForceEnd arms the safety timer that closes a session stuck past
// its maximum duration.
func (e *Engine) scheduleForceEnd(ctx context.Context, cs session.CallSession) {
	now := e.clock().UTC()
	runAt := now.Add(time.Duration(cs.Metadata.MaxDurationSeconds)*time.Second + e.cfg.ForceEndGrace)
	task := scheduler.NewTask(cs.ID, scheduler.KindForceEnd, "", 0, runAt, now)
	if err := e.tasks.Schedule(ctx, task); err != nil {
		e.log.Error("force end schedule failed", "session_id", cs.ID, "err", err)
	}
}

func (e *Engine) countLeg(d Disposition) Disposition {
	if e.metrics != nil {
		e.metrics.WebhookEvents.WithLabelValues("leg", string(d)).Inc()
	}
	return d
}
