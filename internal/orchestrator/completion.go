package orchestrator

import (
	"context"

	"callbridge/internal/audit"
	"callbridge/internal/pricing"
	"callbridge/internal/scheduler"
	"callbridge/internal/session"
)

type decisionAction string

const (
	decisionNone    decisionAction = "none"
	decisionCapture decisionAction = "capture"
	decisionRefund  decisionAction = "refund"
	decisionCancel  decisionAction = "cancel"
)

// decision carries the payment action chosen inside a terminal mutation so
// the gateway call can run after the commit.
type decision struct {
	action decisionAction
	reason string
}

// decide marks the payment decision on the session. Must be called inside
// the same mutation that sets the terminal status; DecisionMade makes it
// one-shot across every terminal path, forced ends and crash-replayed
// webhooks included.
func (e *Engine) decide(ctx context.Context, cs *session.CallSession, reason string) decision {
	if cs.Payment.DecisionMade {
		return decision{action: decisionNone}
	}
	cs.Payment.DecisionMade = true

	if cs.BillingSeconds >= e.cfg.MinBillableSeconds {
		cs.Payment.Status = session.PaymentCaptured
		if e.fees != nil {
			split, err := e.fees.SplitCapture(ctx, pricing.SplitRequest{
				ServiceCategory: cs.Metadata.ServiceCategory,
				AmountMinor:     cs.Payment.AmountMinor,
				Currency:        cs.Payment.Currency,
			})
			if err != nil {
				// The capture itself must not be blocked by a fee policy
				// gap; payout reconciliation can fix the split later.
				e.log.Warn("fee split failed", "session_id", cs.ID, "err", err)
			} else {
				cs.Payment.PlatformFeeMinor = split.PlatformFeeMinor
				cs.Payment.ProviderPayoutMinor = split.ProviderPayoutMinor
			}
		}
		return decision{action: decisionCapture}
	}

	cs.Payment.RefundReason = reason
	if cs.Payment.Status == session.PaymentCaptured {
		cs.Payment.Status = session.PaymentRefunded
		return decision{action: decisionRefund, reason: reason}
	}
	cs.Payment.Status = session.PaymentCancelled
	return decision{action: decisionCancel, reason: reason}
}

// afterTerminal runs the post-commit side of a terminal transition: timers,
// concurrency cap, provider availability, metrics, and the payment gateway
// call recorded by decide. Gateway failures are logged and audited but never
// retried; the stored decision is the source of truth.
func (e *Engine) afterTerminal(ctx context.Context, cs session.CallSession, dec decision, typ audit.EventType, msg string) {
	e.audit(ctx, cs.ID, typ, msg)

	for _, kind := range []scheduler.Kind{scheduler.KindRetryDial, scheduler.KindForceEnd} {
		if err := e.tasks.CancelForSession(ctx, cs.ID, kind); err != nil {
			e.log.Warn("task cancel failed", "session_id", cs.ID, "kind", kind, "err", err)
		}
	}

	e.releaseCap(ctx)

	if e.dir != nil && cs.Metadata.ProviderID != "" && !cs.Metadata.ProviderMarkedBusy {
		if err := e.dir.ClearBusy(ctx, cs.Metadata.ProviderID); err != nil {
			e.log.Warn("provider busy clear failed", "provider_id", cs.Metadata.ProviderID, "err", err)
		}
	}

	if e.metrics != nil {
		e.metrics.ActiveSessions.Dec()
		e.metrics.SessionsFinished.WithLabelValues(string(cs.Status)).Inc()
		e.metrics.BillingSeconds.Observe(float64(cs.BillingSeconds))
	}

	e.executeDecision(ctx, cs, dec)
}

func (e *Engine) executeDecision(ctx context.Context, cs session.CallSession, dec decision) {
	if dec.action == decisionNone {
		return
	}
	if e.metrics != nil {
		e.metrics.PaymentDecisions.WithLabelValues(string(dec.action)).Inc()
	}

	intentID := cs.Payment.IntentID
	var err error
	var typ audit.EventType
	switch dec.action {
	case decisionCapture:
		err = e.payments.Capture(ctx, intentID)
		typ = audit.EventTypePaymentCaptured
	case decisionRefund:
		err = e.payments.Refund(ctx, intentID, dec.reason)
		typ = audit.EventTypePaymentRefunded
	case decisionCancel:
		err = e.payments.Cancel(ctx, intentID, dec.reason)
		typ = audit.EventTypePaymentCancelled
	default:
		return
	}
	if err != nil {
		e.log.Error("payment execution failed",
			"session_id", cs.ID, "intent_id", intentID, "action", dec.action, "err", err)
		e.audit(ctx, cs.ID, typ, "execution failed: "+err.Error())
		return
	}
	e.audit(ctx, cs.ID, typ, string(dec.action)+" intent "+intentID)
	e.log.Info("payment decision executed",
		"session_id", cs.ID, "intent_id", intentID, "action", dec.action,
		"billable_seconds", cs.BillingSeconds)
}

// failSession moves a session to failed, hangs up whatever legs are still
// live, and settles the payment.
func (e *Engine) failSession(ctx context.Context, id, reason string) (session.CallSession, error) {
	var dec decision
	var sids []string
	already := false

	out, err := e.store.Mutate(ctx, id, func(cs *session.CallSession) error {
		if cs.Status.IsTerminal() {
			already = true
			return session.ErrNoChange
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
		cs.Status = session.StatusFailed
		cs.Metadata.FailureReason = reason
		dec = e.decide(ctx, cs, reason)
		return nil
	})
	if err != nil {
		return session.CallSession{}, err
	}
	if already {
		return out, nil
	}

	for _, sid := range sids {
		if err := e.gateway.HangupCall(ctx, sid); err != nil {
			e.log.Warn("hangup on failure failed", "session_id", id, "call_sid", sid, "err", err)
		}
	}
	e.afterTerminal(ctx, out, dec, audit.EventTypeSessionFailed, "session failed: "+reason)
	return out, nil
}

// completeSession closes out a session whose conference has ended, using
// the connect and disconnect marks already on the session.
func (e *Engine) completeSession(ctx context.Context, id string) (session.CallSession, error) {
	var dec decision
	already := false

	out, err := e.store.Mutate(ctx, id, func(cs *session.CallSession) error {
		if cs.Status.IsTerminal() {
			already = true
			return session.ErrNoChange
		}
		cs.BillingSeconds = BillableSeconds(
			cs.Client.ConnectedAt, cs.Provider.ConnectedAt,
			cs.Client.DisconnectedAt, cs.Provider.DisconnectedAt,
			cs.Conference.EndedAt,
		)
		if cs.EverBridged() {
			cs.Status = session.StatusCompleted
		} else {
			cs.Status = session.StatusFailed
			if cs.Metadata.FailureReason == "" {
				cs.Metadata.FailureReason = "never_connected"
			}
		}
		dec = e.decide(ctx, cs, "below_minimum_duration")
		return nil
	})
	if err != nil {
		return session.CallSession{}, err
	}
	if already {
		return out, nil
	}

	typ := audit.EventTypeSessionCompleted
	msg := "session completed"
	if out.Status == session.StatusFailed {
		typ = audit.EventTypeSessionFailed
		msg = "session failed: " + out.Metadata.FailureReason
	}
	e.afterTerminal(ctx, out, dec, typ, msg)
	return out, nil
}
