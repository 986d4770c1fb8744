package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"callbridge/internal/audit"
	"callbridge/internal/scheduler"
	"callbridge/internal/session"
)

// HandleTask dispatches one due scheduler task. Wire it as the worker's
// handler.
func (e *Engine) HandleTask(ctx context.Context, t scheduler.Task) error {
	switch t.Kind {
	case scheduler.KindRetryDial:
		return e.handleRetryDial(ctx, t)
	case scheduler.KindForceEnd:
		return e.handleForceEnd(ctx, t)
	default:
		return fmt.Errorf("orchestrator: unknown task kind %q", t.Kind)
	}
}

func (e *Engine) handleRetryDial(ctx context.Context, t scheduler.Task) error {
	cs, err := e.store.Get(ctx, t.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return err
	}
	if cs.Status.IsTerminal() {
		return nil
	}
	role := session.Role(t.Role)
	if !role.Valid() {
		return fmt.Errorf("orchestrator: retry task with role %q", t.Role)
	}
	if cs.Participant(role).Status != session.ParticipantNoAnswer {
		// The leg moved on since the retry was scheduled.
		return nil
	}

	if err := e.dialLeg(ctx, t.SessionID, role, t.Attempt); err != nil {
		e.log.Error("retry dial failed", "session_id", t.SessionID, "role", role, "attempt", t.Attempt, "err", err)
		if _, ferr := e.failSession(ctx, t.SessionID, string(role)+"_dial_failed"); ferr != nil {
			return ferr
		}
	}
	return nil
}

// handleForceEnd is the safety net for sessions whose end events never
// arrived: hang up whatever is still live and settle as if the conference
// ended now.
func (e *Engine) handleForceEnd(ctx context.Context, t scheduler.Task) error {
	var dec decision
	var sids []string
	already := false

	out, err := e.store.Mutate(ctx, t.SessionID, func(cs *session.CallSession) error {
		if cs.Status.IsTerminal() {
			already = true
			return session.ErrNoChange
		}
		now := e.clock().UTC()
		for _, p := range []*session.Participant{&cs.Client, &cs.Provider} {
			if p.CallSid != "" && p.Status != session.ParticipantDisconnected && p.Status != session.ParticipantNoAnswer {
				sids = append(sids, p.CallSid)
			}
			if p.Status == session.ParticipantConnected {
				p.Status = session.ParticipantDisconnected
				if p.DisconnectedAt == nil {
					d := now
					p.DisconnectedAt = &d
				}
			}
		}
		if cs.Conference.EndedAt == nil {
			d := now
			cs.Conference.EndedAt = &d
		}
		if cs.Conference.StartedAt != nil {
			cs.Conference.DurationSeconds = int(cs.Conference.EndedAt.Sub(*cs.Conference.StartedAt).Seconds())
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
				cs.Metadata.FailureReason = "forced_end"
			}
		}
		dec = e.decide(ctx, cs, "forced_end")
		return nil
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return err
	}
	if already {
		return nil
	}

	for _, sid := range sids {
		if err := e.gateway.HangupCall(ctx, sid); err != nil {
			e.log.Warn("forced end hangup failed", "session_id", t.SessionID, "call_sid", sid, "err", err)
		}
	}
	e.afterTerminal(ctx, out, dec, audit.EventTypeForcedEnd, "session force ended")
	return nil
}
