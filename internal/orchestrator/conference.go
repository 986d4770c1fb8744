package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"callbridge/internal/audit"
	"callbridge/internal/session"
	"callbridge/internal/telephony"
)

// HandleConferenceEvent applies one conference lifecycle callback to its
// session. The session id rides in the conference friendly name.
func (e *Engine) HandleConferenceEvent(ctx context.Context, ev telephony.ConferenceEvent) (Disposition, error) {
	if ev.SessionID == "" {
		return e.countConference(DispositionUnknownSession), nil
	}

	first, err := e.guard.MarkProcessed(ctx, ev.Key(), ev.SessionID)
	if err != nil {
		return "", fmt.Errorf("idempotency mark: %w", err)
	}
	if !first {
		return e.countConference(DispositionDuplicate), nil
	}

	var fx effects
	disp := DispositionProcessed

	out, err := e.store.Mutate(ctx, ev.SessionID, func(cs *session.CallSession) error {
		if cs.Status.IsTerminal() {
			disp = DispositionIgnored
			return session.ErrNoChange
		}
		d, err := e.applyConferenceEvent(ctx, cs, ev, &fx)
		disp = d
		return err
	})
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return e.countConference(DispositionUnknownSession), nil
		}
		e.forgetAdmission(ctx, ev.Key())
		return "", err
	}
	if disp != DispositionProcessed {
		if disp == DispositionStale {
			e.audit(ctx, ev.SessionID, audit.EventTypeStaleEvent, fmt.Sprintf("conference %s sid %s", ev.Event, ev.ConferenceSid))
		}
		return e.countConference(disp), nil
	}

	e.runEffects(ctx, out, fx)
	return e.countConference(disp), nil
}

func (e *Engine) applyConferenceEvent(ctx context.Context, cs *session.CallSession, ev telephony.ConferenceEvent, fx *effects) (Disposition, error) {
	now := e.clock().UTC()

	switch ev.Event {
	case telephony.ConferenceStart:
		if cs.Conference.Sid != "" && cs.Conference.Sid != ev.ConferenceSid {
			return DispositionStale, session.ErrNoChange
		}
		cs.Conference.Sid = ev.ConferenceSid
		if cs.Conference.StartedAt == nil {
			t := now
			cs.Conference.StartedAt = &t
		}
		return DispositionProcessed, nil

	case telephony.ParticipantJoin:
		if cs.Conference.Sid != "" && cs.Conference.Sid != ev.ConferenceSid {
			return DispositionStale, session.ErrNoChange
		}
		cs.Conference.Sid = ev.ConferenceSid
		role, ok := conferenceRole(cs, ev)
		if !ok {
			return DispositionIgnored, session.ErrNoChange
		}
		p := cs.Participant(role)
		switch p.Status {
		case session.ParticipantCalling, session.ParticipantRinging, session.ParticipantAMDPending, session.ParticipantConnected:
			// The leg callbacks own the status here; a join while AMD is
			// pending must not promote the leg to connected.
			return DispositionProcessed, nil
		}
		p.Status = session.ParticipantConnected
		if p.ConnectedAt == nil {
			t := now
			p.ConnectedAt = &t
		}
		e.afterConnect(cs, role, fx)
		return DispositionProcessed, nil

	case telephony.ParticipantLeave:
		if cs.Conference.Sid == "" {
			return DispositionIgnored, session.ErrNoChange
		}
		if cs.Conference.Sid != ev.ConferenceSid {
			return DispositionStale, session.ErrNoChange
		}
		role, ok := conferenceRole(cs, ev)
		if !ok {
			return DispositionIgnored, session.ErrNoChange
		}
		p := cs.Participant(role)
		if p.Status == session.ParticipantConnected {
			p.Status = session.ParticipantDisconnected
		}
		if p.DisconnectedAt == nil {
			t := now
			p.DisconnectedAt = &t
		}
		e.maybeFinishLocked(ctx, cs, fx)
		return DispositionProcessed, nil

	case telephony.ConferenceEnd:
		// An end for a conference we never bound cannot be ours.
		if cs.Conference.Sid == "" {
			return DispositionIgnored, session.ErrNoChange
		}
		if cs.Conference.Sid != ev.ConferenceSid {
			return DispositionStale, session.ErrNoChange
		}
		if cs.Conference.EndedAt == nil {
			t := now
			cs.Conference.EndedAt = &t
		}
		if cs.Conference.StartedAt != nil {
			cs.Conference.DurationSeconds = int(cs.Conference.EndedAt.Sub(*cs.Conference.StartedAt).Seconds())
		}
		if cs.Provider.ConnectedAt == nil && cs.Status.Connecting() {
			// The client's conference closed before the provider ever
			// joined. The retry path decides what happens next; only the
			// end time is recorded.
			return DispositionProcessed, nil
		}
		fx.completeAfter = true
		return DispositionProcessed, nil

	default:
		return DispositionIgnored, session.ErrNoChange
	}
}

// conferenceRole maps a join/leave event to a participant, preferring the
// label we set in the TwiML and falling back to the call sid.
func conferenceRole(cs *session.CallSession, ev telephony.ConferenceEvent) (session.Role, bool) {
	if r := session.Role(ev.ParticipantLabel); r.Valid() {
		return r, true
	}
	return cs.RoleOfCallSid(ev.CallSid)
}

func (e *Engine) countConference(d Disposition) Disposition {
	if e.metrics != nil {
		e.metrics.WebhookEvents.WithLabelValues("conference", string(d)).Inc()
	}
	return d
}
