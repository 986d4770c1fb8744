package telephony

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Typed webhook events. Parsing and validation happen here, at the boundary;
// everything past this point works with these structs, never raw form values.

var ErrInvalidEvent = errors.New("telephony: invalid webhook event")

// LegStatus is the telephony provider's per-leg call status.
type LegStatus string

const (
	LegInitiated LegStatus = "initiated"
	LegQueued    LegStatus = "queued"
	LegRinging   LegStatus = "ringing"
	LegAnswered  LegStatus = "in-progress"
	LegCompleted LegStatus = "completed"
	LegBusy      LegStatus = "busy"
	LegNoAnswer  LegStatus = "no-answer"
	LegFailed    LegStatus = "failed"
	LegCanceled  LegStatus = "canceled"
)

func parseLegStatus(s string) (LegStatus, error) {
	switch LegStatus(s) {
	case LegInitiated, LegQueued, LegRinging, LegAnswered, LegCompleted, LegBusy, LegNoAnswer, LegFailed, LegCanceled:
		return LegStatus(s), nil
	default:
		return "", fmt.Errorf("%w: call status %q", ErrInvalidEvent, s)
	}
}

// AMDResult is the answering machine detection outcome for a leg.
type AMDResult string

const (
	AMDNone              AMDResult = "" // no AMD result on this event
	AMDHuman             AMDResult = "human"
	AMDUnknown           AMDResult = "unknown"
	AMDMachineStart      AMDResult = "machine_start"
	AMDMachineEndBeep    AMDResult = "machine_end_beep"
	AMDMachineEndSilence AMDResult = "machine_end_silence"
	AMDMachineEndOther   AMDResult = "machine_end_other"
	AMDFax               AMDResult = "fax"
)

// Machine reports whether the result means a non-human answered.
func (a AMDResult) Machine() bool {
	switch a {
	case AMDMachineStart, AMDMachineEndBeep, AMDMachineEndSilence, AMDMachineEndOther, AMDFax:
		return true
	default:
		return false
	}
}

// LegEvent is one leg status or AMD callback.
type LegEvent struct {
	CallSid    string
	CallStatus LegStatus

	// AnsweredBy carries the AMD result. AMDNone means the field was absent,
	// which is distinct from an explicit "unknown".
	AnsweredBy AMDResult

	// SessionID and Role come from the status callback URL we registered
	// when placing the leg.
	SessionID string
	Role      string

	To   string
	From string

	CallDurationSeconds int
}

// Key is the idempotency key for this event. Async AMD callbacks repeat the
// in-progress status, so the AMD result is part of the key when present;
// otherwise the classification would be dropped as a duplicate.
func (e LegEvent) Key() string {
	if e.AnsweredBy != AMDNone {
		return fmt.Sprintf("leg_%s_amd_%s", e.CallSid, e.AnsweredBy)
	}
	return fmt.Sprintf("leg_%s_%s", e.CallSid, e.CallStatus)
}

// ParseLegEvent parses a leg status/AMD webhook request.
func ParseLegEvent(r *http.Request) (LegEvent, error) {
	if err := r.ParseForm(); err != nil {
		return LegEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	e := LegEvent{
		CallSid:   strings.TrimSpace(r.PostFormValue("CallSid")),
		SessionID: strings.TrimSpace(r.FormValue("session")),
		Role:      strings.TrimSpace(r.FormValue("role")),
		To:        strings.TrimSpace(r.PostFormValue("To")),
		From:      strings.TrimSpace(r.PostFormValue("From")),
	}
	if e.CallSid == "" {
		return LegEvent{}, fmt.Errorf("%w: CallSid required", ErrInvalidEvent)
	}

	st, err := parseLegStatus(r.PostFormValue("CallStatus"))
	if err != nil {
		return LegEvent{}, err
	}
	e.CallStatus = st

	if ab := strings.TrimSpace(r.PostFormValue("AnsweredBy")); ab != "" {
		switch res := AMDResult(ab); res {
		case AMDHuman, AMDUnknown, AMDMachineStart, AMDMachineEndBeep, AMDMachineEndSilence, AMDMachineEndOther, AMDFax:
			e.AnsweredBy = res
		default:
			return LegEvent{}, fmt.Errorf("%w: AnsweredBy %q", ErrInvalidEvent, ab)
		}
	}

	if d := strings.TrimSpace(r.PostFormValue("CallDuration")); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			return LegEvent{}, fmt.Errorf("%w: CallDuration %q", ErrInvalidEvent, d)
		}
		e.CallDurationSeconds = n
	}
	return e, nil
}

// ConferenceEventType is the conference lifecycle callback type.
type ConferenceEventType string

const (
	ConferenceStart  ConferenceEventType = "conference-start"
	ConferenceEnd    ConferenceEventType = "conference-end"
	ParticipantJoin  ConferenceEventType = "participant-join"
	ParticipantLeave ConferenceEventType = "participant-leave"

	// Mute and hold are part of the provider's event vocabulary. They carry
	// no state we track, but they must parse cleanly so the sender gets an
	// ack instead of a retry storm.
	ParticipantMute   ConferenceEventType = "participant-mute"
	ParticipantUnmute ConferenceEventType = "participant-unmute"
	ParticipantHold   ConferenceEventType = "participant-hold"
	ParticipantUnhold ConferenceEventType = "participant-unhold"
)

// ConferenceEvent is one conference lifecycle callback.
type ConferenceEvent struct {
	ConferenceSid string
	FriendlyName  string
	Event         ConferenceEventType

	// CallSid and ParticipantLabel are set on join/leave events.
	CallSid          string
	ParticipantLabel string

	// SessionID is parsed out of the conference friendly name.
	SessionID string
}

// Key is the idempotency key for this event. Events without a call sid
// (start/end) use a fixed placeholder so the key stays well-formed.
func (e ConferenceEvent) Key() string {
	callPart := e.CallSid
	if callPart == "" {
		callPart = "no_call"
	}
	return fmt.Sprintf("conf_%s_%s_%s", e.ConferenceSid, e.Event, callPart)
}

// ParseConferenceEvent parses a conference status webhook request.
func ParseConferenceEvent(r *http.Request) (ConferenceEvent, error) {
	if err := r.ParseForm(); err != nil {
		return ConferenceEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	e := ConferenceEvent{
		ConferenceSid:    strings.TrimSpace(r.PostFormValue("ConferenceSid")),
		FriendlyName:     strings.TrimSpace(r.PostFormValue("FriendlyName")),
		CallSid:          strings.TrimSpace(r.PostFormValue("CallSid")),
		ParticipantLabel: strings.TrimSpace(r.PostFormValue("ParticipantLabel")),
	}
	if e.ConferenceSid == "" {
		return ConferenceEvent{}, fmt.Errorf("%w: ConferenceSid required", ErrInvalidEvent)
	}

	switch ev := ConferenceEventType(r.PostFormValue("StatusCallbackEvent")); ev {
	case ConferenceStart, ConferenceEnd, ParticipantJoin, ParticipantLeave,
		ParticipantMute, ParticipantUnmute, ParticipantHold, ParticipantUnhold:
		e.Event = ev
	default:
		return ConferenceEvent{}, fmt.Errorf("%w: conference event %q", ErrInvalidEvent, string(ev))
	}

	sid, ok := SessionIDFromConferenceName(e.FriendlyName)
	if !ok {
		return ConferenceEvent{}, fmt.Errorf("%w: conference name %q", ErrInvalidEvent, e.FriendlyName)
	}
	e.SessionID = sid
	return e, nil
}

// ConferenceNameFor builds the friendly name carrying the session id.
func ConferenceNameFor(sessionID string, at time.Time) string {
	return fmt.Sprintf("conf_%s_%d", sessionID, at.Unix())
}

// SessionIDFromConferenceName recovers the session id from a friendly name
// produced by ConferenceNameFor.
func SessionIDFromConferenceName(name string) (string, bool) {
	if !strings.HasPrefix(name, "conf_") {
		return "", false
	}
	rest := strings.TrimPrefix(name, "conf_")
	i := strings.LastIndex(rest, "_")
	if i <= 0 {
		return "", false
	}
	return rest[:i], true
}
