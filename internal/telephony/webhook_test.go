package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func postForm(t *testing.T, target string, form url.Values) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseLegEvent(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "in-progress")
	form.Set("AnsweredBy", "human")
	form.Set("To", "+15557654321")

	e, err := ParseLegEvent(postForm(t, "/webhooks/telephony/leg?session=s1&role=client", form))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if e.CallSid != "CA123" || e.CallStatus != LegAnswered {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.AnsweredBy != AMDHuman {
		t.Fatalf("expected human, got %q", e.AnsweredBy)
	}
	if e.SessionID != "s1" || e.Role != "client" {
		t.Fatalf("callback params not parsed: %+v", e)
	}
	if e.Key() != "leg_CA123_amd_human" {
		t.Fatalf("unexpected key %q", e.Key())
	}
}

func TestLegEventKeySeparatesAMDFromStatus(t *testing.T) {
	plain := LegEvent{CallSid: "CA1", CallStatus: LegAnswered}
	amd := LegEvent{CallSid: "CA1", CallStatus: LegAnswered, AnsweredBy: AMDHuman}
	if plain.Key() == amd.Key() {
		t.Fatalf("async AMD callback must not collide with the answered event: %q", plain.Key())
	}
	if plain.Key() != "leg_CA1_in-progress" {
		t.Fatalf("unexpected key %q", plain.Key())
	}
}

func TestParseLegEventAbsentAMDIsDistinctFromUnknown(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "in-progress")

	e, err := ParseLegEvent(postForm(t, "/webhooks/telephony/leg", form))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if e.AnsweredBy != AMDNone {
		t.Fatalf("absent AnsweredBy must parse as none, got %q", e.AnsweredBy)
	}

	form.Set("AnsweredBy", "unknown")
	e, err = ParseLegEvent(postForm(t, "/webhooks/telephony/leg", form))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if e.AnsweredBy != AMDUnknown {
		t.Fatalf("explicit unknown must survive parsing, got %q", e.AnsweredBy)
	}
}

func TestParseLegEventRejectsUnknownStatus(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "exploded")
	if _, err := ParseLegEvent(postForm(t, "/webhooks/telephony/leg", form)); err == nil {
		t.Fatalf("expected error")
	}

	form.Set("CallStatus", "completed")
	form.Del("CallSid")
	if _, err := ParseLegEvent(postForm(t, "/webhooks/telephony/leg", form)); err == nil {
		t.Fatalf("expected error for missing CallSid")
	}
}

func TestAMDMachineVariantsAreUniform(t *testing.T) {
	for _, v := range []AMDResult{AMDMachineStart, AMDMachineEndBeep, AMDMachineEndSilence, AMDMachineEndOther, AMDFax} {
		if !v.Machine() {
			t.Fatalf("%q must count as machine", v)
		}
	}
	for _, v := range []AMDResult{AMDHuman, AMDUnknown, AMDNone} {
		if v.Machine() {
			t.Fatalf("%q must not count as machine", v)
		}
	}
}

func TestParseConferenceEvent(t *testing.T) {
	name := ConferenceNameFor("0f2d9c4a-1b7e-4f7e-9a69-000000000001", time.Unix(1700000000, 0))

	form := url.Values{}
	form.Set("ConferenceSid", "CF1")
	form.Set("FriendlyName", name)
	form.Set("StatusCallbackEvent", "participant-join")
	form.Set("CallSid", "CA9")
	form.Set("ParticipantLabel", "provider")

	e, err := ParseConferenceEvent(postForm(t, "/webhooks/telephony/conference", form))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if e.SessionID != "0f2d9c4a-1b7e-4f7e-9a69-000000000001" {
		t.Fatalf("session id not recovered: %q", e.SessionID)
	}
	if e.Key() != "conf_CF1_participant-join_CA9" {
		t.Fatalf("unexpected key %q", e.Key())
	}
}

func TestConferenceEventKeyWithoutCallSid(t *testing.T) {
	e := ConferenceEvent{ConferenceSid: "CF1", Event: ConferenceEnd}
	if e.Key() != "conf_CF1_conference-end_no_call" {
		t.Fatalf("unexpected key %q", e.Key())
	}
}

func TestParseConferenceEventAcceptsMuteAndHold(t *testing.T) {
	for _, ev := range []string{"participant-mute", "participant-unmute", "participant-hold", "participant-unhold"} {
		form := url.Values{}
		form.Set("ConferenceSid", "CF1")
		form.Set("FriendlyName", ConferenceNameFor("s1", time.Unix(1700000000, 0)))
		form.Set("StatusCallbackEvent", ev)
		form.Set("CallSid", "CA9")

		e, err := ParseConferenceEvent(postForm(t, "/webhooks/telephony/conference", form))
		if err != nil {
			t.Fatalf("%s must parse, got %v", ev, err)
		}
		if string(e.Event) != ev {
			t.Fatalf("unexpected event %q", e.Event)
		}
	}
}

func TestParseConferenceEventRejectsUnknownEvent(t *testing.T) {
	form := url.Values{}
	form.Set("ConferenceSid", "CF1")
	form.Set("FriendlyName", ConferenceNameFor("s1", time.Unix(1700000000, 0)))
	form.Set("StatusCallbackEvent", "conference-exploded")
	if _, err := ParseConferenceEvent(postForm(t, "/webhooks/telephony/conference", form)); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSessionIDFromConferenceName(t *testing.T) {
	if _, ok := SessionIDFromConferenceName("not_a_conf"); ok {
		t.Fatalf("expected no match")
	}
	sid, ok := SessionIDFromConferenceName("conf_abc_123")
	if !ok || sid != "abc" {
		t.Fatalf("unexpected %q %v", sid, ok)
	}
}
