package telephony

import (
	"strings"
	"testing"
)

func TestConferenceTwiMLClientLeg(t *testing.T) {
	out, err := ConferenceTwiML(ConferenceParams{
		ConferenceName:    "conf_s1_1700000000",
		Label:             "client",
		StartOnEnter:      true,
		EndOnExit:         true,
		WaitURL:           "https://example.com/hold",
		StatusCallbackURL: "https://example.com/webhooks/telephony/conference",
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{
		`participantLabel="client"`,
		`startConferenceOnEnter="true"`,
		`endConferenceOnExit="true"`,
		`maxParticipants="2"`,
		`waitUrl="https://example.com/hold"`,
		`statusCallbackEvent="start end join leave"`,
		"conf_s1_1700000000",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in twiml:\n%s", want, out)
		}
	}
}

func TestConferenceTwiMLProviderWaits(t *testing.T) {
	out, err := ConferenceTwiML(ConferenceParams{
		ConferenceName: "conf_s1_1700000000",
		Label:          "provider",
		StartOnEnter:   false,
		EndOnExit:      false,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, `startConferenceOnEnter="false"`) {
		t.Fatalf("provider leg must not start the conference:\n%s", out)
	}
	if !strings.Contains(out, `endConferenceOnExit="false"`) {
		t.Fatalf("provider leg exit must not end the conference:\n%s", out)
	}
}

func TestConferenceTwiMLRequiresName(t *testing.T) {
	if _, err := ConferenceTwiML(ConferenceParams{Label: "client"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ConferenceTwiML(ConferenceParams{ConferenceName: "c"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNoAnswerTwiML(t *testing.T) {
	out, err := NoAnswerTwiML("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "<Say") || !strings.Contains(out, "<Hangup") {
		t.Fatalf("expected Say and Hangup:\n%s", out)
	}
}
