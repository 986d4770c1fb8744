package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strconv"
)

// TwiML builders for the conference bridge. No provider SDK dependency;
// the documents we emit are small enough for plain xml structs.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName    xml.Name         `xml:"Dial"`
	Conference *twimlConference `xml:"Conference,omitempty"`
}

type twimlConference struct {
	Name                   string `xml:",chardata"`
	ParticipantLabel       string `xml:"participantLabel,attr,omitempty"`
	StartConferenceOnEnter string `xml:"startConferenceOnEnter,attr"`
	EndConferenceOnExit    string `xml:"endConferenceOnExit,attr"`
	WaitURL                string `xml:"waitUrl,attr,omitempty"`
	MaxParticipants        int    `xml:"maxParticipants,attr"`
	StatusCallback         string `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent    string `xml:"statusCallbackEvent,attr,omitempty"`
}

// ConferenceParams describes one leg's entry into the session conference.
type ConferenceParams struct {
	ConferenceName string
	// Label identifies the leg inside the conference ("client" / "provider").
	Label string
	// StartOnEnter is true for the client leg only; the provider waits on
	// hold music until the client is in.
	StartOnEnter bool
	// EndOnExit is true for the client leg only. A provider leg can be hung
	// up on an answering-machine verdict while the client is already in the
	// conference; ending the conference then would drop the client before a
	// redial can run.
	EndOnExit bool
	WaitURL   string
	// StatusCallbackURL receives conference lifecycle events.
	StatusCallbackURL string
}

// ConferenceTwiML renders the TwiML that drops an answered leg into the
// session conference.
func ConferenceTwiML(p ConferenceParams) (string, error) {
	if p.ConferenceName == "" {
		return "", errors.New("telephony: conference name required")
	}
	if p.Label == "" {
		return "", errors.New("telephony: participant label required")
	}
	conf := &twimlConference{
		Name:                   p.ConferenceName,
		ParticipantLabel:       p.Label,
		StartConferenceOnEnter: strconv.FormatBool(p.StartOnEnter),
		EndConferenceOnExit:    strconv.FormatBool(p.EndOnExit),
		WaitURL:                p.WaitURL,
		MaxParticipants:        2,
	}
	if p.StatusCallbackURL != "" {
		conf.StatusCallback = p.StatusCallbackURL
		conf.StatusCallbackEvent = "start end join leave"
	}
	return render(twimlResponse{Verbs: []any{twimlDial{Conference: conf}}})
}

// NoAnswerTwiML renders the message played to a live client leg when the
// provider never answered, followed by a hangup.
func NoAnswerTwiML(message string) (string, error) {
	if message == "" {
		message = "The person you are trying to reach is unavailable. Please try again later."
	}
	return render(twimlResponse{Verbs: []any{
		twimlSay{Voice: "alice", Text: message},
		twimlHangup{},
	}})
}

func render(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
