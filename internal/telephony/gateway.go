package telephony

import "context"

// Gateway defines the provider-agnostic interface for outbound call control.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Keep request/response types provider-agnostic.
// - Business logic (retries, state transitions, billing) never lives here.
type Gateway interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// PlaceCall starts an outbound leg and returns the provider call sid.
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)

	// RedirectCall points a live leg at new instructions.
	RedirectCall(ctx context.Context, callSid, twimlURL string) error

	// HangupCall terminates a leg. Hanging up an already-ended leg is not
	// an error at this boundary.
	HangupCall(ctx context.Context, callSid string) error
}

type PlaceCallRequest struct {
	To   string `json:"to"`
	From string `json:"from"`

	// TwiMLURL serves the instructions executed when the callee answers.
	TwiMLURL string `json:"twiml_url"`

	// StatusCallbackURL receives leg lifecycle and AMD callbacks.
	StatusCallbackURL string `json:"status_callback_url"`

	// TimeoutSeconds is how long the leg rings before no-answer.
	TimeoutSeconds int `json:"timeout_seconds"`

	// MachineDetection enables async answering machine detection.
	MachineDetection bool `json:"machine_detection"`
}

type PlaceCallResult struct {
	CallSid string `json:"call_sid"`
}
