package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// TwilioGateway implements Gateway against the Twilio REST API.
// It deliberately avoids the vendor SDK; the surface we need is three
// form-encoded endpoints.
type TwilioGateway struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// BaseURL overrides the API host, used in tests.
	BaseURL string

	HTTPTimeout time.Duration
}

func NewTwilioGateway(cfg TwilioConfig) (*TwilioGateway, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio credentials are required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultTwilioBaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TwilioGateway{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (g *TwilioGateway) Name() string { return "twilio" }

func (g *TwilioGateway) HealthCheck(ctx context.Context) error {
	u := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", g.baseURL, g.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.accountSID, g.authToken)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("twilio health check: status %d", resp.StatusCode)
	}
	return nil
}

func (g *TwilioGateway) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if req.To == "" || req.From == "" {
		return PlaceCallResult{}, fmt.Errorf("to and from are required")
	}
	if req.TwiMLURL == "" {
		return PlaceCallResult{}, fmt.Errorf("twiml url is required")
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", req.TwiMLURL)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
		form.Set("StatusCallbackMethod", http.MethodPost)
	}
	if req.TimeoutSeconds > 0 {
		form.Set("Timeout", strconv.Itoa(req.TimeoutSeconds))
	}
	if req.MachineDetection {
		form.Set("MachineDetection", "DetectMessageEnd")
		form.Set("AsyncAmd", "true")
		if req.StatusCallbackURL != "" {
			form.Set("AsyncAmdStatusCallback", req.StatusCallbackURL)
			form.Set("AsyncAmdStatusCallbackMethod", http.MethodPost)
		}
	}

	body, status, err := g.post(ctx, fmt.Sprintf("/2010-04-01/Accounts/%s/Calls.json", g.accountSID), form)
	if err != nil {
		return PlaceCallResult{}, err
	}
	if status < 200 || status >= 300 {
		return PlaceCallResult{}, apiError("place call", status, body)
	}

	var out struct {
		Sid string `json:"sid"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return PlaceCallResult{}, fmt.Errorf("place call: decode response: %w", err)
	}
	if out.Sid == "" {
		return PlaceCallResult{}, fmt.Errorf("place call: empty sid in response")
	}
	return PlaceCallResult{CallSid: out.Sid}, nil
}

func (g *TwilioGateway) RedirectCall(ctx context.Context, callSid, twimlURL string) error {
	if callSid == "" || twimlURL == "" {
		return fmt.Errorf("call sid and twiml url are required")
	}
	form := url.Values{}
	form.Set("Url", twimlURL)
	form.Set("Method", http.MethodPost)

	body, status, err := g.post(ctx, g.callPath(callSid), form)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return apiError("redirect call", status, body)
	}
	return nil
}

func (g *TwilioGateway) HangupCall(ctx context.Context, callSid string) error {
	if callSid == "" {
		return fmt.Errorf("call sid is required")
	}
	form := url.Values{}
	form.Set("Status", "completed")

	body, status, err := g.post(ctx, g.callPath(callSid), form)
	if err != nil {
		return err
	}
	// 404 means the leg already ended; not an error at this boundary.
	if status == http.StatusNotFound {
		return nil
	}
	if status < 200 || status >= 300 {
		return apiError("hangup call", status, body)
	}
	return nil
}

func (g *TwilioGateway) callPath(callSid string) string {
	return fmt.Sprintf("/2010-04-01/Accounts/%s/Calls/%s.json", g.accountSID, url.PathEscape(callSid))
}

func (g *TwilioGateway) post(ctx context.Context, path string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(g.accountSID, g.authToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func apiError(op string, status int, body []byte) error {
	var e struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Errorf("twilio %s: status %d code %d: %s", op, status, e.Code, e.Message)
	}
	return fmt.Errorf("twilio %s: status %d", op, status)
}
