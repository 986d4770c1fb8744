package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultStripeBaseURL = "https://api.stripe.com"

// StripeGateway implements Gateway against the Stripe payment intents API.
// Like the telephony adapter, it speaks the three endpoints we need directly
// rather than pulling in the vendor SDK.
type StripeGateway struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type StripeConfig struct {
	APIKey string

	// BaseURL overrides the API host, used in tests.
	BaseURL string

	HTTPTimeout time.Duration
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("stripe api key is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultStripeBaseURL
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &StripeGateway{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (g *StripeGateway) Capture(ctx context.Context, intentID string) error {
	if intentID == "" {
		return ErrInvalidArgument
	}
	path := fmt.Sprintf("/v1/payment_intents/%s/capture", url.PathEscape(intentID))
	return g.post(ctx, "capture", path, url.Values{})
}

func (g *StripeGateway) Refund(ctx context.Context, intentID, reason string) error {
	if intentID == "" {
		return ErrInvalidArgument
	}
	form := url.Values{}
	form.Set("payment_intent", intentID)
	if reason != "" {
		form.Set("metadata[reason]", reason)
	}
	return g.post(ctx, "refund", "/v1/refunds", form)
}

func (g *StripeGateway) Cancel(ctx context.Context, intentID, reason string) error {
	if intentID == "" {
		return ErrInvalidArgument
	}
	path := fmt.Sprintf("/v1/payment_intents/%s/cancel", url.PathEscape(intentID))
	form := url.Values{}
	if reason != "" {
		// cancellation_reason is a fixed Stripe enum; the session's own
		// reason rides in metadata like it does for refunds.
		form.Set("cancellation_reason", stripeCancellationReason(reason))
		form.Set("metadata[reason]", reason)
	}
	return g.post(ctx, "cancel", path, form)
}

func stripeCancellationReason(reason string) string {
	if reason == "session_cancelled" {
		return "requested_by_customer"
	}
	return "abandoned"
}

func (g *StripeGateway) post(ctx context.Context, op, path string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var e struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		switch e.Error.Code {
		case "resource_missing":
			return fmt.Errorf("stripe %s %s: %w", op, intentRef(form, path), ErrNotFound)
		case "payment_intent_unexpected_state", "charge_already_refunded":
			return fmt.Errorf("stripe %s: %w", op, ErrAlreadyFinal)
		}
		if e.Error.Message != "" {
			return fmt.Errorf("stripe %s: status %d: %s", op, resp.StatusCode, e.Error.Message)
		}
	}
	return fmt.Errorf("stripe %s: status %d", op, resp.StatusCode)
}

func intentRef(form url.Values, path string) string {
	if v := form.Get("payment_intent"); v != "" {
		return v
	}
	return path
}
