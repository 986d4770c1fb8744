package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestStripe(t *testing.T, handler http.HandlerFunc) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gw, err := NewStripeGateway(StripeConfig{APIKey: "sk_test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("gateway init: %v", err)
	}
	return gw
}

func TestStripeCapture(t *testing.T) {
	gw := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents/pi_1/capture" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			t.Errorf("missing auth header")
		}
		w.Write([]byte(`{"id":"pi_1","status":"succeeded"}`))
	})
	if err := gw.Capture(context.Background(), "pi_1"); err != nil {
		t.Fatalf("capture: %v", err)
	}
}

func TestStripeRefundSendsIntentAndReason(t *testing.T) {
	gw := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/refunds" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		if r.PostForm.Get("payment_intent") != "pi_1" {
			t.Errorf("payment_intent missing")
		}
		if r.PostForm.Get("metadata[reason]") != "below_minimum_duration" {
			t.Errorf("reason missing")
		}
		w.Write([]byte(`{"id":"re_1"}`))
	})
	if err := gw.Refund(context.Background(), "pi_1", "below_minimum_duration"); err != nil {
		t.Fatalf("refund: %v", err)
	}
}

func TestStripeCancelMapsReason(t *testing.T) {
	cases := []struct {
		reason     string
		wantStripe string
	}{
		{"session_cancelled", "requested_by_customer"},
		{"below_minimum_duration", "abandoned"},
	}
	for _, tc := range cases {
		gw := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v1/payment_intents/pi_1/cancel" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			_ = r.ParseForm()
			if got := r.PostForm.Get("cancellation_reason"); got != tc.wantStripe {
				t.Errorf("reason %q: cancellation_reason = %q, want %q", tc.reason, got, tc.wantStripe)
			}
			if got := r.PostForm.Get("metadata[reason]"); got != tc.reason {
				t.Errorf("reason %q: metadata[reason] = %q", tc.reason, got)
			}
			w.Write([]byte(`{"id":"pi_1","status":"canceled"}`))
		})
		if err := gw.Cancel(context.Background(), "pi_1", tc.reason); err != nil {
			t.Fatalf("cancel(%q): %v", tc.reason, err)
		}
	}
}

func TestStripeMissingIntentMapsToNotFound(t *testing.T) {
	gw := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":"resource_missing","message":"No such payment_intent"}}`))
	})
	err := gw.Capture(context.Background(), "pi_gone")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStripeUnexpectedStateMapsToAlreadyFinal(t *testing.T) {
	gw := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"payment_intent_unexpected_state","message":"already captured"}}`))
	})
	err := gw.Cancel(context.Background(), "pi_1", "no_connection")
	if !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("expected ErrAlreadyFinal, got %v", err)
	}
}

func TestStripeRejectsEmptyIntent(t *testing.T) {
	gw, err := NewStripeGateway(StripeConfig{APIKey: "sk_test"})
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := gw.Capture(context.Background(), ""); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
