package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) (*TwilioGateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	gw, err := NewTwilioGateway(TwilioConfig{
		AccountSID: "AC_test",
		AuthToken:  "secret",
		BaseURL:    srv.URL,
	})
	if err != nil {
		t.Fatalf("gateway init: %v", err)
	}
	return gw, srv
}

func TestTwilioPlaceCall(t *testing.T) {
	var gotForm url.Values
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC_test/Calls.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if u, p, ok := r.BasicAuth(); !ok || u != "AC_test" || p != "secret" {
			t.Errorf("missing basic auth")
		}
		_ = r.ParseForm()
		gotForm = r.PostForm
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"CA_new"}`))
	})

	res, err := gw.PlaceCall(context.Background(), PlaceCallRequest{
		To:                "+15550001111",
		From:              "+15559990000",
		TwiMLURL:          "https://example.com/twiml",
		StatusCallbackURL: "https://example.com/cb",
		TimeoutSeconds:    60,
		MachineDetection:  true,
	})
	if err != nil {
		t.Fatalf("place call: %v", err)
	}
	if res.CallSid != "CA_new" {
		t.Fatalf("unexpected sid %q", res.CallSid)
	}
	if gotForm.Get("MachineDetection") != "DetectMessageEnd" || gotForm.Get("AsyncAmd") != "true" {
		t.Fatalf("amd params missing: %v", gotForm)
	}
	if gotForm.Get("Timeout") != "60" {
		t.Fatalf("timeout missing: %v", gotForm)
	}
	if len(gotForm["StatusCallbackEvent"]) != 4 {
		t.Fatalf("expected 4 callback events, got %v", gotForm["StatusCallbackEvent"])
	}
}

func TestTwilioPlaceCallErrorSurfacesMessage(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"invalid to number","code":21211}`))
	})
	_, err := gw.PlaceCall(context.Background(), PlaceCallRequest{
		To: "+1", From: "+2", TwiMLURL: "https://example.com/twiml",
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestTwilioHangupTreats404AsDone(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	if err := gw.HangupCall(context.Background(), "CA_gone"); err != nil {
		t.Fatalf("hangup of ended leg must not fail: %v", err)
	}
}

func TestTwilioRedirect(t *testing.T) {
	gw, _ := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC_test/Calls/CA1.json" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = r.ParseForm()
		if r.PostForm.Get("Url") != "https://example.com/no-answer" {
			t.Errorf("redirect url missing")
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"sid":"CA1"}`))
	})
	if err := gw.RedirectCall(context.Background(), "CA1", "https://example.com/no-answer"); err != nil {
		t.Fatalf("redirect: %v", err)
	}
}
