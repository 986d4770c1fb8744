package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"callbridge/internal/audit"
	"callbridge/internal/events"
	"callbridge/internal/payment"
	"callbridge/internal/pricing"
	"callbridge/internal/scheduler"
	"callbridge/internal/session"
	"callbridge/internal/telephony"
)

type fakeTelephony struct {
	mu      sync.Mutex
	placed  []telephony.PlaceCallRequest
	hangups []string

	// redirects records callSid -> twimlURL.
	redirects map[string]string

	placeErr error
	sidSeq   int
}

func newFakeTelephony() *fakeTelephony {
	return &fakeTelephony{redirects: make(map[string]string)}
}

func (f *fakeTelephony) Name() string { return "fake" }

func (f *fakeTelephony) HealthCheck(ctx context.Context) error { return nil }

func (f *fakeTelephony) PlaceCall(ctx context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return telephony.PlaceCallResult{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	f.sidSeq++
	return telephony.PlaceCallResult{CallSid: fmt.Sprintf("CA%03d", f.sidSeq)}, nil
}

func (f *fakeTelephony) RedirectCall(ctx context.Context, callSid, twimlURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirects[callSid] = twimlURL
	return nil
}

func (f *fakeTelephony) HangupCall(ctx context.Context, callSid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, callSid)
	return nil
}

func (f *fakeTelephony) lastSid() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("CA%03d", f.sidSeq)
}

type env struct {
	eng   *Engine
	store *session.MemoryStore
	guard *events.MemoryGuard
	tel   *fakeTelephony
	pay   *payment.FakeGateway
	tasks *scheduler.MemoryStore
	log   *audit.MemoryRepo

	now time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store: session.NewMemoryStore(),
		guard: events.NewMemoryGuard(),
		tel:   newFakeTelephony(),
		pay:   payment.NewFakeGateway(),
		tasks: scheduler.NewMemoryStore(),
		log:   audit.NewMemoryRepo(),
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	fees := pricing.NewService(&pricing.MemoryRepo{Policies: []pricing.FeePolicy{{
		ID:                     "pol-1",
		ServiceCategory:        pricing.DefaultCategory,
		Currency:               "usd",
		PlatformFeeBasisPoints: 1500,
		EffectiveFrom:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:                 pricing.PolicyStatusActive,
	}}})

	eng, err := New(Deps{
		Store:    e.store,
		Guard:    e.guard,
		Gateway:  e.tel,
		Payments: e.pay,
		Fees:     fees,
		Auditor:  audit.NewService(e.log),
		Tasks:    e.tasks,
	}, Config{
		PublicBaseURL:      "https://calls.example.com",
		CallerID:           "+15550000000",
		MinBillableSeconds: 60,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	clock := func() time.Time { return e.now }
	eng.SetClock(clock)
	e.store.SetClock(clock)
	e.eng = eng
	return e
}

func (e *env) advance(d time.Duration) { e.now = e.now.Add(d) }

func (e *env) create(t *testing.T) session.CallSession {
	t.Helper()
	cs, err := e.eng.CreateSession(context.Background(), CreateRequest{
		RequestID:       "req-1",
		ClientID:        "client-1",
		ProviderID:      "provider-1",
		ClientPhone:     "+15550001111",
		ProviderPhone:   "+15550002222",
		PaymentIntentID: "pi_123",
		AmountMinor:     5000,
		Currency:        "usd",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return cs
}

func (e *env) leg(t *testing.T, sessionID, callSid string, st telephony.LegStatus, amd telephony.AMDResult) Disposition {
	t.Helper()
	d, err := e.eng.HandleLegEvent(context.Background(), telephony.LegEvent{
		CallSid:    callSid,
		CallStatus: st,
		AnsweredBy: amd,
		SessionID:  sessionID,
	})
	if err != nil {
		t.Fatalf("leg event %s/%s: %v", callSid, st, err)
	}
	return d
}

// runDue claims and executes every task that is due at the current clock.
func (e *env) runDue(t *testing.T) int {
	t.Helper()
	claimed, err := e.tasks.Claim(context.Background(), e.now, 50)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	for _, task := range claimed {
		if err := e.eng.HandleTask(context.Background(), task); err != nil {
			t.Fatalf("task %s/%s: %v", task.Kind, task.SessionID, err)
		}
		if err := e.tasks.Finish(context.Background(), task.ID, scheduler.TaskDone); err != nil {
			t.Fatalf("finish: %v", err)
		}
	}
	return len(claimed)
}

func (e *env) get(t *testing.T, id string) session.CallSession {
	t.Helper()
	cs, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	return cs
}

func TestCreateSessionPlacesClientLeg(t *testing.T) {
	e := newEnv(t)
	cs := e.create(t)

	if len(e.tel.placed) != 1 {
		t.Fatalf("expected one outbound leg, got %d", len(e.tel.placed))
	}
	req := e.tel.placed[0]
	if req.To != "+15550001111" || req.From != "+15550000000" {
		t.Fatalf("unexpected dial target: %+v", req)
	}
	if !req.MachineDetection {
		t.Fatal("machine detection must be enabled")
	}

	if cs.Status != session.StatusCalling {
		t.Fatalf("expected calling, got %s", cs.Status)
	}
	if cs.Client.CallSid != "CA001" || cs.Client.AttemptCount != 1 {
		t.Fatalf("client leg not bound: %+v", cs.Client)
	}
	if cs.Provider.Status != session.ParticipantIdle {
		t.Fatalf("provider must wait for the client: %s", cs.Provider.Status)
	}
	if cs.Payment.Status != session.PaymentAuthorized || cs.Payment.DecisionMade {
		t.Fatalf("payment must start authorized and undecided: %+v", cs.Payment)
	}
}

func TestCreateSessionRejectsInvalidRequest(t *testing.T) {
	e := newEnv(t)
	_, err := e.eng.CreateSession(context.Background(), CreateRequest{RequestID: "req-1"})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCreateSessionDuplicateRequestID(t *testing.T) {
	e := newEnv(t)
	e.create(t)
	_, err := e.eng.CreateSession(context.Background(), CreateRequest{
		RequestID:       "req-1",
		ClientID:        "client-2",
		ProviderID:      "provider-2",
		ClientPhone:     "+15550003333",
		ProviderPhone:   "+15550004444",
		PaymentIntentID: "pi_456",
		AmountMinor:     1000,
		Currency:        "usd",
	})
	if !errors.Is(err, session.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if len(e.tel.placed) != 1 {
		t.Fatalf("duplicate request must not dial: %d legs placed", len(e.tel.placed))
	}
}

func TestClientAnswerPlacesProviderLeg(t *testing.T) {
	e := newEnv(t)
	cs := e.create(t)

	if d := e.leg(t, cs.ID, "CA001", telephony.LegAnswered, telephony.AMDHuman); d != DispositionProcessed {
		t.Fatalf("expected processed, got %s", d)
	}

	got := e.get(t, cs.ID)
	if got.Client.Status != session.ParticipantConnected || got.Client.ConnectedAt == nil {
		t.Fatalf("client not connected: %+v", got.Client)
	}
	if got.Provider.CallSid != "CA002" {
		t.Fatalf("provider leg not placed: %+v", got.Provider)
	}
	if got.Status != session.StatusProviderConnecting {
		t.Fatalf("expected provider_connecting, got %s", got.Status)
	}
	if len(e.tel.placed) != 2 || e.tel.placed[1].To != "+15550002222" {
		t.Fatalf("unexpected outbound legs: %+v", e.tel.placed)
	}
}

func TestDuplicateEventIsAcknowledgedWithoutReprocessing(t *testing.T) {
	e := newEnv(t)
	cs := e.create(t)

	e.leg(t, cs.ID, "CA001", telephony.LegAnswered, telephony.AMDHuman)
	if d := e.leg(t, cs.ID, "CA001", telephony.LegAnswered, telephony.AMDHuman); d != DispositionDuplicate {
		t.Fatalf("expected duplicate, got %s", d)
	}
	if len(e.tel.placed) != 2 {
		t.Fatalf("duplicate must not dial again: %d", len(e.tel.placed))
	}
}

func TestStaleCallSidIsIgnored(t *testing.T) {
	e := newEnv(t)
	cs := e.create(t)

	if d := e.leg(t, cs.ID, "CA999", telephony.LegAnswered, telephony.AMDHuman); d != DispositionStale {
		t.Fatalf("expected stale, got %s", d)
	}
	got := e.get(t, cs.ID)
	if got.Client.Status != session.ParticipantCalling {
		t.Fatalf("stale event mutated state: %+v", got.Client)
	}
}

func TestGuardFailureSurfacesAsRetryable(t *testing.T) {
	e := newEnv(t)
	cs := e.create(t)

	e.guard.FailNext(errors.New("storage down"))
	_, err := e.eng.HandleLegEvent(context.Background(), telephony.LegEvent{
		CallSid:    "CA001",
		CallStatus: telephony.LegAnswered,
		AnsweredBy: telephony.AMDHuman,
		SessionID:  cs.ID,
	})
	if err == nil {
		t.Fatal("guard failure must surface an error, not a duplicate")
	}

	// The retried delivery is the first successful admission.
	if d := e.leg(t, cs.ID, "CA001", telephony.LegAnswered, telephony.AMDHuman); d != DispositionProcessed {
		t.Fatalf("retry after guard failure must process, got %s", d)
	}
}

func TestCancelSessionHangsUpAndCancelsPayment(t *testing.T) {
	e := newEnv(t)
	cs := e.create(t)
	e.leg(t, cs.ID, "CA001", telephony.LegAnswered, telephony.AMDHuman)

	got, err := e.eng.CancelSession(context.Background(), cs.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != session.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if len(e.tel.hangups) == 0 {
		t.Fatal("live legs must be hung up on cancel")
	}

	actions := e.pay.Actions()
	if len(actions) != 1 || actions[0].Op != "cancel" || actions[0].IntentID != "pi_123" {
		t.Fatalf("expected one payment cancel, got %+v", actions)
	}

	if _, err := e.eng.CancelSession(context.Background(), cs.ID); !errors.Is(err, ErrSessionTerminal) {
		t.Fatalf("second cancel must fail terminal, got %v", err)
	}
	if len(e.pay.Actions()) != 1 {
		t.Fatalf("payment decision ran twice: %+v", e.pay.Actions())
	}
}

// flakyStore fails one Mutate on demand to simulate lock contention.
type flakyStore struct {
	*session.MemoryStore
	failNext error
}

func (s *flakyStore) Mutate(ctx context.Context, id string, fn func(*session.CallSession) error) (session.CallSession, error) {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return session.CallSession{}, err
	}
	return s.MemoryStore.Mutate(ctx, id, fn)
}

func TestMutateFailureRollsBackAdmission(t *testing.T) {
	store := &flakyStore{MemoryStore: session.NewMemoryStore()}
	guard := events.NewMemoryGuard()
	eng, err := New(Deps{
		Store:    store,
		Guard:    guard,
		Gateway:  newFakeTelephony(),
		Payments: payment.NewFakeGateway(),
		Tasks:    scheduler.NewMemoryStore(),
	}, Config{
		PublicBaseURL:      "https://calls.example.com",
		CallerID:           "+15550000000",
		MinBillableSeconds: 60,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	cs, err := eng.CreateSession(context.Background(), CreateRequest{
		RequestID:       "req-1",
		ClientID:        "client-1",
		ProviderID:      "provider-1",
		ClientPhone:     "+15550001111",
		ProviderPhone:   "+15550002222",
		PaymentIntentID: "pi_123",
		AmountMinor:     5000,
		Currency:        "usd",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ev := telephony.LegEvent{
		CallSid:    "CA001",
		CallStatus: telephony.LegAnswered,
		AnsweredBy: telephony.AMDHuman,
		SessionID:  cs.ID,
	}

	// The event is admitted, then the session mutation fails to commit.
	store.failNext = errors.New("lock timeout")
	if _, err := eng.HandleLegEvent(context.Background(), ev); err == nil {
		t.Fatal("failed mutation must surface an error")
	}

	// The sender retries the delivery; it must be processed, not swallowed
	// as a duplicate of the admission that never committed.
	d, err := eng.HandleLegEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if d != DispositionProcessed {
		t.Fatalf("redelivery after a failed mutation must process, got %s", d)
	}
	got, err := store.Get(context.Background(), cs.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Client.Status != session.ParticipantConnected {
		t.Fatalf("connect event was lost: %+v", got.Client)
	}
}

func TestUnknownSessionIsAcknowledged(t *testing.T) {
	e := newEnv(t)
	d, err := e.eng.HandleLegEvent(context.Background(), telephony.LegEvent{
		CallSid:    "CA404",
		CallStatus: telephony.LegRinging,
	})
	if err != nil {
		t.Fatalf("unknown session must not error: %v", err)
	}
	if d != DispositionUnknownSession {
		t.Fatalf("expected unknown_session, got %s", d)
	}
}
