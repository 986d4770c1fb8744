package orchestrator

import (
	"testing"
	"time"
)

func ts(sec int, ms int) *time.Time {
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).
		Add(time.Duration(sec)*time.Second + time.Duration(ms)*time.Millisecond)
	return &t
}

func TestBillableSecondsOverlap(t *testing.T) {
	// Connects at 10 and 12, disconnects at 40 and 35: overlap 12..35 = 23.
	got := BillableSeconds(ts(10, 0), ts(12, 0), ts(40, 0), ts(35, 0), ts(60, 0))
	if got != 23 {
		t.Fatalf("expected 23, got %d", got)
	}
}

func TestBillableSecondsSingleConnectIsZero(t *testing.T) {
	if got := BillableSeconds(ts(10, 0), nil, ts(40, 0), nil, ts(60, 0)); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := BillableSeconds(nil, ts(10, 0), nil, ts(40, 0), ts(60, 0)); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestBillableSecondsMissingDisconnectFallsBackToConferenceEnd(t *testing.T) {
	got := BillableSeconds(ts(10, 0), ts(12, 0), nil, nil, ts(50, 0))
	if got != 38 {
		t.Fatalf("expected 38, got %d", got)
	}
	// One disconnect known, conference end later: disconnect wins.
	got = BillableSeconds(ts(10, 0), ts(12, 0), ts(30, 0), nil, ts(50, 0))
	if got != 18 {
		t.Fatalf("expected 18, got %d", got)
	}
}

func TestBillableSecondsRoundsMilliseconds(t *testing.T) {
	// 22.6 seconds of overlap rounds to 23, not down to 22.
	if got := BillableSeconds(ts(10, 0), ts(12, 400), ts(40, 0), ts(35, 0), nil); got != 23 {
		t.Fatalf("expected 23, got %d", got)
	}
	// 22.4 rounds to 22.
	if got := BillableSeconds(ts(10, 0), ts(12, 600), ts(40, 0), ts(35, 0), nil); got != 22 {
		t.Fatalf("expected 22, got %d", got)
	}
}

func TestBillableSecondsClampNegative(t *testing.T) {
	// Disconnect before the later connect: no overlap.
	if got := BillableSeconds(ts(10, 0), ts(30, 0), ts(20, 0), ts(40, 0), nil); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestBillableSecondsNoEndKnown(t *testing.T) {
	if got := BillableSeconds(ts(10, 0), ts(12, 0), nil, nil, nil); got != 0 {
		t.Fatalf("expected 0 when no end bound exists, got %d", got)
	}
}
