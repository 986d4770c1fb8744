package pricing

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testRepo() *MemoryRepo {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	return &MemoryRepo{Policies: []FeePolicy{
		{
			ID:                     "pol_default",
			ServiceCategory:        DefaultCategory,
			Currency:               "EUR",
			PlatformFeeBasisPoints: 2000, // 20%
			EffectiveFrom:          from,
			Status:                 PolicyStatusActive,
		},
		{
			ID:                     "pol_legal",
			ServiceCategory:        "legal",
			Currency:               "EUR",
			PlatformFeeBasisPoints: 1500, // 15%
			MinPlatformFeeMinor:    100,
			EffectiveFrom:          from,
			Status:                 PolicyStatusActive,
		},
	}}
}

func TestSplitCapture(t *testing.T) {
	s := NewService(testRepo())
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	out, err := s.SplitCapture(context.Background(), SplitRequest{
		ServiceCategory: "legal",
		AmountMinor:     5000,
		Currency:        "EUR",
		At:              at,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.PlatformFeeMinor != 750 {
		t.Fatalf("expected 750 fee, got %d", out.PlatformFeeMinor)
	}
	if out.ProviderPayoutMinor != 4250 {
		t.Fatalf("expected 4250 payout, got %d", out.ProviderPayoutMinor)
	}
	if out.PlatformFeeMinor+out.ProviderPayoutMinor != out.AmountMinor {
		t.Fatalf("split must sum to the captured amount")
	}
}

func TestSplitCaptureFallsBackToDefault(t *testing.T) {
	s := NewService(testRepo())
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	out, err := s.SplitCapture(context.Background(), SplitRequest{
		ServiceCategory: "plumbing",
		AmountMinor:     1000,
		Currency:        "EUR",
		At:              at,
	})
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if out.PolicyID != "pol_default" {
		t.Fatalf("expected default policy, got %s", out.PolicyID)
	}
	if out.PlatformFeeMinor != 200 {
		t.Fatalf("expected 200 fee, got %d", out.PlatformFeeMinor)
	}
}

func TestSplitCaptureMinFeeFloor(t *testing.T) {
	s := NewService(testRepo())
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	out, err := s.SplitCapture(context.Background(), SplitRequest{
		ServiceCategory: "legal",
		AmountMinor:     200, // 15% = 30 < min fee 100
		Currency:        "EUR",
		At:              at,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.PlatformFeeMinor != 100 {
		t.Fatalf("expected floored fee 100, got %d", out.PlatformFeeMinor)
	}
}

func TestSplitCaptureFeeNeverExceedsAmount(t *testing.T) {
	if got := feeMinor(50, 1500, 100); got != 50 {
		t.Fatalf("fee must cap at amount, got %d", got)
	}
}

func TestSplitCaptureCurrencyMismatch(t *testing.T) {
	s := NewService(testRepo())
	_, err := s.SplitCapture(context.Background(), SplitRequest{
		ServiceCategory: "legal",
		AmountMinor:     1000,
		Currency:        "USD",
		At:              time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit, got %v", err)
	}
}

func TestSplitCaptureNoPolicy(t *testing.T) {
	s := NewService(&MemoryRepo{})
	_, err := s.SplitCapture(context.Background(), SplitRequest{
		AmountMinor: 1000,
		Currency:    "EUR",
		At:          time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	})
	if !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound, got %v", err)
	}
}
