package pricing

import (
	"context"
	"errors"
	"time"
)

// Service resolves fee policies and computes the payout split for a
// captured session amount.
//
// Contract:
// - Category-based policy lookup with effective windows.
// - Pure calculation + repository lookups; no payment processor calls.
type Service struct {
	repo  PolicyRepository
	clock func() time.Time
}

func NewService(repo PolicyRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

type SplitRequest struct {
	// ServiceCategory selects the policy; falls back to "default" when no
	// category-specific policy exists.
	ServiceCategory string

	AmountMinor int64
	Currency    string

	// At determines which effective policy to use. If zero, service clock is used.
	At time.Time
}

type Split struct {
	ServiceCategory string

	Currency string

	AmountMinor         int64
	PlatformFeeMinor    int64
	ProviderPayoutMinor int64

	PolicyID string
}

const DefaultCategory = "default"

var (
	ErrPolicyNotFound = errors.New("fee policy not found")
	ErrInvalidSplit   = errors.New("invalid split request")
)

// SplitCapture computes the provider payout and platform fee for a capture.
// The payout is the remainder after the fee, so the two halves always sum
// to the captured amount.
func (s *Service) SplitCapture(ctx context.Context, req SplitRequest) (Split, error) {
	if req.AmountMinor <= 0 || req.Currency == "" {
		return Split{}, ErrInvalidSplit
	}

	at := req.At
	if at.IsZero() {
		at = s.clock().UTC()
	}
	category := req.ServiceCategory
	if category == "" {
		category = DefaultCategory
	}

	p, ok, err := s.repo.FindFeePolicy(ctx, category, at)
	if err != nil {
		return Split{}, err
	}
	if !ok && category != DefaultCategory {
		p, ok, err = s.repo.FindFeePolicy(ctx, DefaultCategory, at)
		if err != nil {
			return Split{}, err
		}
	}
	if !ok {
		return Split{}, ErrPolicyNotFound
	}
	if p.Currency != req.Currency {
		return Split{}, ErrInvalidSplit
	}

	fee := feeMinor(req.AmountMinor, p.PlatformFeeBasisPoints, p.MinPlatformFeeMinor)

	return Split{
		ServiceCategory:     category,
		Currency:            req.Currency,
		AmountMinor:         req.AmountMinor,
		PlatformFeeMinor:    fee,
		ProviderPayoutMinor: req.AmountMinor - fee,
		PolicyID:            p.ID,
	}, nil
}

// PolicyRepository abstracts fee policy persistence.
type PolicyRepository interface {
	FindFeePolicy(ctx context.Context, serviceCategory string, at time.Time) (FeePolicy, bool, error)
}

func feeMinor(amount int64, basisPoints int, minFee int64) int64 {
	if basisPoints < 0 {
		basisPoints = 0
	}
	fee := amount * int64(basisPoints) / 10000
	if fee < minFee {
		fee = minFee
	}
	if fee > amount {
		fee = amount
	}
	return fee
}
