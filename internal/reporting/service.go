package reporting

import (
	"context"
	"errors"
	"time"

	"callbridge/internal/session"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations should read from the session store; sessions are never
// rewritten after settlement, so the aggregates are stable once the range
// lies in the past.

type Repository interface {
	ListSessions(ctx context.Context, from, to time.Time, providerID string) ([]session.CallSession, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) SessionsSummary(ctx context.Context, req SessionsSummaryRequest) (SessionsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SessionsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SessionsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListSessions(ctx, req.Range.From, req.Range.To, req.ProviderID)
	if err != nil {
		return SessionsSummary{}, err
	}

	out := SessionsSummary{ProviderID: req.ProviderID}
	billed := 0
	for _, cs := range rows {
		out.TotalSessions++
		if cs.EverBridged() {
			out.BridgedSessions++
		}
		switch cs.Status {
		case session.StatusCompleted:
			out.CompletedSessions++
		case session.StatusFailed:
			out.FailedSessions++
		case session.StatusCancelled:
			out.CancelledSessions++
		default:
			out.InFlightSessions++
		}
		if cs.BillingSeconds > 0 {
			out.TotalBillingSeconds += cs.BillingSeconds
			billed++
		}
	}
	if billed > 0 {
		out.AverageBillingSeconds = out.TotalBillingSeconds / billed
	}
	return out, nil
}

func (s *Service) SettlementSummary(ctx context.Context, req SettlementSummaryRequest) (SettlementSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SettlementSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SettlementSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListSessions(ctx, req.Range.From, req.Range.To, req.ProviderID)
	if err != nil {
		return SettlementSummary{}, err
	}

	out := SettlementSummary{ProviderID: req.ProviderID, Currency: req.Currency}
	for _, cs := range rows {
		if !cs.Payment.DecisionMade {
			continue
		}
		if out.Currency == "" {
			out.Currency = cs.Payment.Currency
		}
		if req.Currency != "" && cs.Payment.Currency != req.Currency {
			continue
		}

		switch cs.Payment.Status {
		case session.PaymentCaptured:
			out.CapturedCount++
			out.CapturedMinor += cs.Payment.AmountMinor
			out.ProviderPayoutMinor += cs.Payment.ProviderPayoutMinor
			out.PlatformFeeMinor += cs.Payment.PlatformFeeMinor
		case session.PaymentRefunded:
			out.RefundedCount++
			out.RefundedMinor += cs.Payment.AmountMinor
		case session.PaymentCancelled:
			out.CancelledCount++
		}
	}
	if out.Currency == "" {
		out.Currency = "UNKNOWN"
	}
	return out, nil
}
