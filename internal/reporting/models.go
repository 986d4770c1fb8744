package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SessionsSummaryRequest requests aggregated session outcome metrics.
// ProviderID is optional; empty means platform-wide.

type SessionsSummaryRequest struct {
	Range      TimeRange `json:"range"`
	ProviderID string    `json:"provider_id,omitempty"`
}

type SessionsSummary struct {
	ProviderID string `json:"provider_id,omitempty"`

	TotalSessions     int `json:"total_sessions"`
	CompletedSessions int `json:"completed_sessions"`
	FailedSessions    int `json:"failed_sessions"`
	CancelledSessions int `json:"cancelled_sessions"`
	InFlightSessions  int `json:"in_flight_sessions"`

	// BridgedSessions counted both participants connected at some point,
	// regardless of the final status.
	BridgedSessions int `json:"bridged_sessions"`

	TotalBillingSeconds   int `json:"total_billing_seconds"`
	AverageBillingSeconds int `json:"average_billing_seconds"`
}

// SettlementSummaryRequest requests aggregated payment outcomes. Settlement
// figures come from the one-shot decision recorded on each session, so the
// numbers reconcile against the payment provider's reports.

type SettlementSummaryRequest struct {
	Range      TimeRange `json:"range"`
	ProviderID string    `json:"provider_id,omitempty"`
	Currency   string    `json:"currency,omitempty"`
}

type SettlementSummary struct {
	ProviderID string `json:"provider_id,omitempty"`
	Currency   string `json:"currency"`

	CapturedCount  int `json:"captured_count"`
	RefundedCount  int `json:"refunded_count"`
	CancelledCount int `json:"cancelled_count"`

	CapturedMinor int64 `json:"captured_minor"`
	RefundedMinor int64 `json:"refunded_minor"`

	ProviderPayoutMinor int64 `json:"provider_payout_minor"`
	PlatformFeeMinor    int64 `json:"platform_fee_minor"`
}
