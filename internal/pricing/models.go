package pricing

import "time"

// Amounts are expressed in minor units (e.g., cents) using int64.

// FeePolicy defines how a captured session amount is split between the
// service provider's payout and the platform fee.
type FeePolicy struct {
	ID string `json:"id" db:"id"`

	// ServiceCategory buckets sessions for fee purposes (e.g., "legal",
	// "medical", "default").
	ServiceCategory string `json:"service_category" db:"service_category"`

	Currency string `json:"currency" db:"currency"`

	// PlatformFeeBasisPoints is the platform's share in basis points
	// (100 bp = 1%).
	PlatformFeeBasisPoints int `json:"platform_fee_basis_points" db:"platform_fee_basis_points"`

	// MinPlatformFeeMinor floors the fee on small captures.
	MinPlatformFeeMinor int64 `json:"min_platform_fee_minor" db:"min_platform_fee_minor"`

	// Effective window for the policy.
	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status PolicyStatus `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type PolicyStatus string

const (
	PolicyStatusActive   PolicyStatus = "active"
	PolicyStatusInactive PolicyStatus = "inactive"
)
