// Package model defines the core domain types shared across the yield ledger.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Pool types.
const (
	PoolTypeAssetBacked      = "asset_backed"
	PoolTypeReceivableBacked = "receivable_backed"
)

// Pool statuses. The lifecycle is one-way: active -> closed.
const (
	PoolStatusActive = "active"
	PoolStatusClosed = "closed"
)

// Pool is a named collection of pooled capital backed by one externally
// approved asset or receivable. TotalShares is zero iff TotalInvested is
// zero, and TotalInvested never exceeds TargetAmount.
type Pool struct {
	ID             string          `json:"id" db:"id"`
	PoolType       string          `json:"pool_type" db:"pool_type"`
	BackingRef     string          `json:"backing_ref" db:"backing_ref"`
	TargetAmount   decimal.Decimal `json:"target_amount" db:"target_amount"`
	MinInvestment  decimal.Decimal `json:"min_investment" db:"min_investment"`
	MaxPerInvestor decimal.Decimal `json:"max_per_investor" db:"max_per_investor"`
	APRBps         int64           `json:"apr_bps" db:"apr_bps"`
	TotalInvested  decimal.Decimal `json:"total_invested" db:"total_invested"`
	TotalShares    decimal.Decimal `json:"total_shares" db:"total_shares"`
	Status         string          `json:"status" db:"status"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
}

// InvestorPosition tracks one investor's cumulative contribution to one
// pool. CumulativeInvested never exceeds the pool's MaxPerInvestor; the
// live share balance lives in the share registry.
type InvestorPosition struct {
	PoolID             string          `json:"pool_id" db:"pool_id"`
	Investor           string          `json:"investor" db:"investor"`
	CumulativeInvested decimal.Decimal `json:"cumulative_invested" db:"cumulative_invested"`
	ShareBalance       decimal.Decimal `json:"share_balance" db:"share_balance"`
}

// ShareHolder is one entry in a pool's share registry partition.
// Holders are ordered by first mint, and the order is stable across
// partial burns so proportional distribution is reproducible.
type ShareHolder struct {
	Holder  string          `json:"holder"`
	Balance decimal.Decimal `json:"balance"`
}

// Listing is a marketplace offer of escrowed pool shares.
// ShareAmount is the remaining unsold amount; the listing deactivates
// when it reaches zero, on cancellation, or on expiry.
type Listing struct {
	ID                   string          `json:"id" db:"id"`
	Seller               string          `json:"seller" db:"seller"`
	PoolID               string          `json:"pool_id" db:"pool_id"`
	ShareAmount          decimal.Decimal `json:"share_amount" db:"share_amount"`
	PricePerShare        decimal.Decimal `json:"price_per_share" db:"price_per_share"`
	MinPurchase          decimal.Decimal `json:"min_purchase" db:"min_purchase"`
	MaxPurchase          decimal.Decimal `json:"max_purchase" db:"max_purchase"`
	ExpiresAt            time.Time       `json:"expires_at" db:"expires_at"` // zero value = never expires
	Active               bool            `json:"active" db:"active"`
	TotalPriceAtCreation decimal.Decimal `json:"total_price_at_creation" db:"total_price_at_creation"`
	CreatedAt            time.Time       `json:"created_at" db:"created_at"`
}

// Order is an immutable record of a marketplace fill.
// Once created, these are never modified or deleted.
type Order struct {
	ID             string          `json:"id" db:"id"`
	ListingID      string          `json:"listing_id" db:"listing_id"`
	Buyer          string          `json:"buyer" db:"buyer"`
	ShareAmount    decimal.Decimal `json:"share_amount" db:"share_amount"`
	TotalPricePaid decimal.Decimal `json:"total_price_paid" db:"total_price_paid"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// MarketplaceStats are monotonically non-decreasing counters updated
// transactionally with each listing and order.
type MarketplaceStats struct {
	TotalListings int64           `json:"total_listings" db:"total_listings"`
	TotalOrders   int64           `json:"total_orders" db:"total_orders"`
	TotalVolume   decimal.Decimal `json:"total_volume" db:"total_volume"`
}

// DistributionResult reports the outcome of a yield distribution.
// Dust is the floor-rounding remainder left in the distribution escrow;
// it is reported to the caller, never silently discarded.
type DistributionResult struct {
	PoolID      string          `json:"pool_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	Dust        decimal.Decimal `json:"dust"`
	Payouts     int             `json:"payouts"`
}
