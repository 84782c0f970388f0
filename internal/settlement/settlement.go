// Package settlement defines the ports to the two external collaborators
// the ledger depends on: the settlement gateway that moves currency value
// between accounts, and the approval system that vets backing assets.
// The ledger talks ONLY to these interfaces — never to a custody backend
// directly.
package settlement

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Gateway moves settlement-currency value between accounts. Every call may
// fail; the ledger never mutates its own state before a gateway call
// succeeds. A gateway timeout is treated identically to any other failure.
type Gateway interface {
	// Transfer moves amount from one account to another atomically.
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error

	// BalanceOf returns an account's current balance.
	BalanceOf(ctx context.Context, account string) (decimal.Decimal, error)
}

// ApprovalChecker reports whether a backing asset or receivable has passed
// external verification. Checked once at pool creation; never re-verified.
type ApprovalChecker interface {
	IsApproved(ctx context.Context, backingRef string) (bool, error)
}

// Escrow account naming. These accounts exist only inside the gateway's
// balance space; the ledger addresses them by convention.

// PoolEscrow is the account holding a pool's invested principal.
func PoolEscrow(poolID string) string {
	return fmt.Sprintf("pool:%s:escrow", poolID)
}

// DistributionEscrow is the ephemeral account a yield distribution is
// charged into before per-holder payouts. Floor-rounding dust stays here
// until the caller sweeps it.
func DistributionEscrow(poolID string) string {
	return fmt.Sprintf("pool:%s:distribution", poolID)
}

// MarketplaceEscrow is the account marketplace trades settle through.
const MarketplaceEscrow = "marketplace:escrow"
