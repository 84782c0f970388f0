// Package store defines the persistence interface for the yield ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// Missing pools and listings are reported as errs.KindNotFound.
// Share balances and positions read as zero when absent.
type Store interface {
	// --- Pool operations ---

	// CreatePool persists a new pool.
	CreatePool(ctx context.Context, pool *model.Pool) error

	// GetPool retrieves a pool by its ID.
	GetPool(ctx context.Context, id string) (*model.Pool, error)

	// ListPools returns all pools.
	ListPools(ctx context.Context) ([]model.Pool, error)

	// UpdatePoolTotals updates invested and share totals after a mutation.
	UpdatePoolTotals(ctx context.Context, id string, totalInvested, totalShares decimal.Decimal) error

	// ClosePool marks a pool closed. One-way.
	ClosePool(ctx context.Context, id string, closedAt time.Time) error

	// --- Investor positions ---

	// GetPosition returns an investor's cumulative position in a pool.
	// A zero-valued position is returned when none exists yet.
	GetPosition(ctx context.Context, poolID, investor string) (*model.InvestorPosition, error)

	// SetPositionInvested records an investor's cumulative invested amount.
	SetPositionInvested(ctx context.Context, poolID, investor string, cumulative decimal.Decimal) error

	// --- Share registry partition ---

	// ShareBalance returns a holder's balance in a pool. Zero when absent.
	ShareBalance(ctx context.Context, poolID, holder string) (decimal.Decimal, error)

	// SetShareBalance writes a holder's balance. First write for a holder
	// appends it to the pool's holder order; a zero balance prunes it.
	SetShareBalance(ctx context.Context, poolID, holder string, balance decimal.Decimal) error

	// ListHolders returns all holders with non-zero balance in first-mint
	// order. The order is deterministic and stable across partial burns.
	ListHolders(ctx context.Context, poolID string) ([]model.ShareHolder, error)

	// ShareSupply returns the sum of all balances in a pool's partition.
	ShareSupply(ctx context.Context, poolID string) (decimal.Decimal, error)

	// --- Listings ---

	// CreateListing persists a new listing.
	CreateListing(ctx context.Context, listing *model.Listing) error

	// GetListing retrieves a listing by its ID.
	GetListing(ctx context.Context, id string) (*model.Listing, error)

	// ListListings returns all listings, optionally only active ones.
	ListListings(ctx context.Context, activeOnly bool) ([]model.Listing, error)

	// UpdateListing updates a listing's remaining amount and active flag.
	UpdateListing(ctx context.Context, id string, remaining decimal.Decimal, active bool) error

	// --- Immutable order log ---

	// InsertOrder appends an immutable fill record.
	InsertOrder(ctx context.Context, order *model.Order) error

	// GetOrdersByListing returns all fills for a listing in time order.
	GetOrdersByListing(ctx context.Context, listingID string) ([]model.Order, error)

	// --- Marketplace stats ---

	// GetStats returns the marketplace counters.
	GetStats(ctx context.Context) (*model.MarketplaceStats, error)

	// IncrementListings bumps the listing counter.
	IncrementListings(ctx context.Context) error

	// RecordOrder bumps the order counter and adds volume.
	RecordOrder(ctx context.Context, volume decimal.Decimal) error
}
