package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Share balances and the
// holder sequence are never cached — distribution reads them directly from
// the source of truth.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreatePool(ctx context.Context, p *model.Pool) error {
	if err := s.primary.CreatePool(ctx, p); err != nil {
		return err
	}
	s.cachePool(ctx, p)
	return nil
}

func (s *CachedStore) UpdatePoolTotals(ctx context.Context, id string, totalInvested, totalShares decimal.Decimal) error {
	if err := s.primary.UpdatePoolTotals(ctx, id, totalInvested, totalShares); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, poolKey(id))
	return nil
}

func (s *CachedStore) ClosePool(ctx context.Context, id string, closedAt time.Time) error {
	if err := s.primary.ClosePool(ctx, id, closedAt); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(id))
	return nil
}

func (s *CachedStore) CreateListing(ctx context.Context, l *model.Listing) error {
	if err := s.primary.CreateListing(ctx, l); err != nil {
		return err
	}
	s.cacheListing(ctx, l)
	return nil
}

func (s *CachedStore) UpdateListing(ctx context.Context, id string, remaining decimal.Decimal, active bool) error {
	if err := s.primary.UpdateListing(ctx, id, remaining, active); err != nil {
		return err
	}
	s.rdb.Del(ctx, listingKey(id))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	data, err := s.rdb.Get(ctx, poolKey(id)).Bytes()
	if err == nil {
		var p model.Pool
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	p, err := s.primary.GetPool(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePool(ctx, p)
	return p, nil
}

func (s *CachedStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	data, err := s.rdb.Get(ctx, listingKey(id)).Bytes()
	if err == nil {
		var l model.Listing
		if json.Unmarshal(data, &l) == nil {
			return &l, nil
		}
	}

	l, err := s.primary.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheListing(ctx, l)
	return l, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) GetPosition(ctx context.Context, poolID, investor string) (*model.InvestorPosition, error) {
	return s.primary.GetPosition(ctx, poolID, investor)
}

func (s *CachedStore) SetPositionInvested(ctx context.Context, poolID, investor string, cumulative decimal.Decimal) error {
	return s.primary.SetPositionInvested(ctx, poolID, investor, cumulative)
}

func (s *CachedStore) ShareBalance(ctx context.Context, poolID, holder string) (decimal.Decimal, error) {
	return s.primary.ShareBalance(ctx, poolID, holder)
}

func (s *CachedStore) SetShareBalance(ctx context.Context, poolID, holder string, balance decimal.Decimal) error {
	return s.primary.SetShareBalance(ctx, poolID, holder, balance)
}

func (s *CachedStore) ListHolders(ctx context.Context, poolID string) ([]model.ShareHolder, error) {
	return s.primary.ListHolders(ctx, poolID)
}

func (s *CachedStore) ShareSupply(ctx context.Context, poolID string) (decimal.Decimal, error) {
	return s.primary.ShareSupply(ctx, poolID)
}

func (s *CachedStore) ListListings(ctx context.Context, activeOnly bool) ([]model.Listing, error) {
	return s.primary.ListListings(ctx, activeOnly)
}

func (s *CachedStore) InsertOrder(ctx context.Context, o *model.Order) error {
	return s.primary.InsertOrder(ctx, o)
}

func (s *CachedStore) GetOrdersByListing(ctx context.Context, listingID string) ([]model.Order, error) {
	return s.primary.GetOrdersByListing(ctx, listingID)
}

func (s *CachedStore) GetStats(ctx context.Context) (*model.MarketplaceStats, error) {
	return s.primary.GetStats(ctx)
}

func (s *CachedStore) IncrementListings(ctx context.Context) error {
	return s.primary.IncrementListings(ctx)
}

func (s *CachedStore) RecordOrder(ctx context.Context, volume decimal.Decimal) error {
	return s.primary.RecordOrder(ctx, volume)
}

// --- Cache helpers ---

func (s *CachedStore) cachePool(ctx context.Context, p *model.Pool) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, poolKey(p.ID), data, s.ttl)
	}
}

func (s *CachedStore) cacheListing(ctx context.Context, l *model.Listing) {
	if data, err := json.Marshal(l); err == nil {
		s.rdb.Set(ctx, listingKey(l.ID), data, s.ttl)
	}
}

func poolKey(id string) string    { return fmt.Sprintf("pool:%s", id) }
func listingKey(id string) string { return fmt.Sprintf("listing:%s", id) }
