package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/errs"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	pools     map[string]*model.Pool
	positions map[string]decimal.Decimal // poolID|investor -> cumulative
	shares    map[string]*sharePartition // poolID -> partition
	listings  map[string]*model.Listing
	orders    []model.Order
	stats     model.MarketplaceStats
}

// sharePartition holds one pool's balances plus first-mint holder order.
type sharePartition struct {
	balances map[string]decimal.Decimal
	order    []string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:     make(map[string]*model.Pool),
		positions: make(map[string]decimal.Decimal),
		shares:    make(map[string]*sharePartition),
		listings:  make(map[string]*model.Listing),
	}
}

func positionKey(poolID, investor string) string { return poolID + "|" + investor }

// --- Pools ---

func (s *MemoryStore) CreatePool(_ context.Context, p *model.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pools[p.ID]; exists {
		return errs.New(errs.KindInvalidPoolParameters,
			errs.WithEntity(p.ID), errs.WithMessage("pool already exists"))
	}

	// Store a copy to avoid external mutation.
	cp := *p
	s.pools[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, id string) (*model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound,
			errs.WithEntity(id), errs.WithMessage("pool not found"))
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *p)
	}
	return pools, nil
}

func (s *MemoryStore) UpdatePoolTotals(_ context.Context, id string, totalInvested, totalShares decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[id]
	if !ok {
		return errs.New(errs.KindNotFound,
			errs.WithEntity(id), errs.WithMessage("pool not found"))
	}
	p.TotalInvested = totalInvested
	p.TotalShares = totalShares
	return nil
}

func (s *MemoryStore) ClosePool(_ context.Context, id string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[id]
	if !ok {
		return errs.New(errs.KindNotFound,
			errs.WithEntity(id), errs.WithMessage("pool not found"))
	}
	p.Status = model.PoolStatusClosed
	t := closedAt
	p.ClosedAt = &t
	return nil
}

// --- Investor positions ---

func (s *MemoryStore) GetPosition(_ context.Context, poolID, investor string) (*model.InvestorPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos := &model.InvestorPosition{
		PoolID:             poolID,
		Investor:           investor,
		CumulativeInvested: s.positions[positionKey(poolID, investor)],
	}
	if part, ok := s.shares[poolID]; ok {
		pos.ShareBalance = part.balances[investor]
	}
	return pos, nil
}

func (s *MemoryStore) SetPositionInvested(_ context.Context, poolID, investor string, cumulative decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions[positionKey(poolID, investor)] = cumulative
	return nil
}

// --- Share registry partition ---

func (s *MemoryStore) ShareBalance(_ context.Context, poolID, holder string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.shares[poolID]
	if !ok {
		return decimal.Zero, nil
	}
	return part.balances[holder], nil
}

func (s *MemoryStore) SetShareBalance(_ context.Context, poolID, holder string, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.shares[poolID]
	if !ok {
		part = &sharePartition{balances: make(map[string]decimal.Decimal)}
		s.shares[poolID] = part
	}

	_, known := part.balances[holder]
	if balance.IsZero() {
		if known {
			delete(part.balances, holder)
			for i, h := range part.order {
				if h == holder {
					part.order = append(part.order[:i], part.order[i+1:]...)
					break
				}
			}
		}
		return nil
	}

	if !known {
		part.order = append(part.order, holder)
	}
	part.balances[holder] = balance
	return nil
}

func (s *MemoryStore) ListHolders(_ context.Context, poolID string) ([]model.ShareHolder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part, ok := s.shares[poolID]
	if !ok {
		return nil, nil
	}
	holders := make([]model.ShareHolder, 0, len(part.order))
	for _, h := range part.order {
		holders = append(holders, model.ShareHolder{Holder: h, Balance: part.balances[h]})
	}
	return holders, nil
}

func (s *MemoryStore) ShareSupply(_ context.Context, poolID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supply := decimal.Zero
	if part, ok := s.shares[poolID]; ok {
		for _, b := range part.balances {
			supply = supply.Add(b)
		}
	}
	return supply, nil
}

// --- Listings ---

func (s *MemoryStore) CreateListing(_ context.Context, l *model.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listings[l.ID]; exists {
		return errs.New(errs.KindInvalidListingParameters,
			errs.WithEntity(l.ID), errs.WithMessage("listing already exists"))
	}
	cp := *l
	s.listings[l.ID] = &cp
	return nil
}

func (s *MemoryStore) GetListing(_ context.Context, id string) (*model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.listings[id]
	if !ok {
		return nil, errs.New(errs.KindNotFound,
			errs.WithEntity(id), errs.WithMessage("listing not found"))
	}
	cp := *l
	return &cp, nil
}

func (s *MemoryStore) ListListings(_ context.Context, activeOnly bool) ([]model.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listings := make([]model.Listing, 0, len(s.listings))
	for _, l := range s.listings {
		if activeOnly && !l.Active {
			continue
		}
		listings = append(listings, *l)
	}
	return listings, nil
}

func (s *MemoryStore) UpdateListing(_ context.Context, id string, remaining decimal.Decimal, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.listings[id]
	if !ok {
		return errs.New(errs.KindNotFound,
			errs.WithEntity(id), errs.WithMessage("listing not found"))
	}
	l.ShareAmount = remaining
	l.Active = active
	return nil
}

// --- Orders ---

func (s *MemoryStore) InsertOrder(_ context.Context, o *model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders = append(s.orders, *o)
	return nil
}

func (s *MemoryStore) GetOrdersByListing(_ context.Context, listingID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Order
	for _, o := range s.orders {
		if o.ListingID == listingID {
			result = append(result, o)
		}
	}
	return result, nil
}

// --- Stats ---

func (s *MemoryStore) GetStats(_ context.Context) (*model.MarketplaceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := s.stats
	return &cp, nil
}

func (s *MemoryStore) IncrementListings(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalListings++
	return nil
}

func (s *MemoryStore) RecordOrder(_ context.Context, volume decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalOrders++
	s.stats.TotalVolume = s.stats.TotalVolume.Add(volume)
	return nil
}
