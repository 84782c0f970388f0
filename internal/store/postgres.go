package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/errs"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Holder order in share_balances comes from a BIGSERIAL position column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Pools ---

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.Pool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pools (id, pool_type, backing_ref, target_amount, min_investment, max_per_investor,
		                    apr_bps, total_invested, total_shares, status, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9::NUMERIC, $10, $11)`,
		p.ID, p.PoolType, p.BackingRef,
		p.TargetAmount.String(), p.MinInvestment.String(), p.MaxPerInvestor.String(),
		p.APRBps, p.TotalInvested.String(), p.TotalShares.String(),
		p.Status, p.CreatedAt,
	)
	return err
}

const poolColumns = `id, pool_type, backing_ref,
       target_amount::TEXT, min_investment::TEXT, max_per_investor::TEXT,
       apr_bps, total_invested::TEXT, total_shares::TEXT,
       status, created_at, closed_at`

func scanPool(row pgx.Row) (*model.Pool, error) {
	var p model.Pool
	var target, minInv, maxInv, invested, shares string

	err := row.Scan(&p.ID, &p.PoolType, &p.BackingRef,
		&target, &minInv, &maxInv,
		&p.APRBps, &invested, &shares,
		&p.Status, &p.CreatedAt, &p.ClosedAt)
	if err != nil {
		return nil, err
	}

	p.TargetAmount, _ = decimal.NewFromString(target)
	p.MinInvestment, _ = decimal.NewFromString(minInv)
	p.MaxPerInvestor, _ = decimal.NewFromString(maxInv)
	p.TotalInvested, _ = decimal.NewFromString(invested)
	p.TotalShares, _ = decimal.NewFromString(shares)
	return &p, nil
}

func (s *PostgresStore) GetPool(ctx context.Context, id string) (*model.Pool, error) {
	p, err := scanPool(s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound,
				errs.WithEntity(id), errs.WithMessage("pool not found"))
		}
		return nil, fmt.Errorf("get pool %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.Pool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) UpdatePoolTotals(ctx context.Context, id string, totalInvested, totalShares decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pools SET total_invested = $2::NUMERIC, total_shares = $3::NUMERIC WHERE id = $1`,
		id, totalInvested.String(), totalShares.String(),
	)
	return err
}

func (s *PostgresStore) ClosePool(ctx context.Context, id string, closedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pools SET status = $2, closed_at = $3 WHERE id = $1`,
		id, model.PoolStatusClosed, closedAt,
	)
	return err
}

// --- Investor positions ---

func (s *PostgresStore) GetPosition(ctx context.Context, poolID, investor string) (*model.InvestorPosition, error) {
	pos := &model.InvestorPosition{PoolID: poolID, Investor: investor}

	var cumulative string
	err := s.pool.QueryRow(ctx,
		`SELECT cumulative_invested::TEXT FROM positions WHERE pool_id = $1 AND investor = $2`,
		poolID, investor).Scan(&cumulative)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// No position yet: read as zero.
	case err != nil:
		return nil, fmt.Errorf("get position %s/%s: %w", poolID, investor, err)
	default:
		pos.CumulativeInvested, _ = decimal.NewFromString(cumulative)
	}

	balance, err := s.ShareBalance(ctx, poolID, investor)
	if err != nil {
		return nil, err
	}
	pos.ShareBalance = balance
	return pos, nil
}

func (s *PostgresStore) SetPositionInvested(ctx context.Context, poolID, investor string, cumulative decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (pool_id, investor, cumulative_invested)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (pool_id, investor) DO UPDATE SET cumulative_invested = EXCLUDED.cumulative_invested`,
		poolID, investor, cumulative.String(),
	)
	return err
}

// --- Share registry partition ---

func (s *PostgresStore) ShareBalance(ctx context.Context, poolID, holder string) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM share_balances WHERE pool_id = $1 AND holder = $2`,
		poolID, holder).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("share balance %s/%s: %w", poolID, holder, err)
	}
	b, _ := decimal.NewFromString(balance)
	return b, nil
}

func (s *PostgresStore) SetShareBalance(ctx context.Context, poolID, holder string, balance decimal.Decimal) error {
	if balance.IsZero() {
		// Prune so the holder re-enters at the tail on a later mint.
		_, err := s.pool.Exec(ctx,
			`DELETE FROM share_balances WHERE pool_id = $1 AND holder = $2`,
			poolID, holder)
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO share_balances (pool_id, holder, balance)
		 VALUES ($1, $2, $3::NUMERIC)
		 ON CONFLICT (pool_id, holder) DO UPDATE SET balance = EXCLUDED.balance`,
		poolID, holder, balance.String(),
	)
	return err
}

func (s *PostgresStore) ListHolders(ctx context.Context, poolID string) ([]model.ShareHolder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT holder, balance::TEXT FROM share_balances
		 WHERE pool_id = $1 ORDER BY pos`, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holders []model.ShareHolder
	for rows.Next() {
		var h model.ShareHolder
		var balance string
		if err := rows.Scan(&h.Holder, &balance); err != nil {
			return nil, err
		}
		h.Balance, _ = decimal.NewFromString(balance)
		holders = append(holders, h)
	}
	return holders, rows.Err()
}

func (s *PostgresStore) ShareSupply(ctx context.Context, poolID string) (decimal.Decimal, error) {
	var supply string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(balance), 0)::TEXT FROM share_balances WHERE pool_id = $1`,
		poolID).Scan(&supply)
	if err != nil {
		return decimal.Zero, err
	}
	total, _ := decimal.NewFromString(supply)
	return total, nil
}

// --- Listings ---

func (s *PostgresStore) CreateListing(ctx context.Context, l *model.Listing) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO listings (id, seller, pool_id, share_amount, price_per_share, min_purchase,
		                       max_purchase, expires_at, active, total_price_at_creation, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9, $10::NUMERIC, $11)`,
		l.ID, l.Seller, l.PoolID,
		l.ShareAmount.String(), l.PricePerShare.String(), l.MinPurchase.String(),
		l.MaxPurchase.String(), l.ExpiresAt, l.Active,
		l.TotalPriceAtCreation.String(), l.CreatedAt,
	)
	return err
}

const listingColumns = `id, seller, pool_id,
       share_amount::TEXT, price_per_share::TEXT, min_purchase::TEXT, max_purchase::TEXT,
       expires_at, active, total_price_at_creation::TEXT, created_at`

func scanListing(row pgx.Row) (*model.Listing, error) {
	var l model.Listing
	var shares, price, minP, maxP, total string

	err := row.Scan(&l.ID, &l.Seller, &l.PoolID,
		&shares, &price, &minP, &maxP,
		&l.ExpiresAt, &l.Active, &total, &l.CreatedAt)
	if err != nil {
		return nil, err
	}

	l.ShareAmount, _ = decimal.NewFromString(shares)
	l.PricePerShare, _ = decimal.NewFromString(price)
	l.MinPurchase, _ = decimal.NewFromString(minP)
	l.MaxPurchase, _ = decimal.NewFromString(maxP)
	l.TotalPriceAtCreation, _ = decimal.NewFromString(total)
	return &l, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.New(errs.KindNotFound,
				errs.WithEntity(id), errs.WithMessage("listing not found"))
		}
		return nil, fmt.Errorf("get listing %s: %w", id, err)
	}
	return l, nil
}

func (s *PostgresStore) ListListings(ctx context.Context, activeOnly bool) ([]model.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) UpdateListing(ctx context.Context, id string, remaining decimal.Decimal, active bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE listings SET share_amount = $2::NUMERIC, active = $3 WHERE id = $1`,
		id, remaining.String(), active,
	)
	return err
}

// --- Orders ---

func (s *PostgresStore) InsertOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, listing_id, buyer, share_amount, total_price_paid, timestamp)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)`,
		o.ID, o.ListingID, o.Buyer,
		o.ShareAmount.String(), o.TotalPricePaid.String(), o.Timestamp,
	)
	return err
}

func (s *PostgresStore) GetOrdersByListing(ctx context.Context, listingID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, listing_id, buyer, share_amount::TEXT, total_price_paid::TEXT, timestamp
		 FROM orders WHERE listing_id = $1 ORDER BY timestamp`, listingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		var shares, price string
		if err := rows.Scan(&o.ID, &o.ListingID, &o.Buyer, &shares, &price, &o.Timestamp); err != nil {
			return nil, err
		}
		o.ShareAmount, _ = decimal.NewFromString(shares)
		o.TotalPricePaid, _ = decimal.NewFromString(price)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// --- Stats ---

func (s *PostgresStore) GetStats(ctx context.Context) (*model.MarketplaceStats, error) {
	var st model.MarketplaceStats
	var volume string

	err := s.pool.QueryRow(ctx,
		`SELECT total_listings, total_orders, total_volume::TEXT FROM marketplace_stats WHERE id = 1`).
		Scan(&st.TotalListings, &st.TotalOrders, &volume)
	if errors.Is(err, pgx.ErrNoRows) {
		st.TotalVolume = decimal.Zero
		return &st, nil
	}
	if err != nil {
		return nil, err
	}
	st.TotalVolume, _ = decimal.NewFromString(volume)
	return &st, nil
}

func (s *PostgresStore) IncrementListings(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO marketplace_stats (id, total_listings, total_orders, total_volume)
		 VALUES (1, 1, 0, 0)
		 ON CONFLICT (id) DO UPDATE SET total_listings = marketplace_stats.total_listings + 1`)
	return err
}

func (s *PostgresStore) RecordOrder(ctx context.Context, volume decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO marketplace_stats (id, total_listings, total_orders, total_volume)
		 VALUES (1, 0, 1, $1::NUMERIC)
		 ON CONFLICT (id) DO UPDATE SET
		   total_orders = marketplace_stats.total_orders + 1,
		   total_volume = marketplace_stats.total_volume + EXCLUDED.total_volume`,
		volume.String())
	return err
}
