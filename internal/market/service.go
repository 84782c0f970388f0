// Package market implements the peer-to-peer marketplace for pool shares:
// listing lifecycle and trade execution against the share registry and the
// settlement gateway, with atomic three-way fee splitting.
//
// Listed shares are escrowed into a marketplace-held registry account, so
// no allowance model is needed. Operations on the same listing are
// serialized by a per-listing mutex.
package market

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/errs"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/fixedpoint"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/locks"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/metrics"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/model"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/registry"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/settlement"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/store"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/stream"
)

// FeeConfig sets the marketplace fee split. Validated once at service
// construction; the runtime FeeExceedsPrice check is a defensive invariant
// only.
type FeeConfig struct {
	PlatformBps     int64
	RoyaltyBps      int64
	PlatformAccount string
	RoyaltyAccount  string
}

// Service handles marketplace operations.
// Pass nil for hub if WebSocket broadcasting is not needed.
type Service struct {
	store    store.Store
	registry *registry.Registry
	gateway  settlement.Gateway
	fees     FeeConfig
	locks    locks.Keyed
	hub      *stream.Hub
	now      func() time.Time
}

// NewService creates a marketplace service. Fails if the combined fee
// configuration exceeds 100%.
func NewService(
	st store.Store,
	reg *registry.Registry,
	gw settlement.Gateway,
	fees FeeConfig,
	hub *stream.Hub,
) (*Service, error) {
	if fees.PlatformBps < 0 || fees.RoyaltyBps < 0 ||
		fees.PlatformBps+fees.RoyaltyBps > 10000 {
		return nil, errs.New(errs.KindFeeExceedsPrice,
			errs.WithMessage("fee configuration %d+%d bps exceeds 10000",
				fees.PlatformBps, fees.RoyaltyBps))
	}
	return &Service{
		store:    st,
		registry: reg,
		gateway:  gw,
		fees:     fees,
		hub:      hub,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// CreateListingParams are the parameters for CreateListing.
type CreateListingParams struct {
	Seller        string
	PoolID        string
	ShareAmount   decimal.Decimal
	PricePerShare decimal.Decimal
	MinPurchase   decimal.Decimal
	MaxPurchase   decimal.Decimal
	ExpiresAt     time.Time // zero value = never expires
}

// CreateListing escrows the seller's shares into the marketplace account
// and opens the listing.
func (s *Service) CreateListing(ctx context.Context, p CreateListingParams) (*model.Listing, error) {
	if !p.ShareAmount.IsPositive() {
		return nil, errs.New(errs.KindInvalidListingParameters,
			errs.WithMessage("share amount must be positive"))
	}
	if !p.PricePerShare.IsPositive() {
		return nil, errs.New(errs.KindInvalidListingParameters,
			errs.WithMessage("price per share must be positive"))
	}
	if !p.MinPurchase.IsPositive() ||
		p.MinPurchase.GreaterThan(p.MaxPurchase) ||
		p.MaxPurchase.GreaterThan(p.ShareAmount) {
		return nil, errs.New(errs.KindInvalidListingParameters,
			errs.WithMessage("need 0 < min_purchase <= max_purchase <= share_amount"))
	}
	if !p.ExpiresAt.IsZero() && !p.ExpiresAt.After(s.now()) {
		return nil, errs.New(errs.KindInvalidListingParameters,
			errs.WithMessage("expiry is in the past"))
	}
	if _, err := s.store.GetPool(ctx, p.PoolID); err != nil {
		return nil, err
	}

	// Escrow the shares; fails with InsufficientShares when the seller's
	// registry balance cannot cover the listing.
	if err := s.registry.Transfer(ctx, p.PoolID, p.Seller,
		settlement.MarketplaceEscrow, p.ShareAmount); err != nil {
		return nil, err
	}

	totalPrice, err := fixedpoint.MulDivCurrency(p.ShareAmount, p.PricePerShare, decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}

	listing := &model.Listing{
		ID:                   uuid.New().String(),
		Seller:               p.Seller,
		PoolID:               p.PoolID,
		ShareAmount:          p.ShareAmount,
		PricePerShare:        p.PricePerShare,
		MinPurchase:          p.MinPurchase,
		MaxPurchase:          p.MaxPurchase,
		ExpiresAt:            p.ExpiresAt,
		Active:               true,
		TotalPriceAtCreation: totalPrice,
		CreatedAt:            s.now(),
	}

	if err := s.store.CreateListing(ctx, listing); err != nil {
		return nil, err
	}
	if err := s.store.IncrementListings(ctx); err != nil {
		return nil, err
	}

	metrics.ActiveListings.Inc()
	slog.Info("listing created",
		"id", listing.ID,
		"seller", p.Seller,
		"pool", p.PoolID,
		"shares", p.ShareAmount.String(),
		"price", p.PricePerShare.String(),
	)
	s.hub.Broadcast(stream.Event{
		Type:      stream.EventListingCreated,
		PoolID:    p.PoolID,
		ListingID: listing.ID,
		Shares:    p.ShareAmount.String(),
	})
	return listing, nil
}

// BuyShares fills shareAmount of a listing: charges the buyer the total
// price, splits it three ways (two floored fees plus remainder to the
// seller, so the split is exact), moves the shares out of escrow, and
// appends the immutable order record.
func (s *Service) BuyShares(ctx context.Context, buyer, listingID string, shareAmount decimal.Decimal) (*model.Order, error) {
	unlock := s.locks.Lock(listingID)
	defer unlock()

	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if !listing.Active {
		return nil, errs.New(errs.KindInvalidListingParameters,
			errs.WithEntity(listingID), errs.WithMessage("listing is not active"))
	}
	if !listing.ExpiresAt.IsZero() && !s.now().Before(listing.ExpiresAt) {
		return nil, errs.New(errs.KindInvalidListingParameters,
			errs.WithEntity(listingID), errs.WithMessage("listing has expired"))
	}
	if buyer == listing.Seller {
		return nil, errs.New(errs.KindSelfTradeNotAllowed, errs.WithEntity(listingID))
	}

	maxFill := decimal.Min(listing.MaxPurchase, listing.ShareAmount)
	if shareAmount.LessThan(listing.MinPurchase) {
		return nil, errs.New(errs.KindInvalidListingParameters,
			errs.WithEntity(listingID), errs.WithBound(listing.MinPurchase),
			errs.WithMessage("purchase %s is below the listing minimum", shareAmount))
	}
	if shareAmount.GreaterThan(maxFill) {
		return nil, errs.New(errs.KindInvalidListingParameters,
			errs.WithEntity(listingID), errs.WithBound(maxFill),
			errs.WithMessage("purchase %s exceeds the fillable amount", shareAmount))
	}

	totalPrice, err := fixedpoint.MulDivCurrency(shareAmount, listing.PricePerShare, decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}
	platformFee := fixedpoint.BpsFee(totalPrice, s.fees.PlatformBps)
	royaltyFee := fixedpoint.BpsFee(totalPrice, s.fees.RoyaltyBps)
	sellerProceeds := totalPrice.Sub(platformFee).Sub(royaltyFee)
	if sellerProceeds.IsNegative() {
		// Only reachable on a misconfigured fee schedule; NewService
		// rejects those, so this is a defensive invariant.
		return nil, errs.New(errs.KindFeeExceedsPrice,
			errs.WithEntity(listingID), errs.WithBound(totalPrice))
	}

	// Two-phase settlement: charge the buyer into the marketplace escrow,
	// then fan out. Any fan-out failure refunds the buyer so no partial
	// transfer is observable.
	if err := s.gateway.Transfer(ctx, buyer, settlement.MarketplaceEscrow, totalPrice); err != nil {
		metrics.OrdersTotal.WithLabelValues("settlement_failed").Inc()
		metrics.SettlementFailures.Inc()
		return nil, asSettlementError(err, listingID)
	}
	if err := s.payout(ctx, listing.Seller, sellerProceeds,
		s.fees.PlatformAccount, platformFee,
		s.fees.RoyaltyAccount, royaltyFee); err != nil {
		s.refund(ctx, buyer, totalPrice)
		metrics.OrdersTotal.WithLabelValues("settlement_failed").Inc()
		metrics.SettlementFailures.Inc()
		return nil, asSettlementError(err, listingID)
	}

	// Currency has settled; move the escrowed shares and commit the fill.
	if err := s.registry.Transfer(ctx, listing.PoolID,
		settlement.MarketplaceEscrow, buyer, shareAmount); err != nil {
		return nil, err
	}

	remaining := listing.ShareAmount.Sub(shareAmount)
	active := !remaining.IsZero()
	if err := s.store.UpdateListing(ctx, listingID, remaining, active); err != nil {
		return nil, err
	}
	if !active {
		metrics.ActiveListings.Dec()
	}

	order := &model.Order{
		ID:             uuid.New().String(),
		ListingID:      listingID,
		Buyer:          buyer,
		ShareAmount:    shareAmount,
		TotalPricePaid: totalPrice,
		Timestamp:      s.now(),
	}
	if err := s.store.InsertOrder(ctx, order); err != nil {
		return nil, err
	}
	if err := s.store.RecordOrder(ctx, totalPrice); err != nil {
		return nil, err
	}

	metrics.OrdersTotal.WithLabelValues("ok").Inc()
	metrics.TradedVolume.Add(totalPrice.InexactFloat64())
	slog.Info("order executed",
		"order", order.ID,
		"listing", listingID,
		"buyer", buyer,
		"shares", shareAmount.String(),
		"total_price", totalPrice.String(),
		"platform_fee", platformFee.String(),
		"royalty_fee", royaltyFee.String(),
		"seller_proceeds", sellerProceeds.String(),
	)
	s.hub.Broadcast(stream.Event{
		Type:      stream.EventOrderExecuted,
		PoolID:    listing.PoolID,
		ListingID: listingID,
		Account:   buyer,
		Amount:    totalPrice.String(),
		Shares:    shareAmount.String(),
	})
	return order, nil
}

// payout fans the escrowed charge out to seller and fee recipients.
// Zero fees are skipped rather than sent as empty transfers.
func (s *Service) payout(ctx context.Context,
	seller string, sellerProceeds decimal.Decimal,
	platformAccount string, platformFee decimal.Decimal,
	royaltyAccount string, royaltyFee decimal.Decimal,
) error {
	if sellerProceeds.IsPositive() {
		if err := s.gateway.Transfer(ctx, settlement.MarketplaceEscrow, seller, sellerProceeds); err != nil {
			return err
		}
	}
	if platformFee.IsPositive() {
		if err := s.gateway.Transfer(ctx, settlement.MarketplaceEscrow, platformAccount, platformFee); err != nil {
			return err
		}
	}
	if royaltyFee.IsPositive() {
		if err := s.gateway.Transfer(ctx, settlement.MarketplaceEscrow, royaltyAccount, royaltyFee); err != nil {
			return err
		}
	}
	return nil
}

// refund is best-effort compensation after a fan-out failure.
func (s *Service) refund(ctx context.Context, buyer string, amount decimal.Decimal) {
	if err := s.gateway.Transfer(ctx, settlement.MarketplaceEscrow, buyer, amount); err != nil {
		slog.Error("refund after failed payout did not settle",
			"buyer", buyer, "amount", amount.String(), "err", err)
	}
}

// CancelListing returns the remaining escrowed shares to the seller and
// deactivates the listing. Only the seller may cancel.
func (s *Service) CancelListing(ctx context.Context, seller, listingID string) (*model.Listing, error) {
	unlock := s.locks.Lock(listingID)
	defer unlock()

	listing, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.Seller != seller {
		return nil, errs.New(errs.KindUnauthorized,
			errs.WithEntity(listingID), errs.WithMessage("only the seller may cancel"))
	}
	if !listing.Active {
		return nil, errs.New(errs.KindInvalidListingParameters,
			errs.WithEntity(listingID), errs.WithMessage("listing is not active"))
	}

	if listing.ShareAmount.IsPositive() {
		if err := s.registry.Transfer(ctx, listing.PoolID,
			settlement.MarketplaceEscrow, seller, listing.ShareAmount); err != nil {
			return nil, err
		}
	}
	if err := s.store.UpdateListing(ctx, listingID, listing.ShareAmount, false); err != nil {
		return nil, err
	}

	listing.Active = false
	metrics.ActiveListings.Dec()
	slog.Info("listing cancelled", "listing", listingID, "seller", seller)
	s.hub.Broadcast(stream.Event{
		Type:      stream.EventListingCancelled,
		PoolID:    listing.PoolID,
		ListingID: listingID,
	})
	return listing, nil
}

// GetListing returns a listing by id. Pure read.
func (s *Service) GetListing(ctx context.Context, listingID string) (*model.Listing, error) {
	return s.store.GetListing(ctx, listingID)
}

// ListingOrders returns the immutable fill log for a listing.
func (s *Service) ListingOrders(ctx context.Context, listingID string) ([]model.Order, error) {
	if _, err := s.store.GetListing(ctx, listingID); err != nil {
		return nil, err
	}
	return s.store.GetOrdersByListing(ctx, listingID)
}

// ListListings returns listings, optionally only active ones.
func (s *Service) ListListings(ctx context.Context, activeOnly bool) ([]model.Listing, error) {
	return s.store.ListListings(ctx, activeOnly)
}

// Stats returns the monotonic marketplace counters.
func (s *Service) Stats(ctx context.Context) (*model.MarketplaceStats, error) {
	return s.store.GetStats(ctx)
}

func asSettlementError(err error, listingID string) error {
	var e *errs.E
	if errors.As(err, &e) && e.Kind == errs.KindSettlementFailed {
		return err
	}
	return errs.New(errs.KindSettlementFailed,
		errs.WithEntity(listingID), errs.WithCause(err))
}
