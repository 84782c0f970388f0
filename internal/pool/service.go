// Package pool owns the pool ledger: pool lifecycle, investment and
// withdrawal accounting, cap enforcement, and proportional yield and
// principal distribution.
//
// Every operation is all-or-nothing: the settlement gateway is charged
// before any ledger state mutates, so a gateway failure leaves zero
// observable change. Operations on the same pool are serialized by a
// per-pool mutex; disjoint pools proceed in parallel.
package pool

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

// Service handles pool ledger operations.
// Pass nil for hub if WebSocket broadcasting is not needed.
type Service struct {
	store     store.Store
	registry  *registry.Registry
	gateway   settlement.Gateway
	approvals settlement.ApprovalChecker
	managers  map[string]bool
	locks     locks.Keyed
	hub       *stream.Hub
	now       func() time.Time
}

// NewService creates a new pool ledger service. managers is the allow-list
// of accounts authorized to create and close pools.
func NewService(
	st store.Store,
	reg *registry.Registry,
	gw settlement.Gateway,
	approvals settlement.ApprovalChecker,
	managers []string,
	hub *stream.Hub,
) *Service {
	allowed := make(map[string]bool, len(managers))
	for _, m := range managers {
		allowed[m] = true
	}
	return &Service{
		store:     st,
		registry:  reg,
		gateway:   gw,
		approvals: approvals,
		managers:  allowed,
		hub:       hub,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreatePoolParams are the parameters for CreatePool.
type CreatePoolParams struct {
	Manager        string
	PoolType       string
	BackingRef     string
	TargetAmount   decimal.Decimal
	MinInvestment  decimal.Decimal
	MaxPerInvestor decimal.Decimal
	APRBps         int64
}

// CreatePool creates a new active pool with zero totals and an empty share
// registry partition. The backing asset must already be externally
// approved, and the caller must be an authorized manager.
func (s *Service) CreatePool(ctx context.Context, p CreatePoolParams) (*model.Pool, error) {
	if !s.managers[p.Manager] {
		return nil, errs.New(errs.KindUnauthorized,
			errs.WithMessage("%s is not a pool manager", p.Manager))
	}
	if p.PoolType != model.PoolTypeAssetBacked && p.PoolType != model.PoolTypeReceivableBacked {
		return nil, errs.New(errs.KindInvalidPoolParameters,
			errs.WithMessage("unknown pool type %q", p.PoolType))
	}
	if p.BackingRef == "" {
		return nil, errs.New(errs.KindInvalidPoolParameters,
			errs.WithMessage("backing ref is required"))
	}
	if !p.TargetAmount.IsPositive() {
		return nil, errs.New(errs.KindInvalidPoolParameters,
			errs.WithMessage("target amount must be positive"))
	}
	if !p.MinInvestment.IsPositive() ||
		p.MinInvestment.GreaterThan(p.MaxPerInvestor) ||
		p.MaxPerInvestor.GreaterThan(p.TargetAmount) {
		return nil, errs.New(errs.KindInvalidPoolParameters,
			errs.WithMessage("need 0 < min_investment <= max_per_investor <= target_amount"))
	}
	if p.APRBps < 0 {
		return nil, errs.New(errs.KindInvalidPoolParameters,
			errs.WithMessage("apr_bps must be non-negative"))
	}

	approved, err := s.approvals.IsApproved(ctx, p.BackingRef)
	if err != nil {
		return nil, errs.New(errs.KindBackingNotApproved,
			errs.WithCause(err), errs.WithMessage("approval check failed for %s", p.BackingRef))
	}
	if !approved {
		return nil, errs.New(errs.KindBackingNotApproved,
			errs.WithMessage("backing ref %s is not approved", p.BackingRef))
	}

	pool := &model.Pool{
		ID:             uuid.New().String(),
		PoolType:       p.PoolType,
		BackingRef:     p.BackingRef,
		TargetAmount:   fixedpoint.FloorCurrency(p.TargetAmount),
		MinInvestment:  fixedpoint.FloorCurrency(p.MinInvestment),
		MaxPerInvestor: fixedpoint.FloorCurrency(p.MaxPerInvestor),
		APRBps:         p.APRBps,
		TotalInvested:  decimal.Zero,
		TotalShares:    decimal.Zero,
		Status:         model.PoolStatusActive,
		CreatedAt:      s.now(),
	}

	if err := s.store.CreatePool(ctx, pool); err != nil {
		return nil, err
	}

	metrics.ActivePools.Inc()
	slog.Info("pool created",
		"id", pool.ID,
		"type", pool.PoolType,
		"backing_ref", pool.BackingRef,
		"target", pool.TargetAmount.String(),
	)
	s.hub.Broadcast(stream.Event{
		Type:   stream.EventPoolCreated,
		PoolID: pool.ID,
		Amount: pool.TargetAmount.String(),
	})
	return pool, nil
}

// Invest pulls amount from the investor into the pool escrow and mints
// proportional shares. Returns the minted share amount.
//
// The first investment bootstraps a 1:1 nominal share price; later
// investments preserve the existing price-per-share ratio.
func (s *Service) Invest(ctx context.Context, poolID, investor string, amount decimal.Decimal) (decimal.Decimal, error) {
	unlock := s.locks.Lock(poolID)
	defer unlock()

	pool, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return decimal.Zero, err
	}
	if pool.Status != model.PoolStatusActive {
		return decimal.Zero, errs.New(errs.KindPoolClosed, errs.WithEntity(poolID))
	}
	if amount.LessThan(pool.MinInvestment) {
		return decimal.Zero, errs.New(errs.KindBelowMinimumInvestment,
			errs.WithEntity(poolID), errs.WithBound(pool.MinInvestment),
			errs.WithMessage("investment %s is below the pool minimum", amount))
	}

	position, err := s.store.GetPosition(ctx, poolID, investor)
	if err != nil {
		return decimal.Zero, err
	}
	newCumulative := position.CumulativeInvested.Add(amount)
	if newCumulative.GreaterThan(pool.MaxPerInvestor) {
		metrics.InvestmentsTotal.WithLabelValues("rejected").Inc()
		return decimal.Zero, errs.New(errs.KindInvestorCapExceeded,
			errs.WithEntity(poolID), errs.WithBound(pool.MaxPerInvestor),
			errs.WithMessage("cumulative %s would exceed the per-investor cap", newCumulative))
	}
	if pool.TotalInvested.Add(amount).GreaterThan(pool.TargetAmount) {
		metrics.InvestmentsTotal.WithLabelValues("rejected").Inc()
		return decimal.Zero, errs.New(errs.KindPoolCapacityExceeded,
			errs.WithEntity(poolID), errs.WithBound(pool.TargetAmount),
			errs.WithMessage("pool total %s would exceed the target", pool.TotalInvested.Add(amount)))
	}

	// Shares at the current ratio, floored at share scale.
	var shares decimal.Decimal
	if pool.TotalShares.IsZero() {
		shares = fixedpoint.FloorShares(amount)
	} else {
		shares, err = fixedpoint.MulDivShares(amount, pool.TotalShares, pool.TotalInvested)
		if err != nil {
			return decimal.Zero, err
		}
	}

	// Charge the gateway before any ledger mutation: a failed pull aborts
	// with zero state change.
	if err := s.gateway.Transfer(ctx, investor, settlement.PoolEscrow(poolID), amount); err != nil {
		metrics.InvestmentsTotal.WithLabelValues("settlement_failed").Inc()
		metrics.SettlementFailures.Inc()
		return decimal.Zero, asSettlementError(err, poolID)
	}

	if err := s.registry.Mint(ctx, poolID, investor, shares); err != nil {
		return decimal.Zero, err
	}
	if err := s.store.UpdatePoolTotals(ctx, poolID,
		pool.TotalInvested.Add(amount), pool.TotalShares.Add(shares)); err != nil {
		return decimal.Zero, err
	}
	if err := s.store.SetPositionInvested(ctx, poolID, investor, newCumulative); err != nil {
		return decimal.Zero, err
	}

	metrics.InvestmentsTotal.WithLabelValues("ok").Inc()
	metrics.InvestedVolume.WithLabelValues(poolID).Add(amount.InexactFloat64())
	slog.Info("investment accepted",
		"pool", poolID,
		"investor", investor,
		"amount", amount.String(),
		"shares", shares.String(),
	)
	s.hub.Broadcast(stream.Event{
		Type:    stream.EventInvestment,
		PoolID:  poolID,
		Account: investor,
		Amount:  amount.String(),
		Shares:  shares.String(),
	})
	return shares, nil
}

// Withdraw burns shareAmount and pays out the pro-rata slice of invested
// principal. Yield already distributed is not part of this calculation —
// yield moves only through DistributeYield.
func (s *Service) Withdraw(ctx context.Context, poolID, investor string, shareAmount decimal.Decimal) (decimal.Decimal, error) {
	unlock := s.locks.Lock(poolID)
	defer unlock()

	pool, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return decimal.Zero, err
	}
	if pool.Status != model.PoolStatusActive {
		return decimal.Zero, errs.New(errs.KindPoolClosed, errs.WithEntity(poolID))
	}

	balance, err := s.registry.BalanceOf(ctx, poolID, investor)
	if err != nil {
		return decimal.Zero, err
	}
	if shareAmount.GreaterThan(balance) {
		return decimal.Zero, errs.New(errs.KindInsufficientShares,
			errs.WithEntity(poolID), errs.WithBound(balance),
			errs.WithMessage("withdraw of %s exceeds share balance", shareAmount))
	}

	principal, err := fixedpoint.MulDivCurrency(shareAmount, pool.TotalInvested, pool.TotalShares)
	if err != nil {
		return decimal.Zero, err
	}

	// Principal may be deployed by a higher-level vault; enforce the
	// liquidity check and propagate the failure without partial effect.
	escrow := settlement.PoolEscrow(poolID)
	available, err := s.gateway.BalanceOf(ctx, escrow)
	if err != nil {
		return decimal.Zero, asSettlementError(err, poolID)
	}
	if available.LessThan(principal) {
		metrics.WithdrawalsTotal.WithLabelValues("illiquid").Inc()
		return decimal.Zero, errs.New(errs.KindInsufficientPoolLiquidity,
			errs.WithEntity(poolID), errs.WithBound(available),
			errs.WithMessage("escrow cannot cover principal %s", principal))
	}

	// Currency moves first; the ledger mutations below cannot fail the
	// preconditions just checked under the pool lock.
	if err := s.gateway.Transfer(ctx, escrow, investor, principal); err != nil {
		metrics.WithdrawalsTotal.WithLabelValues("settlement_failed").Inc()
		metrics.SettlementFailures.Inc()
		return decimal.Zero, asSettlementError(err, poolID)
	}

	if err := s.registry.Burn(ctx, poolID, investor, shareAmount); err != nil {
		return decimal.Zero, err
	}
	if err := s.store.UpdatePoolTotals(ctx, poolID,
		pool.TotalInvested.Sub(principal), pool.TotalShares.Sub(shareAmount)); err != nil {
		return decimal.Zero, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("ok").Inc()
	slog.Info("withdrawal paid",
		"pool", poolID,
		"investor", investor,
		"shares", shareAmount.String(),
		"principal", principal.String(),
	)
	s.hub.Broadcast(stream.Event{
		Type:    stream.EventWithdrawal,
		PoolID:  poolID,
		Account: investor,
		Amount:  principal.String(),
		Shares:  shareAmount.String(),
	})
	return principal, nil
}

// DistributeYield charges the distributor and pays every shareholder
// floor(totalAmount * balance / totalShares) in one deterministic pass.
// The floor remainder stays in the distribution escrow and is reported in
// the result — callers may sweep it to a treasury or carry it forward.
// Permitted on closed pools so final proceeds can settle.
//
// A gateway failure mid-payout cannot claw back holders already paid;
// the unpaid remainder is refunded to the distributor and the call fails
// with SettlementFailed.
func (s *Service) DistributeYield(ctx context.Context, poolID, distributor string, totalAmount decimal.Decimal) (*model.DistributionResult, error) {
	unlock := s.locks.Lock(poolID)
	defer unlock()

	pool, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool.TotalShares.IsZero() {
		metrics.DistributionsTotal.WithLabelValues("rejected").Inc()
		return nil, errs.New(errs.KindNoShareholders, errs.WithEntity(poolID))
	}
	if !totalAmount.IsPositive() {
		return nil, errs.New(errs.KindInvalidPoolParameters,
			errs.WithEntity(poolID), errs.WithMessage("distribution amount must be positive"))
	}

	// Charge the full amount up front; a failure here means no payouts
	// happened at all.
	escrow := settlement.DistributionEscrow(poolID)
	if err := s.gateway.Transfer(ctx, distributor, escrow, totalAmount); err != nil {
		metrics.DistributionsTotal.WithLabelValues("settlement_failed").Inc()
		metrics.SettlementFailures.Inc()
		return nil, asSettlementError(err, poolID)
	}

	holders, err := s.registry.Holders(ctx, poolID)
	if err != nil {
		return nil, err
	}

	paid := decimal.Zero
	payouts := 0
	for holder, balance := range holders {
		payout, err := fixedpoint.MulDivCurrency(totalAmount, balance, pool.TotalShares)
		if err != nil {
			return nil, err
		}
		if payout.IsZero() {
			continue
		}
		if err := s.gateway.Transfer(ctx, escrow, holder, payout); err != nil {
			s.refundRemainder(ctx, escrow, distributor, totalAmount.Sub(paid))
			metrics.DistributionsTotal.WithLabelValues("settlement_failed").Inc()
			metrics.SettlementFailures.Inc()
			return nil, asSettlementError(err, poolID)
		}
		paid = paid.Add(payout)
		payouts++
	}

	result := &model.DistributionResult{
		PoolID:      poolID,
		TotalAmount: totalAmount,
		TotalPaid:   paid,
		Dust:        totalAmount.Sub(paid),
		Payouts:     payouts,
	}

	metrics.DistributionsTotal.WithLabelValues("ok").Inc()
	slog.Info("yield distributed",
		"pool", poolID,
		"distributor", distributor,
		"total", totalAmount.String(),
		"paid", paid.String(),
		"dust", result.Dust.String(),
		"payouts", payouts,
	)
	s.hub.Broadcast(stream.Event{
		Type:   stream.EventYieldDistributed,
		PoolID: poolID,
		Amount: totalAmount.String(),
	})
	return result, nil
}

// refundRemainder is best-effort compensation after a payout failure:
// holders already paid keep their payouts, and the unpaid remainder goes
// back to the distributor instead of stranding in the distribution escrow.
func (s *Service) refundRemainder(ctx context.Context, escrow, distributor string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	if err := s.gateway.Transfer(ctx, escrow, distributor, amount); err != nil {
		slog.Error("remainder refund after failed payout did not settle",
			"distributor", distributor, "amount", amount.String(), "err", err)
	}
}

// ClosePool irreversibly closes a pool. Invest and Withdraw fail with
// PoolClosed afterwards; DistributeYield remains permitted.
func (s *Service) ClosePool(ctx context.Context, poolID, caller string) error {
	if !s.managers[caller] {
		return errs.New(errs.KindUnauthorized,
			errs.WithEntity(poolID), errs.WithMessage("%s is not a pool manager", caller))
	}

	unlock := s.locks.Lock(poolID)
	defer unlock()

	pool, err := s.store.GetPool(ctx, poolID)
	if err != nil {
		return err
	}
	if pool.Status != model.PoolStatusActive {
		return errs.New(errs.KindPoolClosed, errs.WithEntity(poolID))
	}

	if err := s.store.ClosePool(ctx, poolID, s.now()); err != nil {
		return err
	}

	metrics.ActivePools.Dec()
	slog.Info("pool closed", "pool", poolID, "caller", caller)
	s.hub.Broadcast(stream.Event{Type: stream.EventPoolClosed, PoolID: poolID})
	return nil
}

// GetPool returns a pool by id. Pure read.
func (s *Service) GetPool(ctx context.Context, poolID string) (*model.Pool, error) {
	return s.store.GetPool(ctx, poolID)
}

// GetUserInvestment returns an investor's position in a pool, including
// the live share balance from the registry.
func (s *Service) GetUserInvestment(ctx context.Context, poolID, investor string) (*model.InvestorPosition, error) {
	if _, err := s.store.GetPool(ctx, poolID); err != nil {
		return nil, err
	}
	return s.store.GetPosition(ctx, poolID, investor)
}

// ListPools returns all pools.
func (s *Service) ListPools(ctx context.Context) ([]model.Pool, error) {
	return s.store.ListPools(ctx)
}

// asSettlementError normalizes gateway failures to the taxonomy kind while
// keeping envelopes produced by the gateway itself intact.
func asSettlementError(err error, poolID string) error {
	var e *errs.E
	if errors.As(err, &e) && e.Kind == errs.KindSettlementFailed {
		return err
	}
	return errs.New(errs.KindSettlementFailed,
		errs.WithEntity(poolID), errs.WithCause(err))
}
