// Package registry implements the per-pool share registry: the mapping of
// holder to share balance behind every pool and every marketplace escrow
// move. It enforces the balance invariants; the pool ledger keeps each
// partition's total supply in lockstep with the pool's recorded total.
package registry

import (
	"context"
	"fmt"
	"iter"

	"github.com/shopspring/decimal"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/errs"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/locks"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/store"
)

// Registry provides mint/burn/transfer primitives over a pool's share
// partition. No allowance model: only the marketplace escrow account
// mediates third-party moves.
//
// Each mutation is an atomic check-and-set on its partition: the balance
// read and the write happen under a per-pool mutex, so concurrent callers
// cannot both spend the same balance and partition supply stays equal to
// the pool's recorded total.
type Registry struct {
	store store.Store
	locks locks.Keyed
}

// New creates a registry over the given store.
func New(st store.Store) *Registry {
	return &Registry{store: st}
}

// Mint credits newly issued shares to a holder. A holder minted for the
// first time enters the pool's holder order at the tail.
func (r *Registry) Mint(ctx context.Context, poolID, holder string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errs.New(errs.KindInsufficientShares,
			errs.WithEntity(poolID), errs.WithMessage("mint amount is negative"))
	}
	unlock := r.locks.Lock(poolID)
	defer unlock()

	balance, err := r.store.ShareBalance(ctx, poolID, holder)
	if err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	return r.store.SetShareBalance(ctx, poolID, holder, balance.Add(amount))
}

// Burn destroys shares held by a holder.
func (r *Registry) Burn(ctx context.Context, poolID, holder string, amount decimal.Decimal) error {
	unlock := r.locks.Lock(poolID)
	defer unlock()

	balance, err := r.store.ShareBalance(ctx, poolID, holder)
	if err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	if amount.GreaterThan(balance) {
		return errs.New(errs.KindInsufficientShares,
			errs.WithEntity(poolID), errs.WithBound(balance),
			errs.WithMessage("burn %s exceeds balance of %s", amount, holder))
	}
	return r.store.SetShareBalance(ctx, poolID, holder, balance.Sub(amount))
}

// Transfer moves shares between two holders in the same pool.
func (r *Registry) Transfer(ctx context.Context, poolID, from, to string, amount decimal.Decimal) error {
	unlock := r.locks.Lock(poolID)
	defer unlock()

	fromBalance, err := r.store.ShareBalance(ctx, poolID, from)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	if amount.GreaterThan(fromBalance) {
		return errs.New(errs.KindInsufficientShares,
			errs.WithEntity(poolID), errs.WithBound(fromBalance),
			errs.WithMessage("transfer %s exceeds balance of %s", amount, from))
	}
	toBalance, err := r.store.ShareBalance(ctx, poolID, to)
	if err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	if err := r.store.SetShareBalance(ctx, poolID, from, fromBalance.Sub(amount)); err != nil {
		return err
	}
	return r.store.SetShareBalance(ctx, poolID, to, toBalance.Add(amount))
}

// BalanceOf returns a holder's balance. Zero when the holder is unknown.
func (r *Registry) BalanceOf(ctx context.Context, poolID, holder string) (decimal.Decimal, error) {
	return r.store.ShareBalance(ctx, poolID, holder)
}

// TotalSupply returns the sum of all balances in a pool's partition.
func (r *Registry) TotalSupply(ctx context.Context, poolID string) (decimal.Decimal, error) {
	return r.store.ShareSupply(ctx, poolID)
}

// Holders returns a lazy, restartable sequence of (holder, balance) pairs
// with non-zero balance, in first-mint order. The sequence iterates a
// snapshot, so it is stable even if balances change mid-iteration —
// required for the deterministic single-pass yield distribution.
func (r *Registry) Holders(ctx context.Context, poolID string) (iter.Seq2[string, decimal.Decimal], error) {
	snapshot, err := r.store.ListHolders(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("holders: %w", err)
	}
	return func(yield func(string, decimal.Decimal) bool) {
		for _, h := range snapshot {
			if h.Balance.IsZero() {
				continue
			}
			if !yield(h.Holder, h.Balance) {
				return
			}
		}
	}, nil
}
