package settlement

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/errs"
)

// MemoryGateway implements Gateway with in-memory balances. Used for
// testing, demos, and development runs without an external settlement
// service. Transfers are atomic under a single mutex and fail when the
// source balance is insufficient.
type MemoryGateway struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	failNext error // injected failure for the next Transfer
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{balances: make(map[string]decimal.Decimal)}
}

// Credit seeds an account balance. Test and bootstrap helper.
func (g *MemoryGateway) Credit(account string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.balances[account] = g.balances[account].Add(amount)
}

// FailNextTransfer makes the next Transfer call return the given error.
// Lets tests verify that operations abort with zero state change.
func (g *MemoryGateway) FailNextTransfer(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = err
}

func (g *MemoryGateway) Transfer(_ context.Context, from, to string, amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failNext != nil {
		err := g.failNext
		g.failNext = nil
		return errs.New(errs.KindSettlementFailed, errs.WithCause(err))
	}
	if amount.IsNegative() {
		return errs.New(errs.KindSettlementFailed,
			errs.WithMessage("transfer amount is negative"))
	}

	balance := g.balances[from]
	if balance.LessThan(amount) {
		return errs.New(errs.KindSettlementFailed,
			errs.WithBound(balance),
			errs.WithMessage("account %s cannot cover %s", from, amount))
	}

	g.balances[from] = balance.Sub(amount)
	g.balances[to] = g.balances[to].Add(amount)
	return nil
}

func (g *MemoryGateway) BalanceOf(_ context.Context, account string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.balances[account], nil
}

// MemoryApprovals implements ApprovalChecker with a fixed approval set.
type MemoryApprovals struct {
	mu       sync.RWMutex
	approved map[string]bool
}

// NewMemoryApprovals creates an approval checker with the given refs
// pre-approved.
func NewMemoryApprovals(refs ...string) *MemoryApprovals {
	a := &MemoryApprovals{approved: make(map[string]bool, len(refs))}
	for _, ref := range refs {
		a.approved[ref] = true
	}
	return a
}

// Approve marks a backing ref as externally approved.
func (a *MemoryApprovals) Approve(ref string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.approved[ref] = true
}

func (a *MemoryApprovals) IsApproved(_ context.Context, backingRef string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.approved[backingRef], nil
}
