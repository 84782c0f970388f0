package market_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/errs"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/market"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/model"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/registry"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/settlement"
	"github.com/Osiyomeoh/novax-yield-sub003/internal/store"
)

const testPoolID = "pool-1"

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

type env struct {
	store    *store.MemoryStore
	registry *registry.Registry
	gateway  *settlement.MemoryGateway
	svc      *market.Service
}

func defaultFees() market.FeeConfig {
	return market.FeeConfig{
		PlatformBps:     250,
		RoyaltyBps:      100,
		PlatformAccount: "treasury:platform",
		RoyaltyAccount:  "treasury:royalty",
	}
}

// newEnv seeds a pool whose seller holds 1000 shares.
func newEnv(t *testing.T) *env {
	t.Helper()
	st := store.NewMemoryStore()
	reg := registry.New(st)
	gw := settlement.NewMemoryGateway()

	svc, err := market.NewService(st, reg, gw, defaultFees(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx := context.Background()
	err = st.CreatePool(ctx, &model.Pool{
		ID:             testPoolID,
		PoolType:       model.PoolTypeAssetBacked,
		BackingRef:     "asset:warehouse-7",
		TargetAmount:   d("10000"),
		MinInvestment:  d("100"),
		MaxPerInvestor: d("5000"),
		APRBps:         1200,
		TotalInvested:  d("1000"),
		TotalShares:    d("1000"),
		Status:         model.PoolStatusActive,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if err := reg.Mint(ctx, testPoolID, "seller", d("1000")); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return &env{store: st, registry: reg, gateway: gw, svc: svc}
}

func validListing() market.CreateListingParams {
	return market.CreateListingParams{
		Seller:        "seller",
		PoolID:        testPoolID,
		ShareAmount:   d("1000"),
		PricePerShare: d("1.10"),
		MinPurchase:   d("10"),
		MaxPurchase:   d("500"),
	}
}

func (e *env) createListing(t *testing.T) *model.Listing {
	t.Helper()
	l, err := e.svc.CreateListing(context.Background(), validListing())
	if err != nil {
		t.Fatalf("CreateListing: %v", err)
	}
	return l
}

func wantKind(t *testing.T, err error, kind errs.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := errs.KindOf(err); got != kind {
		t.Fatalf("expected kind %s, got %s (%v)", kind, got, err)
	}
}

func TestNewService_RejectsBadFees(t *testing.T) {
	st := store.NewMemoryStore()
	reg := registry.New(st)
	gw := settlement.NewMemoryGateway()

	cases := []struct {
		name string
		fees market.FeeConfig
	}{
		{"negative platform", market.FeeConfig{PlatformBps: -1, RoyaltyBps: 100}},
		{"negative royalty", market.FeeConfig{PlatformBps: 100, RoyaltyBps: -1}},
		{"sum above 100 percent", market.FeeConfig{PlatformBps: 6000, RoyaltyBps: 5000}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := market.NewService(st, reg, gw, tc.fees, nil)
			wantKind(t, err, errs.KindFeeExceedsPrice)
		})
	}
}

func TestCreateListing_EscrowsShares(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	l := e.createListing(t)

	if !l.Active {
		t.Error("expected listing to open active")
	}
	if !l.TotalPriceAtCreation.Equal(d("1100")) {
		t.Errorf("expected total price 1100, got %s", l.TotalPriceAtCreation)
	}

	sellerShares, _ := e.registry.BalanceOf(ctx, testPoolID, "seller")
	if !sellerShares.IsZero() {
		t.Errorf("expected seller shares escrowed, got %s", sellerShares)
	}
	escrowShares, _ := e.registry.BalanceOf(ctx, testPoolID, settlement.MarketplaceEscrow)
	if !escrowShares.Equal(d("1000")) {
		t.Errorf("expected 1000 shares in escrow, got %s", escrowShares)
	}

	stats, _ := e.svc.Stats(ctx)
	if stats.TotalListings != 1 {
		t.Errorf("expected 1 listing counted, got %d", stats.TotalListings)
	}
}

func TestCreateListing_ConcurrentDoubleListing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// Racing full-balance listings by the same seller: the escrow debit is
	// atomic, so exactly one listing may open and the partition supply must
	// stay at 1000.
	const attempts = 4
	start := make(chan struct{})
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := e.svc.CreateListing(ctx, validListing())
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else if errs.KindOf(err) != errs.KindInsufficientShares {
			t.Errorf("expected insufficient_shares for losers, got %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly 1 listing to open, got %d", wins)
	}

	active, err := e.svc.ListListings(ctx, true)
	if err != nil {
		t.Fatalf("ListListings: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("expected 1 active listing, got %d", len(active))
	}
	escrowShares, _ := e.registry.BalanceOf(ctx, testPoolID, settlement.MarketplaceEscrow)
	supply, _ := e.registry.TotalSupply(ctx, testPoolID)
	if !escrowShares.Equal(d("1000")) || !supply.Equal(d("1000")) {
		t.Errorf("expected escrow 1000 and supply 1000, got %s / %s", escrowShares, supply)
	}
}

func TestCreateListing_Validation(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		name   string
		mutate func(*market.CreateListingParams)
		kind   errs.Kind
	}{
		{"zero shares", func(p *market.CreateListingParams) { p.ShareAmount = decimal.Zero }, errs.KindInvalidListingParameters},
		{"zero price", func(p *market.CreateListingParams) { p.PricePerShare = decimal.Zero }, errs.KindInvalidListingParameters},
		{"zero min purchase", func(p *market.CreateListingParams) { p.MinPurchase = decimal.Zero }, errs.KindInvalidListingParameters},
		{"min above max", func(p *market.CreateListingParams) { p.MinPurchase = d("600") }, errs.KindInvalidListingParameters},
		{"max above shares", func(p *market.CreateListingParams) { p.MaxPurchase = d("2000") }, errs.KindInvalidListingParameters},
		{"expiry in the past", func(p *market.CreateListingParams) { p.ExpiresAt = time.Now().Add(-time.Hour) }, errs.KindInvalidListingParameters},
		{"unknown pool", func(p *market.CreateListingParams) { p.PoolID = "missing" }, errs.KindNotFound},
		{"more shares than held", func(p *market.CreateListingParams) {
			p.ShareAmount = d("5000")
			p.MaxPurchase = d("5000")
		}, errs.KindInsufficientShares},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := validListing()
			tc.mutate(&params)
			_, err := e.svc.CreateListing(context.Background(), params)
			wantKind(t, err, tc.kind)
		})
	}
}

func TestBuyShares_ExactFeeSplit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	l := e.createListing(t)

	e.gateway.Credit("buyer", d("330"))

	order, err := e.svc.BuyShares(ctx, "buyer", l.ID, d("300"))
	if err != nil {
		t.Fatalf("BuyShares: %v", err)
	}
	if !order.TotalPricePaid.Equal(d("330")) {
		t.Errorf("expected total price 330, got %s", order.TotalPricePaid)
	}

	// 330 split at 250 + 100 bps: platform 8.25, royalty 3.3, seller the
	// remainder 318.45. The three legs must sum back to the charge.
	checks := map[string]decimal.Decimal{
		"buyer":             decimal.Zero,
		"seller":            d("318.45"),
		"treasury:platform": d("8.25"),
		"treasury:royalty":  d("3.3"),
	}
	sum := decimal.Zero
	for account, want := range checks {
		got, _ := e.gateway.BalanceOf(ctx, account)
		if !got.Equal(want) {
			t.Errorf("account %s: expected %s, got %s", account, want, got)
		}
		sum = sum.Add(got)
	}
	if !sum.Equal(d("330")) {
		t.Errorf("expected the split to conserve 330, got %s", sum)
	}
	escrow, _ := e.gateway.BalanceOf(ctx, settlement.MarketplaceEscrow)
	if !escrow.IsZero() {
		t.Errorf("expected currency escrow drained, got %s", escrow)
	}

	// Shares moved from escrow to the buyer; listing stays open on the rest.
	buyerShares, _ := e.registry.BalanceOf(ctx, testPoolID, "buyer")
	if !buyerShares.Equal(d("300")) {
		t.Errorf("expected buyer to hold 300 shares, got %s", buyerShares)
	}
	updated, _ := e.svc.GetListing(ctx, l.ID)
	if !updated.ShareAmount.Equal(d("700")) || !updated.Active {
		t.Errorf("expected 700 remaining and active, got %s active=%v", updated.ShareAmount, updated.Active)
	}

	stats, _ := e.svc.Stats(ctx)
	if stats.TotalOrders != 1 || !stats.TotalVolume.Equal(d("330")) {
		t.Errorf("expected stats 1 order / volume 330, got %d / %s", stats.TotalOrders, stats.TotalVolume)
	}
}

func TestBuyShares_FullFillDeactivates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	params := validListing()
	params.ShareAmount = d("100")
	params.MaxPurchase = d("100")
	l, err := e.svc.CreateListing(ctx, params)
	if err != nil {
		t.Fatalf("CreateListing: %v", err)
	}

	e.gateway.Credit("buyer", d("110"))
	if _, err := e.svc.BuyShares(ctx, "buyer", l.ID, d("100")); err != nil {
		t.Fatalf("BuyShares: %v", err)
	}

	updated, _ := e.svc.GetListing(ctx, l.ID)
	if updated.Active || !updated.ShareAmount.IsZero() {
		t.Errorf("expected exhausted listing to deactivate, got %s active=%v",
			updated.ShareAmount, updated.Active)
	}

	// A second buy against the exhausted listing is rejected.
	e.gateway.Credit("late-buyer", d("110"))
	_, err = e.svc.BuyShares(ctx, "late-buyer", l.ID, d("100"))
	wantKind(t, err, errs.KindInvalidListingParameters)
}

func TestBuyShares_FillBounds(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	l := e.createListing(t)

	e.gateway.Credit("buyer", d("1100"))

	// Below the listing minimum.
	_, err := e.svc.BuyShares(ctx, "buyer", l.ID, d("5"))
	wantKind(t, err, errs.KindInvalidListingParameters)

	// Above the per-order maximum.
	_, err = e.svc.BuyShares(ctx, "buyer", l.ID, d("600"))
	wantKind(t, err, errs.KindInvalidListingParameters)

	// Above the remaining amount once it drops under max_purchase.
	if _, err := e.svc.BuyShares(ctx, "buyer", l.ID, d("500")); err != nil {
		t.Fatalf("first fill: %v", err)
	}
	if _, err := e.svc.BuyShares(ctx, "buyer", l.ID, d("400")); err != nil {
		t.Fatalf("second fill: %v", err)
	}
	_, err = e.svc.BuyShares(ctx, "buyer", l.ID, d("200"))
	wantKind(t, err, errs.KindInvalidListingParameters)

	envelope := err.(*errs.E)
	if !envelope.HasBound || !envelope.Bound.Equal(d("100")) {
		t.Errorf("expected bound to carry the fillable 100, got %v", envelope.Bound)
	}
}

func TestBuyShares_SelfTrade(t *testing.T) {
	e := newEnv(t)
	l := e.createListing(t)

	e.gateway.Credit("seller", d("1100"))
	_, err := e.svc.BuyShares(context.Background(), "seller", l.ID, d("100"))
	wantKind(t, err, errs.KindSelfTradeNotAllowed)
}

func TestBuyShares_BuyerCannotPay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	l := e.createListing(t)

	e.gateway.Credit("buyer", d("10"))
	_, err := e.svc.BuyShares(ctx, "buyer", l.ID, d("100"))
	wantKind(t, err, errs.KindSettlementFailed)

	// No shares moved, no order recorded.
	buyerShares, _ := e.registry.BalanceOf(ctx, testPoolID, "buyer")
	if !buyerShares.IsZero() {
		t.Errorf("expected no shares for the buyer, got %s", buyerShares)
	}
	updated, _ := e.svc.GetListing(ctx, l.ID)
	if !updated.ShareAmount.Equal(d("1000")) {
		t.Errorf("expected listing untouched, got remaining %s", updated.ShareAmount)
	}
	stats, _ := e.svc.Stats(ctx)
	if stats.TotalOrders != 0 {
		t.Errorf("expected no orders, got %d", stats.TotalOrders)
	}
}

// failNthGateway fails the nth Transfer call and delegates the rest.
type failNthGateway struct {
	*settlement.MemoryGateway
	n     int
	calls int
}

func (g *failNthGateway) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	g.calls++
	if g.calls == g.n {
		return errs.New(errs.KindSettlementFailed, errs.WithMessage("injected fan-out failure"))
	}
	return g.MemoryGateway.Transfer(ctx, from, to, amount)
}

func TestBuyShares_PayoutFailureRefundsBuyer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	l := e.createListing(t)

	// Fail the second transfer: the buyer charge succeeds, the seller
	// payout fails, and the refund (third call) goes through.
	gw := &failNthGateway{MemoryGateway: e.gateway, n: 2}
	svc, err := market.NewService(e.store, e.registry, gw, defaultFees(), nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	e.gateway.Credit("buyer", d("330"))
	_, err = svc.BuyShares(ctx, "buyer", l.ID, d("300"))
	wantKind(t, err, errs.KindSettlementFailed)

	balance, _ := e.gateway.BalanceOf(ctx, "buyer")
	if !balance.Equal(d("330")) {
		t.Errorf("expected buyer fully refunded, got %s", balance)
	}
	sellerBalance, _ := e.gateway.BalanceOf(ctx, "seller")
	if !sellerBalance.IsZero() {
		t.Errorf("expected no seller proceeds, got %s", sellerBalance)
	}
	buyerShares, _ := e.registry.BalanceOf(ctx, testPoolID, "buyer")
	if !buyerShares.IsZero() {
		t.Errorf("expected no shares moved, got %s", buyerShares)
	}
	updated, _ := e.svc.GetListing(ctx, l.ID)
	if !updated.ShareAmount.Equal(d("1000")) || !updated.Active {
		t.Errorf("expected listing untouched, got remaining %s active=%v",
			updated.ShareAmount, updated.Active)
	}
}

func TestCancelListing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	l := e.createListing(t)

	// Partial fill first so cancellation returns only the remainder.
	e.gateway.Credit("buyer", d("330"))
	if _, err := e.svc.BuyShares(ctx, "buyer", l.ID, d("300")); err != nil {
		t.Fatalf("BuyShares: %v", err)
	}

	cancelled, err := e.svc.CancelListing(ctx, "seller", l.ID)
	if err != nil {
		t.Fatalf("CancelListing: %v", err)
	}
	if cancelled.Active {
		t.Error("expected cancelled listing inactive")
	}

	sellerShares, _ := e.registry.BalanceOf(ctx, testPoolID, "seller")
	if !sellerShares.Equal(d("700")) {
		t.Errorf("expected 700 shares returned to seller, got %s", sellerShares)
	}
	escrowShares, _ := e.registry.BalanceOf(ctx, testPoolID, settlement.MarketplaceEscrow)
	if !escrowShares.IsZero() {
		t.Errorf("expected share escrow emptied, got %s", escrowShares)
	}

	// Cancelling again fails: the listing is no longer active.
	_, err = e.svc.CancelListing(ctx, "seller", l.ID)
	wantKind(t, err, errs.KindInvalidListingParameters)
}

func TestCancelListing_OnlySeller(t *testing.T) {
	e := newEnv(t)
	l := e.createListing(t)

	_, err := e.svc.CancelListing(context.Background(), "stranger", l.ID)
	wantKind(t, err, errs.KindUnauthorized)
}

func TestListingOrders(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	l := e.createListing(t)

	e.gateway.Credit("buyer", d("1100"))
	if _, err := e.svc.BuyShares(ctx, "buyer", l.ID, d("100")); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, err := e.svc.BuyShares(ctx, "buyer", l.ID, d("200")); err != nil {
		t.Fatalf("second buy: %v", err)
	}

	orders, err := e.svc.ListingOrders(ctx, l.ID)
	if err != nil {
		t.Fatalf("ListingOrders: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if !orders[0].ShareAmount.Equal(d("100")) || !orders[1].ShareAmount.Equal(d("200")) {
		t.Errorf("expected fills in insertion order, got %s then %s",
			orders[0].ShareAmount, orders[1].ShareAmount)
	}

	_, err = e.svc.ListingOrders(ctx, "missing")
	wantKind(t, err, errs.KindNotFound)
}

func TestListListings_ActiveFilter(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.createListing(t)
	if _, err := e.svc.CancelListing(ctx, "seller", first.ID); err != nil {
		t.Fatalf("CancelListing: %v", err)
	}
	e.createListing(t)

	all, err := e.svc.ListListings(ctx, false)
	if err != nil {
		t.Fatalf("ListListings: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 listings in total, got %d", len(all))
	}

	active, err := e.svc.ListListings(ctx, true)
	if err != nil {
		t.Fatalf("ListListings active: %v", err)
	}
	if len(active) != 1 {
		t.Errorf("expected 1 active listing, got %d", len(active))
	}
}
