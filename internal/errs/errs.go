// Package errs provides the structured error envelope used across the
// yield ledger. Every public operation fails with a Kind from the fixed
// taxonomy plus the entity id and the violated numeric bound, so callers
// can render an actionable message without reading internal state.
package errs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// Kind identifies an error category in the ledger taxonomy.
type Kind string

const (
	// KindInvalidPoolParameters indicates pool creation constraint violations.
	KindInvalidPoolParameters Kind = "invalid_pool_parameters"
	// KindPoolClosed indicates a mutation attempted on a closed pool.
	KindPoolClosed Kind = "pool_closed"
	// KindInvestorCapExceeded indicates the per-investor cap would be breached.
	KindInvestorCapExceeded Kind = "investor_cap_exceeded"
	// KindPoolCapacityExceeded indicates the pool target would be breached.
	KindPoolCapacityExceeded Kind = "pool_capacity_exceeded"
	// KindBelowMinimumInvestment indicates an investment under the pool minimum.
	KindBelowMinimumInvestment Kind = "below_minimum_investment"
	// KindInsufficientShares indicates a burn or transfer exceeding the balance.
	KindInsufficientShares Kind = "insufficient_shares"
	// KindInsufficientPoolLiquidity indicates the pool escrow cannot cover a payout.
	KindInsufficientPoolLiquidity Kind = "insufficient_pool_liquidity"
	// KindNoShareholders indicates a distribution against zero total shares.
	KindNoShareholders Kind = "no_shareholders"
	// KindInvalidListingParameters indicates listing creation constraint violations.
	KindInvalidListingParameters Kind = "invalid_listing_parameters"
	// KindSelfTradeNotAllowed indicates a buyer attempting to fill their own listing.
	KindSelfTradeNotAllowed Kind = "self_trade_not_allowed"
	// KindFeeExceedsPrice indicates combined fees exceeding the trade price.
	KindFeeExceedsPrice Kind = "fee_exceeds_price"
	// KindSettlementFailed indicates a settlement gateway transfer failure;
	// the operation aborted with no state change.
	KindSettlementFailed Kind = "settlement_failed"
	// KindDivisionByZero indicates a zero denominator in fixed-point arithmetic.
	KindDivisionByZero Kind = "division_by_zero"
	// KindUnauthorized indicates the caller is not an authorized pool manager.
	KindUnauthorized Kind = "unauthorized"
	// KindNotFound indicates a missing pool or listing.
	KindNotFound Kind = "not_found"
	// KindBackingNotApproved indicates the referenced asset/receivable has not
	// passed external approval.
	KindBackingNotApproved Kind = "backing_not_approved"
)

// E is the structured error envelope.
type E struct {
	Kind     Kind
	EntityID string          // pool or listing id, when known
	Bound    decimal.Decimal // the violated numeric constraint, when applicable
	HasBound bool
	Message  string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope with the given kind.
func New(kind Kind, opts ...Option) *E {
	e := &E{Kind: kind}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithEntity records the pool or listing id the error relates to.
func WithEntity(id string) Option {
	return func(e *E) { e.EntityID = id }
}

// WithBound records the numeric bound that was violated.
func WithBound(bound decimal.Decimal) Option {
	return func(e *E) {
		e.Bound = bound
		e.HasBound = true
	}
}

// WithMessage attaches a human-readable message.
func WithMessage(format string, args ...any) Option {
	return func(e *E) { e.Message = fmt.Sprintf(format, args...) }
}

// WithCause records the underlying error.
func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

// Error renders the envelope for logs.
func (e *E) Error() string {
	msg := string(e.Kind)
	if e.EntityID != "" {
		msg += " [" + e.EntityID + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.HasBound {
		msg += " (bound " + e.Bound.String() + ")"
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *E) Unwrap() error { return e.cause }

// Is matches envelopes by kind, so sentinel comparisons like
// errors.Is(err, errs.New(errs.KindPoolClosed)) work.
func (e *E) Is(target error) bool {
	t, ok := target.(*E)
	return ok && t.Kind == e.Kind
}

// KindOf extracts the taxonomy kind from an error chain.
// Returns "" when the chain carries no envelope.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps a taxonomy kind to the HTTP status handlers respond with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidPoolParameters, KindInvalidListingParameters,
		KindBelowMinimumInvestment, KindDivisionByZero:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindPoolClosed, KindInvestorCapExceeded, KindPoolCapacityExceeded,
		KindInsufficientShares, KindInsufficientPoolLiquidity,
		KindNoShareholders, KindSelfTradeNotAllowed, KindFeeExceedsPrice,
		KindBackingNotApproved:
		return http.StatusConflict
	case KindSettlementFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
