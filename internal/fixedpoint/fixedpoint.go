// Package fixedpoint provides the exact floor-only arithmetic every
// monetary and share computation in the ledger routes through.
//
// Currency amounts carry at most 6 fractional digits, share amounts at
// most 18. All products and quotients are truncated (floored) at the
// target scale — never rounded to nearest — so floor truncation here is
// the only source of "dust" in the system.
//
// All values use shopspring/decimal — never float64 for money.
package fixedpoint

import (
	"github.com/shopspring/decimal"

	"github.com/Osiyomeoh/novax-yield-sub003/internal/errs"
)

const (
	// CurrencyScale is the number of fractional digits in settlement
	// currency amounts.
	CurrencyScale int32 = 6

	// ShareScale is the number of fractional digits in share amounts.
	ShareScale int32 = 18
)

// BpsDenominator converts basis points to a fraction: 10000 bps = 100%.
var BpsDenominator = decimal.NewFromInt(10000)

// MulDiv computes floor(a*b/den) truncated to scale fractional digits.
// Operands are non-negative throughout the ledger, so truncation toward
// zero and floor coincide. Returns KindDivisionByZero when den is zero.
//
// The product a*b is exact: decimal carries arbitrary-precision integer
// coefficients, so no intermediate overflow is possible.
func MulDiv(a, b, den decimal.Decimal, scale int32) (decimal.Decimal, error) {
	if den.IsZero() {
		return decimal.Zero, errs.New(errs.KindDivisionByZero,
			errs.WithMessage("mulDiv denominator is zero"))
	}
	q, _ := a.Mul(b).QuoRem(den, scale)
	return q, nil
}

// MulDivCurrency is MulDiv floored at the currency scale.
func MulDivCurrency(a, b, den decimal.Decimal) (decimal.Decimal, error) {
	return MulDiv(a, b, den, CurrencyScale)
}

// MulDivShares is MulDiv floored at the share scale.
func MulDivShares(a, b, den decimal.Decimal) (decimal.Decimal, error) {
	return MulDiv(a, b, den, ShareScale)
}

// BpsFee computes floor(amount * bps / 10000) at the currency scale.
func BpsFee(amount decimal.Decimal, bps int64) decimal.Decimal {
	fee, _ := MulDiv(amount, decimal.NewFromInt(bps), BpsDenominator, CurrencyScale)
	return fee
}

// FloorCurrency truncates a value to the currency scale.
func FloorCurrency(v decimal.Decimal) decimal.Decimal {
	return v.Truncate(CurrencyScale)
}

// FloorShares truncates a value to the share scale.
func FloorShares(v decimal.Decimal) decimal.Decimal {
	return v.Truncate(ShareScale)
}
