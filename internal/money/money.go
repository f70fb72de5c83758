// Package money converts between decimal currency amounts and integer minor units.
// All stored and compared amounts are cents; decimals are only used at the edges
// (config, provider payloads, JSON responses) and for percentage math.
package money

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

var hundred = decimal.NewFromInt(100)

// ToCents rounds d to the nearest cent, half away from zero.
func ToCents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// ParseCents parses a provider or client amount such as "150.01". Amounts with more than
// two fractional digits are rejected rather than rounded.
func ParseCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	scaled := d.Mul(hundred)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrInvalidAmount
	}
	return scaled.IntPart(), nil
}

// Format renders cents as a fixed two-decimal string.
func Format(cents int64) string {
	return FromCents(cents).StringFixed(2)
}

// Percent returns cents × pct / 100 without rounding.
func Percent(cents int64, pct decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(cents).Mul(pct).Div(hundred)
}

// MulQty returns cents × qty. ok is false when either operand is negative or the product
// does not fit in int64.
func MulQty(cents int64, qty int) (int64, bool) {
	n := int64(qty)
	if cents < 0 || n < 0 {
		return 0, false
	}
	if n != 0 && cents > math.MaxInt64/n {
		return 0, false
	}
	return cents * n, true
}

// Add returns a + b, or false when the sum overflows int64.
func Add(a, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}
