// Package money centralizes monetary arithmetic for the engine. Internal
// computation keeps full decimal precision; rounding to two places happens
// only through the display helpers here.
package money

import "github.com/shopspring/decimal"

var zero = decimal.Zero

// FromFloat converts an upstream float price into a decimal amount.
func FromFloat(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value)
}

// Display rounds to two places for rendering. Never feed the result back
// into arithmetic.
func Display(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// DisplayFloat is Display for callers that bind numeric UI fields.
func DisplayFloat(amount decimal.Decimal) float64 {
	rounded, _ := amount.Round(2).Float64()
	return rounded
}

// ClampZero floors negative totals at zero.
func ClampZero(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return zero
	}
	return amount
}

// Percent applies rate/100 to the amount.
func Percent(amount decimal.Decimal, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(decimal.NewFromInt(100))
}
