package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MicrosPerUnit is the scale of every stored amount, currency and token alike.
const MicrosPerUnit = 1_000_000

var microsDecimal = decimal.NewFromInt(MicrosPerUnit)

// Money represents a monetary value in a specific currency.
// Amount is stored as BIGINT micros (10^-6) to avoid floating point errors.
type Money struct {
	Amount   int64  // micros
	Currency string // ISO 4217 or token symbol
}

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount).Div(microsDecimal)
}

// FromDecimal converts a decimal.Decimal to int64 micros, truncating sub-micro digits.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(microsDecimal).IntPart()
}

// Multiply returns a new Money instance scaled by factor, rounded down.
func (m Money) Multiply(factor decimal.Decimal) Money {
	return Money{
		Amount:   FromDecimal(m.ToDecimal().Mul(factor)),
		Currency: m.Currency,
	}
}

// String returns the string representation of the money.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}

// PercentOf returns pct percent of amount (both in micros), rounded down to
// precision decimal places of a unit. precision is clamped to [0, 6].
func PercentOf(amount int64, pct decimal.Decimal, precision int32) int64 {
	if amount <= 0 || !pct.IsPositive() {
		return 0
	}
	precision = min(max(precision, 0), 6)
	share := NewMoney(amount, "").ToDecimal().Mul(pct).Div(decimal.NewFromInt(100))
	return FromDecimal(share.RoundDown(precision))
}

// ParseAmount parses a decimal string such as "10.50" into micros.
func ParseAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q", ErrInvalidInput, s)
	}
	if d.Exponent() < -6 && !d.Equal(d.Truncate(6)) {
		return 0, fmt.Errorf("%w: amount %q has more than 6 decimal places", ErrInvalidInput, s)
	}
	return FromDecimal(d), nil
}

// FormatAmount renders micros as a fixed six-place decimal string.
func FormatAmount(micros int64) string {
	return NewMoney(micros, "").ToDecimal().StringFixed(6)
}
