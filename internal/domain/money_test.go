package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoney_ToDecimal(t *testing.T) {
	m := NewMoney(10_500_000, "BGN") // 10.50 BGN
	d := m.ToDecimal()
	assert.Equal(t, "10.5", d.String())
}

func TestFromDecimal(t *testing.T) {
	d := decimal.NewFromFloat(10.50)
	micros := FromDecimal(d)
	assert.Equal(t, int64(10_500_000), micros)
}

func TestMoney_Multiply_RoundsDown(t *testing.T) {
	m := NewMoney(1_000_001, "BGN")
	assert.Equal(t, int64(500_000), m.Multiply(decimal.RequireFromString("0.5")).Amount)
}

func TestPercentOf(t *testing.T) {
	tests := []struct {
		name      string
		amount    int64
		pct       string
		precision int32
		want      int64
	}{
		{name: "burn of 100 at 0.1 percent", amount: 100_000_000, pct: "0.1", precision: 6, want: 100_000},
		{name: "emission of 200 at 0.05 percent", amount: 200_000_000, pct: "0.05", precision: 6, want: 100_000},
		{name: "rounds down at precision", amount: 1_234_567, pct: "10", precision: 2, want: 120_000},
		{name: "zero rate", amount: 100_000_000, pct: "0", precision: 6, want: 0},
		{name: "tiny amount rounds to zero", amount: 1, pct: "0.1", precision: 6, want: 0},
		{name: "negative amount", amount: -5, pct: "10", precision: 6, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PercentOf(tt.amount, decimal.RequireFromString(tt.pct), tt.precision)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmount(t *testing.T) {
	micros, err := ParseAmount("10000.00")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000_000), micros)

	micros, err = ParseAmount(" 0.000001 ")
	require.NoError(t, err)
	assert.Equal(t, int64(1), micros)

	_, err = ParseAmount("1.0000001")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParseAmount("abc")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestShortfallError(t *testing.T) {
	err := fmt.Errorf("debit account: %w", NewShortfall(ErrInsufficientFunds, 150, 100, "BGN"))

	require.ErrorIs(t, err, ErrInsufficientFunds)

	var shortfall *ShortfallError
	require.True(t, errors.As(err, &shortfall))
	assert.Equal(t, int64(50), shortfall.Shortfall())
	assert.Contains(t, err.Error(), "requested 0.000150 BGN")
}
