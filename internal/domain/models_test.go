package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"200", 20000},
		{"19.99", 1999},
		{"0.005", 1},
		{"0.004", 0},
		{"0", 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MinorUnits(decimal.RequireFromString(c.in)), c.in)
	}
}

func TestSumItems(t *testing.T) {
	items := []OrderItem{
		{ProductID: "a", Quantity: 2, UnitPrice: decimal.NewFromInt(100)},
		{ProductID: "b", Quantity: 3, UnitPrice: decimal.RequireFromString("1.5")},
	}
	assert.True(t, SumItems(items).Equal(decimal.RequireFromString("204.5")))
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.False(t, OrderStatusPending.Terminal())
	assert.True(t, OrderStatusCompleted.Terminal())
	assert.True(t, OrderStatusFailed.Terminal())
}
