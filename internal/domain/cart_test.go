package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCart_Totals(t *testing.T) {
	cart := Cart{Lines: []CartLine{
		{ProductID: 1, UnitPrice: dec("100"), Quantity: 2, TaxRate: dec("5")},
		{ProductID: 2, UnitPrice: dec("50"), Quantity: 1, TaxRate: decimal.Zero},
	}}

	totals := cart.Totals()

	assert.True(t, totals.Subtotal.Equal(dec("250")), "subtotal was %s", totals.Subtotal)
	assert.True(t, totals.Tax.Equal(dec("10")), "tax was %s", totals.Tax)
	assert.True(t, totals.Total.Equal(dec("260")), "total was %s", totals.Total)
	assert.Equal(t, 3, totals.ItemCount)
}

func TestCart_Totals_Empty(t *testing.T) {
	var cart Cart
	totals := cart.Totals()
	assert.True(t, totals.Total.IsZero())
	assert.Equal(t, 0, totals.ItemCount)
}

func TestCart_UpsertAndRemove(t *testing.T) {
	var cart Cart
	cart.Upsert(CartLine{ProductID: 7, Quantity: 1})
	cart.Upsert(CartLine{ProductID: 8, Quantity: 2})
	cart.Upsert(CartLine{ProductID: 7, Quantity: 4})

	require.Len(t, cart.Lines, 2)
	assert.Equal(t, int64(7), cart.Lines[0].ProductID, "order must be preserved on replace")
	assert.Equal(t, 4, cart.Quantity(7))

	cart.Upsert(CartLine{ProductID: 8, Quantity: 0})
	assert.Equal(t, -1, cart.Find(8), "zero quantity must remove the line")

	assert.True(t, cart.Remove(7))
	assert.False(t, cart.Remove(7), "second remove is a no-op")
	assert.True(t, cart.IsEmpty())
}

func TestCart_CloneIsDeep(t *testing.T) {
	code := "6109"
	cart := Cart{Lines: []CartLine{{ProductID: 1, Quantity: 1, HSNCode: &code}}}
	clone := cart.Clone()

	*clone.Lines[0].HSNCode = "9999"
	clone.Lines[0].Quantity = 5

	assert.Equal(t, "6109", *cart.Lines[0].HSNCode)
	assert.Equal(t, 1, cart.Lines[0].Quantity)
}

func TestNormalize(t *testing.T) {
	cart := Normalize([]CartLine{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 0},
		{ProductID: 1, Quantity: 9},
		{ProductID: 0, Quantity: 1},
		{ProductID: 3, Quantity: 1},
	})
	require.Len(t, cart.Lines, 2)
	assert.Equal(t, 2, cart.Quantity(1))
	assert.Equal(t, 1, cart.Quantity(3))
}

func TestInventoryError(t *testing.T) {
	err := NewInventoryError(5, 3)
	assert.True(t, errors.Is(err, ErrInventory))
	assert.Contains(t, err.Error(), "Only 5 items available")
	assert.Contains(t, err.Error(), "already have 3")

	assert.Equal(t, "Only 2 items available in stock.", NewInventoryError(2, 0).Error())
}

func TestNetworkError_Unwraps(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := error(&NetworkError{Op: "backend: FetchCart", Err: cause})
	assert.True(t, errors.Is(err, ErrNetwork))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "Unable to reach the cart service. Please try again.", UserMessage(err))
}

func TestSession_Identity(t *testing.T) {
	assert.Equal(t, "", Anonymous.Identity())
	assert.Equal(t, "", Session{UserID: "u1"}.Identity(), "unauthenticated sessions have no identity")
	assert.Equal(t, "u1", Session{Authenticated: true, UserID: "u1"}.Identity())
}
