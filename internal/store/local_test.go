package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"storefront-cart-service/internal/domain"
)

// MockSnapshotStorer is a mock implementation of SnapshotStorer
type MockSnapshotStorer struct {
	mock.Mock
}

func (m *MockSnapshotStorer) LoadSnapshot(ctx context.Context, key string) ([]domain.CartLine, error) {
	args := m.Called(ctx, key)
	var lines []domain.CartLine
	if arg0 := args.Get(0); arg0 != nil {
		lines = arg0.([]domain.CartLine)
	}
	return lines, args.Error(1)
}

func (m *MockSnapshotStorer) SaveSnapshot(ctx context.Context, key string, lines []domain.CartLine) error {
	return m.Called(ctx, key, lines).Error(0)
}

func (m *MockSnapshotStorer) DeleteSnapshot(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), "sqlite", ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestLocalCart_RoundTrip_SQLite(t *testing.T) {
	ctx := context.Background()
	local := NewLocalCart(newSQLiteStore(t), KeyForDevice("dev-1"), nil)

	hsn := "6109"
	cart := domain.Cart{Lines: []domain.CartLine{
		{ProductID: 3, Quantity: 2, UnitPrice: decimal.RequireFromString("19.99"), TaxRate: decimal.NewFromInt(12), HSNCode: &hsn},
		{ProductID: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(5), AvailableStock: 4},
	}}
	local.Save(ctx, cart)

	loaded := local.Load(ctx)
	require.Len(t, loaded.Lines, 2)
	for i, want := range cart.Lines {
		got := loaded.Lines[i]
		assert.Equal(t, want.ProductID, got.ProductID)
		assert.Equal(t, want.Quantity, got.Quantity)
		assert.True(t, want.UnitPrice.Equal(got.UnitPrice))
		assert.True(t, want.TaxRate.Equal(got.TaxRate))
		assert.Equal(t, want.AvailableStock, got.AvailableStock)
	}
	assert.Equal(t, "6109", *loaded.Lines[0].HSNCode)

	// Overwrite keeps a single row per key.
	local.Save(ctx, domain.Cart{Lines: cart.Lines[1:]})
	assert.Len(t, local.Load(ctx).Lines, 1)

	local.Reset(ctx)
	afterReset := local.Load(ctx)
	assert.True(t, afterReset.IsEmpty())
}

func TestLocalCart_KeysAreIsolated_SQLite(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	a := NewLocalCart(s, KeyForDevice("a"), nil)
	b := NewLocalCart(s, KeyForDevice("b"), nil)

	a.Save(ctx, domain.Cart{Lines: []domain.CartLine{{ProductID: 1, Quantity: 1}}})

	assert.Len(t, a.Load(ctx).Lines, 1)
	bCart := b.Load(ctx)
	assert.True(t, bCart.IsEmpty())
}

func TestLocalCart_Load_MissingIsEmpty(t *testing.T) {
	storer := new(MockSnapshotStorer)
	storer.On("LoadSnapshot", mock.Anything, "cart:dev").Return(nil, ErrSnapshotNotFound).Once()

	cart := NewLocalCart(storer, "cart:dev", nil).Load(context.Background())
	assert.True(t, cart.IsEmpty())
	storer.AssertExpectations(t)
}

func TestLocalCart_Load_CorruptIsEmpty(t *testing.T) {
	storer := new(MockSnapshotStorer)
	storer.On("LoadSnapshot", mock.Anything, "cart:dev").Return(nil, ErrSnapshotCorrupt).Once()

	cart := NewLocalCart(storer, "cart:dev", nil).Load(context.Background())
	assert.True(t, cart.IsEmpty())
	storer.AssertExpectations(t)
}

func TestLocalCart_Load_DropsInvalidLines(t *testing.T) {
	storer := new(MockSnapshotStorer)
	storer.On("LoadSnapshot", mock.Anything, "cart:dev").Return([]domain.CartLine{
		{ProductID: 1, Quantity: 0},
		{ProductID: 2, Quantity: 3},
		{ProductID: 2, Quantity: 7},
	}, nil).Once()

	cart := NewLocalCart(storer, "cart:dev", nil).Load(context.Background())
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, 3, cart.Quantity(2))
}

func TestLocalCart_Save_SwallowsErrors(t *testing.T) {
	storer := new(MockSnapshotStorer)
	storer.On("SaveSnapshot", mock.Anything, "cart:dev", mock.Anything).Return(errors.New("disk full")).Once()
	storer.On("DeleteSnapshot", mock.Anything, "cart:dev").Return(errors.New("disk full")).Once()

	local := NewLocalCart(storer, "cart:dev", nil)
	assert.NotPanics(t, func() {
		local.Save(context.Background(), domain.Cart{})
		local.Reset(context.Background())
	})
	storer.AssertExpectations(t)
}
