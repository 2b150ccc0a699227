package store

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"storefront-cart-service/internal/domain"
)

// KeyForDevice is the fixed storage key layout for a device's cart.
func KeyForDevice(deviceID string) string {
	return "cart:" + deviceID
}

// LocalCart is the offline copy of one device's cart.
// Load and Save never fail to the caller; problems are logged and swallowed.
type LocalCart struct {
	storer SnapshotStorer
	key    string
	logger *zap.Logger
}

// NewLocalCart binds a SnapshotStorer to a single storage key.
func NewLocalCart(storer SnapshotStorer, key string, logger *zap.Logger) *LocalCart {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalCart{storer: storer, key: key, logger: logger.With(zap.String("storage_key", key))}
}

// Load returns the persisted cart, or an empty cart when nothing usable is stored.
func (l *LocalCart) Load(ctx context.Context) domain.Cart {
	lines, err := l.storer.LoadSnapshot(ctx, l.key)
	switch {
	case err == nil:
		return domain.Normalize(lines)
	case errors.Is(err, ErrSnapshotNotFound):
		return domain.Cart{}
	case errors.Is(err, domain.ErrParse):
		l.logger.Warn("discarding unreadable local cart", zap.Error(err))
		return domain.Cart{}
	default:
		l.logger.Warn("local cart unavailable, starting empty", zap.Error(err))
		return domain.Cart{}
	}
}

// Save writes the cart. Best effort, no retry.
func (l *LocalCart) Save(ctx context.Context, cart domain.Cart) {
	if err := l.storer.SaveSnapshot(ctx, l.key, cart.Lines); err != nil {
		l.logger.Warn("failed to persist local cart", zap.Error(err), zap.Int("lines", len(cart.Lines)))
	}
}

// Reset forgets the persisted cart.
func (l *LocalCart) Reset(ctx context.Context) {
	if err := l.storer.DeleteSnapshot(ctx, l.key); err != nil {
		l.logger.Warn("failed to reset local cart", zap.Error(err))
	}
}
