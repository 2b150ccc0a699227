package store

import (
	"context"

	"storefront-cart-service/internal/domain"
)

// SnapshotStorer persists serialized carts under opaque storage keys.
type SnapshotStorer interface {
	LoadSnapshot(ctx context.Context, key string) ([]domain.CartLine, error)
	SaveSnapshot(ctx context.Context, key string, lines []domain.CartLine) error
	DeleteSnapshot(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can report connectivity for health checks.
type Pinger interface {
	PingContext(ctx context.Context) error
}
