package cart

import (
	"context"
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"storefront-cart-service/internal/store"
)

// DefaultMaxCarts bounds how many device carts a Registry keeps in memory.
const DefaultMaxCarts = 10000

var ErrMissingDevice = errors.New("cart: device id is required")

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxCarts sets how many device carts stay loaded. Values <= 0 keep the default.
func WithMaxCarts(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.maxCarts = n
		}
	}
}

// Registry hands out one Store per storefront device, created on first use.
// The least recently used store is evicted once maxCarts are loaded; its cart
// is already persisted, so the next request for that device rehydrates it.
type Registry struct {
	remote    Remote
	snapshots store.SnapshotStorer
	taxes     TaxResolver
	logger    *zap.Logger
	maxCarts  int

	mu     sync.Mutex
	stores *lru.Cache[string, *Store]

	// draining tracks evicted stores until their background tax lookups finish.
	draining sync.WaitGroup
}

// NewRegistry creates an empty registry. Every store it creates persists under
// its own device key in snapshots.
func NewRegistry(remote Remote, snapshots store.SnapshotStorer, taxes TaxResolver, logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		remote:    remote,
		snapshots: snapshots,
		taxes:     taxes,
		logger:    logger,
		maxCarts:  DefaultMaxCarts,
	}
	for _, opt := range opts {
		opt(r)
	}
	// NewWithEvict only fails for a non-positive size.
	r.stores, _ = lru.NewWithEvict[string, *Store](r.maxCarts, r.evicted)
	return r
}

func (r *Registry) evicted(deviceID string, s *Store) {
	r.logger.Debug("evicting idle device cart", zap.String("device_id", deviceID))
	r.draining.Add(1)
	go func() {
		defer r.draining.Done()
		s.Wait()
	}()
}

// CartFor returns the initialized store for deviceID.
func (r *Registry) CartFor(ctx context.Context, deviceID string) (*Store, error) {
	if deviceID == "" {
		return nil, ErrMissingDevice
	}

	r.mu.Lock()
	s, ok := r.stores.Get(deviceID)
	if !ok {
		logger := r.logger.With(zap.String("device_id", deviceID))
		local := store.NewLocalCart(r.snapshots, store.KeyForDevice(deviceID), logger)
		s = NewStore(r.remote, local, r.taxes, logger)
		r.stores.Add(deviceID, s)
	}
	r.mu.Unlock()

	if err := s.EnsureInit(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Len reports how many device carts are loaded.
func (r *Registry) Len() int {
	return r.stores.Len()
}

// Close waits for background work in every store, evicted ones included.
func (r *Registry) Close() {
	stores := r.stores.Values()
	for _, s := range stores {
		s.Wait()
	}
	r.draining.Wait()
	r.logger.Info("cart registry drained", zap.Int("carts", len(stores)))
}
