package cart

import (
	"context"
	"errors"

	"storefront-cart-service/internal/backend"
	"storefront-cart-service/internal/domain"
	"storefront-cart-service/internal/pricing"
	"storefront-cart-service/internal/store"
)

// Errors returned for bad mutation input.
var (
	ErrInvalidQuantity = errors.New("cart: quantity must be positive")
	ErrInvalidProduct  = errors.New("cart: product id must be positive")
	ErrNotInitialized  = errors.New("cart: store has not been initialized")
)

// Remote is the server-side cart. *backend.CartClient implements it.
type Remote interface {
	FetchCart(ctx context.Context, token string) (domain.Cart, error)
	AddItem(ctx context.Context, token string, productID int64, quantity int) (backend.AddResult, error)
	UpdateItem(ctx context.Context, token string, cartItemID int64, quantity int) (backend.UpdateResult, error)
	RemoveItem(ctx context.Context, token string, cartItemID int64) error
	Clear(ctx context.Context, token string) error
	LookupLine(ctx context.Context, token string, productID int64) (domain.CartLine, bool, error)
}

// Local is the offline copy of the cart. *store.LocalCart implements it.
type Local interface {
	Load(ctx context.Context) domain.Cart
	Save(ctx context.Context, cart domain.Cart)
	Reset(ctx context.Context)
}

// TaxResolver annotates products with tax data. *pricing.TaxResolver implements it.
// A nil result means "use a zero rate".
type TaxResolver interface {
	Resolve(ctx context.Context, productID int64, quantity int) *domain.TaxAnnotation
}

var (
	_ Remote      = (*backend.CartClient)(nil)
	_ Local       = (*store.LocalCart)(nil)
	_ TaxResolver = (*pricing.TaxResolver)(nil)
)
