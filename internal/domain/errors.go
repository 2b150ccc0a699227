package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy surfaced by the cart packages. Match with errors.Is / errors.As.
var (
	ErrAuth         = errors.New("cart: authentication required or token expired")
	ErrInventory    = errors.New("cart: insufficient stock")
	ErrNetwork      = errors.New("cart: backend unreachable")
	ErrParse        = errors.New("cart: malformed stored cart")
	ErrLineNotFound = errors.New("cart: product is not in the cart")
)

// InventoryError carries the human-readable stock message shown to the shopper.
type InventoryError struct {
	Message        string
	AvailableStock int // 0 when the server did not say
}

func (e *InventoryError) Error() string { return e.Message }

func (e *InventoryError) Unwrap() error { return ErrInventory }

// NewInventoryError builds the message used for client-side stock checks.
func NewInventoryError(available, inCart int) *InventoryError {
	msg := fmt.Sprintf("Only %d items available in stock.", available)
	if inCart > 0 {
		msg = fmt.Sprintf("Only %d items available in stock. You already have %d in your cart.", available, inCart)
	}
	return &InventoryError{Message: msg, AvailableStock: available}
}

// NetworkError is a transient failure; callers may retry, the cart never does.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// RemoteError is a rejection from the backend that fits no other category.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend rejected request (HTTP %d)", e.StatusCode)
	}
	return e.Message
}

// UserMessage renders an error the way the storefront displays it.
func UserMessage(err error) string {
	var invErr *InventoryError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &invErr):
		return invErr.Message
	case errors.Is(err, ErrAuth):
		return "Please log in again to continue."
	case errors.Is(err, ErrNetwork):
		return "Unable to reach the cart service. Please try again."
	case errors.Is(err, ErrLineNotFound):
		return "This item is no longer in your cart."
	default:
		return err.Error()
	}
}
