package backend

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"storefront-cart-service/internal/domain"
)

// envelope is the response wrapper every backend endpoint uses.
// Anything but status "success" is a failure, whatever the HTTP code says.
type envelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}

func (e envelope) ok() bool {
	return e.Status == "success"
}

type productDTO struct {
	ID    *int64           `json:"id"`
	Name  string           `json:"name"`
	Price *decimal.Decimal `json:"price"`
	Stock *int             `json:"stock"`
}

// cartItemDTO accepts every identifier spelling the backend has shipped.
// toLine collapses them so nothing past this package compares id vs product_id.
type cartItemDTO struct {
	ID             int64            `json:"id"`
	CartItemID     *int64           `json:"cartItemId"`
	ProductID      *int64           `json:"productId"`
	ProductIDSnake *int64           `json:"product_id"`
	Quantity       int              `json:"quantity"`
	Price          *decimal.Decimal `json:"price"`
	UnitPrice      *decimal.Decimal `json:"unitPrice"`
	Name           string           `json:"name"`
	AvailableStock *int             `json:"availableStock"`
	Product        *productDTO      `json:"product"`
}

func (d cartItemDTO) toLine() (domain.CartLine, bool) {
	line := domain.CartLine{
		CartItemID: d.ID,
		Quantity:   d.Quantity,
		Name:       d.Name,
		UnitPrice:  decimal.Zero,
		TaxRate:    decimal.Zero,
	}
	if d.CartItemID != nil {
		line.CartItemID = *d.CartItemID
	}

	switch {
	case d.ProductID != nil:
		line.ProductID = *d.ProductID
	case d.ProductIDSnake != nil:
		line.ProductID = *d.ProductIDSnake
	case d.Product != nil && d.Product.ID != nil:
		line.ProductID = *d.Product.ID
	}

	switch {
	case d.UnitPrice != nil:
		line.UnitPrice = *d.UnitPrice
	case d.Price != nil:
		line.UnitPrice = *d.Price
	case d.Product != nil && d.Product.Price != nil:
		line.UnitPrice = *d.Product.Price
	}

	if d.AvailableStock != nil {
		line.AvailableStock = *d.AvailableStock
	} else if d.Product != nil && d.Product.Stock != nil {
		line.AvailableStock = *d.Product.Stock
	}
	if line.Name == "" && d.Product != nil {
		line.Name = d.Product.Name
	}

	return line, line.ProductID > 0 && line.Quantity > 0
}

type cartDTO struct {
	Items []cartItemDTO `json:"items"`
}

type addItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

// AddResult is what the backend reports after a successful add.
type AddResult struct {
	AvailableStock int `json:"availableStock"`
}

// UpdateResult is what the backend reports after an update.
// Removed is set when the requested quantity dropped the line.
type UpdateResult struct {
	Removed        bool `json:"removed"`
	AvailableStock int  `json:"availableStock"`
}

type stockErrorDTO struct {
	AvailableStock *int `json:"availableStock"`
}
