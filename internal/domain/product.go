package domain

import "github.com/shopspring/decimal"

// Product is the catalog snapshot the storefront hands over when a shopper adds an item.
// Price is captured at add time and never repriced afterwards.
type Product struct {
	ID            int64           `json:"id"`
	Name          string          `json:"name"`
	SKU           string          `json:"sku,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"` // Last known available inventory
	ImageURL      *string         `json:"image_url,omitempty"`
}

// TaxAnnotation is what the tax service attaches to a cart line.
type TaxAnnotation struct {
	TaxRate decimal.Decimal `json:"taxRate"` // Percentage, 0-100
	HSNCode *string         `json:"hsnCode,omitempty"`
}
