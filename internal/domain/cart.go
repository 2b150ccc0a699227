package domain

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CartLine represents one product line in a cart.
// ProductID is the line key; a line with Quantity <= 0 must never be stored.
type CartLine struct {
	ProductID      int64           `json:"productId"`
	CartItemID     int64           `json:"cartItemId,omitempty"` // Server-assigned, 0 for guest lines
	Name           string          `json:"name,omitempty"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	TaxRate        decimal.Decimal `json:"taxRate"`
	HSNCode        *string         `json:"hsnCode,omitempty"`
	AvailableStock int             `json:"availableStock,omitempty"` // 0 means unknown
}

// LineTotal is unitPrice x quantity, before tax.
func (l CartLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineTax is the tax owed on the line at its current rate.
func (l CartLine) LineTax() decimal.Decimal {
	return l.LineTotal().Mul(l.TaxRate).Div(hundred)
}

// ApplyTax copies a resolved tax annotation onto the line.
func (l *CartLine) ApplyTax(a TaxAnnotation) {
	l.TaxRate = a.TaxRate
	l.HSNCode = a.HSNCode
}

// Cart is an ordered collection of lines, unique by ProductID.
type Cart struct {
	Lines []CartLine `json:"lines"`
}

// Totals are derived from a cart on every read and never stored.
type Totals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Tax       decimal.Decimal `json:"tax"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"itemCount"`
}

// Find returns the index of the line for productID, or -1.
func (c *Cart) Find(productID int64) int {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Line returns a copy of the line for productID.
func (c *Cart) Line(productID int64) (CartLine, bool) {
	if i := c.Find(productID); i >= 0 {
		return c.Lines[i], true
	}
	return CartLine{}, false
}

// Quantity returns the current quantity for productID, 0 when absent.
func (c *Cart) Quantity(productID int64) int {
	if l, ok := c.Line(productID); ok {
		return l.Quantity
	}
	return 0
}

// Upsert replaces the line with the same ProductID or appends it.
// A non-positive quantity removes the line instead.
func (c *Cart) Upsert(line CartLine) {
	if line.Quantity <= 0 {
		c.Remove(line.ProductID)
		return
	}
	if i := c.Find(line.ProductID); i >= 0 {
		c.Lines[i] = line
		return
	}
	c.Lines = append(c.Lines, line)
}

// Remove deletes the line for productID. Returns false if there was none.
func (c *Cart) Remove(productID int64) bool {
	i := c.Find(productID)
	if i < 0 {
		return false
	}
	c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
	return true
}

// Clone returns a deep copy safe to hand to readers.
func (c Cart) Clone() Cart {
	out := Cart{Lines: make([]CartLine, len(c.Lines))}
	for i, l := range c.Lines {
		if l.HSNCode != nil {
			code := *l.HSNCode
			l.HSNCode = &code
		}
		out.Lines[i] = l
	}
	return out
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// Totals recomputes subtotal, tax and total from the current lines.
func (c *Cart) Totals() Totals {
	t := Totals{Subtotal: decimal.Zero, Tax: decimal.Zero}
	for _, l := range c.Lines {
		t.Subtotal = t.Subtotal.Add(l.LineTotal())
		t.Tax = t.Tax.Add(l.LineTax())
		t.ItemCount += l.Quantity
	}
	t.Total = t.Subtotal.Add(t.Tax)
	return t
}

// Normalize drops non-positive lines and duplicate product IDs, keeping the first occurrence.
func Normalize(lines []CartLine) Cart {
	out := Cart{Lines: make([]CartLine, 0, len(lines))}
	for _, l := range lines {
		if l.Quantity <= 0 || l.ProductID <= 0 {
			continue
		}
		if out.Find(l.ProductID) >= 0 {
			continue
		}
		out.Lines = append(out.Lines, l)
	}
	return out
}
