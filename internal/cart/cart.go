// Package cart owns the client-local pre-checkout cart: ordered
// (product, quantity) lines keyed by identity, persisted to an embedded
// sqlite database so carts survive restarts.
package cart

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Line is one cart entry, unique per product within an identity's cart.
type Line struct {
	ProductID    uuid.UUID
	Quantity     int32
	UnitPrice    decimal.Decimal // snapshot taken at add time
	StockCeiling *int32          // nil when inventory is unknown
	SellerRef    uuid.UUID
	Name         string
	ImageURL     string
	Description  string
}

// Cart is the ordered set of lines for one identity.
type Cart struct {
	Lines []Line
}

// Empty reports whether the cart has no lines.
func (c Cart) Empty() bool {
	return len(c.Lines) == 0
}

// Total returns the sum of quantity * unit price over all lines.
// Delivery fee is not included; it is unknown until checkout.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.UnitPrice.Mul(decimal.NewFromInt32(l.Quantity)))
	}
	return total
}

// Find returns the line for productID, if present.
func (c Cart) Find(productID uuid.UUID) (Line, bool) {
	for _, l := range c.Lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return Line{}, false
}
