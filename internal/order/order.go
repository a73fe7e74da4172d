// Package order holds the shared order domain model: line items, the
// status state machine, and the error taxonomy used by the cart store,
// the repository client and the controllers.
package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartOrderID is the reserved sentinel id carried by the synthetic
// cart-order. It never appears on a server-confirmed order.
var CartOrderID = uuid.Nil

// LineItem is a single (product, quantity) pair on an order. Immutable
// once the order leaves CART.
type LineItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int32           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Subtotal returns quantity * unit price.
func (li LineItem) Subtotal() decimal.Decimal {
	return li.UnitPrice.Mul(decimal.NewFromInt32(li.Quantity))
}

// Contact is the buyer/recipient snapshot taken at checkout.
type Contact struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Order is one entry of the unified view: either a server-confirmed
// order or the synthetic cart-order (ID == CartOrderID, Status == CART).
type Order struct {
	ID          uuid.UUID        `json:"id"`
	Lines       []LineItem       `json:"lines"`
	Status      Status           `json:"status"`
	TotalPrice  decimal.Decimal  `json:"total_price"`
	DeliveryFee *decimal.Decimal `json:"delivery_fee,omitempty"` // nil while unknown (always nil in CART)
	OrderedAt   time.Time        `json:"ordered_at"`
	DeliveredAt *time.Time       `json:"delivered_at,omitempty"` // set iff Status == DELIVERED
	Contact     Contact          `json:"contact"`
	SellerRef   uuid.UUID        `json:"seller_ref"`
}

// IsCartOrder reports whether o is the synthetic pre-checkout entry.
func (o Order) IsCartOrder() bool {
	return o.ID == CartOrderID
}

// Clone returns a copy with its own line slice, so callers can hand out
// snapshots without aliasing controller state.
func (o Order) Clone() Order {
	c := o
	c.Lines = make([]LineItem, len(o.Lines))
	copy(c.Lines, o.Lines)
	if o.DeliveryFee != nil {
		fee := *o.DeliveryFee
		c.DeliveryFee = &fee
	}
	if o.DeliveredAt != nil {
		at := *o.DeliveredAt
		c.DeliveredAt = &at
	}
	return c
}
