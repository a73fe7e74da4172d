// Package realtime models the push event stream: a tagged union of
// order-created and order-status-changed events, delivered over a
// websocket but consumed through an abstract channel so controllers
// never see the transport.
package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gasflow/orderflow/internal/enum"
	"github.com/gasflow/orderflow/internal/order"
)

// Kind discriminates the event union.
type Kind string

const (
	KindOrderCreated       = Kind(enum.EventOrderCreated)
	KindOrderStatusChanged = Kind(enum.EventOrderStatusChanged)
)

// Event is one push notification. Exactly the fields for its kind are
// set: Order for KindOrderCreated; OrderID, Status and the timestamps
// for KindOrderStatusChanged.
type Event struct {
	Kind        Kind
	Order       order.Order
	OrderID     uuid.UUID
	Status      order.Status
	OrderedAt   time.Time
	DeliveredAt *time.Time
}

// frame is the wire shape: {"type": "...", "payload": {...}}.
type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type statusChangedPayload struct {
	OrderID     uuid.UUID  `json:"order_id"`
	Status      string     `json:"status"`
	OrderedAt   time.Time  `json:"ordered_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
}

// Decode parses a wire frame into an Event.
func Decode(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Event{}, fmt.Errorf("decode event frame: %w", err)
	}

	switch Kind(f.Type) {
	case KindOrderCreated:
		var o order.Order
		if err := json.Unmarshal(f.Payload, &o); err != nil {
			return Event{}, fmt.Errorf("decode order.created payload: %w", err)
		}
		return Event{Kind: KindOrderCreated, Order: o, OrderID: o.ID, Status: o.Status}, nil
	case KindOrderStatusChanged:
		var p statusChangedPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return Event{}, fmt.Errorf("decode order.status_changed payload: %w", err)
		}
		s := order.Status(p.Status)
		if !s.Valid() {
			return Event{}, fmt.Errorf("decode order.status_changed: unknown status %q", p.Status)
		}
		return Event{
			Kind:        KindOrderStatusChanged,
			OrderID:     p.OrderID,
			Status:      s,
			OrderedAt:   p.OrderedAt,
			DeliveredAt: p.DeliveredAt,
		}, nil
	}
	return Event{}, fmt.Errorf("unknown event type %q", f.Type)
}
