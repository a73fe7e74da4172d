package controller

import (
	"github.com/google/uuid"

	"github.com/gasflow/orderflow/internal/order"
	"github.com/gasflow/orderflow/internal/realtime"
)

// inflightTable tracks optimistic transitions awaiting server
// confirmation. For each order it records the status observed at the
// moment the optimistic update was applied (the rollback target) and
// buffers realtime events that arrive before the call resolves.
type inflightTable struct {
	prev     map[uuid.UUID]order.Status
	buffered map[uuid.UUID][]realtime.Event
}

func newInflightTable() *inflightTable {
	return &inflightTable{
		prev:     make(map[uuid.UUID]order.Status),
		buffered: make(map[uuid.UUID][]realtime.Event),
	}
}

// begin records prev as the rollback target for orderID. It returns
// false when a transition is already in flight for that order.
func (t *inflightTable) begin(orderID uuid.UUID, prev order.Status) bool {
	if _, active := t.prev[orderID]; active {
		return false
	}
	t.prev[orderID] = prev
	return true
}

// active reports whether a transition is in flight for orderID.
func (t *inflightTable) active(orderID uuid.UUID) bool {
	_, ok := t.prev[orderID]
	return ok
}

// buffer holds ev for replay after the in-flight call resolves.
func (t *inflightTable) buffer(ev realtime.Event) {
	t.buffered[ev.OrderID] = append(t.buffered[ev.OrderID], ev)
}

// resolve clears the in-flight record for orderID and returns the
// rollback target plus any events buffered while the call was pending,
// in arrival order.
func (t *inflightTable) resolve(orderID uuid.UUID) (order.Status, []realtime.Event) {
	prev := t.prev[orderID]
	events := t.buffered[orderID]
	delete(t.prev, orderID)
	delete(t.buffered, orderID)
	return prev, events
}
