package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gasflow/orderflow/internal/identity"
	"github.com/gasflow/orderflow/internal/order"
	"github.com/gasflow/orderflow/internal/realtime"
)

// QueueRepository is the remote surface the fulfillment controller
// needs. Satisfied by *repo.Client.
type QueueRepository interface {
	FetchQueue(ctx context.Context, id identity.Identity, sellerRef uuid.UUID) ([]order.Order, error)
	UpdateStatus(ctx context.Context, id identity.Identity, orderID uuid.UUID, target order.Status) (order.Order, error)
}

// Tabs shown in the fulfillment view, in display order.
var IncomingTabs = []order.Status{
	order.StatusPending,
	order.StatusPreparing,
	order.StatusOnDelivery,
	order.StatusDelivered,
}

// Incoming is the fulfillment-side controller: the same status machine
// and optimistic protocol as OrderList, scoped to one seller's queue,
// with no cart concept.
type Incoming struct {
	id        identity.Identity
	sellerRef uuid.UUID
	repo      QueueRepository
	logger    *slog.Logger

	mu       sync.Mutex
	queue    []order.Order
	inflight *inflightTable
	badges   map[order.Status]int
	stale    map[uuid.UUID]int
	onChange func()

	fetch singleflight.Group
}

// NewIncoming creates the controller for the fulfillment entity
// identified by sellerRef.
func NewIncoming(id identity.Identity, sellerRef uuid.UUID, repo QueueRepository, logger *slog.Logger) *Incoming {
	return &Incoming{
		id:        id,
		sellerRef: sellerRef,
		repo:      repo,
		logger:    logger,
		inflight:  newInflightTable(),
		badges:    make(map[order.Status]int),
		stale:     make(map[uuid.UUID]int),
	}
}

// SetOnChange registers the rebuild callback; invoked without locks held.
func (c *Incoming) SetOnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Incoming) notifyChange() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Refresh fetches the seller's queue. Network failures keep the cached
// queue, like the buyer-side controller.
func (c *Incoming) Refresh(ctx context.Context) error {
	_, err, _ := c.fetch.Do("queue", func() (any, error) {
		fetched, err := c.repo.FetchQueue(ctx, c.id, c.sellerRef)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		merged := make([]order.Order, 0, len(fetched))
		for _, o := range fetched {
			if c.inflight.active(o.ID) {
				if local, ok := findOrder(c.queue, o.ID); ok {
					merged = append(merged, local)
					continue
				}
			}
			merged = append(merged, o)
		}
		c.queue = merged
		c.mu.Unlock()
		c.notifyChange()
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, order.ErrNetwork) {
			c.logger.Warn("queue fetch failed, keeping cached queue", "error", err)
		}
		return fmt.Errorf("refresh queue: %w", err)
	}
	return nil
}

// Tab returns the queue entries currently in status, newest first.
func (c *Incoming) Tab(status order.Status) []order.Order {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []order.Order
	for _, o := range c.queue {
		if o.Status == status {
			out = append(out, o.Clone())
		}
	}
	sortByActivity(out)
	return out
}

// Badge returns the unseen-order counter for one tab.
func (c *Incoming) Badge(status order.Status) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.badges[status]
}

// FocusTab records that the viewer navigated into a tab, resetting its
// badge. The tab-focus signal comes from the UI layer.
func (c *Incoming) FocusTab(status order.Status) {
	c.mu.Lock()
	c.badges[status] = 0
	c.mu.Unlock()
	c.notifyChange()
}

// Advance moves orderID one forward step, optimistically, with rollback
// on a confirmed failure.
func (c *Incoming) Advance(ctx context.Context, orderID uuid.UUID) error {
	c.mu.Lock()
	current, ok := findOrder(c.queue, orderID)
	if !ok {
		c.mu.Unlock()
		return &order.NotFoundError{OrderID: orderID}
	}
	next, hasNext := order.Next(current.Status, order.RoleStaff)
	if !hasNext {
		c.mu.Unlock()
		return &order.InvalidTransitionError{From: current.Status, To: current.Status}
	}
	c.mu.Unlock()
	return c.transition(ctx, orderID, next)
}

// Cancel moves orderID to CANCELLED, subject to the state machine.
func (c *Incoming) Cancel(ctx context.Context, orderID uuid.UUID) error {
	return c.transition(ctx, orderID, order.StatusCancelled)
}

func (c *Incoming) transition(ctx context.Context, orderID uuid.UUID, target order.Status) error {
	c.mu.Lock()
	current, ok := findOrder(c.queue, orderID)
	if !ok {
		c.mu.Unlock()
		return &order.NotFoundError{OrderID: orderID}
	}
	if current.Status == target {
		c.mu.Unlock()
		return nil
	}
	if c.inflight.active(orderID) {
		c.mu.Unlock()
		return &order.TransitionInProgressError{OrderID: orderID}
	}
	if err := order.ValidateTransition(current.Status, target); err != nil {
		c.mu.Unlock()
		return err
	}
	c.inflight.begin(orderID, current.Status)
	c.setStatus(orderID, target)
	c.mu.Unlock()
	c.notifyChange()

	updated, err := c.repo.UpdateStatus(ctx, c.id, orderID, target)

	c.mu.Lock()
	prev, buffered := c.inflight.resolve(orderID)
	if err != nil {
		c.setStatus(orderID, prev)
	} else if idx := indexOf(c.queue, orderID); idx >= 0 {
		c.queue[idx] = updated
	}
	for _, ev := range buffered {
		c.applyEventLocked(ev)
	}
	c.mu.Unlock()
	c.notifyChange()

	if err != nil {
		return fmt.Errorf("advance order %s: %w", orderID, err)
	}
	return nil
}

// HandleEvent folds one realtime event into the queue. A PENDING
// creation for an order not in view bumps the pending badge; creations
// for other sellers are ignored.
func (c *Incoming) HandleEvent(ev realtime.Event) {
	c.mu.Lock()
	if c.inflight.active(ev.OrderID) {
		c.inflight.buffer(ev)
		c.mu.Unlock()
		return
	}
	changed := c.applyEventLocked(ev)
	c.mu.Unlock()
	if changed {
		c.notifyChange()
	}
}

func (c *Incoming) applyEventLocked(ev realtime.Event) bool {
	switch ev.Kind {
	case realtime.KindOrderCreated:
		if ev.Order.SellerRef != c.sellerRef {
			return false
		}
		if _, ok := findOrder(c.queue, ev.Order.ID); ok {
			return false
		}
		c.queue = append([]order.Order{ev.Order.Clone()}, c.queue...)
		if ev.Order.Status == order.StatusPending {
			c.badges[order.StatusPending]++
		}
		return true

	case realtime.KindOrderStatusChanged:
		idx := indexOf(c.queue, ev.OrderID)
		if idx < 0 {
			return false
		}
		current := c.queue[idx].Status
		if !order.ReachableForward(current, ev.Status) {
			c.stale[ev.OrderID]++
			c.logger.Debug("discarding stale status event",
				"order_id", ev.OrderID, "local", current, "event", ev.Status)
			return false
		}
		c.queue[idx].Status = ev.Status
		if !ev.OrderedAt.IsZero() {
			c.queue[idx].OrderedAt = ev.OrderedAt
		}
		if ev.Status == order.StatusDelivered {
			c.queue[idx].DeliveredAt = ev.DeliveredAt
		}
		return true
	}
	return false
}

// StaleEventCount reports discarded out-of-order events for one order.
func (c *Incoming) StaleEventCount(orderID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale[orderID]
}

func (c *Incoming) setStatus(orderID uuid.UUID, s order.Status) {
	if idx := indexOf(c.queue, orderID); idx >= 0 {
		c.queue[idx].Status = s
	}
}
