// Package controller unifies the local cart and server-confirmed orders
// into one projection and mediates every mutation against it: checkout,
// optimistic status transitions with rollback, and realtime event merge.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gasflow/orderflow/internal/cart"
	"github.com/gasflow/orderflow/internal/identity"
	"github.com/gasflow/orderflow/internal/order"
	"github.com/gasflow/orderflow/internal/realtime"
)

// Errors returned by the controllers.
var (
	ErrEmptyCart    = errors.New("cart is empty")
	ErrLineNotFound = errors.New("selected line not in cart")
)

// CartStore is the cart persistence surface the controller needs.
// Satisfied by *cart.Store.
type CartStore interface {
	GetCart(ctx context.Context, id identity.Identity) (cart.Cart, error)
	SetLineQuantity(ctx context.Context, id identity.Identity, line cart.Line) (cart.Line, error)
	RemoveLine(ctx context.Context, id identity.Identity, productID uuid.UUID) error
	Clear(ctx context.Context, id identity.Identity) error
	ConsumeLines(ctx context.Context, id identity.Identity, productIDs []uuid.UUID) error
}

// OrderRepository is the remote order service surface the controller
// needs. Satisfied by *repo.Client.
type OrderRepository interface {
	FetchOrders(ctx context.Context, id identity.Identity) ([]order.Order, error)
	CreateOrder(ctx context.Context, id identity.Identity, lines []order.LineItem, contact order.Contact) (order.Order, error)
	UpdateStatus(ctx context.Context, id identity.Identity, orderID uuid.UUID, target order.Status) (order.Order, error)
}

// UnifiedOrderView is the merged projection: the synthetic cart-order
// (when the cart is non-empty) pinned first, then server orders sorted
// most-recent-activity-first, de-duplicated by order id.
type UnifiedOrderView struct {
	Orders []order.Order
}

// CartOrder returns the pinned cart-order, if present.
func (v UnifiedOrderView) CartOrder() (order.Order, bool) {
	if len(v.Orders) > 0 && v.Orders[0].IsCartOrder() {
		return v.Orders[0], true
	}
	return order.Order{}, false
}

// Selection names what Checkout targets: the whole cart or one line.
type Selection struct {
	all       bool
	productID uuid.UUID
}

// SelectAll targets every cart line.
func SelectAll() Selection { return Selection{all: true} }

// SelectProduct targets the single line for productID.
func SelectProduct(productID uuid.UUID) Selection { return Selection{productID: productID} }

// OrderList is the buyer-side controller over the unified projection.
type OrderList struct {
	id     identity.Identity
	carts  CartStore
	repo   OrderRepository
	logger *slog.Logger

	mu       sync.Mutex
	server   []order.Order // cached server orders, server is source of truth
	inflight *inflightTable
	stale    map[uuid.UUID]int
	onChange func()

	fetch singleflight.Group
}

// NewOrderList creates the controller for one identity. The projection
// is empty until the first Refresh.
func NewOrderList(id identity.Identity, carts CartStore, repo OrderRepository, logger *slog.Logger) *OrderList {
	return &OrderList{
		id:       id,
		carts:    carts,
		repo:     repo,
		logger:   logger,
		inflight: newInflightTable(),
		stale:    make(map[uuid.UUID]int),
	}
}

// SetOnChange registers the callback fired after every projection
// rebuild. It is invoked without internal locks held, so the callback
// may call View.
func (c *OrderList) SetOnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *OrderList) notifyChange() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Refresh fetches server orders, replacing the cache. Concurrent calls
// share one fetch. On a network failure the last-known-good cache is
// kept and the error returned for a non-fatal warning; an auth failure
// is propagated untouched for the session layer.
func (c *OrderList) Refresh(ctx context.Context) error {
	_, err, _ := c.fetch.Do("orders", func() (any, error) {
		fetched, err := c.repo.FetchOrders(ctx, c.id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.server = c.mergeFetched(fetched)
		c.mu.Unlock()
		c.notifyChange()
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, order.ErrNetwork) {
			c.logger.Warn("order fetch failed, keeping cached orders", "error", err)
		}
		return fmt.Errorf("refresh orders: %w", err)
	}
	return nil
}

// mergeFetched folds a fetch result into the cache without clobbering
// orders whose transitions are optimistically in flight. Caller holds mu.
func (c *OrderList) mergeFetched(fetched []order.Order) []order.Order {
	merged := make([]order.Order, 0, len(fetched))
	for _, o := range fetched {
		if c.inflight.active(o.ID) {
			if local, ok := findOrder(c.server, o.ID); ok {
				merged = append(merged, local)
				continue
			}
		}
		merged = append(merged, o)
	}
	return merged
}

// View rebuilds and returns the unified projection: live cart lines as
// the pinned cart-order, then the cached server orders.
func (c *OrderList) View(ctx context.Context) (UnifiedOrderView, error) {
	ct, err := c.carts.GetCart(ctx, c.id)
	if err != nil {
		return UnifiedOrderView{}, fmt.Errorf("build projection: %w", err)
	}

	c.mu.Lock()
	server := make([]order.Order, 0, len(c.server))
	for _, o := range c.server {
		server = append(server, o.Clone())
	}
	c.mu.Unlock()

	sortByActivity(server)

	var view UnifiedOrderView
	if !ct.Empty() {
		view.Orders = append(view.Orders, cartOrder(ct))
	}
	view.Orders = append(view.Orders, server...)
	return view, nil
}

// cartOrder synthesizes the projection entry for a non-empty cart. Its
// delivery fee is deliberately unknown, never zero: callers must render
// "fee may vary".
func cartOrder(ct cart.Cart) order.Order {
	o := order.Order{
		ID:         order.CartOrderID,
		Status:     order.StatusCart,
		TotalPrice: ct.Total(),
	}
	for _, l := range ct.Lines {
		o.Lines = append(o.Lines, order.LineItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
		o.SellerRef = l.SellerRef
	}
	return o
}

// SetLineQuantity edits the cart through the projection; the stored
// (possibly stock-capped) line is returned for the UI to reflect.
func (c *OrderList) SetLineQuantity(ctx context.Context, line cart.Line) (cart.Line, error) {
	stored, err := c.carts.SetLineQuantity(ctx, c.id, line)
	if err != nil {
		return cart.Line{}, err
	}
	c.notifyChange()
	return stored, nil
}

// RemoveLine removes one cart line through the projection.
func (c *OrderList) RemoveLine(ctx context.Context, productID uuid.UUID) error {
	if err := c.carts.RemoveLine(ctx, c.id, productID); err != nil {
		return err
	}
	c.notifyChange()
	return nil
}

// Checkout converts the selected cart lines into one server order.
// Quantities are validated against last-known stock ceilings before any
// network call; on any failure the cart is left untouched. Only a
// confirmed CreateOrder consumes the checked-out lines.
func (c *OrderList) Checkout(ctx context.Context, sel Selection, contact order.Contact) (order.Order, error) {
	ct, err := c.carts.GetCart(ctx, c.id)
	if err != nil {
		return order.Order{}, fmt.Errorf("checkout: %w", err)
	}
	if ct.Empty() {
		return order.Order{}, ErrEmptyCart
	}

	var targets []cart.Line
	if sel.all {
		targets = ct.Lines
	} else {
		line, ok := ct.Find(sel.productID)
		if !ok {
			return order.Order{}, ErrLineNotFound
		}
		targets = []cart.Line{line}
	}

	// Fail fast on stock before touching the network.
	lines := make([]order.LineItem, 0, len(targets))
	productIDs := make([]uuid.UUID, 0, len(targets))
	for _, l := range targets {
		if l.StockCeiling != nil && l.Quantity > *l.StockCeiling {
			return order.Order{}, &order.InsufficientStockError{ProductID: l.ProductID, Available: *l.StockCeiling}
		}
		lines = append(lines, order.LineItem{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
		})
		productIDs = append(productIDs, l.ProductID)
	}

	created, err := c.repo.CreateOrder(ctx, c.id, lines, contact)
	if err != nil {
		return order.Order{}, fmt.Errorf("checkout: %w", err)
	}

	if err := c.carts.ConsumeLines(ctx, c.id, productIDs); err != nil {
		// The order exists server-side; the stale cart lines will be
		// cleaned up on the next successful mutation.
		c.logger.Error("consume cart lines after checkout", "error", err)
	}

	c.mu.Lock()
	c.upsertOrder(created)
	c.mu.Unlock()
	c.notifyChange()
	return created, nil
}

// Transition moves orderID to target. For the cart-order, cancel clears
// the cart locally and never touches the repository. For server orders
// the transition is applied optimistically, confirmed remotely, and
// rolled back to the previously observed status on failure.
func (c *OrderList) Transition(ctx context.Context, orderID uuid.UUID, target order.Status) error {
	if orderID == order.CartOrderID {
		if target != order.StatusCancelled {
			return &order.InvalidTransitionError{From: order.StatusCart, To: target}
		}
		if err := c.carts.Clear(ctx, c.id); err != nil {
			return fmt.Errorf("cancel cart: %w", err)
		}
		c.notifyChange()
		return nil
	}

	c.mu.Lock()
	current, ok := findOrder(c.server, orderID)
	if !ok {
		c.mu.Unlock()
		return &order.NotFoundError{OrderID: orderID}
	}
	if current.Status == target {
		// Idempotent: already there, no side effects.
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
		// Confirmed failure: the optimistic state must not survive.
		c.setStatus(orderID, prev)
	} else {
		c.upsertOrder(updated)
	}
	for _, ev := range buffered {
		c.applyEventLocked(ev)
	}
	c.mu.Unlock()
	c.notifyChange()

	if err != nil {
		return fmt.Errorf("transition order %s: %w", orderID, err)
	}
	return nil
}

// HandleEvent folds one realtime event into the projection. Events for
// orders with an in-flight transition are buffered and replayed when it
// resolves; stale status events are discarded.
func (c *OrderList) HandleEvent(ev realtime.Event) {
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

// applyEventLocked merges ev into the cache. Caller holds mu.
func (c *OrderList) applyEventLocked(ev realtime.Event) bool {
	switch ev.Kind {
	case realtime.KindOrderCreated:
		// The creator's own checkout or fetch may have won the race.
		if _, ok := findOrder(c.server, ev.Order.ID); ok {
			return false
		}
		c.server = append([]order.Order{ev.Order.Clone()}, c.server...)
		return true

	case realtime.KindOrderStatusChanged:
		idx := indexOf(c.server, ev.OrderID)
		if idx < 0 {
			return false
		}
		current := c.server[idx].Status
		if !order.ReachableForward(current, ev.Status) {
			// Out-of-order delivery; counted, never applied.
			c.stale[ev.OrderID]++
			c.logger.Debug("discarding stale status event",
				"order_id", ev.OrderID, "local", current, "event", ev.Status)
			return false
		}
		c.server[idx].Status = ev.Status
		if !ev.OrderedAt.IsZero() {
			c.server[idx].OrderedAt = ev.OrderedAt
		}
		if ev.Status == order.StatusDelivered {
			c.server[idx].DeliveredAt = ev.DeliveredAt
		}
		return true
	}
	return false
}

// StaleEventCount reports discarded out-of-order events for one order,
// for surfacing transport misbehaviour.
func (c *OrderList) StaleEventCount(orderID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale[orderID]
}

// --- cache helpers (callers hold mu) ---

func (c *OrderList) setStatus(orderID uuid.UUID, s order.Status) {
	if idx := indexOf(c.server, orderID); idx >= 0 {
		c.server[idx].Status = s
	}
}

func (c *OrderList) upsertOrder(o order.Order) {
	if idx := indexOf(c.server, o.ID); idx >= 0 {
		c.server[idx] = o
		return
	}
	c.server = append([]order.Order{o}, c.server...)
}

func indexOf(orders []order.Order, id uuid.UUID) int {
	for i := range orders {
		if orders[i].ID == id {
			return i
		}
	}
	return -1
}

func findOrder(orders []order.Order, id uuid.UUID) (order.Order, bool) {
	if idx := indexOf(orders, id); idx >= 0 {
		return orders[idx], true
	}
	return order.Order{}, false
}

// sortByActivity orders newest activity first: delivery time when set,
// placement time otherwise. Stable so equal timestamps keep fetch order.
func sortByActivity(orders []order.Order) {
	activity := func(o order.Order) int64 {
		if o.DeliveredAt != nil {
			return o.DeliveredAt.UnixNano()
		}
		return o.OrderedAt.UnixNano()
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return activity(orders[i]) > activity(orders[j])
	})
}
