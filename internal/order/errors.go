package order

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Errors shared across the engine. Transport and store layers map their
// native failures onto these so callers can branch with errors.Is/As.
var (
	ErrNetwork = errors.New("order service unreachable")
	ErrAuth    = errors.New("not authenticated")
)

// InsufficientStockError reports a requested quantity above known stock.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: %d available", e.ProductID, e.Available)
}

// InvalidTransitionError reports an illegal status step.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// TransitionInProgressError reports a second transition requested while
// one is already in flight for the same order.
type TransitionInProgressError struct {
	OrderID uuid.UUID
}

func (e *TransitionInProgressError) Error() string {
	return fmt.Sprintf("transition already in progress for order %s", e.OrderID)
}

// NotFoundError reports an order unknown to the server.
type NotFoundError struct {
	OrderID uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.OrderID)
}
