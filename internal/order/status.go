package order

import "github.com/gasflow/orderflow/internal/enum"

// Status is an order lifecycle state. The forward chain is
// CART → PENDING → PREPARING → ON_DELIVERY → DELIVERED, with CANCELLED
// reachable from any non-terminal state past CART's exit.
type Status string

const (
	StatusCart       = Status(enum.OrderStatusCart)
	StatusPending    = Status(enum.OrderStatusPending)
	StatusPreparing  = Status(enum.OrderStatusPreparing)
	StatusOnDelivery = Status(enum.OrderStatusOnDelivery)
	StatusDelivered  = Status(enum.OrderStatusDelivered)
	StatusCancelled  = Status(enum.OrderStatusCancelled)
)

// Role gates who may take the final delivery step. Staff advance
// ON_DELIVERY → DELIVERED from the fulfillment queue; the placing party
// confirms receipt, which is the same transition.
type Role string

const (
	RoleBuyer = Role(enum.RoleBuyer)
	RoleStaff = Role(enum.RoleStaff)
)

// forward maps each state to its single next forward state.
var forward = map[Status]Status{
	StatusCart:       StatusPending,
	StatusPending:    StatusPreparing,
	StatusPreparing:  StatusOnDelivery,
	StatusOnDelivery: StatusDelivered,
}

// ordinal positions on the forward chain, used by the realtime staleness
// filter. CANCELLED sits above the chain so a cancel event is never
// discarded as stale.
var ordinal = map[Status]int{
	StatusCart:       0,
	StatusPending:    1,
	StatusPreparing:  2,
	StatusOnDelivery: 3,
	StatusDelivered:  4,
	StatusCancelled:  5,
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	_, ok := ordinal[s]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Ordinal returns the position of s on the forward chain.
func (s Status) Ordinal() int {
	return ordinal[s]
}

// Next returns the single next forward state for s, or false if s is
// terminal. Both roles may take every forward step, including
// ON_DELIVERY → DELIVERED (staff advance / buyer receipt confirmation);
// the role parameter keeps a future policy change local to this function.
func Next(s Status, _ Role) (Status, bool) {
	next, ok := forward[s]
	return next, ok
}

// ValidateTransition checks that from can reach to in one legal step.
// Requesting the state already held is an idempotent no-op, not an error.
func ValidateTransition(from, to Status) error {
	if !from.Valid() || !to.Valid() {
		return &InvalidTransitionError{From: from, To: to}
	}
	if from == to {
		return nil
	}
	if to == StatusCancelled {
		if from.IsTerminal() || from == StatusCart {
			return &InvalidTransitionError{From: from, To: to}
		}
		return nil
	}
	if next, ok := forward[from]; ok && next == to {
		return nil
	}
	return &InvalidTransitionError{From: from, To: to}
}

// ReachableForward reports whether to lies strictly ahead of from on the
// lifecycle. Realtime events failing this check are stale and discarded.
func ReachableForward(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	return ordinal[to] > ordinal[from]
}
