package enum

// ── Order lifecycle (forward-only chain, CANCELLED absorbing) ──

const (
	OrderStatusCart       = "CART"
	OrderStatusPending    = "PENDING"
	OrderStatusPreparing  = "PREPARING"
	OrderStatusOnDelivery = "ON_DELIVERY"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCancelled  = "CANCELLED"
)

// ── Actor roles ──

const (
	RoleBuyer = "BUYER"
	RoleStaff = "STAFF"
)

// ── Realtime event kinds ──

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)
