package enums

import "fmt"

// OrderStatus tracks the lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "PENDING"
	OrderStatusConfirmed        OrderStatus = "CONFIRMED"
	OrderStatusPreparing        OrderStatus = "PREPARING"
	OrderStatusReadyForDispatch OrderStatus = "READY_FOR_DISPATCH"
	OrderStatusOutForDelivery   OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered        OrderStatus = "DELIVERED"
	OrderStatusCanceled         OrderStatus = "CANCELED"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReadyForDispatch,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
	OrderStatusCanceled,
}

// orderTransitions is the single transition table for orders. CANCELED is
// reachable from every non-terminal state.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:          {OrderStatusConfirmed, OrderStatusCanceled},
	OrderStatusConfirmed:        {OrderStatusPreparing, OrderStatusCanceled},
	OrderStatusPreparing:        {OrderStatusReadyForDispatch, OrderStatusCanceled},
	OrderStatusReadyForDispatch: {OrderStatusOutForDelivery, OrderStatusCanceled},
	OrderStatusOutForDelivery:   {OrderStatusDelivered, OrderStatusCanceled},
	OrderStatusDelivered:        {},
	OrderStatusCanceled:         {},
}

// String implements fmt.Stringer.
func (o OrderStatus) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderStatus.
func (o OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == o {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (o OrderStatus) IsTerminal() bool {
	return len(orderTransitions[o]) == 0 && o.IsValid()
}

// CanTransitionTo reports whether target is reachable from the current status.
func (o OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, candidate := range orderTransitions[o] {
		if candidate == target {
			return true
		}
	}
	return false
}

// HoldsReservation reports whether stock is reserved while in this status.
// Reservation is taken entering CONFIRMED and consumed on DELIVERED.
func (o OrderStatus) HoldsReservation() bool {
	switch o {
	case OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReadyForDispatch, OrderStatusOutForDelivery:
		return true
	default:
		return false
	}
}

// ParseOrderStatus converts raw input into an OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
