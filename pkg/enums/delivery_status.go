package enums

import "fmt"

// DeliveryStatus tracks the lifecycle of a delivery task.
type DeliveryStatus string

const (
	DeliveryStatusAssigned  DeliveryStatus = "ASSIGNED"
	DeliveryStatusInTransit DeliveryStatus = "IN_TRANSIT"
	DeliveryStatusDelivered DeliveryStatus = "DELIVERED"
	DeliveryStatusDelayed   DeliveryStatus = "DELAYED"
	DeliveryStatusFailed    DeliveryStatus = "FAILED"
	DeliveryStatusCanceled  DeliveryStatus = "CANCELED"
)

var validDeliveryStatuses = []DeliveryStatus{
	DeliveryStatusAssigned,
	DeliveryStatusInTransit,
	DeliveryStatusDelivered,
	DeliveryStatusDelayed,
	DeliveryStatusFailed,
	DeliveryStatusCanceled,
}

// DELAYED keeps the delivery recoverable; FAILED and DELIVERED are terminal
// alongside CANCELED.
var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusAssigned:  {DeliveryStatusInTransit, DeliveryStatusCanceled},
	DeliveryStatusInTransit: {DeliveryStatusDelivered, DeliveryStatusDelayed, DeliveryStatusFailed, DeliveryStatusCanceled},
	DeliveryStatusDelayed:   {DeliveryStatusInTransit, DeliveryStatusCanceled},
	DeliveryStatusDelivered: {},
	DeliveryStatusFailed:    {},
	DeliveryStatusCanceled:  {},
}

// String implements fmt.Stringer.
func (d DeliveryStatus) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeliveryStatus.
func (d DeliveryStatus) IsValid() bool {
	for _, candidate := range validDeliveryStatuses {
		if candidate == d {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (d DeliveryStatus) IsTerminal() bool {
	return len(deliveryTransitions[d]) == 0 && d.IsValid()
}

// CanTransitionTo reports whether target is reachable from the current status.
func (d DeliveryStatus) CanTransitionTo(target DeliveryStatus) bool {
	for _, candidate := range deliveryTransitions[d] {
		if candidate == target {
			return true
		}
	}
	return false
}

// ParseDeliveryStatus converts raw input into a DeliveryStatus.
func ParseDeliveryStatus(value string) (DeliveryStatus, error) {
	for _, candidate := range validDeliveryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery status %q", value)
}
