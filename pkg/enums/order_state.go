package enums

import "fmt"

// OrderState mirrors the backend's order lifecycle taxonomy.
type OrderState string

const (
	OrderStateConfirmed OrderState = "CONFIRMED"
	OrderStatePreparing OrderState = "PREPARING"
	OrderStateReady     OrderState = "READY"
	OrderStatePickedUp  OrderState = "PICKED_UP"
	OrderStateDelivered OrderState = "DELIVERED"
	OrderStateCancelled OrderState = "CANCELLED"
	OrderStateRejected  OrderState = "REJECTED"
	OrderStateClosed    OrderState = "CLOSED"
)

var validOrderStates = []OrderState{
	OrderStateConfirmed,
	OrderStatePreparing,
	OrderStateReady,
	OrderStatePickedUp,
	OrderStateDelivered,
	OrderStateCancelled,
	OrderStateRejected,
	OrderStateClosed,
}

// String implements fmt.Stringer.
func (o OrderState) String() string {
	return string(o)
}

// IsValid reports whether the value is a known OrderState.
func (o OrderState) IsValid() bool {
	for _, candidate := range validOrderStates {
		if candidate == o {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the order can no longer change state.
func (o OrderState) IsTerminal() bool {
	switch o {
	case OrderStateDelivered, OrderStateClosed, OrderStateCancelled, OrderStateRejected:
		return true
	}
	return false
}

// ParseOrderState converts raw input into an OrderState.
func ParseOrderState(value string) (OrderState, error) {
	for _, candidate := range validOrderStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order state %q", value)
}
