package order

import "fmt"

type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusProcessing     Status = "PROCESSING"
	StatusShipped        Status = "SHIPPED"
	StatusDelivered      Status = "DELIVERED"
	StatusCancelled      Status = "CANCELLED"
	StatusExpired        Status = "EXPIRED"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

// allowedTransitions is the entire order state machine as data. Orders
// only move forward; DELIVERED, CANCELLED and EXPIRED are terminal.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPendingPayment: {
		StatusProcessing: true,
		StatusCancelled:  true,
		StatusExpired:    true,
	},
	StatusProcessing: {
		StatusShipped: true,
	},
	StatusShipped: {
		StatusDelivered: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
	StatusExpired:   {},
}

func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// InvalidTransitionError names both the current and the requested status
// so callers always see which transition was refused.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition from %s to %s", e.From, e.To)
}
