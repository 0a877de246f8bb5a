// internal/payment/model.go
package payment

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusExpired   Status = "EXPIRED"
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusExpired
}

// allowedTransitions is the whole payment state machine: PENDING moves
// once to a terminal status and never moves again. COMPLETED in
// particular is sticky regardless of which writer (webhook, poll,
// sweeper) shows up later.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusExpired:   true,
	},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusExpired:   {},
}

func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

type Payment struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OrderID   uuid.UUID       `json:"order_id" db:"order_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Status    Status          `json:"status" db:"status"`
	// IntentID is the gateway's payment-intent identifier, nil until the
	// gateway call during checkout succeeds.
	IntentID  *string   `json:"intent_id,omitempty" db:"intent_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
