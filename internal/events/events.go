// internal/events/events.go
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
)

// Order lifecycle event types carried on the order-events topic.
const (
	TypeOrderCreated     = "OrderCreated"
	TypeOrderCancelled   = "OrderCancelled"
	TypeOrderExpired     = "OrderExpired"
	TypeOrderShipped     = "OrderShipped"
	TypeOrderDelivered   = "OrderDelivered"
	TypePaymentCompleted = "PaymentCompleted"
	TypePaymentFailed    = "PaymentFailed"
)

type Envelope struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Producer   string          `json:"producer"`
	OrderID    string          `json:"order_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Publisher emits lifecycle events. Publishing is best-effort by
// contract: implementations must never fail the calling operation.
type Publisher interface {
	Publish(ctx context.Context, eventType string, orderID uuid.UUID, payload any)
}

// Nop is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(ctx context.Context, eventType string, orderID uuid.UUID, payload any) {}
