// internal/order/model.go
package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// OrderItem is a snapshot of a purchased product line: the unit price is
// the product's price at the time of purchase and never changes when the
// live product price does.
type OrderItem struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OrderID   uuid.UUID       `json:"order_id" db:"order_id"`
	ProductID uuid.UUID       `json:"product_id" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

type Order struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	UserID          uuid.UUID       `json:"user_id" db:"user_id"`
	Status          Status          `json:"status" db:"status"`
	Items           []OrderItem     `json:"items" db:"-"`
	Total           decimal.Decimal `json:"total" db:"total"`
	ShippingAddress string          `json:"shipping_address" db:"shipping_address"`
	// ExpiresAt is the payment deadline. It is data, not a timer: the
	// expiration sweep enforces it by polling.
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
