package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/laptophub/internal/db"
)

var ErrOrderNotFound = errors.New("order not found")

type Repository interface {
	Insert(ctx context.Context, q db.Querier, o *Order) error
	GetByID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Order, error)
	// GetByIDForUpdate re-fetches the order under the exclusive row lock,
	// for callers that must re-check state before transitioning it.
	GetByIDForUpdate(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Order, error)
	UpdateStatus(ctx context.Context, q db.Querier, orderID uuid.UUID, newStatus Status) error
	// UpdateStatusFrom only lands if the row still holds the expected
	// current status; reports whether the write applied.
	UpdateStatusFrom(ctx context.Context, q db.Querier, orderID uuid.UUID, from, to Status) (bool, error)
	MarkProcessing(ctx context.Context, q db.Querier, orderID uuid.UUID) error
	ListByUser(ctx context.Context, q db.Querier, userID uuid.UUID) ([]Order, error)
	ListByStatus(ctx context.Context, q db.Querier, status Status) ([]Order, error)
	ListExpiredPending(ctx context.Context, q db.Querier, now time.Time) ([]Order, error)
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

const orderColumns = `id, user_id, status, total, shipping_address, expires_at, created_at, updated_at`

func (r *postgresRepository) Insert(ctx context.Context, q db.Querier, o *Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", err)
		}
		o.ID = id
	}
	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	queryOrder := `
		INSERT INTO orders (id, user_id, status, total, shipping_address, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := q.Exec(ctx, queryOrder,
		o.ID, o.UserID, string(o.Status), o.Total, o.ShippingAddress, o.ExpiresAt, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, quantity, unit_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for i := range o.Items {
		item := &o.Items[i]

		itemID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", err)
		}
		item.ID = itemID
		item.OrderID = o.ID
		item.CreatedAt = now

		_, err = q.Exec(ctx, queryItem,
			item.ID, item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.CreatedAt)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
		}
	}
	return nil
}

func (r *postgresRepository) getByID(ctx context.Context, q db.Querier, orderID uuid.UUID, forUpdate bool) (*Order, error) {
	queryOrder := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		queryOrder += ` FOR UPDATE`
	}

	var o Order
	err := q.QueryRow(ctx, queryOrder, orderID).Scan(
		&o.ID, &o.UserID, &o.Status, &o.Total, &o.ShippingAddress, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order %s: %w", orderID, err)
	}

	items, err := r.itemsForOrder(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return &o, nil
}

func (r *postgresRepository) itemsForOrder(ctx context.Context, q db.Querier, orderID uuid.UUID) ([]OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, quantity, unit_price, created_at
		FROM order_items
		WHERE order_id = $1
	`
	rows, err := q.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order %s: %w", orderID, err)
		}
		items = append(items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order %s: %w", orderID, err)
	}
	return items, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Order, error) {
	return r.getByID(ctx, q, orderID, false)
}

func (r *postgresRepository) GetByIDForUpdate(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Order, error) {
	return r.getByID(ctx, q, orderID, true)
}

func (r *postgresRepository) UpdateStatus(ctx context.Context, q db.Querier, orderID uuid.UUID, newStatus Status) error {
	query := `
		UPDATE orders
		SET status = $2, updated_at = $3
		WHERE id = $1
	`
	cmdTag, err := q.Exec(ctx, query, orderID, string(newStatus), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: failed to update order %s status: %w", orderID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) UpdateStatusFrom(ctx context.Context, q db.Querier, orderID uuid.UUID, from, to Status) (bool, error) {
	query := `
		UPDATE orders
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`
	cmdTag, err := q.Exec(ctx, query, orderID, string(from), string(to), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("repository: failed to update order %s status: %w", orderID, err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// MarkProcessing promotes a paid order out of PENDING_PAYMENT. Guarded:
// an order that already left PENDING_PAYMENT is left alone.
func (r *postgresRepository) MarkProcessing(ctx context.Context, q db.Querier, orderID uuid.UUID) error {
	_, err := r.UpdateStatusFrom(ctx, q, orderID, StatusPendingPayment, StatusProcessing)
	return err
}

func (r *postgresRepository) listOrders(ctx context.Context, q db.Querier, query string, args ...any) ([]Order, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		var o Order
		err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.Total, &o.ShippingAddress, &o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	for i := range orders {
		items, err := r.itemsForOrder(ctx, q, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (r *postgresRepository) ListByUser(ctx context.Context, q db.Querier, userID uuid.UUID) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	return r.listOrders(ctx, q, query, userID)
}

func (r *postgresRepository) ListByStatus(ctx context.Context, q db.Querier, status Status) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY created_at`
	return r.listOrders(ctx, q, query, string(status))
}

// ListExpiredPending is the expiration sweep's unlocked candidate scan.
// Results may be stale by the time the sweep reaches an order; callers
// must re-fetch under GetByIDForUpdate and re-check.
func (r *postgresRepository) ListExpiredPending(ctx context.Context, q db.Querier, now time.Time) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at`
	return r.listOrders(ctx, q, query, string(StatusPendingPayment), now)
}
