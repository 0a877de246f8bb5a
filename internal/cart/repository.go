package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/laptophub/internal/db"
)

var ErrItemNotFound = errors.New("cart item not found")

type Repository interface {
	GetOrCreate(ctx context.Context, q db.Querier, userID uuid.UUID) (*Cart, error)
	UpsertItem(ctx context.Context, q db.Querier, cartID, productID uuid.UUID, qty int) error
	SetItemQuantity(ctx context.Context, q db.Querier, cartID, productID uuid.UUID, qty int) error
	RemoveItem(ctx context.Context, q db.Querier, cartID, productID uuid.UUID) error
	Clear(ctx context.Context, q db.Querier, cartID uuid.UUID) error
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

func (r *postgresRepository) GetOrCreate(ctx context.Context, q db.Querier, userID uuid.UUID) (*Cart, error) {
	var c Cart

	queryCart := `SELECT id, user_id, created_at, updated_at FROM carts WHERE user_id = $1`
	err := q.QueryRow(ctx, queryCart, userID).Scan(&c.ID, &c.UserID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		cartID, genErr := uuid.NewV4()
		if genErr != nil {
			return nil, fmt.Errorf("repository: failed to generate cart ID: %w", genErr)
		}
		now := time.Now().UTC()

		queryInsert := `
			INSERT INTO carts (id, user_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := q.Exec(ctx, queryInsert, cartID, userID, now, now); err != nil {
			return nil, fmt.Errorf("repository: failed to create cart for user %s: %w", userID, err)
		}
		c = Cart{ID: cartID, UserID: userID, Items: []CartItem{}, CreatedAt: now, UpdatedAt: now}
		return &c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: failed to select cart for user %s: %w", userID, err)
	}

	queryItems := `
		SELECT id, cart_id, product_id, quantity, created_at, updated_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY created_at
	`
	rows, err := q.Query(ctx, queryItems, c.ID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query cart items for cart %s: %w", c.ID, err)
	}
	defer rows.Close()

	c.Items = make([]CartItem, 0)
	for rows.Next() {
		var item CartItem
		err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan cart item for cart %s: %w", c.ID, err)
		}
		c.Items = append(c.Items, item)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating cart items for cart %s: %w", c.ID, err)
	}

	return &c, nil
}

// UpsertItem adds the product to the cart, merging quantities if the
// product is already present.
func (r *postgresRepository) UpsertItem(ctx context.Context, q db.Querier, cartID, productID uuid.UUID, qty int) error {
	itemID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("repository: failed to generate cart item ID: %w", err)
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO cart_items (id, cart_id, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
	`
	if _, err := q.Exec(ctx, query, itemID, cartID, productID, qty, now); err != nil {
		return fmt.Errorf("repository: failed to upsert cart item for cart %s: %w", cartID, err)
	}
	return nil
}

func (r *postgresRepository) SetItemQuantity(ctx context.Context, q db.Querier, cartID, productID uuid.UUID, qty int) error {
	query := `
		UPDATE cart_items
		SET quantity = $3, updated_at = $4
		WHERE cart_id = $1 AND product_id = $2
	`
	cmdTag, err := q.Exec(ctx, query, cartID, productID, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: failed to update cart item quantity: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *postgresRepository) RemoveItem(ctx context.Context, q db.Querier, cartID, productID uuid.UUID) error {
	query := `DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	cmdTag, err := q.Exec(ctx, query, cartID, productID)
	if err != nil {
		return fmt.Errorf("repository: failed to remove cart item: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *postgresRepository) Clear(ctx context.Context, q db.Querier, cartID uuid.UUID) error {
	query := `DELETE FROM cart_items WHERE cart_id = $1`

	if _, err := q.Exec(ctx, query, cartID); err != nil {
		return fmt.Errorf("repository: failed to clear cart %s: %w", cartID, err)
	}
	return nil
}
