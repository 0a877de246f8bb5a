package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/laptophub/internal/db"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// Ledger is the only way stock is mutated. Callers that intend to
// decrement must first take the row lock via LockForUpdate inside their
// own transaction, so concurrent checkouts on the same product serialize.
type Ledger interface {
	LockForUpdate(ctx context.Context, q db.Querier, productID uuid.UUID) (*Product, error)
	Decrement(ctx context.Context, q db.Querier, productID uuid.UUID, qty int) error
	Restore(ctx context.Context, q db.Querier, productID uuid.UUID, qty int) error
}

type Repository interface {
	Ledger
	GetByID(ctx context.Context, q db.Querier, productID uuid.UUID) (*Product, error)
	List(ctx context.Context, q db.Querier) ([]Product, error)
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

const productColumns = `id, name, brand, price, stock, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Brand, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, q db.Querier, productID uuid.UUID) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(q.QueryRow(ctx, query, productID))
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to select product %s: %w", productID, err)
	}
	return p, nil
}

// LockForUpdate takes the exclusive row lock on the product for the
// duration of the caller's transaction and returns the current row.
func (r *postgresRepository) LockForUpdate(ctx context.Context, q db.Querier, productID uuid.UUID) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1 FOR UPDATE`

	p, err := scanProduct(q.QueryRow(ctx, query, productID))
	if err != nil {
		if errors.Is(err, ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("repository: failed to lock product %s: %w", productID, err)
	}
	return p, nil
}

// Decrement subtracts qty from the product's stock. The guarded WHERE
// clause keeps stock from ever going negative even if a caller skipped
// the lock; with the lock held it simply never fires.
func (r *postgresRepository) Decrement(ctx context.Context, q db.Querier, productID uuid.UUID, qty int) error {
	query := `
		UPDATE products
		SET stock = stock - $2, updated_at = $3
		WHERE id = $1 AND stock >= $2
	`

	cmdTag, err := q.Exec(ctx, query, productID, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: failed to decrement stock for product %s: %w", productID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w for product %s", ErrInsufficientStock, productID)
	}
	return nil
}

// Restore adds qty back unconditionally. Idempotency is the caller's
// responsibility: only one of cancel/expire can ever fire per order.
func (r *postgresRepository) Restore(ctx context.Context, q db.Querier, productID uuid.UUID, qty int) error {
	query := `
		UPDATE products
		SET stock = stock + $2, updated_at = $3
		WHERE id = $1
	`

	cmdTag, err := q.Exec(ctx, query, productID, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: failed to restore stock for product %s: %w", productID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		log.Warn().Stringer("product_id", productID).Msg("repository: stock restore matched no product")
		return ErrProductNotFound
	}
	return nil
}

func (r *postgresRepository) List(ctx context.Context, q db.Querier) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY name`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query products: %w", err)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		var p Product
		err := rows.Scan(&p.ID, &p.Name, &p.Brand, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating products: %w", err)
	}
	return products, nil
}
