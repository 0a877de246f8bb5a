package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/laptophub/internal/db"
)

var ErrPaymentNotFound = errors.New("payment not found")

type Repository interface {
	Insert(ctx context.Context, q db.Querier, p *Payment) error
	GetByID(ctx context.Context, q db.Querier, paymentID uuid.UUID) (*Payment, error)
	GetByOrderID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Payment, error)
	GetByIntentIDForUpdate(ctx context.Context, q db.Querier, intentID string) (*Payment, error)
	SetIntentID(ctx context.Context, q db.Querier, paymentID uuid.UUID, intentID string) error
	// UpdateStatusFrom is a guarded compare-and-set: the write only lands
	// if the row still holds the expected current status.
	UpdateStatusFrom(ctx context.Context, q db.Querier, paymentID uuid.UUID, from, to Status) (bool, error)
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

const paymentColumns = `id, order_id, amount, status, intent_id, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Status, &p.IntentID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *postgresRepository) Insert(ctx context.Context, q db.Querier, p *Payment) error {
	if p.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate payment ID: %w", err)
		}
		p.ID = id
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	query := `
		INSERT INTO payments (id, order_id, amount, status, intent_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.Exec(ctx, query, p.ID, p.OrderID, p.Amount, string(p.Status), p.IntentID, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository: failed to insert payment for order %s: %w", p.OrderID, err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, q db.Querier, paymentID uuid.UUID) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	p, err := scanPayment(q.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to select payment %s: %w", paymentID, err)
	}
	return p, nil
}

func (r *postgresRepository) GetByOrderID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1`

	p, err := scanPayment(q.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to select payment for order %s: %w", orderID, err)
	}
	return p, nil
}

// GetByIntentIDForUpdate locks the payment row so racing reconcilers
// (webhook replay, gateway poll, expiration sweep) serialize on it.
func (r *postgresRepository) GetByIntentIDForUpdate(ctx context.Context, q db.Querier, intentID string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE intent_id = $1 FOR UPDATE`

	p, err := scanPayment(q.QueryRow(ctx, query, intentID))
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("repository: failed to select payment by intent id %s: %w", intentID, err)
	}
	return p, nil
}

func (r *postgresRepository) SetIntentID(ctx context.Context, q db.Querier, paymentID uuid.UUID, intentID string) error {
	query := `UPDATE payments SET intent_id = $2, updated_at = $3 WHERE id = $1`

	cmdTag, err := q.Exec(ctx, query, paymentID, intentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("repository: failed to set intent id for payment %s: %w", paymentID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *postgresRepository) UpdateStatusFrom(ctx context.Context, q db.Querier, paymentID uuid.UUID, from, to Status) (bool, error) {
	query := `
		UPDATE payments
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`
	cmdTag, err := q.Exec(ctx, query, paymentID, string(from), string(to), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("repository: failed to update payment %s status: %w", paymentID, err)
	}
	return cmdTag.RowsAffected() > 0, nil
}
