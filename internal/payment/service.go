package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/laptophub/internal/db"
	"github.com/vasiliy-maslov/laptophub/internal/events"
)

var (
	ErrPaymentConflict = errors.New("order already has a payment")
	ErrAmountMismatch  = errors.New("payment amount does not match order total")
	ErrGateway         = errors.New("payment gateway error")
)

// OrderStatusWriter is the one order-side effect the coordinator needs:
// promoting a paid order to PROCESSING. It is guarded on the order side,
// so calling it for an order that already left PENDING_PAYMENT is a no-op.
type OrderStatusWriter interface {
	MarkProcessing(ctx context.Context, q db.Querier, orderID uuid.UUID) error
}

// Service coordinates local payment records with the external gateway.
// Two independent writers race on payment status (inbound webhook and
// outbound poll); every write goes through the guarded compare-and-set
// in the repository, so status only ever moves PENDING -> terminal.
type Service interface {
	Create(ctx context.Context, q db.Querier, orderID uuid.UUID, orderTotal, amount decimal.Decimal, metadata map[string]string) (*Payment, error)
	GetByOrderID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Payment, error)
	ReconcileFromWebhook(ctx context.Context, intentID string, outcome IntentStatus) error
	SyncFromGateway(ctx context.Context, q db.Querier, paymentID uuid.UUID) (Status, error)
	CancelAtGateway(ctx context.Context, p *Payment)
	MarkExpired(ctx context.Context, q db.Querier, paymentID uuid.UUID) error
	MarkFailed(ctx context.Context, q db.Querier, paymentID uuid.UUID) error
}

type service struct {
	tx       db.TxManager
	payments Repository
	orders   OrderStatusWriter
	gateway  Gateway
	events   events.Publisher
	currency string
}

func NewService(tx db.TxManager, payments Repository, orders OrderStatusWriter, gateway Gateway, publisher events.Publisher) Service {
	return &service{
		tx:       tx,
		payments: payments,
		orders:   orders,
		gateway:  gateway,
		events:   publisher,
		currency: "usd",
	}
}

// minorUnits converts a decimal amount to the gateway's minor currency
// unit (cents).
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}

// Create persists the payment in PENDING and requests an external
// payment intent. It runs on the caller's transaction: a gateway failure
// propagates so the whole checkout, stock decrements included, rolls back.
func (s *service) Create(ctx context.Context, q db.Querier, orderID uuid.UUID, orderTotal, amount decimal.Decimal, metadata map[string]string) (*Payment, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("service: payment amount must be positive, got %s", amount)
	}
	if !amount.Equal(orderTotal) {
		return nil, fmt.Errorf("service: %w: amount %s, order total %s", ErrAmountMismatch, amount, orderTotal)
	}

	existing, err := s.payments.GetByOrderID(ctx, q, orderID)
	if err != nil && !errors.Is(err, ErrPaymentNotFound) {
		return nil, fmt.Errorf("service: failed to check for existing payment: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("service: %w (order %s)", ErrPaymentConflict, orderID)
	}

	p := &Payment{
		OrderID: orderID,
		Amount:  amount,
		Status:  StatusPending,
	}
	if err := s.payments.Insert(ctx, q, p); err != nil {
		return nil, fmt.Errorf("service: failed to insert payment: %w", err)
	}

	intentID, err := s.gateway.CreateIntent(ctx, minorUnits(amount), s.currency, metadata)
	if err != nil {
		return nil, fmt.Errorf("service: failed to create payment intent: %w: %w", ErrGateway, err)
	}

	if err := s.payments.SetIntentID(ctx, q, p.ID, intentID); err != nil {
		return nil, fmt.Errorf("service: failed to store intent id: %w", err)
	}
	p.IntentID = &intentID

	log.Info().Stringer("payment_id", p.ID).Stringer("order_id", orderID).Str("intent_id", intentID).Msg("service: payment created")
	return p, nil
}

func (s *service) GetByOrderID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*Payment, error) {
	return s.payments.GetByOrderID(ctx, q, orderID)
}

// ReconcileFromWebhook applies a gateway notification. Unknown intent ids
// are a no-op success (webhook for a foreign payment), and replays are
// safe: a payment already in a terminal status is left alone.
func (s *service) ReconcileFromWebhook(ctx context.Context, intentID string, outcome IntentStatus) error {
	return s.tx.WithTx(ctx, func(q db.Querier) error {
		p, err := s.payments.GetByIntentIDForUpdate(ctx, q, intentID)
		if err != nil {
			if errors.Is(err, ErrPaymentNotFound) {
				log.Info().Str("intent_id", intentID).Msg("service: webhook for unknown payment intent, ignoring")
				return nil
			}
			return fmt.Errorf("service: failed to look up payment for webhook: %w", err)
		}

		return s.applyIntentOutcome(ctx, q, p, outcome)
	})
}

// SyncFromGateway polls the gateway for the intent's current status and
// applies the same transition rule as the webhook path. It runs on the
// caller's transaction (the expiration sweep holds the order lock while
// calling it) and returns the payment's resulting status.
func (s *service) SyncFromGateway(ctx context.Context, q db.Querier, paymentID uuid.UUID) (Status, error) {
	p, err := s.payments.GetByID(ctx, q, paymentID)
	if err != nil {
		return "", fmt.Errorf("service: failed to fetch payment for sync: %w", err)
	}
	if p.Status.Terminal() || p.IntentID == nil {
		return p.Status, nil
	}

	outcome, err := s.gateway.GetIntentStatus(ctx, *p.IntentID)
	if err != nil {
		return "", fmt.Errorf("service: failed to poll payment intent: %w: %w", ErrGateway, err)
	}

	if err := s.applyIntentOutcome(ctx, q, p, outcome); err != nil {
		return "", err
	}
	return p.Status, nil
}

// applyIntentOutcome is the single write site shared by webhook and poll
// reconciliation. It mutates p.Status to the applied value.
func (s *service) applyIntentOutcome(ctx context.Context, q db.Querier, p *Payment, outcome IntentStatus) error {
	switch outcome {
	case IntentSucceeded:
		applied, err := s.payments.UpdateStatusFrom(ctx, q, p.ID, StatusPending, StatusCompleted)
		if err != nil {
			return err
		}
		if !applied {
			log.Info().Stringer("payment_id", p.ID).Stringer("status", p.Status).Msg("service: payment already settled, skipping completion")
			if p.Status == StatusPending {
				p.Status = StatusCompleted
			}
			return nil
		}
		p.Status = StatusCompleted
		if err := s.orders.MarkProcessing(ctx, q, p.OrderID); err != nil {
			return fmt.Errorf("service: failed to move paid order to processing: %w", err)
		}
		s.events.Publish(ctx, events.TypePaymentCompleted, p.OrderID, p)
		log.Info().Stringer("payment_id", p.ID).Stringer("order_id", p.OrderID).Msg("service: payment completed")

	case IntentFailed:
		applied, err := s.payments.UpdateStatusFrom(ctx, q, p.ID, StatusPending, StatusFailed)
		if err != nil {
			return err
		}
		if applied {
			p.Status = StatusFailed
			s.events.Publish(ctx, events.TypePaymentFailed, p.OrderID, p)
			log.Info().Stringer("payment_id", p.ID).Stringer("order_id", p.OrderID).Msg("service: payment failed")
		}

	case IntentPending:
		// Nothing to apply.
	}
	return nil
}

// CancelAtGateway requests intent cancellation. Best-effort: the local
// state must still reflect the order's fate, so failures are logged and
// swallowed.
func (s *service) CancelAtGateway(ctx context.Context, p *Payment) {
	if p.IntentID == nil {
		return
	}
	if err := s.gateway.CancelIntent(ctx, *p.IntentID); err != nil {
		log.Warn().Err(err).Stringer("payment_id", p.ID).Str("intent_id", *p.IntentID).Msg("service: gateway intent cancellation failed")
	}
}

// MarkExpired moves a pending payment to EXPIRED. Already-terminal
// payments (COMPLETED above all) are left untouched.
func (s *service) MarkExpired(ctx context.Context, q db.Querier, paymentID uuid.UUID) error {
	_, err := s.payments.UpdateStatusFrom(ctx, q, paymentID, StatusPending, StatusExpired)
	if err != nil {
		return fmt.Errorf("service: failed to expire payment: %w", err)
	}
	return nil
}

// MarkFailed moves a pending payment to FAILED (user-initiated order
// cancellation). Already-terminal payments are left untouched.
func (s *service) MarkFailed(ctx context.Context, q db.Querier, paymentID uuid.UUID) error {
	_, err := s.payments.UpdateStatusFrom(ctx, q, paymentID, StatusPending, StatusFailed)
	if err != nil {
		return fmt.Errorf("service: failed to mark payment failed: %w", err)
	}
	return nil
}
