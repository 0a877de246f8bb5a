package order

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/laptophub/internal/cart"
	"github.com/vasiliy-maslov/laptophub/internal/catalog"
	"github.com/vasiliy-maslov/laptophub/internal/db"
	"github.com/vasiliy-maslov/laptophub/internal/events"
	"github.com/vasiliy-maslov/laptophub/internal/payment"
)

var ErrEmptyCart = errors.New("cart is empty, nothing to checkout")

// PaymentCoordinator is the slice of the payment service the order state
// machine drives. Methods taking a db.Querier run on this service's
// transaction.
type PaymentCoordinator interface {
	Create(ctx context.Context, q db.Querier, orderID uuid.UUID, orderTotal, amount decimal.Decimal, metadata map[string]string) (*payment.Payment, error)
	GetByOrderID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*payment.Payment, error)
	SyncFromGateway(ctx context.Context, q db.Querier, paymentID uuid.UUID) (payment.Status, error)
	CancelAtGateway(ctx context.Context, p *payment.Payment)
	MarkExpired(ctx context.Context, q db.Querier, paymentID uuid.UUID) error
	MarkFailed(ctx context.Context, q db.Querier, paymentID uuid.UUID) error
}

type Service interface {
	CreateFromCart(ctx context.Context, userID uuid.UUID, shippingAddress string) (*Order, error)
	GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListByStatus(ctx context.Context, status Status) ([]Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (*Order, error)
	Ship(ctx context.Context, orderID uuid.UUID) (*Order, error)
	Deliver(ctx context.Context, orderID uuid.UUID) (*Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus Status) (*Order, error)
	ExpirePending(ctx context.Context) (int, error)
	ProgressOrders(ctx context.Context) (int, error)
}

type service struct {
	tx          db.TxManager
	q           db.Querier
	orders      Repository
	carts       cart.Repository
	ledger      catalog.Ledger
	payments    PaymentCoordinator
	events      events.Publisher
	gracePeriod time.Duration
}

func NewService(tx db.TxManager, q db.Querier, orders Repository, carts cart.Repository, ledger catalog.Ledger, payments PaymentCoordinator, publisher events.Publisher, gracePeriod time.Duration) Service {
	return &service{
		tx:          tx,
		q:           q,
		orders:      orders,
		carts:       carts,
		ledger:      ledger,
		payments:    payments,
		events:      publisher,
		gracePeriod: gracePeriod,
	}
}

// CreateFromCart converts the user's cart into an order: lock and
// decrement stock per item, snapshot prices, create the payment and its
// gateway intent, clear the cart. Everything runs in one transaction, so
// a gateway failure rolls back the stock decrements too — an order never
// exists with decremented stock but no payment.
func (s *service) CreateFromCart(ctx context.Context, userID uuid.UUID, shippingAddress string) (*Order, error) {
	var created *Order

	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		c, err := s.carts.GetOrCreate(ctx, q, userID)
		if err != nil {
			return fmt.Errorf("service: failed to fetch cart: %w", err)
		}
		if len(c.Items) == 0 {
			return ErrEmptyCart
		}

		// Locks are taken in ascending product-id order so two checkouts
		// sharing two or more products cannot deadlock.
		cartItems := make([]cart.CartItem, len(c.Items))
		copy(cartItems, c.Items)
		sort.Slice(cartItems, func(i, j int) bool {
			return bytes.Compare(cartItems[i].ProductID.Bytes(), cartItems[j].ProductID.Bytes()) < 0
		})

		total := decimal.Zero
		orderItems := make([]OrderItem, 0, len(cartItems))
		for _, ci := range cartItems {
			p, err := s.ledger.LockForUpdate(ctx, q, ci.ProductID)
			if err != nil {
				return fmt.Errorf("service: failed to lock product %s: %w", ci.ProductID, err)
			}
			if p.Stock < ci.Quantity {
				return fmt.Errorf("service: %w for product %s: have %d, want %d",
					catalog.ErrInsufficientStock, p.ID, p.Stock, ci.Quantity)
			}
			if err := s.ledger.Decrement(ctx, q, ci.ProductID, ci.Quantity); err != nil {
				return fmt.Errorf("service: failed to decrement stock: %w", err)
			}

			total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(ci.Quantity))))
			orderItems = append(orderItems, OrderItem{
				ProductID: ci.ProductID,
				Quantity:  ci.Quantity,
				UnitPrice: p.Price,
			})
		}

		now := time.Now().UTC()
		o := &Order{
			UserID:          userID,
			Status:          StatusPendingPayment,
			Items:           orderItems,
			Total:           total,
			ShippingAddress: shippingAddress,
			ExpiresAt:       now.Add(s.gracePeriod),
		}
		if err := s.orders.Insert(ctx, q, o); err != nil {
			return fmt.Errorf("service: failed to create order: %w", err)
		}

		if _, err := s.payments.Create(ctx, q, o.ID, total, total, map[string]string{"order_id": o.ID.String()}); err != nil {
			return err
		}

		if err := s.carts.Clear(ctx, q, c.ID); err != nil {
			return fmt.Errorf("service: failed to clear cart: %w", err)
		}

		created = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.TypeOrderCreated, created.ID, created)
	log.Info().Stringer("order_id", created.ID).Stringer("user_id", userID).Str("total", created.Total.String()).Msg("service: order created")
	return created, nil
}

func (s *service) GetByID(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, s.q, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}
	return o, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, s.q, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}
	return orders, nil
}

func (s *service) ListByStatus(ctx context.Context, status Status) ([]Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("service: unknown order status %q", status)
	}
	orders, err := s.orders.ListByStatus(ctx, s.q, status)
	if err != nil {
		return nil, fmt.Errorf("service: failed to fetch orders by status: %w", err)
	}
	return orders, nil
}

// Cancel is the user-initiated terminal transition. Legal only from
// PENDING_PAYMENT; restores the exact quantities recorded in the order
// items. The row lock makes the check-then-transition atomic, so cancel
// and expiration can never both restore stock for the same order.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	var cancelled *Order

	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		o, err := s.orders.GetByIDForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPendingPayment {
			return &InvalidTransitionError{From: o.Status, To: StatusCancelled}
		}

		for _, item := range o.Items {
			if err := s.ledger.Restore(ctx, q, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("service: failed to restore stock: %w", err)
			}
		}

		p, err := s.payments.GetByOrderID(ctx, q, orderID)
		if err != nil && !errors.Is(err, payment.ErrPaymentNotFound) {
			return fmt.Errorf("service: failed to fetch payment for cancellation: %w", err)
		}
		if p != nil {
			s.payments.CancelAtGateway(ctx, p)
			if err := s.payments.MarkFailed(ctx, q, p.ID); err != nil {
				return err
			}
		}

		if err := s.orders.UpdateStatus(ctx, q, orderID, StatusCancelled); err != nil {
			return err
		}
		o.Status = StatusCancelled
		cancelled = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.Publish(ctx, events.TypeOrderCancelled, cancelled.ID, cancelled)
	log.Info().Stringer("order_id", cancelled.ID).Msg("service: order cancelled")
	return cancelled, nil
}

// Ship moves an order PROCESSING -> SHIPPED (admin action).
func (s *service) Ship(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	o, err := s.advance(ctx, orderID, StatusProcessing, StatusShipped)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.TypeOrderShipped, o.ID, o)
	return o, nil
}

// Deliver moves an order SHIPPED -> DELIVERED (admin action).
func (s *service) Deliver(ctx context.Context, orderID uuid.UUID) (*Order, error) {
	o, err := s.advance(ctx, orderID, StatusShipped, StatusDelivered)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, events.TypeOrderDelivered, o.ID, o)
	return o, nil
}

// advance applies a single forward transition that requires an exact
// source status. The guarded update keeps the check-then-write race-free
// without an explicit lock.
func (s *service) advance(ctx context.Context, orderID uuid.UUID, from, to Status) (*Order, error) {
	o, err := s.orders.GetByID(ctx, s.q, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}
	if o.Status != from {
		return nil, fmt.Errorf("service: order %s requires status %s: %w",
			orderID, from, &InvalidTransitionError{From: o.Status, To: to})
	}

	applied, err := s.orders.UpdateStatusFrom(ctx, s.q, orderID, from, to)
	if err != nil {
		return nil, err
	}
	if !applied {
		// Lost the race since the read above.
		return nil, &InvalidTransitionError{From: o.Status, To: to}
	}

	o.Status = to
	log.Info().Stringer("order_id", orderID).Stringer("old_status", from).Stringer("new_status", to).Msg("service: order status updated")
	return o, nil
}

// UpdateStatus is the administrative escape hatch. It applies any single
// legal forward transition except CANCELLED and EXPIRED, which belong to
// the cancel operation and the expiration sweep respectively.
func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus Status) (*Order, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("service: unknown order status %q", newStatus)
	}

	o, err := s.orders.GetByID(ctx, s.q, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}

	if newStatus == StatusCancelled || newStatus == StatusExpired || !CanTransition(o.Status, newStatus) {
		return nil, &InvalidTransitionError{From: o.Status, To: newStatus}
	}

	return s.advance(ctx, orderID, o.Status, newStatus)
}

// ExpirePending is one expiration sweep cycle: reclaim stock from orders
// whose payment deadline passed. Each candidate is handled in its own
// transaction; one order's failure is logged and retried next cycle, not
// escalated.
func (s *service) ExpirePending(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	candidates, err := s.orders.ListExpiredPending(ctx, s.q, now)
	if err != nil {
		return 0, fmt.Errorf("service: failed to scan for expired orders: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	log.Info().Int("candidates", len(candidates)).Msg("service: found orders past payment deadline")

	count := 0
	for _, candidate := range candidates {
		expired, err := s.expireOne(ctx, candidate.ID, now)
		if err != nil {
			log.Error().Err(err).Stringer("order_id", candidate.ID).Msg("service: failed to expire order, will retry next cycle")
			continue
		}
		if expired {
			count++
		}
	}
	return count, nil
}

func (s *service) expireOne(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error) {
	var expired *Order

	err := s.tx.WithTx(ctx, func(q db.Querier) error {
		// The unlocked scan may be stale: re-fetch under the row lock and
		// re-check both conditions before acting.
		o, err := s.orders.GetByIDForUpdate(ctx, q, orderID)
		if err != nil {
			return err
		}
		if o.Status != StatusPendingPayment || o.ExpiresAt.After(now) {
			return nil
		}

		p, err := s.payments.GetByOrderID(ctx, q, orderID)
		if err != nil && !errors.Is(err, payment.ErrPaymentNotFound) {
			return fmt.Errorf("service: failed to fetch payment for expiration: %w", err)
		}

		if p != nil {
			// The payment may have just succeeded; COMPLETED always wins
			// over the deadline.
			status, err := s.payments.SyncFromGateway(ctx, q, p.ID)
			if err != nil {
				return err
			}
			if status == payment.StatusCompleted {
				log.Info().Stringer("order_id", orderID).Msg("service: payment completed during expiration check, skipping")
				return nil
			}

			s.payments.CancelAtGateway(ctx, p)
			if err := s.payments.MarkExpired(ctx, q, p.ID); err != nil {
				return err
			}
		}

		for _, item := range o.Items {
			if err := s.ledger.Restore(ctx, q, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("service: failed to restore stock: %w", err)
			}
		}

		if err := s.orders.UpdateStatus(ctx, q, orderID, StatusExpired); err != nil {
			return err
		}
		o.Status = StatusExpired
		expired = o
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired == nil {
		return false, nil
	}

	s.events.Publish(ctx, events.TypeOrderExpired, expired.ID, expired)
	log.Info().Stringer("order_id", expired.ID).Msg("service: order expired")
	return true, nil
}

// ProgressOrders is one progression sweep cycle. The SHIPPED -> DELIVERED
// pass runs strictly before PROCESSING -> SHIPPED, so an order advances
// at most one state per cycle.
func (s *service) ProgressOrders(ctx context.Context) (int, error) {
	delivered, err := s.progress(ctx, StatusShipped, StatusDelivered, events.TypeOrderDelivered)
	if err != nil {
		return 0, err
	}

	shipped, err := s.progress(ctx, StatusProcessing, StatusShipped, events.TypeOrderShipped)
	if err != nil {
		return delivered, err
	}

	return delivered + shipped, nil
}

func (s *service) progress(ctx context.Context, from, to Status, eventType string) (int, error) {
	orders, err := s.orders.ListByStatus(ctx, s.q, from)
	if err != nil {
		return 0, fmt.Errorf("service: failed to list %s orders: %w", from, err)
	}

	count := 0
	for i := range orders {
		o := &orders[i]
		applied, err := s.orders.UpdateStatusFrom(ctx, s.q, o.ID, from, to)
		if err != nil {
			log.Error().Err(err).Stringer("order_id", o.ID).Msg("service: failed to progress order, will retry next cycle")
			continue
		}
		if !applied {
			continue
		}
		o.Status = to
		s.events.Publish(ctx, eventType, o.ID, o)
		log.Info().Stringer("order_id", o.ID).Stringer("old_status", from).Stringer("new_status", to).Msg("service: order progressed")
		count++
	}
	return count, nil
}
