package order_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/laptophub/internal/cart"
	"github.com/vasiliy-maslov/laptophub/internal/catalog"
	"github.com/vasiliy-maslov/laptophub/internal/db"
	"github.com/vasiliy-maslov/laptophub/internal/events"
	"github.com/vasiliy-maslov/laptophub/internal/order"
	"github.com/vasiliy-maslov/laptophub/internal/payment"
)

type mockTxManager struct{}

func (m *mockTxManager) WithTx(ctx context.Context, fn func(q db.Querier) error) error {
	return fn(nil)
}

type mockOrderRepository struct {
	insertFunc             func(ctx context.Context, o *order.Order) error
	getByIDFunc            func(ctx context.Context, orderID uuid.UUID) (*order.Order, error)
	getByIDForUpdateFunc   func(ctx context.Context, orderID uuid.UUID) (*order.Order, error)
	updateStatusFunc       func(ctx context.Context, orderID uuid.UUID, newStatus order.Status) error
	updateStatusFromFunc   func(ctx context.Context, orderID uuid.UUID, from, to order.Status) (bool, error)
	listByUserFunc         func(ctx context.Context, userID uuid.UUID) ([]order.Order, error)
	listByStatusFunc       func(ctx context.Context, status order.Status) ([]order.Order, error)
	listExpiredPendingFunc func(ctx context.Context, now time.Time) ([]order.Order, error)
}

func (m *mockOrderRepository) Insert(ctx context.Context, q db.Querier, o *order.Order) error {
	return m.insertFunc(ctx, o)
}

func (m *mockOrderRepository) GetByID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*order.Order, error) {
	return m.getByIDFunc(ctx, orderID)
}

func (m *mockOrderRepository) GetByIDForUpdate(ctx context.Context, q db.Querier, orderID uuid.UUID) (*order.Order, error) {
	return m.getByIDForUpdateFunc(ctx, orderID)
}

func (m *mockOrderRepository) UpdateStatus(ctx context.Context, q db.Querier, orderID uuid.UUID, newStatus order.Status) error {
	return m.updateStatusFunc(ctx, orderID, newStatus)
}

func (m *mockOrderRepository) UpdateStatusFrom(ctx context.Context, q db.Querier, orderID uuid.UUID, from, to order.Status) (bool, error) {
	return m.updateStatusFromFunc(ctx, orderID, from, to)
}

func (m *mockOrderRepository) MarkProcessing(ctx context.Context, q db.Querier, orderID uuid.UUID) error {
	_, err := m.updateStatusFromFunc(ctx, orderID, order.StatusPendingPayment, order.StatusProcessing)
	return err
}

func (m *mockOrderRepository) ListByUser(ctx context.Context, q db.Querier, userID uuid.UUID) ([]order.Order, error) {
	return m.listByUserFunc(ctx, userID)
}

func (m *mockOrderRepository) ListByStatus(ctx context.Context, q db.Querier, status order.Status) ([]order.Order, error) {
	return m.listByStatusFunc(ctx, status)
}

func (m *mockOrderRepository) ListExpiredPending(ctx context.Context, q db.Querier, now time.Time) ([]order.Order, error) {
	return m.listExpiredPendingFunc(ctx, now)
}

type mockCartRepository struct {
	getOrCreateFunc func(ctx context.Context, userID uuid.UUID) (*cart.Cart, error)
	clearFunc       func(ctx context.Context, cartID uuid.UUID) error
}

func (m *mockCartRepository) GetOrCreate(ctx context.Context, q db.Querier, userID uuid.UUID) (*cart.Cart, error) {
	return m.getOrCreateFunc(ctx, userID)
}

func (m *mockCartRepository) UpsertItem(ctx context.Context, q db.Querier, cartID, productID uuid.UUID, qty int) error {
	panic("unexpected call to UpsertItem")
}

func (m *mockCartRepository) SetItemQuantity(ctx context.Context, q db.Querier, cartID, productID uuid.UUID, qty int) error {
	panic("unexpected call to SetItemQuantity")
}

func (m *mockCartRepository) RemoveItem(ctx context.Context, q db.Querier, cartID, productID uuid.UUID) error {
	panic("unexpected call to RemoveItem")
}

func (m *mockCartRepository) Clear(ctx context.Context, q db.Querier, cartID uuid.UUID) error {
	return m.clearFunc(ctx, cartID)
}

type mockLedger struct {
	lockForUpdateFunc func(ctx context.Context, productID uuid.UUID) (*catalog.Product, error)
	decrementFunc     func(ctx context.Context, productID uuid.UUID, qty int) error
	restoreFunc       func(ctx context.Context, productID uuid.UUID, qty int) error
}

func (m *mockLedger) LockForUpdate(ctx context.Context, q db.Querier, productID uuid.UUID) (*catalog.Product, error) {
	return m.lockForUpdateFunc(ctx, productID)
}

func (m *mockLedger) Decrement(ctx context.Context, q db.Querier, productID uuid.UUID, qty int) error {
	return m.decrementFunc(ctx, productID, qty)
}

func (m *mockLedger) Restore(ctx context.Context, q db.Querier, productID uuid.UUID, qty int) error {
	return m.restoreFunc(ctx, productID, qty)
}

type mockPaymentCoordinator struct {
	createFunc          func(ctx context.Context, orderID uuid.UUID, orderTotal, amount decimal.Decimal) (*payment.Payment, error)
	getByOrderIDFunc    func(ctx context.Context, orderID uuid.UUID) (*payment.Payment, error)
	syncFromGatewayFunc func(ctx context.Context, paymentID uuid.UUID) (payment.Status, error)
	cancelAtGatewayFunc func(ctx context.Context, p *payment.Payment)
	markExpiredFunc     func(ctx context.Context, paymentID uuid.UUID) error
	markFailedFunc      func(ctx context.Context, paymentID uuid.UUID) error
}

func (m *mockPaymentCoordinator) Create(ctx context.Context, q db.Querier, orderID uuid.UUID, orderTotal, amount decimal.Decimal, metadata map[string]string) (*payment.Payment, error) {
	return m.createFunc(ctx, orderID, orderTotal, amount)
}

func (m *mockPaymentCoordinator) GetByOrderID(ctx context.Context, q db.Querier, orderID uuid.UUID) (*payment.Payment, error) {
	return m.getByOrderIDFunc(ctx, orderID)
}

func (m *mockPaymentCoordinator) SyncFromGateway(ctx context.Context, q db.Querier, paymentID uuid.UUID) (payment.Status, error) {
	return m.syncFromGatewayFunc(ctx, paymentID)
}

func (m *mockPaymentCoordinator) CancelAtGateway(ctx context.Context, p *payment.Payment) {
	if m.cancelAtGatewayFunc != nil {
		m.cancelAtGatewayFunc(ctx, p)
	}
}

func (m *mockPaymentCoordinator) MarkExpired(ctx context.Context, q db.Querier, paymentID uuid.UUID) error {
	return m.markExpiredFunc(ctx, paymentID)
}

func (m *mockPaymentCoordinator) MarkFailed(ctx context.Context, q db.Querier, paymentID uuid.UUID) error {
	return m.markFailedFunc(ctx, paymentID)
}

const testGracePeriod = 15 * time.Minute

func newTestService(orders *mockOrderRepository, carts *mockCartRepository, ledger *mockLedger, payments *mockPaymentCoordinator) order.Service {
	return order.NewService(&mockTxManager{}, nil, orders, carts, ledger, payments, events.Nop{}, testGracePeriod)
}

func mustUUID(s string) uuid.UUID {
	return uuid.Must(uuid.FromString(s))
}

func TestCreateFromCart_EmptyCart(t *testing.T) {
	userID := mustUUID("11111111-1111-1111-1111-111111111111")

	inserted := false
	orders := &mockOrderRepository{
		insertFunc: func(ctx context.Context, o *order.Order) error {
			inserted = true
			return nil
		},
	}
	carts := &mockCartRepository{
		getOrCreateFunc: func(ctx context.Context, uid uuid.UUID) (*cart.Cart, error) {
			return &cart.Cart{ID: mustUUID("22222222-2222-2222-2222-222222222222"), UserID: uid, Items: []cart.CartItem{}}, nil
		},
	}

	svc := newTestService(orders, carts, &mockLedger{}, &mockPaymentCoordinator{})

	o, err := svc.CreateFromCart(context.Background(), userID, "Tverskaya 1, Moscow")

	assert.ErrorIs(t, err, order.ErrEmptyCart)
	assert.Nil(t, o)
	assert.False(t, inserted, "no order row should be written for an empty cart")
}

func TestCreateFromCart_InsufficientStockAbortsWholeCheckout(t *testing.T) {
	userID := mustUUID("11111111-1111-1111-1111-111111111111")
	productA := mustUUID("00000000-0000-0000-0000-00000000000a")
	productB := mustUUID("00000000-0000-0000-0000-00000000000b")

	inserted := false
	orders := &mockOrderRepository{
		insertFunc: func(ctx context.Context, o *order.Order) error {
			inserted = true
			return nil
		},
	}
	carts := &mockCartRepository{
		getOrCreateFunc: func(ctx context.Context, uid uuid.UUID) (*cart.Cart, error) {
			return &cart.Cart{
				ID:     mustUUID("22222222-2222-2222-2222-222222222222"),
				UserID: uid,
				Items: []cart.CartItem{
					{ProductID: productA, Quantity: 1},
					{ProductID: productB, Quantity: 5},
				},
			}, nil
		},
	}
	ledger := &mockLedger{
		lockForUpdateFunc: func(ctx context.Context, productID uuid.UUID) (*catalog.Product, error) {
			stock := 10
			if productID == productB {
				stock = 2
			}
			return &catalog.Product{ID: productID, Price: decimal.NewFromInt(100), Stock: stock}, nil
		},
		decrementFunc: func(ctx context.Context, productID uuid.UUID, qty int) error {
			return nil
		},
	}

	svc := newTestService(orders, carts, ledger, &mockPaymentCoordinator{})

	o, err := svc.CreateFromCart(context.Background(), userID, "Tverskaya 1, Moscow")

	assert.ErrorIs(t, err, catalog.ErrInsufficientStock)
	assert.Nil(t, o)
	assert.False(t, inserted, "checkout must abort before the order is written")
}

func TestCreateFromCart_GatewayFailureRollsBack(t *testing.T) {
	userID := mustUUID("11111111-1111-1111-1111-111111111111")
	productA := mustUUID("00000000-0000-0000-0000-00000000000a")

	cleared := false
	orders := &mockOrderRepository{
		insertFunc: func(ctx context.Context, o *order.Order) error { return nil },
	}
	carts := &mockCartRepository{
		getOrCreateFunc: func(ctx context.Context, uid uuid.UUID) (*cart.Cart, error) {
			return &cart.Cart{
				ID:     mustUUID("22222222-2222-2222-2222-222222222222"),
				UserID: uid,
				Items:  []cart.CartItem{{ProductID: productA, Quantity: 1}},
			}, nil
		},
		clearFunc: func(ctx context.Context, cartID uuid.UUID) error {
			cleared = true
			return nil
		},
	}
	ledger := &mockLedger{
		lockForUpdateFunc: func(ctx context.Context, productID uuid.UUID) (*catalog.Product, error) {
			return &catalog.Product{ID: productID, Price: decimal.NewFromInt(100), Stock: 10}, nil
		},
		decrementFunc: func(ctx context.Context, productID uuid.UUID, qty int) error { return nil },
	}
	payments := &mockPaymentCoordinator{
		createFunc: func(ctx context.Context, orderID uuid.UUID, orderTotal, amount decimal.Decimal) (*payment.Payment, error) {
			return nil, payment.ErrGateway
		},
	}

	svc := newTestService(orders, carts, ledger, payments)

	o, err := svc.CreateFromCart(context.Background(), userID, "Tverskaya 1, Moscow")

	assert.ErrorIs(t, err, payment.ErrGateway)
	assert.Nil(t, o)
	assert.False(t, cleared, "cart must survive a failed checkout")
}

func TestCreateFromCart_Success(t *testing.T) {
	userID := mustUUID("11111111-1111-1111-1111-111111111111")
	productA := mustUUID("00000000-0000-0000-0000-00000000000a")
	productB := mustUUID("00000000-0000-0000-0000-00000000000b")

	prices := map[uuid.UUID]decimal.Decimal{
		productA: decimal.RequireFromString("999.99"),
		productB: decimal.RequireFromString("49.50"),
	}

	var lockSequence []uuid.UUID
	decrements := map[uuid.UUID]int{}
	cleared := false

	orders := &mockOrderRepository{
		insertFunc: func(ctx context.Context, o *order.Order) error {
			o.ID = mustUUID("33333333-3333-3333-3333-333333333333")
			return nil
		},
	}
	carts := &mockCartRepository{
		getOrCreateFunc: func(ctx context.Context, uid uuid.UUID) (*cart.Cart, error) {
			// Deliberately out of id order: checkout must sort before locking.
			return &cart.Cart{
				ID:     mustUUID("22222222-2222-2222-2222-222222222222"),
				UserID: uid,
				Items: []cart.CartItem{
					{ProductID: productB, Quantity: 2},
					{ProductID: productA, Quantity: 1},
				},
			}, nil
		},
		clearFunc: func(ctx context.Context, cartID uuid.UUID) error {
			cleared = true
			return nil
		},
	}
	ledger := &mockLedger{
		lockForUpdateFunc: func(ctx context.Context, productID uuid.UUID) (*catalog.Product, error) {
			lockSequence = append(lockSequence, productID)
			return &catalog.Product{ID: productID, Price: prices[productID], Stock: 10}, nil
		},
		decrementFunc: func(ctx context.Context, productID uuid.UUID, qty int) error {
			decrements[productID] = qty
			return nil
		},
	}
	payments := &mockPaymentCoordinator{
		createFunc: func(ctx context.Context, orderID uuid.UUID, orderTotal, amount decimal.Decimal) (*payment.Payment, error) {
			assert.True(t, amount.Equal(orderTotal))
			return &payment.Payment{ID: mustUUID("44444444-4444-4444-4444-444444444444"), OrderID: orderID, Amount: amount, Status: payment.StatusPending}, nil
		},
	}

	svc := newTestService(orders, carts, ledger, payments)

	o, err := svc.CreateFromCart(context.Background(), userID, "Tverskaya 1, Moscow")
	require.NoError(t, err)
	require.NotNil(t, o)

	assert.Equal(t, order.StatusPendingPayment, o.Status)
	assert.True(t, o.Total.Equal(decimal.RequireFromString("1098.99")), "total = 999.99 + 2*49.50, got %s", o.Total)
	assert.WithinDuration(t, time.Now().UTC().Add(testGracePeriod), o.ExpiresAt, time.Minute)

	require.Len(t, o.Items, 2)
	for _, item := range o.Items {
		assert.True(t, item.UnitPrice.Equal(prices[item.ProductID]), "unit price must snapshot the locked row's price")
	}

	assert.Equal(t, []uuid.UUID{productA, productB}, lockSequence, "locks must be taken in ascending product-id order")
	assert.Equal(t, map[uuid.UUID]int{productA: 1, productB: 2}, decrements)
	assert.True(t, cleared)
}

func TestCancel_RestoresStockAndFailsPayment(t *testing.T) {
	orderID := mustUUID("33333333-3333-3333-3333-333333333333")
	productA := mustUUID("00000000-0000-0000-0000-00000000000a")
	productB := mustUUID("00000000-0000-0000-0000-00000000000b")
	paymentID := mustUUID("44444444-4444-4444-4444-444444444444")

	restores := map[uuid.UUID]int{}
	gatewayCancelled := false
	markedFailed := false
	var finalStatus order.Status

	orders := &mockOrderRepository{
		getByIDForUpdateFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			return &order.Order{
				ID:     id,
				Status: order.StatusPendingPayment,
				Items: []order.OrderItem{
					{ProductID: productA, Quantity: 3},
					{ProductID: productB, Quantity: 1},
				},
			}, nil
		},
		updateStatusFunc: func(ctx context.Context, id uuid.UUID, newStatus order.Status) error {
			finalStatus = newStatus
			return nil
		},
	}
	ledger := &mockLedger{
		restoreFunc: func(ctx context.Context, productID uuid.UUID, qty int) error {
			restores[productID] += qty
			return nil
		},
	}
	payments := &mockPaymentCoordinator{
		getByOrderIDFunc: func(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
			return &payment.Payment{ID: paymentID, OrderID: id, Status: payment.StatusPending}, nil
		},
		cancelAtGatewayFunc: func(ctx context.Context, p *payment.Payment) {
			gatewayCancelled = true
		},
		markFailedFunc: func(ctx context.Context, id uuid.UUID) error {
			assert.Equal(t, paymentID, id)
			markedFailed = true
			return nil
		},
	}

	svc := newTestService(orders, &mockCartRepository{}, ledger, payments)

	o, err := svc.Cancel(context.Background(), orderID)
	require.NoError(t, err)

	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Equal(t, order.StatusCancelled, finalStatus)
	assert.Equal(t, map[uuid.UUID]int{productA: 3, productB: 1}, restores, "restore must return the exact ordered quantities")
	assert.True(t, gatewayCancelled)
	assert.True(t, markedFailed)
}

func TestCancel_OnlyFromPendingPayment(t *testing.T) {
	orderID := mustUUID("33333333-3333-3333-3333-333333333333")

	testCases := []struct {
		name   string
		status order.Status
	}{
		{name: "processing", status: order.StatusProcessing},
		{name: "shipped", status: order.StatusShipped},
		{name: "delivered", status: order.StatusDelivered},
		{name: "already cancelled", status: order.StatusCancelled},
		{name: "expired", status: order.StatusExpired},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			restored := false
			orders := &mockOrderRepository{
				getByIDForUpdateFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
					return &order.Order{ID: id, Status: tc.status}, nil
				},
			}
			ledger := &mockLedger{
				restoreFunc: func(ctx context.Context, productID uuid.UUID, qty int) error {
					restored = true
					return nil
				},
			}

			svc := newTestService(orders, &mockCartRepository{}, ledger, &mockPaymentCoordinator{})

			o, err := svc.Cancel(context.Background(), orderID)

			var invalid *order.InvalidTransitionError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tc.status, invalid.From)
			assert.Equal(t, order.StatusCancelled, invalid.To)
			assert.Nil(t, o)
			assert.False(t, restored, "no stock movement on a rejected cancel")
		})
	}
}

func TestShipAndDeliver_RequireExactSourceStatus(t *testing.T) {
	orderID := mustUUID("33333333-3333-3333-3333-333333333333")

	testCases := []struct {
		name       string
		current    order.Status
		advance    func(svc order.Service) (*order.Order, error)
		wantStatus order.Status
		wantErr    bool
	}{
		{
			name:       "ship from processing",
			current:    order.StatusProcessing,
			advance:    func(svc order.Service) (*order.Order, error) { return svc.Ship(context.Background(), orderID) },
			wantStatus: order.StatusShipped,
		},
		{
			name:    "ship from pending payment",
			current: order.StatusPendingPayment,
			advance: func(svc order.Service) (*order.Order, error) { return svc.Ship(context.Background(), orderID) },
			wantErr: true,
		},
		{
			name:       "deliver from shipped",
			current:    order.StatusShipped,
			advance:    func(svc order.Service) (*order.Order, error) { return svc.Deliver(context.Background(), orderID) },
			wantStatus: order.StatusDelivered,
		},
		{
			name:    "deliver from processing",
			current: order.StatusProcessing,
			advance: func(svc order.Service) (*order.Order, error) { return svc.Deliver(context.Background(), orderID) },
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &mockOrderRepository{
				getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
					return &order.Order{ID: id, Status: tc.current}, nil
				},
				updateStatusFromFunc: func(ctx context.Context, id uuid.UUID, from, to order.Status) (bool, error) {
					assert.Equal(t, tc.current, from)
					return true, nil
				},
			}

			svc := newTestService(orders, &mockCartRepository{}, &mockLedger{}, &mockPaymentCoordinator{})

			o, err := tc.advance(svc)
			if tc.wantErr {
				var invalid *order.InvalidTransitionError
				require.ErrorAs(t, err, &invalid)
				assert.Nil(t, o)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, o.Status)
		})
	}
}

func TestAdvance_GuardedUpdateLosingRace(t *testing.T) {
	orderID := mustUUID("33333333-3333-3333-3333-333333333333")

	orders := &mockOrderRepository{
		getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			return &order.Order{ID: id, Status: order.StatusProcessing}, nil
		},
		updateStatusFromFunc: func(ctx context.Context, id uuid.UUID, from, to order.Status) (bool, error) {
			// Another writer moved the order between the read and the update.
			return false, nil
		},
	}

	svc := newTestService(orders, &mockCartRepository{}, &mockLedger{}, &mockPaymentCoordinator{})

	o, err := svc.Ship(context.Background(), orderID)

	var invalid *order.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Nil(t, o)
}

func TestUpdateStatus_RejectsReservedAndIllegalTargets(t *testing.T) {
	orderID := mustUUID("33333333-3333-3333-3333-333333333333")

	testCases := []struct {
		name    string
		current order.Status
		target  order.Status
		wantErr bool
	}{
		{name: "cancelled reserved for cancel op", current: order.StatusPendingPayment, target: order.StatusCancelled, wantErr: true},
		{name: "expired reserved for sweeper", current: order.StatusPendingPayment, target: order.StatusExpired, wantErr: true},
		{name: "skipping a state", current: order.StatusPendingPayment, target: order.StatusShipped, wantErr: true},
		{name: "backwards", current: order.StatusShipped, target: order.StatusProcessing, wantErr: true},
		{name: "legal forward step", current: order.StatusProcessing, target: order.StatusShipped},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			orders := &mockOrderRepository{
				getByIDFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
					return &order.Order{ID: id, Status: tc.current}, nil
				},
				updateStatusFromFunc: func(ctx context.Context, id uuid.UUID, from, to order.Status) (bool, error) {
					return true, nil
				},
			}

			svc := newTestService(orders, &mockCartRepository{}, &mockLedger{}, &mockPaymentCoordinator{})

			o, err := svc.UpdateStatus(context.Background(), orderID, tc.target)
			if tc.wantErr {
				var invalid *order.InvalidTransitionError
				require.ErrorAs(t, err, &invalid)
				assert.Nil(t, o)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.target, o.Status)
		})
	}
}

func expiredOrder(orderID, productID uuid.UUID) *order.Order {
	return &order.Order{
		ID:        orderID,
		Status:    order.StatusPendingPayment,
		Items:     []order.OrderItem{{ProductID: productID, Quantity: 2}},
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
}

func TestExpirePending_CompletedPaymentWins(t *testing.T) {
	orderID := mustUUID("33333333-3333-3333-3333-333333333333")
	productA := mustUUID("00000000-0000-0000-0000-00000000000a")
	paymentID := mustUUID("44444444-4444-4444-4444-444444444444")

	restored := false
	statusWritten := false
	markedExpired := false

	orders := &mockOrderRepository{
		listExpiredPendingFunc: func(ctx context.Context, now time.Time) ([]order.Order, error) {
			return []order.Order{*expiredOrder(orderID, productA)}, nil
		},
		getByIDForUpdateFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			return expiredOrder(id, productA), nil
		},
		updateStatusFunc: func(ctx context.Context, id uuid.UUID, newStatus order.Status) error {
			statusWritten = true
			return nil
		},
	}
	ledger := &mockLedger{
		restoreFunc: func(ctx context.Context, productID uuid.UUID, qty int) error {
			restored = true
			return nil
		},
	}
	payments := &mockPaymentCoordinator{
		getByOrderIDFunc: func(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
			return &payment.Payment{ID: paymentID, OrderID: id, Status: payment.StatusPending}, nil
		},
		syncFromGatewayFunc: func(ctx context.Context, id uuid.UUID) (payment.Status, error) {
			// The customer paid at the last moment.
			return payment.StatusCompleted, nil
		},
		markExpiredFunc: func(ctx context.Context, id uuid.UUID) error {
			markedExpired = true
			return nil
		},
	}

	svc := newTestService(orders, &mockCartRepository{}, ledger, payments)

	count, err := svc.ExpirePending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, count)
	assert.False(t, restored, "a paid order keeps its stock")
	assert.False(t, statusWritten)
	assert.False(t, markedExpired)
}

func TestExpirePending_ExpiresOrder(t *testing.T) {
	orderID := mustUUID("33333333-3333-3333-3333-333333333333")
	productA := mustUUID("00000000-0000-0000-0000-00000000000a")
	paymentID := mustUUID("44444444-4444-4444-4444-444444444444")

	restores := map[uuid.UUID]int{}
	gatewayCancelled := false
	markedExpired := false
	var finalStatus order.Status

	orders := &mockOrderRepository{
		listExpiredPendingFunc: func(ctx context.Context, now time.Time) ([]order.Order, error) {
			return []order.Order{*expiredOrder(orderID, productA)}, nil
		},
		getByIDForUpdateFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			return expiredOrder(id, productA), nil
		},
		updateStatusFunc: func(ctx context.Context, id uuid.UUID, newStatus order.Status) error {
			finalStatus = newStatus
			return nil
		},
	}
	ledger := &mockLedger{
		restoreFunc: func(ctx context.Context, productID uuid.UUID, qty int) error {
			restores[productID] += qty
			return nil
		},
	}
	payments := &mockPaymentCoordinator{
		getByOrderIDFunc: func(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
			return &payment.Payment{ID: paymentID, OrderID: id, Status: payment.StatusPending}, nil
		},
		syncFromGatewayFunc: func(ctx context.Context, id uuid.UUID) (payment.Status, error) {
			return payment.StatusPending, nil
		},
		cancelAtGatewayFunc: func(ctx context.Context, p *payment.Payment) {
			gatewayCancelled = true
		},
		markExpiredFunc: func(ctx context.Context, id uuid.UUID) error {
			assert.Equal(t, paymentID, id)
			markedExpired = true
			return nil
		},
	}

	svc := newTestService(orders, &mockCartRepository{}, ledger, payments)

	count, err := svc.ExpirePending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, count)
	assert.Equal(t, order.StatusExpired, finalStatus)
	assert.Equal(t, map[uuid.UUID]int{productA: 2}, restores)
	assert.True(t, gatewayCancelled)
	assert.True(t, markedExpired)
}

func TestExpirePending_RecheckUnderLock(t *testing.T) {
	orderID := mustUUID("33333333-3333-3333-3333-333333333333")
	productA := mustUUID("00000000-0000-0000-0000-00000000000a")

	restored := false
	orders := &mockOrderRepository{
		listExpiredPendingFunc: func(ctx context.Context, now time.Time) ([]order.Order, error) {
			return []order.Order{*expiredOrder(orderID, productA)}, nil
		},
		getByIDForUpdateFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			// The order was paid between the scan and the lock.
			o := expiredOrder(id, productA)
			o.Status = order.StatusProcessing
			return o, nil
		},
	}
	ledger := &mockLedger{
		restoreFunc: func(ctx context.Context, productID uuid.UUID, qty int) error {
			restored = true
			return nil
		},
	}

	svc := newTestService(orders, &mockCartRepository{}, ledger, &mockPaymentCoordinator{})

	count, err := svc.ExpirePending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, count)
	assert.False(t, restored)
}

func TestExpirePending_OneFailureDoesNotStopTheSweep(t *testing.T) {
	brokenID := mustUUID("33333333-3333-3333-3333-333333333331")
	healthyID := mustUUID("33333333-3333-3333-3333-333333333332")
	productA := mustUUID("00000000-0000-0000-0000-00000000000a")

	orders := &mockOrderRepository{
		listExpiredPendingFunc: func(ctx context.Context, now time.Time) ([]order.Order, error) {
			return []order.Order{*expiredOrder(brokenID, productA), *expiredOrder(healthyID, productA)}, nil
		},
		getByIDForUpdateFunc: func(ctx context.Context, id uuid.UUID) (*order.Order, error) {
			if id == brokenID {
				return nil, errors.New("connection reset")
			}
			return expiredOrder(id, productA), nil
		},
		updateStatusFunc: func(ctx context.Context, id uuid.UUID, newStatus order.Status) error {
			assert.Equal(t, healthyID, id)
			return nil
		},
	}
	ledger := &mockLedger{
		restoreFunc: func(ctx context.Context, productID uuid.UUID, qty int) error { return nil },
	}
	payments := &mockPaymentCoordinator{
		getByOrderIDFunc: func(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
			return nil, payment.ErrPaymentNotFound
		},
	}

	svc := newTestService(orders, &mockCartRepository{}, ledger, payments)

	count, err := svc.ExpirePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestProgressOrders_OneStatePerCycle(t *testing.T) {
	shippedID := mustUUID("33333333-3333-3333-3333-333333333331")
	processingID := mustUUID("33333333-3333-3333-3333-333333333332")

	var listSequence []order.Status
	transitions := map[uuid.UUID]order.Status{}

	orders := &mockOrderRepository{
		listByStatusFunc: func(ctx context.Context, status order.Status) ([]order.Order, error) {
			listSequence = append(listSequence, status)
			switch status {
			case order.StatusShipped:
				return []order.Order{{ID: shippedID, Status: order.StatusShipped}}, nil
			case order.StatusProcessing:
				return []order.Order{{ID: processingID, Status: order.StatusProcessing}}, nil
			}
			return nil, nil
		},
		updateStatusFromFunc: func(ctx context.Context, id uuid.UUID, from, to order.Status) (bool, error) {
			transitions[id] = to
			return true, nil
		},
	}

	svc := newTestService(orders, &mockCartRepository{}, &mockLedger{}, &mockPaymentCoordinator{})

	count, err := svc.ProgressOrders(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, count)
	assert.Equal(t, []order.Status{order.StatusShipped, order.StatusProcessing}, listSequence,
		"the delivered pass must run before the shipped pass")
	assert.Equal(t, order.StatusDelivered, transitions[shippedID])
	assert.Equal(t, order.StatusShipped, transitions[processingID],
		"an order entering PROCESSING this cycle ends the cycle in SHIPPED, not DELIVERED")
}

func TestListByStatus_RejectsUnknownStatus(t *testing.T) {
	svc := newTestService(&mockOrderRepository{}, &mockCartRepository{}, &mockLedger{}, &mockPaymentCoordinator{})

	_, err := svc.ListByStatus(context.Background(), order.Status("BOGUS"))
	assert.Error(t, err)
}
