package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/repository"
)

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.OrderEvent
	err    error
}

func (p *fakePublisher) PublishOrderEvent(_ context.Context, event model.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

type fakeInvalidator struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (f *fakeInvalidator) InvalidateStock(_ context.Context, ids ...uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, ids...)
}

type orderFixture struct {
	store     *memStore
	svc       *OrderService
	publisher *fakePublisher
	catalog   *fakeInvalidator
}

func newOrderFixture() *orderFixture {
	store := newMemStore()
	f := &orderFixture{store: store, publisher: &fakePublisher{}, catalog: &fakeInvalidator{}}
	f.svc = NewOrderService(store, memOrderRepo{store}, memCartRepo{store}, memProductRepo{store},
		f.catalog, f.publisher, testLogger())
	return f
}

func TestOrderService_PlaceOrder(t *testing.T) {
	f := newOrderFixture()
	a := f.store.addProduct("A", "5.00", 10)
	b := f.store.addProduct("B", "3.00", 1)
	userID := uuid.New()
	f.store.putCart(userID, a.ID, 2)
	f.store.putCart(userID, b.ID, 1)

	order, err := f.svc.PlaceOrder(context.Background(), userID, "1 Main St", "card")
	require.NoError(t, err)

	assert.True(t, order.TotalAmount.Equal(mustDecimal("13.00")), "total %s", order.TotalAmount)
	assert.Equal(t, model.OrderStatusPending, order.Status)
	assert.Equal(t, "1 Main St", order.ShippingAddress)
	assert.Len(t, order.Items, 2)
	assert.Equal(t, 8, f.store.stock(a.ID))
	assert.Equal(t, 0, f.store.stock(b.ID))
	assert.Equal(t, 0, f.store.cartLen(userID))

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, model.OrderEventPlaced, f.publisher.events[0].Type)
	assert.Equal(t, order.ID, f.publisher.events[0].OrderID)
	assert.ElementsMatch(t, []uuid.UUID{a.ID, b.ID}, f.catalog.ids)
}

func TestOrderService_PlaceOrder_SnapshotsPrice(t *testing.T) {
	f := newOrderFixture()
	a := f.store.addProduct("A", "5.00", 10)
	userID := uuid.New()
	f.store.putCart(userID, a.ID, 1)

	order, err := f.svc.PlaceOrder(context.Background(), userID, "addr", "card")
	require.NoError(t, err)

	f.store.mu.Lock()
	f.store.products[a.ID].Price = mustDecimal("9.99")
	f.store.mu.Unlock()

	stored, err := f.svc.GetByID(context.Background(), order.ID, userID)
	require.NoError(t, err)
	assert.True(t, stored.Items[0].Price.Equal(mustDecimal("5.00")))
}

func TestOrderService_PlaceOrder_InsufficientStock(t *testing.T) {
	f := newOrderFixture()
	c := f.store.addProduct("C", "1.00", 3)
	userID := uuid.New()
	f.store.putCart(userID, c.ID, 5)

	_, err := f.svc.PlaceOrder(context.Background(), userID, "addr", "card")
	require.ErrorIs(t, err, ErrInsufficientStock)

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, c.ID, stockErr.ProductID)
	assert.Equal(t, 3, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)

	assert.Equal(t, 3, f.store.stock(c.ID))
	assert.Equal(t, 0, f.store.orderCount())
	assert.Equal(t, 1, f.store.cartLen(userID))
	assert.Empty(t, f.publisher.events)
}

func TestOrderService_PlaceOrder_OneLineShortTouchesNothing(t *testing.T) {
	f := newOrderFixture()
	a := f.store.addProduct("A", "5.00", 10)
	b := f.store.addProduct("B", "3.00", 1)
	userID := uuid.New()
	f.store.putCart(userID, a.ID, 2)
	f.store.putCart(userID, b.ID, 2)

	_, err := f.svc.PlaceOrder(context.Background(), userID, "addr", "card")
	require.ErrorIs(t, err, ErrInsufficientStock)

	assert.Equal(t, 10, f.store.stock(a.ID))
	assert.Equal(t, 1, f.store.stock(b.ID))
	assert.Equal(t, 2, f.store.cartLen(userID))
	assert.Equal(t, 0, f.store.orderCount())
}

func TestOrderService_PlaceOrder_EmptyCart(t *testing.T) {
	f := newOrderFixture()
	_, err := f.svc.PlaceOrder(context.Background(), uuid.New(), "addr", "card")
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, 0, f.store.orderCount())
}

func TestOrderService_PlaceOrder_RollsBackOnLateFailure(t *testing.T) {
	tests := []struct {
		name string
		op   string
		err  error
	}{
		{name: "clear cart fails", op: "clear cart", err: errors.New("connection reset")},
		{name: "client gone", op: "clear cart", err: context.Canceled},
		{name: "stock write fails", op: "decrement stock", err: errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newOrderFixture()
			a := f.store.addProduct("A", "5.00", 10)
			userID := uuid.New()
			f.store.putCart(userID, a.ID, 2)
			f.store.failOn[tt.op] = tt.err

			_, err := f.svc.PlaceOrder(context.Background(), userID, "addr", "card")
			require.ErrorIs(t, err, tt.err)

			assert.Equal(t, 10, f.store.stock(a.ID))
			assert.Equal(t, 1, f.store.cartLen(userID))
			assert.Equal(t, 0, f.store.orderCount())
			assert.Empty(t, f.publisher.events)
		})
	}
}

func TestOrderService_PlaceOrder_ConcurrentLastUnit(t *testing.T) {
	f := newOrderFixture()
	p := f.store.addProduct("Last", "7.00", 1)
	users := []uuid.UUID{uuid.New(), uuid.New()}
	for _, u := range users {
		f.store.putCart(u, p.ID, 1)
	}

	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, u := range users {
		wg.Add(1)
		go func(i int, u uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.PlaceOrder(context.Background(), u, "addr", "card")
		}(i, u)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, f.store.stock(p.ID))
	assert.Equal(t, 1, f.store.orderCount())
}

func TestOrderService_PlaceOrder_RetriesConflictOnce(t *testing.T) {
	f := newOrderFixture()
	a := f.store.addProduct("A", "5.00", 10)
	userID := uuid.New()
	f.store.putCart(userID, a.ID, 1)
	f.store.conflicts = 1

	_, err := f.svc.PlaceOrder(context.Background(), userID, "addr", "card")
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.txCount)
	assert.Equal(t, 9, f.store.stock(a.ID))
}

func TestOrderService_PlaceOrder_ConflictPersists(t *testing.T) {
	f := newOrderFixture()
	a := f.store.addProduct("A", "5.00", 10)
	userID := uuid.New()
	f.store.putCart(userID, a.ID, 1)
	f.store.conflicts = 2

	_, err := f.svc.PlaceOrder(context.Background(), userID, "addr", "card")
	require.ErrorIs(t, err, ErrTransactionConflict)
	assert.ErrorIs(t, err, repository.ErrConflict)
	assert.Equal(t, 2, f.store.txCount)
	assert.Equal(t, 10, f.store.stock(a.ID))
	assert.Equal(t, 1, f.store.cartLen(userID))
}

func TestOrderService_PlaceOrder_PublishFailureKeepsOrder(t *testing.T) {
	f := newOrderFixture()
	f.publisher.err = errors.New("broker down")
	a := f.store.addProduct("A", "5.00", 10)
	userID := uuid.New()
	f.store.putCart(userID, a.ID, 1)

	order, err := f.svc.PlaceOrder(context.Background(), userID, "addr", "card")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, order.ID)
	assert.Equal(t, 1, f.store.orderCount())
}

func placeOne(t *testing.T, f *orderFixture, userID uuid.UUID, p *model.Product, qty int) *model.Order {
	t.Helper()
	f.store.putCart(userID, p.ID, qty)
	order, err := f.svc.PlaceOrder(context.Background(), userID, "addr", "card")
	require.NoError(t, err)
	return order
}

func TestOrderService_CancelOrder(t *testing.T) {
	f := newOrderFixture()
	a := f.store.addProduct("A", "5.00", 10)
	userID := uuid.New()
	order := placeOne(t, f, userID, a, 4)
	require.Equal(t, 6, f.store.stock(a.ID))

	cancelled, err := f.svc.CancelOrder(context.Background(), order.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 10, f.store.stock(a.ID))

	require.Len(t, f.publisher.events, 2)
	assert.Equal(t, model.OrderEventCancelled, f.publisher.events[1].Type)
}

func TestOrderService_CancelOrder_NotCancellable(t *testing.T) {
	f := newOrderFixture()
	a := f.store.addProduct("A", "5.00", 10)
	owner := uuid.New()
	order := placeOne(t, f, owner, a, 4)

	t.Run("foreign user", func(t *testing.T) {
		_, err := f.svc.CancelOrder(context.Background(), order.ID, uuid.New())
		assert.ErrorIs(t, err, ErrOrderNotCancellable)
		assert.Equal(t, 6, f.store.stock(a.ID))
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.svc.CancelOrder(context.Background(), uuid.New(), owner)
		assert.ErrorIs(t, err, ErrOrderNotCancellable)
	})

	t.Run("already cancelled", func(t *testing.T) {
		_, err := f.svc.CancelOrder(context.Background(), order.ID, owner)
		require.NoError(t, err)
		require.Equal(t, 10, f.store.stock(a.ID))

		_, err = f.svc.CancelOrder(context.Background(), order.ID, owner)
		assert.ErrorIs(t, err, ErrOrderNotCancellable)
		assert.Equal(t, 10, f.store.stock(a.ID))
	})
}

func TestOrderService_CancelOrder_RollsBack(t *testing.T) {
	f := newOrderFixture()
	a := f.store.addProduct("A", "5.00", 10)
	userID := uuid.New()
	order := placeOne(t, f, userID, a, 4)
	f.store.failOn["update order status"] = errors.New("connection reset")

	_, err := f.svc.CancelOrder(context.Background(), order.ID, userID)
	require.Error(t, err)

	assert.Equal(t, 6, f.store.stock(a.ID))
	stored, err := f.svc.GetByID(context.Background(), order.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, stored.Status)
}

func TestOrderService_GetByID(t *testing.T) {
	f := newOrderFixture()
	a := f.store.addProduct("A", "5.00", 10)
	userID := uuid.New()
	order := placeOne(t, f, userID, a, 1)

	got, err := f.svc.GetByID(context.Background(), order.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = f.svc.GetByID(context.Background(), order.ID, uuid.New())
	assert.ErrorIs(t, err, ErrOrderAccessDenied)
}

func TestOrderService_GetByID_NotFound(t *testing.T) {
	f := newOrderFixture()
	_, err := f.svc.GetByID(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderService_ListByUserID(t *testing.T) {
	f := newOrderFixture()
	a := f.store.addProduct("A", "5.00", 10)
	userID := uuid.New()
	placeOne(t, f, userID, a, 1)
	placeOne(t, f, userID, a, 2)
	placeOne(t, f, uuid.New(), a, 1)

	orders, err := f.svc.ListByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	for _, o := range orders {
		require.Len(t, o.Items, 1)
		assert.Equal(t, a.ID, o.Items[0].ProductID)
	}
}
