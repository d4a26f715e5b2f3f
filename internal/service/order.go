package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/repository"
)

// EventPublisher delivers order events after the order transaction commits.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event model.OrderEvent) error
}

// StockInvalidator is told which products changed stock.
type StockInvalidator interface {
	InvalidateStock(ctx context.Context, ids ...uuid.UUID)
}

type OrderService struct {
	tx          repository.Transactor
	orderRepo   repository.OrderRepository
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	catalog     StockInvalidator
	publisher   EventPublisher
	log         *slog.Logger
}

// NewOrderService wires the order workflow. catalog and publisher may be nil.
func NewOrderService(
	tx repository.Transactor,
	orderRepo repository.OrderRepository,
	cartRepo repository.CartRepository,
	productRepo repository.ProductRepository,
	catalog StockInvalidator,
	publisher EventPublisher,
	log *slog.Logger,
) *OrderService {
	return &OrderService{
		tx:          tx,
		orderRepo:   orderRepo,
		cartRepo:    cartRepo,
		productRepo: productRepo,
		catalog:     catalog,
		publisher:   publisher,
		log:         log,
	}
}

// PlaceOrder turns the user's stored cart into a pending order. Stock is
// checked and decremented against locked product rows, and the cart is
// emptied, all in one transaction.
func (s *OrderService) PlaceOrder(ctx context.Context, userID uuid.UUID, shippingAddress, paymentMethod string) (*model.Order, error) {
	var order *model.Order
	err := s.retryOnConflict(ctx, "place order", func(ctx context.Context) error {
		var err error
		order, err = s.placeOrderTx(ctx, userID, shippingAddress, paymentMethod)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, model.OrderEventPlaced, order)
	s.log.Info("order placed", "order_id", order.ID, "user_id", userID, "total", order.TotalAmount.String())
	return order, nil
}

func (s *OrderService) placeOrderTx(ctx context.Context, userID uuid.UUID, shippingAddress, paymentMethod string) (*model.Order, error) {
	var order *model.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		cartItems, err := s.cartRepo.ListItemsForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("read cart: %w", err)
		}
		if len(cartItems) == 0 {
			return ErrEmptyCart
		}

		ids := make([]uuid.UUID, 0, len(cartItems))
		for _, ci := range cartItems {
			ids = append(ids, ci.ProductID)
		}
		products, err := s.productRepo.GetForUpdate(ctx, ids)
		if err != nil {
			return fmt.Errorf("lock products: %w", err)
		}

		items, total, err := priceCart(cartItems, products)
		if err != nil {
			return err
		}

		order = &model.Order{
			UserID:          userID,
			Status:          model.OrderStatusPending,
			TotalAmount:     total,
			ShippingAddress: shippingAddress,
			PaymentMethod:   paymentMethod,
			Items:           items,
		}
		if err := s.orderRepo.Create(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, item := range items {
			if err := s.productRepo.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				if errors.Is(err, repository.ErrNotEnoughStock) {
					return &InsufficientStockError{
						ProductID: item.ProductID,
						Requested: item.Quantity,
						Available: products[item.ProductID].StockQuantity,
					}
				}
				return fmt.Errorf("reserve stock: %w", err)
			}
		}

		if err := s.cartRepo.Clear(ctx, userID); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// priceCart validates every line against locked stock before anything is
// written, and snapshots the unit price of each line.
func priceCart(cartItems []model.CartItem, products map[uuid.UUID]model.Product) ([]model.OrderItem, decimal.Decimal, error) {
	for _, ci := range cartItems {
		p, ok := products[ci.ProductID]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("product %s: %w", ci.ProductID, ErrProductNotFound)
		}
		if ci.Quantity > p.StockQuantity {
			return nil, decimal.Zero, &InsufficientStockError{
				ProductID: ci.ProductID, Requested: ci.Quantity, Available: p.StockQuantity,
			}
		}
	}

	total := decimal.Zero
	items := make([]model.OrderItem, 0, len(cartItems))
	for _, ci := range cartItems {
		price := products[ci.ProductID].Price
		total = total.Add(price.Mul(decimal.NewFromInt(int64(ci.Quantity))))
		items = append(items, model.OrderItem{ProductID: ci.ProductID, Quantity: ci.Quantity, Price: price})
	}
	return items, total, nil
}

// CancelOrder restores stock for every item of a pending order owned by
// userID and marks it cancelled.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) (*model.Order, error) {
	var order *model.Order
	err := s.retryOnConflict(ctx, "cancel order", func(ctx context.Context) error {
		var err error
		order, err = s.cancelOrderTx(ctx, orderID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, model.OrderEventCancelled, order)
	s.log.Info("order cancelled", "order_id", order.ID, "user_id", userID)
	return order, nil
}

func (s *OrderService) cancelOrderTx(ctx context.Context, orderID, userID uuid.UUID) (*model.Order, error) {
	var order *model.Order
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		order, err = s.orderRepo.GetForUpdate(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if order == nil || order.UserID != userID || order.Status != model.OrderStatusPending {
			return ErrOrderNotCancellable
		}

		// Items come back ordered by product id, matching the lock order of placement.
		for _, item := range order.Items {
			if err := s.productRepo.IncrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("restore stock: %w", err)
			}
		}

		if err := s.orderRepo.UpdateStatus(ctx, order.ID, model.OrderStatusCancelled); err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		order.Status = model.OrderStatusCancelled
		order.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// retryOnConflict runs fn and repeats it once if it failed on lock
// contention. Other errors are returned unchanged.
func (s *OrderService) retryOnConflict(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if !errors.Is(err, repository.ErrConflict) {
		return err
	}
	s.log.Warn("transaction conflict, retrying", "op", op, "error", err)

	err = fn(ctx)
	if errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransactionConflict, err)
	}
	return err
}

func (s *OrderService) afterCommit(ctx context.Context, eventType model.OrderEventType, order *model.Order) {
	if s.catalog != nil {
		ids := make([]uuid.UUID, 0, len(order.Items))
		for _, item := range order.Items {
			ids = append(ids, item.ProductID)
		}
		s.catalog.InvalidateStock(ctx, ids...)
	}

	if s.publisher == nil {
		return
	}
	event := model.OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
		OccurredAt:  time.Now().UTC(),
	}
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.log.Error("publish order event", "type", eventType, "order_id", order.ID, "error", err)
	}
}

func (s *OrderService) GetByID(ctx context.Context, orderID, userID uuid.UUID) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, ErrOrderAccessDenied
	}
	return order, nil
}

func (s *OrderService) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	orders, err := s.orderRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
