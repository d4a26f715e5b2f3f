package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore backs the product, cart and order fakes with shared state so a
// transaction can be rolled back across all three.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	products map[uuid.UUID]*model.Product
	cart     map[uuid.UUID]map[uuid.UUID]*model.CartItem
	orders   map[uuid.UUID]*model.Order

	// failOn makes the named operation return the error.
	failOn map[string]error
	// conflicts is the number of upcoming transactions that fail with a conflict.
	conflicts int
	txCount   int
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[uuid.UUID]*model.Product),
		cart:     make(map[uuid.UUID]map[uuid.UUID]*model.CartItem),
		orders:   make(map[uuid.UUID]*model.Order),
		failOn:   make(map[string]error),
	}
}

type memTxKey struct{}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	s.txCount++
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return fmt.Errorf("lock products: %w", repository.ErrConflict)
	}
	snap := s.snapshot()
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

type memSnapshot struct {
	products map[uuid.UUID]*model.Product
	cart     map[uuid.UUID]map[uuid.UUID]*model.CartItem
	orders   map[uuid.UUID]*model.Order
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		products: make(map[uuid.UUID]*model.Product, len(s.products)),
		cart:     make(map[uuid.UUID]map[uuid.UUID]*model.CartItem, len(s.cart)),
		orders:   make(map[uuid.UUID]*model.Order, len(s.orders)),
	}
	for id, p := range s.products {
		cp := *p
		snap.products[id] = &cp
	}
	for userID, lines := range s.cart {
		m := make(map[uuid.UUID]*model.CartItem, len(lines))
		for pid, item := range lines {
			cp := *item
			m[pid] = &cp
		}
		snap.cart[userID] = m
	}
	for id, o := range s.orders {
		snap.orders[id] = copyOrder(o)
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.products = snap.products
	s.cart = snap.cart
	s.orders = snap.orders
}

func (s *memStore) fail(op string) error {
	if err, ok := s.failOn[op]; ok {
		return err
	}
	return nil
}

func copyOrder(o *model.Order) *model.Order {
	cp := *o
	cp.Items = append([]model.OrderItem(nil), o.Items...)
	return &cp
}

// test helpers

func (s *memStore) addProduct(name, price string, stock int) *model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := &model.Product{ID: uuid.New(), Name: name, Price: mustDecimal(price), StockQuantity: stock}
	s.products[p.ID] = p
	cp := *p
	return &cp
}

func (s *memStore) stock(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].StockQuantity
}

func (s *memStore) putCart(userID, productID uuid.UUID, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart[userID] == nil {
		s.cart[userID] = make(map[uuid.UUID]*model.CartItem)
	}
	s.cart[userID][productID] = &model.CartItem{UserID: userID, ProductID: productID, Quantity: qty}
}

func (s *memStore) cartLen(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cart[userID])
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

// products

type memProductRepo struct{ *memStore }

func (r memProductRepo) Create(_ context.Context, p *model.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	r.products[p.ID] = &cp
	return nil
}

func (r memProductRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("get product"); err != nil {
		return nil, err
	}
	p, ok := r.products[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (r memProductRepo) GetForUpdate(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[uuid.UUID]model.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out[id] = *p
		}
	}
	return out, nil
}

func (r memProductRepo) List(_ context.Context, f repository.ProductFilter) ([]model.Product, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := []model.Product{}
	for _, p := range r.products {
		if f.Category == "" || p.Category == f.Category {
			all = append(all, *p)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	total := len(all)
	if f.Offset >= len(all) {
		return []model.Product{}, total, nil
	}
	all = all[f.Offset:]
	if f.Limit > 0 && f.Limit < len(all) {
		all = all[:f.Limit]
	}
	return all, total, nil
}

func (r memProductRepo) Update(_ context.Context, id uuid.UUID, patch repository.ProductPatch) (*model.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.StockQuantity != nil {
		p.StockQuantity = *patch.StockQuantity
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.ImageURL != nil {
		p.ImageURL = *patch.ImageURL
	}
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (r memProductRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("delete product"); err != nil {
		return err
	}
	if _, ok := r.products[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.products, id)
	return nil
}

func (r memProductRepo) DecrementStock(_ context.Context, id uuid.UUID, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("decrement stock"); err != nil {
		return err
	}
	p, ok := r.products[id]
	if !ok || p.StockQuantity < qty {
		return fmt.Errorf("decrement stock for product %s: %w", id, repository.ErrNotEnoughStock)
	}
	p.StockQuantity -= qty
	return nil
}

func (r memProductRepo) IncrementStock(_ context.Context, id uuid.UUID, qty int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("increment stock"); err != nil {
		return err
	}
	p, ok := r.products[id]
	if !ok {
		return pgx.ErrNoRows
	}
	p.StockQuantity += qty
	return nil
}

// cart

type memCartRepo struct{ *memStore }

func (r memCartRepo) ListLines(_ context.Context, userID uuid.UUID) ([]model.CartLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lines := []model.CartLine{}
	for pid, item := range r.cart[userID] {
		p, ok := r.products[pid]
		if !ok {
			continue
		}
		lines = append(lines, model.CartLine{
			CartItem: *item, Name: p.Name, Price: p.Price, StockQuantity: p.StockQuantity,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].Name < lines[j].Name })
	return lines, nil
}

func (r memCartRepo) ListItemsForUpdate(_ context.Context, userID uuid.UUID) ([]model.CartItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []model.CartItem
	for _, item := range r.cart[userID] {
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID.String() < items[j].ProductID.String() })
	return items, nil
}

func (r memCartRepo) AddItem(_ context.Context, item *model.CartItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cart[item.UserID] == nil {
		r.cart[item.UserID] = make(map[uuid.UUID]*model.CartItem)
	}
	if existing, ok := r.cart[item.UserID][item.ProductID]; ok {
		existing.Quantity += item.Quantity
		item.Quantity = existing.Quantity
		return nil
	}
	cp := *item
	r.cart[item.UserID][item.ProductID] = &cp
	return nil
}

func (r memCartRepo) SetQuantity(_ context.Context, userID, productID uuid.UUID, qty int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.cart[userID][productID]
	if !ok {
		return false, nil
	}
	item.Quantity = qty
	return true, nil
}

func (r memCartRepo) RemoveItem(_ context.Context, userID, productID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cart[userID], productID)
	return nil
}

func (r memCartRepo) Clear(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("clear cart"); err != nil {
		return err
	}
	delete(r.cart, userID)
	return nil
}

// orders

type memOrderRepo struct{ *memStore }

func (r memOrderRepo) Create(_ context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("create order"); err != nil {
		return err
	}
	order.ID = uuid.New()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	for i := range order.Items {
		order.Items[i].ID = uuid.New()
		order.Items[i].OrderID = order.ID
	}
	r.orders[order.ID] = copyOrder(order)
	return nil
}

func (r memOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	return copyOrder(o), nil
}

func (r memOrderRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.GetByID(ctx, id)
}

func (r memOrderRepo) ListByUserID(_ context.Context, userID uuid.UUID) ([]model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	orders := []model.Order{}
	for _, o := range r.orders {
		if o.UserID == userID {
			orders = append(orders, *copyOrder(o))
		}
	}
	return orders, nil
}

func (r memOrderRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.fail("update order status"); err != nil {
		return err
	}
	o, ok := r.orders[id]
	if !ok {
		return pgx.ErrNoRows
	}
	o.Status = status
	return nil
}
