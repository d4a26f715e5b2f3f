package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront-api/internal/model"
)

type CartRepository interface {
	// ListLines returns the user's cart joined with current product data.
	ListLines(ctx context.Context, userID uuid.UUID) ([]model.CartLine, error)
	// ListItemsForUpdate locks and returns the user's cart rows.
	ListItemsForUpdate(ctx context.Context, userID uuid.UUID) ([]model.CartItem, error)
	AddItem(ctx context.Context, item *model.CartItem) error
	// SetQuantity reports false when the user has no line for the product.
	SetQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int) (bool, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) error
	Clear(ctx context.Context, userID uuid.UUID) error
}

type pgCartRepo struct{ pool *pgxpool.Pool }

func NewCartRepository(pool *pgxpool.Pool) CartRepository {
	return &pgCartRepo{pool: pool}
}

func (r *pgCartRepo) ListLines(ctx context.Context, userID uuid.UUID) ([]model.CartLine, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT ci.user_id, ci.product_id, ci.quantity, ci.created_at, ci.updated_at,
		        p.name, p.price, p.stock_quantity, p.image_url
		 FROM cart_items ci
		 JOIN products p ON p.id = ci.product_id
		 WHERE ci.user_id = $1
		 ORDER BY ci.created_at, ci.product_id`, userID,
	)
	if err != nil {
		return nil, dbError("list cart lines", err)
	}
	defer rows.Close()

	lines := []model.CartLine{}
	for rows.Next() {
		var l model.CartLine
		if err := rows.Scan(&l.UserID, &l.ProductID, &l.Quantity, &l.CreatedAt, &l.UpdatedAt,
			&l.Name, &l.Price, &l.StockQuantity, &l.ImageURL); err != nil {
			return nil, dbError("scan cart line", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("list cart lines", err)
	}
	return lines, nil
}

func (r *pgCartRepo) ListItemsForUpdate(ctx context.Context, userID uuid.UUID) ([]model.CartItem, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT user_id, product_id, quantity, created_at, updated_at
		 FROM cart_items WHERE user_id = $1
		 ORDER BY product_id FOR UPDATE`, userID,
	)
	if err != nil {
		return nil, dbError("lock cart items", err)
	}
	defer rows.Close()

	var items []model.CartItem
	for rows.Next() {
		var item model.CartItem
		if err := rows.Scan(&item.UserID, &item.ProductID, &item.Quantity, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, dbError("scan cart item", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("lock cart items", err)
	}
	return items, nil
}

func (r *pgCartRepo) AddItem(ctx context.Context, item *model.CartItem) error {
	query := `INSERT INTO cart_items (user_id, product_id, quantity, created_at, updated_at)
			  VALUES ($1, $2, $3, NOW(), NOW())
			  ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
			  RETURNING quantity, created_at, updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query, item.UserID, item.ProductID, item.Quantity).
		Scan(&item.Quantity, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return dbError("add cart item", err)
	}
	return nil
}

func (r *pgCartRepo) SetQuantity(ctx context.Context, userID, productID uuid.UUID, quantity int) (bool, error) {
	ct, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE cart_items SET quantity = $3, updated_at = NOW() WHERE user_id = $1 AND product_id = $2`,
		userID, productID, quantity,
	)
	if err != nil {
		return false, dbError("update cart item", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *pgCartRepo) RemoveItem(ctx context.Context, userID, productID uuid.UUID) error {
	if _, err := conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`, userID, productID,
	); err != nil {
		return dbError("remove cart item", err)
	}
	return nil
}

func (r *pgCartRepo) Clear(ctx context.Context, userID uuid.UUID) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
		return dbError("clear cart", err)
	}
	return nil
}
