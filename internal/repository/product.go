package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront-api/internal/model"
)

// ErrProductReferenced is returned by Delete when order history still points
// at the product.
var ErrProductReferenced = errors.New("product is referenced by orders")

type ProductFilter struct {
	Limit    int
	Offset   int
	Search   string
	Category string
	Sort     string
	Order    string
}

// ProductPatch holds the fields of a partial product update. Nil fields
// keep their stored value.
type ProductPatch struct {
	Name          *string
	Description   *string
	Price         *decimal.Decimal
	StockQuantity *int
	Category      *string
	ImageURL      *string
}

type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	// GetForUpdate locks the given products in ascending id order and returns
	// them keyed by id. Missing ids are absent from the map.
	GetForUpdate(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Product, error)
	List(ctx context.Context, filter ProductFilter) ([]model.Product, int, error)
	// Update applies the non-nil fields of patch and returns the stored row.
	Update(ctx context.Context, id uuid.UUID, patch ProductPatch) (*model.Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
	DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) error
	IncrementStock(ctx context.Context, productID uuid.UUID, quantity int) error
}

type pgProductRepo struct{ pool *pgxpool.Pool }

func NewProductRepository(pool *pgxpool.Pool) ProductRepository {
	return &pgProductRepo{pool: pool}
}

const productColumns = `id, name, description, price, stock_quantity, category, image_url, created_at, updated_at`

func scanProduct(row pgx.Row, p *model.Product) error {
	return row.Scan(
		&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity,
		&p.Category, &p.ImageURL, &p.CreatedAt, &p.UpdatedAt,
	)
}

func (r *pgProductRepo) Create(ctx context.Context, product *model.Product) error {
	product.ID = uuid.New()
	query := `INSERT INTO products (id, name, description, price, stock_quantity, category, image_url, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW()) RETURNING created_at, updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		product.ID, product.Name, product.Description, product.Price,
		product.StockQuantity, product.Category, product.ImageURL,
	).Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		return dbError("create product", err)
	}
	return nil
}

func (r *pgProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	p := &model.Product{}
	err := scanProduct(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id), p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, dbError("get product", err)
	}
	return p, nil
}

func (r *pgProductRepo) GetForUpdate(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Product, error) {
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, dbError("lock products", err)
	}
	defer rows.Close()

	products := make(map[uuid.UUID]model.Product, len(ids))
	for rows.Next() {
		var p model.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, dbError("scan product", err)
		}
		products[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("lock products", err)
	}
	return products, nil
}

func (r *pgProductRepo) List(ctx context.Context, f ProductFilter) ([]model.Product, int, error) {
	allowedSorts := map[string]bool{"name": true, "price": true, "created_at": true, "stock_quantity": true}
	if !allowedSorts[f.Sort] {
		f.Sort = "created_at"
	}
	if f.Order != "asc" && f.Order != "desc" {
		f.Order = "desc"
	}

	where := `WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
		AND ($2 = '' OR category = $2)`

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM products `+where, f.Search, f.Category,
	).Scan(&total); err != nil {
		return nil, 0, dbError("count products", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM products %s ORDER BY %s %s, id LIMIT $3 OFFSET $4`,
		productColumns, where, f.Sort, f.Order)

	rows, err := conn(ctx, r.pool).Query(ctx, query, f.Search, f.Category, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, dbError("list products", err)
	}
	defer rows.Close()

	products := []model.Product{}
	for rows.Next() {
		var p model.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, 0, dbError("scan product", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, dbError("list products", err)
	}
	return products, total, nil
}

func (r *pgProductRepo) Update(ctx context.Context, id uuid.UUID, patch ProductPatch) (*model.Product, error) {
	query := `UPDATE products SET
			  name = COALESCE($2, name),
			  description = COALESCE($3, description),
			  price = COALESCE($4, price),
			  stock_quantity = COALESCE($5, stock_quantity),
			  category = COALESCE($6, category),
			  image_url = COALESCE($7, image_url),
			  updated_at = NOW()
			  WHERE id = $1 RETURNING ` + productColumns
	p := &model.Product{}
	err := scanProduct(conn(ctx, r.pool).QueryRow(ctx, query,
		id, patch.Name, patch.Description, patch.Price,
		patch.StockQuantity, patch.Category, patch.ImageURL,
	), p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, dbError("update product", err)
	}
	return p, nil
}

func (r *pgProductRepo) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("delete product %s: %w", id, ErrProductReferenced)
		}
		return dbError("delete product", err)
	}
	if ct.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *pgProductRepo) DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) error {
	ct, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		 WHERE id = $1 AND stock_quantity >= $2`,
		productID, quantity,
	)
	if err != nil {
		return dbError("decrement stock", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("decrement stock for product %s: %w", productID, ErrNotEnoughStock)
	}
	return nil
}

func (r *pgProductRepo) IncrementStock(ctx context.Context, productID uuid.UUID, quantity int) error {
	ct, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = NOW() WHERE id = $1`,
		productID, quantity,
	)
	if err != nil {
		return dbError("increment stock", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("increment stock for product %s: %w", productID, pgx.ErrNoRows)
	}
	return nil
}
