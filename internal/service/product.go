package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flicky/storefront-api/internal/cache"
	"github.com/flicky/storefront-api/internal/dto"
	"github.com/flicky/storefront-api/internal/model"
	"github.com/flicky/storefront-api/internal/repository"
)

const (
	productKeyPrefix = "product:"
	listKeyPrefix    = "products:list:"
)

func productKey(id uuid.UUID) string { return productKeyPrefix + id.String() }

type ProductService struct {
	productRepo repository.ProductRepository
	cache       cache.Cache
	ttl         time.Duration
	log         *slog.Logger
}

// NewProductService wires the catalog. A nil cache disables caching.
func NewProductService(productRepo repository.ProductRepository, c cache.Cache, ttl time.Duration, log *slog.Logger) *ProductService {
	return &ProductService{productRepo: productRepo, cache: c, ttl: ttl, log: log}
}

func (s *ProductService) Create(ctx context.Context, req dto.CreateProductRequest) (*dto.ProductResponse, error) {
	product := &model.Product{
		Name:          req.Name,
		Description:   req.Description,
		Price:         *req.Price,
		StockQuantity: *req.StockQuantity,
		Category:      req.Category,
		ImageURL:      req.ImageURL,
	}
	if err := s.productRepo.Create(ctx, product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	s.invalidate(ctx)
	resp := toProductResponse(product)
	return &resp, nil
}

func (s *ProductService) GetByID(ctx context.Context, id uuid.UUID) (*dto.ProductResponse, error) {
	var resp dto.ProductResponse
	if s.cacheGet(ctx, productKey(id), &resp) {
		return &resp, nil
	}

	product, err := s.productRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, ErrProductNotFound
	}

	resp = toProductResponse(product)
	s.cacheSet(ctx, productKey(id), resp)
	return &resp, nil
}

func (s *ProductService) List(ctx context.Context, req dto.ListProductsRequest) (*dto.ProductListResponse, error) {
	key := fmt.Sprintf("%s%d:%d:%s:%s:%s:%s", listKeyPrefix,
		req.Page, req.Limit, req.Search, req.Category, req.Sort, req.Order)

	var resp dto.ProductListResponse
	if s.cacheGet(ctx, key, &resp) {
		return &resp, nil
	}

	products, total, err := s.productRepo.List(ctx, repository.ProductFilter{
		Limit:    req.Limit,
		Offset:   (req.Page - 1) * req.Limit,
		Search:   req.Search,
		Category: req.Category,
		Sort:     req.Sort,
		Order:    req.Order,
	})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	items := make([]dto.ProductResponse, 0, len(products))
	for i := range products {
		items = append(items, toProductResponse(&products[i]))
	}

	resp = dto.ProductListResponse{Products: items, Total: total, Page: req.Page, Limit: req.Limit}
	s.cacheSet(ctx, key, resp)
	return &resp, nil
}

// Update writes only the fields present in req, so stock moved by orders
// since the caller last read the product is kept.
func (s *ProductService) Update(ctx context.Context, id uuid.UUID, req dto.UpdateProductRequest) (*dto.ProductResponse, error) {
	product, err := s.productRepo.Update(ctx, id, repository.ProductPatch{
		Name:          req.Name,
		Description:   req.Description,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
		Category:      req.Category,
		ImageURL:      req.ImageURL,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	s.invalidate(ctx, id)
	resp := toProductResponse(product)
	return &resp, nil
}

func (s *ProductService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.productRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrProductNotFound
		}
		if errors.Is(err, repository.ErrProductReferenced) {
			return ErrProductInUse
		}
		return fmt.Errorf("delete product: %w", err)
	}
	s.invalidate(ctx, id)
	return nil
}

// InvalidateStock drops cached entries for products whose stock changed
// outside the catalog, e.g. by order placement or cancellation.
func (s *ProductService) InvalidateStock(ctx context.Context, ids ...uuid.UUID) {
	s.invalidate(ctx, ids...)
}

// invalidate removes the item keys and every cached list page.
func (s *ProductService) invalidate(ctx context.Context, ids ...uuid.UUID) {
	if s.cache == nil {
		return
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn("invalidate product cache", "error", err)
	}
	if err := s.cache.DeletePrefix(ctx, listKeyPrefix); err != nil {
		s.log.Warn("invalidate product list cache", "error", err)
	}
}

func (s *ProductService) cacheGet(ctx context.Context, key string, dest any) bool {
	if s.cache == nil {
		return false
	}
	found, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.log.Warn("read product cache", "key", key, "error", err)
		return false
	}
	return found
}

func (s *ProductService) cacheSet(ctx context.Context, key string, value any) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.log.Warn("write product cache", "key", key, "error", err)
	}
}

func toProductResponse(p *model.Product) dto.ProductResponse {
	return dto.ProductResponse{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		StockQuantity: p.StockQuantity,
		Category:      p.Category,
		ImageURL:      p.ImageURL,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}
