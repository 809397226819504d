package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-routine-backend/internal/domain"
	"github.com/tbourn/go-routine-backend/internal/repo"
)

// ErrInvalidProduct is returned by Upsert when an item lacks a URL or title.
var ErrInvalidProduct = errors.New("product url and title are required")

// ProductRepo defines the persistence contract required by ProductService.
type ProductRepo interface {
	ListProducts(ctx context.Context, db *gorm.DB, q repo.ProductQuery) ([]domain.Product, error)
	UpsertProducts(ctx context.Context, db *gorm.DB, products []domain.Product) (int, error)
	ProductStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error)
}

// Invalidator drops cached catalog reads.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// ProductService exposes the catalog to the HTTP layer. Writes invalidate
// the cached product lists the orchestrator reads from.
type ProductService struct {
	DB    *gorm.DB
	Repo  ProductRepo
	Cache Invalidator
}

// NewProductService wires the package-level repo functions. cache may be nil.
func NewProductService(db *gorm.DB, cache Invalidator) *ProductService {
	return &ProductService{DB: db, Repo: gormProductRepo{}, Cache: cache}
}

// List returns one page of products, best discount first.
func (s *ProductService) List(ctx context.Context, q repo.ProductQuery) ([]domain.Product, error) {
	out, err := s.Repo.ListProducts(ctx, s.DB, q)
	if err != nil {
		return nil, errors.Join(ErrCatalogUnavailable, err)
	}
	return out, nil
}

// Upsert stores products keyed by URL and returns how many were written.
// Every item is checked before anything is written.
func (s *ProductService) Upsert(ctx context.Context, products []domain.Product) (int, error) {
	for i := range products {
		products[i].URL = strings.TrimSpace(products[i].URL)
		products[i].Title = strings.TrimSpace(products[i].Title)
		if products[i].URL == "" || products[i].Title == "" {
			return 0, ErrInvalidProduct
		}
	}
	n, err := s.Repo.UpsertProducts(ctx, s.DB, products)
	if err != nil {
		return 0, err
	}
	if n > 0 && s.Cache != nil {
		if err := s.Cache.Invalidate(ctx); err != nil {
			log.Warn().Err(err).Int("count", n).Msg("product cache invalidation failed")
		}
	}
	return n, nil
}

// Stats returns the catalog size and last update, used for ETags.
func (s *ProductService) Stats(ctx context.Context) (int64, *time.Time, error) {
	return s.Repo.ProductStats(ctx, s.DB)
}

type gormProductRepo struct{}

func (gormProductRepo) ListProducts(ctx context.Context, db *gorm.DB, q repo.ProductQuery) ([]domain.Product, error) {
	return repo.ListProducts(ctx, db, q)
}

func (gormProductRepo) UpsertProducts(ctx context.Context, db *gorm.DB, p []domain.Product) (int, error) {
	return repo.UpsertProducts(ctx, db, p)
}

func (gormProductRepo) ProductStats(ctx context.Context, db *gorm.DB) (int64, *time.Time, error) {
	return repo.ProductStats(ctx, db)
}
