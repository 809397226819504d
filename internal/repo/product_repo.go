package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-routine-backend/internal/domain"
)

// MaxProductLimit caps a single catalog read.
const MaxProductLimit = 1000

// ProductQuery filters ListProducts. Zero values mean no filter.
type ProductQuery struct {
	Limit      int
	Offset     int
	Categories []string
	MinPrice   float64
	MaxPrice   float64
}

// ListProducts returns products ordered by discount rate (highest first),
// then title for a stable order. Limit is clamped to [1, MaxProductLimit].
func ListProducts(ctx context.Context, db *gorm.DB, q ProductQuery) ([]domain.Product, error) {
	if q.Limit <= 0 || q.Limit > MaxProductLimit {
		q.Limit = MaxProductLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	tx := db.WithContext(ctx).Model(&domain.Product{})
	if cats := cleanCategories(q.Categories); len(cats) > 0 {
		tx = tx.Where("category IN ?", cats)
	}
	if q.MinPrice > 0 {
		tx = tx.Where("current_price >= ?", q.MinPrice)
	}
	if q.MaxPrice > 0 {
		tx = tx.Where("current_price <= ?", q.MaxPrice)
	}
	var out []domain.Product
	err := tx.Order("discount_rate DESC").Order("title ASC").
		Offset(q.Offset).Limit(q.Limit).
		Find(&out).Error
	return out, err
}

// UpsertProducts inserts products, updating existing rows matched by URL.
// Missing ids are generated.
func UpsertProducts(ctx context.Context, db *gorm.DB, products []domain.Product) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	for i := range products {
		if products[i].ID == "" {
			products[i].ID = uuid.NewString()
		}
		if products[i].CreatedAt.IsZero() {
			products[i].CreatedAt = now
		}
		products[i].UpdatedAt = now
	}
	res := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "currency", "current_price", "original_price", "discount_rate",
			"category", "reviews_count", "stars", "image", "description", "updated_at",
		}),
	}).CreateInBatches(products, 200)
	if res.Error != nil {
		return 0, res.Error
	}
	return len(products), nil
}

func cleanCategories(in []string) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
