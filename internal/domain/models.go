// Package domain defines the routine, session and catalog types shared by
// the cache, channel, repository and service layers, together with the
// GORM models persisted by the durable store.
package domain

import "time"

// RoutineDocument is one persisted routine generation. Rows are append-only;
// the newest row for a key is the authoritative routine.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - SkinType / SkinConcern: the normalized key, indexed with CreatedAt.
//   - CommitmentLevel: the request parameter the routine was generated for.
//   - GeneratedRoutine: the RoutineRecord as JSON.
type RoutineDocument struct {
	ID               string    `json:"id"               gorm:"type:char(36);primaryKey"`
	SkinType         string    `json:"skinType"         gorm:"type:varchar(128);not null;index:idx_routine_key,priority:1"`
	SkinConcern      string    `json:"skinConcern"      gorm:"type:varchar(128);not null;index:idx_routine_key,priority:2"`
	CommitmentLevel  string    `json:"commitmentLevel"  gorm:"type:varchar(64)"`
	GeneratedRoutine string    `json:"generatedRoutine" gorm:"type:text;not null"`
	CreatedAt        time.Time `json:"createdAt"        gorm:"index:idx_routine_key,priority:3"`
}

// TableName returns the database table name for RoutineDocument.
func (RoutineDocument) TableName() string { return "routines" }

// Product is a catalog entry offered to the generation engine.
type Product struct {
	ID            string    `json:"id"                    gorm:"type:char(36);primaryKey"`
	URL           string    `json:"url"                   gorm:"type:varchar(1024);not null;uniqueIndex:ux_products_url"`
	Title         string    `json:"title"                 gorm:"type:varchar(512);not null"`
	Currency      string    `json:"currency"              gorm:"type:varchar(8)"`
	CurrentPrice  float64   `json:"currentPrice"`
	OriginalPrice float64   `json:"originalPrice"`
	DiscountRate  float64   `json:"discountRate"          gorm:"index:idx_products_discount"`
	Category      string    `json:"category,omitempty"    gorm:"type:varchar(128);index"`
	ReviewsCount  int       `json:"reviewsCount"`
	Stars         *float64  `json:"stars,omitempty"`
	Image         string    `json:"image,omitempty"       gorm:"type:varchar(1024)"`
	Description   string    `json:"description,omitempty" gorm:"type:text"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TableName returns the database table name for Product.
func (Product) TableName() string { return "products" }
