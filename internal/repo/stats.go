package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-routine-backend/internal/domain"
)

// RoutineStats returns how many routine documents exist for key and the
// newest CreatedAt among them. With no rows the count is 0 and latest is nil.
func RoutineStats(ctx context.Context, db *gorm.DB, key domain.RoutineKey) (count int64, latest *time.Time, err error) {
	key = key.Normalize()
	q := db.WithContext(ctx).Model(&domain.RoutineDocument{}).
		Where("skin_type = ? AND skin_concern = ?", key.SkinType, key.SkinConcern)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// ORDER BY instead of MAX(): SQLite returns MAX over datetimes as TEXT.
	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}

// ProductStats returns the catalog size and the newest UpdatedAt.
func ProductStats(ctx context.Context, db *gorm.DB) (count int64, latest *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Product{})
	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
