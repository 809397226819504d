package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-routine-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = gorm.ErrRecordNotFound

// InsertRoutine appends a routine document for key. Rows are never updated;
// the newest row wins on reads.
func InsertRoutine(ctx context.Context, db *gorm.DB, key domain.RoutineKey, commitment string, rec *domain.RoutineRecord) (*domain.RoutineDocument, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode routine: %w", err)
	}
	key = key.Normalize()
	doc := &domain.RoutineDocument{
		ID:               uuid.NewString(),
		SkinType:         key.SkinType,
		SkinConcern:      key.SkinConcern,
		CommitmentLevel:  commitment,
		GeneratedRoutine: string(payload),
		CreatedAt:        time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, err
	}
	return doc, nil
}

// LatestRoutine returns the most recently created document for key, or
// ErrNotFound.
func LatestRoutine(ctx context.Context, db *gorm.DB, key domain.RoutineKey) (*domain.RoutineDocument, error) {
	key = key.Normalize()
	var doc domain.RoutineDocument
	err := db.WithContext(ctx).
		Where("skin_type = ? AND skin_concern = ?", key.SkinType, key.SkinConcern).
		Order("created_at DESC").
		First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// StoredRoutine is a decoded durable routine with its row metadata.
type StoredRoutine struct {
	ID        string
	CreatedAt time.Time
	Record    *domain.RoutineRecord
}

// RoutineStore adapts the package functions to the orchestrator's durable
// store contract.
type RoutineStore struct {
	DB *gorm.DB
}

// FindLatest returns the newest routine for key, or nil (and no error) when
// none has been stored.
func (s RoutineStore) FindLatest(ctx context.Context, key domain.RoutineKey) (*StoredRoutine, error) {
	doc, err := LatestRoutine(ctx, s.DB, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec domain.RoutineRecord
	if err := json.Unmarshal([]byte(doc.GeneratedRoutine), &rec); err != nil {
		return nil, fmt.Errorf("decode routine %s: %w", doc.ID, err)
	}
	return &StoredRoutine{ID: doc.ID, CreatedAt: doc.CreatedAt, Record: &rec}, nil
}

// Insert persists rec and returns the new document id.
func (s RoutineStore) Insert(ctx context.Context, key domain.RoutineKey, params domain.GenerationParams, rec *domain.RoutineRecord) (string, error) {
	doc, err := InsertRoutine(ctx, s.DB, key, params.CommitmentLevel, rec)
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

// Stats returns the number of stored generations for key and the newest
// creation time, used for ETags.
func (s RoutineStore) Stats(ctx context.Context, key domain.RoutineKey) (int64, *time.Time, error) {
	return RoutineStats(ctx, s.DB, key)
}
