package store

import (
	"context"
	"errors"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertChangeEventsBatch writes change events, ignoring IDs already stored
// so redelivered queue messages stay idempotent.
func InsertChangeEventsBatch(ctx context.Context, db *gorm.DB, rows []model.ChangeEvent) error {
	if db == nil || len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, 200).Error
}

// ChangeEventEvaluated reports whether the stored event has already been run
// through the rule engine. A missing row reads as not evaluated.
func ChangeEventEvaluated(ctx context.Context, db *gorm.DB, id uuid.UUID) (bool, error) {
	if db == nil {
		return false, gorm.ErrInvalidDB
	}
	var row model.ChangeEvent
	err := db.WithContext(ctx).Select("id", "evaluated_at").Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return row.EvaluatedAt != nil, nil
}

func MarkChangeEventEvaluated(ctx context.Context, db *gorm.DB, id uuid.UUID, at time.Time) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	return db.WithContext(ctx).Model(&model.ChangeEvent{}).
		Where("id = ? AND evaluated_at IS NULL", id).
		Update("evaluated_at", at.UTC()).Error
}
