package store

import (
	"context"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DeliveryPending = "pending"
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
)

func InsertDeliveries(ctx context.Context, db *gorm.DB, rows []model.NotificationDelivery) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(&rows).Error
}

// ListDueDeliveries returns pending outbox rows whose next attempt is due.
func ListDueDeliveries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]model.NotificationDelivery, error) {
	if db == nil {
		return nil, gorm.ErrInvalidDB
	}
	if limit <= 0 {
		limit = 50
	}
	var rows []model.NotificationDelivery
	err := db.WithContext(ctx).
		Where("status = ? AND next_attempt_at <= ?", DeliveryPending, now.UTC()).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func MarkDeliverySent(ctx context.Context, db *gorm.DB, id int, now time.Time) error {
	return db.WithContext(ctx).Model(&model.NotificationDelivery{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":     DeliverySent,
			"last_error": "",
			"updated_at": now.UTC(),
		}).Error
}

// MarkDeliveryAttempt records a failed attempt. status is pending (retry at
// next) or failed (terminal).
func MarkDeliveryAttempt(ctx context.Context, db *gorm.DB, id int, attempts int, status string, next time.Time, lastErr string, now time.Time) error {
	return db.WithContext(ctx).Model(&model.NotificationDelivery{}).Where("id = ?", id).
		Updates(map[string]any{
			"attempts":        attempts,
			"status":          status,
			"next_attempt_at": next.UTC(),
			"last_error":      lastErr,
			"updated_at":      now.UTC(),
		}).Error
}

// PostponeDelivery moves next_attempt_at without counting an attempt (used
// when a rule is over its rate limit).
func PostponeDelivery(ctx context.Context, db *gorm.DB, id int, next time.Time) error {
	return db.WithContext(ctx).Model(&model.NotificationDelivery{}).Where("id = ?", id).
		Update("next_attempt_at", next.UTC()).Error
}

type DeliveryFilter struct {
	RuleID int
	Status string
	Limit  int
}

func ListDeliveries(ctx context.Context, db *gorm.DB, orgID string, f DeliveryFilter) ([]model.NotificationDelivery, error) {
	if db == nil {
		return nil, gorm.ErrInvalidDB
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q := db.WithContext(ctx).Where("organization_id = ?", orgID)
	if f.RuleID > 0 {
		q = q.Where("rule_id = ?", f.RuleID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var rows []model.NotificationDelivery
	err := q.Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}
