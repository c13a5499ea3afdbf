package store

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// DeleteChangeEventsBeforeBatched removes at most batchSize change events
// detected before the cutoff. Works on Postgres and SQLite.
func DeleteChangeEventsBeforeBatched(ctx context.Context, db *gorm.DB, before time.Time, batchSize int) (int64, error) {
	if db == nil {
		return 0, gorm.ErrInvalidDB
	}
	if batchSize <= 0 {
		batchSize = 5000
	}
	res := db.WithContext(ctx).Exec(`
		WITH doomed AS (
			SELECT id FROM change_events
			WHERE detected_at < ?
			ORDER BY detected_at ASC
			LIMIT ?
		)
		DELETE FROM change_events WHERE id IN (SELECT id FROM doomed)
	`, before.UTC(), batchSize)
	return res.RowsAffected, res.Error
}

// DeleteFinishedDeliveriesBeforeBatched removes sent or failed outbox rows
// last updated before the cutoff. Pending rows are kept regardless of age.
func DeleteFinishedDeliveriesBeforeBatched(ctx context.Context, db *gorm.DB, before time.Time, batchSize int) (int64, error) {
	if db == nil {
		return 0, gorm.ErrInvalidDB
	}
	if batchSize <= 0 {
		batchSize = 5000
	}
	res := db.WithContext(ctx).Exec(`
		WITH doomed AS (
			SELECT id FROM notification_deliveries
			WHERE status IN (?, ?) AND updated_at < ?
			ORDER BY id ASC
			LIMIT ?
		)
		DELETE FROM notification_deliveries WHERE id IN (SELECT id FROM doomed)
	`, DeliverySent, DeliveryFailed, before.UTC(), batchSize)
	return res.RowsAffected, res.Error
}
