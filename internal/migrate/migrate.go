package migrate

import (
	"context"

	"github.com/dhegstad/AdsX-sub003/internal/model"
	"gorm.io/gorm"
)

// Models lists every table owned by the service.
func Models() []any {
	return []any{
		&model.NotificationRule{},
		&model.ChangeEvent{},
		&model.NotificationDelivery{},
		&model.DigestRun{},
	}
}

func AutoMigrate(ctx context.Context, db *gorm.DB) error {
	gdb := db.WithContext(ctx)
	if err := gdb.AutoMigrate(Models()...); err != nil {
		return err
	}
	if gdb.Dialector.Name() != "postgres" {
		return nil
	}

	// Outbox polling scans pending rows by due time.
	if err := gdb.Exec(`
		CREATE INDEX IF NOT EXISTS idx_notification_deliveries_pending
		ON notification_deliveries (next_attempt_at, id) WHERE status = 'pending'
	`).Error; err != nil {
		return err
	}
	if err := gdb.Exec(`CREATE INDEX IF NOT EXISTS idx_notification_rules_conditions ON notification_rules USING GIN (conditions)`).Error; err != nil {
		return err
	}
	return nil
}
