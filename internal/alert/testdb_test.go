package alert

import (
	"context"
	"fmt"
	"net/url"
	"testing"

	"github.com/dhegstad/AdsX-sub003/internal/migrate"
	"github.com/dhegstad/AdsX-sub003/internal/model"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openAlertTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", url.QueryEscape(t.Name()))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("gorm.Open(sqlite): %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("gdb.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migrate.AutoMigrate(context.Background(), gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return gdb
}

func createRule(t *testing.T, db *gorm.DB, r Rule) Rule {
	t.Helper()

	if r.OrganizationID == "" {
		r.OrganizationID = "org-1"
	}
	row, err := RuleToModel(r)
	if err != nil {
		t.Fatalf("RuleToModel: %v", err)
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}
	r.ID = row.ID
	return r
}

func loadDeliveries(t *testing.T, db *gorm.DB) []model.NotificationDelivery {
	t.Helper()

	var rows []model.NotificationDelivery
	if err := db.Order("id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("find deliveries: %v", err)
	}
	return rows
}
