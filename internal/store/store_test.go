package store

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/migrate"
	"github.com/dhegstad/AdsX-sub003/internal/model"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
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

func seedRule(t *testing.T, db *gorm.DB, orgID, name string, active bool, digest string) model.NotificationRule {
	t.Helper()

	r := model.NotificationRule{
		OrganizationID:  orgID,
		Name:            name,
		IsActive:        active,
		Priority:        "normal",
		Conditions:      datatypes.JSON(`{}`),
		EmailRecipients: datatypes.JSON(`[]`),
		WebhookURL:      "https://example.com/hook",
		DigestMode:      digest,
	}
	if err := db.Create(&r).Error; err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return r
}

func TestRules_Listing(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	a := seedRule(t, db, "org-a", "immediate", true, "none")
	seedRule(t, db, "org-a", "inactive", false, "hourly")
	h := seedRule(t, db, "org-a", "hourly", true, "hourly")
	d := seedRule(t, db, "org-b", "daily", true, "daily")

	active, err := ListActiveRules(ctx, db, "org-a")
	if err != nil {
		t.Fatalf("ListActiveRules: %v", err)
	}
	if len(active) != 2 || active[0].ID != a.ID || active[1].ID != h.ID {
		t.Fatalf("unexpected active rules: %+v", active)
	}

	digests, err := ListDigestRules(ctx, db)
	if err != nil {
		t.Fatalf("ListDigestRules: %v", err)
	}
	if len(digests) != 2 || digests[0].ID != h.ID || digests[1].ID != d.ID {
		t.Fatalf("unexpected digest rules: %+v", digests)
	}

	all, err := ListRules(ctx, db, "org-a")
	if err != nil || len(all) != 3 {
		t.Fatalf("ListRules: n=%d err=%v", len(all), err)
	}

	if _, ok, err := GetRule(ctx, db, "org-b", a.ID); err != nil || ok {
		t.Fatalf("expected cross-org lookup to miss, ok=%v err=%v", ok, err)
	}
	got, ok, err := GetRule(ctx, db, "org-a", a.ID)
	if err != nil || !ok || got.Name != "immediate" {
		t.Fatalf("GetRule: %+v ok=%v err=%v", got, ok, err)
	}
}

func TestInsertChangeEventsBatch_Idempotent(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	id := uuid.New()
	row := model.ChangeEvent{
		ID:             id,
		OrganizationID: "org-a",
		DetectedAt:     time.Now().UTC(),
		Platform:       "meta",
		AdAccountID:    "act_1",
		ChangeType:     "budget_change",
		ResourceType:   "campaign",
		Severity:       "warning",
		BeforeValue:    datatypes.JSON(`{"budget":1000}`),
		AfterValue:     datatypes.JSON(`{"budget":1500}`),
	}
	if err := InsertChangeEventsBatch(ctx, db, []model.ChangeEvent{row}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := InsertChangeEventsBatch(ctx, db, []model.ChangeEvent{row}); err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	var n int64
	if err := db.Model(&model.ChangeEvent{}).Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("expected 1 row, got %d err=%v", n, err)
	}
}

func TestDeliveries_Lifecycle(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := []model.NotificationDelivery{
		{OrganizationID: "org-a", RuleID: 1, ChannelType: "webhook", Target: "https://x", Title: "t", Content: "c", Payload: datatypes.JSON(`{}`), Status: DeliveryPending, NextAttemptAt: now.Add(-time.Minute)},
		{OrganizationID: "org-a", RuleID: 1, ChannelType: "email", Target: "a@b.c", Title: "t", Content: "c", Payload: datatypes.JSON(`{}`), Status: DeliveryPending, NextAttemptAt: now.Add(time.Hour)},
		{OrganizationID: "org-b", RuleID: 2, ChannelType: "slack", Target: "#ops", Title: "t", Content: "c", Payload: datatypes.JSON(`{}`), Status: DeliveryPending, NextAttemptAt: now.Add(-time.Second)},
	}
	if err := InsertDeliveries(ctx, db, rows); err != nil {
		t.Fatalf("InsertDeliveries: %v", err)
	}

	due, err := ListDueDeliveries(ctx, db, now, 10)
	if err != nil {
		t.Fatalf("ListDueDeliveries: %v", err)
	}
	if len(due) != 2 || due[0].ChannelType != "webhook" || due[1].ChannelType != "slack" {
		t.Fatalf("unexpected due rows: %+v", due)
	}

	if err := MarkDeliverySent(ctx, db, due[0].ID, now); err != nil {
		t.Fatalf("MarkDeliverySent: %v", err)
	}
	if err := MarkDeliveryAttempt(ctx, db, due[1].ID, 1, DeliveryPending, now.Add(2*time.Second), "boom", now); err != nil {
		t.Fatalf("MarkDeliveryAttempt: %v", err)
	}

	due, err = ListDueDeliveries(ctx, db, now, 10)
	if err != nil || len(due) != 0 {
		t.Fatalf("expected nothing due, got %d err=%v", len(due), err)
	}

	list, err := ListDeliveries(ctx, db, "org-a", DeliveryFilter{Status: DeliverySent})
	if err != nil || len(list) != 1 || list[0].ChannelType != "webhook" {
		t.Fatalf("ListDeliveries: %+v err=%v", list, err)
	}
	list, err = ListDeliveries(ctx, db, "org-b", DeliveryFilter{RuleID: 2})
	if err != nil || len(list) != 1 || list[0].Attempts != 1 || list[0].LastError != "boom" {
		t.Fatalf("ListDeliveries org-b: %+v err=%v", list, err)
	}
}

func TestDigestRuns_Upsert(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()

	if _, ok, err := GetDigestRun(ctx, db, 7); err != nil || ok {
		t.Fatalf("expected no run yet, ok=%v err=%v", ok, err)
	}

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := MarkDigestRun(ctx, db, 7, "daily", first, 3); err != nil {
		t.Fatalf("MarkDigestRun: %v", err)
	}
	second := first.Add(24 * time.Hour)
	if err := MarkDigestRun(ctx, db, 7, "daily", second, 0); err != nil {
		t.Fatalf("MarkDigestRun again: %v", err)
	}

	run, ok, err := GetDigestRun(ctx, db, 7)
	if err != nil || !ok {
		t.Fatalf("GetDigestRun: ok=%v err=%v", ok, err)
	}
	if !run.LastFlushedAt.Equal(second) || run.LastCount != 0 {
		t.Fatalf("expected cursor moved to %v, got %+v", second, run)
	}
	var n int64
	db.Model(&model.DigestRun{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected single row per rule, got %d", n)
	}
}

func TestCleanup_Batched(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := now.Add(-40 * 24 * time.Hour)
	events := make([]model.ChangeEvent, 0, 5)
	for i := 0; i < 5; i++ {
		ts := old
		if i == 4 {
			ts = now
		}
		events = append(events, model.ChangeEvent{
			ID: uuid.New(), OrganizationID: "org-a", DetectedAt: ts, Platform: "meta",
			AdAccountID: "act_1", ChangeType: "status_change", ResourceType: "ad", Severity: "info",
		})
	}
	if err := InsertChangeEventsBatch(ctx, db, events); err != nil {
		t.Fatalf("insert: %v", err)
	}

	cutoff := now.Add(-30 * 24 * time.Hour)
	n, err := DeleteChangeEventsBeforeBatched(ctx, db, cutoff, 3)
	if err != nil || n != 3 {
		t.Fatalf("first batch: n=%d err=%v", n, err)
	}
	n, err = DeleteChangeEventsBeforeBatched(ctx, db, cutoff, 3)
	if err != nil || n != 1 {
		t.Fatalf("second batch: n=%d err=%v", n, err)
	}

	deliveries := []model.NotificationDelivery{
		{OrganizationID: "org-a", RuleID: 1, ChannelType: "webhook", Target: "x", Title: "t", Content: "c", Payload: datatypes.JSON(`{}`), Status: DeliverySent, NextAttemptAt: old},
		{OrganizationID: "org-a", RuleID: 1, ChannelType: "webhook", Target: "x", Title: "t", Content: "c", Payload: datatypes.JSON(`{}`), Status: DeliveryPending, NextAttemptAt: old},
	}
	if err := InsertDeliveries(ctx, db, deliveries); err != nil {
		t.Fatalf("insert deliveries: %v", err)
	}
	if err := db.Exec(`UPDATE notification_deliveries SET updated_at = ?`, old).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
	n, err = DeleteFinishedDeliveriesBeforeBatched(ctx, db, cutoff, 100)
	if err != nil || n != 1 {
		t.Fatalf("delete deliveries: n=%d err=%v", n, err)
	}
	var left []model.NotificationDelivery
	db.Find(&left)
	if len(left) != 1 || left[0].Status != DeliveryPending {
		t.Fatalf("expected pending row kept, got %+v", left)
	}
}

func TestRules_UpdateAndDelete(t *testing.T) {
	t.Parallel()

	db := openTestDB(t)
	ctx := context.Background()
	r := seedRule(t, db, "org-1", "watch", true, "hourly")
	if err := MarkDigestRun(ctx, db, r.ID, "hourly", time.Now(), 0); err != nil {
		t.Fatalf("MarkDigestRun: %v", err)
	}

	r.IsActive = false
	r.Name = "watch (paused)"
	ok, err := UpdateRule(ctx, db, r)
	if err != nil || !ok {
		t.Fatalf("UpdateRule ok=%v err=%v", ok, err)
	}
	got, found, err := GetRule(ctx, db, "org-1", r.ID)
	if err != nil || !found {
		t.Fatalf("GetRule found=%v err=%v", found, err)
	}
	if got.IsActive || got.Name != "watch (paused)" {
		t.Fatalf("update not applied: %+v", got)
	}

	other := r
	other.OrganizationID = "org-2"
	if ok, _ := UpdateRule(ctx, db, other); ok {
		t.Fatalf("update across organizations must not apply")
	}
	if ok, _ := DeleteRule(ctx, db, "org-2", r.ID); ok {
		t.Fatalf("delete across organizations must not apply")
	}

	ok, err = DeleteRule(ctx, db, "org-1", r.ID)
	if err != nil || !ok {
		t.Fatalf("DeleteRule ok=%v err=%v", ok, err)
	}
	if _, found, _ := GetDigestRun(ctx, db, r.ID); found {
		t.Fatalf("digest cursor should be removed with the rule")
	}
	if ok, _ := DeleteRule(ctx, db, "org-1", r.ID); ok {
		t.Fatalf("second delete should report not found")
	}
}
