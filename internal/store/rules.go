package store

import (
	"context"
	"errors"

	"github.com/dhegstad/AdsX-sub003/internal/model"
	"gorm.io/gorm"
)

func ListActiveRules(ctx context.Context, db *gorm.DB, orgID string) ([]model.NotificationRule, error) {
	if db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var rows []model.NotificationRule
	err := db.WithContext(ctx).
		Where("organization_id = ? AND is_active = ?", orgID, true).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

// ListDigestRules returns every active rule with hourly or daily digests,
// across organizations.
func ListDigestRules(ctx context.Context, db *gorm.DB) ([]model.NotificationRule, error) {
	if db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var rows []model.NotificationRule
	err := db.WithContext(ctx).
		Where("is_active = ? AND digest_mode IN ?", true, []string{"hourly", "daily"}).
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func ListRules(ctx context.Context, db *gorm.DB, orgID string) ([]model.NotificationRule, error) {
	if db == nil {
		return nil, gorm.ErrInvalidDB
	}
	var rows []model.NotificationRule
	err := db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("id DESC").
		Find(&rows).Error
	return rows, err
}

func GetRule(ctx context.Context, db *gorm.DB, orgID string, ruleID int) (model.NotificationRule, bool, error) {
	if db == nil {
		return model.NotificationRule{}, false, gorm.ErrInvalidDB
	}
	var row model.NotificationRule
	err := db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", orgID, ruleID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.NotificationRule{}, false, nil
	}
	if err != nil {
		return model.NotificationRule{}, false, err
	}
	return row, true, nil
}

func CreateRule(ctx context.Context, db *gorm.DB, row *model.NotificationRule) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	return db.WithContext(ctx).Create(row).Error
}

// UpdateRule overwrites every editable column of the rule identified by
// row.OrganizationID and row.ID. It reports false when no such rule exists.
func UpdateRule(ctx context.Context, db *gorm.DB, row model.NotificationRule) (bool, error) {
	if db == nil {
		return false, gorm.ErrInvalidDB
	}
	res := db.WithContext(ctx).Model(&model.NotificationRule{}).
		Where("organization_id = ? AND id = ?", row.OrganizationID, row.ID).
		Updates(map[string]any{
			"name":                 row.Name,
			"is_active":            row.IsActive,
			"priority":             row.Priority,
			"conditions":           row.Conditions,
			"slack_channel":        row.SlackChannel,
			"email_recipients":     row.EmailRecipients,
			"webhook_url":          row.WebhookURL,
			"quiet_hours_start":    row.QuietHoursStart,
			"quiet_hours_end":      row.QuietHoursEnd,
			"quiet_hours_timezone": row.QuietHoursTimezone,
			"digest_mode":          row.DigestMode,
			"digest_time":          row.DigestTime,
		})
	return res.RowsAffected > 0, res.Error
}

// DeleteRule removes a rule and its digest cursor. Outbox rows are kept for
// history.
func DeleteRule(ctx context.Context, db *gorm.DB, orgID string, ruleID int) (bool, error) {
	if db == nil {
		return false, gorm.ErrInvalidDB
	}
	deleted := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("organization_id = ? AND id = ?", orgID, ruleID).Delete(&model.NotificationRule{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return tx.Where("rule_id = ?", ruleID).Delete(&model.DigestRun{}).Error
	})
	return deleted, err
}
