package store

import (
	"context"
	"errors"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func GetDigestRun(ctx context.Context, db *gorm.DB, ruleID int) (model.DigestRun, bool, error) {
	if db == nil {
		return model.DigestRun{}, false, gorm.ErrInvalidDB
	}
	var row model.DigestRun
	err := db.WithContext(ctx).Where("rule_id = ?", ruleID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.DigestRun{}, false, nil
	}
	if err != nil {
		return model.DigestRun{}, false, err
	}
	return row, true, nil
}

// MarkDigestRun upserts the flush cursor for a rule.
func MarkDigestRun(ctx context.Context, db *gorm.DB, ruleID int, mode string, flushedAt time.Time, count int) error {
	if db == nil {
		return gorm.ErrInvalidDB
	}
	row := model.DigestRun{
		RuleID:        ruleID,
		Mode:          mode,
		LastFlushedAt: flushedAt.UTC(),
		LastCount:     count,
		UpdatedAt:     time.Now().UTC(),
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "rule_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"mode", "last_flushed_at", "last_count", "updated_at"}),
	}).Create(&row).Error
}
