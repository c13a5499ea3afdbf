package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ChangeEvent struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey;column:id" json:"id"`
	OrganizationID string         `gorm:"type:varchar(64);not null;index:idx_change_events_org_ts,priority:1;column:organization_id" json:"organization_id"`
	DetectedAt     time.Time      `gorm:"not null;index:idx_change_events_org_ts,priority:2,sort:desc;column:detected_at" json:"detected_at"`
	Platform       string         `gorm:"type:varchar(16);not null;column:platform" json:"platform"`
	AdAccountID    string         `gorm:"type:varchar(100);not null;index;column:ad_account_id" json:"ad_account_id"`
	ChangeType     string         `gorm:"type:varchar(50);not null;column:change_type" json:"change_type"`
	ResourceType   string         `gorm:"type:varchar(50);not null;column:resource_type" json:"resource_type"`
	ResourceID     string         `gorm:"type:varchar(100);not null;default:'';column:resource_id" json:"resource_id"`
	ResourceName   string         `gorm:"type:text;not null;default:'';column:resource_name" json:"resource_name"`
	Severity       string         `gorm:"type:varchar(16);not null;column:severity" json:"severity"`
	BeforeValue    datatypes.JSON `gorm:"type:jsonb;column:before_value" json:"before_value"`
	AfterValue     datatypes.JSON `gorm:"type:jsonb;column:after_value" json:"after_value"`
	EvaluatedAt    *time.Time     `gorm:"column:evaluated_at" json:"evaluated_at,omitempty"`
}

func (ChangeEvent) TableName() string { return "change_events" }
