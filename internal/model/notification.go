package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type NotificationRule struct {
	ID                 int            `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	OrganizationID     string         `gorm:"type:varchar(64);not null;index;uniqueIndex:idx_notification_rules_org_name,priority:1;column:organization_id" json:"organization_id"`
	Name               string         `gorm:"type:varchar(200);not null;uniqueIndex:idx_notification_rules_org_name,priority:2;column:name" json:"name"`
	IsActive           bool           `gorm:"not null;index;column:is_active" json:"is_active"`
	Priority           string         `gorm:"type:varchar(16);not null;default:'normal';column:priority" json:"priority"`
	Conditions         datatypes.JSON `gorm:"type:jsonb;not null;default:'{}';column:conditions" json:"conditions"`
	SlackChannel       string         `gorm:"type:varchar(200);not null;default:'';column:slack_channel" json:"slack_channel"`
	EmailRecipients    datatypes.JSON `gorm:"type:jsonb;not null;default:'[]';column:email_recipients" json:"email_recipients"`
	WebhookURL         string         `gorm:"type:text;not null;default:'';column:webhook_url" json:"webhook_url"`
	QuietHoursStart    string         `gorm:"type:varchar(8);not null;default:'';column:quiet_hours_start" json:"quiet_hours_start"`
	QuietHoursEnd      string         `gorm:"type:varchar(8);not null;default:'';column:quiet_hours_end" json:"quiet_hours_end"`
	QuietHoursTimezone string         `gorm:"type:varchar(64);not null;default:'';column:quiet_hours_timezone" json:"quiet_hours_timezone"`
	DigestMode         string         `gorm:"type:varchar(16);not null;default:'none';index;column:digest_mode" json:"digest_mode"`
	DigestTime         string         `gorm:"type:varchar(8);not null;default:'';column:digest_time" json:"digest_time"`
	CreatedAt          time.Time      `gorm:"not null;autoCreateTime;column:created_at" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;autoUpdateTime;column:updated_at" json:"updated_at"`
}

func (NotificationRule) TableName() string { return "notification_rules" }

// NotificationDelivery is one outbound message waiting for (or done with)
// the delivery worker. DedupeKey is set for single-event rows only; digests
// leave it NULL.
type NotificationDelivery struct {
	ID             int            `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	OrganizationID string         `gorm:"type:varchar(64);not null;index;column:organization_id" json:"organization_id"`
	RuleID         int            `gorm:"not null;index;column:rule_id" json:"rule_id"`
	ChannelType    string         `gorm:"type:varchar(16);not null;index;column:channel_type" json:"channel_type"`
	Target         string         `gorm:"type:text;not null;column:target" json:"target"`
	Kind           string         `gorm:"type:varchar(16);not null;default:'single';column:kind" json:"kind"`
	EventCount     int            `gorm:"not null;default:1;column:event_count" json:"event_count"`
	Title          string         `gorm:"type:text;not null;column:title" json:"title"`
	Content        string         `gorm:"type:text;not null;column:content" json:"content"`
	Payload        datatypes.JSON `gorm:"type:jsonb;not null;default:'{}';column:payload" json:"payload"`
	Status         string         `gorm:"type:varchar(16);not null;index;column:status" json:"status"`
	Attempts       int            `gorm:"not null;default:0;column:attempts" json:"attempts"`
	NextAttemptAt  time.Time      `gorm:"not null;index;column:next_attempt_at" json:"next_attempt_at"`
	LastError      string         `gorm:"type:text;not null;default:'';column:last_error" json:"last_error"`
	DedupeKey      *uuid.UUID     `gorm:"type:uuid;uniqueIndex;column:dedupe_key" json:"dedupe_key,omitempty"`
	CreatedAt      time.Time      `gorm:"not null;autoCreateTime;column:created_at" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;autoUpdateTime;column:updated_at" json:"updated_at"`
}

func (NotificationDelivery) TableName() string { return "notification_deliveries" }

// DigestRun records when a rule's digest was last released.
type DigestRun struct {
	ID            int       `gorm:"primaryKey;autoIncrement;column:id" json:"id"`
	RuleID        int       `gorm:"not null;uniqueIndex;column:rule_id" json:"rule_id"`
	Mode          string    `gorm:"type:varchar(16);not null;column:mode" json:"mode"`
	LastFlushedAt time.Time `gorm:"not null;column:last_flushed_at" json:"last_flushed_at"`
	LastCount     int       `gorm:"not null;default:0;column:last_count" json:"last_count"`
	UpdatedAt     time.Time `gorm:"not null;autoUpdateTime;column:updated_at" json:"updated_at"`
}

func (DigestRun) TableName() string { return "digest_runs" }
