package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/model"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RuleFromModel decodes a persisted rule. Malformed JSON columns are an
// error for that rule only; callers isolate it.
func RuleFromModel(row model.NotificationRule) (Rule, error) {
	r := Rule{
		ID:                 row.ID,
		OrganizationID:     row.OrganizationID,
		Name:               row.Name,
		IsActive:           row.IsActive,
		Priority:           Priority(row.Priority),
		SlackChannel:       strings.TrimSpace(row.SlackChannel),
		WebhookURL:         strings.TrimSpace(row.WebhookURL),
		QuietHoursStart:    row.QuietHoursStart,
		QuietHoursEnd:      row.QuietHoursEnd,
		QuietHoursTimezone: row.QuietHoursTimezone,
		DigestMode:         DigestMode(row.DigestMode),
		DigestTime:         row.DigestTime,
	}
	if r.DigestMode == "" {
		r.DigestMode = DigestNone
	}
	if len(row.Conditions) > 0 {
		if err := json.Unmarshal(row.Conditions, &r.Conditions); err != nil {
			return Rule{}, fmt.Errorf("rule %d: decode conditions: %w", row.ID, err)
		}
	}
	if len(row.EmailRecipients) > 0 {
		if err := json.Unmarshal(row.EmailRecipients, &r.EmailRecipients); err != nil {
			return Rule{}, fmt.Errorf("rule %d: decode email recipients: %w", row.ID, err)
		}
	}
	return r, nil
}

// RuleToModel is the inverse of RuleFromModel; ID and timestamps are left to
// the caller.
func RuleToModel(r Rule) (model.NotificationRule, error) {
	cond, err := json.Marshal(r.Conditions)
	if err != nil {
		return model.NotificationRule{}, err
	}
	recipients := r.EmailRecipients
	if recipients == nil {
		recipients = []string{}
	}
	emails, err := json.Marshal(recipients)
	if err != nil {
		return model.NotificationRule{}, err
	}
	mode := r.DigestMode
	if mode == "" {
		mode = DigestNone
	}
	prio := r.Priority
	if prio == "" {
		prio = PriorityNormal
	}
	return model.NotificationRule{
		ID:                 r.ID,
		OrganizationID:     r.OrganizationID,
		Name:               strings.TrimSpace(r.Name),
		IsActive:           r.IsActive,
		Priority:           string(prio),
		Conditions:         datatypes.JSON(cond),
		SlackChannel:       strings.TrimSpace(r.SlackChannel),
		EmailRecipients:    datatypes.JSON(emails),
		WebhookURL:         strings.TrimSpace(r.WebhookURL),
		QuietHoursStart:    strings.TrimSpace(r.QuietHoursStart),
		QuietHoursEnd:      strings.TrimSpace(r.QuietHoursEnd),
		QuietHoursTimezone: strings.TrimSpace(r.QuietHoursTimezone),
		DigestMode:         string(mode),
		DigestTime:         strings.TrimSpace(r.DigestTime),
	}, nil
}

// EventToModel converts an event for persistence. Non-UUID IDs are mapped to
// a stable SHA1 UUID so redelivery stays idempotent.
func EventToModel(ev ChangeEvent) (model.ChangeEvent, error) {
	id, err := eventUUID(ev.ID)
	if err != nil {
		return model.ChangeEvent{}, err
	}
	row := model.ChangeEvent{
		ID:             id,
		OrganizationID: ev.OrganizationID,
		DetectedAt:     ev.DetectedAt.UTC(),
		Platform:       string(ev.Platform),
		AdAccountID:    ev.AdAccountID,
		ChangeType:     ev.ChangeType,
		ResourceType:   ev.ResourceType,
		ResourceID:     ev.ResourceID,
		ResourceName:   ev.ResourceName,
		Severity:       string(ev.Severity),
	}
	if ev.BeforeValue != nil {
		b, err := json.Marshal(ev.BeforeValue)
		if err != nil {
			return model.ChangeEvent{}, fmt.Errorf("encode beforeValue: %w", err)
		}
		row.BeforeValue = datatypes.JSON(b)
	}
	if ev.AfterValue != nil {
		b, err := json.Marshal(ev.AfterValue)
		if err != nil {
			return model.ChangeEvent{}, fmt.Errorf("encode afterValue: %w", err)
		}
		row.AfterValue = datatypes.JSON(b)
	}
	return row, nil
}

func EventFromModel(row model.ChangeEvent) ChangeEvent {
	ev := ChangeEvent{
		ID:             row.ID.String(),
		OrganizationID: row.OrganizationID,
		Platform:       Platform(row.Platform),
		AdAccountID:    row.AdAccountID,
		ChangeType:     row.ChangeType,
		ResourceType:   row.ResourceType,
		ResourceID:     row.ResourceID,
		ResourceName:   row.ResourceName,
		Severity:       Severity(row.Severity),
		DetectedAt:     row.DetectedAt,
	}
	if len(row.BeforeValue) > 0 {
		_ = decodeValues(row.BeforeValue, &ev.BeforeValue)
	}
	if len(row.AfterValue) > 0 {
		_ = decodeValues(row.AfterValue, &ev.AfterValue)
	}
	return ev
}

// decodeValues keeps numbers as json.Number so budget values survive
// without float rounding until the matcher converts them.
func decodeValues(raw []byte, out *map[string]any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}

func eventUUID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("event id is empty")
	}
	if id, err := uuid.Parse(raw); err == nil {
		return id, nil
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(raw)), nil
}

// NormalizeEvent fills producer-optional fields: a fresh ID and a
// detection time of now.
func NormalizeEvent(ev *ChangeEvent, now time.Time) {
	if strings.TrimSpace(ev.ID) == "" {
		ev.ID = uuid.NewString()
	}
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = now.UTC()
	}
	ev.Platform = Platform(strings.ToLower(strings.TrimSpace(string(ev.Platform))))
	ev.Severity = Severity(strings.ToLower(strings.TrimSpace(string(ev.Severity))))
}
