package query

import (
	"context"
	"net/http"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
	"github.com/dhegstad/AdsX-sub003/internal/model"
	"github.com/dhegstad/AdsX-sub003/internal/store"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ruleRequest struct {
	Name               string               `json:"name"`
	IsActive           *bool                `json:"isActive,omitempty"`
	Priority           alert.Priority       `json:"priority"`
	Conditions         alert.RuleConditions `json:"conditions"`
	SlackChannel       string               `json:"slackChannel"`
	EmailRecipients    []string             `json:"emailRecipients"`
	WebhookURL         string               `json:"webhookUrl"`
	QuietHoursStart    string               `json:"quietHoursStart"`
	QuietHoursEnd      string               `json:"quietHoursEnd"`
	QuietHoursTimezone string               `json:"quietHoursTimezone"`
	DigestMode         alert.DigestMode     `json:"digestMode"`
	DigestTime         string               `json:"digestTime"`
}

func (r ruleRequest) toRule(orgID string, ruleID int) alert.Rule {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return alert.Rule{
		ID:                 ruleID,
		OrganizationID:     orgID,
		Name:               r.Name,
		IsActive:           active,
		Priority:           r.Priority,
		Conditions:         r.Conditions,
		SlackChannel:       r.SlackChannel,
		EmailRecipients:    r.EmailRecipients,
		WebhookURL:         r.WebhookURL,
		QuietHoursStart:    r.QuietHoursStart,
		QuietHoursEnd:      r.QuietHoursEnd,
		QuietHoursTimezone: r.QuietHoursTimezone,
		DigestMode:         r.DigestMode,
		DigestTime:         r.DigestTime,
	}
}

type ruleView struct {
	ID                 int                  `json:"id"`
	OrganizationID     string               `json:"organizationId"`
	Name               string               `json:"name"`
	IsActive           bool                 `json:"isActive"`
	Priority           alert.Priority       `json:"priority"`
	Conditions         alert.RuleConditions `json:"conditions"`
	SlackChannel       string               `json:"slackChannel,omitempty"`
	EmailRecipients    []string             `json:"emailRecipients"`
	WebhookURL         string               `json:"webhookUrl,omitempty"`
	QuietHoursStart    string               `json:"quietHoursStart,omitempty"`
	QuietHoursEnd      string               `json:"quietHoursEnd,omitempty"`
	QuietHoursTimezone string               `json:"quietHoursTimezone,omitempty"`
	DigestMode         alert.DigestMode     `json:"digestMode"`
	DigestTime         string               `json:"digestTime,omitempty"`
	NextDigestAt       *time.Time           `json:"nextDigestAt,omitempty"`
	FlushedDigest      int                  `json:"flushedDigestEntries,omitempty"`
	CreatedAt          time.Time            `json:"createdAt"`
	UpdatedAt          time.Time            `json:"updatedAt"`
}

func viewRule(row model.NotificationRule, now time.Time) (ruleView, error) {
	r, err := alert.RuleFromModel(row)
	if err != nil {
		return ruleView{}, err
	}
	v := ruleView{
		ID:                 r.ID,
		OrganizationID:     r.OrganizationID,
		Name:               r.Name,
		IsActive:           r.IsActive,
		Priority:           r.Priority,
		Conditions:         r.Conditions,
		SlackChannel:       r.SlackChannel,
		EmailRecipients:    r.EmailRecipients,
		WebhookURL:         r.WebhookURL,
		QuietHoursStart:    r.QuietHoursStart,
		QuietHoursEnd:      r.QuietHoursEnd,
		QuietHoursTimezone: r.QuietHoursTimezone,
		DigestMode:         r.DigestMode,
		DigestTime:         r.DigestTime,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if v.EmailRecipients == nil {
		v.EmailRecipients = []string{}
	}
	if next, ok := alert.NextDigestAt(r, now); ok {
		next = next.UTC()
		v.NextDigestAt = &next
	}
	return v, nil
}

func ListRulesHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			respondErr(c, http.StatusNotImplemented, "database not configured")
			return
		}
		orgID, ok := orgParam(c)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		rows, err := store.ListRules(ctx, db, orgID)
		if err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		now := time.Now()
		items := make([]ruleView, 0, len(rows))
		for _, row := range rows {
			v, err := viewRule(row, now)
			if err != nil {
				// A row that no longer decodes is still listed so it can be fixed or deleted.
				v = ruleView{ID: row.ID, OrganizationID: row.OrganizationID, Name: row.Name, IsActive: row.IsActive, EmailRecipients: []string{}}
			}
			items = append(items, v)
		}
		respondOK(c, gin.H{"items": items})
	}
}

func GetRuleHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := loadRule(c, db)
		if !ok {
			return
		}
		v, err := viewRule(row, time.Now())
		if err != nil {
			respondErr(c, http.StatusInternalServerError, err.Error())
			return
		}
		respondOK(c, v)
	}
}

func CreateRuleHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			respondErr(c, http.StatusNotImplemented, "database not configured")
			return
		}
		orgID, ok := orgParam(c)
		if !ok {
			return
		}
		var req ruleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, http.StatusBadRequest, err.Error())
			return
		}
		rule := req.toRule(orgID, 0)
		if err := alert.ValidateRule(rule); err != nil {
			respondValidation(c, err)
			return
		}
		row, err := alert.RuleToModel(rule)
		if err != nil {
			respondErr(c, http.StatusBadRequest, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := store.CreateRule(ctx, db, &row); err != nil {
			if isUniqueViolation(err) {
				respondErr(c, http.StatusConflict, "a rule with this name already exists")
				return
			}
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		v, _ := viewRule(row, time.Now())
		respondOK(c, v)
	}
}

// UpdateRuleHandler replaces a rule. When the update ends digesting (mode
// none or deactivated), entries already buffered are flushed as a final
// digest to the previous targets.
func UpdateRuleHandler(db *gorm.DB, worker *alert.DigestWorker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			respondErr(c, http.StatusNotImplemented, "database not configured")
			return
		}
		orgID, ok := orgParam(c)
		if !ok {
			return
		}
		ruleID, ok := ruleIDParam(c)
		if !ok {
			return
		}
		var req ruleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondErr(c, http.StatusBadRequest, err.Error())
			return
		}
		rule := req.toRule(orgID, ruleID)
		if err := alert.ValidateRule(rule); err != nil {
			respondValidation(c, err)
			return
		}
		row, err := alert.RuleToModel(rule)
		if err != nil {
			respondErr(c, http.StatusBadRequest, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		prevRow, found, err := store.GetRule(ctx, db, orgID, ruleID)
		if err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		if !found {
			respondErr(c, http.StatusNotFound, "not found")
			return
		}
		found, err = store.UpdateRule(ctx, db, row)
		if err != nil {
			if isUniqueViolation(err) {
				respondErr(c, http.StatusConflict, "a rule with this name already exists")
				return
			}
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		if !found {
			respondErr(c, http.StatusNotFound, "not found")
			return
		}
		cur, _, err := store.GetRule(ctx, db, orgID, ruleID)
		if err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		flushed := 0
		if stopsDigesting(rule) {
			if prev, err := alert.RuleFromModel(prevRow); err == nil {
				flushed, err = worker.Retire(ctx, prev)
				if err != nil {
					respondErr(c, http.StatusServiceUnavailable, "rule updated but digest flush failed: "+err.Error())
					return
				}
			}
		}
		v, _ := viewRule(cur, time.Now())
		v.FlushedDigest = flushed
		respondOK(c, v)
	}
}

func stopsDigesting(r alert.Rule) bool {
	return !r.IsActive || (r.DigestMode != alert.DigestHourly && r.DigestMode != alert.DigestDaily)
}

// DeleteRuleHandler removes the rule and discards any digest entries still
// buffered for it.
func DeleteRuleHandler(db *gorm.DB, digests alert.DigestStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			respondErr(c, http.StatusNotImplemented, "database not configured")
			return
		}
		orgID, ok := orgParam(c)
		if !ok {
			return
		}
		ruleID, ok := ruleIDParam(c)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		deleted, err := store.DeleteRule(ctx, db, orgID, ruleID)
		if err != nil {
			respondErr(c, http.StatusServiceUnavailable, err.Error())
			return
		}
		if !deleted {
			respondErr(c, http.StatusNotFound, "not found")
			return
		}
		discarded := 0
		if digests != nil {
			for _, m := range []alert.DigestMode{alert.DigestHourly, alert.DigestDaily} {
				entries, err := digests.Drain(ctx, alert.DigestKey{RuleID: ruleID, Mode: m})
				if err == nil {
					discarded += len(entries)
				}
			}
		}
		respondOK(c, gin.H{"deleted": true, "discardedDigestEntries": discarded})
	}
}

// TestRuleHandler evaluates a supplied change event against a stored rule
// without persisting or delivering anything. The optional "at" query
// parameter (RFC 3339) overrides the evaluation time.
func TestRuleHandler(db *gorm.DB, matcher alert.Matcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		row, ok := loadRule(c, db)
		if !ok {
			return
		}
		rule, err := alert.RuleFromModel(row)
		if err != nil {
			respondErr(c, http.StatusUnprocessableEntity, err.Error())
			return
		}

		now := time.Now()
		if raw := c.Query("at"); raw != "" {
			at, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				respondErr(c, http.StatusBadRequest, "invalid at (expected RFC 3339)")
				return
			}
			now = at
		}

		var ev alert.ChangeEvent
		if err := c.ShouldBindJSON(&ev); err != nil {
			respondErr(c, http.StatusBadRequest, err.Error())
			return
		}
		ev.OrganizationID = rule.OrganizationID
		alert.NormalizeEvent(&ev, now)
		if err := alert.ValidateEvent(ev); err != nil {
			respondValidation(c, err)
			return
		}

		matched, decision := alert.Preview(matcher, rule, ev, now)
		out := gin.H{
			"matched":      matched,
			"inQuietHours": alert.InQuietHours(rule, now),
			"evaluatedAt":  now.UTC(),
		}
		if matched {
			out["decision"] = decision
		}
		respondOK(c, out)
	}
}

func loadRule(c *gin.Context, db *gorm.DB) (model.NotificationRule, bool) {
	if db == nil {
		respondErr(c, http.StatusNotImplemented, "database not configured")
		return model.NotificationRule{}, false
	}
	orgID, ok := orgParam(c)
	if !ok {
		return model.NotificationRule{}, false
	}
	ruleID, ok := ruleIDParam(c)
	if !ok {
		return model.NotificationRule{}, false
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	row, found, err := store.GetRule(ctx, db, orgID, ruleID)
	if err != nil {
		respondErr(c, http.StatusServiceUnavailable, err.Error())
		return model.NotificationRule{}, false
	}
	if !found {
		respondErr(c, http.StatusNotFound, "not found")
		return model.NotificationRule{}, false
	}
	return row, true
}
