package alert

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func validRule() Rule {
	return Rule{
		OrganizationID: "org-1",
		Name:           "budget watch",
		IsActive:       true,
		Conditions: RuleConditions{
			Platforms:    []Platform{PlatformMeta},
			BudgetChange: &BudgetChange{Operator: OpGreaterThan, Value: 100},
		},
		EmailRecipients: []string{"ops@example.com"},
	}
}

func TestValidateRule_OK(t *testing.T) {
	t.Parallel()

	r := validRule()
	r.QuietHoursStart, r.QuietHoursEnd, r.QuietHoursTimezone = "22:00", "06:00", "Europe/Berlin"
	r.DigestMode, r.DigestTime = DigestDaily, "07:45"
	if err := ValidateRule(r); err != nil {
		t.Fatalf("ValidateRule: %v", err)
	}
}

func TestValidateRule_Problems(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Rule)
		want   string
	}{
		{"no name", func(r *Rule) { r.Name = " " }, "name is required"},
		{"long name", func(r *Rule) { r.Name = strings.Repeat("x", 201) }, "at most 200"},
		{"no targets", func(r *Rule) { r.EmailRecipients = nil }, "at least one of"},
		{"bad email", func(r *Rule) { r.EmailRecipients = []string{"nope"} }, "invalid address"},
		{"bad webhook", func(r *Rule) { r.WebhookURL = "ftp://x" }, "webhookUrl"},
		{"half quiet hours", func(r *Rule) { r.QuietHoursStart = "22:00" }, "set together"},
		{"bad clock", func(r *Rule) { r.QuietHoursStart, r.QuietHoursEnd = "25:00", "06:00" }, "quietHoursStart must be HH:MM"},
		{"bad tz", func(r *Rule) { r.QuietHoursTimezone = "Mars/Olympus" }, "IANA"},
		{"bad mode", func(r *Rule) { r.DigestMode = "weekly" }, "digestMode"},
		{"bad digest time", func(r *Rule) { r.DigestTime = "9am" }, "digestTime"},
		{"bad priority", func(r *Rule) { r.Priority = "urgent" }, "priority"},
		{"bad platform", func(r *Rule) { r.Conditions.Platforms = []Platform{"tiktok"} }, "unknown platform"},
		{"bad severity", func(r *Rule) { r.Conditions.Severity = []Severity{"fatal"} }, "unknown severity"},
		{"bad operator", func(r *Rule) { r.Conditions.BudgetChange.Operator = "gte" }, "operator"},
		{"negative budget", func(r *Rule) { r.Conditions.BudgetChange.Value = -1 }, "non-negative"},
		{"nan budget", func(r *Rule) { r.Conditions.BudgetChange.Value = math.NaN() }, "non-negative"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := validRule()
			r.Conditions.BudgetChange = &BudgetChange{Operator: OpGreaterThan, Value: 100}
			tc.mutate(&r)
			err := ValidateRule(r)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.want)
			}
		})
	}
}

func TestValidateEvent(t *testing.T) {
	t.Parallel()

	if err := ValidateEvent(budgetEvent("ev-1")); err != nil {
		t.Fatalf("ValidateEvent: %v", err)
	}

	err := ValidateEvent(ChangeEvent{Platform: "bing", Severity: "loud"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(ve.Problems) != 6 {
		t.Fatalf("expected 6 problems, got %d: %v", len(ve.Problems), ve.Problems)
	}
}
