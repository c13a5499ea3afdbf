package alert

import (
	"fmt"
	"net/mail"
	"net/url"
	"strings"
)

// ValidationError lists every problem found in one input.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid input: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ValidationError) err() error {
	if len(e.Problems) == 0 {
		return nil
	}
	return e
}

// ValidateEvent checks the fields every producer must supply.
func ValidateEvent(ev ChangeEvent) error {
	var v ValidationError
	if strings.TrimSpace(ev.OrganizationID) == "" {
		v.add("organizationId is required")
	}
	if !ValidPlatform(ev.Platform) {
		v.add("platform must be meta or google, got %q", ev.Platform)
	}
	if strings.TrimSpace(ev.AdAccountID) == "" {
		v.add("adAccountId is required")
	}
	if strings.TrimSpace(ev.ChangeType) == "" {
		v.add("changeType is required")
	}
	if strings.TrimSpace(ev.ResourceType) == "" {
		v.add("resourceType is required")
	}
	if !ValidSeverity(ev.Severity) {
		v.add("severity must be critical, warning or info, got %q", ev.Severity)
	}
	return v.err()
}

// ValidateRule rejects rules that could never be delivered or whose schedule
// fields do not parse.
func ValidateRule(r Rule) error {
	var v ValidationError
	if strings.TrimSpace(r.OrganizationID) == "" {
		v.add("organizationId is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		v.add("name is required")
	} else if len(r.Name) > 200 {
		v.add("name must be at most 200 characters")
	}
	if r.Priority != "" && !ValidPriority(r.Priority) {
		v.add("priority must be low, normal or high, got %q", r.Priority)
	}
	if !ValidDigestMode(r.DigestMode) {
		v.add("digestMode must be none, hourly or daily, got %q", r.DigestMode)
	}
	if r.DigestTime != "" && !ValidClock(r.DigestTime) {
		v.add("digestTime must be HH:MM, got %q", r.DigestTime)
	}

	qs, qe := strings.TrimSpace(r.QuietHoursStart), strings.TrimSpace(r.QuietHoursEnd)
	if (qs == "") != (qe == "") {
		v.add("quietHoursStart and quietHoursEnd must be set together")
	}
	if qs != "" && !ValidClock(qs) {
		v.add("quietHoursStart must be HH:MM, got %q", qs)
	}
	if qe != "" && !ValidClock(qe) {
		v.add("quietHoursEnd must be HH:MM, got %q", qe)
	}
	if !ValidTimezone(r.QuietHoursTimezone) {
		v.add("quietHoursTimezone %q is not a known IANA zone", r.QuietHoursTimezone)
	}

	for _, p := range r.Conditions.Platforms {
		if !ValidPlatform(p) {
			v.add("conditions.platforms: unknown platform %q", p)
		}
	}
	for _, s := range r.Conditions.Severity {
		if !ValidSeverity(s) {
			v.add("conditions.severity: unknown severity %q", s)
		}
	}
	if bc := r.Conditions.BudgetChange; bc != nil {
		if !ValidBudgetOperator(bc.Operator) {
			v.add("conditions.budgetChange.operator must be greater_than, less_than or equals, got %q", bc.Operator)
		}
		if !finite(bc.Value) || bc.Value < 0 {
			v.add("conditions.budgetChange.value must be a non-negative number")
		}
	}

	if !r.hasTargets() {
		v.add("at least one of slackChannel, emailRecipients or webhookUrl is required")
	}
	for _, addr := range r.EmailRecipients {
		if _, err := mail.ParseAddress(addr); err != nil {
			v.add("emailRecipients: invalid address %q", addr)
		}
	}
	if r.WebhookURL != "" && !validHTTPURL(r.WebhookURL) {
		v.add("webhookUrl must be an absolute http(s) URL")
	}
	return v.err()
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
