package alert

import "time"

type Platform string

const (
	PlatformMeta   Platform = "meta"
	PlatformGoogle Platform = "google"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Priority is informational only; it never affects matching or dispatch.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

type BudgetOperator string

const (
	OpGreaterThan BudgetOperator = "greater_than"
	OpLessThan    BudgetOperator = "less_than"
	OpEquals      BudgetOperator = "equals"
)

type DigestMode string

const (
	DigestNone   DigestMode = "none"
	DigestHourly DigestMode = "hourly"
	DigestDaily  DigestMode = "daily"
)

// ChangeEvent is a detected modification of an ad-platform resource.
// Producers create it once; nothing downstream mutates it.
type ChangeEvent struct {
	ID             string         `json:"id,omitempty"`
	OrganizationID string         `json:"organizationId,omitempty"`
	Platform       Platform       `json:"platform"`
	AdAccountID    string         `json:"adAccountId"`
	ChangeType     string         `json:"changeType"`
	ResourceType   string         `json:"resourceType"`
	ResourceID     string         `json:"resourceId,omitempty"`
	ResourceName   string         `json:"resourceName,omitempty"`
	Severity       Severity       `json:"severity"`
	BeforeValue    map[string]any `json:"beforeValue,omitempty"`
	AfterValue     map[string]any `json:"afterValue,omitempty"`
	DetectedAt     time.Time      `json:"detectedAt"`
}

type BudgetChange struct {
	Operator BudgetOperator `json:"operator"`
	Value    float64        `json:"value"`
}

// RuleConditions is a conjunction of optional predicates. An empty or nil
// field leaves that dimension unconstrained.
type RuleConditions struct {
	Platforms     []Platform    `json:"platforms,omitempty"`
	AdAccountIDs  []string      `json:"adAccountIds,omitempty"`
	ChangeTypes   []string      `json:"changeTypes,omitempty"`
	ResourceTypes []string      `json:"resourceTypes,omitempty"`
	Severity      []Severity    `json:"severity,omitempty"`
	BudgetChange  *BudgetChange `json:"budgetChange,omitempty"`
	StatusChanges []string      `json:"statusChanges,omitempty"`
}

// Rule is the evaluated form of a persisted notification rule.
type Rule struct {
	ID             int
	OrganizationID string
	Name           string
	IsActive       bool
	Priority       Priority
	Conditions     RuleConditions

	SlackChannel    string
	EmailRecipients []string
	WebhookURL      string

	QuietHoursStart    string
	QuietHoursEnd      string
	QuietHoursTimezone string

	DigestMode DigestMode
	DigestTime string
}

func (r Rule) digesting() bool {
	return r.DigestMode == DigestHourly || r.DigestMode == DigestDaily
}

func (r Rule) hasTargets() bool {
	return r.SlackChannel != "" || len(r.EmailRecipients) > 0 || r.WebhookURL != ""
}

func ValidPlatform(p Platform) bool {
	return p == PlatformMeta || p == PlatformGoogle
}

func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

func ValidDigestMode(m DigestMode) bool {
	switch m {
	case "", DigestNone, DigestHourly, DigestDaily:
		return true
	}
	return false
}

func ValidBudgetOperator(op BudgetOperator) bool {
	switch op {
	case OpGreaterThan, OpLessThan, OpEquals:
		return true
	}
	return false
}
