package alert

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	KindSingle = "single"
	KindDigest = "digest"
)

type notification struct {
	Title   string
	Content string
	Payload []byte
	Kind    string
	Count   int
	// EventID is set for single-event notifications and keys their outbox rows.
	EventID string
}

func resourceLabel(ev ChangeEvent) string {
	name := strings.TrimSpace(ev.ResourceName)
	if name == "" {
		name = strings.TrimSpace(ev.ResourceID)
	}
	if name == "" {
		return ev.ResourceType
	}
	return fmt.Sprintf("%s %q", ev.ResourceType, name)
}

// describeChange renders the before/after values that matter most to a
// reader: budget and status first, then any other changed keys.
func describeChange(ev ChangeEvent) string {
	keys := make(map[string]struct{})
	for k := range ev.BeforeValue {
		keys[k] = struct{}{}
	}
	for k := range ev.AfterValue {
		keys[k] = struct{}{}
	}
	if len(keys) == 0 {
		return ""
	}
	ordered := make([]string, 0, len(keys))
	for _, k := range []string{"budget", "status"} {
		if _, ok := keys[k]; ok {
			ordered = append(ordered, k)
			delete(keys, k)
		}
	}
	rest := make([]string, 0, len(keys))
	for k := range keys {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	parts := make([]string, 0, len(ordered))
	for _, k := range ordered {
		before, hasBefore := ev.BeforeValue[k]
		after, hasAfter := ev.AfterValue[k]
		switch {
		case hasBefore && hasAfter:
			parts = append(parts, fmt.Sprintf("%s: %v -> %v", k, before, after))
		case hasAfter:
			parts = append(parts, fmt.Sprintf("%s: %v", k, after))
		default:
			parts = append(parts, fmt.Sprintf("%s: %v (removed)", k, before))
		}
	}
	return strings.Join(parts, ", ")
}

func formatSingle(rule Rule, ev ChangeEvent) notification {
	title := fmt.Sprintf("[AdsX] %s: %s on %s", rule.Name, ev.ChangeType, resourceLabel(ev))

	var b strings.Builder
	fmt.Fprintf(&b, "severity=%s platform=%s account=%s\n", ev.Severity, ev.Platform, ev.AdAccountID)
	if d := describeChange(ev); d != "" {
		b.WriteString(d)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "detected at %s", ev.DetectedAt.UTC().Format(time.RFC3339))

	payload, _ := json.Marshal(map[string]any{
		"kind":           KindSingle,
		"organizationId": rule.OrganizationID,
		"ruleId":         rule.ID,
		"ruleName":       rule.Name,
		"priority":       rule.Priority,
		"title":          title,
		"event":          ev,
	})
	return notification{Title: title, Content: b.String(), Payload: payload, Kind: KindSingle, Count: 1, EventID: ev.ID}
}

// maxDigestLines caps the human-readable body; the payload always carries
// every event.
const maxDigestLines = 50

func formatDigest(rule Rule, mode DigestMode, entries []DigestEntry) notification {
	title := fmt.Sprintf("[AdsX] %s: %d changes (%s digest)", rule.Name, len(entries), mode)

	events := make([]ChangeEvent, 0, len(entries))
	bySeverity := map[Severity]int{}
	for _, e := range entries {
		events = append(events, e.Event)
		bySeverity[e.Event.Severity]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "critical=%d warning=%d info=%d\n",
		bySeverity[SeverityCritical], bySeverity[SeverityWarning], bySeverity[SeverityInfo])
	for i, ev := range events {
		if i == maxDigestLines {
			fmt.Fprintf(&b, "... and %d more\n", len(events)-maxDigestLines)
			break
		}
		fmt.Fprintf(&b, "- [%s] %s %s on %s", ev.Severity, ev.Platform, ev.ChangeType, resourceLabel(ev))
		if d := describeChange(ev); d != "" {
			fmt.Fprintf(&b, " (%s)", d)
		}
		b.WriteString("\n")
	}

	payload, _ := json.Marshal(map[string]any{
		"kind":           KindDigest,
		"organizationId": rule.OrganizationID,
		"ruleId":         rule.ID,
		"ruleName":       rule.Name,
		"priority":       rule.Priority,
		"digestMode":     mode,
		"count":          len(events),
		"title":          title,
		"events":         events,
	})
	return notification{
		Title:   title,
		Content: strings.TrimRight(b.String(), "\n"),
		Payload: payload,
		Kind:    KindDigest,
		Count:   len(events),
	}
}
