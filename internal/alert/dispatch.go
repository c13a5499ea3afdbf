package alert

import (
	"fmt"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"
)

type Action string

const (
	ActionDeliverImmediately Action = "deliver_immediately"
	ActionEnqueueForDigest   Action = "enqueue_for_digest"
	ActionSuppress           Action = "suppress"
)

// Decision is the dispatch outcome for one matched (rule, event) pair.
// RuleID and DigestMode are set only for ActionEnqueueForDigest.
type Decision struct {
	Action     Action     `json:"action"`
	RuleID     int        `json:"ruleId,omitempty"`
	DigestMode DigestMode `json:"digestMode,omitempty"`
}

// DecideDispatch picks how a matched rule fires at now. Digest rules always
// enqueue, quiet hours drop the event, everything else is delivered at once.
func DecideDispatch(rule Rule, _ ChangeEvent, now time.Time) Decision {
	if rule.digesting() {
		return Decision{Action: ActionEnqueueForDigest, RuleID: rule.ID, DigestMode: rule.DigestMode}
	}
	if InQuietHours(rule, now) {
		return Decision{Action: ActionSuppress}
	}
	return Decision{Action: ActionDeliverImmediately}
}

// InQuietHours reports whether now falls in the rule's [start, end) window,
// evaluated in the rule's timezone. A window with end before start wraps
// across midnight; start == end is empty.
func InQuietHours(rule Rule, now time.Time) bool {
	start, ok := parseClock(rule.QuietHoursStart)
	if !ok {
		return false
	}
	end, ok := parseClock(rule.QuietHoursEnd)
	if !ok {
		return false
	}
	if start == end {
		return false
	}

	local := now.In(loadLocation(rule.QuietHoursTimezone))
	cur := local.Hour()*60 + local.Minute()
	if start < end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

// parseClock parses "HH:MM" (seconds, if present, are ignored) into minutes
// after midnight.
func parseClock(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	var h, m int
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &h, &m); err != nil {
		return 0, false
	}
	if len(parts[0]) > 2 || len(parts[1]) != 2 {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// ValidClock reports whether s is a usable "HH:MM" time of day.
func ValidClock(s string) bool {
	_, ok := parseClock(s)
	return ok
}

var locations sync.Map // tz name -> *time.Location

// loadLocation resolves an IANA zone name, falling back to UTC.
func loadLocation(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC
	}
	if v, ok := locations.Load(name); ok {
		return v.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locations.Store(name, loc)
	return loc
}

// ValidTimezone reports whether name resolves to a real zone.
func ValidTimezone(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return true
	}
	_, err := time.LoadLocation(name)
	return err == nil
}
