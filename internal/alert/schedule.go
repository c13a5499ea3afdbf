package alert

import "time"

const defaultDigestTime = "09:00"

// DigestBoundary returns the most recent release instant at or before now for
// a digesting rule: the top of the current clock hour for hourly digests, or
// the latest occurrence of DigestTime for daily digests. Both are computed in
// the rule's quiet-hours timezone (UTC when unset or invalid).
func DigestBoundary(rule Rule, now time.Time) (time.Time, bool) {
	loc := loadLocation(rule.QuietHoursTimezone)
	local := now.In(loc)

	switch rule.DigestMode {
	case DigestHourly:
		return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc), true
	case DigestDaily:
		mins, ok := parseClock(rule.DigestTime)
		if !ok {
			mins, _ = parseClock(defaultDigestTime)
		}
		b := time.Date(local.Year(), local.Month(), local.Day(), mins/60, mins%60, 0, 0, loc)
		if b.After(local) {
			b = time.Date(local.Year(), local.Month(), local.Day()-1, mins/60, mins%60, 0, 0, loc)
		}
		return b, true
	default:
		return time.Time{}, false
	}
}

// NextDigestAt returns the first release instant strictly after now.
func NextDigestAt(rule Rule, now time.Time) (time.Time, bool) {
	b, ok := DigestBoundary(rule, now)
	if !ok {
		return time.Time{}, false
	}
	switch rule.DigestMode {
	case DigestHourly:
		return b.Add(time.Hour), true
	default:
		return time.Date(b.Year(), b.Month(), b.Day()+1, b.Hour(), b.Minute(), 0, 0, b.Location()), true
	}
}

// DigestDue reports whether a release boundary has passed since lastFlushed.
func DigestDue(rule Rule, lastFlushed, now time.Time) bool {
	b, ok := DigestBoundary(rule, now)
	if !ok {
		return false
	}
	return b.After(lastFlushed)
}
