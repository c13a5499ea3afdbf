package alert

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ruleLimiter caps outbound deliveries per rule so a noisy rule cannot flood
// its channels.
type ruleLimiter struct {
	mu         sync.Mutex
	limiters   map[int]*rate.Limiter
	lastAccess map[int]time.Time
	rate       rate.Limit
	burst      int
}

func newRuleLimiter(perMinute int) *ruleLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &ruleLimiter{
		limiters:   make(map[int]*rate.Limiter),
		lastAccess: make(map[int]time.Time),
		rate:       rate.Limit(float64(perMinute) / 60.0),
		burst:      max(1, perMinute/10),
	}
}

// Allow reports whether a delivery for ruleID may go out at now. A nil
// limiter allows everything.
func (l *ruleLimiter) Allow(ruleID int, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ruleID]
	if !ok {
		lim = rate.NewLimiter(l.rate, l.burst)
		l.limiters[ruleID] = lim
	}
	l.lastAccess[ruleID] = now
	return lim.AllowN(now, 1)
}

// Interval is the spacing between tokens.
func (l *ruleLimiter) Interval() time.Duration {
	if l == nil || l.rate <= 0 {
		return time.Second
	}
	return time.Duration(float64(time.Second) / float64(l.rate))
}

// Evict drops limiters idle for longer than maxAge.
func (l *ruleLimiter) Evict(now time.Time, maxAge time.Duration) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-maxAge)
	for id, last := range l.lastAccess {
		if last.Before(cutoff) {
			delete(l.limiters, id)
			delete(l.lastAccess, id)
		}
	}
}
