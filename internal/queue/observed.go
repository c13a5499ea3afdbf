package queue

import (
	"fmt"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/obs"
)

// meteredPublisher reports every nsqd round-trip of change messages to
// obs.Stats, labelled by topic.
type meteredPublisher struct {
	inner Publisher
	stats *obs.Stats
	now   func() time.Time
}

// WithMetrics wraps p so the ingest path is visible on /metrics. A nil stats
// returns p unchanged.
func WithMetrics(p Publisher, stats *obs.Stats) Publisher {
	if p == nil || stats == nil {
		return p
	}
	if _, ok := p.(*meteredPublisher); ok {
		return p
	}
	return &meteredPublisher{inner: p, stats: stats, now: time.Now}
}

func (p *meteredPublisher) Publish(topic string, body []byte) error {
	start := p.now()
	err := p.inner.Publish(topic, body)
	p.stats.ObservePublish(topic, 1, len(body), p.now().Sub(start), err)
	return err
}

// MultiPublish sends an array submission in one round-trip when the wrapped
// publisher batches. Otherwise bodies go one at a time and the first failure
// names how many were already accepted.
func (p *meteredPublisher) MultiPublish(topic string, bodies [][]byte) error {
	bp, ok := p.inner.(BatchPublisher)
	if !ok {
		for i, b := range bodies {
			if err := p.Publish(topic, b); err != nil {
				return fmt.Errorf("publish change %d of %d (%d accepted): %w", i+1, len(bodies), i, err)
			}
		}
		return nil
	}
	size := 0
	for _, b := range bodies {
		size += len(b)
	}
	start := p.now()
	err := bp.MultiPublish(topic, bodies)
	p.stats.ObservePublish(topic, len(bodies), size, p.now().Sub(start), err)
	return err
}

func (p *meteredPublisher) Ping() error {
	if pg, ok := p.inner.(Pinger); ok {
		return pg.Ping()
	}
	return nil
}
