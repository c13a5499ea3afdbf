package testkit

import (
	"context"
	"errors"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/consumer"
)

// InlinePublisher bypasses NSQ in tests: every published body goes straight
// through the consumer's change handler, so events are persisted and
// evaluated before Publish returns.
type InlinePublisher struct {
	Handler *consumer.ChangeHandler
}

func (p *InlinePublisher) Publish(_ string, body []byte) error {
	if p.Handler == nil {
		return errors.New("testkit: change handler is nil")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.Handler.Handle(ctx, body)
}

func (p *InlinePublisher) MultiPublish(topic string, bodies [][]byte) error {
	for _, b := range bodies {
		if err := p.Publish(topic, b); err != nil {
			return err
		}
	}
	return nil
}
