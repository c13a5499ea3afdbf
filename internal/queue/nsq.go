package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/logging"
	"github.com/nsqio/go-nsq"
	"go.uber.org/zap"
)

type NSQPublisher struct {
	producer *nsq.Producer
}

func NewNSQPublisher(nsqdAddress string, log *zap.Logger) (*NSQPublisher, error) {
	if nsqdAddress == "" {
		return nil, errors.New("nsqd address is empty")
	}
	cfg := nsq.NewConfig()
	cfg.DialTimeout = 2 * time.Second
	// go-nsq requires ReadTimeout > HeartbeatInterval (default heartbeat is 30s).
	cfg.ReadTimeout = 35 * time.Second
	cfg.WriteTimeout = 5 * time.Second
	producer, err := nsq.NewProducer(nsqdAddress, cfg)
	if err != nil {
		return nil, err
	}
	if log != nil {
		producer.SetLogger(logging.NewNSQLogger(log.Named("nsq.producer")), logging.NSQLevel(log))
	}
	return &NSQPublisher{producer: producer}, nil
}

func (p *NSQPublisher) Publish(topic string, body []byte) error {
	if !nsq.IsValidTopicName(topic) {
		return fmt.Errorf("invalid nsq topic %q", topic)
	}
	return p.producer.Publish(topic, body)
}

// MultiPublish sends all bodies in one MPUB frame; nsqd accepts or rejects
// them together.
func (p *NSQPublisher) MultiPublish(topic string, bodies [][]byte) error {
	if !nsq.IsValidTopicName(topic) {
		return fmt.Errorf("invalid nsq topic %q", topic)
	}
	if len(bodies) == 0 {
		return nil
	}
	return p.producer.MultiPublish(topic, bodies)
}

// Ping checks the nsqd connection; used by the readiness probe.
func (p *NSQPublisher) Ping() error {
	return p.producer.Ping()
}

func (p *NSQPublisher) Stop() {
	p.producer.Stop()
}
