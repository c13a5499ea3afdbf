package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
	"github.com/dhegstad/AdsX-sub003/internal/config"
	"github.com/dhegstad/AdsX-sub003/internal/ingest"
	"github.com/dhegstad/AdsX-sub003/internal/logging"
	"github.com/dhegstad/AdsX-sub003/internal/model"
	"github.com/dhegstad/AdsX-sub003/internal/obs"
	"github.com/dhegstad/AdsX-sub003/internal/store"
	"github.com/nsqio/go-nsq"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Evaluator runs the rule engine for one persisted change event.
type Evaluator interface {
	Evaluate(ctx context.Context, ev alert.ChangeEvent) (alert.Result, error)
}

type NSQConsumer struct {
	consumer *nsq.Consumer
	onStop   []func()
}

// ChangeHandler persists change events and evaluates them. It is the body of
// the NSQ consumer and of the inline publisher used by tests.
type ChangeHandler struct {
	db      *gorm.DB
	batcher *Batcher[model.ChangeEvent]
	engine  Evaluator
	log     *zap.Logger
	stats   *obs.Stats
	timeout time.Duration
}

func NewChangeHandler(cfg config.Config, db *gorm.DB, engine Evaluator, log *zap.Logger, stats *obs.Stats) *ChangeHandler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &ChangeHandler{
		db:      db,
		engine:  engine,
		log:     log.Named("consumer"),
		stats:   stats,
		timeout: 30 * time.Second,
	}
	h.batcher = NewBatcher[model.ChangeEvent](cfg.ChangeBatchSize, cfg.ChangeFlushInterval, 5*time.Second, func(ctx context.Context, rows []model.ChangeEvent) error {
		start := time.Now()
		err := store.InsertChangeEventsBatch(ctx, db, rows)
		stats.ObserveDBFlush(len(rows), time.Since(start), err)
		return err
	})
	return h
}

func (h *ChangeHandler) Close() {
	if h != nil {
		h.batcher.Close()
	}
}

// Handle processes one queue body. Malformed or invalid messages are dropped
// (nil). A persistence failure or an unreadable rule set returns an error so
// the message is requeued. An event already marked evaluated is persisted
// idempotently and not evaluated again.
func (h *ChangeHandler) Handle(ctx context.Context, body []byte) error {
	start := time.Now()
	err := h.handle(ctx, body)
	h.stats.ObserveConsumerMessage(time.Since(start), err)
	return err
}

func (h *ChangeHandler) handle(ctx context.Context, body []byte) error {
	msg, err := ingest.DecodeChange(body)
	if err != nil {
		h.log.Warn("drop malformed message", zap.Error(err))
		return nil
	}
	ev := msg.Event
	received := msg.Received
	if received.IsZero() {
		received = time.Now()
	}
	alert.NormalizeEvent(&ev, received)
	if err := alert.ValidateEvent(ev); err != nil {
		h.log.Warn("drop invalid change event", zap.String("event_id", ev.ID), zap.Error(err))
		return nil
	}

	row, err := alert.EventToModel(ev)
	if err != nil {
		h.log.Warn("drop unconvertible change event", zap.String("event_id", ev.ID), zap.Error(err))
		return nil
	}
	if err := h.batcher.Add(row); err != nil {
		return fmt.Errorf("persist change %s: %w", ev.ID, err)
	}

	if h.engine == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if h.db != nil {
		done, err := store.ChangeEventEvaluated(ctx, h.db, row.ID)
		if err != nil {
			return fmt.Errorf("check change %s: %w", ev.ID, err)
		}
		if done {
			h.stats.ObserveRedelivery()
			h.log.Debug("skip redelivered change", zap.String("event_id", ev.ID))
			return nil
		}
	}
	res, err := h.engine.Evaluate(ctx, ev)
	if err != nil {
		return err
	}
	if rerr := res.Err(); rerr != nil {
		h.log.Warn("some rules failed", zap.String("event_id", ev.ID), zap.Error(rerr))
	}
	if h.db != nil {
		// A failed mark only risks a re-evaluation; outbox rows are keyed.
		if err := store.MarkChangeEventEvaluated(ctx, h.db, row.ID, time.Now()); err != nil {
			h.log.Warn("mark change evaluated", zap.String("event_id", ev.ID), zap.Error(err))
		}
	}
	return nil
}

// HandleMessage implements nsq.Handler.
func (h *ChangeHandler) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}
	return h.Handle(context.Background(), m.Body)
}

// LogFailedMessage is called by go-nsq once a message exceeds MaxAttempts.
func (h *ChangeHandler) LogFailedMessage(m *nsq.Message) {
	h.log.Error("giving up on change message",
		zap.String("nsq_id", string(m.ID[:])),
		zap.Uint16("attempts", m.Attempts),
		zap.ByteString("body", m.Body))
}

func NewNSQChangeConsumer(ctx context.Context, cfg config.Config, handler *ChangeHandler, log *zap.Logger) (*NSQConsumer, error) {
	if handler == nil {
		return nil, errors.New("nil change handler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	topic := cfg.NSQChangeTopic
	if topic == "" {
		topic = "ad-changes"
	}
	channel := cfg.NSQChangeChannel
	if channel == "" {
		channel = "rule-engine"
	}

	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = 200
	if cfg.NSQMaxInFlight > 0 {
		nsqCfg.MaxInFlight = cfg.NSQMaxInFlight
	}
	nsqCfg.MsgTimeout = 60 * time.Second
	nsqCfg.MaxAttempts = 10
	cons, err := nsq.NewConsumer(topic, channel, nsqCfg)
	if err != nil {
		return nil, err
	}
	cons.SetLogger(logging.NewNSQLogger(log.Named("nsq.consumer")), logging.NSQLevel(log))
	concurrency := cfg.NSQConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	cons.AddConcurrentHandlers(handler, concurrency)

	if err := connectToNSQDWithRetry(ctx, cons, cfg.NSQDAddress, topic, channel, log); err != nil {
		cons.Stop()
		return nil, err
	}
	return &NSQConsumer{consumer: cons, onStop: []func(){handler.Close}}, nil
}

func (c *NSQConsumer) Stop() {
	if c == nil || c.consumer == nil {
		return
	}
	c.consumer.Stop()
	<-c.consumer.StopChan
	for _, fn := range c.onStop {
		if fn != nil {
			fn()
		}
	}
}

func connectToNSQDWithRetry(ctx context.Context, cons *nsq.Consumer, addr, topic, channel string, log *zap.Logger) error {
	const (
		totalWait = 2 * time.Minute
		maxDelay  = 5 * time.Second
	)
	deadline := time.Now().Add(totalWait)
	delay := 300 * time.Millisecond

	for {
		err := cons.ConnectToNSQD(addr)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("connect nsqd addr=%s topic=%s channel=%s: %w", addr, topic, channel, err)
		}
		log.Warn("nsq connect failed, retrying",
			zap.String("addr", addr),
			zap.String("topic", topic),
			zap.String("channel", channel),
			zap.Duration("delay", delay),
			zap.Error(err))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, maxDelay)
	}
}
