package consumer

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrBatcherClosed = errors.New("batcher closed")

type flushFunc[T any] func(ctx context.Context, items []T) error

type pending[T any] struct {
	item T
	done chan error
}

// Batcher groups concurrent Add calls into one flush. Each Add blocks until
// the batch holding its item has been flushed and returns that flush's error.
type Batcher[T any] struct {
	maxSize       int
	flushInterval time.Duration
	flushTimeout  time.Duration
	flushFn       flushFunc[T]

	in     chan pending[T]
	stopCh chan struct{}
	doneCh chan struct{}

	closeOnce sync.Once
}

func NewBatcher[T any](maxSize int, flushInterval, flushTimeout time.Duration, flush flushFunc[T]) *Batcher[T] {
	if flush == nil {
		panic("nil flush func")
	}
	b := &Batcher[T]{
		maxSize:       maxSize,
		flushInterval: flushInterval,
		flushTimeout:  flushTimeout,
		flushFn:       flush,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	if b.maxSize <= 0 {
		b.maxSize = 200
	}
	if b.flushInterval <= 0 {
		b.flushInterval = 50 * time.Millisecond
	}
	if b.flushTimeout <= 0 {
		b.flushTimeout = 5 * time.Second
	}
	b.in = make(chan pending[T], b.maxSize*2)
	go b.loop()
	return b
}

// Close flushes whatever is queued and stops the loop. It is safe to call
// more than once.
func (b *Batcher[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() { close(b.stopCh) })
	<-b.doneCh
}

func (b *Batcher[T]) Add(item T) error {
	if b == nil {
		return ErrBatcherClosed
	}
	p := pending[T]{item: item, done: make(chan error, 1)}

	select {
	case <-b.stopCh:
		return ErrBatcherClosed
	case b.in <- p:
	}

	select {
	case err := <-p.done:
		return err
	case <-b.doneCh:
		// The loop may have answered just before exiting.
		select {
		case err := <-p.done:
			return err
		default:
			return ErrBatcherClosed
		}
	}
}

func (b *Batcher[T]) flush(batch []pending[T]) {
	if len(batch) == 0 {
		return
	}
	rows := make([]T, len(batch))
	for i, p := range batch {
		rows[i] = p.item
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.flushTimeout)
	err := b.flushFn(ctx, rows)
	cancel()
	for _, p := range batch {
		p.done <- err
	}
}

func (b *Batcher[T]) loop() {
	defer close(b.doneCh)

	var (
		batch []pending[T]
		timer *time.Timer
		tick  <-chan time.Time
	)
	reset := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, tick = nil, nil
		b.flush(batch)
		batch = nil
	}

	for {
		select {
		case p := <-b.in:
			batch = append(batch, p)
			if len(batch) == 1 {
				timer = time.NewTimer(b.flushInterval)
				tick = timer.C
			}
			if len(batch) >= b.maxSize {
				reset()
			}
		case <-tick:
			reset()
		case <-b.stopCh:
			for {
				select {
				case p := <-b.in:
					batch = append(batch, p)
				default:
					reset()
					return
				}
			}
		}
	}
}
