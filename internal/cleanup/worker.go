package cleanup

import (
	"context"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/obs"
	"github.com/dhegstad/AdsX-sub003/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Worker purges old change events and finished outbox rows in bounded
// batches so a large backlog never holds one long transaction.
type Worker struct {
	DB              *gorm.DB
	Interval        time.Duration
	ChangeRetention time.Duration
	OutboxRetention time.Duration
	DeleteBatchSize int
	MaxBatches      int
	BatchSleep      time.Duration
	Stats           *obs.Stats
	Logger          *zap.Logger
	Now             func() time.Time
}

func NewWorker(db *gorm.DB, changeDays, deliveryDays int, log *zap.Logger, stats *obs.Stats) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		DB:              db,
		Interval:        time.Hour,
		ChangeRetention: days(changeDays),
		OutboxRetention: days(deliveryDays),
		DeleteBatchSize: 5000,
		MaxBatches:      50,
		Stats:           stats,
		Logger:          log.Named("cleanup"),
		Now:             time.Now,
	}
}

func days(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * 24 * time.Hour
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.DB == nil {
		return
	}
	interval := w.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	w.runAndLog(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runAndLog(ctx)
		}
	}
}

func (w *Worker) runAndLog(ctx context.Context) {
	changes, deliveries, err := w.RunOnce(ctx)
	if err != nil && ctx.Err() == nil {
		w.Logger.Warn("retention run failed", zap.Error(err))
		return
	}
	if changes > 0 || deliveries > 0 {
		w.Logger.Info("retention run",
			zap.Int64("change_events", changes),
			zap.Int64("deliveries", deliveries))
	}
}

// RunOnce applies both retention windows once and returns how many rows of
// each kind were deleted. A zero retention disables that purge.
func (w *Worker) RunOnce(ctx context.Context) (changes, deliveries int64, err error) {
	now := time.Now().UTC()
	if w.Now != nil {
		now = w.Now().UTC()
	}
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	if w.ChangeRetention > 0 {
		changes, err = w.purge(runCtx, now.Add(-w.ChangeRetention), store.DeleteChangeEventsBeforeBatched)
		w.Stats.ObserveCleanupDeleted(changes, 0)
		if err != nil {
			return changes, 0, err
		}
	}
	if w.OutboxRetention > 0 {
		deliveries, err = w.purge(runCtx, now.Add(-w.OutboxRetention), store.DeleteFinishedDeliveriesBeforeBatched)
		w.Stats.ObserveCleanupDeleted(0, deliveries)
		if err != nil {
			return changes, deliveries, err
		}
	}
	return changes, deliveries, nil
}

type batchDelete func(ctx context.Context, db *gorm.DB, before time.Time, batchSize int) (int64, error)

func (w *Worker) purge(ctx context.Context, before time.Time, del batchDelete) (int64, error) {
	maxBatches := w.MaxBatches
	if maxBatches <= 0 {
		maxBatches = 1
	}
	batchSize := w.DeleteBatchSize
	if batchSize <= 0 {
		batchSize = 5000
	}

	var total int64
	for i := 0; i < maxBatches; i++ {
		n, err := del(ctx, w.DB, before, batchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(batchSize) {
			break
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		if w.BatchSleep > 0 {
			time.Sleep(w.BatchSleep)
		}
	}
	return total, nil
}
