package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/obs"
	"github.com/dhegstad/AdsX-sub003/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DigestWorker releases buffered digest entries once a rule's hourly or
// daily boundary has passed since its last flush.
type DigestWorker struct {
	DB       *gorm.DB
	Digests  DigestStore
	Logger   *zap.Logger
	Stats    *obs.Stats
	Now      func() time.Time
	Interval time.Duration
}

func NewDigestWorker(db *gorm.DB, digests DigestStore, log *zap.Logger, stats *obs.Stats) *DigestWorker {
	if log == nil {
		log = zap.NewNop()
	}
	return &DigestWorker{
		DB:       db,
		Digests:  digests,
		Logger:   log.Named("digest"),
		Stats:    stats,
		Now:      time.Now,
		Interval: 30 * time.Second,
	}
}

func (w *DigestWorker) Run(ctx context.Context) error {
	if w == nil || w.DB == nil || w.Digests == nil {
		return nil
	}
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		if _, err := w.FlushDue(ctx); err != nil && ctx.Err() == nil {
			w.Logger.Warn("flush digests", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// FlushDue checks every active digest rule and returns how many digests were
// emitted. A failure on one rule is logged and does not stop the others.
func (w *DigestWorker) FlushDue(ctx context.Context) (int, error) {
	rows, err := store.ListDigestRules(ctx, w.DB)
	if err != nil {
		return 0, fmt.Errorf("list digest rules: %w", err)
	}
	now := w.Now()
	emitted := 0
	for _, row := range rows {
		rule, err := RuleFromModel(row)
		if err != nil {
			w.Logger.Error("decode digest rule", zap.Int("rule_id", row.ID), zap.Error(err))
			continue
		}
		sent, err := w.FlushRule(ctx, rule, now, false)
		if err != nil {
			w.Stats.ObserveRuleError()
			w.Logger.Error("flush digest", zap.Int("rule_id", rule.ID), zap.Error(err))
			continue
		}
		if sent {
			emitted++
		}
	}
	return emitted, nil
}

// FlushRule drains the rule's buffer when a boundary has passed since the
// last recorded flush, or unconditionally when force is set. A rule seen
// for the first time only gets its cursor initialized. It reports whether a
// digest notification was enqueued.
func (w *DigestWorker) FlushRule(ctx context.Context, rule Rule, now time.Time, force bool) (bool, error) {
	if !rule.digesting() {
		return false, nil
	}
	if !force {
		run, found, err := store.GetDigestRun(ctx, w.DB, rule.ID)
		if err != nil {
			return false, err
		}
		if !found {
			return false, store.MarkDigestRun(ctx, w.DB, rule.ID, string(rule.DigestMode), now, 0)
		}
		if !DigestDue(rule, run.LastFlushedAt, now) {
			return false, nil
		}
	}

	entries, err := w.drain(ctx, rule)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, store.MarkDigestRun(ctx, w.DB, rule.ID, string(rule.DigestMode), now, 0)
	}

	rows := buildDeliveries(rule, formatDigest(rule, rule.DigestMode, entries), now)
	if len(rows) > 0 {
		if err := store.InsertDeliveries(ctx, w.DB, rows); err != nil {
			w.restore(ctx, rule, entries)
			return false, fmt.Errorf("enqueue digest deliveries: %w", err)
		}
	} else {
		w.Logger.Warn("digest rule has no delivery targets", zap.Int("rule_id", rule.ID), zap.Int("entries", len(entries)))
	}
	w.Stats.ObserveDigestFlushed(string(rule.DigestMode), len(entries))
	w.Logger.Info("digest flushed",
		zap.Int("rule_id", rule.ID),
		zap.String("mode", string(rule.DigestMode)),
		zap.Int("entries", len(entries)),
		zap.Int("deliveries", len(rows)))

	if err := store.MarkDigestRun(ctx, w.DB, rule.ID, string(rule.DigestMode), now, len(entries)); err != nil {
		return len(rows) > 0, err
	}
	return len(rows) > 0, nil
}

// Retire releases what prev buffered once the rule stops digesting or is
// deactivated, since FlushDue no longer visits it. The digest goes to prev's
// targets. It returns how many entries were released.
func (w *DigestWorker) Retire(ctx context.Context, prev Rule) (int, error) {
	if w == nil || w.Digests == nil || !prev.digesting() {
		return 0, nil
	}
	n, err := PendingDigest(ctx, w.Digests, prev.ID)
	if err != nil || n == 0 {
		return 0, err
	}
	if _, err := w.FlushRule(ctx, prev, w.Now(), true); err != nil {
		return 0, err
	}
	w.Logger.Info("digest retired", zap.Int("rule_id", prev.ID), zap.Int("entries", n))
	return n, nil
}

// drain empties the buffer for the rule's current mode and for the other
// digest mode, so entries queued before a mode change are not stranded.
func (w *DigestWorker) drain(ctx context.Context, rule Rule) ([]DigestEntry, error) {
	other := DigestDaily
	if rule.DigestMode == DigestDaily {
		other = DigestHourly
	}
	stale, err := w.Digests.Drain(ctx, DigestKey{RuleID: rule.ID, Mode: other})
	if err != nil {
		return nil, err
	}
	cur, err := w.Digests.Drain(ctx, DigestKey{RuleID: rule.ID, Mode: rule.DigestMode})
	if err != nil {
		w.restore(ctx, rule, stale)
		return nil, err
	}
	return append(stale, cur...), nil
}

func (w *DigestWorker) restore(ctx context.Context, rule Rule, entries []DigestEntry) {
	key := DigestKey{RuleID: rule.ID, Mode: rule.DigestMode}
	for _, e := range entries {
		if err := w.Digests.Append(ctx, key, e); err != nil {
			w.Logger.Error("restore digest entry", zap.Int("rule_id", rule.ID), zap.String("event_id", e.Event.ID), zap.Error(err))
		}
	}
}

// PendingDigest reports buffered entries for a rule across both modes.
func PendingDigest(ctx context.Context, digests DigestStore, ruleID int) (int, error) {
	total := 0
	for _, m := range []DigestMode{DigestHourly, DigestDaily} {
		n, err := digests.Len(ctx, DigestKey{RuleID: ruleID, Mode: m})
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
