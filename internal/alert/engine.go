package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/model"
	"github.com/dhegstad/AdsX-sub003/internal/obs"
	"github.com/dhegstad/AdsX-sub003/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Engine evaluates one change event against every active rule of its
// organization and acts on each dispatch decision.
type Engine struct {
	DB          *gorm.DB
	Digests     DigestStore
	Matcher     Matcher
	Logger      *zap.Logger
	Stats       *obs.Stats
	Now         func() time.Time
	Concurrency int
}

func NewEngine(db *gorm.DB, digests DigestStore, log *zap.Logger, stats *obs.Stats) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		DB:          db,
		Digests:     digests,
		Logger:      log.Named("engine"),
		Stats:       stats,
		Now:         time.Now,
		Concurrency: 8,
	}
}

// RuleOutcome is what happened for one rule. Err is set when handling that
// rule failed; other rules are unaffected.
type RuleOutcome struct {
	RuleID     int      `json:"ruleId"`
	RuleName   string   `json:"ruleName"`
	Matched    bool     `json:"matched"`
	Decision   Decision `json:"decision"`
	Deliveries int      `json:"deliveries,omitempty"`
	Err        error    `json:"-"`
}

type Result struct {
	EventID  string        `json:"eventId"`
	Outcomes []RuleOutcome `json:"outcomes"`
}

func (r Result) Matched() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Matched {
			n++
		}
	}
	return n
}

// Err joins the per-rule failures, or returns nil.
func (r Result) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return errors.Join(errs...)
}

// Evaluate returns an error only when the rule set could not be loaded. A
// failure while handling an individual rule is recorded in its outcome.
func (e *Engine) Evaluate(ctx context.Context, ev ChangeEvent) (Result, error) {
	res := Result{EventID: ev.ID}
	if e == nil || e.DB == nil {
		return res, nil
	}
	rows, err := store.ListActiveRules(ctx, e.DB, ev.OrganizationID)
	if err != nil {
		return res, fmt.Errorf("load rules for org %s: %w", ev.OrganizationID, err)
	}
	e.Stats.ObserveEvaluation()

	now := e.now()
	res.Outcomes = make([]RuleOutcome, len(rows))

	limit := e.Concurrency
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i := range rows {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			res.Outcomes[i] = e.apply(ctx, rows[i], ev, now)
		}(i)
	}
	wg.Wait()

	log := e.logger()
	for _, o := range res.Outcomes {
		if o.Err != nil {
			e.Stats.ObserveRuleError()
			log.Error("rule handling failed",
				zap.Int("rule_id", o.RuleID),
				zap.String("event_id", ev.ID),
				zap.Error(o.Err))
		}
	}
	log.Debug("event evaluated",
		zap.String("event_id", ev.ID),
		zap.String("org", ev.OrganizationID),
		zap.Int("rules", len(rows)),
		zap.Int("matched", res.Matched()))
	return res, nil
}

func (e *Engine) apply(ctx context.Context, row model.NotificationRule, ev ChangeEvent, now time.Time) (out RuleOutcome) {
	out = RuleOutcome{RuleID: row.ID, RuleName: row.Name}
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("rule %d: panic: %v", row.ID, r)
		}
	}()

	rule, err := RuleFromModel(row)
	if err != nil {
		out.Err = err
		return out
	}
	matched, decision := Preview(e.Matcher, rule, ev, now)
	if !matched {
		return out
	}
	out.Matched = true
	out.Decision = decision
	e.Stats.ObserveDecision(string(decision.Action))

	switch decision.Action {
	case ActionEnqueueForDigest:
		if e.Digests == nil {
			out.Err = fmt.Errorf("rule %d: no digest store configured", rule.ID)
			return out
		}
		key := DigestKey{RuleID: rule.ID, Mode: decision.DigestMode}
		if err := e.Digests.Append(ctx, key, DigestEntry{Event: ev, EnqueuedAt: now}); err != nil {
			out.Err = fmt.Errorf("rule %d: enqueue digest: %w", rule.ID, err)
			return out
		}
		e.Stats.ObserveDigestEnqueued(string(decision.DigestMode))
	case ActionDeliverImmediately:
		rows := buildDeliveries(rule, formatSingle(rule, ev), now)
		if len(rows) == 0 {
			e.logger().Warn("matched rule has no delivery targets", zap.Int("rule_id", rule.ID))
			return out
		}
		if err := store.InsertDeliveries(ctx, e.DB, rows); err != nil {
			out.Err = fmt.Errorf("rule %d: enqueue deliveries: %w", rule.ID, err)
			return out
		}
		out.Deliveries = len(rows)
	case ActionSuppress:
		e.logger().Debug("suppressed by quiet hours",
			zap.Int("rule_id", rule.ID),
			zap.String("event_id", ev.ID))
	}
	return out
}

// Preview runs the matcher and dispatch policy without side effects.
func Preview(m Matcher, rule Rule, ev ChangeEvent, now time.Time) (bool, Decision) {
	if !m.Matches(rule.Conditions, ev) {
		return false, Decision{}
	}
	return true, DecideDispatch(rule, ev, now)
}

// buildDeliveries fans one notification out to every target of the rule.
func buildDeliveries(rule Rule, n notification, now time.Time) []model.NotificationDelivery {
	out := make([]model.NotificationDelivery, 0, 2+len(rule.EmailRecipients))
	add := func(channel, target string) {
		var key *uuid.UUID
		if n.EventID != "" {
			k := deliveryKey(n.EventID, rule.ID, channel, target)
			key = &k
		}
		out = append(out, model.NotificationDelivery{
			OrganizationID: rule.OrganizationID,
			RuleID:         rule.ID,
			ChannelType:    channel,
			Target:         target,
			Kind:           n.Kind,
			EventCount:     n.Count,
			Title:          n.Title,
			Content:        n.Content,
			Payload:        datatypes.JSON(n.Payload),
			Status:         store.DeliveryPending,
			NextAttemptAt:  now.UTC(),
			DedupeKey:      key,
		})
	}
	if rule.SlackChannel != "" {
		add(ChannelSlack, rule.SlackChannel)
	}
	seen := make(map[string]struct{}, len(rule.EmailRecipients))
	for _, to := range rule.EmailRecipients {
		if to == "" {
			continue
		}
		if _, dup := seen[to]; dup {
			continue
		}
		seen[to] = struct{}{}
		add(ChannelEmail, to)
	}
	if rule.WebhookURL != "" {
		add(ChannelWebhook, rule.WebhookURL)
	}
	return out
}

var deliveryNamespace = uuid.MustParse("6f1c2a4e-8d3b-5e7a-9c41-2b8d7e0f3a65")

// deliveryKey names one (event, rule, target) send so a re-evaluated event
// does not enqueue it twice.
func deliveryKey(eventID string, ruleID int, channel, target string) uuid.UUID {
	return uuid.NewSHA1(deliveryNamespace, []byte(fmt.Sprintf("%s|%d|%s|%s", eventID, ruleID, channel, target)))
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}
