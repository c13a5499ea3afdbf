package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/config"
	"github.com/dhegstad/AdsX-sub003/internal/model"
	"github.com/dhegstad/AdsX-sub003/internal/obs"
	"github.com/dhegstad/AdsX-sub003/internal/store"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

const (
	ChannelSlack   = "slack"
	ChannelEmail   = "email"
	ChannelWebhook = "webhook"

	maxAttempts = 10
)

// Mailer is satisfied by *gomail.Dialer.
type Mailer interface {
	DialAndSend(m ...*gomail.Message) error
}

// Worker drains the delivery outbox. Each row is sent and recorded on its
// own; one failing target never blocks the others.
type Worker struct {
	DB         *gorm.DB
	HTTPClient *http.Client
	Mailer     Mailer
	Logger     *zap.Logger
	Stats      *obs.Stats
	Now        func() time.Time
	Config     config.Config

	limiter *ruleLimiter
}

func NewWorker(db *gorm.DB, cfg config.Config, log *zap.Logger, stats *obs.Stats) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Worker{
		DB:         db,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		Logger:     log.Named("delivery"),
		Stats:      stats,
		Now:        time.Now,
		Config:     cfg,
		limiter:    newRuleLimiter(cfg.DeliveryRatePerMinute),
	}
	if host := strings.TrimSpace(cfg.SMTPHost); host != "" {
		w.Mailer = gomail.NewDialer(host, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	return w
}

func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.DB == nil {
		return nil
	}
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	evict := time.NewTicker(10 * time.Minute)
	defer evict.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-evict.C:
			w.limiter.Evict(w.Now(), time.Hour)
		case <-t.C:
			if _, err := w.ProcessOnce(ctx, 50); err != nil && ctx.Err() == nil {
				w.Logger.Warn("process outbox", zap.Error(err))
			}
		}
	}
}

// ProcessOnce handles up to limit due rows and returns how many were
// attempted.
func (w *Worker) ProcessOnce(ctx context.Context, limit int) (int, error) {
	if w == nil || w.DB == nil {
		return 0, nil
	}
	now := w.Now().UTC()

	items, err := store.ListDueDeliveries(ctx, w.DB, now, limit)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, d := range items {
		if !w.limiter.Allow(d.RuleID, now) {
			if err := store.PostponeDelivery(ctx, w.DB, d.ID, now.Add(w.limiter.Interval())); err != nil {
				w.Logger.Warn("postpone delivery", zap.Int("delivery_id", d.ID), zap.Error(err))
			}
			continue
		}
		processed++

		start := time.Now()
		err := w.send(ctx, d)
		w.Stats.ObserveDelivery(d.ChannelType, time.Since(start), err)
		if err == nil {
			if uerr := store.MarkDeliverySent(ctx, w.DB, d.ID, now); uerr != nil {
				w.Logger.Warn("mark delivery sent", zap.Int("delivery_id", d.ID), zap.Error(uerr))
			}
			continue
		}

		attempts := d.Attempts + 1
		status := store.DeliveryPending
		next := now.Add(backoffDelay(attempts))
		if isPermanent(err) || attempts >= maxAttempts {
			status = store.DeliveryFailed
			next = now
		}
		w.Logger.Warn("delivery attempt failed",
			zap.Int("delivery_id", d.ID),
			zap.Int("rule_id", d.RuleID),
			zap.String("channel", d.ChannelType),
			zap.Int("attempt", attempts),
			zap.String("status", status),
			zap.Error(err))
		if uerr := store.MarkDeliveryAttempt(ctx, w.DB, d.ID, attempts, status, next, err.Error(), now); uerr != nil {
			w.Logger.Warn("record delivery attempt", zap.Int("delivery_id", d.ID), zap.Error(uerr))
		}
	}
	return processed, nil
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := 2 * time.Second
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > 30*time.Minute {
			return 30 * time.Minute
		}
	}
	return d
}

func (w *Worker) send(ctx context.Context, d model.NotificationDelivery) error {
	switch d.ChannelType {
	case ChannelSlack:
		return w.sendSlack(ctx, d.Target, d.Title, d.Content)
	case ChannelWebhook:
		return w.sendWebhook(ctx, d)
	case ChannelEmail:
		return w.sendEmail(d.Target, d.Title, d.Content)
	default:
		return permanent(fmt.Errorf("unknown channel_type=%q", d.ChannelType))
	}
}

// sendSlack posts to an incoming-webhook URL when the target is one,
// otherwise to chat.postMessage with the bot token.
func (w *Worker) sendSlack(ctx context.Context, target, title, content string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return permanent(errors.New("slack channel empty"))
	}
	text := "*" + title + "*\n" + content

	if strings.HasPrefix(target, "https://") || strings.HasPrefix(target, "http://") {
		body, _ := json.Marshal(map[string]any{"text": text})
		res, err := w.postJSON(ctx, target, body, nil)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		return classifyHTTP("slack webhook", res.StatusCode)
	}

	token := strings.TrimSpace(w.Config.SlackBotToken)
	if token == "" {
		return permanent(errors.New("SLACK_BOT_TOKEN not configured"))
	}
	apiURL := strings.TrimRight(w.Config.SlackAPIURL, "/")
	if apiURL == "" {
		apiURL = "https://slack.com/api"
	}
	body, _ := json.Marshal(map[string]any{
		"channel": target,
		"text":    text,
	})
	res, err := w.postJSON(ctx, apiURL+"/chat.postMessage", body, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if err := classifyHTTP("slack", res.StatusCode); err != nil {
		return err
	}
	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&resp); err != nil {
		return fmt.Errorf("slack decode response: %w", err)
	}
	if resp.OK {
		return nil
	}
	switch resp.Error {
	case "ratelimited", "service_unavailable", "fatal_error", "internal_error", "request_timeout":
		return fmt.Errorf("slack error=%s", resp.Error)
	default:
		return permanent(fmt.Errorf("slack error=%s", resp.Error))
	}
}

func (w *Worker) sendWebhook(ctx context.Context, d model.NotificationDelivery) error {
	urlStr := strings.TrimSpace(d.Target)
	if urlStr == "" {
		return permanent(errors.New("webhook url empty"))
	}
	payload := map[string]any{}
	if len(d.Payload) > 0 {
		if err := json.Unmarshal(d.Payload, &payload); err != nil {
			return permanent(fmt.Errorf("decode payload: %w", err))
		}
	}
	payload["deliveryId"] = d.ID
	payload["content"] = d.Content
	payload["sentAt"] = w.Now().UTC().Format(time.RFC3339Nano)
	body, err := json.Marshal(payload)
	if err != nil {
		return permanent(err)
	}

	res, err := w.postJSON(ctx, urlStr, body, nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	return classifyHTTP("webhook", res.StatusCode)
}

func (w *Worker) postJSON(ctx context.Context, urlStr string, body []byte, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, urlStr, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("User-Agent", "adsx-alerts/1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := w.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return client.Do(req)
}

// classifyHTTP treats client errors as permanent except timeouts and rate
// limits.
func classifyHTTP(what string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return fmt.Errorf("%s http %d", what, status)
	case status >= 400 && status < 500:
		return permanent(fmt.Errorf("%s http %d", what, status))
	default:
		return fmt.Errorf("%s http %d", what, status)
	}
}

func (w *Worker) sendEmail(to, subject, body string) error {
	if w.Mailer == nil {
		return permanent(errors.New("SMTP_HOST not configured"))
	}
	from := strings.TrimSpace(w.Config.SMTPFrom)
	if from == "" {
		return permanent(errors.New("SMTP_FROM not configured"))
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return permanent(errors.New("email to empty"))
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return w.Mailer.DialAndSend(m)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe permanentError
	return errors.As(err, &pe)
}
