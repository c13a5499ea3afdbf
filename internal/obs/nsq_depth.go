package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type nsqdStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Depth     int64  `json:"depth"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
			DeferredCount int64  `json:"deferred_count"`
		} `json:"channels"`
	} `json:"topics"`
}

// DepthPoller periodically reads nsqd's /stats and records the backlog of
// one topic.
type DepthPoller struct {
	Stats    *Stats
	Logger   *zap.Logger
	Addr     string
	Topic    string
	Interval time.Duration
	Client   *http.Client
}

func (p *DepthPoller) statsURL() string {
	url := strings.TrimSpace(p.Addr)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	return strings.TrimRight(url, "/") + "/stats?format=json&topic=" + p.Topic
}

// Run blocks until ctx is done. It is a no-op when no address is configured.
func (p *DepthPoller) Run(ctx context.Context) {
	if p == nil || p.Stats == nil || strings.TrimSpace(p.Addr) == "" || p.Topic == "" {
		return
	}
	interval := p.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	url := p.statsURL()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := p.PollOnce(ctx, client, url); err != nil && ctx.Err() == nil {
			log.Debug("nsqd stats poll failed", zap.String("topic", p.Topic), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *DepthPoller) PollOnce(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("nsqd stats http status=%d", res.StatusCode)
	}
	var payload nsqdStats
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return err
	}
	for _, t := range payload.Topics {
		if t.TopicName != p.Topic {
			continue
		}
		total := t.Depth
		for _, ch := range t.Channels {
			total += ch.Depth + ch.InFlightCount + ch.DeferredCount
		}
		p.Stats.SetNSQDepth(p.Topic, total)
		return nil
	}
	return nil
}
