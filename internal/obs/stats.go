package obs

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "adsx"

// Stats owns a private prometheus registry plus a few atomics backing the
// JSON snapshot served by /api/status. All Observe methods are nil-safe.
type Stats struct {
	start time.Time
	reg   *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpLatency     prometheus.Histogram
	nsqPublish      *prometheus.CounterVec
	nsqPublishMsgs  *prometheus.CounterVec
	nsqPublishBytes prometheus.Counter
	nsqPublishTime  *prometheus.HistogramVec
	nsqDepth        *prometheus.GaugeVec
	consumerMsgs    *prometheus.CounterVec
	consumerLatency prometheus.Histogram
	redeliveries    prometheus.Counter
	dbFlushRows     prometheus.Counter
	dbFlushLatency  *prometheus.HistogramVec
	evaluations     prometheus.Counter
	decisions       *prometheus.CounterVec
	ruleErrors      prometheus.Counter
	digestEntries   *prometheus.CounterVec
	deliveries      *prometheus.CounterVec
	deliveryLatency *prometheus.HistogramVec
	cleanupDeleted  *prometheus.CounterVec

	snap struct {
		httpRequests     atomic.Int64
		httpErrors       atomic.Int64
		nsqPublishTotal  atomic.Int64
		nsqPublishErrors atomic.Int64
		nsqMessages      atomic.Int64
		nsqDepth         atomic.Int64
		consumerMessages atomic.Int64
		consumerErrors   atomic.Int64
		redeliveries     atomic.Int64
		eventsEvaluated  atomic.Int64
		delivered        atomic.Int64
		enqueued         atomic.Int64
		suppressed       atomic.Int64
		ruleErrors       atomic.Int64
		digestsFlushed   atomic.Int64
		deliveriesSent   atomic.Int64
		deliveriesFailed atomic.Int64
	}
}

func New() *Stats {
	s := &Stats{start: time.Now(), reg: prometheus.NewRegistry()}

	s.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "http_requests_total",
		Help: "HTTP requests by status class.",
	}, []string{"code"})
	s.httpLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	})
	s.nsqPublish = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "nsq_publish_total",
		Help: "NSQ publish round-trips by topic and result.",
	}, []string{"topic", "result"})
	s.nsqPublishMsgs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "nsq_published_messages_total",
		Help: "Change messages accepted by nsqd, by topic.",
	}, []string{"topic"})
	s.nsqPublishTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "nsq_publish_duration_seconds",
		Help:    "NSQ publish round-trip latency by topic.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"topic"})
	s.nsqPublishBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "nsq_publish_bytes_total",
		Help: "Bytes published to NSQ.",
	})
	s.nsqDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "nsq_topic_depth",
		Help: "Messages waiting in an NSQ topic (including channels).",
	}, []string{"topic"})
	s.consumerMsgs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "consumer_messages_total",
		Help: "Change messages handled by the consumer, by result.",
	}, []string{"result"})
	s.consumerLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "consumer_message_duration_seconds",
		Help:    "Time spent handling one change message.",
		Buckets: prometheus.DefBuckets,
	})
	s.redeliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "consumer_redeliveries_total",
		Help: "Change messages skipped because the event was already evaluated.",
	})
	s.dbFlushRows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "db_flush_rows_total",
		Help: "Change events written in batches.",
	})
	s.dbFlushLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "db_flush_duration_seconds",
		Help:    "Batch insert latency by result.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
	s.evaluations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "events_evaluated_total",
		Help: "Change events run through the rule engine.",
	})
	s.decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "dispatch_decisions_total",
		Help: "Dispatch decisions for matched rules, by action.",
	}, []string{"action"})
	s.ruleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "rule_errors_total",
		Help: "Per-rule failures isolated during evaluation.",
	})
	s.digestEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "digest_entries_total",
		Help: "Digest buffer entries by operation (enqueued, flushed).",
	}, []string{"op", "mode"})
	s.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "deliveries_total",
		Help: "Delivery attempts by channel and result.",
	}, []string{"channel", "result"})
	s.deliveryLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "delivery_duration_seconds",
		Help:    "Outbound delivery latency by channel.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"channel"})
	s.cleanupDeleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "cleanup_deleted_rows_total",
		Help: "Rows removed by the retention worker.",
	}, []string{"table"})

	s.reg.MustRegister(
		s.httpRequests, s.httpLatency,
		s.nsqPublish, s.nsqPublishMsgs, s.nsqPublishBytes, s.nsqPublishTime, s.nsqDepth,
		s.consumerMsgs, s.consumerLatency, s.redeliveries,
		s.dbFlushRows, s.dbFlushLatency,
		s.evaluations, s.decisions, s.ruleErrors,
		s.digestEntries,
		s.deliveries, s.deliveryLatency,
		s.cleanupDeleted,
	)
	return s
}

// Registry exposes the underlying registry (tests gather from it).
func (s *Stats) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.reg
}

// Handler serves the prometheus exposition format.
func (s *Stats) Handler() http.Handler {
	if s == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (s *Stats) ObserveHTTP(status int, dur time.Duration) {
	if s == nil {
		return
	}
	s.httpRequests.WithLabelValues(strconv.Itoa(status/100) + "xx").Inc()
	s.httpLatency.Observe(dur.Seconds())
	s.snap.httpRequests.Add(1)
	if status >= 500 {
		s.snap.httpErrors.Add(1)
	}
}

// ObservePublish records one round-trip to nsqd carrying messages bodies.
// Messages and bytes count only when the round-trip succeeded.
func (s *Stats) ObservePublish(topic string, messages, bytes int, dur time.Duration, err error) {
	if s == nil {
		return
	}
	s.nsqPublish.WithLabelValues(topic, result(err)).Inc()
	s.nsqPublishTime.WithLabelValues(topic).Observe(dur.Seconds())
	s.snap.nsqPublishTotal.Add(1)
	if err != nil {
		s.snap.nsqPublishErrors.Add(1)
		return
	}
	s.nsqPublishMsgs.WithLabelValues(topic).Add(float64(messages))
	s.nsqPublishBytes.Add(float64(bytes))
	s.snap.nsqMessages.Add(int64(messages))
}

func (s *Stats) SetNSQDepth(topic string, depth int64) {
	if s == nil {
		return
	}
	s.nsqDepth.WithLabelValues(topic).Set(float64(depth))
	s.snap.nsqDepth.Store(depth)
}

func (s *Stats) ObserveConsumerMessage(dur time.Duration, err error) {
	if s == nil {
		return
	}
	s.consumerMsgs.WithLabelValues(result(err)).Inc()
	s.consumerLatency.Observe(dur.Seconds())
	s.snap.consumerMessages.Add(1)
	if err != nil {
		s.snap.consumerErrors.Add(1)
	}
}

func (s *Stats) ObserveRedelivery() {
	if s == nil {
		return
	}
	s.redeliveries.Inc()
	s.snap.redeliveries.Add(1)
}

func (s *Stats) ObserveDBFlush(rows int, dur time.Duration, err error) {
	if s == nil {
		return
	}
	if err == nil {
		s.dbFlushRows.Add(float64(rows))
	}
	s.dbFlushLatency.WithLabelValues(result(err)).Observe(dur.Seconds())
}

// ObserveEvaluation records one event passing through the engine.
func (s *Stats) ObserveEvaluation() {
	if s == nil {
		return
	}
	s.evaluations.Inc()
	s.snap.eventsEvaluated.Add(1)
}

// ObserveDecision records a dispatch action for a matched rule.
func (s *Stats) ObserveDecision(action string) {
	if s == nil {
		return
	}
	s.decisions.WithLabelValues(action).Inc()
	switch action {
	case "deliver_immediately":
		s.snap.delivered.Add(1)
	case "enqueue_for_digest":
		s.snap.enqueued.Add(1)
	case "suppress":
		s.snap.suppressed.Add(1)
	}
}

func (s *Stats) ObserveRuleError() {
	if s == nil {
		return
	}
	s.ruleErrors.Inc()
	s.snap.ruleErrors.Add(1)
}

func (s *Stats) ObserveDigestEnqueued(mode string) {
	if s == nil {
		return
	}
	s.digestEntries.WithLabelValues("enqueued", mode).Inc()
}

func (s *Stats) ObserveDigestFlushed(mode string, entries int) {
	if s == nil {
		return
	}
	s.digestEntries.WithLabelValues("flushed", mode).Add(float64(entries))
	s.snap.digestsFlushed.Add(1)
}

func (s *Stats) ObserveDelivery(channel string, dur time.Duration, err error) {
	if s == nil {
		return
	}
	s.deliveries.WithLabelValues(channel, result(err)).Inc()
	s.deliveryLatency.WithLabelValues(channel).Observe(dur.Seconds())
	if err != nil {
		s.snap.deliveriesFailed.Add(1)
	} else {
		s.snap.deliveriesSent.Add(1)
	}
}

func (s *Stats) ObserveCleanupDeleted(changes, deliveries int64) {
	if s == nil {
		return
	}
	if changes > 0 {
		s.cleanupDeleted.WithLabelValues("change_events").Add(float64(changes))
	}
	if deliveries > 0 {
		s.cleanupDeleted.WithLabelValues("notification_deliveries").Add(float64(deliveries))
	}
}

type Snapshot struct {
	UptimeSeconds int64 `json:"uptime_seconds"`

	HTTP struct {
		Requests int64 `json:"requests"`
		Errors   int64 `json:"errors"`
	} `json:"http"`

	NSQ struct {
		PublishTotal  int64 `json:"publish_total"`
		PublishErrors int64 `json:"publish_errors"`
		Messages      int64 `json:"messages"`
		Depth         int64 `json:"depth"`
	} `json:"nsq"`

	Consumer struct {
		Messages     int64 `json:"messages"`
		Errors       int64 `json:"errors"`
		Redeliveries int64 `json:"redeliveries"`
	} `json:"consumer"`

	Engine struct {
		EventsEvaluated int64 `json:"events_evaluated"`
		Delivered       int64 `json:"delivered"`
		Enqueued        int64 `json:"enqueued"`
		Suppressed      int64 `json:"suppressed"`
		RuleErrors      int64 `json:"rule_errors"`
		DigestsFlushed  int64 `json:"digests_flushed"`
	} `json:"engine"`

	Deliveries struct {
		Sent   int64 `json:"sent"`
		Failed int64 `json:"failed"`
	} `json:"deliveries"`
}

func (s *Stats) Snapshot() Snapshot {
	var snap Snapshot
	if s == nil {
		return snap
	}
	snap.UptimeSeconds = int64(time.Since(s.start).Seconds())
	snap.HTTP.Requests = s.snap.httpRequests.Load()
	snap.HTTP.Errors = s.snap.httpErrors.Load()
	snap.NSQ.PublishTotal = s.snap.nsqPublishTotal.Load()
	snap.NSQ.PublishErrors = s.snap.nsqPublishErrors.Load()
	snap.NSQ.Messages = s.snap.nsqMessages.Load()
	snap.NSQ.Depth = s.snap.nsqDepth.Load()
	snap.Consumer.Messages = s.snap.consumerMessages.Load()
	snap.Consumer.Errors = s.snap.consumerErrors.Load()
	snap.Consumer.Redeliveries = s.snap.redeliveries.Load()
	snap.Engine.EventsEvaluated = s.snap.eventsEvaluated.Load()
	snap.Engine.Delivered = s.snap.delivered.Load()
	snap.Engine.Enqueued = s.snap.enqueued.Load()
	snap.Engine.Suppressed = s.snap.suppressed.Load()
	snap.Engine.RuleErrors = s.snap.ruleErrors.Load()
	snap.Engine.DigestsFlushed = s.snap.digestsFlushed.Load()
	snap.Deliveries.Sent = s.snap.deliveriesSent.Load()
	snap.Deliveries.Failed = s.snap.deliveriesFailed.Load()
	return snap
}

func (s *Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}
