package queue

import (
	"errors"
	"strings"
	"testing"

	"github.com/dhegstad/AdsX-sub003/internal/obs"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type stubPublisher struct {
	err    error
	failAt int
	calls  int
}

func (p *stubPublisher) Publish(_ string, _ []byte) error {
	p.calls++
	if p.failAt > 0 && p.calls < p.failAt {
		return nil
	}
	return p.err
}

type stubBatchPublisher struct {
	stubPublisher
	batches [][][]byte
}

func (p *stubBatchPublisher) MultiPublish(_ string, bodies [][]byte) error {
	p.batches = append(p.batches, bodies)
	return p.err
}

func TestWithMetrics_Publish(t *testing.T) {
	t.Parallel()

	stats := obs.New()
	p := WithMetrics(&stubPublisher{}, stats)

	if err := p.Publish("ad-changes", []byte("x")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	snap := stats.Snapshot()
	if snap.NSQ.PublishTotal != 1 || snap.NSQ.PublishErrors != 0 || snap.NSQ.Messages != 1 {
		t.Fatalf("unexpected snapshot: %+v", snap.NSQ)
	}
	want := `
# HELP adsx_nsq_published_messages_total Change messages accepted by nsqd, by topic.
# TYPE adsx_nsq_published_messages_total counter
adsx_nsq_published_messages_total{topic="ad-changes"} 1
`
	if err := testutil.GatherAndCompare(stats.Registry(), strings.NewReader(want), "adsx_nsq_published_messages_total"); err != nil {
		t.Fatalf("metrics: %v", err)
	}
}

func TestWithMetrics_PublishError(t *testing.T) {
	t.Parallel()

	stats := obs.New()
	p := WithMetrics(&stubPublisher{err: errors.New("boom")}, stats)

	if err := p.Publish("ad-changes", []byte("x")); err == nil {
		t.Fatalf("expected error")
	}
	snap := stats.Snapshot()
	if snap.NSQ.PublishTotal != 1 || snap.NSQ.PublishErrors != 1 || snap.NSQ.Messages != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap.NSQ)
	}
}

func TestWithMetrics_MultiPublishBatchCountsMessages(t *testing.T) {
	t.Parallel()

	stats := obs.New()
	inner := &stubBatchPublisher{}
	p := WithMetrics(inner, stats).(BatchPublisher)

	if err := p.MultiPublish("ad-changes", [][]byte{[]byte("a"), []byte("b"), []byte("c")}); err != nil {
		t.Fatalf("MultiPublish: %v", err)
	}
	if len(inner.batches) != 1 || inner.calls != 0 {
		t.Fatalf("expected one batched round-trip, got batches=%d singles=%d", len(inner.batches), inner.calls)
	}
	snap := stats.Snapshot()
	if snap.NSQ.PublishTotal != 1 || snap.NSQ.Messages != 3 {
		t.Fatalf("unexpected snapshot: %+v", snap.NSQ)
	}
}

func TestWithMetrics_MultiPublishFallbackReportsAccepted(t *testing.T) {
	t.Parallel()

	stats := obs.New()
	inner := &stubPublisher{err: errors.New("nsqd gone"), failAt: 3}
	p := WithMetrics(inner, stats).(BatchPublisher)

	err := p.MultiPublish("ad-changes", [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")})
	if err == nil || !strings.Contains(err.Error(), "change 3 of 4 (2 accepted)") {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected publishing to stop at the failure, got %d calls", inner.calls)
	}
	snap := stats.Snapshot()
	if snap.NSQ.PublishTotal != 3 || snap.NSQ.PublishErrors != 1 || snap.NSQ.Messages != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap.NSQ)
	}
}

func TestWithMetrics_NilStatsPassThrough(t *testing.T) {
	t.Parallel()

	inner := &stubPublisher{}
	if p := WithMetrics(inner, nil); p != Publisher(inner) {
		t.Fatalf("expected the inner publisher back")
	}
	stats := obs.New()
	once := WithMetrics(inner, stats)
	if WithMetrics(once, stats) != once {
		t.Fatalf("expected wrapping to be idempotent")
	}
}
