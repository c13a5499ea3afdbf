package obs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDepthPoller_SumsTopicBacklog(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "topics": [
    {"topic_name":"ad-changes","depth":4,"channels":[{"channel_name":"rule-engine","depth":10,"in_flight_count":2,"deferred_count":1}]},
    {"topic_name":"other","depth":99,"channels":[]}
  ]
}`))
	}))
	t.Cleanup(ts.Close)

	stats := New()
	p := &DepthPoller{Stats: stats, Addr: ts.URL, Topic: "ad-changes", Interval: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.PollOnce(ctx, ts.Client(), p.statsURL()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if got := stats.Snapshot().NSQ.Depth; got != 17 {
		t.Fatalf("expected depth=17, got %d", got)
	}
	if got := testutil.ToFloat64(stats.nsqDepth.WithLabelValues("ad-changes")); got != 17 {
		t.Fatalf("expected gauge=17, got %v", got)
	}
}

func TestDepthPoller_NoAddrIsNoop(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		(&DepthPoller{Stats: New(), Topic: "ad-changes"}).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to return immediately without an address")
	}
}
