package ingest

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dhegstad/AdsX-sub003/internal/alert"
	"github.com/gin-gonic/gin"
)

type recordingPublisher struct {
	mu      sync.Mutex
	single  [][]byte
	batches [][][]byte
	err     error
}

func (p *recordingPublisher) Publish(_ string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.single = append(p.single, body)
	return nil
}

func (p *recordingPublisher) MultiPublish(_ string, bodies [][]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, bodies)
	return nil
}

func newChangeRouter(p *recordingPublisher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/:orgId/changes", ChangeHandler(p, "ad-changes"))
	return r
}

const validChange = `{"platform":"META","adAccountId":"act_1","changeType":"budget_change","resourceType":"campaign","severity":"warning","beforeValue":{"budget":1000},"afterValue":{"budget":1500}}`

func postChanges(t *testing.T, r http.Handler, orgID, body string, gz bool) *httptest.ResponseRecorder {
	t.Helper()

	payload := []byte(body)
	if gz {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write(payload)
		_ = zw.Close()
		payload = buf.Bytes()
	}
	req := httptest.NewRequest(http.MethodPost, "/api/"+orgID+"/changes", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if gz {
		req.Header.Set("Content-Encoding", "gzip")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChangeHandler_SingleEventPublished(t *testing.T) {
	t.Parallel()

	p := &recordingPublisher{}
	w := postChanges(t, newChangeRouter(p), "org-1", validChange, false)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if len(p.single) != 1 {
		t.Fatalf("expected one publish, got %d", len(p.single))
	}

	msg, err := DecodeChange(p.single[0])
	if err != nil {
		t.Fatalf("DecodeChange: %v", err)
	}
	ev := msg.Event
	if ev.OrganizationID != "org-1" || ev.Platform != alert.PlatformMeta || ev.ID == "" || ev.DetectedAt.IsZero() {
		t.Fatalf("event not normalized: %+v", ev)
	}

	var resp struct {
		Code int `json:"code"`
		Data struct {
			Accepted int      `json:"accepted"`
			IDs      []string `json:"ids"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Code != 0 || resp.Data.Accepted != 1 || resp.Data.IDs[0] != ev.ID {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestChangeHandler_ArrayUsesMultiPublish(t *testing.T) {
	t.Parallel()

	p := &recordingPublisher{}
	body := "[" + validChange + "," + validChange + "]"
	w := postChanges(t, newChangeRouter(p), "org-1", body, true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d body=%s", w.Code, w.Body.String())
	}
	if len(p.batches) != 1 || len(p.batches[0]) != 2 || len(p.single) != 0 {
		t.Fatalf("expected one batch of 2, got batches=%d single=%d", len(p.batches), len(p.single))
	}
}

func TestChangeHandler_Rejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		org  string
		body string
		want int
	}{
		{"bad org", "org.1", validChange, http.StatusBadRequest},
		{"empty body", "org-1", " ", http.StatusBadRequest},
		{"empty array", "org-1", "[]", http.StatusBadRequest},
		{"bad json", "org-1", "{", http.StatusBadRequest},
		{"unknown platform", "org-1", strings.Replace(validChange, "META", "tiktok", 1), http.StatusBadRequest},
		{"org mismatch", "org-1", strings.Replace(validChange, `{"platform"`, `{"organizationId":"org-2","platform"`, 1), http.StatusBadRequest},
		{"one invalid in array", "org-1", "[" + validChange + `,{"platform":"meta"}]`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := &recordingPublisher{}
			w := postChanges(t, newChangeRouter(p), tc.org, tc.body, false)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d (body=%s)", w.Code, tc.want, w.Body.String())
			}
			if len(p.single)+len(p.batches) != 0 {
				t.Fatalf("nothing should be published on rejection")
			}
		})
	}
}

func TestChangeHandler_QueueDown(t *testing.T) {
	t.Parallel()

	p := &recordingPublisher{err: errors.New("nsqd down")}
	w := postChanges(t, newChangeRouter(p), "org-1", validChange, false)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestDecodeOneOrMany(t *testing.T) {
	t.Parallel()

	if _, err := decodeOneOrMany[alert.ChangeEvent]([]byte(" ")); err == nil {
		t.Fatalf("expected error for empty body")
	}
	items, err := decodeOneOrMany[alert.ChangeEvent]([]byte(`[{"changeType":"a"},{"changeType":"b"}]`))
	if err != nil || len(items) != 2 || items[1].ChangeType != "b" {
		t.Fatalf("decodeOneOrMany(array): %v %#v", err, items)
	}
	one, err := decodeOneOrMany[alert.ChangeEvent]([]byte(`{"changeType":"a"}`))
	if err != nil || len(one) != 1 {
		t.Fatalf("decodeOneOrMany(object): %v %#v", err, one)
	}
}

func TestDecodeChange(t *testing.T) {
	t.Parallel()

	if _, err := DecodeChange([]byte(`{"type":"log"}`)); !errors.Is(err, ErrNotChangeMessage) {
		t.Fatalf("expected ErrNotChangeMessage, got %v", err)
	}
	if _, err := DecodeChange([]byte(`nope`)); err == nil {
		t.Fatalf("expected decode error")
	}
	msg, err := DecodeChange([]byte(`{"type":"change","organization_id":"org-9","event":{"organizationId":"org-1","changeType":"x"}}`))
	if err != nil {
		t.Fatalf("DecodeChange: %v", err)
	}
	if msg.Event.OrganizationID != "org-9" {
		t.Fatalf("envelope organization should win, got %q", msg.Event.OrganizationID)
	}
}
