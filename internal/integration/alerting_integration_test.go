package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dhegstad/AdsX-sub003/internal/testkit"
)

type hookRecorder struct {
	mu   sync.Mutex
	got  []map[string]any
	srv  *httptest.Server
	code int
}

func newHookRecorder(t *testing.T) *hookRecorder {
	t.Helper()
	h := &hookRecorder{code: http.StatusOK}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		h.mu.Lock()
		h.got = append(h.got, body)
		code := h.code
		h.mu.Unlock()
		w.WriteHeader(code)
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *hookRecorder) payloads() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]map[string]any(nil), h.got...)
}

func budgetChange(account string, before, after float64) map[string]any {
	return map[string]any{
		"platform":     "meta",
		"adAccountId":  account,
		"changeType":   "budget_change",
		"resourceType": "campaign",
		"resourceId":   "cmp_1",
		"resourceName": "Spring Sale",
		"severity":     "warning",
		"beforeValue":  map[string]any{"budget": before},
		"afterValue":   map[string]any{"budget": after},
	}
}

func TestIntegration_ChangeToWebhookDelivery(t *testing.T) {
	t.Parallel()

	srv := testkit.NewServer(t)
	client := srv.HTTP.Client()
	baseURL := srv.HTTP.URL
	hook := newHookRecorder(t)

	ruleID := testkit.CreateRule(t, client, baseURL, "org-1", map[string]any{
		"name": "Big budget increases",
		"conditions": map[string]any{
			"platforms":    []string{"meta"},
			"budgetChange": map[string]any{"operator": "greater_than", "value": 300},
		},
		"webhookUrl": hook.srv.URL,
	})

	ids := testkit.PostChanges(t, client, baseURL, "org-1", []map[string]any{
		budgetChange("act_1", 1000, 1500),
		budgetChange("act_1", 1000, 1100),
	})
	if len(ids) != 2 {
		t.Fatalf("expected 2 accepted ids, got %v", ids)
	}

	rows := testkit.ListDeliveries(t, client, baseURL, "org-1", fmt.Sprintf("ruleId=%d", ruleID))
	if len(rows) != 1 {
		t.Fatalf("expected 1 delivery (only the 500 increase matches), got %d", len(rows))
	}
	if rows[0]["status"] != "pending" || rows[0]["channel_type"] != "webhook" {
		t.Fatalf("unexpected delivery row: %+v", rows[0])
	}

	n, err := srv.Deliveries.ProcessOnce(context.Background(), 10)
	if err != nil || n != 1 {
		t.Fatalf("ProcessOnce: n=%d err=%v", n, err)
	}
	got := hook.payloads()
	if len(got) != 1 {
		t.Fatalf("expected 1 webhook call, got %d", len(got))
	}
	if got[0]["kind"] != "single" || got[0]["ruleName"] != "Big budget increases" {
		t.Fatalf("unexpected webhook payload: %+v", got[0])
	}

	sent := testkit.ListDeliveries(t, client, baseURL, "org-1", "status=sent")
	if len(sent) != 1 {
		t.Fatalf("expected delivery marked sent, got %+v", sent)
	}
}

func TestIntegration_QuietHoursSuppress(t *testing.T) {
	t.Parallel()

	srv := testkit.NewServer(t)
	client := srv.HTTP.Client()
	baseURL := srv.HTTP.URL
	srv.SetNow(func() time.Time { return time.Date(2026, 5, 1, 23, 30, 0, 0, time.UTC) })

	testkit.CreateRule(t, client, baseURL, "org-1", map[string]any{
		"name":               "Night watch",
		"slackChannel":       "#ads",
		"quietHoursStart":    "22:00",
		"quietHoursEnd":      "07:00",
		"quietHoursTimezone": "UTC",
	})
	testkit.PostChanges(t, client, baseURL, "org-1", budgetChange("act_1", 10, 20))

	if rows := testkit.ListDeliveries(t, client, baseURL, "org-1", ""); len(rows) != 0 {
		t.Fatalf("expected no deliveries during quiet hours, got %d", len(rows))
	}
	if got := srv.Stats.Snapshot().Engine.Suppressed; got != 1 {
		t.Fatalf("expected suppressed=1, got %d", got)
	}
}

func TestIntegration_HourlyDigest(t *testing.T) {
	t.Parallel()

	srv := testkit.NewServer(t)
	client := srv.HTTP.Client()
	baseURL := srv.HTTP.URL
	hook := newHookRecorder(t)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 10, 15, 0, 0, time.UTC)
	srv.SetNow(func() time.Time { return now })

	ruleID := testkit.CreateRule(t, client, baseURL, "org-1", map[string]any{
		"name":       "Hourly roundup",
		"digestMode": "hourly",
		"webhookUrl": hook.srv.URL,
	})
	if n, err := srv.DigestWorker.FlushDue(ctx); err != nil || n != 0 {
		t.Fatalf("first FlushDue: n=%d err=%v", n, err)
	}

	for i := 0; i < 3; i++ {
		testkit.PostChanges(t, client, baseURL, "org-1", budgetChange(fmt.Sprintf("act_%d", i), 100, 200))
	}
	if rows := testkit.ListDeliveries(t, client, baseURL, "org-1", ""); len(rows) != 0 {
		t.Fatalf("digest rule must not deliver immediately, got %d", len(rows))
	}

	digestURL := fmt.Sprintf("%s/api/org-1/rules/%d/digest", baseURL, ruleID)
	status, body := testkit.DoJSON(t, client, http.MethodGet, digestURL, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("digest status=%d body=%s", status, string(body))
	}
	var pending struct {
		Pending int `json:"pending"`
	}
	if err := json.Unmarshal(testkit.DecodeEnvelope(t, body).Data, &pending); err != nil {
		t.Fatalf("decode digest status: %v", err)
	}
	if pending.Pending != 3 {
		t.Fatalf("expected 3 pending entries, got %d", pending.Pending)
	}

	now = time.Date(2026, 5, 1, 11, 5, 0, 0, time.UTC)
	if n, err := srv.DigestWorker.FlushDue(ctx); err != nil || n != 1 {
		t.Fatalf("FlushDue after boundary: n=%d err=%v", n, err)
	}
	if _, err := srv.Deliveries.ProcessOnce(ctx, 10); err != nil {
		t.Fatalf("ProcessOnce: %v", err)
	}
	got := hook.payloads()
	if len(got) != 1 {
		t.Fatalf("expected 1 digest webhook, got %d", len(got))
	}
	if got[0]["kind"] != "digest" || got[0]["count"] != float64(3) {
		t.Fatalf("unexpected digest payload: %+v", got[0])
	}

	// Nothing new since the flush.
	now = time.Date(2026, 5, 1, 12, 1, 0, 0, time.UTC)
	if n, err := srv.DigestWorker.FlushDue(ctx); err != nil || n != 0 {
		t.Fatalf("FlushDue with empty buffer: n=%d err=%v", n, err)
	}
}

func TestIntegration_ManualDigestFlush(t *testing.T) {
	t.Parallel()

	srv := testkit.NewServer(t)
	client := srv.HTTP.Client()
	baseURL := srv.HTTP.URL

	digestID := testkit.CreateRule(t, client, baseURL, "org-1", map[string]any{
		"name":         "Daily roundup",
		"digestMode":   "daily",
		"digestTime":   "09:00",
		"slackChannel": "#ads",
	})
	immediateID := testkit.CreateRule(t, client, baseURL, "org-1", map[string]any{
		"name":         "Everything",
		"slackChannel": "#all",
		"conditions":   map[string]any{"platforms": []string{"google"}},
	})
	testkit.PostChanges(t, client, baseURL, "org-1", budgetChange("act_1", 5, 6))

	status, body := testkit.DoJSON(t, client, http.MethodPost,
		fmt.Sprintf("%s/api/org-1/rules/%d/digest/flush", baseURL, digestID), nil, nil)
	if status != http.StatusOK {
		t.Fatalf("flush status=%d body=%s", status, string(body))
	}
	rows := testkit.ListDeliveries(t, client, baseURL, "org-1", fmt.Sprintf("ruleId=%d", digestID))
	if len(rows) != 1 || rows[0]["kind"] != "digest" || rows[0]["event_count"] != float64(1) {
		t.Fatalf("unexpected digest deliveries: %+v", rows)
	}

	status, _ = testkit.DoJSON(t, client, http.MethodPost,
		fmt.Sprintf("%s/api/org-1/rules/%d/digest/flush", baseURL, immediateID), nil, nil)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for a non-digest rule, got %d", status)
	}
}

func TestIntegration_UpdateEndingDigestFlushesBuffer(t *testing.T) {
	t.Parallel()

	cases := map[string]func(rule map[string]any){
		"mode none":   func(rule map[string]any) { rule["digestMode"] = "none" },
		"deactivated": func(rule map[string]any) { rule["isActive"] = false },
	}
	for name, edit := range cases {
		edit := edit
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			srv := testkit.NewServer(t)
			client := srv.HTTP.Client()
			baseURL := srv.HTTP.URL
			ctx := context.Background()

			now := time.Date(2026, 5, 1, 10, 15, 0, 0, time.UTC)
			srv.SetNow(func() time.Time { return now })

			rule := map[string]any{
				"name":         "Hourly roundup",
				"digestMode":   "hourly",
				"slackChannel": "#ads",
			}
			ruleID := testkit.CreateRule(t, client, baseURL, "org-1", rule)
			for i := 0; i < 3; i++ {
				testkit.PostChanges(t, client, baseURL, "org-1", budgetChange(fmt.Sprintf("act_%d", i), 100, 200))
			}

			edit(rule)
			ruleURL := fmt.Sprintf("%s/api/org-1/rules/%d", baseURL, ruleID)
			status, body := testkit.DoJSON(t, client, http.MethodPut, ruleURL, rule, nil)
			if status != http.StatusOK {
				t.Fatalf("update status=%d body=%s", status, string(body))
			}
			var updated struct {
				Flushed int `json:"flushedDigestEntries"`
			}
			if err := json.Unmarshal(testkit.DecodeEnvelope(t, body).Data, &updated); err != nil {
				t.Fatalf("decode update: %v", err)
			}
			if updated.Flushed != 3 {
				t.Fatalf("expected 3 flushed entries, got %d", updated.Flushed)
			}

			// Later ticks have nothing left to release.
			for h := 1; h <= 13; h++ {
				now = time.Date(2026, 5, 1, 10+h, 5, 0, 0, time.UTC)
				if _, err := srv.DigestWorker.FlushDue(ctx); err != nil {
					t.Fatalf("FlushDue: %v", err)
				}
			}

			rows := testkit.ListDeliveries(t, client, baseURL, "org-1", fmt.Sprintf("ruleId=%d", ruleID))
			if len(rows) != 1 || rows[0]["kind"] != "digest" || rows[0]["event_count"] != float64(3) {
				t.Fatalf("unexpected deliveries: %+v", rows)
			}
			status, body = testkit.DoJSON(t, client, http.MethodGet, ruleURL+"/digest", nil, nil)
			if status != http.StatusOK {
				t.Fatalf("digest status=%d body=%s", status, string(body))
			}
			var pending struct {
				Pending int `json:"pending"`
			}
			if err := json.Unmarshal(testkit.DecodeEnvelope(t, body).Data, &pending); err != nil {
				t.Fatalf("decode digest status: %v", err)
			}
			if pending.Pending != 0 {
				t.Fatalf("expected empty buffer, got %d", pending.Pending)
			}
		})
	}
}
