package query_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/dhegstad/AdsX-sub003/internal/testkit"
)

func TestRuleHandlers_BadInput(t *testing.T) {
	t.Parallel()

	srv := testkit.NewServer(t)
	client := srv.HTTP.Client()
	base := srv.HTTP.URL

	id := testkit.CreateRule(t, client, base, "org-1", map[string]any{
		"name":         "any change",
		"slackChannel": "#ads",
	})

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"bad org", http.MethodGet, "/api/org%201/rules", nil, http.StatusBadRequest},
		{"bad rule id", http.MethodGet, "/api/org-1/rules/abc", nil, http.StatusBadRequest},
		{"missing rule", http.MethodGet, "/api/org-1/rules/9999", nil, http.StatusNotFound},
		{"update missing", http.MethodPut, "/api/org-1/rules/9999", map[string]any{"name": "x", "slackChannel": "#a"}, http.StatusNotFound},
		{"update invalid", http.MethodPut, fmt.Sprintf("/api/org-1/rules/%d", id), map[string]any{"name": "x"}, http.StatusBadRequest},
		{"delete missing", http.MethodDelete, "/api/org-1/rules/9999", nil, http.StatusNotFound},
		{"test bad at", http.MethodPost, fmt.Sprintf("/api/org-1/rules/%d/test?at=yesterday", id), map[string]any{}, http.StatusBadRequest},
		{"test invalid event", http.MethodPost, fmt.Sprintf("/api/org-1/rules/%d/test", id), map[string]any{"platform": "myspace"}, http.StatusBadRequest},
		{"flush non-digest", http.MethodPost, fmt.Sprintf("/api/org-1/rules/%d/digest/flush", id), nil, http.StatusConflict},
		{"deliveries bad status", http.MethodGet, "/api/org-1/deliveries?status=lost", nil, http.StatusBadRequest},
		{"deliveries bad limit", http.MethodGet, "/api/org-1/deliveries?limit=0", nil, http.StatusBadRequest},
		{"deliveries bad rule", http.MethodGet, "/api/org-1/deliveries?ruleId=-1", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		status, body := testkit.DoJSON(t, client, tc.method, base+tc.path, tc.body, nil)
		if status != tc.want {
			t.Fatalf("%s: status=%d want=%d body=%s", tc.name, status, tc.want, string(body))
		}
		if env := testkit.DecodeEnvelope(t, body); env.Code != tc.want || env.Err == "" {
			t.Fatalf("%s: unexpected error envelope %+v", tc.name, env)
		}
	}
}

func TestListRules_ScopedToOrganization(t *testing.T) {
	t.Parallel()

	srv := testkit.NewServer(t)
	client := srv.HTTP.Client()
	base := srv.HTTP.URL

	testkit.CreateRule(t, client, base, "org-1", map[string]any{"name": "a", "slackChannel": "#a"})
	testkit.CreateRule(t, client, base, "org-1", map[string]any{"name": "b", "webhookUrl": "https://example.com/hook", "digestMode": "daily"})
	testkit.CreateRule(t, client, base, "org-2", map[string]any{"name": "a", "slackChannel": "#a"})

	status, body := testkit.DoJSON(t, client, http.MethodGet, base+"/api/org-1/rules", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("list status=%d body=%s", status, string(body))
	}
	env := testkit.DecodeEnvelope(t, body)
	var data struct {
		Items []struct {
			Name         string  `json:"name"`
			DigestMode   string  `json:"digestMode"`
			NextDigestAt *string `json:"nextDigestAt"`
		} `json:"items"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode rules: %v", err)
	}
	rules := data.Items
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules for org-1, got %d", len(rules))
	}
	for _, r := range rules {
		if r.DigestMode == "daily" && r.NextDigestAt == nil {
			t.Fatalf("daily rule should report nextDigestAt: %+v", r)
		}
		if r.DigestMode == "none" && r.NextDigestAt != nil {
			t.Fatalf("immediate rule should not report nextDigestAt: %+v", r)
		}
	}
}
