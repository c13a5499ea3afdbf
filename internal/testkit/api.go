package testkit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

type APIEnvelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
	Err  string          `json:"err"`
}

func DoJSON(t testing.TB, client *http.Client, method, rawURL string, body any, headers map[string]string) (int, []byte) {
	t.Helper()

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json.Marshal: %v", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, rawURL, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("client.Do: %v", err)
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return res.StatusCode, b
}

func DecodeEnvelope(t testing.TB, body []byte) APIEnvelope {
	t.Helper()

	var env APIEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode envelope: %v (body=%s)", err, string(body))
	}
	return env
}

// CreateRule posts a rule and returns its ID.
func CreateRule(t testing.TB, client *http.Client, baseURL, orgID string, rule map[string]any) int {
	t.Helper()

	status, body := DoJSON(t, client, http.MethodPost, fmt.Sprintf("%s/api/%s/rules", baseURL, orgID), rule, nil)
	if status != http.StatusOK {
		t.Fatalf("create rule status=%d body=%s", status, string(body))
	}
	env := DecodeEnvelope(t, body)
	if env.Code != 0 {
		t.Fatalf("create rule code=%d err=%s", env.Code, env.Err)
	}
	var data struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("create rule data: %v", err)
	}
	return data.ID
}

// PostChanges submits one event (a map) or a slice of them and returns the
// accepted IDs.
func PostChanges(t testing.TB, client *http.Client, baseURL, orgID string, events any) []string {
	t.Helper()

	status, body := DoJSON(t, client, http.MethodPost, fmt.Sprintf("%s/api/%s/changes", baseURL, orgID), events, nil)
	if status != http.StatusAccepted {
		t.Fatalf("post changes status=%d body=%s", status, string(body))
	}
	env := DecodeEnvelope(t, body)
	var data struct {
		Accepted int      `json:"accepted"`
		IDs      []string `json:"ids"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("post changes data: %v", err)
	}
	return data.IDs
}

// ListDeliveries returns the org's outbox rows, optionally filtered by the
// given query string (without "?").
func ListDeliveries(t testing.TB, client *http.Client, baseURL, orgID, query string) []map[string]any {
	t.Helper()

	rawURL := fmt.Sprintf("%s/api/%s/deliveries", baseURL, url.PathEscape(orgID))
	if strings.TrimSpace(query) != "" {
		rawURL += "?" + query
	}
	status, body := DoJSON(t, client, http.MethodGet, rawURL, nil, nil)
	if status != http.StatusOK {
		t.Fatalf("list deliveries status=%d body=%s", status, string(body))
	}
	env := DecodeEnvelope(t, body)
	var data struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("list deliveries data: %v", err)
	}
	return data.Items
}
