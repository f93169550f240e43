package cloudflare

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	logrtesting "github.com/go-logr/logr/testing"
	"github.com/google/go-cmp/cmp"

	"github.com/yuriy-kovalchuk/yk-waf-manager/internal/waf"
)

func blockBots() waf.Rule {
	return waf.Rule{
		Description: "block-bots",
		Expression:  "http.host eq 'x.com'",
		Action:      "block",
		Enabled:     true,
	}
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// stubAPI answers each "METHOD path" with a fixed status and body.
type stubAPI struct {
	mu        sync.Mutex
	responses map[string]stubResponse
	requests  []recordedRequest
}

type stubResponse struct {
	status int
	body   string
}

func (s *stubAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(data)})

	resp, ok := s.responses[r.Method+" "+r.URL.Path]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"errors":[{"code":7003,"message":"no route"}]}`))
		return
	}
	if resp.status != 0 {
		w.WriteHeader(resp.status)
	}
	w.Write([]byte(resp.body))
}

func (s *stubAPI) writes() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedRequest
	for _, r := range s.requests {
		if r.Method != http.MethodGet {
			out = append(out, r)
		}
	}
	return out
}

const entrypointPath = "/zones/z1/rulesets/phases/http_request_firewall_custom/entrypoint"

func newTestBackend(t *testing.T, api *stubAPI) *Backend {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	b, err := New(logrtesting.NewTestLogger(t), waf.Options{
		APIKey:  "test-api-key",
		Domain:  "x.com",
		BaseURL: srv.URL + "/",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestNew_Defaults(t *testing.T) {
	b, err := New(logr.Discard(), waf.Options{APIKey: "k", Domain: "example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.baseURL != DefaultBaseURL {
		t.Errorf("expected default base URL, got %q", b.baseURL)
	}
	if b.client.httpClient.Timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %v", b.client.httpClient.Timeout)
	}
}

func TestNew_CustomTimeout(t *testing.T) {
	b, err := New(logr.Discard(), waf.Options{APIKey: "k", ZoneID: "z1", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.client.httpClient.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", b.client.httpClient.Timeout)
	}
}

func TestNew_InvalidSettings(t *testing.T) {
	tests := []struct {
		name  string
		opts  waf.Options
		field string
	}{
		{"missing apikey", waf.Options{Domain: "example.com"}, "apikey"},
		{"missing domain and zone", waf.Options{APIKey: "k"}, "domain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(logr.Discard(), tt.opts)
			var cfgErr *waf.ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigurationError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, cfgErr.Field)
			}
		})
	}
}

func TestRegisteredAsCloudflare(t *testing.T) {
	b, err := waf.NewBackend("cloudflare", logr.Discard(), waf.Options{APIKey: "k", Domain: "example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := b.(*Backend); !ok {
		t.Errorf("expected *cloudflare.Backend, got %T", b)
	}
}

func TestResolveZone(t *testing.T) {
	api := &stubAPI{responses: map[string]stubResponse{
		"GET /zones": {body: `{"success":true,"result":[{"id":"z1","name":"x.com"},{"id":"z2","name":"x.com"}]}`},
	}}
	b := newTestBackend(t, api)

	id, found, err := b.ResolveZone(context.Background(), "x.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || id != "z1" {
		t.Errorf("expected first zone z1, got %q found=%v", id, found)
	}
	if api.requests[0].Query != "name=x.com" {
		t.Errorf("expected name filter, got query %q", api.requests[0].Query)
	}
}

func TestResolveZone_NotFound(t *testing.T) {
	api := &stubAPI{responses: map[string]stubResponse{
		"GET /zones": {body: `{"success":true,"result":[]}`},
	}}
	b := newTestBackend(t, api)

	_, found, err := b.ResolveZone(context.Background(), "missing.com")
	if err != nil {
		t.Fatalf("expected not-found without error, got %v", err)
	}
	if found {
		t.Error("expected found=false")
	}
}

func TestResolveZone_Failure(t *testing.T) {
	api := &stubAPI{responses: map[string]stubResponse{
		"GET /zones": {status: http.StatusUnauthorized, body: `{"success":false,"errors":[{"code":9109,"message":"Invalid access token"}]}`},
	}}
	b := newTestBackend(t, api)

	_, _, err := b.ResolveZone(context.Background(), "x.com")
	var appErr *waf.ApplicationError
	if !errors.As(err, &appErr) || appErr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 ApplicationError, got %v", err)
	}
}

func TestLocateRule(t *testing.T) {
	api := &stubAPI{responses: map[string]stubResponse{
		"GET " + entrypointPath: {body: `{"success":true,"result":{"id":"rs1","rules":[
			{"id":"r0","description":"other","expression":"true","action":"log"},
			{"id":"r1","description":"block-bots","expression":"old","action":"log","enabled":false,"position":3}
		]}}`},
	}}
	b := newTestBackend(t, api)

	match, found, err := b.LocateRule(context.Background(), "z1", blockBots())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected a match")
	}
	if match.RulesetID != "rs1" || match.RuleID != "r1" {
		t.Errorf("expected rs1/r1, got %s/%s", match.RulesetID, match.RuleID)
	}
	if string(match.Snapshot["position"]) != "3" {
		t.Errorf("expected full remote snapshot, got %v", match.Snapshot)
	}
}

func TestLocateRule_Absent(t *testing.T) {
	tests := []struct {
		name string
		resp stubResponse
	}{
		{"no matching description", stubResponse{body: `{"success":true,"result":{"id":"rs1","rules":[{"id":"r0","description":"other"}]}}`}},
		{"empty rule list", stubResponse{body: `{"success":true,"result":{"id":"rs1","rules":[]}}`}},
		{"ruleset without rules", stubResponse{body: `{"success":true,"result":{"id":"rs1"}}`}},
		{"null result", stubResponse{body: `{"success":true,"result":null}`}},
		{"no entrypoint ruleset", stubResponse{status: http.StatusNotFound, body: `{"success":false,"errors":[{"code":10003,"message":"could not find entrypoint ruleset"}]}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &stubAPI{responses: map[string]stubResponse{"GET " + entrypointPath: tt.resp}}
			b := newTestBackend(t, api)

			_, found, err := b.LocateRule(context.Background(), "z1", blockBots())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if found {
				t.Error("expected no match")
			}
		})
	}
}

func TestLocateRule_FailurePropagates(t *testing.T) {
	api := &stubAPI{responses: map[string]stubResponse{
		"GET " + entrypointPath: {status: http.StatusInternalServerError, body: `{"success":false,"errors":[{"code":10000,"message":"internal"}]}`},
	}}
	b := newTestBackend(t, api)

	_, found, err := b.LocateRule(context.Background(), "z1", blockBots())
	if err == nil {
		t.Fatal("expected lookup failure to propagate")
	}
	if found {
		t.Error("expected found=false alongside the error")
	}
}

func TestCreateRule(t *testing.T) {
	api := &stubAPI{responses: map[string]stubResponse{
		"PUT " + entrypointPath: {body: `{"success":true,"result":{"id":"rs1"}}`},
	}}
	b := newTestBackend(t, api)

	if err := b.CreateRule(context.Background(), "z1", blockBots()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writes := api.writes()
	if len(writes) != 1 {
		t.Fatalf("expected 1 write, got %d", len(writes))
	}
	want := `{"rules":[{"description":"block-bots","expression":"http.host eq 'x.com'","action":"block","enabled":true}]}`
	if writes[0].Method != http.MethodPut || writes[0].Body != want {
		t.Errorf("unexpected create request %s %s", writes[0].Method, writes[0].Body)
	}
}

func TestUpdateRule(t *testing.T) {
	api := &stubAPI{responses: map[string]stubResponse{
		"PATCH /zones/z1/rulesets/rs1/rules/r1": {body: `{"success":true,"result":{"id":"rs1"}}`},
	}}
	b := newTestBackend(t, api)

	match := waf.Match{RulesetID: "rs1", RuleID: "r1", Snapshot: waf.Snapshot{
		"id":          json.RawMessage(`"r1"`),
		"description": json.RawMessage(`"block-bots"`),
		"action":      json.RawMessage(`"log"`),
		"position":    json.RawMessage(`3`),
	}}
	if err := b.UpdateRule(context.Background(), "z1", match, blockBots()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	writes := api.writes()
	if len(writes) != 1 || writes[0].Method != http.MethodPatch {
		t.Fatalf("expected 1 PATCH, got %+v", writes)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(writes[0].Body), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	want := map[string]any{
		"id":          "r1",
		"description": "block-bots",
		"expression":  "http.host eq 'x.com'",
		"action":      "block",
		"enabled":     true,
		"position":    float64(3),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("update payload mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateRule_Failure(t *testing.T) {
	api := &stubAPI{responses: map[string]stubResponse{
		"PATCH /zones/z1/rulesets/rs1/rules/r1": {status: http.StatusBadRequest, body: `{"success":false,"errors":[{"code":20021,"message":"invalid expression"}]}`},
	}}
	b := newTestBackend(t, api)

	err := b.UpdateRule(context.Background(), "z1", waf.Match{RulesetID: "rs1", RuleID: "r1"}, blockBots())
	var appErr *waf.ApplicationError
	if !errors.As(err, &appErr) || appErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 ApplicationError, got %v", err)
	}
}
