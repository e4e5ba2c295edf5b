package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nevis-proxy/config"
	"nevis-proxy/providers"
	"nevis-proxy/quota"
)

// stubGenerator is a scriptable orchestrator stand-in for handler tests.
type stubGenerator struct {
	result *providers.GenerationResult
	err    error
	calls  int
}

func (s *stubGenerator) Generate(_ context.Context, _ *providers.GenerationRequest) (*providers.GenerationResult, error) {
	s.calls++
	return s.result, s.err
}

func (s *stubGenerator) HealthSnapshot() []providers.ProviderHealth {
	return []providers.ProviderHealth{
		{Provider: "gemini", Priority: 1, Credentials: []providers.CredentialRecord{{ID: "gemini-1", Healthy: true}}},
	}
}

func (s *stubGenerator) BreakerStatus() map[string]providers.BreakerStatus {
	return map[string]providers.BreakerStatus{
		"gemini": {Provider: "gemini", State: "closed"},
	}
}

func newTestServer(t *testing.T, stub *stubGenerator, quotaLimit int) (*httptest.Server, *quota.Tracker) {
	t.Helper()
	cfg := config.NewTestConfig()
	q := quota.NewTracker(quotaLimit)
	h := NewAPIHandler(stub, q, cfg)
	server := httptest.NewServer(NewRouter(h, cfg))
	t.Cleanup(server.Close)
	return server, q
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGenerateTextSuccess(t *testing.T) {
	stub := &stubGenerator{result: &providers.GenerationResult{
		Text: "a haiku", Provider: "gemini", Credential: "gemini-1", Model: "gemini-2.5-flash",
	}}
	server, _ := newTestServer(t, stub, 40)

	resp := postJSON(t, server.URL+"/api/generate/text", `{"prompt":"write a haiku","user_id":"user-1"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Success   bool                        `json:"success"`
		Result    *providers.GenerationResult `json:"result"`
		UserQuota int                         `json:"user_quota"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Result.Text != "a haiku" {
		t.Errorf("body = %+v", body)
	}
	if body.UserQuota != 1 {
		t.Errorf("user_quota = %d, want 1 after a successful generation", body.UserQuota)
	}
}

func TestGenerateFailureStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"rate limited", &providers.GenerationError{Kind: providers.FailureRateLimited}, http.StatusServiceUnavailable},
		{"quota exhausted upstream", &providers.GenerationError{Kind: providers.FailureQuotaExhausted}, http.StatusServiceUnavailable},
		{"invalid request", &providers.GenerationError{Kind: providers.FailureInvalidRequest}, http.StatusBadRequest},
		{"timeout", &providers.GenerationError{Kind: providers.FailureTimeout}, http.StatusGatewayTimeout},
		{"unauthorized", &providers.GenerationError{Kind: providers.FailureUnauthorized}, http.StatusBadGateway},
		{"transient", &providers.GenerationError{Kind: providers.FailureTransient}, http.StatusBadGateway},
		{"unknown", &providers.GenerationError{Kind: providers.FailureUnknown}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, _ := newTestServer(t, &stubGenerator{err: tt.err}, 40)

			resp := postJSON(t, server.URL+"/api/generate/text", `{"prompt":"hello","user_id":"user-1"}`)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var body struct {
				Success bool   `json:"success"`
				Kind    string `json:"kind"`
			}
			json.NewDecoder(resp.Body).Decode(&body)
			if body.Success {
				t.Error("success should be false on failure")
			}
		})
	}
}

func TestGenerateRateLimitedSetsRetryAfter(t *testing.T) {
	stub := &stubGenerator{err: &providers.GenerationError{
		Kind:       providers.FailureRateLimited,
		RetryAfter: 90 * time.Second,
	}}
	server, _ := newTestServer(t, stub, 40)

	resp := postJSON(t, server.URL+"/api/generate/text", `{"prompt":"hello","user_id":"user-1"}`)
	if got := resp.Header.Get("Retry-After"); got != "90" {
		t.Errorf("Retry-After = %q, want 90", got)
	}
}

func TestGenerateRateLimitedDefaultRetryAfter(t *testing.T) {
	stub := &stubGenerator{err: &providers.GenerationError{Kind: providers.FailureRateLimited}}
	server, _ := newTestServer(t, stub, 40)

	resp := postJSON(t, server.URL+"/api/generate/text", `{"prompt":"hello","user_id":"user-1"}`)
	if got := resp.Header.Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want the default cooldown", got)
	}
}

func TestGenerateRejectsBadRequests(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{}, 40)

	resp := postJSON(t, server.URL+"/api/generate/text", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, server.URL+"/api/generate/text", `{"prompt":"hello"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing user_id status = %d, want 400", resp.StatusCode)
	}
}

func TestGenerateEnforcesUserQuota(t *testing.T) {
	stub := &stubGenerator{result: &providers.GenerationResult{Text: "ok"}}
	server, q := newTestServer(t, stub, 2)

	for i := 0; i < 2; i++ {
		resp := postJSON(t, server.URL+"/api/generate/text", `{"prompt":"hello","user_id":"user-1"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, resp.StatusCode)
		}
	}

	resp := postJSON(t, server.URL+"/api/generate/text", `{"prompt":"hello","user_id":"user-1"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("over-quota status = %d, want 429", resp.StatusCode)
	}
	if stub.calls != 2 {
		t.Errorf("orchestrator called %d times, quota rejection must not reach it", stub.calls)
	}
	if got := q.Usage("user-1").CurrentUsage; got != 2 {
		t.Errorf("usage = %d, want 2", got)
	}
}

func TestFailedGenerationDoesNotConsumeQuota(t *testing.T) {
	stub := &stubGenerator{err: &providers.GenerationError{Kind: providers.FailureTransient}}
	server, q := newTestServer(t, stub, 40)

	postJSON(t, server.URL+"/api/generate/text", `{"prompt":"hello","user_id":"user-1"}`)
	if got := q.Usage("user-1").CurrentUsage; got != 0 {
		t.Errorf("usage after a failed generation = %d, want 0", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{}, 40)

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body struct {
		Status    string                             `json:"status"`
		Providers []providers.ProviderHealth         `json:"providers"`
		Breakers  map[string]providers.BreakerStatus `json:"circuit_breakers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || len(body.Providers) != 1 {
		t.Errorf("body = %+v", body)
	}
	if body.Providers[0].Credentials[0].ID != "gemini-1" {
		t.Errorf("credentials = %+v", body.Providers[0].Credentials)
	}
	if body.Breakers["gemini"].State != "closed" {
		t.Errorf("breakers = %+v", body.Breakers)
	}
}

func TestQuotaEndpoint(t *testing.T) {
	server, q := newTestServer(t, &stubGenerator{}, 40)
	q.Record("user-1")

	resp, err := http.Get(server.URL + "/api/quota/user-1")
	if err != nil {
		t.Fatalf("GET /api/quota: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var usage quota.Usage
	if err := json.NewDecoder(resp.Body).Decode(&usage); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if usage.UserID != "user-1" || usage.CurrentUsage != 1 || usage.Remaining != 39 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t, &stubGenerator{}, 40)

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
