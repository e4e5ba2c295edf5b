package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   FailureKind
	}{
		{"rate limit", 429, "slow down", FailureRateLimited},
		{"quota language on 429", 429, "You have exceeded your current quota", FailureQuotaExhausted},
		{"billing language on 429", 429, "billing hard limit reached", FailureQuotaExhausted},
		{"unauthorized", 401, "invalid key", FailureUnauthorized},
		{"forbidden", 403, "", FailureUnauthorized},
		{"request timeout", 408, "", FailureTimeout},
		{"bad request", 400, "", FailureInvalidRequest},
		{"not found", 404, "", FailureInvalidRequest},
		{"unprocessable", 422, "", FailureInvalidRequest},
		{"server error", 500, "", FailureTransient},
		{"bad gateway", 502, "", FailureTransient},
		{"unexpected status", 418, "", FailureUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyStatus(tt.status, tt.body); got != tt.want {
				t.Errorf("ClassifyStatus(%d, %q) = %v, want %v", tt.status, tt.body, got, tt.want)
			}
		})
	}
}

type fakeNetError struct{ timeout bool }

func (e *fakeNetError) Error() string   { return "dial tcp: i/o problem" }
func (e *fakeNetError) Timeout() bool   { return e.timeout }
func (e *fakeNetError) Temporary() bool { return false }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, FailureUnknown},
		{"context deadline", context.DeadlineExceeded, FailureTimeout},
		{"wrapped deadline", fmt.Errorf("call failed: %w", context.DeadlineExceeded), FailureTimeout},
		{"net timeout", &fakeNetError{timeout: true}, FailureTimeout},
		{"timeout wording", errors.New("request timed out"), FailureTimeout},
		{"rate limit wording", errors.New("429 Too Many Requests"), FailureRateLimited},
		{"quota wording", errors.New("insufficient credit remaining"), FailureQuotaExhausted},
		{"auth wording", errors.New("invalid api key provided"), FailureUnauthorized},
		{"connection reset", errors.New("connection reset by peer"), FailureTransient},
		{"unexpected eof", errors.New("unexpected EOF"), FailureTransient},
		{"unclassifiable", errors.New("something odd"), FailureUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind FailureKind
		want int
	}{
		{FailureRateLimited, http.StatusServiceUnavailable},
		{FailureQuotaExhausted, http.StatusServiceUnavailable},
		{FailureInvalidRequest, http.StatusBadRequest},
		{FailureTimeout, http.StatusGatewayTimeout},
		{FailureUnauthorized, http.StatusBadGateway},
		{FailureTransient, http.StatusBadGateway},
		{FailureUnknown, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := tt.kind.HTTPStatus(); got != tt.want {
			t.Errorf("%v.HTTPStatus() = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"empty", "", 0},
		{"delta seconds", "120", 120 * time.Second},
		{"zero seconds", "0", 0},
		{"negative seconds", "-5", 0},
		{"http date", now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{"past http date", now.Add(-time.Minute).Format(http.TimeFormat), 0},
		{"garbage", "soonish", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.header, now); got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.header, got, tt.want)
			}
		})
	}
}

func TestGenerationErrorFormatting(t *testing.T) {
	cause := errors.New("socket closed")
	gerr := &GenerationError{
		Kind:     FailureTransient,
		Provider: "gemini",
		Message:  "generateContent call failed",
		Cause:    cause,
	}

	want := "gemini: transient: generateContent call failed: socket closed"
	if gerr.Error() != want {
		t.Errorf("Error() = %q, want %q", gerr.Error(), want)
	}
	if !errors.Is(gerr, cause) {
		t.Error("expected Unwrap to expose the cause")
	}
}

func TestAsGenerationError(t *testing.T) {
	gerr := &GenerationError{Kind: FailureRateLimited}
	wrapped := fmt.Errorf("attempt failed: %w", gerr)

	got, ok := AsGenerationError(wrapped)
	if !ok || got.Kind != FailureRateLimited {
		t.Fatalf("AsGenerationError(wrapped) = %v, %v", got, ok)
	}

	if _, ok := AsGenerationError(errors.New("plain")); ok {
		t.Error("expected no match for a plain error")
	}
}

func TestGenerationErrorNeverContainsSecret(t *testing.T) {
	// Errors carry the opaque credential id, never the secret itself.
	gerr := &GenerationError{
		Kind:       FailureUnauthorized,
		Provider:   "gemini",
		Credential: "gemini-1",
		Message:    "generateContent returned status 401",
	}
	msg := gerr.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}
	for _, marker := range []string{"sk-", "AIza"} {
		if strings.Contains(msg, marker) {
			t.Errorf("error message leaks secret material: %q", msg)
		}
	}
}
