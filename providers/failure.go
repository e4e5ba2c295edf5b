package providers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// FailureKind classifies an upstream failure. The kind drives both credential
// health bookkeeping and the HTTP status the route layer surfaces to callers.
type FailureKind string

const (
	// FailureRateLimited means the credential hit a rate limit; it cools down
	// until the retry-after interval passes.
	FailureRateLimited FailureKind = "rate_limited"
	// FailureQuotaExhausted means the account is out of quota; treated like a
	// rate limit for cooldown purposes.
	FailureQuotaExhausted FailureKind = "quota_exhausted"
	// FailureUnauthorized means the credential was rejected; recovering
	// requires operator intervention, so the credential is marked unhealthy
	// with no automatic reset.
	FailureUnauthorized FailureKind = "unauthorized"
	// FailureTimeout means the attempt exceeded its deadline.
	FailureTimeout FailureKind = "timeout"
	// FailureTransient covers 5xx responses, connection resets and empty
	// success bodies.
	FailureTransient FailureKind = "transient"
	// FailureInvalidRequest means the request itself was rejected.
	FailureInvalidRequest FailureKind = "invalid_request"
	// FailureUnknown covers everything the classifier cannot place.
	FailureUnknown FailureKind = "unknown"
)

// GenerationError is the typed failure adapters return and the orchestrator
// surfaces to callers. Expected failure modes never cross the adapter
// boundary as raw vendor errors.
type GenerationError struct {
	Kind       FailureKind
	Provider   string
	Credential string

	// RetryAfter is set for rate-limit and quota failures when the vendor
	// communicated one; zero means the default cooldown applies.
	RetryAfter time.Duration

	Message string
	Cause   error
}

func (e *GenerationError) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *GenerationError) Unwrap() error {
	return e.Cause
}

// AsGenerationError extracts a *GenerationError from an error chain.
func AsGenerationError(err error) (*GenerationError, bool) {
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr, true
	}
	return nil, false
}

// HTTPStatus maps a failure kind to the status code the route layer returns.
func (k FailureKind) HTTPStatus() int {
	switch k {
	case FailureRateLimited, FailureQuotaExhausted:
		return http.StatusServiceUnavailable
	case FailureInvalidRequest:
		return http.StatusBadRequest
	case FailureTimeout:
		return http.StatusGatewayTimeout
	case FailureUnauthorized, FailureTransient:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ClassifyStatus maps an HTTP status and response body to a failure kind.
// Used by adapters that speak REST directly and by SDK adapters that expose
// the underlying status code.
func ClassifyStatus(status int, body string) FailureKind {
	switch {
	case status == http.StatusTooManyRequests:
		if hasQuotaLanguage(body) {
			return FailureQuotaExhausted
		}
		return FailureRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return FailureUnauthorized
	case status == http.StatusRequestTimeout:
		return FailureTimeout
	case status == http.StatusBadRequest || status == http.StatusNotFound || status == http.StatusUnprocessableEntity:
		return FailureInvalidRequest
	case status >= 500:
		return FailureTransient
	default:
		return FailureUnknown
	}
}

// quotaPatterns is the centralized pattern list for telling exhausted quota
// apart from a plain rate limit when the vendor only gives us a 429 and
// prose. Last-resort sniffing; structured codes win where available.
var quotaPatterns = []string{
	"quota",
	"billing",
	"insufficient credit",
	"exceeded your current",
}

func hasQuotaLanguage(body string) bool {
	lower := strings.ToLower(body)
	for _, p := range quotaPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ClassifyError maps a transport-level error to a failure kind. Pattern rules
// are the documented last resort for SDKs that flatten errors into strings.
func ClassifyError(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadline") || strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return FailureTimeout
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429"):
		return FailureRateLimited
	case hasQuotaLanguage(msg):
		return FailureQuotaExhausted
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid api key") ||
		strings.Contains(msg, "permission") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return FailureUnauthorized
	case strings.Contains(msg, "connection") || strings.Contains(msg, "reset") ||
		strings.Contains(msg, "broken pipe") || strings.Contains(msg, "eof"):
		return FailureTransient
	default:
		return FailureUnknown
	}
}

// ParseRetryAfter parses a Retry-After header value. Supports both the
// delta-seconds and HTTP-date forms; returns zero when absent or malformed
// so the default cooldown applies.
func ParseRetryAfter(header string, now time.Time) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
