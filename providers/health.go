package providers

import (
	"sort"
	"sync"
	"time"

	"nevis-proxy/observability"
)

// HealthThresholds configures when a credential is considered unhealthy.
type HealthThresholds struct {
	// ConsecutiveFailureLimit marks a credential unhealthy after this many
	// failures in a row.
	ConsecutiveFailureLimit int
	// ErrorRateWindow is the number of most recent attempts considered for
	// the error-rate check.
	ErrorRateWindow int
	// ErrorRateLimit marks a credential unhealthy when the failure share of
	// the window exceeds it (only once the window is full).
	ErrorRateLimit float64
	// DefaultCooldown applies to rate-limit failures that carry no
	// retry-after hint.
	DefaultCooldown time.Duration
}

// DefaultHealthThresholds returns the thresholds from the default config.
var DefaultHealthThresholds = HealthThresholds{
	ConsecutiveFailureLimit: 5,
	ErrorRateWindow:         20,
	ErrorRateLimit:          0.5,
	DefaultCooldown:         60 * time.Second,
}

// CredentialRecord is a read-only view of one credential's health state, as
// exposed by Snapshot for the operational health endpoint. It never contains
// the secret.
type CredentialRecord struct {
	ID            string    `json:"id"`
	Healthy       bool      `json:"is_healthy"`
	SuccessCount  uint64    `json:"success_count"`
	ErrorCount    uint64    `json:"error_count"`
	TotalRequests uint64    `json:"total_requests"`
	LastUsedAt    time.Time `json:"last_used_at"`
	LastError     string    `json:"last_error,omitempty"`

	// RateLimitResetAt holds active cooldowns keyed by capability. Vendors
	// rate-limit text and image endpoints independently, so cooldowns are
	// tracked per (credential, capability) pair. Expired entries are omitted.
	RateLimitResetAt map[Capability]time.Time `json:"rate_limit_reset_at,omitempty"`
}

// credentialState is the mutable health state for one credential. Each state
// carries its own mutex so bookkeeping for one credential never blocks
// traffic to another.
type credentialState struct {
	mu sync.Mutex

	id        string
	declIndex int

	healthy             bool
	successCount        uint64
	errorCount          uint64
	totalRequests       uint64
	consecutiveFailures int
	lastUsedAt          time.Time
	lastError           string

	// window holds the outcome of the most recent attempts, true = failure.
	window []bool

	resetAt map[Capability]time.Time
}

// HealthTracker owns the health state for one provider's credentials. It is
// the single source of truth for whether a credential may be used right now.
// The credential set is fixed at construction; only per-credential state
// mutates, under per-credential locks.
type HealthTracker struct {
	provider   string
	thresholds HealthThresholds
	order      []string
	creds      map[string]*credentialState

	now func() time.Time
}

// NewHealthTracker creates a tracker for the given credential ids, in
// declaration order. All credentials start healthy.
func NewHealthTracker(provider string, credentialIDs []string, thresholds HealthThresholds) *HealthTracker {
	t := &HealthTracker{
		provider:   provider,
		thresholds: thresholds,
		order:      append([]string(nil), credentialIDs...),
		creds:      make(map[string]*credentialState, len(credentialIDs)),
		now:        time.Now,
	}
	for i, id := range credentialIDs {
		t.creds[id] = &credentialState{
			id:        id,
			declIndex: i,
			healthy:   true,
			resetAt:   make(map[Capability]time.Time),
		}
	}
	return t
}

// RecordSuccess records a successful attempt for a credential. The capability
// cooldown for that operation is cleared and the credential is marked healthy.
func (t *HealthTracker) RecordSuccess(credentialID string, cap Capability) {
	c, ok := t.creds[credentialID]
	if !ok {
		return
	}

	c.mu.Lock()
	c.successCount++
	c.totalRequests++
	c.lastUsedAt = t.now()
	c.consecutiveFailures = 0
	c.healthy = true
	delete(c.resetAt, cap)
	c.pushOutcome(false, t.thresholds.ErrorRateWindow)
	c.mu.Unlock()

	metrics := observability.GetMetrics()
	metrics.SetCredentialHealthy(t.provider, credentialID, true)
	metrics.SetCredentialCooldown(t.provider, credentialID, string(cap), false)
}

// RecordFailure records a failed attempt and applies the classification rules:
// rate limits and exhausted quota start a cooldown, auth and request-shape
// rejections mark the credential unhealthy outright, and everything else
// counts toward the rolling health threshold.
func (t *HealthTracker) RecordFailure(credentialID string, cap Capability, gerr *GenerationError) {
	c, ok := t.creds[credentialID]
	if !ok {
		return
	}

	now := t.now()
	cooling := false

	c.mu.Lock()
	c.errorCount++
	c.totalRequests++
	c.lastUsedAt = now
	c.lastError = gerr.Error()
	c.consecutiveFailures++
	c.pushOutcome(true, t.thresholds.ErrorRateWindow)

	switch gerr.Kind {
	case FailureRateLimited, FailureQuotaExhausted:
		cooldown := gerr.RetryAfter
		if cooldown <= 0 {
			cooldown = t.thresholds.DefaultCooldown
		}
		c.resetAt[cap] = now.Add(cooldown)
		cooling = true
	case FailureUnauthorized, FailureInvalidRequest:
		// No reset time: recovering needs operator intervention.
		c.healthy = false
	}

	if c.consecutiveFailures >= t.thresholds.ConsecutiveFailureLimit {
		c.healthy = false
	}
	if len(c.window) >= t.thresholds.ErrorRateWindow && c.windowFailureRate() > t.thresholds.ErrorRateLimit {
		c.healthy = false
	}
	healthy := c.healthy
	c.mu.Unlock()

	metrics := observability.GetMetrics()
	metrics.SetCredentialHealthy(t.provider, credentialID, healthy)
	if cooling {
		metrics.SetCredentialCooldown(t.provider, credentialID, string(cap), true)
	}
}

// IsUsable reports whether a credential may serve the given capability right
// now. A reset time in the past is equivalent to no reset time.
func (t *HealthTracker) IsUsable(credentialID string, cap Capability, now time.Time) bool {
	c, ok := t.creds[credentialID]
	if !ok {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.healthy {
		return false
	}
	reset, exists := c.resetAt[cap]
	return !exists || !reset.After(now)
}

// CoolingDown reports whether a credential has an active rate-limit cooldown
// for the given capability.
func (t *HealthTracker) CoolingDown(credentialID string, cap Capability, now time.Time) bool {
	c, ok := t.creds[credentialID]
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	reset, exists := c.resetAt[cap]
	return exists && reset.After(now)
}

// RankCandidates returns all credential ids ordered for attempt: usable ones
// first, by fewest recent failures, then least recently used, then smallest
// total request count, then declaration order. Unusable credentials follow in
// declaration order so a last-resort policy can still reach them.
func (t *HealthTracker) RankCandidates(cap Capability, now time.Time) []string {
	type ranked struct {
		id             string
		usable         bool
		recentFailures int
		lastUsedAt     time.Time
		totalRequests  uint64
		declIndex      int
	}

	entries := make([]ranked, 0, len(t.order))
	for _, id := range t.order {
		c := t.creds[id]
		c.mu.Lock()
		reset, hasReset := c.resetAt[cap]
		entries = append(entries, ranked{
			id:             id,
			usable:         c.healthy && (!hasReset || !reset.After(now)),
			recentFailures: c.windowFailureCount(),
			lastUsedAt:     c.lastUsedAt,
			totalRequests:  c.totalRequests,
			declIndex:      c.declIndex,
		})
		c.mu.Unlock()
	}

	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.usable != b.usable {
			return a.usable
		}
		if !a.usable {
			return a.declIndex < b.declIndex
		}
		if a.recentFailures != b.recentFailures {
			return a.recentFailures < b.recentFailures
		}
		if !a.lastUsedAt.Equal(b.lastUsedAt) {
			return a.lastUsedAt.Before(b.lastUsedAt)
		}
		if a.totalRequests != b.totalRequests {
			return a.totalRequests < b.totalRequests
		}
		return a.declIndex < b.declIndex
	})

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids
}

// Snapshot returns a read-only copy of all credential records in declaration
// order. This is the only sanctioned side-channel read; it may lag live
// mutations slightly but never blocks routing.
func (t *HealthTracker) Snapshot() []CredentialRecord {
	now := t.now()
	records := make([]CredentialRecord, 0, len(t.order))
	for _, id := range t.order {
		c := t.creds[id]
		c.mu.Lock()
		rec := CredentialRecord{
			ID:            c.id,
			Healthy:       c.healthy,
			SuccessCount:  c.successCount,
			ErrorCount:    c.errorCount,
			TotalRequests: c.totalRequests,
			LastUsedAt:    c.lastUsedAt,
			LastError:     c.lastError,
		}
		for capability, reset := range c.resetAt {
			if reset.After(now) {
				if rec.RateLimitResetAt == nil {
					rec.RateLimitResetAt = make(map[Capability]time.Time)
				}
				rec.RateLimitResetAt[capability] = reset
			}
		}
		c.mu.Unlock()
		records = append(records, rec)
	}
	return records
}

// Provider returns the provider name this tracker belongs to.
func (t *HealthTracker) Provider() string {
	return t.provider
}

// pushOutcome appends an attempt outcome to the rolling window, keeping at
// most `limit` entries. Caller holds c.mu.
func (c *credentialState) pushOutcome(failure bool, limit int) {
	c.window = append(c.window, failure)
	if len(c.window) > limit {
		c.window = c.window[len(c.window)-limit:]
	}
}

// windowFailureCount counts failures in the rolling window. Caller holds c.mu.
func (c *credentialState) windowFailureCount() int {
	n := 0
	for _, failed := range c.window {
		if failed {
			n++
		}
	}
	return n
}

// windowFailureRate returns the failure share of the rolling window.
// Caller holds c.mu.
func (c *credentialState) windowFailureRate() float64 {
	if len(c.window) == 0 {
		return 0
	}
	return float64(c.windowFailureCount()) / float64(len(c.window))
}
