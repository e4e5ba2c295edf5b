package providers

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"nevis-proxy/observability"
)

// OrchestratorConfig holds fallback timing and policy configuration.
type OrchestratorConfig struct {
	// AttemptTimeout bounds a single adapter call regardless of adapter
	// behavior; a hung call is abandoned and the next candidate is tried.
	AttemptTimeout time.Duration
	// OverallTimeout is the wall-clock ceiling across all attempts of one
	// request.
	OverallTimeout time.Duration
	// AttemptUnusable allows trying cooling-down or unhealthy credentials as
	// a last resort instead of skipping them.
	AttemptUnusable bool
	// ProxyEnabled feeds the cost-control route decision.
	ProxyEnabled bool
}

// DefaultOrchestratorConfig returns the defaults from the config surface.
var DefaultOrchestratorConfig = OrchestratorConfig{
	AttemptTimeout: 30 * time.Second,
	OverallTimeout: 120 * time.Second,
}

// Entry pairs an adapter with its configured priority for registration.
type Entry struct {
	Adapter  Adapter
	Priority int
}

// registration is an adapter bound to its health tracker. Lower priority is
// attempted first; ties break by declaration order.
type registration struct {
	adapter   Adapter
	tracker   *HealthTracker
	priority  int
	declIndex int
}

// Orchestrator is the only component that decides which provider and
// credential to try, in what order, and when to give up. Attempts for one
// request are strictly sequential: parallel fan-out would multiply billable
// calls for a single logical request.
type Orchestrator struct {
	regs     []registration
	breakers *BreakerRegistry
	cfg      OrchestratorConfig

	now func() time.Time
}

// NewOrchestrator builds the registry of adapters and their health trackers.
// Construction fails when a capability has no adapter at all: a deployment
// that would fail every text or image request must refuse to start instead.
func NewOrchestrator(cfg OrchestratorConfig, breakers *BreakerRegistry, thresholds HealthThresholds, entries []Entry) (*Orchestrator, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no provider adapters configured")
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultOrchestratorConfig.AttemptTimeout
	}
	if cfg.OverallTimeout <= 0 {
		cfg.OverallTimeout = DefaultOrchestratorConfig.OverallTimeout
	}
	if breakers == nil {
		breakers = NewBreakerRegistry(DefaultBreakerConfig)
	}

	o := &Orchestrator{
		breakers: breakers,
		cfg:      cfg,
		now:      time.Now,
	}
	for i, e := range entries {
		o.regs = append(o.regs, registration{
			adapter:   e.Adapter,
			tracker:   NewHealthTracker(e.Adapter.Name(), e.Adapter.CredentialIDs(), thresholds),
			priority:  e.Priority,
			declIndex: i,
		})
	}
	sort.SliceStable(o.regs, func(i, j int) bool {
		if o.regs[i].priority != o.regs[j].priority {
			return o.regs[i].priority < o.regs[j].priority
		}
		return o.regs[i].declIndex < o.regs[j].declIndex
	})

	for _, cap := range []Capability{CapabilityText, CapabilityImage} {
		if len(o.candidates(cap)) == 0 {
			return nil, fmt.Errorf("no provider configured for capability %q", cap)
		}
	}

	return o, nil
}

// candidates returns the registrations supporting a capability, in attempt order.
func (o *Orchestrator) candidates(cap Capability) []registration {
	var out []registration
	for _, reg := range o.regs {
		if reg.adapter.Supports(cap) {
			out = append(out, reg)
		}
	}
	return out
}

// Generate is the sole entry point exposed to callers. It walks the fallback
// chain under the overall timeout budget and returns either the first success
// or the last classified failure, never a bare error.
func (o *Orchestrator) Generate(ctx context.Context, req *GenerationRequest) (*GenerationResult, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()

	if err := req.Validate(); err != nil {
		gerr := &GenerationError{Kind: FailureInvalidRequest, Message: err.Error()}
		timer.ObserveGeneration(string(req.Capability), "invalid")
		return nil, gerr
	}

	requestID := uuid.NewString()
	logger := observability.WithRequestID(requestID)

	// The route decision is evaluated once, before the candidate list is built.
	req.ViaProxy = RouteViaProxy(o.cfg.ProxyEnabled, req.UserTier, req.Feature)

	ctx, cancel := context.WithTimeout(ctx, o.cfg.OverallTimeout)
	defer cancel()

	attempts := 0
	coolingSkips := 0
	var lastErr *GenerationError

	for _, reg := range o.candidates(req.Capability) {
		name := reg.adapter.Name()

		providerDone := false
		for _, credID := range reg.tracker.RankCandidates(req.Capability, o.now()) {
			if ctx.Err() != nil {
				providerDone = true
				break
			}

			if !reg.tracker.IsUsable(credID, req.Capability, o.now()) {
				if !o.cfg.AttemptUnusable {
					if reg.tracker.CoolingDown(credID, req.Capability, o.now()) {
						coolingSkips++
					}
					logger.Debug("skipping unusable credential", "provider", name, "credential", credID)
					continue
				}
			}

			attempts++
			metrics.RecordProviderAttempt(name, string(req.Capability))
			attemptTimer := metrics.NewTimer()

			res, err := o.attempt(ctx, reg, credID, req)
			attemptTimer.ObserveProvider(name, string(req.Capability))

			if err == nil {
				reg.tracker.RecordSuccess(credID, req.Capability)
				logger.Info("generation succeeded",
					"provider", name,
					"credential", credID,
					"capability", req.Capability,
					"attempts", attempts)
				metrics.RecordFallbackDepth(string(req.Capability), attempts)
				timer.ObserveGeneration(string(req.Capability), "success")
				return res, nil
			}

			if err == ErrBreakerOpen {
				// Provider-level rejection, not a credential problem: leave
				// the credential's health alone and move to the next provider.
				lastErr = &GenerationError{
					Kind:     FailureTransient,
					Provider: name,
					Message:  "provider circuit breaker open",
					Cause:    err,
				}
				logger.Warn("provider skipped, circuit breaker open", "provider", name)
				providerDone = true
				break
			}

			gerr := o.toGenerationError(name, credID, err)
			reg.tracker.RecordFailure(credID, req.Capability, gerr)
			metrics.RecordProviderError(name, string(req.Capability), string(gerr.Kind))
			logger.Warn("attempt failed",
				"provider", name,
				"credential", credID,
				"kind", gerr.Kind,
				"error", gerr.Error())
			lastErr = gerr
		}

		if providerDone && ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		// Nothing was attempted. A dead context takes precedence so a client
		// disconnect is not mistaken for credential exhaustion.
		switch {
		case ctx.Err() != nil:
			lastErr = &GenerationError{
				Kind:    FailureTimeout,
				Message: "request context ended before any attempt",
				Cause:   ctx.Err(),
			}
		case coolingSkips > 0:
			lastErr = &GenerationError{Kind: FailureRateLimited, Message: "all credentials are cooling down"}
		default:
			lastErr = &GenerationError{Kind: FailureTransient, Message: "no usable credential for capability"}
		}
	}

	metrics.RecordFallbackDepth(string(req.Capability), attempts)
	metrics.RecordGenerationFailure(string(req.Capability), string(lastErr.Kind))
	timer.ObserveGeneration(string(req.Capability), "error")
	logger.Error("generation exhausted all candidates",
		"capability", req.Capability,
		"attempts", attempts,
		"kind", lastErr.Kind)
	return nil, lastErr
}

// attempt runs one adapter call through the provider's circuit breaker under
// the per-attempt timeout. The call runs in its own goroutine so an adapter
// that never returns is abandoned once the deadline passes; the cancelled
// context stops the underlying transport.
func (o *Orchestrator) attempt(ctx context.Context, reg registration, credID string, req *GenerationRequest) (*GenerationResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	type outcome struct {
		res *GenerationResult
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		res, err := o.breakers.Execute(attemptCtx, reg.adapter.Name(), func() (*GenerationResult, error) {
			return reg.adapter.Generate(attemptCtx, credID, req)
		})
		ch <- outcome{res: res, err: err}
	}()

	select {
	case out := <-ch:
		return out.res, out.err
	case <-attemptCtx.Done():
		return nil, &GenerationError{
			Kind:       FailureTimeout,
			Provider:   reg.adapter.Name(),
			Credential: credID,
			Message:    "attempt abandoned after timeout",
			Cause:      attemptCtx.Err(),
		}
	}
}

// toGenerationError normalizes an attempt error into a typed failure with
// provider and credential attribution filled in.
func (o *Orchestrator) toGenerationError(provider, credID string, err error) *GenerationError {
	if gerr, ok := AsGenerationError(err); ok {
		if gerr.Provider == "" {
			gerr.Provider = provider
		}
		if gerr.Credential == "" {
			gerr.Credential = credID
		}
		return gerr
	}
	return &GenerationError{
		Kind:       ClassifyError(err),
		Provider:   provider,
		Credential: credID,
		Message:    "attempt failed",
		Cause:      err,
	}
}

// ProviderHealth is one provider's credential health, as exposed by the
// operational health endpoint.
type ProviderHealth struct {
	Provider    string             `json:"provider"`
	Priority    int                `json:"priority"`
	Credentials []CredentialRecord `json:"credentials"`
}

// HealthSnapshot returns a read-only view of every provider's credential
// health. It never blocks live traffic.
func (o *Orchestrator) HealthSnapshot() []ProviderHealth {
	out := make([]ProviderHealth, 0, len(o.regs))
	for _, reg := range o.regs {
		out = append(out, ProviderHealth{
			Provider:    reg.adapter.Name(),
			Priority:    reg.priority,
			Credentials: reg.tracker.Snapshot(),
		})
	}
	return out
}

// BreakerStatus returns the current circuit breaker state per provider.
func (o *Orchestrator) BreakerStatus() map[string]BreakerStatus {
	return o.breakers.Status()
}

// Tracker returns the health tracker for a provider, or nil. Used by tests
// and the health endpoint; live routing goes through Generate only.
func (o *Orchestrator) Tracker(provider string) *HealthTracker {
	for _, reg := range o.regs {
		if reg.adapter.Name() == provider {
			return reg.tracker
		}
	}
	return nil
}
