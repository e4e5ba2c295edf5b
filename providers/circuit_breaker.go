package providers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"nevis-proxy/observability"
)

// BreakerConfig holds configuration for a circuit breaker
type BreakerConfig struct {
	MaxRequests uint32        // max requests allowed in half-open state
	Interval    time.Duration // cyclic period of the closed state to clear counts
	Timeout     time.Duration // period of the open state before transitioning to half-open
}

// DefaultBreakerConfig returns sensible defaults
var DefaultBreakerConfig = BreakerConfig{
	MaxRequests: 5,
	Interval:    1 * time.Minute,
	Timeout:     30 * time.Second,
}

// ErrBreakerOpen is returned when an attempt is rejected because the
// provider's circuit breaker is open or saturated in half-open state.
var ErrBreakerOpen = errors.New("provider circuit breaker open")

// BreakerRegistry manages one circuit breaker per provider. It is constructed
// once at startup and injected into the orchestrator; there is no global
// instance.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker[*GenerationResult]
	config   BreakerConfig
}

// NewBreakerRegistry creates a new registry with the given config
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker[*GenerationResult]),
		config:   config,
	}
}

// GetBreaker returns (or creates) the circuit breaker for a provider
func (r *BreakerRegistry) GetBreaker(provider string) *gobreaker.CircuitBreaker[*GenerationResult] {
	r.mu.RLock()
	cb, exists := r.breakers[provider]
	r.mu.RUnlock()

	if exists {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if cb, exists = r.breakers[provider]; exists {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        provider,
		MaxRequests: r.config.MaxRequests,
		Interval:    r.config.Interval,
		Timeout:     r.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip the breaker if failure ratio exceeds 50% with at least 5 requests
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			observability.Warn("circuit breaker state change",
				"provider", name,
				"from", from.String(),
				"to", to.String())

			metrics := observability.GetMetrics()
			metrics.SetCircuitBreakerState(name, breakerStateToInt(to))
			if to == gobreaker.StateOpen {
				metrics.RecordCircuitBreakerTrip(name)
			}
		},
	}

	cb = gobreaker.NewCircuitBreaker[*GenerationResult](settings)
	r.breakers[provider] = cb

	return cb
}

// Execute runs the given function through the provider's circuit breaker.
// A rejection by the breaker itself is reported as ErrBreakerOpen so the
// orchestrator can skip the provider without touching credential health.
func (r *BreakerRegistry) Execute(ctx context.Context, provider string, fn func() (*GenerationResult, error)) (*GenerationResult, error) {
	cb := r.GetBreaker(provider)

	result, err := cb.Execute(func() (*GenerationResult, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return fn()
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			observability.Warn("circuit breaker rejecting request", "provider", provider)
			return nil, ErrBreakerOpen
		}
	}

	return result, err
}

// BreakerStatus represents the current state of a provider's circuit breaker
type BreakerStatus struct {
	Provider         string `json:"provider"`
	State            string `json:"state"`
	Requests         uint32 `json:"requests"`
	TotalSuccesses   uint32 `json:"total_successes"`
	TotalFailures    uint32 `json:"total_failures"`
	ConsecutiveSucc  uint32 `json:"consecutive_successes"`
	ConsecutiveFails uint32 `json:"consecutive_failures"`
}

// Status returns the current state of all circuit breakers
func (r *BreakerRegistry) Status() map[string]BreakerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[string]BreakerStatus)
	for provider, cb := range r.breakers {
		counts := cb.Counts()
		status[provider] = BreakerStatus{
			Provider:         provider,
			State:            cb.State().String(),
			Requests:         counts.Requests,
			TotalSuccesses:   counts.TotalSuccesses,
			TotalFailures:    counts.TotalFailures,
			ConsecutiveSucc:  counts.ConsecutiveSuccesses,
			ConsecutiveFails: counts.ConsecutiveFailures,
		}
	}
	return status
}

// breakerStateToInt converts a circuit breaker state to an integer for metrics
// 0=closed, 1=half-open, 2=open
func breakerStateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
