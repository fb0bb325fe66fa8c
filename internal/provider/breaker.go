package provider

import (
	"sync"
	"time"
)

// BreakerState is the state of a circuit breaker. The numeric values double
// as the circuit-state gauge values exported by the metrics collector.
type BreakerState int

const (
	// BreakerClosed means the circuit is healthy; requests flow through.
	BreakerClosed BreakerState = iota
	// BreakerOpen means the circuit has tripped; requests are rejected.
	BreakerOpen
	// BreakerHalfOpen means the circuit is testing recovery.
	BreakerHalfOpen
)

// String returns the state name used in status payloads and logs.
func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker tracks one provider's failures with three states:
// Closed → Open (after failureThreshold consecutive failures)
// Open → HalfOpen (after resetTimeout elapses)
// HalfOpen → Closed (after halfOpenMax consecutive successes) or back to
// Open on any failure.
type CircuitBreaker struct {
	mu sync.Mutex

	state            BreakerState
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMax      int

	consecutiveFailures int
	halfOpenSuccesses   int
	lastFailureTime     time.Time

	now func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given parameters.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, halfOpenMax int) *CircuitBreaker {
	return &CircuitBreaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		halfOpenMax:      halfOpenMax,
		now:              time.Now,
	}
}

// Allow reports whether a request should be permitted through the circuit.
// In the Open state it transitions to HalfOpen once the reset timeout has
// elapsed, consuming the transition.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.resetTimeout {
			cb.state = BreakerHalfOpen
			cb.halfOpenSuccesses = 0
			return true
		}
		return false
	case BreakerHalfOpen:
		return true
	default:
		return true
	}
}

// Available reports whether a request would currently be allowed, without
// changing state. An open circuit whose cooldown has elapsed counts as
// available since the next Allow would let a probe through.
func (cb *CircuitBreaker) Available() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerOpen {
		return true
	}
	return cb.now().Sub(cb.lastFailureTime) >= cb.resetTimeout
}

// RecordSuccess records a successful request. In HalfOpen state, after
// enough successes the circuit transitions back to Closed.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0

	if cb.state == BreakerHalfOpen {
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.halfOpenMax {
			cb.state = BreakerClosed
		}
	}
}

// RecordFailure records a failed request. In Closed state, transitions to
// Open after the failure threshold is reached. In HalfOpen state,
// transitions directly back to Open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case BreakerClosed:
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.state = BreakerOpen
		}
	case BreakerHalfOpen:
		cb.state = BreakerOpen
		cb.halfOpenSuccesses = 0
	}
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerRegistry holds per-provider circuit breakers, created lazily on
// first access with shared default parameters.
type BreakerRegistry struct {
	mu sync.Mutex

	breakers         map[string]*CircuitBreaker
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMax      int
}

// NewBreakerRegistry creates a registry with the given default parameters.
func NewBreakerRegistry(failureThreshold int, resetTimeout time.Duration, halfOpenMax int) *BreakerRegistry {
	return &BreakerRegistry{
		breakers:         make(map[string]*CircuitBreaker),
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		halfOpenMax:      halfOpenMax,
	}
}

// Get returns the circuit breaker for the provider, creating one if needed.
func (r *BreakerRegistry) Get(provider string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[provider]
	if !ok {
		cb = NewCircuitBreaker(r.failureThreshold, r.resetTimeout, r.halfOpenMax)
		r.breakers[provider] = cb
	}
	return cb
}

// Available reports whether the provider's circuit would admit a request.
// Providers without a breaker yet are available; no breaker is created.
func (r *BreakerRegistry) Available(provider string) bool {
	r.mu.Lock()
	cb, ok := r.breakers[provider]
	r.mu.Unlock()

	if !ok {
		return true
	}
	return cb.Available()
}

// States returns a snapshot of every tracked provider's breaker state.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]BreakerState, len(r.breakers))
	for provider, cb := range r.breakers {
		out[provider] = cb.State()
	}
	return out
}
