package webhook

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed allows all deliveries through.
	StateClosed State = iota
	// StateOpen rejects all deliveries.
	StateOpen
	// StateHalfOpen allows a single probe delivery.
	StateHalfOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker parameters.
type BreakerConfig struct {
	Failures    int           // consecutive failures that trip the breaker
	OpenTimeout time.Duration // time in OPEN before a probe is allowed
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Failures: 5, OpenTimeout: 30 * time.Second}
}

// breaker guards one endpoint. It trips after a run of consecutive failures.
type breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	openedAt    time.Time
	probing     bool
	threshold   int
	openTimeout time.Duration
	now         func() time.Time
}

func newBreaker(cfg BreakerConfig) *breaker {
	if cfg.Failures <= 0 {
		cfg.Failures = DefaultBreakerConfig().Failures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	return &breaker{threshold: cfg.Failures, openTimeout: cfg.OpenTimeout, now: time.Now}
}

// State returns the current breaker state.
func (b *breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a delivery may proceed.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.openTimeout {
			return false
		}
		// Allow this delivery as the probe.
		b.state = StateHalfOpen
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Success records a delivered event.
func (b *breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// Failure records a failed delivery.
func (b *breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	switch b.state {
	case StateClosed:
		if b.failures >= b.threshold {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	case StateHalfOpen:
		// Probe failed: reopen.
		b.state = StateOpen
		b.openedAt = b.now()
		b.probing = false
	}
}
