// Package resilience provides the circuit breaker guarding broker reads.
package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// Config holds circuit breaker configuration.
type Config struct {
	// FailureThreshold is the number of transport-class failures before
	// opening the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open state to
	// close again.
	SuccessThreshold int
	// Cooldown is how long an open circuit rejects before probing.
	Cooldown time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// Breaker tracks one broker's transport health. Broker rejections and
// validation failures never count against it; only failures that suggest the
// upstream is down or unreachable do.
type Breaker struct {
	config Config

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	lastFailureTime time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(config Config) *Breaker {
	return &Breaker{config: config, state: CircuitClosed}
}

// Allow reports whether a request may proceed. An open breaker rejects until
// the cooldown passes, then admits a single probe in half-open state.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if time.Since(b.lastFailureTime) > b.config.Cooldown {
			b.transitionTo(CircuitHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess notes a completed call, including broker-side rejections.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(CircuitClosed)
		}
	case CircuitClosed:
		b.failures = 0
	}
}

// RecordFailure notes a transport-class failure.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()
	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.transitionTo(CircuitOpen)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transitionTo(state CircuitState) {
	b.state = state
	b.failures = 0
	b.successes = 0
}

// Set holds one breaker per broker, created on first use.
type Set struct {
	config   Config
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet creates an empty breaker set.
func NewSet(config Config) *Set {
	return &Set{config: config, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for a broker, creating it if needed.
func (s *Set) For(broker string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[broker]
	if !ok {
		b = NewBreaker(s.config)
		s.breakers[broker] = b
	}
	return b
}
