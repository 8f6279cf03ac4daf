// Package resilience provides retry and circuit breaker helpers for calls to
// external providers, plus the error classes the engine branches on.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset timeout elapses.
	CircuitOpen
	// CircuitHalfOpen lets probe calls through.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned when a call is rejected by an open circuit.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// CircuitBreakerConfig controls circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes successful probes close the circuit again. Default: 1.
	HalfOpenMaxProbes int

	// ShouldTrip decides which errors count as failures. Default: any error.
	ShouldTrip func(err error) bool

	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitConfig returns the defaults applied by NewCircuitBreaker.
func DefaultCircuitConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// NewCircuitConfig builds a CircuitBreakerConfig from config values.
func NewCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := CircuitBreakerConfig{FailureThreshold: failureThreshold}
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

// CircuitBreaker guards a single provider.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     CircuitState
	failures  int
	openedAt  time.Time
	successes int

	now func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = 1
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := ExecuteVal(ctx, cb, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteVal is Execute for functions that return a value.
func ExecuteVal[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := cb.admit(); err != nil {
		var zero T
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// State returns the current state, reporting half-open once an open circuit
// has waited out its reset timeout.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the circuit closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures, cb.successes = 0, 0
	cb.moveTo(CircuitClosed)
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return nil
	}
	if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
		return ErrCircuitOpen
	}
	cb.successes = 0
	cb.moveTo(CircuitHalfOpen)
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !cb.cfg.ShouldTrip(err) {
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.HalfOpenMaxProbes {
				cb.moveTo(CircuitClosed)
			}
		}
		return
	}

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.openedAt = cb.now()
		cb.moveTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
