// Package circuitbreaker short-circuits calls to an upstream that keeps failing.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wearable-sync/internal/logging"
)

// State represents the circuit breaker state
type State string

const (
	// StateClosed lets every call through
	StateClosed State = "closed"
	// StateOpen rejects calls until the cool-down elapses
	StateOpen State = "open"
	// StateHalfOpen lets a limited number of probe calls through
	StateHalfOpen State = "half_open"
)

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyRequests is returned when probe slots in half-open state are used up
var ErrTooManyRequests = errors.New("too many requests in half-open state")

// Config configures a circuit breaker
type Config struct {
	Name string
	// MinCalls is the number of calls observed before the failure rate is judged
	MinCalls int
	// FailureThreshold is the failure rate (0.0-1.0) that opens the circuit
	FailureThreshold float64
	// ConsecutiveFailures opens the circuit regardless of rate
	ConsecutiveFailures int
	// Cooldown is how long the circuit stays open before probing
	Cooldown time.Duration
	// HalfOpenProbes is the number of successful probes needed to close again
	HalfOpenProbes int

	// IsFailure decides which errors count against the upstream. Nil counts all.
	IsFailure func(error) bool
	// Now is the clock; nil uses time.Now
	Now func() time.Time
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig(name string) *Config {
	return &Config{
		Name:                name,
		MinCalls:            10,
		FailureThreshold:    0.5,
		ConsecutiveFailures: 10,
		Cooldown:            30 * time.Second,
		HalfOpenProbes:      3,
	}
}

// CircuitBreaker implements the circuit breaker pattern
type CircuitBreaker struct {
	cfg Config

	mu               sync.Mutex
	state            State
	calls            int
	failures         int
	consecutiveFails int
	probesInFlight   int
	probeSuccesses   int
	openedAt         time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig("default")
	}
	cfg := *config
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 1
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn unless the circuit is open. Context cancellation is
// never counted as an upstream failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn()

	counted := err != nil && ctx.Err() == nil
	if counted && cb.cfg.IsFailure != nil {
		counted = cb.cfg.IsFailure(err)
	}
	cb.afterCall(counted)

	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probesInFlight++
		return nil
	case StateHalfOpen:
		if cb.probesInFlight >= cb.cfg.HalfOpenProbes {
			return ErrTooManyRequests
		}
		cb.probesInFlight++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterCall(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.probesInFlight--
		if failed {
			cb.trip()
			return
		}
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.cfg.HalfOpenProbes {
			cb.transition(StateClosed)
		}
		return
	}

	cb.calls++
	if !failed {
		cb.consecutiveFails = 0
		return
	}

	cb.failures++
	cb.consecutiveFails++
	if cb.shouldTrip() {
		cb.trip()
	}
}

func (cb *CircuitBreaker) shouldTrip() bool {
	if cb.cfg.ConsecutiveFailures > 0 && cb.consecutiveFails >= cb.cfg.ConsecutiveFailures {
		return true
	}
	if cb.calls < cb.cfg.MinCalls {
		return false
	}
	return float64(cb.failures)/float64(cb.calls) >= cb.cfg.FailureThreshold
}

func (cb *CircuitBreaker) trip() {
	logging.WithFields(map[string]interface{}{
		"circuitBreaker":   cb.cfg.Name,
		"failures":         cb.failures,
		"calls":            cb.calls,
		"consecutiveFails": cb.consecutiveFails,
	}).Warn("Circuit breaker opened")
	cb.transition(StateOpen)
	cb.openedAt = cb.cfg.Now()
}

// transition moves to state and clears the counters of the previous window
func (cb *CircuitBreaker) transition(state State) {
	if cb.state != state {
		logging.WithFields(map[string]interface{}{
			"circuitBreaker": cb.cfg.Name,
			"from":           cb.state,
			"to":             state,
		}).Info("Circuit breaker state change")
	}
	cb.state = state
	cb.calls = 0
	cb.failures = 0
	cb.consecutiveFails = 0
	cb.probesInFlight = 0
	cb.probeSuccesses = 0
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name             string `json:"name"`
	State            State  `json:"state"`
	Calls            int    `json:"calls"`
	Failures         int    `json:"failures"`
	ConsecutiveFails int    `json:"consecutiveFails"`
}

// GetStats returns a snapshot of the current window
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:             cb.cfg.Name,
		State:            cb.state,
		Calls:            cb.calls,
		Failures:         cb.failures,
		ConsecutiveFails: cb.consecutiveFails,
	}
}

// Reset manually closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}
