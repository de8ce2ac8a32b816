// Package circuit provides per-stage circuit breakers so a transport that keeps
// failing is skipped for a while instead of costing every call its timeout.
package circuit

import (
	"errors"
	"sync"
	"time"

	common "github.com/actual-software/re-bridge/pkg/common/config"
)

// ErrOpen is returned by Call when the circuit is open.
var ErrOpen = errors.New("circuit breaker is open (failing fast)")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed indicates the circuit breaker is closed and requests are allowed through.
	StateClosed State = iota
	// StateOpen indicates the circuit breaker is open and requests are rejected.
	StateOpen
	// StateHalfOpen indicates the circuit breaker lets a probe through to test recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// StateListener is notified after every state change.
type StateListener func(name string, from, to State)

// CircuitBreaker implements the circuit breaker pattern. The open to half-open
// transition happens lazily on the next call once the timeout has elapsed.
type CircuitBreaker struct {
	name             string
	maxFailures      int
	successThreshold int
	timeout          time.Duration
	listener         StateListener
	now              func() time.Time

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, maxFailures, successThreshold int, timeout time.Duration, listener StateListener) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}

	if successThreshold <= 0 {
		successThreshold = 1
	}

	return &CircuitBreaker{
		name:             name,
		maxFailures:      maxFailures,
		successThreshold: successThreshold,
		timeout:          timeout,
		listener:         listener,
		now:              time.Now,
		state:            StateClosed,
	}
}

// Name returns the stage the breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed, moving an expired open circuit to half-open.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.timeout {
		cb.setState(StateHalfOpen)
		cb.successes = 0
	}

	return cb.state != StateOpen
}

// Call executes fn through the circuit breaker.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.Allow() {
		return ErrOpen
	}

	err := fn()
	cb.Record(err)

	return err
}

// Record records the outcome of a call made after Allow.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}
}

// recordFailure records a failure and potentially opens the circuit.
func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.maxFailures {
			cb.setState(StateOpen)
			cb.failures = 0
		}
	case StateHalfOpen:
		// Any failure in half-open state reopens the circuit
		cb.setState(StateOpen)
		cb.failures = 0
	case StateOpen:
	}
}

// recordSuccess records a success and potentially closes the circuit.
func (cb *CircuitBreaker) recordSuccess() {
	cb.failures = 0

	switch cb.state {
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.setState(StateClosed)
			cb.successes = 0
		}
	case StateClosed:
	case StateOpen:
	}
}

// setState changes the state and notifies the listener. Caller holds cb.mu.
func (cb *CircuitBreaker) setState(state State) {
	from := cb.state
	cb.state = state

	if cb.listener != nil && from != state {
		cb.listener(cb.name, from, state)
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(StateClosed)
	cb.failures = 0
	cb.successes = 0
}

// Set holds one breaker per stage, created on first use from shared settings.
// A disabled Set lets every call through.
type Set struct {
	cfg      common.CircuitBreakerConfig
	listener StateListener

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewSet creates a Set from configuration.
func NewSet(cfg common.CircuitBreakerConfig, listener StateListener) *Set {
	return &Set{
		cfg:      cfg,
		listener: listener,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for a stage, or nil when breakers are disabled.
func (s *Set) Get(stage string) *CircuitBreaker {
	if s == nil || !s.cfg.Enabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.breakers[stage]
	if !ok {
		cb = NewCircuitBreaker(stage, s.cfg.FailureThreshold, s.cfg.SuccessThreshold, s.cfg.GetTimeout(), s.listener)
		s.breakers[stage] = cb
	}

	return cb
}

// Allow reports whether stage may be attempted.
func (s *Set) Allow(stage string) bool {
	cb := s.Get(stage)

	return cb == nil || cb.Allow()
}

// Record records the outcome of an attempted stage.
func (s *Set) Record(stage string, err error) {
	if cb := s.Get(stage); cb != nil {
		cb.Record(err)
	}
}

// States returns the state of every breaker created so far.
func (s *Set) States() map[string]State {
	out := make(map[string]State)

	if s == nil {
		return out
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, cb := range s.breakers {
		out[name] = cb.GetState()
	}

	return out
}
