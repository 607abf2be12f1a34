package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/mindfulchat/meditation-gateway/internal/clock"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Requests fail immediately
	StateHalfOpen                     // Probing whether the service recovered
)

func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// StateObserver is told about every state transition.
type StateObserver func(name string, state CircuitState)

// CircuitBreaker protects a remote service (ElevenLabs, GitHub, Supabase, Tavus)
// from being hammered while it is failing.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	clock        clock.Clock
	observer     StateObserver
	onFailure    func(name string)

	mu                sync.Mutex
	state             CircuitState
	failureCount      int
	halfOpenInFlight  int
	successCount      int
	lastFailTime      time.Time
	requestCount      int64
	failureCountTotal int64
}

// BreakerOption customizes a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock injects the clock used for the reset timeout.
func WithClock(c clock.Clock) BreakerOption {
	return func(cb *CircuitBreaker) { cb.clock = c }
}

// WithStateObserver registers a callback for state transitions.
func WithStateObserver(o StateObserver) BreakerOption {
	return func(cb *CircuitBreaker) { cb.observer = o }
}

// WithFailureObserver registers a callback for every counted failure. It
// runs under the breaker's lock and must not call back into it.
func WithFailureObserver(fn func(name string)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onFailure = fn }
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  3,
		clock:        clock.Real(),
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the protected service name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Call executes fn with circuit breaker protection. Errors for which
// countsAsFailure returns false (or all errors when it is nil) still reach
// the caller; only counted ones move the breaker toward open.
func (cb *CircuitBreaker) Call(fn func() error, countsAsFailure func(error) bool) error {
	if !cb.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	failed := err != nil
	if failed && countsAsFailure != nil {
		failed = countsAsFailure(err)
	}
	cb.RecordResult(!failed)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if cb.clock.Now().Sub(cb.lastFailTime) >= cb.resetTimeout {
			cb.setStateLocked(StateHalfOpen)
			cb.halfOpenInFlight = 1
			cb.successCount = 0
			return true
		}
		return false

	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.halfOpenMax {
			cb.halfOpenInFlight++
			return true
		}
		return false
	}

	return false
}

// RecordResult records the outcome of a request made outside Call.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requestCount++
	if success {
		cb.recordSuccessLocked()
	} else {
		cb.recordFailureLocked()
	}
}

func (cb *CircuitBreaker) recordSuccessLocked() {
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMax {
			cb.setStateLocked(StateClosed)
			cb.failureCount = 0
			cb.halfOpenInFlight = 0
			cb.successCount = 0
		}
	}
}

func (cb *CircuitBreaker) recordFailureLocked() {
	cb.failureCountTotal++
	cb.lastFailTime = cb.clock.Now()
	if cb.onFailure != nil {
		cb.onFailure(cb.name)
	}

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.maxFailures {
			cb.setStateLocked(StateOpen)
		}

	case StateHalfOpen:
		// any failure while probing reopens immediately
		cb.setStateLocked(StateOpen)
		cb.halfOpenInFlight = 0
		cb.successCount = 0
	}
}

func (cb *CircuitBreaker) setStateLocked(s CircuitState) {
	if cb.state == s {
		return
	}
	cb.state = s
	if cb.observer != nil {
		cb.observer(cb.name, s)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns request and failure totals and the failure rate in percent.
func (cb *CircuitBreaker) GetStats() (state CircuitState, requestCount, failureCount int64, failureRate float64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state = cb.state
	requestCount = cb.requestCount
	failureCount = cb.failureCountTotal
	if requestCount > 0 {
		failureRate = float64(failureCount) / float64(requestCount) * 100.0
	}
	return
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setStateLocked(StateClosed)
	cb.failureCount = 0
	cb.halfOpenInFlight = 0
	cb.successCount = 0
	cb.requestCount = 0
	cb.failureCountTotal = 0
}
