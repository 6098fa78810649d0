package router

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen indicates the circuit breaker is open for a fallback pair.
var ErrCircuitOpen = errors.New("circuit breaker open")

// circuitBreaker tracks per-(plugin,credential) health and prevents
// requests to a pair with too many consecutive recent failures. It is
// keyed on fallback pair labels rather than bare provider names.
type circuitBreaker struct {
	mu               sync.RWMutex
	states           map[string]*circuitState
	failureThreshold int
	recoveryTimeout  time.Duration
}

type circuitState struct {
	consecutiveFailures int
	lastFailureTime     time.Time
	open                bool
}

// Status reports the observable state of one fallback pair's breaker.
type Status struct {
	Open                bool
	ConsecutiveFailures int
	LastFailureTime     time.Time
}

func newCircuitBreaker(threshold int, timeout time.Duration) *circuitBreaker {
	return &circuitBreaker{
		states:           make(map[string]*circuitState),
		failureThreshold: threshold,
		recoveryTimeout:  timeout,
	}
}

func (cb *circuitBreaker) allowRequest(label string) bool {
	cb.mu.RLock()
	state, exists := cb.states[label]
	cb.mu.RUnlock()

	if !exists {
		return true
	}
	if state.open {
		if time.Since(state.lastFailureTime) > cb.recoveryTimeout {
			cb.mu.Lock()
			state.open = false
			state.consecutiveFailures = 0
			cb.mu.Unlock()
			return true
		}
		return false
	}
	return true
}

func (cb *circuitBreaker) recordSuccess(label string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, exists := cb.states[label]
	if !exists {
		cb.states[label] = &circuitState{}
		return
	}
	state.consecutiveFailures = 0
	state.open = false
}

func (cb *circuitBreaker) recordFailure(label string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, exists := cb.states[label]
	if !exists {
		state = &circuitState{}
		cb.states[label] = state
	}
	state.consecutiveFailures++
	state.lastFailureTime = time.Now()
	if state.consecutiveFailures >= cb.failureThreshold {
		state.open = true
	}
}

// Status returns a snapshot of every fallback pair's breaker state.
func (cb *circuitBreaker) Status() map[string]Status {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	out := make(map[string]Status, len(cb.states))
	for label, state := range cb.states {
		out[label] = Status{
			Open:                state.open,
			ConsecutiveFailures: state.consecutiveFailures,
			LastFailureTime:     state.lastFailureTime,
		}
	}
	return out
}
