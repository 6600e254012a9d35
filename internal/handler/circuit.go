package handler

import (
	"sync"
	"time"
)

// CircuitState mirrors the teacher's scheduler.CircuitState enum, renamed
// to the per-event-name breaker the Handler Runtime owns (spec.md §4.6.4)
// instead of the teacher's single scheduler-wide queue-depth breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half_open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// circuitBreaker opens after threshold consecutive body failures
// (spec.md §4.6.4), short-circuiting to the handler's declared fallback
// until cooldown elapses, then allows one probe in half-open.
type circuitBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	threshold           int
	cooldown            time.Duration
	consecutiveFailures int
	openedAt            time.Time
	testLimit           int
	testCount           int
	testSuccesses       int
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &circuitBreaker{state: CircuitClosed, threshold: threshold, cooldown: cooldown, testLimit: 1}
}

// allow reports whether a call should run the body, transitioning
// Open->HalfOpen once cooldown has elapsed.
func (cb *circuitBreaker) allow() (bool, CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.openedAt) >= cb.cooldown {
		cb.state = CircuitHalfOpen
		cb.testCount = 0
		cb.testSuccesses = 0
	}
	if cb.state == CircuitOpen {
		return false, cb.state
	}
	if cb.state == CircuitHalfOpen {
		if cb.testCount >= cb.testLimit {
			return false, cb.state
		}
		cb.testCount++
	}
	return true, cb.state
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFailures = 0
	if cb.state == CircuitHalfOpen {
		cb.testSuccesses++
		if cb.testSuccesses >= cb.testLimit {
			cb.state = CircuitClosed
		}
	}
}

func (cb *circuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
		return
	}
	cb.consecutiveFailures++
	if cb.consecutiveFailures >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = time.Now()
	}
}

func (cb *circuitBreaker) currentState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
