package connectivity

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // Normal operation, calls pass through.
	BreakerOpen                         // Calls rejected immediately.
	BreakerHalfOpen                     // One trial call allowed to test recovery.
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive failures for one source.
// Thread-safe: all state transitions use a mutex.
type CircuitBreaker struct {
	mu           sync.Mutex
	name         string
	state        BreakerState
	failures     int
	threshold    int           // consecutive failures before opening
	resetTimeout time.Duration // how long to stay open before half-open
	lastFailure  time.Time
	nextAttempt  time.Time
	trial        bool // a half-open trial is in flight
	now          func() time.Time
	logger       *slog.Logger
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerThreshold sets the failure count that trips the breaker open.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.threshold = n
		}
	}
}

// WithBreakerResetTimeout sets how long the breaker stays open before
// transitioning to half-open.
func WithBreakerResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) {
		if d > 0 {
			cb.resetTimeout = d
		}
	}
}

// WithBreakerClock sets a custom clock function (for testing).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// WithBreakerLogger logs state transitions.
func WithBreakerLogger(l *slog.Logger) BreakerOption {
	return func(cb *CircuitBreaker) { cb.logger = l }
}

// NewCircuitBreaker creates a breaker for the named source:
// 5 failures to open, 60s reset timeout.
func NewCircuitBreaker(name string, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		state:        BreakerClosed,
		threshold:    5,
		resetTimeout: 60 * time.Second,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// State returns the current breaker state without consuming a trial.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Allow reports whether a call may proceed. An open breaker whose reset
// timeout has elapsed moves to half-open and admits exactly one trial;
// further calls are refused until that trial is recorded.
func (cb *CircuitBreaker) Allow() bool {
	ok, _ := cb.Admit()
	return ok
}

// Admit is Allow that also reports whether the caller was handed the
// half-open trial. A trial holder that ends up recording neither success
// nor failure must call CancelTrial.
func (cb *CircuitBreaker) Admit() (ok, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerClosed:
		return true, false
	case BreakerOpen:
		if cb.now().Before(cb.nextAttempt) {
			return false, false
		}
		cb.transition(BreakerHalfOpen)
		cb.trial = true
		return true, true
	default:
		if cb.trial {
			return false, false
		}
		cb.trial = true
		return true, true
	}
}

// CancelTrial hands back an unused half-open trial, for a call that was
// cancelled before it reached the source.
func (cb *CircuitBreaker) CancelTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerHalfOpen {
		cb.trial = false
	}
}

// IsOpen is the negation of Allow. A false result on a recovering
// breaker hands the caller the half-open trial.
func (cb *CircuitBreaker) IsOpen() bool { return !cb.Allow() }

// RecordSuccess resets the failure counter and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.trial = false
	if cb.state != BreakerClosed {
		cb.transition(BreakerClosed)
	}
}

// RecordFailure counts a failed call. Reaching the threshold while closed,
// or failing the half-open trial, opens the breaker until now+resetTimeout.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	now := cb.now()
	cb.lastFailure = now
	cb.failures++
	switch cb.state {
	case BreakerClosed:
		if cb.failures >= cb.threshold {
			cb.nextAttempt = now.Add(cb.resetTimeout)
			cb.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		cb.trial = false
		cb.nextAttempt = now.Add(cb.resetTimeout)
		cb.transition(BreakerOpen)
	}
}

// Reset forces the breaker back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.trial = false
	cb.state = BreakerClosed
}

// Snapshot returns a point-in-time view for health reporting.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{
		Source:      cb.name,
		State:       cb.state.String(),
		Failures:    cb.failures,
		LastFailure: cb.lastFailure,
		NextAttempt: cb.nextAttempt,
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.logger.Info("circuit breaker transition",
		"source", cb.name,
		"from", from.String(),
		"to", to.String(),
		"failures", cb.failures)
}
