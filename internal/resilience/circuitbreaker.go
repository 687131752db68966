// Package resilience keeps calls alive when a speech or language vendor
// degrades.
//
// [CircuitBreaker] is a three-state breaker (closed → open → half-open);
// once a vendor has failed repeatedly, new session setups against it fail
// fast instead of burning seconds of call time on a dead endpoint.
// [FallbackGroup] chains vendors behind per-vendor breakers so session setup
// moves straight to the next healthy one. The STTFallback, LLMFallback, and
// TTSFallback wrappers apply the group to each pipeline stage.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// is open and the reset timeout has not elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is a [CircuitBreaker] operating mode.
type State int

const (
	// StateClosed forwards all calls; the vendor is considered healthy.
	StateClosed State = iota

	// StateOpen rejects calls immediately with [ErrCircuitOpen]. Entered
	// after too many consecutive failures, left when ResetTimeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of trial calls through to find
	// out whether the vendor recovered.
	StateHalfOpen
)

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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values fall back to
// the defaults noted per field.
type CircuitBreakerConfig struct {
	// Name labels the breaker in log output, typically the vendor name.
	Name string

	// MaxFailures is how many consecutive failures close→open takes.
	// Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker rejects calls before letting
	// trial calls through. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the trial-call budget in half-open and the
	// success count that closes the breaker again. Default 3.
	HalfOpenMax int
}

// CircuitBreaker tracks one vendor's recent health and gates calls to it.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu       sync.Mutex
	state    State
	failures int       // consecutive failures while closed
	openedAt time.Time // last failure that kept the breaker open
	trials   int       // calls admitted in the current half-open phase
	passed   int       // successes in the current half-open phase
}

// NewCircuitBreaker builds a breaker from cfg, substituting defaults for
// zero-valued fields.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
	}
}

// Execute runs fn if the breaker admits the call, and feeds the outcome back
// into the breaker's state.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure(trial)
	} else {
		cb.onSuccess(trial)
	}
	return err
}

// admit decides whether a call may proceed, performing the open→half-open
// transition when the reset timeout has elapsed. It reports whether the
// admitted call counts against the half-open trial budget.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return false, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.trials = 0
		cb.passed = 0
		slog.Info("circuit breaker admitting trial calls", "name", cb.name)

	case StateHalfOpen:
		if cb.trials >= cb.halfOpenMax {
			return false, ErrCircuitOpen
		}
	}

	if cb.state == StateHalfOpen {
		cb.trials++
		return true, nil
	}
	return false, nil
}

// onFailure updates state after a failed call. Caller holds cb.mu.
func (cb *CircuitBreaker) onFailure(trial bool) {
	cb.openedAt = time.Now()

	if trial {
		// One bad trial call is enough evidence the vendor is still down.
		cb.state = StateOpen
		cb.failures = cb.maxFailures
		slog.Warn("circuit breaker re-opened, vendor still failing", "name", cb.name)
		return
	}

	cb.failures++
	if cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", cb.name, "consecutive_failures", cb.failures)
	}
}

// onSuccess updates state after a successful call. Caller holds cb.mu.
func (cb *CircuitBreaker) onSuccess(trial bool) {
	if trial {
		cb.passed++
		if cb.passed >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failures = 0
			cb.trials = 0
			cb.passed = 0
			slog.Info("circuit breaker closed, vendor recovered", "name", cb.name)
		}
		return
	}
	cb.failures = 0
}

// State reports the breaker's mode. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the stored transition happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed] and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failures = 0
	cb.trials = 0
	cb.passed = 0
	slog.Info("circuit breaker manually reset", "name", cb.name)
}
