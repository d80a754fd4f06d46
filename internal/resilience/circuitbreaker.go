// Package resilience guards best-effort storage writes with a circuit
// breaker.
//
// Event persistence is fire-and-forget: a failed write is dropped, not
// retried. When the backing store is down every detector tick would still
// pay the full write timeout, so the [Breaker] trips after a run of
// consecutive failures and rejects writes immediately until a probe
// succeeds again.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] when the breaker is open and the reset
// timeout has not yet elapsed.
var ErrOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. One
	// failure re-opens the breaker; HalfOpenMax successes close it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 10s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close.
	// Default: 1.
	HalfOpenMax int

	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time

	// IsFailure decides whether an error returned by fn counts against the
	// breaker. Errors it rejects are returned to the caller but recorded as
	// successes. Nil means every non-nil error is a failure.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker mutex released.
	OnStateChange func(name string, from, to State)
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	now           func() time.Time
	isFailure     func(error) bool
	onStateChange func(name string, from, to State)

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewBreaker creates a [Breaker]. Zero-value config fields are replaced with
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &Breaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		now:           cfg.Now,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
	}
}

// Do runs fn if the breaker allows it and records the outcome. A context
// error from fn counts as a failure: a write that hits its deadline is the
// typical symptom of an unreachable store.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	from, probing, err := b.admit()
	if err != nil {
		return err
	}
	if from != StateHalfOpen && probing {
		b.notify(from, StateHalfOpen)
	}

	callErr := fn(ctx)

	b.mu.Lock()
	before := b.state
	if callErr != nil && b.isFailure(callErr) {
		b.recordFailure(probing)
	} else {
		b.recordSuccess(probing)
	}
	after := b.state
	b.mu.Unlock()

	if before != after {
		b.notify(before, after)
	}
	return callErr
}

// admit decides whether a call may proceed. It returns the state observed on
// entry and whether the call is a half-open probe.
func (b *Breaker) admit() (State, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from := b.state
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return from, false, ErrOpen
		}
		b.state = StateHalfOpen
		b.probes = 0
		b.probeSuccesses = 0
		slog.Info("circuit breaker half-open", "name", b.name)
	case StateHalfOpen:
		if b.probes >= b.halfOpenMax {
			return from, false, ErrOpen
		}
	}

	probing := b.state == StateHalfOpen
	if probing {
		b.probes++
	}
	return from, probing, nil
}

// recordFailure must be called with b.mu held.
func (b *Breaker) recordFailure(probing bool) {
	if probing {
		b.state = StateOpen
		b.openedAt = b.now()
		b.consecutiveFail = b.maxFailures
		slog.Warn("circuit breaker re-opened", "name", b.name)
		return
	}
	b.consecutiveFail++
	if b.state == StateClosed && b.consecutiveFail >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
		slog.Warn("circuit breaker opened",
			"name", b.name,
			"consecutive_failures", b.consecutiveFail)
	}
}

// recordSuccess must be called with b.mu held.
func (b *Breaker) recordSuccess(probing bool) {
	if probing {
		b.probeSuccesses++
		if b.probeSuccesses >= b.halfOpenMax {
			b.state = StateClosed
			b.consecutiveFail = 0
			slog.Info("circuit breaker closed", "name", b.name)
		}
		return
	}
	b.consecutiveFail = 0
}

func (b *Breaker) notify(from, to State) {
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}

// State returns the current state. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.consecutiveFail = 0
	b.probes = 0
	b.probeSuccesses = 0
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}
