// Package breaker implements per-dependency circuit breakers that shield
// callers from failing downstream services. Each breaker is a
// three-state machine (closed, open, half-open) with failure-rate accounting
// over a fixed monitoring window.
package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/okrause/depshield/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation; calls pass through.
	StateOpen                  // Tripped; calls are rejected immediately.
	StateHalfOpen              // Probing; limited trial calls test recovery.
)

// String returns a human-readable state name.
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

// Observer receives state transition notifications. Notifications are
// delivered synchronously while the breaker lock is held, so observers
// must not call back into the breaker.
type Observer interface {
	OnOpen(name string)
	OnClose(name string)
	OnHalfOpen(name string)
}

// Hooks adapts optional callbacks to the Observer interface. Nil fields
// are skipped.
type Hooks struct {
	Open     func()
	Close    func()
	HalfOpen func()
}

func (h Hooks) OnOpen(string) {
	if h.Open != nil {
		h.Open()
	}
}

func (h Hooks) OnClose(string) {
	if h.Close != nil {
		h.Close()
	}
}

func (h Hooks) OnHalfOpen(string) {
	if h.HalfOpen != nil {
		h.HalfOpen()
	}
}

// Config holds the tuning parameters for a single breaker. Config is fixed
// at creation; a registered breaker never changes its thresholds.
type Config struct {
	// FailureThreshold is the failure ratio in [0,1] at or above which the
	// breaker trips, once MinimumRequests have been observed.
	FailureThreshold float64

	// ResetTimeout is how long the breaker stays open before the next call
	// is allowed through as a half-open trial.
	ResetTimeout time.Duration

	// MonitoringPeriod is the fixed accounting window. When it elapses the
	// failure/success counters are purged, independent of state.
	MonitoringPeriod time.Duration

	// MinimumRequests is the sample size required before the trip rule is
	// evaluated. Guards against tripping on a cold start.
	MinimumRequests int

	// HalfOpenRequests is the number of successful trial calls required to
	// close the breaker again. Also caps concurrent half-open trials.
	HalfOpenRequests int
}

// Default tuning applied when a field is unset.
const (
	DefaultFailureThreshold = 0.5
	DefaultResetTimeout     = 30 * time.Second
	DefaultMonitoringPeriod = 60 * time.Second
	DefaultMinimumRequests  = 10
	DefaultHalfOpenRequests = 3
)

// Snapshot is a point-in-time view of a breaker, suitable for the admin API.
// NextAttempt is set only while the breaker is open.
type Snapshot struct {
	Name        string     `json:"name"`
	State       string     `json:"state"`
	Failures    int        `json:"failures"`
	Successes   int        `json:"successes"`
	NextAttempt *time.Time `json:"next_attempt,omitempty"`
}

// Breaker guards a single named dependency. Safe for concurrent use.
type Breaker struct {
	name      string
	cfg       Config
	clock     Clock
	logger    *slog.Logger
	observers []Observer

	mu               sync.Mutex
	state            State
	failures         int
	successes        int
	requests         int
	lastFailure      time.Time
	periodStart      time.Time
	nextAttempt      time.Time
	halfOpenTrials   int
	halfOpenInFlight int
}

// New creates a breaker for the given dependency name. Options override the
// default tuning.
func New(name string, opts ...Option) *Breaker {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	b := &Breaker{
		name:      name,
		cfg:       o.cfg,
		clock:     o.clock,
		logger:    o.logger,
		observers: o.observers,
		state:     StateClosed,
	}
	b.periodStart = b.clock.Now()
	return b
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Execute runs op under breaker protection. While the breaker is open and
// the reset timeout has not elapsed, op is not invoked and an *OpenError is
// returned. Otherwise op runs and its result is recorded and returned
// unmodified. The breaker imposes no timeout of its own; cancellation is
// the caller's responsibility via ctx.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		metrics.BreakerRejections.WithLabelValues(b.name).Inc()
		return err
	}

	if opErr := op(ctx); opErr != nil {
		b.recordFailure(trial)
		return opErr
	}

	b.recordSuccess(trial)
	return nil
}

// admit decides whether a call may proceed. It performs the lazy
// open → half-open transition once the reset timeout has elapsed, and
// gates half-open concurrency to HalfOpenRequests in-flight trials.
// Returns whether the admitted call counts as a half-open trial.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.clock.Now().Before(b.nextAttempt) {
			return false, &OpenError{Name: b.name}
		}
		b.transition(StateHalfOpen)
	}

	if b.state == StateHalfOpen {
		if b.halfOpenInFlight >= b.cfg.HalfOpenRequests {
			return false, &OpenError{Name: b.name}
		}
		b.halfOpenInFlight++
		return true, nil
	}

	return false, nil
}

func (b *Breaker) recordSuccess(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.releaseTrial(trial)

	// Failures stay counted until the window rolls over or the breaker
	// closes; the trip rule compares the windowed failure ratio, not a
	// consecutive-failure streak.
	b.successes++
	b.requests++

	if b.state == StateHalfOpen {
		b.halfOpenTrials++
		if b.halfOpenTrials >= b.cfg.HalfOpenRequests {
			b.transition(StateClosed)
		}
	}

	b.checkWindow()
}

func (b *Breaker) recordFailure(trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.releaseTrial(trial)

	b.failures++
	b.lastFailure = b.clock.Now()
	b.requests++

	metrics.BreakerFailures.WithLabelValues(b.name).Inc()

	switch b.state {
	case StateHalfOpen:
		// Any failure while probing aborts recovery.
		b.transition(StateOpen)
	case StateClosed:
		if b.shouldOpen() {
			b.transition(StateOpen)
		}
	}

	b.checkWindow()
}

// shouldOpen evaluates the trip rule. Must be called with b.mu held,
// in the closed state, after a failure has been counted.
func (b *Breaker) shouldOpen() bool {
	if b.requests < b.cfg.MinimumRequests {
		return false
	}
	return float64(b.failures)/float64(b.requests) >= b.cfg.FailureThreshold
}

// checkWindow purges the accounting counters when the monitoring period has
// elapsed. The window is fixed, not sliding, and independent of the
// open → half-open timer. Must be called with b.mu held.
func (b *Breaker) checkWindow() {
	now := b.clock.Now()
	if now.Sub(b.periodStart) >= b.cfg.MonitoringPeriod {
		b.periodStart = now
		b.requests = 0
		b.failures = 0
		b.successes = 0
	}
}

// releaseTrial frees a half-open concurrency slot after an admitted trial
// call completes. Must be called with b.mu held.
func (b *Breaker) releaseTrial(trial bool) {
	if trial && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
}

// transition drives the breaker into the target state, applying the entry
// actions and notifying observers. Unlike a plain state assignment it is
// unconditional: forcing a breaker into its current state still re-runs the
// entry actions, so ForceClose on a closed breaker resets its failure count
// and ForceOpen always arms a fresh reset timer. Must be called with b.mu
// held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to

	switch to {
	case StateOpen:
		b.nextAttempt = b.clock.Now().Add(b.cfg.ResetTimeout)
		b.halfOpenTrials = 0
		b.halfOpenInFlight = 0
	case StateClosed:
		b.failures = 0
		b.halfOpenTrials = 0
		b.halfOpenInFlight = 0
	case StateHalfOpen:
		b.halfOpenTrials = 0
		b.halfOpenInFlight = 0
	}

	metrics.BreakerStateChanges.WithLabelValues(b.name, from.String(), to.String()).Inc()
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(to))

	b.logger.Info("circuit breaker state change",
		"breaker", b.name,
		"from", from.String(),
		"to", to.String(),
	)

	for _, o := range b.observers {
		switch to {
		case StateOpen:
			o.OnOpen(b.name)
		case StateClosed:
			o.OnClose(b.name)
		case StateHalfOpen:
			o.OnHalfOpen(b.name)
		}
	}
}

// State returns the current state without the lazy open → half-open check;
// an open breaker reports open until the next Execute crosses the timer.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view of the breaker's counters and state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:      b.name,
		State:     b.state.String(),
		Failures:  b.failures,
		Successes: b.successes,
	}
	if b.state == StateOpen {
		next := b.nextAttempt
		s.NextAttempt = &next
	}
	return s
}

// ForceOpen trips the breaker immediately, arming a fresh reset timer.
// Intended for operational override and test setup.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateOpen)
}

// ForceClose drives the breaker to closed, resetting its failure count.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
}
