package breaker

import (
	"log/slog"
	"time"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type options struct {
	cfg       Config
	clock     Clock
	logger    *slog.Logger
	observers []Observer
}

func defaultOptions() options {
	return options{
		cfg: Config{
			FailureThreshold: DefaultFailureThreshold,
			ResetTimeout:     DefaultResetTimeout,
			MonitoringPeriod: DefaultMonitoringPeriod,
			MinimumRequests:  DefaultMinimumRequests,
			HalfOpenRequests: DefaultHalfOpenRequests,
		},
		clock:  realClock{},
		logger: slog.Default(),
	}
}

// Option configures a Breaker at creation time.
type Option func(*options)

// WithConfig replaces the entire tuning configuration. Zero-valued duration
// and count fields fall back to the package defaults.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		if cfg.ResetTimeout <= 0 {
			cfg.ResetTimeout = DefaultResetTimeout
		}
		if cfg.MonitoringPeriod <= 0 {
			cfg.MonitoringPeriod = DefaultMonitoringPeriod
		}
		if cfg.HalfOpenRequests < 1 {
			cfg.HalfOpenRequests = DefaultHalfOpenRequests
		}
		o.cfg = cfg
	}
}

// WithFailureThreshold sets the failure ratio in [0,1] that trips the breaker.
func WithFailureThreshold(t float64) Option {
	return func(o *options) {
		o.cfg.FailureThreshold = t
	}
}

// WithResetTimeout sets how long the breaker stays open before probing.
func WithResetTimeout(d time.Duration) Option {
	return func(o *options) {
		o.cfg.ResetTimeout = d
	}
}

// WithMonitoringPeriod sets the fixed accounting window.
func WithMonitoringPeriod(d time.Duration) Option {
	return func(o *options) {
		o.cfg.MonitoringPeriod = d
	}
}

// WithMinimumRequests sets the sample size required before the trip rule
// is evaluated.
func WithMinimumRequests(n int) Option {
	return func(o *options) {
		o.cfg.MinimumRequests = n
	}
}

// WithHalfOpenRequests sets how many successful trials close the breaker.
func WithHalfOpenRequests(n int) Option {
	return func(o *options) {
		o.cfg.HalfOpenRequests = n
	}
}

// WithClock sets the time source. Useful for testing.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the structured logger for state change events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithObserver attaches an observer for state transitions. May be given
// multiple times; observers are notified in registration order.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// WithHooks attaches optional per-transition callbacks.
func WithHooks(h Hooks) Option {
	return WithObserver(h)
}
