package breaker

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry is the process-wide name → breaker map. Breakers are created
// lazily on first lookup and live for the process lifetime. The registry is
// an explicit object owned by startup code rather than package-level state,
// so initialization order stays testable.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	base     []Option
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. base options are applied to every
// breaker the registry creates, before any per-call overrides.
func NewRegistry(logger *slog.Logger, base ...Option) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		base:     base,
		logger:   logger,
	}
}

// Get returns the breaker registered under name, creating it on first use
// with the registry defaults merged with opts (opts win). If the breaker
// already exists it is returned as-is and opts are ignored; a breaker's
// tuning is fixed at creation.
func (r *Registry) Get(name string, opts ...Option) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check: another goroutine may have created it.
	if b, ok = r.breakers[name]; ok {
		return b
	}

	merged := make([]Option, 0, len(r.base)+len(opts)+1)
	merged = append(merged, WithLogger(r.logger))
	merged = append(merged, r.base...)
	merged = append(merged, opts...)

	b = New(name, merged...)
	r.breakers[name] = b
	r.logger.Info("circuit breaker registered", "breaker", name)
	return b
}

// Lookup returns the breaker registered under name without creating one.
func (r *Registry) Lookup(name string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.breakers[name]
	return b, ok
}

// All returns a point-in-time copy of the name → breaker map. Mutating the
// returned map does not affect the registry.
func (r *Registry) All() map[string]*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Breaker, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b
	}
	return out
}

// Snapshots returns the state of every registered breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	all := r.All()

	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	snaps := make([]Snapshot, 0, len(names))
	for _, name := range names {
		snaps = append(snaps, all[name].Snapshot())
	}
	return snaps
}

// ResetAll force-closes every registered breaker.
func (r *Registry) ResetAll() {
	for _, b := range r.All() {
		b.ForceClose()
	}
}

// Healthy reports whether no registered breaker is open. Used by the
// readiness probe.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.breakers {
		if b.State() == StateOpen {
			return false
		}
	}
	return true
}

// InstallPresets registers tuned breakers for the platform's known
// dependencies. The entries are plain registry members; they carry no
// behavior beyond their tuning.
func (r *Registry) InstallPresets() {
	r.Get("ai-service",
		WithFailureThreshold(0.3),
		WithResetTimeout(30*time.Second),
		WithMinimumRequests(5),
	)
	r.Get("database",
		WithFailureThreshold(0.5),
		WithResetTimeout(10*time.Second),
		WithMinimumRequests(10),
	)
	r.Get("cache",
		WithFailureThreshold(0.4),
		WithResetTimeout(5*time.Second),
		WithMinimumRequests(5),
	)
	r.Get("external-api",
		WithFailureThreshold(0.6),
		WithResetTimeout(60*time.Second),
		WithMinimumRequests(10),
	)
}
