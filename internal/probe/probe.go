// Package probe runs background reachability checks against configured
// dependencies. Each probe is executed through the dependency's circuit
// breaker so sustained outages trip the breaker even when no caller
// traffic is flowing.
package probe

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/okrause/depshield/internal/breaker"
	"github.com/okrause/depshield/internal/config"
	"github.com/okrause/depshield/internal/metrics"
)

// Prober owns one goroutine per configured dependency.
type Prober struct {
	registry *breaker.Registry
	deps     []config.DependencyConfig
	logger   *slog.Logger
	dial     func(ctx context.Context, address string) error

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Prober for the given dependencies. Breakers are resolved
// from the registry by dependency name, so per-dependency tuning applied
// at registration time carries over.
func New(registry *breaker.Registry, deps []config.DependencyConfig, logger *slog.Logger) *Prober {
	return &Prober{
		registry: registry,
		deps:     deps,
		logger:   logger,
		dial:     dialTCP,
	}
}

// Start launches one probe loop per dependency. Call Stop to terminate.
func (p *Prober) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for _, dep := range p.deps {
		p.wg.Add(1)
		go p.run(ctx, dep)
	}
}

// Stop terminates all probe loops and waits for them to exit.
func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Prober) run(ctx context.Context, dep config.DependencyConfig) {
	defer p.wg.Done()

	b := p.registry.Get(dep.Name)
	ticker := time.NewTicker(dep.ProbeInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.probeOnce(ctx, b, dep)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context, b *breaker.Breaker, dep config.DependencyConfig) {
	start := time.Now()
	err := b.Execute(ctx, func(ctx context.Context) error {
		dialCtx, cancel := context.WithTimeout(ctx, dep.ProbeTimeout())
		defer cancel()
		return p.dial(dialCtx, dep.Address)
	})
	elapsed := time.Since(start)

	if breaker.IsOpen(err) {
		// Breaker is open; the reset timeout decides when probing resumes
		// counting. Nothing to record.
		return
	}

	metrics.ProbeDuration.WithLabelValues(dep.Name).Observe(elapsed.Seconds())

	if err != nil {
		p.logger.Warn("dependency probe failed",
			"dependency", dep.Name,
			"address", dep.Address,
			"elapsed", elapsed,
			"error", err)
	}
}

func dialTCP(ctx context.Context, address string) error {
	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", address)
	if err != nil {
		return err
	}
	return conn.Close()
}
