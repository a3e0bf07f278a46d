package probe

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okrause/depshield/internal/breaker"
	"github.com/okrause/depshield/internal/config"
)

func testDep(name, address string) config.DependencyConfig {
	return config.DependencyConfig{
		Name:            name,
		Address:         address,
		ProbeIntervalMs: 10,
		ProbeTimeoutMs:  500,
	}
}

func TestProbeOnce_Success(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	registry := breaker.NewRegistry(slog.Default())
	dep := testDep("database", ln.Addr().String())
	p := New(registry, []config.DependencyConfig{dep}, slog.Default())

	b := registry.Get(dep.Name)
	p.probeOnce(context.Background(), b, dep)

	if b.State() != breaker.StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
	snap := b.Snapshot()
	if snap.Successes != 1 {
		t.Errorf("successes = %d, want 1", snap.Successes)
	}
}

func TestProbeOnce_FailureCountsAgainstBreaker(t *testing.T) {
	registry := breaker.NewRegistry(slog.Default(),
		breaker.WithMinimumRequests(3),
		breaker.WithFailureThreshold(0.5),
	)
	// Unroutable per RFC 5737; the dial helper is swapped anyway.
	dep := testDep("database", "192.0.2.1:9")
	p := New(registry, []config.DependencyConfig{dep}, slog.Default())
	p.dial = func(ctx context.Context, address string) error {
		return errors.New("connection refused")
	}

	b := registry.Get(dep.Name)
	for i := 0; i < 3; i++ {
		p.probeOnce(context.Background(), b, dep)
	}

	if b.State() != breaker.StateOpen {
		t.Errorf("state = %v, want open after repeated probe failures", b.State())
	}
}

func TestProbeOnce_SkipsWhileOpen(t *testing.T) {
	registry := breaker.NewRegistry(slog.Default())
	dep := testDep("database", "192.0.2.1:9")
	p := New(registry, []config.DependencyConfig{dep}, slog.Default())

	var dials atomic.Int32
	p.dial = func(ctx context.Context, address string) error {
		dials.Add(1)
		return nil
	}

	b := registry.Get(dep.Name)
	b.ForceOpen()

	p.probeOnce(context.Background(), b, dep)

	if dials.Load() != 0 {
		t.Errorf("expected no dials while breaker open, got %d", dials.Load())
	}
}

func TestProberStartStop(t *testing.T) {
	registry := breaker.NewRegistry(slog.Default())
	dep := testDep("cache", "192.0.2.1:9")
	p := New(registry, []config.DependencyConfig{dep}, slog.Default())

	var dials atomic.Int32
	p.dial = func(ctx context.Context, address string) error {
		dials.Add(1)
		return nil
	}

	p.Start()
	time.Sleep(50 * time.Millisecond)
	p.Stop()

	if dials.Load() == 0 {
		t.Error("expected at least one probe before Stop")
	}

	after := dials.Load()
	time.Sleep(30 * time.Millisecond)
	if dials.Load() != after {
		t.Error("probes continued after Stop")
	}
}
