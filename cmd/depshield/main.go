// Package main is the entry point for the dependency protection service.
// It loads configuration, builds the breaker registry, starts background
// dependency probes and the HTTP surface, and handles graceful shutdown on
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/okrause/depshield/internal/admin"
	"github.com/okrause/depshield/internal/auth"
	"github.com/okrause/depshield/internal/breaker"
	"github.com/okrause/depshield/internal/config"
	"github.com/okrause/depshield/internal/health"
	"github.com/okrause/depshield/internal/logging"
	"github.com/okrause/depshield/internal/metrics"
	"github.com/okrause/depshield/internal/middleware"
	"github.com/okrause/depshield/internal/probe"
	"github.com/okrause/depshield/internal/ratelimit"
	"github.com/okrause/depshield/internal/tlsutil"
)

func main() {
	configPath := flag.String("config", "configs/depshield.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"dependencies", len(cfg.Dependencies),
		"auth_enabled", cfg.Auth.Enabled,
		"admin_enabled", cfg.Admin.Enabled,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
	)

	// Initialize Prometheus metrics
	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	// Build the registry with the configured service-wide defaults and
	// register a breaker per configured dependency.
	registry := breaker.NewRegistry(logger, breakerOptions(cfg.BreakerDefaults)...)
	registry.InstallPresets()
	for _, dep := range cfg.Dependencies {
		if dep.Breaker != nil {
			registry.Get(dep.Name, breakerOptions(*dep.Breaker)...)
		} else {
			registry.Get(dep.Name)
		}
	}

	// Background reachability probes keep breaker state honest even
	// without caller traffic.
	prober := probe.New(registry, cfg.Dependencies, logger)
	prober.Start()
	defer prober.Stop()

	// Build the rate limiter for the admin surface
	limiter := ratelimit.New(cfg.RateLimit, logger)
	defer limiter.Stop()

	mux := http.NewServeMux()

	healthHandler := health.New(registry)
	healthHandler.RegisterRoutes(mux)

	if cfg.Metrics.IsEnabled() {
		metricsPath := cfg.Metrics.Path
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		mux.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	// Initialize config reloader
	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()

	reloader.OnReload(func(newCfg *config.Config) {
		limiter.UpdateConfig(newCfg.RateLimit)
	})

	if cfg.Admin.Enabled {
		adminHandler := admin.New(reloader, registry, cfg.Admin.IPAllowlist, logger)
		adminHandler.RegisterRoutes(mux)
		logger.Info("admin endpoints registered", "allowlist", cfg.Admin.IPAllowlist)
	}

	// Assemble middleware stack:
	// Recovery → RequestID → Logging → RateLimit → Auth → mux
	var handler http.Handler = mux
	handler = auth.Middleware(cfg.Auth, admin.Mutating, logger)(handler)
	handler = limiter.Middleware()(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
	}

	var certLoader *tlsutil.CertLoader
	if cfg.Server.TLS.Enabled {
		certLoader, err = tlsutil.New(cfg.Server.TLS, logger)
		if err != nil {
			logger.Error("failed to load TLS certificate", "error", err)
			os.Exit(1)
		}
		defer certLoader.Stop()
		srv.TLSConfig = certLoader.ServerConfig()
	}

	// Start server in a goroutine
	go func() {
		logger.Info("starting depshield", "addr", srv.Addr, "tls", cfg.Server.TLS.Enabled)
		var err error
		if cfg.Server.TLS.Enabled {
			// Cert/key come from TLSConfig.GetCertificate.
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout())
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("depshield stopped gracefully")
}

// breakerOptions converts YAML breaker tuning into registry options.
// Zero-valued fields are left to the package defaults.
func breakerOptions(bc config.BreakerConfig) []breaker.Option {
	var opts []breaker.Option
	if bc.FailureThreshold > 0 {
		opts = append(opts, breaker.WithFailureThreshold(bc.FailureThreshold))
	}
	if bc.ResetTimeoutMs > 0 {
		opts = append(opts, breaker.WithResetTimeout(bc.ResetTimeout()))
	}
	if bc.MonitoringPeriodMs > 0 {
		opts = append(opts, breaker.WithMonitoringPeriod(bc.MonitoringPeriod()))
	}
	if bc.MinimumRequests != nil {
		opts = append(opts, breaker.WithMinimumRequests(*bc.MinimumRequests))
	}
	if bc.HalfOpenRequests > 0 {
		opts = append(opts, breaker.WithHalfOpenRequests(bc.HalfOpenRequests))
	}
	return opts
}
