package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/NikhilSetiya/smart-bug-triage/internal/api"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/config"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/logging"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/metrics"
	"github.com/NikhilSetiya/smart-bug-triage/pkg/tracing"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "bug-triage",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Triage agent stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Starting triage agent",
		"version", version,
		"store_backend", cfg.Store.Backend,
		"agents", cfg.Agent.Count,
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics(&metrics.Config{
		Namespace: cfg.Metrics.Namespace,
		Enabled:   cfg.Metrics.Enabled,
	}, nil)

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "bug-triage",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Error shutting down tracer", "error", err)
		}
	}()

	a := newApp(cfg, logger, m, tracer)
	defer a.close()

	if err := a.setupStores(ctx); err != nil {
		return fmt.Errorf("failed to set up stores: %w", err)
	}
	if err := a.setupAgents(); err != nil {
		return fmt.Errorf("failed to set up agents: %w", err)
	}
	if err := a.setupRecovery(); err != nil {
		return fmt.Errorf("failed to set up recovery: %w", err)
	}

	// Initial health snapshot so the status endpoint has data before the first sweep
	initial := a.health.CheckHealth(ctx)
	logger.Info("Initial health check completed", "status", initial.Status)

	if err := a.supervisor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}
	defer a.supervisor.Stop()

	if collector := a.newCollector(); collector != nil {
		go collector.Start(ctx)
		defer collector.Stop()
	}

	var wg sync.WaitGroup
	for _, w := range a.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}

	providers := make([]api.StatsProvider, 0, len(a.agents))
	for _, ag := range a.agents {
		providers = append(providers, ag)
	}
	router := api.NewRouter(api.Dependencies{
		Health:      a.health,
		Degradation: a.degradation,
		Recovery:    a.recovery,
		Agents:      providers,
		Directory:   a.directory,
		Developers:  a.developers,
		Feedback:    a.feedback,
		Statuses:    a.statuses,
		Metrics:     m,
		Tracing:     tracer,
		Logger:      logger,
		Debug:       cfg.Logging.Level == "debug",
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Ops server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("Shutting down triage agent", "signal", sig.String())
	case err := <-serverErr:
		runErr = fmt.Errorf("ops server failed: %w", err)
	}

	// Cancel context to stop workers, the supervisor and the collector
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error shutting down ops server", "error", err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("Timed out waiting for workers to stop")
	}

	logger.Info("Triage agent exited")
	return runErr
}
