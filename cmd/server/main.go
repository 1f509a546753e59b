// Package main provides the entry point for the frame extractor API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/maauso/frame-extractor/internal/bootstrap"
	"github.com/maauso/frame-extractor/internal/config"
	"github.com/maauso/frame-extractor/internal/metrics"
	"github.com/maauso/frame-extractor/internal/server"
	"github.com/maauso/frame-extractor/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting frame extractor API",
		slog.Int("port", cfg.Port),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("ledger_driver", cfg.LedgerDriver),
		slog.String("queue_driver", cfg.QueueDriver),
		slog.Bool("embedded_worker", cfg.EmbeddedWorker),
		slog.Bool("events_enabled", cfg.EventsEnabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.OTelExporterEndpoint, "frame-extractor-api")
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error("failed to close dependencies", slog.String("error", err.Error()))
		}
	}()

	// The embedded worker consumes until ctx is cancelled.
	var workers sync.WaitGroup
	if cfg.EmbeddedWorker {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := deps.Transport.Consume(ctx, deps.Worker.Handle); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("embedded worker stopped", slog.String("error", err.Error()))
			}
		}()
		workers.Add(1)
		go func() {
			defer workers.Done()
			deps.RunReconciler(ctx, cfg.ReconcileInterval, cfg.ReconcileAfter, logger)
		}()
	}

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, deps.Registry, logger)

	// Initialize HTTP handlers and router
	var opts []server.HandlerOption
	if deps.Local != nil {
		opts = append(opts, server.WithLocalObjects(deps.Local))
	}
	handlers := server.NewHandlers(deps.Service, deps.Archives, logger, opts...)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MaxBodyBytes:   server.DefaultMaxBodyBytes,
	})

	// Create HTTP server. There is no write timeout: archives are streamed.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case runErr = <-errCh:
		stop()
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown failed: %w", err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	workers.Wait()
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
	}

	if runErr == nil {
		logger.Info("server stopped gracefully")
	}
	return runErr
}
