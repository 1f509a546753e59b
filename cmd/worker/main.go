// Package main provides the standalone extraction worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/maauso/frame-extractor/internal/bootstrap"
	"github.com/maauso/frame-extractor/internal/config"
	"github.com/maauso/frame-extractor/internal/metrics"
	"github.com/maauso/frame-extractor/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.QueueDriver == config.QueueMemory {
		return errors.New("the standalone worker needs a shared queue, set QUEUE_DRIVER=nats")
	}
	// The standalone worker is the consumer; the flag only matters to the API.
	cfg.EmbeddedWorker = false

	logger := cfg.NewLogger().With(slog.String("component", "worker"))
	slog.SetDefault(logger)

	logger.Info("starting frame extractor worker",
		slog.String("queue_driver", cfg.QueueDriver),
		slog.String("ledger_driver", cfg.LedgerDriver),
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.Int("max_attempts", cfg.WorkerMaxAttempts),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.OTelExporterEndpoint, "frame-extractor-worker")
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

	metricsSrv := metrics.StartMetricsServer(cfg.MetricsPort, deps.Registry, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		deps.RunReconciler(ctx, cfg.ReconcileInterval, cfg.ReconcileAfter, logger)
	}()

	consumeErr := deps.Transport.Consume(ctx, deps.Worker.Handle)
	if errors.Is(consumeErr, context.Canceled) {
		consumeErr = nil
	}
	stop()
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
	}

	if consumeErr != nil {
		return fmt.Errorf("consume: %w", consumeErr)
	}
	logger.Info("worker stopped gracefully")
	return nil
}
