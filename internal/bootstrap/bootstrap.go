// Package bootstrap provides dependency initialization for the frame extractor binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/maauso/frame-extractor/internal/archive"
	"github.com/maauso/frame-extractor/internal/config"
	"github.com/maauso/frame-extractor/internal/events"
	"github.com/maauso/frame-extractor/internal/job"
	"github.com/maauso/frame-extractor/internal/ledger/postgres"
	"github.com/maauso/frame-extractor/internal/ledger/sqlite"
	"github.com/maauso/frame-extractor/internal/media"
	"github.com/maauso/frame-extractor/internal/metrics"
	"github.com/maauso/frame-extractor/internal/queue"
	"github.com/maauso/frame-extractor/internal/storage"
	"github.com/maauso/frame-extractor/internal/video"
	"github.com/maauso/frame-extractor/internal/worker"
)

// Dependencies holds all initialized dependencies shared by the binaries.
type Dependencies struct {
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Store storage.ObjectStore
	// Local is set only for the local object store; it backs /storage/ URLs.
	Local *storage.LocalStore

	Ledger    job.Ledger
	Transport queue.Transport
	Notifier  job.Notifier

	Service  *job.Service
	Worker   *worker.Worker
	Archives *archive.Streamer
	Importer *video.Importer

	closers []func() error
}

// NewDependencies creates and initializes all dependencies for the application.
// On error every dependency opened so far is closed again.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (deps *Dependencies, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d := &Dependencies{Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = d.Close()
		}
	}()

	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = metrics.New(d.Registry)

	if err := d.initStorage(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := d.initLedger(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := d.initQueue(cfg, logger); err != nil {
		return nil, err
	}
	if err := d.initNotifier(cfg, logger); err != nil {
		return nil, err
	}

	scratch, err := storage.NewScratchSpace(cfg.TempDir)
	if err != nil {
		return nil, err
	}

	prober := media.NewFFprobeProber(cfg.FFprobePath, cfg.MaxSourceDuration)
	sampler := media.NewFFmpegSampler(cfg.FFmpegPath)

	d.Service = job.NewService(
		d.Ledger,
		d.Ledger,
		queue.Instrument(d.Transport, d.Metrics),
		d.Store,
		logger,
		job.WithSignedURLExpiry(cfg.SignedURLExpiry),
		job.WithNotifier(d.Notifier),
	)
	d.Worker = worker.New(d.Ledger, d.Store, scratch, sampler,
		worker.WithNotifier(d.Notifier),
		worker.WithMetrics(d.Metrics),
		worker.WithLogger(logger),
	)
	d.Archives = archive.NewStreamer(d.Ledger, d.Ledger, d.Store, logger)
	d.Importer = video.NewImporter(prober, d.Store, d.Ledger, logger)

	return d, nil
}

// Close releases every opened dependency in reverse order.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

func (d *Dependencies) onClose(fn func() error) {
	d.closers = append(d.closers, fn)
}

// initStorage creates the object store selected by STORAGE_DRIVER.
func (d *Dependencies) initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.StorageDriver {
	case config.StorageS3:
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			PublicURL:       cfg.S3PublicURL,
		})
		if err != nil {
			return fmt.Errorf("create S3 storage: %w", err)
		}
		d.Store = s3Store
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)

	case config.StorageMinIO:
		minioStore, err := storage.NewMinIOStore(storage.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			UseSSL:    cfg.MinIOUseSSL,
			Bucket:    cfg.MinIOBucket,
			Region:    cfg.S3Region,
		})
		if err != nil {
			return fmt.Errorf("create MinIO storage: %w", err)
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure MinIO bucket: %w", err)
		}
		d.Store = minioStore
		logger.Info("MinIO storage configured",
			slog.String("endpoint", cfg.MinIOEndpoint),
			slog.String("bucket", cfg.MinIOBucket),
		)

	default:
		localStore, err := storage.NewLocalStore(cfg.LocalStoragePath, cfg.PublicBaseURL, cfg.URLSigningSecret)
		if err != nil {
			return fmt.Errorf("create local storage: %w", err)
		}
		if cfg.URLSigningSecret == "" {
			logger.Warn("URL_SIGNING_SECRET is not set, local storage URLs are unsigned")
		}
		d.Store = localStore
		d.Local = localStore
		logger.Info("local storage configured",
			slog.String("path", cfg.LocalStoragePath),
		)
	}
	return nil
}

// initLedger opens the ledger selected by LEDGER_DRIVER.
func (d *Dependencies) initLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	switch cfg.LedgerDriver {
	case config.LedgerMemory:
		d.Ledger = job.NewMemoryRepository()
		logger.Warn("memory ledger configured, jobs do not survive a restart")

	case config.LedgerPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		store := postgres.NewStore(pool)
		d.onClose(func() error { store.Close(); return nil })
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		d.Ledger = store
		logger.Info("postgres ledger configured")

	default:
		path := filepath.Clean(cfg.SQLitePath)
		store, err := sqlite.Open(ctx, path)
		if err != nil {
			return fmt.Errorf("open sqlite ledger: %w", err)
		}
		d.onClose(store.Close)
		d.Ledger = store
		logger.Info("sqlite ledger configured", slog.String("path", path))
	}
	return nil
}

// initQueue creates the transport selected by QUEUE_DRIVER.
func (d *Dependencies) initQueue(cfg *config.Config, logger *slog.Logger) error {
	policy := queue.RetryPolicy{
		MaxAttempts: cfg.WorkerMaxAttempts,
		BaseDelay:   cfg.WorkerRetryBaseDelay,
	}

	switch cfg.QueueDriver {
	case config.QueueNATS:
		q, err := queue.NewNATSQueue(queue.NATSConfig{
			URL:         cfg.NATSURL,
			Concurrency: cfg.WorkerConcurrency,
			Policy:      policy,
		}, logger)
		if err != nil {
			return fmt.Errorf("create NATS queue: %w", err)
		}
		d.onClose(q.Close)
		d.Transport = q
		logger.Info("NATS queue configured", slog.String("url", cfg.NATSURL))

	default:
		q := queue.NewMemoryQueue(
			queue.WithRetryPolicy(policy),
			queue.WithRetention(queue.Retention{
				Completed: cfg.QueueCompletedRetention,
				Failed:    cfg.QueueFailedRetention,
			}),
			queue.WithConcurrency(cfg.WorkerConcurrency),
			queue.WithLogger(logger),
		)
		d.onClose(q.Close)
		d.Transport = q
		logger.Info("memory queue configured", slog.Int("concurrency", cfg.WorkerConcurrency))
	}
	return nil
}

// initNotifier connects the RabbitMQ publisher when RABBITMQ_URL is set.
func (d *Dependencies) initNotifier(cfg *config.Config, logger *slog.Logger) error {
	if !cfg.EventsEnabled() {
		d.Notifier = job.NopNotifier{}
		return nil
	}

	pub, err := events.DialRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
	if err != nil {
		return err
	}
	d.onClose(pub.Close)
	d.Notifier = pub
	logger.Info("status events configured", slog.String("exchange", cfg.RabbitMQExchange))
	return nil
}

// RunReconciler re-dispatches pending jobs older than after on every
// interval tick until ctx is done.
func (d *Dependencies) RunReconciler(ctx context.Context, interval, after time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.Service.ReconcileOrphans(ctx, after)
			if err != nil {
				logger.Error("reconcile failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Info("re-dispatched orphaned jobs", slog.Int("count", n))
			}
		}
	}
}
