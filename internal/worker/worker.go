// Package worker runs extraction jobs delivered by the queue transport.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/maauso/frame-extractor/internal/job"
	"github.com/maauso/frame-extractor/internal/job/id"
	"github.com/maauso/frame-extractor/internal/media"
	"github.com/maauso/frame-extractor/internal/metrics"
	"github.com/maauso/frame-extractor/internal/queue"
	"github.com/maauso/frame-extractor/internal/storage"
)

// DefaultProgressInterval is the minimum time between intermediate progress writes.
const DefaultProgressInterval = 250 * time.Millisecond

// Worker processes one delivery at a time per calling goroutine.
type Worker struct {
	jobs     job.Repository
	store    storage.ObjectStore
	scratch  *storage.ScratchSpace
	sampler  media.Sampler
	notifier job.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer

	progressInterval time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithNotifier sets the status event publisher.
func WithNotifier(n job.Notifier) Option {
	return func(w *Worker) {
		if n != nil {
			w.notifier = n
		}
	}
}

// WithMetrics sets the collectors the worker records into.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithProgressInterval sets the minimum time between progress writes.
func WithProgressInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d >= 0 {
			w.progressInterval = d
		}
	}
}

// New creates a Worker.
func New(jobs job.Repository, store storage.ObjectStore, scratch *storage.ScratchSpace, sampler media.Sampler, opts ...Option) *Worker {
	w := &Worker{
		jobs:             jobs,
		store:            store,
		scratch:          scratch,
		sampler:          sampler,
		notifier:         job.NopNotifier{},
		logger:           slog.Default(),
		tracer:           otel.Tracer("worker"),
		progressInterval: DefaultProgressInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// run carries the state of one attempt.
type run struct {
	item    job.WorkItem
	job     *job.Job
	attempt int
	log     *slog.Logger
}

// Handle implements queue.Handler.
func (w *Worker) Handle(ctx context.Context, d queue.Delivery) error {
	item := d.Item
	ctx, span := w.tracer.Start(ctx, "worker.Handle", trace.WithAttributes(
		attribute.String("job.id", item.JobID),
		attribute.String("video.id", item.VideoID),
		attribute.Int("attempt", d.Attempt),
	))
	defer span.End()

	start := time.Now()
	log := w.logger.With(
		slog.String("job_id", item.JobID),
		slog.String("video_id", item.VideoID),
		slog.Int("attempt", d.Attempt),
	)
	if d.Attempt > 1 {
		w.metrics.Retried(d.Attempt)
	}

	j, err := w.jobs.FindJob(ctx, item.JobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			log.Warn("dropping work item for unknown job")
			return nil
		}
		return fmt.Errorf("load job: %w", err)
	}
	if j.IsTerminal() {
		log.Info("skipping finished job", slog.String("status", string(j.GetStatus())))
		return nil
	}
	if j.GetStatus() == job.StatusPending {
		if err := j.Start(); err != nil {
			return queue.Permanent(fmt.Errorf("start job: %w", err))
		}
		if err := w.jobs.UpdateJob(ctx, j); err != nil {
			return fmt.Errorf("mark job processing: %w", err)
		}
		w.notify(ctx, j, log)
	}

	done := w.metrics.WorkerStarted()
	defer done()

	r := &run{item: item, job: j, attempt: d.Attempt, log: log}
	count, err := w.process(ctx, r)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return w.fail(ctx, r, d, err)
	}

	processing := j.Clone()
	if err := j.Complete(count); err != nil {
		return queue.Permanent(fmt.Errorf("complete job: %w", err))
	}
	if err := w.jobs.UpdateJob(ctx, j); err != nil {
		// The ledger still holds the processing row.
		r.job = processing
		err = fmt.Errorf("mark job completed: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return w.fail(ctx, r, d, err)
	}
	w.metrics.JobFinished(string(job.StatusCompleted))
	w.metrics.ObserveStage(metrics.StageTotal, start)
	w.notify(ctx, j, log)

	log.Info("job completed",
		slog.Int("frames", count),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// process downloads the source and samples it, storing every new frame.
// It returns the number of frames the sampler produced.
func (w *Worker) process(ctx context.Context, r *run) (int, error) {
	scratch, err := w.scratch.Create(r.item.JobID)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := scratch.Cleanup(); err != nil {
			r.log.Warn("failed to remove scratch area", slog.String("error", err.Error()))
		}
	}()

	src, err := w.download(ctx, scratch, r.item.SourceKey)
	if err != nil {
		return 0, err
	}

	recorded, err := w.recordedFrames(ctx, r.item.JobID)
	if err != nil {
		return 0, err
	}
	if len(recorded) > 0 {
		r.log.Info("resuming job", slog.Int("recorded_frames", len(recorded)))
	}

	sampleStart := time.Now()
	sctx, span := w.tracer.Start(ctx, "sample_frames")
	defer span.End()

	sink := newProgressSink(ctx, w.jobs, r.job, w.progressInterval, r.log)
	count, err := w.sampler.Sample(sctx, src, r.item.Duration, r.item.Options, sink, func(f media.Frame) error {
		if recorded[f.Number] {
			return nil
		}
		return w.storeFrame(sctx, r.item, f)
	})
	sink.Flush()
	if err != nil {
		if errors.Is(err, media.ErrSourceMedia) {
			return count, queue.Permanent(err)
		}
		return count, err
	}
	w.metrics.ObserveStage(metrics.StageSample, sampleStart)
	return count, nil
}

func (w *Worker) download(ctx context.Context, scratch *storage.Scratch, key string) (string, error) {
	start := time.Now()
	ctx, span := w.tracer.Start(ctx, "download_source", trace.WithAttributes(
		attribute.String("source.key", key),
	))
	defer span.End()

	rc, err := w.store.Download(ctx, key)
	if err != nil {
		return "", fmt.Errorf("download source: %w", err)
	}
	defer func() { _ = rc.Close() }()

	src, err := scratch.SaveTemp(ctx, "source"+path.Ext(key), rc)
	if err != nil {
		return "", fmt.Errorf("%w: save source %s: %w", storage.ErrStorage, key, err)
	}
	w.metrics.ObserveStage(metrics.StageDownload, start)
	return src, nil
}

// recordedFrames returns the frame numbers a previous attempt already stored.
func (w *Worker) recordedFrames(ctx context.Context, jobID string) (map[int]bool, error) {
	frames, err := w.jobs.ListFramesByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list recorded frames: %w", err)
	}
	recorded := make(map[int]bool, len(frames))
	for _, f := range frames {
		recorded[f.FrameNumber] = true
	}
	return recorded, nil
}

// storeFrame uploads the frame bytes and only then records the frame.
func (w *Worker) storeFrame(ctx context.Context, item job.WorkItem, f media.Frame) error {
	key := job.FrameStorageKey(item.VideoID, item.JobID, f.Number, f.Format)
	if _, err := w.store.Upload(ctx, key, f.Data, f.Format.ContentType()); err != nil {
		return fmt.Errorf("upload frame %d: %w", f.Number, err)
	}

	err := w.jobs.CreateFrame(ctx, &job.Frame{
		ID:          id.Generate(),
		JobID:       item.JobID,
		VideoID:     item.VideoID,
		FrameNumber: f.Number,
		Timestamp:   f.Timestamp,
		StorageKey:  key,
		Width:       f.Width,
		Height:      f.Height,
		Format:      f.Format,
		CreatedAt:   time.Now().UTC(),
	})
	if errors.Is(err, job.ErrDuplicateFrame) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("record frame %d: %w", f.Number, err)
	}
	w.metrics.FrameExtracted()
	return nil
}

// fail records err on the job when no further attempt will run, and returns
// it so the transport can decide between retry and failure.
func (w *Worker) fail(ctx context.Context, r *run, d queue.Delivery, err error) error {
	if !d.Final() && !queue.IsPermanent(err) {
		r.log.Warn("attempt failed, will retry",
			slog.Int("max_attempts", d.MaxAttempts),
			slog.String("error", err.Error()),
		)
		return err
	}

	r.log.Error("job failed", slog.String("error", err.Error()))
	if ferr := r.job.Fail(failureMessage(err)); ferr != nil {
		r.log.Warn("failed to mark job failed", slog.String("error", ferr.Error()))
		return err
	}
	if uerr := w.jobs.UpdateJob(ctx, r.job); uerr != nil {
		r.log.Error("failed to persist job failure", slog.String("error", uerr.Error()))
	}
	w.metrics.JobFinished(string(job.StatusFailed))
	w.notify(ctx, r.job, r.log)
	return err
}

// failureMessage returns the text recorded on a failed job.
func failureMessage(err error) string {
	var de *media.DurationError
	if errors.As(err, &de) {
		return de.Error()
	}
	return err.Error()
}

func (w *Worker) notify(ctx context.Context, j *job.Job, log *slog.Logger) {
	if err := w.notifier.NotifyStatus(ctx, job.EventFor(j)); err != nil {
		log.Warn("failed to publish status event", slog.String("error", err.Error()))
	}
}
