package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultSignedURLExpiry is the lifetime of frame URLs in status views.
const DefaultSignedURLExpiry = time.Hour

// Selector chooses a frame set by job, or by video when JobID is empty.
type Selector struct {
	JobID   string
	VideoID string
}

// Validate requires at least one selector field.
func (s Selector) Validate() error {
	if s.JobID == "" && s.VideoID == "" {
		return fmt.Errorf("%w: jobId or videoId is required", ErrValidation)
	}
	return nil
}

// Service orchestrates extraction jobs: it records them in the ledger,
// dispatches them to the queue transport and answers status queries.
type Service struct {
	jobs       Repository
	videos     VideoRepository
	dispatcher Dispatcher
	signer     URLSigner
	notifier   Notifier
	logger     *slog.Logger
	urlExpiry  time.Duration
	now        func() time.Time
}

// ServiceOption is a function that configures a Service.
type ServiceOption func(*Service)

// WithSignedURLExpiry sets the lifetime of frame URLs.
func WithSignedURLExpiry(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.urlExpiry = d
		}
	}
}

// WithNotifier sets the status event publisher.
func WithNotifier(n Notifier) ServiceOption {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides the time source used by reconciliation.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new Service.
func NewService(jobs Repository, videos VideoRepository, dispatcher Dispatcher, signer URLSigner, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		jobs:       jobs,
		videos:     videos,
		dispatcher: dispatcher,
		signer:     signer,
		notifier:   NopNotifier{},
		logger:     logger,
		urlExpiry:  DefaultSignedURLExpiry,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartExtraction records a pending job for the video and dispatches it.
// A failed dispatch marks the job failed so no live orphan is left behind.
func (s *Service) StartExtraction(ctx context.Context, videoID string, opts Options) (*View, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	video, err := s.videos.FindVideo(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("find video %s: %w", videoID, err)
	}
	if video.IsDeleted() {
		return nil, fmt.Errorf("find video %s: %w", videoID, ErrVideoNotFound)
	}

	j := New(video.ID, opts, EstimateTotalFrames(video.Duration, opts.Interval))

	logger := s.logger.With(
		slog.String("job_id", j.ID),
		slog.String("video_id", video.ID),
	)
	logger.Info("creating extraction job",
		slog.Float64("interval", opts.Interval),
		slog.String("format", string(opts.Format)),
		slog.Int("quality", opts.Quality),
		slog.Int("total_frames", j.TotalFrames),
	)

	if err := s.jobs.CreateJob(ctx, j); err != nil {
		logger.Error("failed to save job", slog.String("error", err.Error()))
		return nil, fmt.Errorf("create job: %w", err)
	}

	item := WorkItem{
		JobID:     j.ID,
		VideoID:   video.ID,
		SourceKey: video.StorageKey,
		Duration:  video.Duration,
		Options:   opts,
	}
	if err := s.dispatcher.Dispatch(ctx, item); err != nil {
		logger.Error("failed to dispatch job", slog.String("error", err.Error()))
		s.compensateDispatch(ctx, j, err)
		return nil, fmt.Errorf("%w: dispatch job %s: %w", ErrTransientQueue, j.ID, err)
	}

	s.notify(ctx, j)
	return NewView(j), nil
}

// compensateDispatch fails a job whose work item never reached the transport.
func (s *Service) compensateDispatch(ctx context.Context, j *Job, cause error) {
	if err := j.Fail("dispatch failed: " + cause.Error()); err != nil {
		return
	}
	// The request context may already be done; the ledger write must still happen.
	ctx = context.WithoutCancel(ctx)
	if err := s.jobs.UpdateJob(ctx, j); err != nil {
		s.logger.Error("failed to mark undispatched job as failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.notify(ctx, j)
}

// CancelJob fails a pending job whose work item has not been claimed.
// Returns ErrNotCancellable for claimed or terminal jobs.
func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	j, err := s.jobs.FindJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.GetStatus() != StatusPending {
		return ErrNotCancellable
	}

	removed, err := s.dispatcher.Remove(ctx, jobID)
	if err != nil {
		return fmt.Errorf("%w: remove job %s: %w", ErrTransientQueue, jobID, err)
	}
	if !removed {
		s.logger.Info("cancel rejected: work item already claimed",
			slog.String("job_id", jobID),
		)
		return ErrNotCancellable
	}

	if err := j.Cancel(); err != nil {
		return ErrNotCancellable
	}
	if err := s.jobs.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("update cancelled job: %w", err)
	}

	s.logger.Info("job cancelled", slog.String("job_id", jobID))
	s.notify(ctx, j)
	return nil
}

// GetJobStatus returns the job view, with signed frame URLs once completed.
func (s *Service) GetJobStatus(ctx context.Context, jobID string) (*View, error) {
	j, err := s.jobs.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	view := NewView(j)
	if view.Status != StatusCompleted {
		return view, nil
	}

	frames, err := s.jobs.ListFramesByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	view.Frames, err = s.resolveFrames(ctx, frames, false)
	if err != nil {
		return nil, err
	}
	return view, nil
}

// ListFrames resolves the selected frame set to signed URLs.
func (s *Service) ListFrames(ctx context.Context, sel Selector) ([]FrameView, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	var (
		frames []Frame
		err    error
	)
	if sel.JobID != "" {
		frames, err = s.jobs.ListFramesByJob(ctx, sel.JobID)
	} else {
		frames, err = s.jobs.ListFramesByVideo(ctx, sel.VideoID)
	}
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	return s.resolveFrames(ctx, frames, true)
}

// ListVideos returns the videos that are not deleted, oldest first.
func (s *Service) ListVideos(ctx context.Context) ([]VideoView, error) {
	videos, err := s.videos.ListVideos(ctx)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	views := make([]VideoView, 0, len(videos))
	for _, v := range videos {
		views = append(views, NewVideoView(v))
	}
	return views, nil
}

// GetVideo returns a live video. Soft-deleted videos are reported as
// ErrVideoNotFound.
func (s *Service) GetVideo(ctx context.Context, videoID string) (*VideoView, error) {
	v, err := s.videos.FindVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if v.IsDeleted() {
		return nil, ErrVideoNotFound
	}
	view := NewVideoView(v)
	return &view, nil
}

// DeleteVideo soft-deletes a video. Its stored source and frames are kept,
// but no new extraction can start from it.
func (s *Service) DeleteVideo(ctx context.Context, videoID string) error {
	if err := s.videos.SoftDeleteVideo(ctx, videoID, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("video deleted", slog.String("video_id", videoID))
	return nil
}

func (s *Service) resolveFrames(ctx context.Context, frames []Frame, withIDs bool) ([]FrameView, error) {
	views := make([]FrameView, 0, len(frames))
	for _, f := range frames {
		url, err := s.signer.SignedURL(ctx, f.StorageKey, s.urlExpiry)
		if err != nil {
			return nil, fmt.Errorf("sign frame %d: %w", f.FrameNumber, err)
		}
		v := FrameView{
			FrameNumber: f.FrameNumber,
			Timestamp:   f.Timestamp,
			URL:         url,
			Width:       f.Width,
			Height:      f.Height,
			Format:      f.Format,
		}
		if withIDs {
			v.ID = f.ID
			v.JobID = f.JobID
		}
		views = append(views, v)
	}
	return views, nil
}

// AbandonedMessage is the error recorded on a pending job whose work item
// the transport finished without the worker updating the job.
const AbandonedMessage = "work item abandoned by the queue"

// ReconcileOrphans re-dispatches pending jobs older than olderThan that the
// transport does not know about, and fails those it has already given up on.
// It returns how many were re-dispatched.
func (s *Service) ReconcileOrphans(ctx context.Context, olderThan time.Duration) (int, error) {
	pending, err := s.jobs.ListPendingBefore(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("list pending jobs: %w", err)
	}

	redispatched := 0
	var errs []error
	for _, j := range pending {
		state, err := s.dispatcher.State(ctx, j.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("state of %s: %w", j.ID, err))
			continue
		}
		if state.Finished() {
			if err := s.settleAbandoned(ctx, j, state); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if state != QueueStateUnknown {
			continue
		}

		video, err := s.videos.FindVideo(ctx, j.VideoID)
		if err != nil || video.IsDeleted() {
			if failErr := j.Fail("source video no longer available"); failErr == nil {
				if err := s.jobs.UpdateJob(ctx, j); err != nil {
					errs = append(errs, err)
				} else {
					s.notify(ctx, j)
				}
			}
			continue
		}

		item := WorkItem{
			JobID:     j.ID,
			VideoID:   j.VideoID,
			SourceKey: video.StorageKey,
			Duration:  video.Duration,
			Options:   j.Options,
		}
		if err := s.dispatcher.Dispatch(ctx, item); err != nil {
			errs = append(errs, fmt.Errorf("redispatch %s: %w", j.ID, err))
			continue
		}
		s.logger.Warn("re-dispatched orphaned job",
			slog.String("job_id", j.ID),
			slog.Time("created_at", j.CreatedAt),
		)
		redispatched++
	}
	return redispatched, errors.Join(errs...)
}

// settleAbandoned fails a pending job the transport is done with. A removed
// item means a cancel whose ledger write was lost.
func (s *Service) settleAbandoned(ctx context.Context, j *Job, state QueueState) error {
	var err error
	if state == QueueStateRemoved {
		err = j.Cancel()
	} else {
		err = j.Fail(AbandonedMessage)
	}
	if err != nil {
		return nil
	}
	if err := s.jobs.UpdateJob(ctx, j); err != nil {
		return fmt.Errorf("fail abandoned job %s: %w", j.ID, err)
	}
	s.logger.Warn("failed job abandoned by the queue",
		slog.String("job_id", j.ID),
		slog.String("queue_state", string(state)),
	)
	s.notify(ctx, j)
	return nil
}

func (s *Service) notify(ctx context.Context, j *Job) {
	if err := s.notifier.NotifyStatus(ctx, EventFor(j)); err != nil {
		s.logger.Warn("failed to publish status event",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}
