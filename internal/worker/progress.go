package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/maauso/frame-extractor/internal/job"
	"github.com/maauso/frame-extractor/internal/media"
)

var _ media.ProgressSink = (*progressSink)(nil)

// progressSink writes sampler progress to the ledger. Writes that would move
// backward are dropped and the rest are spaced at least interval apart; the
// last coalesced value is written by Flush.
type progressSink struct {
	ctx      context.Context
	jobs     job.Repository
	job      *job.Job
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time

	last    time.Time
	pending bool
}

func newProgressSink(ctx context.Context, jobs job.Repository, j *job.Job, interval time.Duration, log *slog.Logger) *progressSink {
	return &progressSink{
		ctx:      ctx,
		jobs:     jobs,
		job:      j,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// ReportProgress implements media.ProgressSink.
func (s *progressSink) ReportProgress(current, total int) {
	if !s.job.UpdateProgress(current, total) {
		return
	}
	if !s.last.IsZero() && s.now().Sub(s.last) < s.interval {
		s.pending = true
		return
	}
	s.write()
}

// Flush writes the latest coalesced progress, if any.
func (s *progressSink) Flush() {
	if s.pending {
		s.write()
	}
}

func (s *progressSink) write() {
	c := s.job.Clone()
	s.last = s.now()
	s.pending = false
	if err := s.jobs.UpdateProgress(s.ctx, c.ID, c.Progress, c.ProcessedFrames); err != nil {
		s.log.Warn("failed to write progress",
			slog.Int("progress", c.Progress),
			slog.String("error", err.Error()),
		)
	}
}
