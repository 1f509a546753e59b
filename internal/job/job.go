// Package job provides the ExtractionJob aggregate and the orchestration
// services around it. It includes the Job entity with its monotonic state
// machine, the validated extraction options, frame and video records,
// and the persistence and dispatch ports implemented by adapters.
package job

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/maauso/frame-extractor/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the job is recorded and waiting for a worker.
	StatusPending Status = "pending"
	// StatusProcessing indicates a worker has claimed the job.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates every frame was extracted and recorded.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the job failed or was cancelled before it started.
	StatusFailed Status = "failed"
)

// CancelledMessage is the error recorded on a job cancelled before it was claimed.
const CancelledMessage = "Cancelled by user"

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// pending -> failed is the cancel path.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsValid reports whether s is one of the known statuses.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// EstimateTotalFrames returns floor(duration/interval) + 1.
// It is an estimate; the sampler may produce one frame more or less.
func EstimateTotalFrames(duration, interval float64) int {
	if interval <= 0 || duration < 0 {
		return 0
	}
	return int(math.Floor(duration/interval)) + 1
}

// Job represents a frame extraction job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// VideoID references the source video.
	VideoID string
	// Status is the current job state.
	Status Status
	// Options are the validated extraction options, fixed at creation.
	Options Options
	// Progress is the last written percentage. It is not capped on write.
	Progress int
	// TotalFrames is the duration-derived estimate.
	TotalFrames int
	// ProcessedFrames is the number of frames produced so far.
	ProcessedFrames int
	// Error contains the failure message if the job failed.
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
	// StartedAt is zero until a worker claims the job.
	StartedAt time.Time
	// CompletedAt is zero until the job reaches a terminal state.
	CompletedAt time.Time
}

// New creates a pending Job for the given video with a generated ID.
func New(videoID string, opts Options, totalFrames int) *Job {
	return NewWithID(id.Generate(), videoID, opts, totalFrames)
}

// NewWithID creates a pending Job with the specified ID.
// Useful for tests and for adapters rebuilding a job from storage.
func NewWithID(jobID, videoID string, opts Options, totalFrames int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          jobID,
		VideoID:     videoID,
		Status:      StatusPending,
		Options:     opts,
		TotalFrames: totalFrames,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now().UTC()

	switch status {
	case StatusProcessing:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from pending to processing.
func (j *Job) Start() error {
	return j.TransitionTo(StatusProcessing)
}

// Complete transitions the job to completed with the actual frame count.
// TotalFrames is raised to processed when the sampler produced more than
// estimated, so it never decreases.
func (j *Job) Complete(processed int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Progress = 100
	j.ProcessedFrames = processed
	if processed > j.TotalFrames {
		j.TotalFrames = processed
	}
	return nil
}

// Fail transitions the job to failed with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel fails a pending job with CancelledMessage.
func (j *Job) Cancel() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status != StatusPending {
		return ErrInvalidTransition
	}
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = CancelledMessage
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress records progress for current of total frames.
// Writes that would move progress backward are ignored and reported as false.
func (j *Job) UpdateProgress(current, total int) bool {
	percent := ProgressPercent(current, total)

	j.mu.Lock()
	defer j.mu.Unlock()
	if percent < j.Progress || current < j.ProcessedFrames {
		return false
	}
	j.Progress = percent
	j.ProcessedFrames = current
	j.UpdatedAt = time.Now().UTC()
	return true
}

// ProgressPercent returns floor(current/total*100). It may exceed 100 when
// the sampler produces more frames than estimated.
func ProgressPercent(current, total int) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	return int(math.Floor(float64(current) / float64(total) * 100))
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:              j.ID,
		VideoID:         j.VideoID,
		Status:          j.Status,
		Options:         j.Options,
		Progress:        j.Progress,
		TotalFrames:     j.TotalFrames,
		ProcessedFrames: j.ProcessedFrames,
		Error:           j.Error,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}
