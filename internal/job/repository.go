package job

import (
	"context"
	"time"
)

// Repository defines the ledger port for jobs and frames.
// Updates are keyed by job id and last-writer-wins.
type Repository interface {
	// CreateJob inserts a new job row.
	CreateJob(ctx context.Context, job *Job) error

	// FindJob retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	FindJob(ctx context.Context, id string) (*Job, error)

	// UpdateJob overwrites the mutable columns of an existing job.
	// Returns ErrJobNotFound if the job does not exist.
	UpdateJob(ctx context.Context, job *Job) error

	// UpdateProgress writes progress and processed frames only.
	UpdateProgress(ctx context.Context, id string, progress, processedFrames int) error

	// ListPendingBefore returns pending jobs created before cutoff, oldest first.
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*Job, error)

	// CreateFrame appends a frame record.
	// Returns ErrDuplicateFrame if the job already has that frame number.
	CreateFrame(ctx context.Context, frame *Frame) error

	// ListFramesByJob returns the frames of a job ordered by frame number.
	ListFramesByJob(ctx context.Context, jobID string) ([]Frame, error)

	// ListFramesByVideo returns the frames of every job of a video,
	// ordered by frame number.
	ListFramesByVideo(ctx context.Context, videoID string) ([]Frame, error)
}

// VideoRepository stores the registered source videos.
type VideoRepository interface {
	// CreateVideo inserts a video row.
	CreateVideo(ctx context.Context, video *Video) error

	// FindVideo retrieves a video, including soft-deleted ones.
	// Returns ErrVideoNotFound if the video does not exist.
	FindVideo(ctx context.Context, id string) (*Video, error)

	// ListVideos returns the videos that are not deleted, oldest first.
	ListVideos(ctx context.Context) ([]*Video, error)

	// SoftDeleteVideo sets DeletedAt on a live video.
	// Returns ErrVideoNotFound if the video does not exist or is already deleted.
	SoftDeleteVideo(ctx context.Context, id string, at time.Time) error
}

// Ledger is implemented by every persistence adapter.
type Ledger interface {
	Repository
	VideoRepository
}
