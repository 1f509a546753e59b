package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryRepository implements Ledger.
var _ Ledger = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Ledger.
// It uses maps with an RWMutex for thread-safe access.
// Suitable for development and testing; state is lost on restart.
type MemoryRepository struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	frames map[string][]Frame
	videos map[string]*Video
}

// NewMemoryRepository creates a new in-memory ledger.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:   make(map[string]*Job),
		frames: make(map[string][]Frame),
		videos: make(map[string]*Video),
	}
}

// CreateJob stores a clone of job.
func (r *MemoryRepository) CreateJob(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

// FindJob returns a clone to prevent external mutations.
func (r *MemoryRepository) FindJob(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// UpdateJob replaces the stored job.
func (r *MemoryRepository) UpdateJob(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

// UpdateProgress writes progress columns of a stored job.
func (r *MemoryRepository) UpdateProgress(_ context.Context, id string, progress, processedFrames int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Progress = progress
	job.ProcessedFrames = processedFrames
	job.UpdatedAt = time.Now().UTC()
	return nil
}

// ListPendingBefore returns pending jobs created before cutoff, oldest first.
func (r *MemoryRepository) ListPendingBefore(_ context.Context, cutoff time.Time) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Job, 0)
	for _, job := range r.jobs {
		if job.Status == StatusPending && job.CreatedAt.Before(cutoff) {
			result = append(result, job.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// CreateFrame appends a frame, rejecting duplicate frame numbers per job.
func (r *MemoryRepository) CreateFrame(_ context.Context, frame *Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.frames[frame.JobID] {
		if f.FrameNumber == frame.FrameNumber {
			return fmt.Errorf("%w: job %s frame %d", ErrDuplicateFrame, frame.JobID, frame.FrameNumber)
		}
	}
	frames := append(r.frames[frame.JobID], *frame)
	sort.Slice(frames, func(i, k int) bool {
		return frames[i].FrameNumber < frames[k].FrameNumber
	})
	r.frames[frame.JobID] = frames
	return nil
}

// ListFramesByJob returns a copy of the job's frames ordered by frame number.
func (r *MemoryRepository) ListFramesByJob(_ context.Context, jobID string) ([]Frame, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	frames := r.frames[jobID]
	out := make([]Frame, len(frames))
	copy(out, frames)
	return out, nil
}

// ListFramesByVideo returns the frames of every job of the video.
func (r *MemoryRepository) ListFramesByVideo(_ context.Context, videoID string) ([]Frame, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Frame, 0)
	for _, frames := range r.frames {
		for _, f := range frames {
			if f.VideoID == videoID {
				out = append(out, f)
			}
		}
	}
	sort.SliceStable(out, func(i, k int) bool {
		if out[i].FrameNumber != out[k].FrameNumber {
			return out[i].FrameNumber < out[k].FrameNumber
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

// CreateVideo stores a copy of the video.
func (r *MemoryRepository) CreateVideo(_ context.Context, video *Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := *video
	r.videos[video.ID] = &v
	return nil
}

// FindVideo returns a copy of the stored video.
func (r *MemoryRepository) FindVideo(_ context.Context, id string) (*Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, ErrVideoNotFound
	}
	out := *v
	return &out, nil
}

// ListVideos returns copies of the live videos ordered by creation time.
func (r *MemoryRepository) ListVideos(_ context.Context) ([]*Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Video, 0, len(r.videos))
	for _, v := range r.videos {
		if v.IsDeleted() {
			continue
		}
		c := *v
		out = append(out, &c)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out, nil
}

// SoftDeleteVideo marks a live video deleted.
func (r *MemoryRepository) SoftDeleteVideo(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok || v.IsDeleted() {
		return ErrVideoNotFound
	}
	t := at
	v.DeletedAt = &t
	return nil
}
