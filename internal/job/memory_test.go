package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryRepository_CreateAndFind(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New("video-1", DefaultOptions(), 3)

	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved, err := repo.FindJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID != job.ID || saved.VideoID != "video-1" {
		t.Errorf("unexpected job %+v", saved)
	}

	if err := repo.CreateJob(ctx, job); err == nil {
		t.Error("expected duplicate create to fail")
	}
}

func TestMemoryRepository_UpdateJob(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New("video-1", DefaultOptions(), 3)
	_ = repo.CreateJob(ctx, job)

	_ = job.Start()
	_ = repo.UpdateJob(ctx, job)

	saved, _ := repo.FindJob(ctx, job.ID)
	if saved.Status != StatusProcessing {
		t.Errorf("expected status %s, got %s", StatusProcessing, saved.Status)
	}

	if err := repo.UpdateJob(ctx, New("video-1", DefaultOptions(), 1)); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_FindJob_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindJob(context.Background(), "nonexistent")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_ReturnsClones(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New("video-1", DefaultOptions(), 3)
	_ = repo.CreateJob(ctx, job)

	found, _ := repo.FindJob(ctx, job.ID)
	found.Progress = 77

	again, _ := repo.FindJob(ctx, job.ID)
	if again.Progress == 77 {
		t.Error("mutation of returned job leaked into repository")
	}
}

func TestMemoryRepository_UpdateProgress(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	job := New("video-1", DefaultOptions(), 4)
	_ = repo.CreateJob(ctx, job)

	if err := repo.UpdateProgress(ctx, job.ID, 50, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	saved, _ := repo.FindJob(ctx, job.ID)
	if saved.Progress != 50 || saved.ProcessedFrames != 2 {
		t.Errorf("expected 50/2, got %d/%d", saved.Progress, saved.ProcessedFrames)
	}

	if err := repo.UpdateProgress(ctx, "missing", 1, 1); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryRepository_ListPendingBefore(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	old := New("video-1", DefaultOptions(), 1)
	old.CreatedAt = time.Now().Add(-time.Hour)
	started := New("video-1", DefaultOptions(), 1)
	started.CreatedAt = time.Now().Add(-time.Hour)
	_ = started.Start()
	fresh := New("video-1", DefaultOptions(), 1)

	for _, j := range []*Job{old, started, fresh} {
		_ = repo.CreateJob(ctx, j)
	}

	pending, err := repo.ListPendingBefore(ctx, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != old.ID {
		t.Errorf("expected only the old pending job, got %d jobs", len(pending))
	}
}

func TestMemoryRepository_Frames(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for _, n := range []int{3, 1, 2} {
		err := repo.CreateFrame(ctx, &Frame{ID: "f", JobID: "job-a", VideoID: "video-1", FrameNumber: n})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	_ = repo.CreateFrame(ctx, &Frame{JobID: "job-b", VideoID: "video-1", FrameNumber: 1})
	_ = repo.CreateFrame(ctx, &Frame{JobID: "job-c", VideoID: "video-2", FrameNumber: 1})

	frames, _ := repo.ListFramesByJob(ctx, "job-a")
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.FrameNumber != i+1 {
			t.Errorf("frame %d out of order: %d", i, f.FrameNumber)
		}
	}

	byVideo, _ := repo.ListFramesByVideo(ctx, "video-1")
	if len(byVideo) != 4 {
		t.Errorf("expected 4 frames for video-1, got %d", len(byVideo))
	}
	for i := 1; i < len(byVideo); i++ {
		if byVideo[i].FrameNumber < byVideo[i-1].FrameNumber {
			t.Error("frames by video not ordered by frame number")
		}
	}

	err := repo.CreateFrame(ctx, &Frame{JobID: "job-a", VideoID: "video-1", FrameNumber: 2})
	if !errors.Is(err, ErrDuplicateFrame) {
		t.Errorf("expected ErrDuplicateFrame, got %v", err)
	}
}

func TestMemoryRepository_Videos(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.FindVideo(ctx, "missing"); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("expected ErrVideoNotFound, got %v", err)
	}

	_ = repo.CreateVideo(ctx, &Video{ID: "v1", OriginalName: "clip.mp4", Duration: 10})
	v, err := repo.FindVideo(ctx, "v1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.OriginalName != "clip.mp4" || v.Duration != 10 {
		t.Errorf("unexpected video %+v", v)
	}
}

func TestMemoryRepository_SoftDeleteVideo(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = repo.CreateVideo(ctx, &Video{ID: "v2", OriginalName: "b.mp4", CreatedAt: base.Add(time.Minute)})
	_ = repo.CreateVideo(ctx, &Video{ID: "v1", OriginalName: "a.mp4", CreatedAt: base})

	videos, err := repo.ListVideos(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(videos) != 2 || videos[0].ID != "v1" || videos[1].ID != "v2" {
		t.Fatalf("expected [v1 v2] oldest first, got %+v", videos)
	}

	deletedAt := base.Add(time.Hour)
	if err := repo.SoftDeleteVideo(ctx, "v1", deletedAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.SoftDeleteVideo(ctx, "v1", deletedAt); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("second delete: expected ErrVideoNotFound, got %v", err)
	}
	if err := repo.SoftDeleteVideo(ctx, "missing", deletedAt); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("unknown video: expected ErrVideoNotFound, got %v", err)
	}

	v, err := repo.FindVideo(ctx, "v1")
	if err != nil {
		t.Fatalf("FindVideo must still return deleted videos: %v", err)
	}
	if !v.IsDeleted() || !v.DeletedAt.Equal(deletedAt) {
		t.Errorf("expected DeletedAt %v, got %v", deletedAt, v.DeletedAt)
	}

	videos, _ = repo.ListVideos(ctx)
	if len(videos) != 1 || videos[0].ID != "v2" {
		t.Errorf("expected only v2 listed, got %+v", videos)
	}
}

func TestMemoryRepository_ConcurrentAccess(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			job := New("video-1", DefaultOptions(), 1)
			_ = repo.CreateJob(ctx, job)
			_ = repo.UpdateProgress(ctx, job.ID, 10, 1)
			_ = repo.CreateFrame(ctx, &Frame{JobID: job.ID, VideoID: "video-1", FrameNumber: 1})
			_, _ = repo.ListFramesByVideo(ctx, "video-1")
		}(i)
	}
	wg.Wait()

	frames, _ := repo.ListFramesByVideo(ctx, "video-1")
	if len(frames) != 50 {
		t.Errorf("expected 50 frames, got %d", len(frames))
	}
}
