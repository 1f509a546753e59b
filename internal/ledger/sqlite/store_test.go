package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/frame-extractor/internal/job"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedVideo(t *testing.T, s *Store, id string) *job.Video {
	t.Helper()
	v := &job.Video{
		ID:           id,
		OriginalName: "holiday.mp4",
		MimeType:     "video/mp4",
		Size:         1024,
		Duration:     10.5,
		Width:        1280,
		Height:       720,
		FrameRate:    25,
		StorageKey:   "videos/" + id + ".mp4",
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.CreateVideo(context.Background(), v))
	return v
}

func TestOpen_IsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	s1, err := Open(ctx, path)
	require.NoError(t, err)
	seedVideo(t, s1, "v1")
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.FindVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "holiday.mp4", v.OriginalName)
}

func TestStore_Videos(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := seedVideo(t, s, "v1")
	got, err := s.FindVideo(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, want.StorageKey, got.StorageKey)
	assert.Equal(t, want.Duration, got.Duration)
	assert.Equal(t, want.Width, got.Width)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.False(t, got.IsDeleted())

	deletedAt := time.Now().UTC()
	require.NoError(t, s.CreateVideo(ctx, &job.Video{
		ID: "v2", OriginalName: "gone.mp4", Duration: 1, StorageKey: "videos/v2.mp4",
		CreatedAt: time.Now().UTC(), DeletedAt: &deletedAt,
	}))
	gone, err := s.FindVideo(ctx, "v2")
	require.NoError(t, err)
	assert.True(t, gone.IsDeleted())

	_, err = s.FindVideo(ctx, "missing")
	assert.ErrorIs(t, err, job.ErrVideoNotFound)
}

func TestStore_SoftDeleteVideo(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedVideo(t, s, "v1")
	seedVideo(t, s, "v2")

	listed, err := s.ListVideos(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 2)

	require.NoError(t, s.SoftDeleteVideo(ctx, "v1", time.Now()))
	assert.ErrorIs(t, s.SoftDeleteVideo(ctx, "v1", time.Now()), job.ErrVideoNotFound)
	assert.ErrorIs(t, s.SoftDeleteVideo(ctx, "missing", time.Now()), job.ErrVideoNotFound)

	v, err := s.FindVideo(ctx, "v1")
	require.NoError(t, err)
	assert.True(t, v.IsDeleted())

	listed, err = s.ListVideos(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "v2", listed[0].ID)
}

func TestStore_JobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedVideo(t, s, "v1")

	opts := job.Options{Interval: 2, Format: job.FormatWebP, Quality: 70, MaxWidth: 640}
	j := job.NewWithID("j1", "v1", opts, 6)
	require.NoError(t, s.CreateJob(ctx, j))

	got, err := s.FindJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.Equal(t, opts, got.Options)
	assert.Equal(t, 6, got.TotalFrames)
	assert.True(t, got.StartedAt.IsZero())
	assert.True(t, got.CompletedAt.IsZero())

	require.NoError(t, got.Start())
	require.NoError(t, s.UpdateJob(ctx, got))
	require.NoError(t, s.UpdateProgress(ctx, "j1", 50, 3))

	mid, err := s.FindJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusProcessing, mid.Status)
	assert.Equal(t, 50, mid.Progress)
	assert.Equal(t, 3, mid.ProcessedFrames)
	assert.False(t, mid.StartedAt.IsZero())

	require.NoError(t, mid.Complete(7))
	require.NoError(t, s.UpdateJob(ctx, mid))

	done, err := s.FindJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, 7, done.TotalFrames)
	assert.False(t, done.CompletedAt.IsZero())
}

func TestStore_JobNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.FindJob(ctx, "nope")
	assert.ErrorIs(t, err, job.ErrJobNotFound)

	assert.ErrorIs(t, s.UpdateJob(ctx, job.NewWithID("nope", "v", job.DefaultOptions(), 1)), job.ErrJobNotFound)
	assert.ErrorIs(t, s.UpdateProgress(ctx, "nope", 1, 1), job.ErrJobNotFound)
}

func TestStore_ListPendingBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedVideo(t, s, "v1")

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old-2", "old-1", "new"} {
		j := job.NewWithID(id, "v1", job.DefaultOptions(), 1)
		j.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if id == "old-1" {
			j.CreatedAt = base.Add(-time.Minute)
		}
		require.NoError(t, s.CreateJob(ctx, j))
	}
	started := job.NewWithID("started", "v1", job.DefaultOptions(), 1)
	started.CreatedAt = base.Add(-time.Hour)
	require.NoError(t, started.Start())
	require.NoError(t, s.CreateJob(ctx, started))

	pending, err := s.ListPendingBefore(ctx, base.Add(90*time.Second))
	require.NoError(t, err)

	ids := make([]string, 0, len(pending))
	for _, j := range pending {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"old-1", "old-2"}, ids)
}

func TestStore_Frames(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedVideo(t, s, "v1")
	require.NoError(t, s.CreateJob(ctx, job.NewWithID("j1", "v1", job.DefaultOptions(), 3)))
	require.NoError(t, s.CreateJob(ctx, job.NewWithID("j2", "v1", job.DefaultOptions(), 3)))

	addFrame := func(id, jobID string, n int) error {
		return s.CreateFrame(ctx, &job.Frame{
			ID:          id,
			JobID:       jobID,
			VideoID:     "v1",
			FrameNumber: n,
			Timestamp:   float64(n-1) * 1.0,
			StorageKey:  job.FrameStorageKey("v1", jobID, n, job.FormatPNG),
			Width:       320,
			Height:      240,
			Format:      job.FormatPNG,
			CreatedAt:   time.Now().UTC(),
		})
	}

	require.NoError(t, addFrame("f3", "j1", 3))
	require.NoError(t, addFrame("f1", "j1", 1))
	require.NoError(t, addFrame("f2", "j1", 2))
	require.NoError(t, addFrame("g1", "j2", 1))

	err := addFrame("dup", "j1", 2)
	assert.ErrorIs(t, err, job.ErrDuplicateFrame)

	frames, err := s.ListFramesByJob(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, i+1, f.FrameNumber)
		assert.Equal(t, job.FrameFileName(i+1, job.FormatPNG), f.FileName())
		assert.Equal(t, job.FormatPNG, f.Format)
	}

	byVideo, err := s.ListFramesByVideo(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, byVideo, 4)
	assert.Equal(t, 1, byVideo[0].FrameNumber)
	assert.Equal(t, 1, byVideo[1].FrameNumber)
	assert.Equal(t, 3, byVideo[3].FrameNumber)

	empty, err := s.ListFramesByJob(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}
