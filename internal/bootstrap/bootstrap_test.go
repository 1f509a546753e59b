package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/frame-extractor/internal/config"
	"github.com/maauso/frame-extractor/internal/job"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:                 8080,
		TempDir:              filepath.Join(dir, "scratch"),
		StorageDriver:        config.StorageLocal,
		LocalStoragePath:     filepath.Join(dir, "objects"),
		PublicBaseURL:        "http://localhost:8080",
		URLSigningSecret:     "secret",
		LedgerDriver:         config.LedgerSQLite,
		SQLitePath:           filepath.Join(dir, "db", "frames.db"),
		QueueDriver:          config.QueueMemory,
		EmbeddedWorker:       true,
		WorkerConcurrency:    2,
		WorkerMaxAttempts:    3,
		WorkerRetryBaseDelay: time.Second,
		ReconcileInterval:    time.Minute,
		ReconcileAfter:       2 * time.Minute,
		SignedURLExpiry:      time.Hour,

		QueueCompletedRetention: time.Hour,
		QueueFailedRetention:    24 * time.Hour,

		FFmpegPath:        "ffmpeg",
		FFprobePath:       "ffprobe",
		MaxSourceDuration: 60,
		MetricsPort:       9090,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDependencies_LocalSQLiteMemory(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	deps, err := NewDependencies(ctx, cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, deps.Close()) })

	require.NotNil(t, deps.Service)
	require.NotNil(t, deps.Worker)
	require.NotNil(t, deps.Archives)
	require.NotNil(t, deps.Importer)
	require.NotNil(t, deps.Local)
	assert.Same(t, deps.Local, deps.Store)
	assert.IsType(t, job.NopNotifier{}, deps.Notifier)

	require.NoError(t, deps.Ledger.CreateVideo(ctx, &job.Video{
		ID:           "v1",
		OriginalName: "clip.mp4",
		Duration:     3,
		StorageKey:   "videos/v1.mp4",
		CreatedAt:    time.Now(),
	}))
	view, err := deps.Service.StartExtraction(ctx, "v1", job.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 4, view.TotalFrames)

	state, err := deps.Transport.State(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, job.QueueStateWaiting, state)

	families, err := deps.Registry.Gather()
	require.NoError(t, err)
	var dispatched float64
	for _, mf := range families {
		if mf.GetName() == "frame_extractor_jobs_dispatched_total" {
			dispatched = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, 1.0, dispatched)
}

func TestNewDependencies_MemoryLedger(t *testing.T) {
	cfg := testConfig(t)
	cfg.LedgerDriver = config.LedgerMemory

	deps, err := NewDependencies(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, deps.Close()) })

	assert.IsType(t, &job.MemoryRepository{}, deps.Ledger)
}

func TestNewDependencies_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.EmbeddedWorker = false

	_, err := NewDependencies(context.Background(), cfg, quietLogger())
	assert.ErrorIs(t, err, config.ErrMemoryQueueNeedsWorker)
}

func TestDependencies_CloseIsIdempotent(t *testing.T) {
	deps, err := NewDependencies(context.Background(), testConfig(t), quietLogger())
	require.NoError(t, err)

	require.NoError(t, deps.Close())
	assert.NoError(t, deps.Close())
}
