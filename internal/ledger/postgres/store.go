// Package postgres implements the job ledger on PostgreSQL using pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maauso/frame-extractor/internal/job"
)

//go:embed schema.sql
var schemaSQL string

// Compile-time check that Store implements job.Ledger.
var _ job.Ledger = (*Store)(nil)

const uniqueViolation = "23505"

const jobColumns = `id, video_id, status, options, progress, total_frames,
	processed_frames, error, created_at, updated_at, started_at, completed_at`

const frameColumns = `id, job_id, video_id, frame_number, timestamp, storage_key,
	width, height, format, created_at`

const videoColumns = `id, original_name, mime_type, size, duration, width, height,
	frame_rate, storage_key, created_at, deleted_at`

// Store is a job.Ledger backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool, retrying while the database comes up.
func Connect(ctx context.Context, databaseURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	var (
		pool *pgxpool.Pool
		err  error
	)
	for i := 0; i < 10; i++ {
		pool, err = pgxpool.New(ctx, databaseURL)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		logger.Info("waiting for database", slog.Int("attempt", i+1), slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect to database: %w", err)
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	c := j.Clone()
	opts, err := json.Marshal(c.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	query := `INSERT INTO extraction_jobs (` + jobColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = s.pool.Exec(ctx, query,
		c.ID, c.VideoID, string(c.Status), opts, c.Progress, c.TotalFrames,
		c.ProcessedFrames, c.Error, c.CreatedAt, c.UpdatedAt,
		timePtr(c.StartedAt), timePtr(c.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// FindJob retrieves a job by id.
func (s *Store) FindJob(ctx context.Context, id string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM extraction_jobs WHERE id=$1`, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	return j, nil
}

// UpdateJob overwrites the mutable columns of a job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	c := j.Clone()
	query := `
		UPDATE extraction_jobs SET
			status=$2, progress=$3, total_frames=$4, processed_frames=$5,
			error=$6, updated_at=$7, started_at=$8, completed_at=$9
		WHERE id=$1`

	tag, err := s.pool.Exec(ctx, query,
		c.ID, string(c.Status), c.Progress, c.TotalFrames, c.ProcessedFrames,
		c.Error, c.UpdatedAt, timePtr(c.StartedAt), timePtr(c.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// UpdateProgress writes the progress columns only.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress, processedFrames int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE extraction_jobs SET progress=$2, processed_frames=$3, updated_at=now()
		WHERE id=$1`, id, progress, processedFrames)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrJobNotFound
	}
	return nil
}

// ListPendingBefore returns pending jobs created before cutoff, oldest first.
func (s *Store) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM extraction_jobs
		WHERE status=$1 AND created_at < $2
		ORDER BY created_at`, string(job.StatusPending), cutoff)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	result := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

// CreateFrame inserts a frame row.
func (s *Store) CreateFrame(ctx context.Context, f *job.Frame) error {
	query := `INSERT INTO frames (` + frameColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err := s.pool.Exec(ctx, query,
		f.ID, f.JobID, f.VideoID, f.FrameNumber, f.Timestamp, f.StorageKey,
		f.Width, f.Height, string(f.Format), f.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: job %s frame %d", job.ErrDuplicateFrame, f.JobID, f.FrameNumber)
		}
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

// ListFramesByJob returns the frames of a job ordered by frame number.
func (s *Store) ListFramesByJob(ctx context.Context, jobID string) ([]job.Frame, error) {
	return s.listFrames(ctx, `SELECT `+frameColumns+` FROM frames
		WHERE job_id=$1 ORDER BY frame_number`, jobID)
}

// ListFramesByVideo returns the frames of every job of a video.
func (s *Store) ListFramesByVideo(ctx context.Context, videoID string) ([]job.Frame, error) {
	return s.listFrames(ctx, `SELECT `+frameColumns+` FROM frames
		WHERE video_id=$1 ORDER BY frame_number, created_at`, videoID)
}

func (s *Store) listFrames(ctx context.Context, query, arg string) ([]job.Frame, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	frames := make([]job.Frame, 0)
	for rows.Next() {
		var (
			f      job.Frame
			format string
		)
		if err := rows.Scan(&f.ID, &f.JobID, &f.VideoID, &f.FrameNumber, &f.Timestamp,
			&f.StorageKey, &f.Width, &f.Height, &format, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		f.Format = job.Format(format)
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// CreateVideo inserts a video row.
func (s *Store) CreateVideo(ctx context.Context, v *job.Video) error {
	query := `
		INSERT INTO videos (id, original_name, mime_type, size, duration, width, height,
			frame_rate, storage_key, created_at, deleted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := s.pool.Exec(ctx, query,
		v.ID, v.OriginalName, v.MimeType, v.Size, v.Duration, v.Width, v.Height,
		v.FrameRate, v.StorageKey, v.CreatedAt, v.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

// FindVideo retrieves a video, including soft-deleted ones.
func (s *Store) FindVideo(ctx context.Context, id string) (*job.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id=$1`

	v, err := scanVideo(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, job.ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find video by id: %w", err)
	}
	return v, nil
}

// ListVideos returns the live videos, oldest first.
func (s *Store) ListVideos(ctx context.Context) ([]*job.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos
		WHERE deleted_at IS NULL ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var videos []*job.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// SoftDeleteVideo sets deleted_at on a live video.
func (s *Store) SoftDeleteVideo(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE videos SET deleted_at=$2 WHERE id=$1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("soft delete video: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return job.ErrVideoNotFound
	}
	return nil
}

func scanVideo(row pgx.Row) (*job.Video, error) {
	v := &job.Video{}
	if err := row.Scan(
		&v.ID, &v.OriginalName, &v.MimeType, &v.Size, &v.Duration, &v.Width, &v.Height,
		&v.FrameRate, &v.StorageKey, &v.CreatedAt, &v.DeletedAt,
	); err != nil {
		return nil, err
	}
	return v, nil
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j                  job.Job
		status             string
		opts               []byte
		started, completed *time.Time
	)
	if err := row.Scan(&j.ID, &j.VideoID, &status, &opts, &j.Progress, &j.TotalFrames,
		&j.ProcessedFrames, &j.Error, &j.CreatedAt, &j.UpdatedAt, &started, &completed); err != nil {
		return nil, err
	}
	j.Status = job.Status(status)
	if err := json.Unmarshal(opts, &j.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if started != nil {
		j.StartedAt = *started
	}
	if completed != nil {
		j.CompletedAt = *completed
	}
	return &j, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
