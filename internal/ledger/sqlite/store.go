package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/maauso/frame-extractor/internal/job"
)

// Compile-time check that Store implements job.Ledger.
var _ job.Ledger = (*Store)(nil)

const jobColumns = `id, video_id, status, options, progress, total_frames,
	processed_frames, error, created_at, updated_at, started_at, completed_at`

const frameColumns = `id, job_id, video_id, frame_number, timestamp, storage_key,
	width, height, format, created_at`

const videoColumns = `id, original_name, mime_type, size, duration, width, height,
	frame_rate, storage_key, created_at, deleted_at`

// CreateJob inserts a new job row.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	c := j.Clone()
	opts, err := json.Marshal(c.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extraction_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.VideoID, string(c.Status), string(opts), c.Progress, c.TotalFrames,
		c.ProcessedFrames, c.Error, c.CreatedAt.UTC(), c.UpdatedAt.UTC(),
		nullTime(c.StartedAt), nullTime(c.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// FindJob retrieves a job by id.
func (s *Store) FindJob(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM extraction_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE extraction_jobs SET
			status = ?, progress = ?, total_frames = ?, processed_frames = ?,
			error = ?, updated_at = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(c.Status), c.Progress, c.TotalFrames, c.ProcessedFrames,
		c.Error, c.UpdatedAt.UTC(), nullTime(c.StartedAt), nullTime(c.CompletedAt),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return requireRow(res)
}

// UpdateProgress writes the progress columns only.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress, processedFrames int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE extraction_jobs SET progress = ?, processed_frames = ?, updated_at = ?
		WHERE id = ?`,
		progress, processedFrames, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return requireRow(res)
}

// ListPendingBefore returns pending jobs created before cutoff, oldest first.
func (s *Store) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM extraction_jobs
		WHERE status = ? AND created_at < ?
		ORDER BY created_at`,
		string(job.StatusPending), cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO frames (`+frameColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.JobID, f.VideoID, f.FrameNumber, f.Timestamp, f.StorageKey,
		f.Width, f.Height, string(f.Format), f.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: job %s frame %d", job.ErrDuplicateFrame, f.JobID, f.FrameNumber)
		}
		return fmt.Errorf("insert frame: %w", err)
	}
	return nil
}

// ListFramesByJob returns the frames of a job ordered by frame number.
func (s *Store) ListFramesByJob(ctx context.Context, jobID string) ([]job.Frame, error) {
	return s.listFrames(ctx, `SELECT `+frameColumns+` FROM frames
		WHERE job_id = ? ORDER BY frame_number`, jobID)
}

// ListFramesByVideo returns the frames of every job of a video.
func (s *Store) ListFramesByVideo(ctx context.Context, videoID string) ([]job.Frame, error) {
	return s.listFrames(ctx, `SELECT `+frameColumns+` FROM frames
		WHERE video_id = ? ORDER BY frame_number, created_at`, videoID)
}

func (s *Store) listFrames(ctx context.Context, query string, arg string) ([]job.Frame, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	var deleted sql.NullTime
	if v.DeletedAt != nil {
		deleted = sql.NullTime{Time: v.DeletedAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO videos (id, original_name, mime_type, size, duration, width, height,
			frame_rate, storage_key, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.OriginalName, v.MimeType, v.Size, v.Duration, v.Width, v.Height,
		v.FrameRate, v.StorageKey, v.CreatedAt.UTC(), deleted,
	)
	if err != nil {
		return fmt.Errorf("insert video: %w", err)
	}
	return nil
}

// FindVideo retrieves a video, including soft-deleted ones.
func (s *Store) FindVideo(ctx context.Context, id string) (*job.Video, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, job.ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find video by id: %w", err)
	}
	return v, nil
}

// ListVideos returns the live videos, oldest first.
func (s *Store) ListVideos(ctx context.Context) ([]*job.Video, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+videoColumns+` FROM videos
		WHERE deleted_at IS NULL ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer func() { _ = rows.Close() }()

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
	res, err := s.db.ExecContext(ctx,
		`UPDATE videos SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("soft delete video: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete video: %w", err)
	}
	if n == 0 {
		return job.ErrVideoNotFound
	}
	return nil
}

func scanVideo(row scanner) (*job.Video, error) {
	var (
		v       job.Video
		deleted sql.NullTime
	)
	if err := row.Scan(&v.ID, &v.OriginalName, &v.MimeType, &v.Size, &v.Duration, &v.Width, &v.Height,
		&v.FrameRate, &v.StorageKey, &v.CreatedAt, &deleted); err != nil {
		return nil, err
	}
	if deleted.Valid {
		t := deleted.Time
		v.DeletedAt = &t
	}
	return &v, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*job.Job, error) {
	var (
		j                  job.Job
		status, opts       string
		started, completed sql.NullTime
	)
	if err := row.Scan(&j.ID, &j.VideoID, &status, &opts, &j.Progress, &j.TotalFrames,
		&j.ProcessedFrames, &j.Error, &j.CreatedAt, &j.UpdatedAt, &started, &completed); err != nil {
		return nil, err
	}
	j.Status = job.Status(status)
	if err := json.Unmarshal([]byte(opts), &j.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if started.Valid {
		j.StartedAt = started.Time
	}
	if completed.Valid {
		j.CompletedAt = completed.Time
	}
	return &j, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return job.ErrJobNotFound
	}
	return nil
}
