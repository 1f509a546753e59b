// Package archive streams the frames of a job or video as one zip archive.
package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/maauso/frame-extractor/internal/job"
	"github.com/maauso/frame-extractor/internal/storage"
)

// CompressionLevel is the deflate level of archive entries.
const CompressionLevel = 5

// DefaultFilename is used when the owning video has no usable name.
const DefaultFilename = "frames.zip"

// Streamer prepares and writes frame archives.
type Streamer struct {
	jobs   job.Repository
	videos job.VideoRepository
	store  storage.ObjectStore
	logger *slog.Logger
}

// NewStreamer creates a Streamer.
func NewStreamer(jobs job.Repository, videos job.VideoRepository, store storage.ObjectStore, logger *slog.Logger) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{jobs: jobs, videos: videos, store: store, logger: logger}
}

// Archive is a resolved frame set ready to be streamed.
type Archive struct {
	Filename string
	Frames   []job.Frame
	// PerJob nests entries under their job id, so frames of several
	// jobs of one video do not share a name.
	PerJob bool

	store  storage.ObjectStore
	logger *slog.Logger
}

// Prepare resolves the frame set of sel, by job when JobID is set and by
// video otherwise. Nothing is written until Stream is called, so errors
// here can still be reported to the client.
func (s *Streamer) Prepare(ctx context.Context, sel job.Selector) (*Archive, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	var (
		frames []job.Frame
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
	if len(frames) == 0 {
		return nil, job.ErrFramesNotFound
	}

	filename, err := s.filename(ctx, frames[0].VideoID)
	if err != nil {
		return nil, err
	}
	return &Archive{
		Filename: filename,
		Frames:   frames,
		PerJob:   sel.JobID == "",
		store:    s.store,
		logger:   s.logger,
	}, nil
}

func (s *Streamer) filename(ctx context.Context, videoID string) (string, error) {
	v, err := s.videos.FindVideo(ctx, videoID)
	if errors.Is(err, job.ErrVideoNotFound) {
		return DefaultFilename, nil
	}
	if err != nil {
		return "", fmt.Errorf("find video: %w", err)
	}
	if name := v.BaseName(); name != "" {
		return name + "_frames.zip", nil
	}
	return DefaultFilename, nil
}

// Stream writes the archive to w, copying one frame at a time from the
// object store. An error after the first byte leaves w with a truncated
// archive; callers must abort the transfer.
func (a *Archive) Stream(ctx context.Context, w io.Writer) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, CompressionLevel)
	})

	for _, f := range a.Frames {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("archive cancelled: %w", err)
		}
		if err := a.addFrame(ctx, zw, f); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	a.logger.Debug("archive streamed",
		slog.String("filename", a.Filename),
		slog.Int("frames", len(a.Frames)),
	)
	return nil
}

func (a *Archive) addFrame(ctx context.Context, zw *zip.Writer, f job.Frame) error {
	rc, err := a.store.Download(ctx, f.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch frame %d: %w", f.FrameNumber, err)
	}
	defer func() { _ = rc.Close() }()

	name := a.EntryName(f)
	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: f.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("create entry %s: %w", name, err)
	}
	if _, err := io.Copy(entry, rc); err != nil {
		return fmt.Errorf("copy frame %d: %w", f.FrameNumber, err)
	}
	return nil
}

// EntryName returns the zip entry name of f: frame_NNNN.ext, under a
// <jobId>/ directory for per-job archives.
func (a *Archive) EntryName(f job.Frame) string {
	if a.PerJob {
		return f.JobID + "/" + f.FileName()
	}
	return f.FileName()
}

// ContentDisposition returns an attachment header value carrying both an
// ASCII fallback and the RFC 5987 encoded filename.
func ContentDisposition(filename string) string {
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		asciiFallback(filename), encodeExtValue(filename))
}

// encodeExtValue percent-encodes every byte outside the RFC 5987 attr-char set.
func encodeExtValue(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isAttrChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

func asciiFallback(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('_')
		case r < 0x20 || r > 0x7e:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
