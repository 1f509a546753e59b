// Package video registers local source files as videos: probe, store, record.
package video

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/maauso/frame-extractor/internal/job"
	"github.com/maauso/frame-extractor/internal/job/id"
	"github.com/maauso/frame-extractor/internal/media"
	"github.com/maauso/frame-extractor/internal/storage"
)

// Importer turns a local file into a registered Video.
type Importer struct {
	prober media.Prober
	store  storage.ObjectStore
	videos job.VideoRepository
	logger *slog.Logger
}

// NewImporter creates an Importer.
func NewImporter(prober media.Prober, store storage.ObjectStore, videos job.VideoRepository, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{prober: prober, store: store, videos: videos, logger: logger}
}

// SourceKey returns the object key of a video source.
func SourceKey(videoID, ext string) string {
	return "videos/" + videoID + strings.ToLower(ext)
}

// Import probes the file at path, uploads it and inserts the video row.
// name overrides the recorded original name when set.
func (i *Importer) Import(ctx context.Context, path, name string) (*job.Video, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("source %s is a directory", path)
	}

	meta, err := i.prober.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("probe source: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	if name == "" {
		name = filepath.Base(path)
	}
	ext := filepath.Ext(name)
	v := &job.Video{
		ID:           id.Generate(),
		OriginalName: name,
		MimeType:     detectType(data, ext),
		Size:         info.Size(),
		Duration:     meta.Duration,
		Width:        meta.Width,
		Height:       meta.Height,
		FrameRate:    meta.FrameRate,
		CreatedAt:    time.Now().UTC(),
	}
	v.StorageKey = SourceKey(v.ID, ext)

	if _, err := i.store.Upload(ctx, v.StorageKey, data, v.MimeType); err != nil {
		return nil, fmt.Errorf("upload source: %w", err)
	}
	if err := i.videos.CreateVideo(ctx, v); err != nil {
		if derr := i.store.Delete(ctx, v.StorageKey); derr != nil {
			i.logger.Warn("failed to remove orphaned source",
				slog.String("key", v.StorageKey),
				slog.String("error", derr.Error()),
			)
		}
		return nil, fmt.Errorf("record video: %w", err)
	}

	i.logger.Info("video imported",
		slog.String("video_id", v.ID),
		slog.String("key", v.StorageKey),
		slog.Float64("duration", v.Duration),
		slog.String("codec", meta.Codec),
	)
	return v, nil
}

var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
}

// detectType sniffs the container from its leading bytes and falls back to
// the extension when the content is not recognised as video.
func detectType(data []byte, ext string) string {
	if m := mimetype.Detect(data); strings.HasPrefix(m.String(), "video/") {
		return m.String()
	}
	return contentType(ext)
}

func contentType(ext string) string {
	ext = strings.ToLower(ext)
	if ct, ok := videoTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
