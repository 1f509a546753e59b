package job

import (
	"path/filepath"
	"strings"
	"time"
)

// Video is a registered source video. The core only reads videos; they are
// created by the ingest side and are immutable apart from soft deletion.
type Video struct {
	ID           string
	OriginalName string
	MimeType     string
	Size         int64
	// Duration is in seconds.
	Duration   float64
	Width      int
	Height     int
	FrameRate  float64
	StorageKey string
	CreatedAt  time.Time
	DeletedAt  *time.Time
}

// IsDeleted reports whether the video was soft-deleted.
func (v *Video) IsDeleted() bool {
	return v.DeletedAt != nil
}

// BaseName returns the original filename without directory and extension.
func (v *Video) BaseName() string {
	name := filepath.Base(v.OriginalName)
	if name == "." || name == "/" {
		return ""
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}
