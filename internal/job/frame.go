package job

import (
	"fmt"
	"time"
)

// Frame is the ledger record of one extracted frame. It is written once,
// after its bytes are stored, and never mutated.
type Frame struct {
	ID          string
	JobID       string
	VideoID     string
	FrameNumber int
	// Timestamp is seconds from the start of the source.
	Timestamp  float64
	StorageKey string
	Width      int
	Height     int
	Format     Format
	CreatedAt  time.Time
}

// FrameFileName returns frame_<4-digit number>.<ext>.
func FrameFileName(number int, format Format) string {
	return fmt.Sprintf("frame_%04d.%s", number, format.Extension())
}

// FrameStorageKey returns the object key of a frame, namespaced by video and job.
func FrameStorageKey(videoID, jobID string, number int, format Format) string {
	return fmt.Sprintf("frames/%s/%s/%s", videoID, jobID, FrameFileName(number, format))
}

// FileName returns the archive entry name of the frame.
func (f Frame) FileName() string {
	return FrameFileName(f.FrameNumber, f.Format)
}
