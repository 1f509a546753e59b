// Package media provides probing of source videos and time-based frame
// sampling with resize and re-encoding, backed by the ffmpeg CLI.
package media

import (
	"context"

	"github.com/maauso/frame-extractor/internal/job"
)

// Metadata describes a probed source video.
type Metadata struct {
	// Duration is in seconds.
	Duration  float64
	Width     int
	Height    int
	FrameRate float64
	Codec     string
}

// Prober inspects source files.
type Prober interface {
	// Probe returns metadata for the file at path. Sources without a video
	// stream or longer than the configured cap fail with ErrSourceMedia.
	Probe(ctx context.Context, path string) (Metadata, error)
}

// Frame is one encoded output image of the sampler.
type Frame struct {
	// Number is 1-based.
	Number int
	// Timestamp is (Number-1) * interval seconds.
	Timestamp float64
	Data      []byte
	Width     int
	Height    int
	Format    job.Format
}

// ProgressSink receives progress after each frame is encoded.
// Implementations may coalesce calls but must not reorder them.
type ProgressSink interface {
	ReportProgress(current, total int)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(current, total int)

// ReportProgress implements ProgressSink.
func (f ProgressFunc) ReportProgress(current, total int) { f(current, total) }

// Sampler produces encoded frames from a source file.
type Sampler interface {
	// Sample samples src at 1/opts.Interval fps. For every frame, in
	// increasing frame-number order, it reports progress to sink and then
	// calls emit. An error from emit stops sampling and is returned.
	// It returns the number of frames produced.
	Sample(ctx context.Context, src string, duration float64, opts job.Options, sink ProgressSink, emit func(Frame) error) (int, error)
}
