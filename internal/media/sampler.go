package media

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/maauso/frame-extractor/internal/job"
)

// FFmpegSampler implements Sampler by sampling with ffmpeg's fps filter
// into lossless PNGs and re-encoding each one in process.
type FFmpegSampler struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	encoder    *ImageEncoder
}

// NewFFmpegSampler creates a new FFmpegSampler.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegSampler(ffmpegPath string) *FFmpegSampler {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegSampler{
		ffmpegPath: ffmpegPath,
		encoder:    NewImageEncoder(ffmpegPath),
	}
}

// Sample implements Sampler. Raw captures are written next to src in a
// temporary directory that is removed before Sample returns.
func (s *FFmpegSampler) Sample(ctx context.Context, src string, duration float64, opts job.Options, sink ProgressSink, emit func(Frame) error) (int, error) {
	if opts.Interval <= 0 {
		return 0, fmt.Errorf("invalid interval %v", opts.Interval)
	}

	workDir, err := os.MkdirTemp(filepath.Dir(src), "frames-*")
	if err != nil {
		return 0, fmt.Errorf("create sampler dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	raws, err := s.capture(ctx, src, workDir, opts.Interval)
	if err != nil {
		return 0, err
	}

	total := job.EstimateTotalFrames(duration, opts.Interval)
	for k, raw := range raws {
		if err := ctx.Err(); err != nil {
			return k, fmt.Errorf("sampling cancelled: %w", err)
		}

		frame, err := s.encodeRaw(ctx, raw, workDir, opts)
		if err != nil {
			return k, fmt.Errorf("frame %d: %w", k+1, err)
		}
		frame.Number = k + 1
		frame.Timestamp = float64(k) * opts.Interval

		if sink != nil {
			sink.ReportProgress(frame.Number, total)
		}
		if err := emit(frame); err != nil {
			return k, err
		}
	}
	return len(raws), nil
}

// capture runs ffmpeg with fps=1/interval and returns the raw PNG paths in
// capture order.
func (s *FFmpegSampler) capture(ctx context.Context, src, workDir string, interval float64) ([]string, error) {
	fps := strconv.FormatFloat(1/interval, 'f', -1, 64)
	args := []string{
		"-v", "error",
		"-y",
		"-i", src,
		"-vf", "fps=" + fps,
		"-start_number", "1",
		filepath.Join(workDir, "raw_%06d.png"),
	}
	if err := runFFmpeg(ctx, s.ffmpegPath, args); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: sample frames: %w", ErrSourceMedia, err)
	}

	raws, err := filepath.Glob(filepath.Join(workDir, "raw_*.png"))
	if err != nil {
		return nil, fmt.Errorf("list raw frames: %w", err)
	}
	if len(raws) == 0 {
		return nil, ErrNoFrames
	}
	// Zero padded names sort in capture order.
	sort.Strings(raws)
	return raws, nil
}

// encodeRaw decodes one raw capture, resizes it and encodes it. The raw file
// is removed afterwards.
func (s *FFmpegSampler) encodeRaw(ctx context.Context, raw, workDir string, opts job.Options) (Frame, error) {
	defer func() { _ = os.Remove(raw) }()

	f, err := os.Open(raw) // #nosec G304 - path comes from our own glob
	if err != nil {
		return Frame{}, fmt.Errorf("open raw frame: %w", err)
	}
	img, err := png.Decode(f)
	_ = f.Close()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: decode raw frame: %w", ErrSourceMedia, err)
	}

	img = resize(img, opts.MaxWidth, opts.MaxHeight)
	data, err := s.encoder.Encode(ctx, img, opts.Format, opts.Quality, workDir)
	if err != nil {
		return Frame{}, err
	}

	b := img.Bounds()
	return Frame{
		Data:   data,
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: opts.Format,
	}, nil
}
