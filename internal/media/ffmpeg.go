package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// DefaultMaxDuration is the longest accepted source, in seconds.
const DefaultMaxDuration = 60.0

// defaultFrameRate is assumed when ffprobe reports no usable r_frame_rate.
const defaultFrameRate = 30.0

// Static errors for media operations.
var (
	// ErrSourceMedia marks probe and decode failures of the source itself.
	ErrSourceMedia = errors.New("source media error")
	// ErrNoVideoStream is returned when the source has no video stream.
	ErrNoVideoStream = fmt.Errorf("%w: no video stream found", ErrSourceMedia)
	// ErrDurationExceeded is wrapped by DurationError.
	ErrDurationExceeded = fmt.Errorf("%w: duration exceeds maximum", ErrSourceMedia)
	// ErrNoFrames is returned when the decoder produced no frames.
	ErrNoFrames = fmt.Errorf("%w: no frames decoded", ErrSourceMedia)
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// DurationError reports a source longer than the allowed maximum.
type DurationError struct {
	Duration float64
	Max      float64
}

func (e *DurationError) Error() string {
	return fmt.Sprintf("Video duration (%.1fs) exceeds maximum allowed (%gs)", e.Duration, e.Max)
}

func (e *DurationError) Unwrap() error {
	return ErrDurationExceeded
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func runFFmpeg(ctx context.Context, ffmpegPath string, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// FFprobeProber implements Prober using the ffprobe CLI.
type FFprobeProber struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
	maxDuration float64
}

// NewFFprobeProber creates a new FFprobeProber.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
// A non-positive maxDuration selects DefaultMaxDuration.
func NewFFprobeProber(ffprobePath string, maxDuration float64) *FFprobeProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	return &FFprobeProber{ffprobePath: ffprobePath, maxDuration: maxDuration}
}

// Probe runs ffprobe on path and validates the result.
func (p *FFprobeProber) Probe(ctx context.Context, path string) (Metadata, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Metadata{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Metadata{}, fmt.Errorf("%w: %w: %w, stderr: %s", ErrSourceMedia, ErrFFprobeExecution, err, strings.TrimSpace(stderr.String()))
	}

	return parseProbeOutput(stdout.Bytes(), p.maxDuration)
}

type probeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
		Duration   string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// parseProbeOutput converts ffprobe JSON into Metadata.
func parseProbeOutput(data []byte, maxDuration float64) (Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Metadata{}, fmt.Errorf("%w: parse ffprobe output: %w", ErrSourceMedia, err)
	}

	idx := -1
	for i, s := range out.Streams {
		if s.CodecType == "video" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Metadata{}, ErrNoVideoStream
	}
	stream := out.Streams[idx]

	duration, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil {
		duration, err = strconv.ParseFloat(stream.Duration, 64)
		if err != nil {
			return Metadata{}, fmt.Errorf("%w: unknown duration", ErrSourceMedia)
		}
	}
	if duration > maxDuration {
		return Metadata{}, &DurationError{Duration: duration, Max: maxDuration}
	}

	return Metadata{
		Duration:  duration,
		Width:     stream.Width,
		Height:    stream.Height,
		FrameRate: parseFrameRate(stream.RFrameRate),
		Codec:     stream.CodecName,
	}, nil
}

// parseFrameRate parses ffprobe's "num/den" notation.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		if v, err := strconv.ParseFloat(s, 64); err == nil && v > 0 {
			return v
		}
		return defaultFrameRate
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || n <= 0 || d <= 0 {
		return defaultFrameRate
	}
	return n / d
}
