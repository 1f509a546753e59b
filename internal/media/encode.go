package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/maauso/frame-extractor/internal/job"
)

// FitWithin returns the size of a w x h image scaled down to fit inside
// maxW x maxH, preserving aspect ratio. Zero bounds are ignored and images
// are never enlarged.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = math.Min(scale, float64(maxW)/float64(w))
	}
	if maxH > 0 && h > maxH {
		scale = math.Min(scale, float64(maxH)/float64(h))
	}
	if scale >= 1 {
		return w, h
	}
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	if maxW > 0 {
		nw = min(nw, maxW)
	}
	if maxH > 0 {
		nh = min(nh, maxH)
	}
	return nw, nh
}

// resize scales img to fit within maxW x maxH. It returns img unchanged when
// no scaling is needed.
func resize(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	nw, nh := FitWithin(b.Dx(), b.Dy(), maxW, maxH)
	if nw == b.Dx() && nh == b.Dy() {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// pngCompression maps a quality percentage onto PNG compression effort.
// PNG is lossless, so quality only trades size against speed.
func pngCompression(quality int) png.CompressionLevel {
	switch {
	case quality < 50:
		return png.BestSpeed
	case quality < 90:
		return png.DefaultCompression
	default:
		return png.BestCompression
	}
}

// ImageEncoder encodes decoded frames. PNG and JPEG are encoded in process;
// WebP is delegated to ffmpeg's libwebp encoder.
type ImageEncoder struct {
	ffmpegPath string
}

// NewImageEncoder creates an ImageEncoder. An empty ffmpegPath defaults to "ffmpeg".
func NewImageEncoder(ffmpegPath string) *ImageEncoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &ImageEncoder{ffmpegPath: ffmpegPath}
}

// Encode encodes img in format at quality. workDir holds intermediate files.
func (e *ImageEncoder) Encode(ctx context.Context, img image.Image, format job.Format, quality int, workDir string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case job.FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
	case job.FormatPNG:
		enc := png.Encoder{CompressionLevel: pngCompression(quality)}
		if err := enc.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode png: %w", err)
		}
	case job.FormatWebP:
		return e.encodeWebP(ctx, img, quality, workDir)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
	return buf.Bytes(), nil
}

func (e *ImageEncoder) encodeWebP(ctx context.Context, img image.Image, quality int, workDir string) ([]byte, error) {
	in, err := os.CreateTemp(workDir, "webp_src_*.png")
	if err != nil {
		return nil, fmt.Errorf("create webp source: %w", err)
	}
	inPath := in.Name()
	defer func() { _ = os.Remove(inPath) }()

	if err := png.Encode(in, img); err != nil {
		_ = in.Close()
		return nil, fmt.Errorf("write webp source: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("close webp source: %w", err)
	}

	outPath := filepath.Join(workDir, filepath.Base(inPath)+".webp")
	defer func() { _ = os.Remove(outPath) }()

	args := []string{
		"-v", "error",
		"-y",
		"-i", inPath,
		"-c:v", "libwebp",
		"-quality", fmt.Sprintf("%d", quality),
		outPath,
	}
	if err := runFFmpeg(ctx, e.ffmpegPath, args); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}

	data, err := os.ReadFile(outPath) // #nosec G304 - path is built from our own temp dir
	if err != nil {
		return nil, fmt.Errorf("read webp output: %w", err)
	}
	return data, nil
}
