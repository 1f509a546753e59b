// Package main registers a local video file so it can be extracted.
//
// Usage:
//
//	ingest -file ./clip.mp4 [-name "Holiday.mp4"] [-extract -interval 2 -format jpeg]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/maauso/frame-extractor/internal/bootstrap"
	"github.com/maauso/frame-extractor/internal/config"
	"github.com/maauso/frame-extractor/internal/job"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	file := fs.String("file", "", "path of the video file to register (required)")
	name := fs.String("name", "", "original filename to record, defaults to the file's base name")
	extract := fs.Bool("extract", false, "start an extraction job after registering")
	interval := fs.Float64("interval", job.DefaultInterval, "sampling interval in seconds")
	format := fs.String("format", string(job.DefaultFormat), "output format: png, jpeg or webp")
	quality := fs.Int("quality", job.DefaultQuality, "encoding quality, 1-100")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		fs.Usage()
		return fmt.Errorf("-file is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// The CLI only dispatches; a worker elsewhere consumes.
	cfg.EmbeddedWorker = cfg.QueueDriver == config.QueueMemory

	logger := cfg.NewLogger().With(slog.String("component", "ingest"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() { _ = deps.Close() }()

	v, err := deps.Importer.Import(ctx, *file, *name)
	if err != nil {
		return err
	}

	out := map[string]any{"video": map[string]any{
		"id":         v.ID,
		"name":       v.OriginalName,
		"duration":   v.Duration,
		"width":      v.Width,
		"height":     v.Height,
		"storageKey": v.StorageKey,
	}}

	if *extract {
		if cfg.QueueDriver == config.QueueMemory {
			return fmt.Errorf("-extract needs a shared queue, set QUEUE_DRIVER=nats")
		}
		opts, err := job.OptionsInput{Interval: interval, Format: format, Quality: quality}.Resolve()
		if err != nil {
			return err
		}
		view, err := deps.Service.StartExtraction(ctx, v.ID, opts)
		if err != nil {
			return err
		}
		out["job"] = view
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
