package job

import (
	"errors"
	"testing"
)

func TestNew(t *testing.T) {
	job := New("video-1", DefaultOptions(), 6)

	if job.ID == "" {
		t.Error("expected job to have an ID")
	}
	if job.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, job.Status)
	}
	if job.VideoID != "video-1" {
		t.Errorf("expected video id video-1, got %s", job.VideoID)
	}
	if job.TotalFrames != 6 {
		t.Errorf("expected 6 total frames, got %d", job.TotalFrames)
	}
	if job.ProcessedFrames != 0 {
		t.Errorf("expected 0 processed frames, got %d", job.ProcessedFrames)
	}
	if job.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if !job.StartedAt.IsZero() || !job.CompletedAt.IsZero() {
		t.Error("expected StartedAt and CompletedAt to be unset")
	}
}

func TestEstimateTotalFrames(t *testing.T) {
	tests := []struct {
		duration float64
		interval float64
		want     int
	}{
		{10, 2, 6},
		{10, 1, 11},
		{9.9, 2, 5},
		{0, 1, 1},
		{60, 60, 2},
		{59.5, 0.5, 120},
		{5, 0, 0},
	}

	for _, tt := range tests {
		if got := EstimateTotalFrames(tt.duration, tt.interval); got != tt.want {
			t.Errorf("EstimateTotalFrames(%v, %v) = %d, want %d", tt.duration, tt.interval, got, tt.want)
		}
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"pending to processing", StatusPending, StatusProcessing, false},
		{"pending to failed", StatusPending, StatusFailed, false},
		{"processing to completed", StatusProcessing, StatusCompleted, false},
		{"processing to failed", StatusProcessing, StatusFailed, false},
		{"pending to completed", StatusPending, StatusCompleted, true},
		{"processing to pending", StatusProcessing, StatusPending, true},
		{"processing to processing", StatusProcessing, StatusProcessing, true},
		{"completed to pending", StatusCompleted, StatusPending, true},
		{"completed to processing", StatusCompleted, StatusProcessing, true},
		{"completed to failed", StatusCompleted, StatusFailed, true},
		{"failed to processing", StatusFailed, StatusProcessing, true},
		{"failed to completed", StatusFailed, StatusCompleted, true},
		{"failed to pending", StatusFailed, StatusPending, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewWithID("test", "video", DefaultOptions(), 1)
			job.Status = tt.from

			err := job.TransitionTo(tt.to)

			if tt.wantErr && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition for %s -> %s, got %v", tt.from, tt.to, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_StartStampsStartedAt(t *testing.T) {
	job := NewWithID("test", "video", DefaultOptions(), 1)

	if err := job.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.StartedAt.IsZero() {
		t.Error("expected StartedAt to be set")
	}
	if err := job.Start(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected second Start to fail, got %v", err)
	}
}

func TestJob_Complete(t *testing.T) {
	tests := []struct {
		name      string
		estimate  int
		processed int
		wantTotal int
	}{
		{"matches estimate", 6, 6, 6},
		{"one fewer than estimate keeps estimate", 6, 5, 6},
		{"one more than estimate raises total", 6, 7, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewWithID("test", "video", DefaultOptions(), tt.estimate)
			_ = job.Start()

			if err := job.Complete(tt.processed); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if job.Status != StatusCompleted {
				t.Errorf("expected completed, got %s", job.Status)
			}
			if job.Progress != 100 {
				t.Errorf("expected progress 100, got %d", job.Progress)
			}
			if job.ProcessedFrames != tt.processed {
				t.Errorf("expected %d processed frames, got %d", tt.processed, job.ProcessedFrames)
			}
			if job.TotalFrames != tt.wantTotal {
				t.Errorf("expected total %d, got %d", tt.wantTotal, job.TotalFrames)
			}
			if job.CompletedAt.IsZero() {
				t.Error("expected CompletedAt to be set")
			}
		})
	}
}

func TestJob_Fail(t *testing.T) {
	job := NewWithID("test", "video", DefaultOptions(), 1)
	_ = job.Start()

	if err := job.Fail("boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Error != "boom" {
		t.Errorf("expected error message boom, got %q", job.Error)
	}
	if !job.IsTerminal() {
		t.Error("expected failed job to be terminal")
	}
	if err := job.Fail("again"); err == nil {
		t.Error("expected failing a terminal job to error")
	}
	if job.Error != "boom" {
		t.Errorf("terminal job error was overwritten: %q", job.Error)
	}
}

func TestJob_Cancel(t *testing.T) {
	t.Run("pending job", func(t *testing.T) {
		job := NewWithID("test", "video", DefaultOptions(), 1)
		if err := job.Cancel(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if job.Status != StatusFailed {
			t.Errorf("expected failed, got %s", job.Status)
		}
		if job.Error != CancelledMessage {
			t.Errorf("expected %q, got %q", CancelledMessage, job.Error)
		}
	})

	t.Run("processing job", func(t *testing.T) {
		job := NewWithID("test", "video", DefaultOptions(), 1)
		_ = job.Start()
		if err := job.Cancel(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("expected ErrInvalidTransition, got %v", err)
		}
		if job.Status != StatusProcessing {
			t.Errorf("expected status unchanged, got %s", job.Status)
		}
	})
}

func TestJob_UpdateProgress(t *testing.T) {
	job := NewWithID("test", "video", DefaultOptions(), 6)

	if !job.UpdateProgress(3, 6) {
		t.Fatal("expected forward progress to be accepted")
	}
	if job.Progress != 50 || job.ProcessedFrames != 3 {
		t.Errorf("expected 50%%/3, got %d%%/%d", job.Progress, job.ProcessedFrames)
	}

	if job.UpdateProgress(2, 6) {
		t.Error("expected backward progress to be rejected")
	}
	if job.Progress != 50 {
		t.Errorf("progress moved backward to %d", job.Progress)
	}

	// Over-production is written uncapped.
	if !job.UpdateProgress(7, 6) {
		t.Fatal("expected over-production to be accepted")
	}
	if job.Progress != 116 {
		t.Errorf("expected 116, got %d", job.Progress)
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		current, total, want int
	}{
		{1, 3, 33},
		{2, 3, 66},
		{3, 3, 100},
		{0, 3, 0},
		{1, 0, 0},
	}
	for _, tt := range tests {
		if got := ProgressPercent(tt.current, tt.total); got != tt.want {
			t.Errorf("ProgressPercent(%d, %d) = %d, want %d", tt.current, tt.total, got, tt.want)
		}
	}
}

func TestJob_Clone(t *testing.T) {
	job := NewWithID("test", "video", DefaultOptions(), 4)
	_ = job.Start()
	job.UpdateProgress(1, 4)

	clone := job.Clone()
	clone.Progress = 99

	if job.Progress == 99 {
		t.Error("clone mutation leaked into original")
	}
	if clone.ID != job.ID || clone.Status != job.Status || clone.Options != job.Options {
		t.Error("clone does not match original")
	}
}

func TestNewView_CapsProgress(t *testing.T) {
	job := NewWithID("test", "video", DefaultOptions(), 2)
	_ = job.Start()
	job.UpdateProgress(3, 2)

	view := NewView(job)
	if view.Progress != 100 {
		t.Errorf("expected view progress capped at 100, got %d", view.Progress)
	}
	if view.StartedAt == nil {
		t.Error("expected StartedAt in view")
	}
	if view.CompletedAt != nil {
		t.Error("expected no CompletedAt for processing job")
	}
	if view.Frames != nil {
		t.Error("expected no frames for processing job")
	}
}

func TestFrameStorageKey(t *testing.T) {
	tests := []struct {
		format Format
		want   string
	}{
		{FormatPNG, "frames/v1/j1/frame_0007.png"},
		{FormatJPEG, "frames/v1/j1/frame_0007.jpg"},
		{FormatWebP, "frames/v1/j1/frame_0007.webp"},
	}
	for _, tt := range tests {
		if got := FrameStorageKey("v1", "j1", 7, tt.format); got != tt.want {
			t.Errorf("FrameStorageKey(%s) = %s, want %s", tt.format, got, tt.want)
		}
	}
}

func TestVideo_BaseName(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"holiday.mp4", "holiday"},
		{"my.clip.final.mov", "my.clip.final"},
		{"noext", "noext"},
		{"", ""},
	}
	for _, tt := range tests {
		v := Video{OriginalName: tt.name}
		if got := v.BaseName(); got != tt.want {
			t.Errorf("BaseName(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
