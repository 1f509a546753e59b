package job

import "time"

// FrameView is a frame resolved to a retrieval URL.
type FrameView struct {
	ID          string  `json:"id,omitempty"`
	JobID       string  `json:"jobId,omitempty"`
	FrameNumber int     `json:"frameNumber"`
	Timestamp   float64 `json:"timestamp"`
	URL         string  `json:"url"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Format      Format  `json:"format"`
}

// View is the job status snapshot returned to callers.
// Frames is set only for completed jobs.
type View struct {
	ID              string      `json:"id"`
	VideoID         string      `json:"videoId"`
	Status          Status      `json:"status"`
	Options         Options     `json:"options"`
	Progress        int         `json:"progress"`
	TotalFrames     int         `json:"totalFrames"`
	ExtractedFrames int         `json:"extractedFrames"`
	Frames          []FrameView `json:"frames,omitempty"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	StartedAt       *time.Time  `json:"startedAt,omitempty"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
}

// NewView builds the view of j without frames. Progress is capped at 100.
func NewView(j *Job) *View {
	c := j.Clone()
	v := &View{
		ID:              c.ID,
		VideoID:         c.VideoID,
		Status:          c.Status,
		Options:         c.Options,
		Progress:        min(c.Progress, 100),
		TotalFrames:     c.TotalFrames,
		ExtractedFrames: c.ProcessedFrames,
		Error:           c.Error,
		CreatedAt:       c.CreatedAt,
	}
	if !c.StartedAt.IsZero() {
		t := c.StartedAt
		v.StartedAt = &t
	}
	if !c.CompletedAt.IsZero() {
		t := c.CompletedAt
		v.CompletedAt = &t
	}
	return v
}

// VideoView is the public representation of a registered video.
type VideoView struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	Duration   float64   `json:"duration"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	FrameRate  float64   `json:"frameRate"`
	UploadedAt time.Time `json:"uploadedAt"`
}

// NewVideoView builds the view of v.
func NewVideoView(v *Video) VideoView {
	return VideoView{
		ID:         v.ID,
		Filename:   v.OriginalName,
		MimeType:   v.MimeType,
		Size:       v.Size,
		Duration:   v.Duration,
		Width:      v.Width,
		Height:     v.Height,
		FrameRate:  v.FrameRate,
		UploadedAt: v.CreatedAt,
	}
}
