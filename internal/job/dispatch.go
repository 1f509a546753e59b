package job

import (
	"context"
	"time"
)

// WorkItem is the queue payload for "run this job". It is immutable and
// threaded through every step of the worker pipeline.
type WorkItem struct {
	JobID     string  `json:"jobId"`
	VideoID   string  `json:"videoId"`
	SourceKey string  `json:"sourceKey"`
	Duration  float64 `json:"duration"`
	Options   Options `json:"options"`
}

// Key returns the deduplication key of the item.
func (w WorkItem) Key() string {
	return w.JobID
}

// QueueState is the transport-level state of a work item.
type QueueState string

const (
	QueueStateUnknown   QueueState = "unknown"
	QueueStateWaiting   QueueState = "waiting"
	QueueStateDelayed   QueueState = "delayed"
	QueueStateActive    QueueState = "active"
	QueueStateCompleted QueueState = "completed"
	QueueStateFailed    QueueState = "failed"
	QueueStateRemoved   QueueState = "removed"
)

// NotStarted reports whether no worker has claimed the item yet.
func (s QueueState) NotStarted() bool {
	return s == QueueStateWaiting || s == QueueStateDelayed
}

// Finished reports whether the transport is done with the item.
func (s QueueState) Finished() bool {
	return s == QueueStateCompleted || s == QueueStateFailed || s == QueueStateRemoved
}

// Dispatcher is the producer side of the queue transport.
type Dispatcher interface {
	// Dispatch enqueues item under item.Key(). Dispatching a key that is
	// already known is a no-op.
	Dispatch(ctx context.Context, item WorkItem) error

	// Remove deletes the item only if no worker has claimed it.
	// It reports whether the item was removed.
	Remove(ctx context.Context, key string) (bool, error)

	// State returns the transport state, QueueStateUnknown for unknown keys.
	State(ctx context.Context, key string) (QueueState, error)
}

// StatusEvent describes a job status change published to observers.
type StatusEvent struct {
	JobID           string    `json:"jobId"`
	VideoID         string    `json:"videoId"`
	Status          Status    `json:"status"`
	Progress        int       `json:"progress"`
	ProcessedFrames int       `json:"processedFrames"`
	Error           string    `json:"error,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// EventFor builds the status event of the job's current state.
func EventFor(j *Job) StatusEvent {
	c := j.Clone()
	return StatusEvent{
		JobID:           c.ID,
		VideoID:         c.VideoID,
		Status:          c.Status,
		Progress:        c.Progress,
		ProcessedFrames: c.ProcessedFrames,
		Error:           c.Error,
		OccurredAt:      time.Now().UTC(),
	}
}

// Notifier publishes job status changes. Delivery is best effort.
type Notifier interface {
	NotifyStatus(ctx context.Context, event StatusEvent) error
}

// NopNotifier discards events.
type NopNotifier struct{}

// NotifyStatus implements Notifier.
func (NopNotifier) NotifyStatus(context.Context, StatusEvent) error { return nil }

// URLSigner resolves storage keys into time-limited retrieval URLs.
type URLSigner interface {
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
