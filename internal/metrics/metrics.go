// Package metrics defines the Prometheus collectors of the extraction pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline stages observed by JobProcessingDuration.
const (
	StageDownload = "download"
	StageSample   = "sample"
	StageTotal    = "total"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	JobsProcessedTotal    *prometheus.CounterVec
	JobProcessingDuration *prometheus.HistogramVec
	FramesExtractedTotal  prometheus.Counter
	ActiveWorkers         prometheus.Gauge
	RetryTotal            *prometheus.CounterVec
	JobsDispatchedTotal   prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsProcessedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "frame_extractor_jobs_processed_total",
			Help: "Total number of jobs processed, by status",
		}, []string{"status"}),

		JobProcessingDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frame_extractor_job_processing_duration_seconds",
			Help:    "Duration of extraction pipeline stages",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),

		FramesExtractedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "frame_extractor_frames_extracted_total",
			Help: "Total number of frames extracted across all jobs",
		}),

		ActiveWorkers: f.NewGauge(prometheus.GaugeOpts{
			Name: "frame_extractor_active_workers",
			Help: "Number of handlers currently processing jobs",
		}),

		RetryTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "frame_extractor_retry_total",
			Help: "Total number of redelivered attempts",
		}, []string{"attempt"}),

		JobsDispatchedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "frame_extractor_jobs_dispatched_total",
			Help: "Total number of work items handed to the queue",
		}),
	}
}

// JobFinished counts a job reaching status.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsProcessedTotal.WithLabelValues(status).Inc()
}

// ObserveStage records how long stage took since start.
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.JobProcessingDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// FrameExtracted counts one stored frame.
func (m *Metrics) FrameExtracted() {
	if m == nil {
		return
	}
	m.FramesExtractedTotal.Inc()
}

// WorkerStarted increments the active worker gauge and returns its decrement.
func (m *Metrics) WorkerStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveWorkers.Inc()
	return m.ActiveWorkers.Dec
}

// Retried counts a redelivery of attempt.
func (m *Metrics) Retried(attempt int) {
	if m == nil {
		return
	}
	m.RetryTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

// Dispatched counts a dispatched work item.
func (m *Metrics) Dispatched() {
	if m == nil {
		return
	}
	m.JobsDispatchedTotal.Inc()
}
