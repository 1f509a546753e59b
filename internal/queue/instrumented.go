package queue

import (
	"context"

	"github.com/maauso/frame-extractor/internal/job"
	"github.com/maauso/frame-extractor/internal/metrics"
)

// InstrumentedDispatcher counts successful dispatches of the wrapped dispatcher.
type InstrumentedDispatcher struct {
	job.Dispatcher
	metrics *metrics.Metrics
}

// Instrument wraps d so every accepted work item is counted in m.
func Instrument(d job.Dispatcher, m *metrics.Metrics) *InstrumentedDispatcher {
	return &InstrumentedDispatcher{Dispatcher: d, metrics: m}
}

// Dispatch implements job.Dispatcher.
func (d *InstrumentedDispatcher) Dispatch(ctx context.Context, item job.WorkItem) error {
	if err := d.Dispatcher.Dispatch(ctx, item); err != nil {
		return err
	}
	d.metrics.Dispatched()
	return nil
}
