package queue

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/frame-extractor/internal/job"
	"github.com/maauso/frame-extractor/internal/metrics"
)

func TestInstrument_CountsAcceptedDispatches(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	q := newTestQueue()
	d := Instrument(q, m)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, workItem("job-1")))
	require.NoError(t, d.Dispatch(ctx, workItem("job-2")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsDispatchedTotal))

	state, err := d.State(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.QueueStateWaiting, state)

	require.NoError(t, q.Close())
	assert.ErrorIs(t, d.Dispatch(ctx, workItem("job-3")), ErrClosed)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsDispatchedTotal), "rejected dispatches are not counted")
}

func TestInstrument_NilMetrics(t *testing.T) {
	d := Instrument(newTestQueue(), nil)
	assert.NoError(t, d.Dispatch(context.Background(), workItem("job-1")))
}
