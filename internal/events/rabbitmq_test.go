package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/frame-extractor/internal/job"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	err    error
	closed bool
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("publish without deadline")
	}
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRabbitPublisher_NotifyStatus(t *testing.T) {
	ch := &fakeChannel{}
	p := NewRabbitPublisher(ch, "")

	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	event := job.StatusEvent{
		JobID:           "job-1",
		VideoID:         "video-1",
		Status:          job.StatusCompleted,
		Progress:        100,
		ProcessedFrames: 6,
		OccurredAt:      at,
	}
	require.NoError(t, p.NotifyStatus(context.Background(), event))

	require.Len(t, ch.sent, 1)
	sent := ch.sent[0]
	assert.Equal(t, DefaultExchange, sent.exchange)
	assert.Equal(t, "extraction.status.completed", sent.key)
	assert.Equal(t, "application/json", sent.msg.ContentType)
	assert.Equal(t, amqp.Persistent, sent.msg.DeliveryMode)
	assert.Equal(t, at, sent.msg.Timestamp)
	assert.Equal(t, "job-1:completed", sent.msg.MessageId)

	var decoded job.StatusEvent
	require.NoError(t, json.Unmarshal(sent.msg.Body, &decoded))
	assert.Equal(t, "job-1", decoded.JobID)
	assert.Equal(t, job.StatusCompleted, decoded.Status)
	assert.Equal(t, 6, decoded.ProcessedFrames)
}

func TestRabbitPublisher_PublishError(t *testing.T) {
	ch := &fakeChannel{err: amqp.ErrClosed}
	p := NewRabbitPublisher(ch, "custom")

	err := p.NotifyStatus(context.Background(), job.StatusEvent{JobID: "j", Status: job.StatusFailed})
	assert.ErrorIs(t, err, amqp.ErrClosed)
}

func TestRabbitPublisher_Close(t *testing.T) {
	ch := &fakeChannel{}
	p := NewRabbitPublisher(ch, "x")
	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
