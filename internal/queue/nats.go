package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"

	"github.com/maauso/frame-extractor/internal/job"
)

// NATS defaults.
const (
	DefaultNATSStream  = "EXTRACTIONS"
	DefaultNATSSubject = "extractions.jobs"
	DefaultNATSDurable = "frame-workers"
	DefaultNATSBucket  = "extraction_state"
	DefaultAckWait     = 5 * time.Minute
	fetchWait          = 5 * time.Second
)

// NATSConfig holds the configuration for the JetStream transport.
type NATSConfig struct {
	URL         string
	Stream      string
	Subject     string
	Durable     string
	Bucket      string
	AckWait     time.Duration
	Concurrency int
	Policy      RetryPolicy
}

func (c *NATSConfig) applyDefaults() {
	if c.Stream == "" {
		c.Stream = DefaultNATSStream
	}
	if c.Subject == "" {
		c.Subject = DefaultNATSSubject
	}
	if c.Durable == "" {
		c.Durable = DefaultNATSDurable
	}
	if c.Bucket == "" {
		c.Bucket = DefaultNATSBucket
	}
	if c.AckWait <= 0 {
		c.AckWait = DefaultAckWait
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	c.Policy = c.Policy.normalized()
}

// Compile-time check that NATSQueue implements Transport.
var _ Transport = (*NATSQueue)(nil)

// NATSQueue is a Transport on a JetStream work-queue stream. Per-key state
// lives in a KV bucket; claims and removals are compare-and-set on the
// entry revision so a removed item is never started.
type NATSQueue struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	kv     nats.KeyValue
	cfg    NATSConfig
	logger *slog.Logger
}

// NewNATSQueue connects to NATS and makes sure the stream and state bucket exist.
func NewNATSQueue(cfg NATSConfig, logger *slog.Logger) (*NATSQueue, error) {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("frame-extractor"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return nil, fmt.Errorf("stream info %s: %w", cfg.Stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       cfg.Stream,
			Subjects:   []string{cfg.Subject},
			Storage:    nats.FileStorage,
			Retention:  nats.WorkQueuePolicy,
			Duplicates: 10 * time.Minute,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("add stream %s: %w", cfg.Stream, err)
		}
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if err != nil {
		if !errors.Is(err, nats.ErrBucketNotFound) {
			nc.Close()
			return nil, fmt.Errorf("open bucket %s: %w", cfg.Bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  cfg.Bucket,
			History: 1,
			TTL:     7 * 24 * time.Hour,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &NATSQueue{nc: nc, js: js, kv: kv, cfg: cfg, logger: logger}, nil
}

// Dispatch records the key as waiting and publishes the item. The message
// id is the job id, so the stream also drops duplicates.
func (q *NATSQueue) Dispatch(ctx context.Context, item job.WorkItem) error {
	key := item.Key()
	if _, err := q.kv.Create(key, []byte(job.QueueStateWaiting)); err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return nil
		}
		return fmt.Errorf("record state of %s: %w", key, err)
	}

	body, err := json.Marshal(item)
	if err != nil {
		_ = q.kv.Delete(key)
		return fmt.Errorf("marshal work item: %w", err)
	}

	msg := nats.NewMsg(q.cfg.Subject)
	msg.Data = body
	if _, err := q.js.PublishMsg(msg, nats.MsgId(key), nats.Context(ctx)); err != nil {
		// Forget the key so reconciliation sees it as unknown.
		_ = q.kv.Delete(key)
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// Remove marks a not-yet-claimed key removed. A concurrent claim wins.
func (q *NATSQueue) Remove(_ context.Context, key string) (bool, error) {
	entry, err := q.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get state of %s: %w", key, err)
	}
	if !job.QueueState(entry.Value()).NotStarted() {
		return false, nil
	}
	if _, err := q.kv.Update(key, []byte(job.QueueStateRemoved), entry.Revision()); err != nil {
		if revisionConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("remove %s: %w", key, err)
	}
	return true, nil
}

// State returns the recorded state of key.
func (q *NATSQueue) State(_ context.Context, key string) (job.QueueState, error) {
	entry, err := q.kv.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return job.QueueStateUnknown, nil
		}
		return job.QueueStateUnknown, fmt.Errorf("get state of %s: %w", key, err)
	}
	return job.QueueState(entry.Value()), nil
}

// Consume pulls messages with cfg.Concurrency fetchers until ctx is done.
func (q *NATSQueue) Consume(ctx context.Context, h Handler) error {
	sub, err := q.js.PullSubscribe(q.cfg.Subject, q.cfg.Durable,
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(q.cfg.AckWait),
		nats.MaxDeliver(q.cfg.Policy.MaxAttempts),
	)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", q.cfg.Subject, err)
	}

	q.logger.Info("starting NATS consumers",
		slog.Int("workers", q.cfg.Concurrency),
		slog.String("subject", q.cfg.Subject),
	)

	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.run(ctx, id, sub, h)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

// Close drains the connection.
func (q *NATSQueue) Close() error {
	return q.nc.Drain()
}

func (q *NATSQueue) run(ctx context.Context, id int, sub *nats.Subscription, h Handler) {
	log := q.logger.With(slog.Int("consumer_id", id))
	for ctx.Err() == nil {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchWait)
		msgs, err := sub.Fetch(1, nats.Context(fetchCtx))
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, nats.ErrTimeout) {
				log.Warn("fetch failed", slog.String("error", err.Error()))
				time.Sleep(time.Second)
			}
			continue
		}
		for _, msg := range msgs {
			q.handle(ctx, msg, h, log)
		}
	}
}

func (q *NATSQueue) handle(ctx context.Context, msg *nats.Msg, h Handler, log *slog.Logger) {
	var item job.WorkItem
	if err := json.Unmarshal(msg.Data, &item); err != nil {
		log.Error("dropping undecodable work item", slog.String("error", err.Error()))
		_ = msg.Term()
		return
	}
	key := item.Key()

	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}

	claimed, err := q.claimWithRetry(ctx, msg, key, log)
	if err != nil {
		log.Warn("claim failed",
			slog.String("job_id", key),
			slog.String("error", err.Error()),
		)
		_ = msg.NakWithDelay(q.cfg.Policy.BaseDelay)
		return
	}
	if !claimed {
		log.Info("skipping removed or finished work item", slog.String("job_id", key))
		_ = msg.Ack()
		return
	}

	stop := q.keepAlive(msg)
	d := Delivery{Item: item, Attempt: attempt, MaxAttempts: q.cfg.Policy.MaxAttempts}
	herr := h(context.WithoutCancel(ctx), d)
	stop()

	switch Decide(d, herr) {
	case OutcomeComplete:
		q.setState(key, job.QueueStateCompleted, log)
		_ = msg.Ack()
	case OutcomeFail:
		q.setState(key, job.QueueStateFailed, log)
		log.Warn("work item failed",
			slog.String("job_id", key),
			slog.Int("attempt", attempt),
			slog.String("error", herr.Error()),
		)
		_ = msg.Term()
	case OutcomeRetry:
		delay := q.cfg.Policy.Backoff(attempt)
		q.setState(key, job.QueueStateDelayed, log)
		log.Info("backoff before redelivery",
			slog.String("job_id", key),
			slog.Duration("delay", delay),
			slog.Int("attempt", attempt),
			slog.String("error", herr.Error()),
		)
		_ = msg.NakWithDelay(delay)
	}
}

// errClaimConflict reports that the entry changed between read and write.
var errClaimConflict = errors.New("state changed during claim")

// revisionConflict reports whether err is a compare-and-set rejection from
// the KV bucket rather than a transport or server failure.
func revisionConflict(err error) bool {
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}

// claimWithRetry retries claim in place while the message is kept alive, so
// a KV hiccup does not consume one of the item's deliveries. Only an
// exhausted retry budget falls back to a redelivery.
func (q *NATSQueue) claimWithRetry(ctx context.Context, msg *nats.Msg, key string, log *slog.Logger) (bool, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = q.cfg.AckWait / 2

	var claimed bool
	op := func() error {
		var err error
		claimed, err = q.claim(key)
		if err != nil && !errors.Is(err, errClaimConflict) && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		_ = msg.InProgress()
		log.Debug("retrying claim",
			slog.String("job_id", key),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		return false, err
	}
	return claimed, nil
}

// isTransient reports whether a KV failure is worth retrying in place.
func isTransient(err error) bool {
	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, nats.ErrNoResponders) ||
		errors.Is(err, nats.ErrConnectionReconnecting) ||
		errors.Is(err, nats.ErrConnectionClosed)
}

// claim moves key to active. It reports false when the key was removed or
// is already finished, and errClaimConflict when a concurrent writer won
// the compare-and-set.
func (q *NATSQueue) claim(key string) (bool, error) {
	entry, err := q.kv.Get(key)
	if err != nil {
		if !errors.Is(err, nats.ErrKeyNotFound) {
			return false, fmt.Errorf("get state of %s: %w", key, err)
		}
		if _, err := q.kv.Create(key, []byte(job.QueueStateActive)); err != nil {
			if revisionConflict(err) {
				return false, errClaimConflict
			}
			return false, fmt.Errorf("claim %s: %w", key, err)
		}
		return true, nil
	}
	state := job.QueueState(entry.Value())
	if state.Finished() {
		return false, nil
	}
	if _, err := q.kv.Update(key, []byte(job.QueueStateActive), entry.Revision()); err != nil {
		if revisionConflict(err) {
			return false, errClaimConflict
		}
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return true, nil
}

func (q *NATSQueue) setState(key string, state job.QueueState, log *slog.Logger) {
	if _, err := q.kv.Put(key, []byte(state)); err != nil {
		log.Warn("failed to record queue state",
			slog.String("job_id", key),
			slog.String("state", string(state)),
			slog.String("error", err.Error()),
		)
	}
}

// keepAlive extends the ack deadline while a handler runs.
func (q *NATSQueue) keepAlive(msg *nats.Msg) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(q.cfg.AckWait / 2)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = msg.InProgress()
			}
		}
	}()
	return func() { close(done) }
}
