package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/frame-extractor/internal/job"
)

// ErrClosed is returned by Dispatch after the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Compile-time check that MemoryQueue implements Transport.
var _ Transport = (*MemoryQueue)(nil)

type memoryEntry struct {
	item    job.WorkItem
	state   job.QueueState
	attempt int
	timer   *time.Timer
	// finishedAt is set once the entry reaches a terminal state.
	finishedAt time.Time
}

// pruneInterval bounds how often finished entries are swept.
const pruneInterval = time.Minute

// Retention is how long finished entries stay queryable through State.
// Removed entries share the Completed age.
type Retention struct {
	Completed time.Duration
	Failed    time.Duration
}

// DefaultRetention keeps completed entries for an hour and failed ones for a day.
func DefaultRetention() Retention {
	return Retention{Completed: time.Hour, Failed: 24 * time.Hour}
}

func (r Retention) ttl(s job.QueueState) time.Duration {
	if s == job.QueueStateFailed {
		return r.Failed
	}
	return r.Completed
}

// MemoryQueue is an in-process Transport. State is lost on restart, which
// the orchestrator's reconciliation sweep recovers from.
type MemoryQueue struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	ready   []string
	wake    chan struct{}
	closed  bool

	policy      RetryPolicy
	retention   Retention
	concurrency int
	logger      *slog.Logger

	now       func() time.Time
	lastPrune time.Time
}

// MemoryOption configures a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithRetryPolicy sets the redelivery policy.
func WithRetryPolicy(p RetryPolicy) MemoryOption {
	return func(q *MemoryQueue) {
		q.policy = p.normalized()
	}
}

// WithRetention sets how long finished entries are kept. Non-positive
// fields keep their default.
func WithRetention(r Retention) MemoryOption {
	return func(q *MemoryQueue) {
		if r.Completed > 0 {
			q.retention.Completed = r.Completed
		}
		if r.Failed > 0 {
			q.retention.Failed = r.Failed
		}
	}
}

// WithConcurrency sets how many handlers run at once.
func WithConcurrency(n int) MemoryOption {
	return func(q *MemoryQueue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(l *slog.Logger) MemoryOption {
	return func(q *MemoryQueue) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		entries:     make(map[string]*memoryEntry),
		wake:        make(chan struct{}, 1),
		policy:      DefaultRetryPolicy(),
		retention:   DefaultRetention(),
		concurrency: 1,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Dispatch enqueues item. Known keys are ignored.
func (q *MemoryQueue) Dispatch(_ context.Context, item job.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.pruneLocked()

	key := item.Key()
	if _, ok := q.entries[key]; ok {
		return nil
	}
	q.entries[key] = &memoryEntry{item: item, state: job.QueueStateWaiting}
	q.ready = append(q.ready, key)
	q.signal()
	return nil
}

// Remove marks a waiting or delayed item removed.
func (q *MemoryQueue) Remove(_ context.Context, key string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[key]
	if !ok || !e.state.NotStarted() {
		return false, nil
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.state = job.QueueStateRemoved
	e.finishedAt = q.now()
	return true, nil
}

// State returns the transport state of key.
func (q *MemoryQueue) State(_ context.Context, key string) (job.QueueState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[key]
	if !ok {
		return job.QueueStateUnknown, nil
	}
	return e.state, nil
}

// Consume starts the handler goroutines and blocks until ctx is done and
// every in-flight handler has returned.
func (q *MemoryQueue) Consume(ctx context.Context, h Handler) error {
	q.logger.Info("starting memory queue consumers", slog.Int("workers", q.concurrency))

	var wg sync.WaitGroup
	for i := 0; i < q.concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.run(ctx, id, h)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

// Close rejects further dispatches and cancels pending retry timers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, e := range q.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	return nil
}

func (q *MemoryQueue) run(ctx context.Context, id int, h Handler) {
	log := q.logger.With(slog.Int("consumer_id", id))
	for {
		d, ok := q.claim()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			q.release(d.Item.Key())
			return
		}
		// Shutdown stops claiming; a started handler runs to completion.
		q.finish(d, h(context.WithoutCancel(ctx), d), log)
	}
}

// claim moves the next waiting item to active.
func (q *MemoryQueue) claim() (Delivery, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.ready) > 0 {
		key := q.ready[0]
		q.ready = q.ready[1:]

		e, ok := q.entries[key]
		if !ok || e.state != job.QueueStateWaiting {
			continue
		}
		e.state = job.QueueStateActive
		e.attempt++
		if len(q.ready) > 0 {
			q.signal()
		}
		return Delivery{Item: e.item, Attempt: e.attempt, MaxAttempts: q.policy.MaxAttempts}, true
	}
	return Delivery{}, false
}

// release returns a claimed item to the head of the queue without counting the attempt.
func (q *MemoryQueue) release(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[key]; ok && e.state == job.QueueStateActive {
		e.state = job.QueueStateWaiting
		e.attempt--
		q.ready = append([]string{key}, q.ready...)
	}
}

func (q *MemoryQueue) finish(d Delivery, err error, log *slog.Logger) {
	key := d.Item.Key()
	outcome := Decide(d, err)

	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[key]
	if !ok {
		return
	}

	switch outcome {
	case OutcomeComplete:
		e.state = job.QueueStateCompleted
		e.finishedAt = q.now()
		q.pruneLocked()
	case OutcomeFail:
		e.state = job.QueueStateFailed
		e.finishedAt = q.now()
		q.pruneLocked()
		log.Warn("work item failed",
			slog.String("job_id", key),
			slog.Int("attempt", d.Attempt),
			slog.String("error", err.Error()),
		)
	case OutcomeRetry:
		delay := q.policy.Backoff(d.Attempt)
		e.state = job.QueueStateDelayed
		log.Info("backoff before redelivery",
			slog.String("job_id", key),
			slog.Duration("delay", delay),
			slog.Int("attempt", d.Attempt),
			slog.String("error", err.Error()),
		)
		if q.closed {
			return
		}
		e.timer = time.AfterFunc(delay, func() { q.requeue(key) })
	}
}

func (q *MemoryQueue) requeue(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[key]
	if !ok || e.state != job.QueueStateDelayed || q.closed {
		return
	}
	e.timer = nil
	e.state = job.QueueStateWaiting
	q.ready = append(q.ready, key)
	q.signal()
}

// pruneLocked evicts finished entries older than their retention. It runs
// at most once per pruneInterval. Callers hold q.mu.
func (q *MemoryQueue) pruneLocked() {
	now := q.now()
	if now.Sub(q.lastPrune) < pruneInterval {
		return
	}
	q.lastPrune = now
	for key, e := range q.entries {
		if e.finishedAt.IsZero() {
			continue
		}
		if now.Sub(e.finishedAt) > q.retention.ttl(e.state) {
			delete(q.entries, key)
		}
	}
}

// signal wakes one idle consumer. Callers hold q.mu.
func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
