// Package queue provides the transports that carry extraction work items from
// the orchestrator to workers: an in-process queue and a NATS JetStream queue.
// Both deduplicate by job id, support removal of unclaimed items and retry
// failed deliveries with exponential backoff.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/maauso/frame-extractor/internal/job"
)

// Default retry settings.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	maxBackoff         = 60 * time.Second
)

// Delivery is one attempt at processing a work item.
type Delivery struct {
	Item        job.WorkItem
	Attempt     int
	MaxAttempts int
}

// Final reports whether no retry follows this attempt.
func (d Delivery) Final() bool {
	return d.Attempt >= d.MaxAttempts
}

// Handler processes a delivery. A nil return completes the item; an error
// schedules a retry unless the attempt is final or the error is permanent.
type Handler func(ctx context.Context, d Delivery) error

// Consumer runs handlers for claimed work items until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}

// Transport is a queue that both dispatches and consumes work items.
type Transport interface {
	job.Dispatcher
	Consumer
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// RetryPolicy bounds redelivery of failed items.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy returns three attempts with a one second base delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// Backoff returns the delay before the attempt following attempt:
// BaseDelay * 2^(attempt-1), capped at one minute.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt < 1 {
		attempt = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// Outcome is what a transport does with an item after a handler returns.
type Outcome int

const (
	OutcomeComplete Outcome = iota
	OutcomeRetry
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeRetry:
		return "retry"
	case OutcomeFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Decide maps a handler result to an outcome.
func Decide(d Delivery, err error) Outcome {
	switch {
	case err == nil:
		return OutcomeComplete
	case IsPermanent(err), d.Final():
		return OutcomeFail
	default:
		return OutcomeRetry
	}
}
