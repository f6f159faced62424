// Package streamcontrol defines the stream control-plane adapter
// contract of spec section 4.B (describe/list/split/merge) and its
// shared retry discipline, plus a Kinesis-backed implementation.
package streamcontrol

import (
	"context"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v4"

	"kinesis-shard-autoscaler/internal/errs"
	"kinesis-shard-autoscaler/internal/shard"
)

// StreamStatus mirrors the subset of Kinesis stream states this
// module cares about.
type StreamStatus string

const (
	StatusCreating StreamStatus = "CREATING"
	StatusUpdating StreamStatus = "UPDATING"
	StatusActive   StreamStatus = "ACTIVE"
	StatusDeleting StreamStatus = "DELETING"
)

// Description is the result of Describe.
type Description struct {
	Status         StreamStatus
	OpenShardCount int
}

// StreamControl is the control-plane adapter contract of spec section
// 4.B. All mutating operations are idempotent from the caller's
// standpoint via the retry discipline in Retrier.
type StreamControl interface {
	Describe(ctx context.Context, stream string) (Description, error)
	ListOpenShards(ctx context.Context, stream string) ([]shard.Shard, error)
	Split(ctx context.Context, stream, shardID string, newStartingHash *big.Int, waitForActive bool) error
	Merge(ctx context.Context, stream, lowerID, higherID string, waitForActive bool) error
}

// Retry bounds from spec section 4.B.
const (
	ModifyRetries        = 10
	ShardBusyDelay       = time.Second
	FirstActivePoll      = 20 * time.Second
	SubsequentActivePoll = time.Second
)

// Retrier runs a control-plane call with the shared retry discipline
// of spec section 4.B: a fixed 1s delay on ErrShardBusy, exponential
// backoff (2^attempt x 100ms) on ErrProviderThrottled, bounded by
// ModifyRetries retries after the first attempt, classified through
// errs.Classify rather than
// duplicated per call site (spec section 9's dynamic-dispatch
// redesign note).
type Retrier struct {
	// Sleep is overridable in tests; defaults to time.Sleep.
	Sleep func(time.Duration)
}

// NewRetrier returns a Retrier using real time.Sleep.
func NewRetrier() *Retrier {
	return &Retrier{Sleep: time.Sleep}
}

// newBackoff builds the exponential-backoff generator for
// errs.RetryBackoff: 2^attempt x 100ms, unrandomized so the sequence
// stays deterministic for callers that need to reason about it (and
// for tests), bounded from above only by ModifyRetries.
func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 2 * time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Do runs fn, retrying per the classification of its returned error,
// up to ModifyRetries times after the first attempt (ModifyRetries+1
// calls in all). It returns errs.ErrOperationExhausted
// wrapping the last error once retries are exhausted.
func (r *Retrier) Do(ctx context.Context, fn func() error) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	bo := newBackoff()

	var lastErr error
	for attempt := 0; attempt <= ModifyRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		switch errs.Classify(err) {
		case errs.RetryFixed:
			if attempt == ModifyRetries {
				return errExhausted(lastErr)
			}
			if err := sleepOrDone(ctx, sleep, ShardBusyDelay); err != nil {
				return err
			}
		case errs.RetryBackoff:
			if attempt == ModifyRetries {
				return errExhausted(lastErr)
			}
			if err := sleepOrDone(ctx, sleep, bo.NextBackOff()); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return errExhausted(lastErr)
}

func errExhausted(last error) error {
	return &exhaustedError{last: last}
}

type exhaustedError struct{ last error }

func (e *exhaustedError) Error() string {
	return "operation exhausted retries: " + e.last.Error()
}

func (e *exhaustedError) Unwrap() []error {
	return []error{errs.ErrOperationExhausted, e.last}
}

func sleepOrDone(ctx context.Context, sleep func(time.Duration), d time.Duration) error {
	done := make(chan struct{})
	go func() {
		sleep(d)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForActive polls Describe until the stream reports ACTIVE, per
// spec section 4.B: the first poll waits FirstActivePoll, subsequent
// polls wait SubsequentActivePoll.
func WaitForActive(ctx context.Context, ctrl StreamControl, stream string, sleep func(time.Duration)) error {
	if sleep == nil {
		sleep = time.Sleep
	}
	delay := FirstActivePoll
	for {
		if err := sleepOrDone(ctx, sleep, delay); err != nil {
			return err
		}
		desc, err := ctrl.Describe(ctx, stream)
		if err != nil {
			return err
		}
		if desc.Status == StatusActive {
			return nil
		}
		delay = SubsequentActivePoll
	}
}
