// Package idempotency implements C7: keyed at-most-once execution with
// in-flight rendezvous.
//
// Two rendezvous paths are layered on top of the spec's store protocol:
// a golang.org/x/sync/singleflight fast path coalesces concurrent callers
// on the *same coordinator instance* into one in-flight execution (no
// store round-trips for the common single-process case), while the
// spec's poll loop over the Store handles cross-process waiters backed by
// a shared remote store (store/postgres, for example). Execute picks
// whichever applies transparently.
package idempotency

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gifton/pipelinekit/core/errs"
)

// Status is the lifecycle phase of an IdempotencyRecord.
type Status int

const (
	InProgress Status = iota
	Completed
	Failed
)

// Record is the spec's IdempotencyRecord.
type Record struct {
	Key       string
	Status    Status
	Value     any
	ErrDesc   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Store is the protocol external collaborators implement (memory, Postgres
// via ON CONFLICT, ...).
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Set(ctx context.Context, key string, rec Record) error
	Remove(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context) error
}

// Coordinator is the C7 IdempotencyCoordinator.
type Coordinator struct {
	store        Store
	pollInterval time.Duration
	sf           singleflight.Group
}

// New creates a Coordinator over store. pollInterval defaults to 100ms.
func New(store Store, pollInterval time.Duration) *Coordinator {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	return &Coordinator{store: store, pollInterval: pollInterval}
}

// Execute runs fn under key's idempotency guard. waitForInProgress selects
// step 3's behavior when a peer is already InProgress: poll until
// Completed or timeout (true), or fail immediately with
// OperationInProgress (false).
func (c *Coordinator) Execute(
	ctx context.Context,
	key string,
	ttl time.Duration,
	waitForInProgress bool,
	timeout time.Duration,
	fn func(ctx context.Context) (any, error),
) (any, error) {
	// Local fast path: concurrent callers on this coordinator instance
	// share one execution and skip the store round-trips entirely.
	v, err, _ := c.sf.Do(key, func() (any, error) {
		return c.executeViaStore(ctx, key, ttl, waitForInProgress, timeout, fn)
	})
	return v, err
}

func (c *Coordinator) executeViaStore(
	ctx context.Context,
	key string,
	ttl time.Duration,
	waitForInProgress bool,
	timeout time.Duration,
	fn func(ctx context.Context) (any, error),
) (any, error) {
	now := time.Now()

	rec, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, errs.New("idempotency.Execute", errs.KindExecutionFailed, err)
	}

	if ok && !rec.expired(now) {
		switch rec.Status {
		case Completed:
			return rec.Value, nil
		case InProgress:
			if !waitForInProgress {
				return nil, errs.New("idempotency.Execute", errs.KindOperationInProgress, nil).
					WithField("key", key)
			}
			result, waited, werr := c.pollForCompletion(ctx, key, timeout)
			if waited {
				return result, werr
			}
			// timeout elapsed: fall through to step 4 and attempt our own run.
		case Failed:
			// retry allowed: fall through to step 4.
		}
	}

	if err := c.store.Set(ctx, key, Record{
		Key:       key,
		Status:    InProgress,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}); err != nil {
		return nil, errs.New("idempotency.Execute", errs.KindExecutionFailed, err)
	}

	result, fnErr := fn(ctx)
	if fnErr != nil {
		_ = c.store.Set(ctx, key, Record{
			Key:       key,
			Status:    Failed,
			ErrDesc:   fnErr.Error(),
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		})
		return nil, fnErr
	}

	if err := c.store.Set(ctx, key, Record{
		Key:       key,
		Status:    Completed,
		Value:     result,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}); err != nil {
		return nil, errs.New("idempotency.Execute", errs.KindExecutionFailed, err)
	}

	return result, nil
}

// pollForCompletion polls the store until the record completes or timeout
// elapses. The bool return reports whether it observed completion (true)
// or timed out (false, in which case the caller proceeds to attempt its
// own execution).
func (c *Coordinator) pollForCompletion(ctx context.Context, key string, timeout time.Duration) (any, bool, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, true, errs.New("idempotency.Execute", errs.KindCancelled, ctx.Err())
		case <-ticker.C:
			rec, ok, err := c.store.Get(ctx, key)
			if err != nil {
				return nil, true, errs.New("idempotency.Execute", errs.KindExecutionFailed, err)
			}
			if ok && rec.Status == Completed && !rec.expired(time.Now()) {
				return rec.Value, true, nil
			}
			if time.Now().After(deadline) {
				return nil, false, nil
			}
		}
	}
}
