// Package bulkhead implements C5: an isolated concurrency slot pool with
// bounded waiters, grounded on the same semaphore-channel idiom as
// core/backpressure but scoped to the simpler "N slots, M waiters,
// FIFO-or-fail" contract of spec §4.5 (no overflow-strategy variants).
package bulkhead

import (
	"container/list"
	"context"
	"sync"

	"github.com/gifton/pipelinekit/core/errs"
)

// Config bounds a Bulkhead.
type Config struct {
	MaxConcurrency  int
	MaxWaitingCalls int
}

type waiter struct {
	resumeCh chan struct{}
	elem     *list.Element
}

// Bulkhead is the C5 isolated concurrency pool.
type Bulkhead struct {
	mu      sync.Mutex
	cfg     Config
	active  int
	waiters *list.List
}

// New creates a Bulkhead from cfg.
func New(cfg Config) *Bulkhead {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Bulkhead{cfg: cfg, waiters: list.New()}
}

// Execute acquires a slot (queueing FIFO if none is free, up to
// MaxWaitingCalls) and runs op, always releasing the slot on every exit
// path including cancellation.
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer b.release()
	return op(ctx)
}

func (b *Bulkhead) acquire(ctx context.Context) error {
	b.mu.Lock()
	if b.active < b.cfg.MaxConcurrency {
		b.active++
		b.mu.Unlock()
		return nil
	}

	if b.waiters.Len() >= b.cfg.MaxWaitingCalls {
		b.mu.Unlock()
		return errs.New("bulkhead.Execute", errs.KindBulkheadFull, nil)
	}

	w := &waiter{resumeCh: make(chan struct{})}
	w.elem = b.waiters.PushBack(w)
	b.mu.Unlock()

	select {
	case <-w.resumeCh:
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		handed := w.elem == nil
		if !handed {
			b.waiters.Remove(w.elem)
			w.elem = nil
		}
		b.mu.Unlock()
		if handed {
			// release() already handed its slot to this waiter; pass it on.
			b.release()
		}
		return errs.New("bulkhead.Execute", errs.KindCancelled, ctx.Err())
	}
}

func (b *Bulkhead) release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	front := b.waiters.Front()
	if front == nil {
		b.active--
		return
	}
	w := front.Value.(*waiter)
	b.waiters.Remove(front)
	w.elem = nil
	close(w.resumeCh) // hand the freed slot directly to the next waiter
}

// Stats reports the current pool occupancy.
type Stats struct {
	Active  int
	Waiting int
}

// Stats returns a point-in-time snapshot.
func (b *Bulkhead) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Active: b.active, Waiting: b.waiters.Len()}
}
