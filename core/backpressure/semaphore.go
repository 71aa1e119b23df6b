// Package backpressure implements C3: a bounded-concurrency, bounded-queue
// admission primitive with pluggable overflow strategies, grounded on the
// teacher's semaphore-channel idiom (core/command.Dispatcher's
// handlerSemaphore, pkg/ratelimiter's bucket) generalized to the spec's
// four strategies and waiter accounting.
package backpressure

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gifton/pipelinekit/core/errs"
	"github.com/gifton/pipelinekit/core/logger"
)

// Strategy selects overflow behavior when admission would exceed the
// configured bounds.
type Strategy int

const (
	// Suspend enqueues the waiter FIFO; it is resumed in enqueue order
	// when a slot opens.
	Suspend Strategy = iota
	// DropNewest fails the incoming acquire immediately.
	DropNewest
	// DropOldest evicts the oldest queued waiter to admit the newcomer.
	DropOldest
	// ErrorStrategy fails immediately when the limit would be exceeded.
	ErrorStrategy
)

// Config bounds a Semaphore.
type Config struct {
	MaxConcurrency int
	MaxOutstanding int // 0 = unbounded (active + queued)
	MaxQueueBytes  int64 // 0 = unbounded
	Strategy       Strategy

	// Logger receives one entry per enqueue, reporting the resulting
	// queue depth. Nil disables logging.
	Logger *slog.Logger
}

type waiter struct {
	enqueuedAt time.Time
	cost       int64
	resumeCh   chan error
	elem       *list.Element
}

// Token represents one admitted slot. It must Release exactly once.
type Token struct {
	sem      *Semaphore
	cost     int64
	released bool
}

// Release returns the slot to the semaphore. Only the first call releases;
// additional calls are no-ops to simplify defer-based release patterns.
func (t *Token) Release() {
	if t == nil || t.released {
		return
	}
	t.released = true
	t.sem.release(t.cost)
}

// Semaphore is the C3 BackPressureSemaphore.
type Semaphore struct {
	mu     sync.Mutex
	cfg    Config
	active int64
	queue  *list.List // of *waiter
}

// New creates a Semaphore from cfg. MaxConcurrency must be > 0.
func New(cfg Config) *Semaphore {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &Semaphore{cfg: cfg, queue: list.New()}
}

// UpdateLimit atomically replaces MaxConcurrency. Already-admitted tokens
// are never revoked; the new limit applies to future admissions only, per
// spec §4.8 (AdaptiveController signaling a capacity change).
func (s *Semaphore) UpdateLimit(maxConcurrency int) {
	if maxConcurrency <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MaxConcurrency = maxConcurrency
	s.admitQueuedLocked()
}

// Acquire admits one unit of cost, blocking (strategy Suspend) or failing
// fast (other strategies) according to configuration. The returned Token
// must be released exactly once on every exit path.
func (s *Semaphore) Acquire(ctx context.Context, cost int64) (*Token, error) {
	if cost <= 0 {
		cost = 1
	}

	s.mu.Lock()

	if s.canAdmitLocked(cost) {
		s.active += cost
		s.mu.Unlock()
		return &Token{sem: s, cost: cost}, nil
	}

	// Would exceed maxConcurrency (or maxOutstanding with no queueing
	// room). Apply strategy.
	switch s.cfg.Strategy {
	case DropNewest:
		s.mu.Unlock()
		return nil, errs.New("backpressure.Acquire", errs.KindBackPressureOverflow, nil).
			WithField("reason", "droppedNewest")

	case ErrorStrategy:
		s.mu.Unlock()
		return nil, errs.New("backpressure.Acquire", errs.KindBackPressureOverflow, nil).
			WithField("reason", "refused")

	case DropOldest:
		if s.cfg.MaxOutstanding > 0 && s.outstandingLocked()+cost > int64(s.cfg.MaxOutstanding) {
			if front := s.queue.Front(); front != nil {
				w := front.Value.(*waiter)
				s.queue.Remove(front)
				w.elem = nil
				w.resumeCh <- errs.New("backpressure.Acquire", errs.KindBackPressureOverflow, nil).
					WithField("reason", "droppedOldest")
			}
		}
		w := s.enqueueLocked(cost)
		s.mu.Unlock()
		return s.awaitWaiter(ctx, w, cost)

	default: // Suspend
		if s.cfg.MaxOutstanding > 0 && s.outstandingLocked()+cost > int64(s.cfg.MaxOutstanding) {
			s.mu.Unlock()
			return nil, errs.New("backpressure.Acquire", errs.KindBackPressureOverflow, nil).
				WithField("reason", "refused")
		}
		if s.cfg.MaxQueueBytes > 0 && s.queuedCostLocked()+cost > s.cfg.MaxQueueBytes {
			s.mu.Unlock()
			return nil, errs.New("backpressure.Acquire", errs.KindBackPressureOverflow, nil).
				WithField("reason", "refused")
		}
		w := s.enqueueLocked(cost)
		s.mu.Unlock()
		return s.awaitWaiter(ctx, w, cost)
	}
}

func (s *Semaphore) awaitWaiter(ctx context.Context, w *waiter, cost int64) (*Token, error) {
	select {
	case err := <-w.resumeCh:
		if err != nil {
			return nil, err
		}
		return &Token{sem: s, cost: cost}, nil
	case <-ctx.Done():
		s.mu.Lock()
		if w.elem != nil {
			s.queue.Remove(w.elem)
			w.elem = nil
			s.mu.Unlock()
			return nil, errs.New("backpressure.Acquire", errs.KindCancelled, ctx.Err())
		}
		// w.elem is already nil: admitQueuedLocked (or a DropOldest
		// eviction) dequeued this waiter concurrently with the
		// cancellation, and buffered its result on resumeCh before
		// releasing the lock above. Drain it: an eviction error needs no
		// further action, but a successful admit already did
		// s.active += cost on our behalf, and no Token will ever exist to
		// release it, so undo that increment here or the slot leaks.
		select {
		case err := <-w.resumeCh:
			if err == nil {
				s.active -= cost
				if s.active < 0 {
					s.active = 0
				}
				s.admitQueuedLocked()
			}
		default:
		}
		s.mu.Unlock()
		return nil, errs.New("backpressure.Acquire", errs.KindCancelled, ctx.Err())
	}
}

func (s *Semaphore) canAdmitLocked(cost int64) bool {
	if s.active+cost > int64(s.cfg.MaxConcurrency) {
		return false
	}
	return true
}

func (s *Semaphore) outstandingLocked() int64 {
	return s.active + s.queuedCostLocked()
}

func (s *Semaphore) queuedCostLocked() int64 {
	var total int64
	for e := s.queue.Front(); e != nil; e = e.Next() {
		total += e.Value.(*waiter).cost
	}
	return total
}

func (s *Semaphore) enqueueLocked(cost int64) *waiter {
	w := &waiter{
		enqueuedAt: time.Now(),
		cost:       cost,
		resumeCh:   make(chan error, 1),
	}
	w.elem = s.queue.PushBack(w)
	if s.cfg.Logger != nil {
		s.cfg.Logger.Debug("backpressure waiter enqueued", logger.QueueDepth(s.queue.Len()))
	}
	return w
}

func (s *Semaphore) release(cost int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active -= cost
	if s.active < 0 {
		s.active = 0
	}
	s.admitQueuedLocked()
}

// admitQueuedLocked resumes FIFO waiters while capacity allows.
func (s *Semaphore) admitQueuedLocked() {
	for {
		front := s.queue.Front()
		if front == nil {
			return
		}
		w := front.Value.(*waiter)
		if s.active+w.cost > int64(s.cfg.MaxConcurrency) {
			return
		}
		s.queue.Remove(front)
		w.elem = nil
		s.active += w.cost
		w.resumeCh <- nil
	}
}

// Stats reports the current admission state.
type Stats struct {
	Active int64
	Queued int
}

// Stats returns a point-in-time snapshot.
func (s *Semaphore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Active: s.active, Queued: s.queue.Len()}
}
