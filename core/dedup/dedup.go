// Package dedup implements C12: the DeduplicationEngine middleware, grounded
// on the teacher's pkg/ratelimiter.MemoryStore bucket-map idiom (a single
// mutex guarding a map plus a background sweep goroutine) adapted from
// token buckets keyed by identifier to fingerprint/result entries keyed by
// an injected fingerprint function.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/gifton/pipelinekit/core/chain"
	"github.com/gifton/pipelinekit/core/errs"
	"github.com/gifton/pipelinekit/core/pipelinectx"
)

// Strategy selects the behavior when a fingerprint is observed again
// within the dedup window.
type Strategy int

const (
	// Reject fails the duplicate with DuplicateCommand.
	Reject Strategy = iota
	// ReturnCached returns the first invocation's stored result.
	ReturnCached
	// MarkAndProceed flags the context as a duplicate and runs next anyway.
	MarkAndProceed
)

// Fingerprint computes a stable identity string for a command. Commands
// that should never dedup against each other (distinct idempotency scope,
// distinct tenant, etc.) must be reflected in the fingerprint itself.
type Fingerprint[C any] func(cmd C) string

// IsDuplicateKey is the pipelinectx.Key used to flag MarkAndProceed
// duplicates on the invocation's Store.
var IsDuplicateKey = pipelinectx.NewKey[bool]("dedup.isDuplicate")

type entry[R any] struct {
	result      R
	completedAt time.Time
}

// Config bounds one Engine instance.
type Config[C any] struct {
	Window      time.Duration
	Strategy    Strategy
	Fingerprint Fingerprint[C]
	// SweepInterval paces the background reclaim of expired entries; 0
	// disables the background sweep (entries are still treated as absent
	// once stale, just not proactively removed from memory).
	SweepInterval time.Duration
}

// Engine is the C12 DeduplicationEngine, usable directly as a chain
// Middleware for any (C, R) pair.
type Engine[C any, R any] struct {
	cfg Config[C]

	mu      sync.Mutex
	entries map[string]entry[R]
}

// New constructs an Engine. Its chain priority is the one passed to
// NewMiddleware.
func New[C any, R any](cfg Config[C]) *Engine[C, R] {
	return &Engine[C, R]{cfg: cfg, entries: make(map[string]entry[R])}
}

// lookup reports a non-expired entry for fingerprint, if any.
func (e *Engine[C, R]) lookup(fingerprint string, now time.Time) (entry[R], bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[fingerprint]
	if !ok {
		return entry[R]{}, false
	}
	if now.Sub(ent.completedAt) > e.cfg.Window {
		return entry[R]{}, false
	}
	return ent, true
}

func (e *Engine[C, R]) record(fingerprint string, result R, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries[fingerprint] = entry[R]{result: result, completedAt: now}
}

// Execute runs the dedup protocol from spec §4.12 as a chain Middleware
// step. next is expected to return R itself (boxed into R in the R==any
// instantiation used by pipeline.Pipeline).
func (e *Engine[C, R]) Execute(ctx context.Context, cmd C, pctx *pipelinectx.Store, next func(context.Context, C, *pipelinectx.Store) (R, error)) (R, error) {
	var zero R
	fp := e.cfg.Fingerprint(cmd)
	now := time.Now()

	if ent, ok := e.lookup(fp, now); ok {
		switch e.cfg.Strategy {
		case Reject:
			return zero, errs.New("dedup.Execute", errs.KindDuplicateCommand, nil).WithField("fingerprint", fp)
		case ReturnCached:
			return ent.result, nil
		case MarkAndProceed:
			if pctx != nil {
				pipelinectx.Set(pctx, IsDuplicateKey, true)
			}
		}
	}

	result, err := next(ctx, cmd, pctx)
	if err != nil {
		return result, err
	}
	e.record(fp, result, time.Now())
	return result, nil
}

// Sweep removes entries older than the configured window. Call
// periodically (see Run) or on demand.
func (e *Engine[C, R]) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now()
	removed := 0
	for k, ent := range e.entries {
		if now.Sub(ent.completedAt) > e.cfg.Window {
			delete(e.entries, k)
			removed++
		}
	}
	return removed
}

// Run starts the periodic sweep loop; it blocks until ctx is cancelled.
// A no-op if SweepInterval is <= 0.
func (e *Engine[C, R]) Run(ctx context.Context) func() error {
	return func() error {
		if e.cfg.SweepInterval <= 0 {
			<-ctx.Done()
			return nil
		}
		ticker := time.NewTicker(e.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				e.Sweep()
			}
		}
	}
}

// Store is the §6 "Dedup store" external interface: fingerprint-keyed,
// byte-oriented entries with an explicit completedAt so callers can judge
// window membership themselves. Reference implementations live in
// store/memory and store/mongo. Engine itself keeps its entries in a
// local map for the common single-process case; Store exists for callers
// who need duplicate suppression to hold across replicas or restarts and
// are willing to front their own Fingerprint/Codec pair with one of
// these.
type Store interface {
	Get(ctx context.Context, fingerprint string) ([]byte, time.Time, bool, error)
	Set(ctx context.Context, fingerprint string, value []byte, completedAt time.Time) error
	Remove(ctx context.Context, fingerprint string) error
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// Middleware adapts Engine to chain.Middleware[C, R] with a fixed
// Priority. chain.Middleware's Execute signature uses chain.Func, so this
// thin wrapper exists only to bridge the named function type.
type Middleware[C any, R any] struct {
	*Engine[C, R]
	priority int
}

// NewMiddleware wraps an Engine as a prioritized chain.Middleware.
func NewMiddleware[C any, R any](engine *Engine[C, R], priority int) Middleware[C, R] {
	return Middleware[C, R]{Engine: engine, priority: priority}
}

func (m Middleware[C, R]) Priority() int { return m.priority }

func (m Middleware[C, R]) Execute(ctx context.Context, cmd C, pctx *pipelinectx.Store, next chain.Func[C, R]) (R, error) {
	return m.Engine.Execute(ctx, cmd, pctx, func(ctx context.Context, cmd C, pctx *pipelinectx.Store) (R, error) {
		return next(ctx, cmd, pctx)
	})
}

// SuppressMissingNextWarning is true for ReturnCached and Reject results:
// the guard's continuation (next) is legitimately never called when a
// cached result or rejection satisfies the call.
func (m Middleware[C, R]) SuppressMissingNextWarning() bool {
	return m.Engine.cfg.Strategy == ReturnCached || m.Engine.cfg.Strategy == Reject
}
