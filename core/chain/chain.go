// Package chain implements C9: priority-sorted middleware composition with
// NextGuard single-call enforcement, grounded on the teacher's
// chainMiddleware/ApplyDecorators right-fold idiom (core/command/utils.go,
// core/command/decorator.go) generalized from a fixed Handler interface to
// a Command/Result type pair with the spec's guard and depth-limit
// invariants layered on top.
package chain

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/gifton/pipelinekit/core/errs"
	"github.com/gifton/pipelinekit/core/logger"
	"github.com/gifton/pipelinekit/core/pipelinectx"
)

// Priority constants from spec §3 ExecutionPriority (lower runs earlier).
const (
	PriorityAuthentication = 100
	PriorityValidation     = 200
	PriorityPreProcessing  = 300
	PriorityProcessing     = 400
	PriorityPostProcessing = 500
	PriorityErrorHandling  = 600
	PriorityCustom         = 1000
)

// Func is the continuation type threaded through a chain: a transformation
// from (command, context) to a Result, fallible.
type Func[C any, R any] func(ctx context.Context, cmd C, pctx *pipelinectx.Store) (R, error)

// Middleware is the polymorphic capability set from spec §3: a priority
// and an execute method taking the continuation to call next.
type Middleware[C any, R any] interface {
	Priority() int
	Execute(ctx context.Context, cmd C, pctx *pipelinectx.Store, next Func[C, R]) (R, error)
}

// UnsafeNexter is an optional capability: a middleware declaring it opts
// out of NextGuard's single-call enforcement entirely (e.g. a middleware
// that deliberately fans out to next concurrently).
type UnsafeNexter interface {
	UnsafeNext() bool
}

// NextSuppressor is an optional capability: a middleware declaring it
// silences the "guard released without being called" diagnostic because
// short-circuiting is its normal, intended behavior (e.g. a cache hit).
type NextSuppressor interface {
	SuppressMissingNextWarning() bool
}

// Handler is the terminal processor bound to C, R.
type Handler[C any, R any] interface {
	Handle(ctx context.Context, cmd C, pctx *pipelinectx.Store) (R, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc[C any, R any] func(ctx context.Context, cmd C, pctx *pipelinectx.Store) (R, error)

func (f HandlerFunc[C, R]) Handle(ctx context.Context, cmd C, pctx *pipelinectx.Store) (R, error) {
	return f(ctx, cmd, pctx)
}

// Chain is the immutable, priority-sorted composition of middlewares
// terminated by a handler.
type Chain[C any, R any] struct {
	entries []Middleware[C, R]
	handler Handler[C, R]
	logger  *slog.Logger
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

type buildConfig struct {
	maxDepth int
	logger   *slog.Logger
}

// WithMaxDepth caps the number of middlewares admitted into the chain.
// Exceeding it fails Build with ChainDepthExceeded.
func WithMaxDepth(n int) BuildOption {
	return func(c *buildConfig) { c.maxDepth = n }
}

// WithLogger attaches a logger used for NextGuard diagnostics (a
// middleware's guard was released without being called, and it does not
// declare SuppressMissingNextWarning).
func WithLogger(logger *slog.Logger) BuildOption {
	return func(c *buildConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Build sorts middlewares stably by ascending Priority() (ties preserve
// registration order, since sort.SliceStable is used) and terminates the
// composition at handler.
func Build[C any, R any](middlewares []Middleware[C, R], handler Handler[C, R], opts ...BuildOption) (*Chain[C, R], error) {
	cfg := buildConfig{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.maxDepth > 0 && len(middlewares) > cfg.maxDepth {
		return nil, errs.New("chain.Build", errs.KindChainDepthExceeded, nil).
			WithField("depth", len(middlewares)).WithField("maxDepth", cfg.maxDepth)
	}

	sorted := make([]Middleware[C, R], len(middlewares))
	copy(sorted, middlewares)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	return &Chain[C, R]{entries: sorted, handler: handler, logger: cfg.logger}, nil
}

// Execute runs the composed chain against cmd/pctx. It right-folds the
// sorted middlewares over the terminal handler, wrapping each
// continuation in a NextGuard unless the middleware declares UnsafeNext.
func (c *Chain[C, R]) Execute(ctx context.Context, cmd C, pctx *pipelinectx.Store) (R, error) {
	var next Func[C, R] = c.handler.Handle

	for i := len(c.entries) - 1; i >= 0; i-- {
		mw := c.entries[i]
		downstream := next

		unsafe := false
		if u, ok := mw.(UnsafeNexter); ok {
			unsafe = u.UnsafeNext()
		}
		suppress := false
		if s, ok := mw.(NextSuppressor); ok {
			suppress = s.SuppressMissingNextWarning()
		}

		if unsafe {
			next = func(ctx context.Context, cmd C, pctx *pipelinectx.Store) (R, error) {
				return mw.Execute(ctx, cmd, pctx, downstream)
			}
			continue
		}

		guard := newGuard()
		mwName := middlewareName(mw)
		log := c.logger

		next = func(ctx context.Context, cmd C, pctx *pipelinectx.Store) (R, error) {
			guarded := func(ctx context.Context, cmd C, pctx *pipelinectx.Store) (R, error) {
				ok, prior := guard.call()
				if !ok {
					var zero R
					kind := errs.KindNextCalledTwice
					if prior == guardReleased {
						kind = errs.KindNextAfterRelease
					}
					return zero, errs.New("chain.Execute", kind, nil).
						WithField("middleware", mwName)
				}
				return downstream(ctx, cmd, pctx)
			}
			result, err := mw.Execute(ctx, cmd, pctx, guarded)
			called := guard.release()
			if !called && !suppress {
				log.WarnContext(ctx, "middleware released its guard without calling next",
					logger.Component(mwName))
			}
			return result, err
		}
	}

	return next(ctx, cmd, pctx)
}

func middlewareName(mw any) string {
	type named interface{ Name() string }
	if n, ok := mw.(named); ok {
		return n.Name()
	}
	return "unknown"
}

// guardState is the NextGuard token's lifecycle: pending -> called ->
// released, or pending -> released (short-circuit).
type guardState int32

const (
	guardPending guardState = iota
	guardCalled
	guardReleased
)

type guard struct {
	state atomic.Int32
}

func newGuard() *guard { return &guard{} }

// call transitions pending->called. ok is false if the guard was already
// called or already released; prior reports which of those it was so
// callers can translate the failure into NextCalledTwice (prior ==
// guardCalled) or NextAfterRelease (prior == guardReleased) as spec §4.9
// and §8 scenario 5 require them to be distinct outcomes.
func (g *guard) call() (ok bool, prior guardState) {
	for {
		cur := guardState(g.state.Load())
		if cur != guardPending {
			return false, cur
		}
		if g.state.CompareAndSwap(int32(guardPending), int32(guardCalled)) {
			return true, guardPending
		}
	}
}

// release transitions to released from whatever state it was in and
// reports whether call() had already succeeded (i.e. next was invoked).
func (g *guard) release() (called bool) {
	prior := g.state.Swap(int32(guardReleased))
	return guardState(prior) == guardCalled
}
