// Package pipeline implements C10: end-to-end command dispatch over
// interceptors, back-pressure admission, and a composed middleware chain,
// grounded on the teacher's Dispatcher/Handler registry (core/command
// dispatcher.go, handler.go) generalized from a single process-wide handler
// map plus a fixed decorator stack into a per-invocation chain.Chain with
// cancellation/deadline boundary checks the teacher's select-loop model
// does not need (the teacher dispatches from a channel; the pipeline
// dispatches from a direct call and must itself watch ctx at every
// middleware boundary).
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gifton/pipelinekit/core/backpressure"
	"github.com/gifton/pipelinekit/core/chain"
	"github.com/gifton/pipelinekit/core/errs"
	"github.com/gifton/pipelinekit/core/pipelinectx"
)

// Command is any payload dispatched through the pipeline. CommandName is
// the registry key a Handler is bound to, mirroring the teacher's
// Command.Name / Handler.CommandName idiom.
type Command interface {
	CommandName() string
}

// Handler processes one command type to completion. The teacher's
// per-type Handler.Handle(ctx, payload) narrows to a single payload type
// via reflection at registration time; here the command itself carries
// its name and the pipeline only ever sees the Command interface, so
// handlers type-assert internally.
type Handler interface {
	Handle(ctx context.Context, cmd Command, pctx *pipelinectx.Store) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command, pctx *pipelinectx.Store) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd Command, pctx *pipelinectx.Store) (any, error) {
	return f(ctx, cmd, pctx)
}

// Interceptor is a pure pre-transform applied, in order, before admission
// and the chain. An interceptor that does not recognize the command
// returns it unchanged.
type Interceptor func(ctx context.Context, cmd Command) (Command, error)

// Middleware is the chain participant type bound to (Command, any).
type Middleware = chain.Middleware[Command, any]

// Pipeline is the C10 PipelineExecutor.
type Pipeline struct {
	mu           sync.RWMutex
	handlers     map[string]Handler
	interceptors []Interceptor
	sem          *backpressure.Semaphore
	chain        *chain.Chain[Command, any]
	logger       *slog.Logger
}

// Option configures a Pipeline at construction time.
type Option func(*config)

type config struct {
	interceptors []Interceptor
	middlewares  []Middleware
	sem          *backpressure.Semaphore
	maxDepth     int
	logger       *slog.Logger
}

// WithInterceptors appends pre-transforms applied before admission.
func WithInterceptors(interceptors ...Interceptor) Option {
	return func(c *config) { c.interceptors = append(c.interceptors, interceptors...) }
}

// WithMiddlewares sets the chain's middleware set (C4/C5/C6/C7/C12/C13 and
// any caller-supplied middleware all participate here).
func WithMiddlewares(mws ...Middleware) Option {
	return func(c *config) { c.middlewares = append(c.middlewares, mws...) }
}

// WithSemaphore attaches the back-pressure admission gate (§4.3). Without
// one, Execute admits unconditionally.
func WithSemaphore(sem *backpressure.Semaphore) Option {
	return func(c *config) { c.sem = sem }
}

// WithMaxChainDepth caps the number of middlewares admitted into the
// composed chain.
func WithMaxChainDepth(n int) Option {
	return func(c *config) { c.maxDepth = n }
}

// WithLogger sets the logger used for chain NextGuard diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds a Pipeline. The middleware set is fixed for the pipeline's
// lifetime (building the composed chain is a one-time cost); handlers may
// be registered and replaced at any time via RegisterHandler.
func New(opts ...Option) (*Pipeline, error) {
	cfg := config{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Pipeline{
		handlers:     make(map[string]Handler),
		interceptors: cfg.interceptors,
		sem:          cfg.sem,
		logger:       cfg.logger,
	}

	wrapped := make([]Middleware, len(cfg.middlewares))
	for i, mw := range cfg.middlewares {
		wrapped[i] = boundaryChecked{inner: mw}
	}

	terminal := chain.HandlerFunc[Command, any](p.dispatch)
	chainOpts := []chain.BuildOption{chain.WithLogger(cfg.logger)}
	if cfg.maxDepth > 0 {
		chainOpts = append(chainOpts, chain.WithMaxDepth(cfg.maxDepth))
	}
	c, err := chain.Build(wrapped, terminal, chainOpts...)
	if err != nil {
		return nil, err
	}
	p.chain = c
	return p, nil
}

// RegisterHandler binds name to h. Re-registering a name replaces the
// prior handler; the teacher's WithHandler panics on a duplicate at
// construction time, but the pipeline's registry is mutable for the life
// of the process (handlers may be hot-swapped), so this returns an error
// instead of panicking when replace is false and name is already bound.
func (p *Pipeline) RegisterHandler(name string, h Handler, replace bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.handlers[name]; exists && !replace {
		return errs.New("pipeline.RegisterHandler", errs.KindValidation, nil).
			WithField("reason", "handler already registered").WithField("command", name)
	}
	p.handlers[name] = h
	return nil
}

func (p *Pipeline) dispatch(ctx context.Context, cmd Command, pctx *pipelinectx.Store) (any, error) {
	// The handler entry is the chain's last boundary.
	if err := boundaryErr(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	h, ok := p.handlers[cmd.CommandName()]
	p.mu.RUnlock()
	if !ok {
		return nil, errs.New("pipeline.dispatch", errs.KindExecutionFailed, nil).
			WithField("reason", "no handler registered").WithField("command", cmd.CommandName())
	}
	return h.Handle(ctx, cmd, pctx)
}

// Execute runs the full C10 dispatch sequence: interceptors, admission,
// the composed chain, and token release on every exit path.
func (p *Pipeline) Execute(ctx context.Context, cmd Command, pctx *pipelinectx.Store) (any, error) {
	current := cmd
	for _, ic := range p.interceptors {
		transformed, err := ic(ctx, current)
		if err != nil {
			return nil, fmt.Errorf("pipeline: interceptor failed: %w", err)
		}
		current = transformed
	}

	var token *backpressure.Token
	if p.sem != nil {
		t, err := p.sem.Acquire(ctx, 1)
		if err != nil {
			return nil, err
		}
		token = t
	}
	defer func() {
		if token != nil {
			token.Release()
		}
	}()

	if pctx == nil {
		pctx = pipelinectx.New()
	}

	result, err := p.chain.Execute(ctx, current, pctx)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// boundaryChecked wraps a Middleware with the cancellation/deadline check
// the executor owes at every chain boundary (between the previous guard's
// release and this middleware's entry). It never masks a non-nil error
// from ctx.Err() that isn't Cancelled/DeadlineExceeded, and it delegates
// the optional capability tags so chain.Execute's own detection still
// works through the wrapper.
type boundaryChecked struct {
	inner Middleware
}

func (b boundaryChecked) Priority() int { return b.inner.Priority() }

func (b boundaryChecked) Execute(ctx context.Context, cmd Command, pctx *pipelinectx.Store, next chain.Func[Command, any]) (any, error) {
	if err := boundaryErr(ctx); err != nil {
		return nil, err
	}
	return b.inner.Execute(ctx, cmd, pctx, next)
}

func (b boundaryChecked) UnsafeNext() bool {
	if u, ok := b.inner.(chain.UnsafeNexter); ok {
		return u.UnsafeNext()
	}
	return false
}

func (b boundaryChecked) SuppressMissingNextWarning() bool {
	if s, ok := b.inner.(chain.NextSuppressor); ok {
		return s.SuppressMissingNextWarning()
	}
	return false
}

func (b boundaryChecked) Name() string {
	type named interface{ Name() string }
	if n, ok := b.inner.(named); ok {
		return n.Name()
	}
	return "unknown"
}

func boundaryErr(ctx context.Context) error {
	switch ctx.Err() {
	case nil:
		return nil
	case context.Canceled:
		return errs.New("pipeline.boundary", errs.KindCancelled, ctx.Err())
	case context.DeadlineExceeded:
		e := errs.New("pipeline.boundary", errs.KindDeadlineExceeded, ctx.Err())
		if remaining, ok := remaining(ctx); ok {
			return e.WithField("remaining", remaining)
		}
		return e
	default:
		return ctx.Err()
	}
}

// remaining computes the time left until ctx's deadline, if any. Negative
// once the deadline has passed, which is always true by the time
// boundaryErr calls it for the DeadlineExceeded case.
func remaining(ctx context.Context) (time.Duration, bool) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0, false
	}
	return time.Until(deadline), true
}
