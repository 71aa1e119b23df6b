// Package cache implements C13: the CacheCoordinator middleware, replacing
// the teacher's in-process NewLRUCache (core/cache/doc.go's LRU) with a
// keyed memoization layer fronting a pluggable byte-oriented backend and an
// optional golang.org/x/sync/singleflight collapse of concurrent misses,
// grounded on the same singleflight idiom used by core/idempotency.
package cache

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/gifton/pipelinekit/core/chain"
	"github.com/gifton/pipelinekit/core/logger"
	"github.com/gifton/pipelinekit/core/pipelinectx"
)

// Store is the backing byte store contract from spec §6: get/set/remove/
// clear over opaque byte payloads. Concrete adapters (store/memory,
// store/redis, ...) implement this.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, data []byte, expiresAt time.Time) error
	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// Codec converts a Result to and from its cached byte representation.
// Caller-supplied, since the coordinator is generic over R.
type Codec[R any] interface {
	Encode(result R) ([]byte, error)
	Decode(data []byte) (R, error)
}

// KeyGenerator computes the cache key for a command.
type KeyGenerator[C any] func(cmd C) string

// ShouldCache decides whether a command participates in caching at all.
// A nil ShouldCache caches everything.
type ShouldCache[C any] func(cmd C) bool

// Config configures a Coordinator.
type Config[C any, R any] struct {
	TTL          time.Duration
	KeyGenerator KeyGenerator[C]
	ShouldCache  ShouldCache[C]
	Codec        Codec[R]
	SingleFlight bool
	Logger       *slog.Logger
}

// Coordinator is the C13 CacheCoordinator.
type Coordinator[C any, R any] struct {
	cfg    Config[C, R]
	store  Store
	sf     singleflight.Group
	logger *slog.Logger
}

// New constructs a Coordinator over store.
func New[C any, R any](store Store, cfg Config[C, R]) *Coordinator[C, R] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator[C, R]{cfg: cfg, store: store, logger: logger}
}

// Execute runs the cache-aside protocol from spec §4.13: bypass check,
// key generation, hit/decode, miss/compute (optionally single-flighted),
// and best-effort store-on-success.
func (c *Coordinator[C, R]) Execute(ctx context.Context, cmd C, pctx *pipelinectx.Store, next func(context.Context, C, *pipelinectx.Store) (R, error)) (R, error) {
	if c.cfg.ShouldCache != nil && !c.cfg.ShouldCache(cmd) {
		c.logger.DebugContext(ctx, "cache bypassed", logger.CacheOutcome("bypass"))
		return next(ctx, cmd, pctx)
	}

	key := c.cfg.KeyGenerator(cmd)

	if data, ok, err := c.store.Get(ctx, key); err == nil && ok {
		result, decErr := c.cfg.Codec.Decode(data)
		if decErr == nil {
			c.logger.DebugContext(ctx, "cache hit", logger.Key("key", key), logger.CacheOutcome("hit"))
			return result, nil
		}
		c.logger.WarnContext(ctx, "cache decode failed, treating as soft miss",
			logger.Key("key", key), logger.Error(decErr), logger.CacheOutcome("softMiss"))
	}

	compute := func() (R, error) { return next(ctx, cmd, pctx) }

	var result R
	var err error
	if c.cfg.SingleFlight {
		v, sfErr, _ := c.sf.Do(key, func() (any, error) {
			r, e := compute()
			return sfResult[R]{value: r, err: e}, e
		})
		wrapped := v.(sfResult[R])
		result, err = wrapped.value, wrapped.err
		_ = sfErr
	} else {
		result, err = compute()
	}
	if err != nil {
		return result, err
	}

	if data, encErr := c.cfg.Codec.Encode(result); encErr == nil {
		expiresAt := time.Time{}
		if c.cfg.TTL > 0 {
			expiresAt = time.Now().Add(c.cfg.TTL)
		}
		if setErr := c.store.Set(ctx, key, data, expiresAt); setErr != nil {
			c.logger.WarnContext(ctx, "cache store failed", logger.Key("key", key), logger.Error(setErr))
		} else {
			c.logger.DebugContext(ctx, "cache miss, result stored", logger.Key("key", key), logger.CacheOutcome("miss"))
		}
	} else {
		c.logger.WarnContext(ctx, "cache encode failed, result not cached",
			logger.Key("key", key), logger.Error(encErr))
	}

	return result, nil
}

type sfResult[R any] struct {
	value R
	err   error
}

// Middleware adapts Coordinator to chain.Middleware[C, R] at a fixed
// priority (typically PriorityPreProcessing, ahead of dedup/handler).
type Middleware[C any, R any] struct {
	*Coordinator[C, R]
	priority int
}

// NewMiddleware wraps a Coordinator as a prioritized chain.Middleware.
func NewMiddleware[C any, R any](coordinator *Coordinator[C, R], priority int) Middleware[C, R] {
	return Middleware[C, R]{Coordinator: coordinator, priority: priority}
}

func (m Middleware[C, R]) Priority() int { return m.priority }

func (m Middleware[C, R]) Execute(ctx context.Context, cmd C, pctx *pipelinectx.Store, next chain.Func[C, R]) (R, error) {
	return m.Coordinator.Execute(ctx, cmd, pctx, func(ctx context.Context, cmd C, pctx *pipelinectx.Store) (R, error) {
		return next(ctx, cmd, pctx)
	})
}

// SuppressMissingNextWarning is always true: a cache hit is the expected,
// frequent reason next is never called.
func (m Middleware[C, R]) SuppressMissingNextWarning() bool { return true }
