// Package redis adapts redis/go-redis/v9 into the cache and idempotency
// store contracts, grounded on the teacher's integration/database/redis
// Config/Connect idiom: a connection URL parsed with redis.ParseURL, a
// bounded number of connection retries with a fixed interval, and a Ping
// health check before the client is handed back to the caller.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gifton/pipelinekit/core/idempotency"
)

// Config mirrors the teacher's redis.Config field set and env mapping.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL,required"`
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"5s"`
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"30s"`
}

var ErrEmptyConnectionURL = errors.New("empty redis connection URL")

// Connect parses cfg.ConnectionURL and returns a ready *redis.Client,
// retrying the initial Ping up to cfg.RetryAttempts times.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.ConnectionURL == "" {
		return nil, ErrEmptyConnectionURL
	}

	opts, err := redis.ParseURL(cfg.ConnectionURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse connection url: %w", err)
	}

	client := redis.NewClient(opts)

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = client.Ping(pingCtx).Err(); lastErr == nil {
			return client, nil
		}
		select {
		case <-pingCtx.Done():
			return nil, fmt.Errorf("redis: did not become ready: %w", pingCtx.Err())
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("redis: did not become ready after %d attempts: %w", attempts, lastErr)
}

// Healthcheck returns a function suitable for readiness probes.
func Healthcheck(client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: healthcheck failed: %w", err)
		}
		return nil
	}
}

// CacheStore is a redis-backed cache.Store implementation. Expiry is
// delegated to Redis's native TTL; a zero expiresAt means "no expiry".
type CacheStore struct {
	client *redis.Client
	prefix string
}

// NewCacheStore wraps client with an optional key prefix.
func NewCacheStore(client *redis.Client, prefix string) *CacheStore {
	return &CacheStore{client: client, prefix: prefix}
}

func (s *CacheStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache: get: %w", err)
	}
	return data, true, nil
}

func (s *CacheStore) Set(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	ttl := time.Duration(0)
	if !expiresAt.IsZero() {
		ttl = time.Until(expiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: set: %w", err)
	}
	return nil
}

func (s *CacheStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis cache: remove: %w", err)
	}
	return nil
}

func (s *CacheStore) Clear(ctx context.Context) error {
	pattern := s.key("*")
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis cache: clear scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis cache: clear: %w", err)
	}
	return nil
}

// IdempotencyStore is a redis-backed idempotency.Store. Records are
// stored as JSON through recordCodec; Record.Value is an opaque any, so
// callers whose Value must survive a Redis round trip should keep it
// JSON-marshalable.
type IdempotencyStore struct {
	client *redis.Client
	prefix string
	codec  recordCodec
}

// NewIdempotencyStore wraps client with an optional key prefix.
func NewIdempotencyStore(client *redis.Client, prefix string) *IdempotencyStore {
	return &IdempotencyStore{client: client, prefix: prefix, codec: recordCodec{}}
}

func (s *IdempotencyStore) key(k string) string {
	if s.prefix == "" {
		return "idempotency:" + k
	}
	return s.prefix + ":" + k
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (idempotency.Record, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return idempotency.Record{}, false, nil
	}
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("redis idempotency: get: %w", err)
	}
	rec, err := s.codec.decode(data)
	if err != nil {
		return idempotency.Record{}, false, fmt.Errorf("redis idempotency: decode: %w", err)
	}
	return rec, true, nil
}

func (s *IdempotencyStore) Set(ctx context.Context, key string, rec idempotency.Record) error {
	data, err := s.codec.encode(rec)
	if err != nil {
		return fmt.Errorf("redis idempotency: encode: %w", err)
	}
	ttl := time.Duration(0)
	if !rec.ExpiresAt.IsZero() {
		ttl = time.Until(rec.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency: set: %w", err)
	}
	return nil
}

func (s *IdempotencyStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis idempotency: remove: %w", err)
	}
	return nil
}

// CleanupExpired is a no-op: Redis TTLs reclaim expired keys natively.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) error {
	return nil
}
