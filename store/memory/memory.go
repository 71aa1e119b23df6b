// Package memory provides in-process reference adapters for the cache,
// idempotency, and dedup store contracts, grounded on the teacher's
// pkg/ratelimiter.MemoryStore idiom: a single RWMutex guarding a map, a
// configurable background cleanup loop started via Run, and atomic
// counters for observability.
package memory

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gifton/pipelinekit/core/idempotency"
)

// cacheEntry is one stored cache payload.
type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// CacheStore is an in-memory implementation of cache.Store.
type CacheStore struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry

	cleanupInterval time.Duration
	logger          *slog.Logger

	evictions atomic.Int64
}

// CacheStoreOption configures a CacheStore.
type CacheStoreOption func(*CacheStore)

// WithCacheCleanupInterval sets the expired-entry sweep interval. 0
// disables the background sweep.
func WithCacheCleanupInterval(d time.Duration) CacheStoreOption {
	return func(s *CacheStore) { s.cleanupInterval = d }
}

// WithCacheLogger sets the store's logger.
func WithCacheLogger(logger *slog.Logger) CacheStoreOption {
	return func(s *CacheStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewCacheStore constructs an empty CacheStore.
func NewCacheStore(opts ...CacheStoreOption) *CacheStore {
	s := &CacheStore{
		entries:         make(map[string]cacheEntry),
		cleanupInterval: 5 * time.Minute,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok || entry.expired(time.Now()) {
		return nil, false, nil
	}
	return entry.data, true, nil
}

func (s *CacheStore) Set(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cacheEntry{data: data, expiresAt: expiresAt}
	return nil
}

func (s *CacheStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *CacheStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]cacheEntry)
	return nil
}

// Run starts the background sweep of expired entries; it blocks until ctx
// is cancelled. A no-op if cleanupInterval <= 0.
func (s *CacheStore) Run(ctx context.Context) func() error {
	return func() error {
		if s.cleanupInterval <= 0 {
			<-ctx.Done()
			return nil
		}
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.sweep()
			}
		}
	}
}

func (s *CacheStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, k)
			s.evictions.Add(1)
		}
	}
}

// IdempotencyStore is an in-memory implementation of idempotency.Store.
type IdempotencyStore struct {
	mu      sync.RWMutex
	records map[string]idempotency.Record
}

// NewIdempotencyStore constructs an empty IdempotencyStore.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{records: make(map[string]idempotency.Record)}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (idempotency.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return idempotency.Record{}, false, nil
	}
	if !rec.ExpiresAt.IsZero() && time.Now().After(rec.ExpiresAt) {
		return idempotency.Record{}, false, nil
	}
	return rec, true, nil
}

func (s *IdempotencyStore) Set(ctx context.Context, key string, rec idempotency.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = rec
	return nil
}

func (s *IdempotencyStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *IdempotencyStore) CleanupExpired(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for k, rec := range s.records {
		if !rec.ExpiresAt.IsZero() && now.After(rec.ExpiresAt) {
			delete(s.records, k)
		}
	}
	return nil
}

type dedupEntry struct {
	value       []byte
	completedAt time.Time
}

// DedupStore is an in-memory implementation of dedup.Store.
type DedupStore struct {
	mu      sync.RWMutex
	entries map[string]dedupEntry
}

// NewDedupStore constructs an empty DedupStore.
func NewDedupStore() *DedupStore {
	return &DedupStore{entries: make(map[string]dedupEntry)}
}

func (s *DedupStore) Get(ctx context.Context, fingerprint string) ([]byte, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[fingerprint]
	if !ok {
		return nil, time.Time{}, false, nil
	}
	return e.value, e.completedAt, true, nil
}

func (s *DedupStore) Set(ctx context.Context, fingerprint string, value []byte, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[fingerprint] = dedupEntry{value: value, completedAt: completedAt}
	return nil
}

func (s *DedupStore) Remove(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, fingerprint)
	return nil
}

// Sweep removes every entry whose completedAt is before cutoff, returning
// the count removed.
func (s *DedupStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.entries {
		if e.completedAt.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed, nil
}
