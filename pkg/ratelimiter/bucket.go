package ratelimiter

import (
	"context"
	"time"
)

// Config bounds a token bucket: Capacity tokens total, refilled at
// RefillRate tokens every RefillInterval.
type Config struct {
	Capacity       int
	RefillRate     int
	RefillInterval time.Duration
}

func (c Config) validate() error {
	if c.Capacity <= 0 || c.RefillRate <= 0 || c.RefillInterval <= 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Store is the pluggable token-bucket backend. ConsumeTokens debits
// tokens unconditionally and reports the resulting balance (which may go
// negative on overdraft) so the caller decides whether the request was
// within budget; Reset clears a key's bucket.
type Store interface {
	ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (remaining int, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
}

// Status reports a bucket's state without consuming tokens, satisfying
// the §6 RateLimiter external interface's status(identifier) shape.
type Status struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Bucket implements the §6 RateLimiter external interface
// (allow(identifier, cost) → bool; status(identifier) → {limit,
// remaining, resetAt}) over a pluggable Store.
type Bucket struct {
	store  Store
	config Config
}

// NewBucket constructs a Bucket. config must have positive Capacity,
// RefillRate, and RefillInterval.
func NewBucket(store Store, config Config) (*Bucket, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Bucket{store: store, config: config}, nil
}

// Allow consumes 1 token for identifier, returning false (without giving
// the token back) if the bucket was already exhausted — overdraft is
// visible to the caller via Status, not silently corrected here.
func (b *Bucket) Allow(ctx context.Context, identifier string) (bool, error) {
	return b.AllowN(ctx, identifier, 1)
}

// AllowN consumes cost tokens for identifier.
func (b *Bucket) AllowN(ctx context.Context, identifier string, cost int) (bool, error) {
	if cost < 0 {
		return false, ErrInvalidTokenCount
	}
	remaining, _, err := b.store.ConsumeTokens(ctx, identifier, cost, b.config)
	if err != nil {
		return false, err
	}
	return remaining >= 0, nil
}

// Status reads identifier's current balance without consuming any
// tokens.
func (b *Bucket) Status(ctx context.Context, identifier string) (Status, error) {
	remaining, resetAt, err := b.store.ConsumeTokens(ctx, identifier, 0, b.config)
	if err != nil {
		return Status{}, err
	}
	return Status{Limit: b.config.Capacity, Remaining: remaining, ResetAt: resetAt}, nil
}

// Reset clears identifier's bucket, restoring full capacity on next use.
func (b *Bucket) Reset(ctx context.Context, identifier string) error {
	return b.store.Reset(ctx, identifier)
}
