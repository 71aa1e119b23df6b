package logger

import "log/slog"

// The attributes below extend the set above with kernel-specific fields
// (circuit breaker state, queue depth, retry attempt number, cache
// outcome) used by the resilience and caching middleware. They follow the
// same nil/zero-safe Attr pattern as the rest of this package.

// BreakerState creates an attribute for a circuit breaker's current state
// (closed/open/half_open).
func BreakerState(state string) slog.Attr {
	return slog.String("breaker_state", state)
}

// QueueDepth creates an attribute for a bounded queue's current backlog,
// used by the back-pressure semaphore and the audit logger alike.
func QueueDepth(depth int) slog.Attr {
	return slog.Int("queue_depth", depth)
}

// Attempt creates an attribute for a retry engine's current attempt
// number (1-indexed).
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// CacheOutcome creates an attribute for a cache coordinator's per-call
// outcome (hit/miss/softMiss/bypass).
func CacheOutcome(outcome string) slog.Attr {
	return slog.String("cache_outcome", outcome)
}
