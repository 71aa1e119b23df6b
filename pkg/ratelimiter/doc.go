// Package ratelimiter provides token bucket rate limiting with pluggable storage backends.
//
// This package implements the token bucket algorithm with configurable capacity, refill rates,
// and supports both single and bulk token consumption with detailed status reporting. It's
// designed for high-performance rate limiting in web applications, APIs, and microservices.
//
// # Token Bucket Algorithm
//
// The token bucket algorithm works by:
//  1. Maintaining a bucket with a fixed capacity of tokens
//  2. Adding tokens to the bucket at a constant rate (refill rate)
//  3. Consuming tokens when requests are made
//  4. Allowing requests only when sufficient tokens are available
//  5. Dropping tokens that exceed bucket capacity (burst control)
//
// This algorithm naturally supports burst traffic while maintaining average rate limits.
//
// # Core Types
//
// Bucket is the rate limiter:
//   - Allow(ctx, key): consume 1 token
//   - AllowN(ctx, key, n): consume n tokens
//
// It comes with:
//   - Configurable capacity and refill parameters
//   - Pluggable storage backends (memory, Redis, etc.)
//   - Status checking without token consumption
//   - Reset capability for administrative overrides
//
// # Usage
//
// Basic rate limiter setup:
//
//	// Create in-memory storage
//	store := ratelimiter.NewMemoryStore()
//
//	// Configure bucket: 100 tokens capacity, refill 10 per second
//	config := ratelimiter.Config{
//		Capacity:       100,
//		RefillRate:     10,
//		RefillInterval: time.Second,
//	}
//
//	limiter, err := ratelimiter.NewBucket(store, config)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Single token consumption:
//
//	allowed, err := limiter.Allow(ctx, "user:123")
//	if err != nil {
//		log.Printf("Rate limiter error: %v", err)
//		return
//	}
//
//	if !allowed {
//		log.Printf("Rate limited")
//		return
//	}
//
//	// Request allowed, continue processing
//
// Bulk token consumption:
//
//	// Consume 5 tokens for batch operation
//	allowed, err := limiter.AllowN(ctx, "batch:upload", 5)
//	if err != nil {
//		log.Printf("Rate limiter error: %v", err)
//		return
//	}
//
//	if !allowed {
//		log.Printf("Insufficient tokens for batch:upload")
//		return
//	}
//
// # HTTP Middleware Example
//
//	func RateLimitMiddleware(limiter *ratelimiter.Bucket) func(http.Handler) http.Handler {
//		return func(next http.Handler) http.Handler {
//			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//				// Use client IP as rate limit key
//				key := clientip.GetIP(r)
//
//				status, err := limiter.Status(r.Context(), key)
//				if err != nil {
//					http.Error(w, "Internal error", http.StatusInternalServerError)
//					return
//				}
//
//				// Set rate limit headers
//				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.Limit))
//				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
//				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetAt.Unix(), 10))
//
//				allowed, err := limiter.Allow(r.Context(), key)
//				if err != nil {
//					http.Error(w, "Internal error", http.StatusInternalServerError)
//					return
//				}
//				if !allowed {
//					http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
//					return
//				}
//
//				next.ServeHTTP(w, r)
//			})
//		}
//	}
//
// # Configuration Examples
//
// API rate limiting (100 requests per minute):
//
//	config := ratelimiter.Config{
//		Capacity:       100,           // Allow bursts up to 100 requests
//		RefillRate:     100,           // Add 100 tokens
//		RefillInterval: time.Minute,   // Every minute
//	}
//
// Strict rate limiting (1 request per second, no burst):
//
//	config := ratelimiter.Config{
//		Capacity:       1,             // No burst allowed
//		RefillRate:     1,             // Add 1 token
//		RefillInterval: time.Second,   // Every second
//	}
//
// High-throughput API (1000 requests per second with burst):
//
//	config := ratelimiter.Config{
//		Capacity:       5000,          // Allow large bursts
//		RefillRate:     1000,          // Add 1000 tokens
//		RefillInterval: time.Second,   // Every second
//	}
//
// # Storage Backends
//
// Memory Store (single instance):
//
//	store := ratelimiter.NewMemoryStore()
//	// Pros: Fast, no external dependencies
//	// Cons: Not shared across instances, lost on restart
//
// Redis Store (distributed):
//
//	// Implementation would extend the Store interface
//	// Pros: Shared across instances, persistent
//	// Cons: Network latency, external dependency
//
// # Performance Characteristics
//
// Memory store performance:
//   - Allow operation: ~500ns-2µs
//   - AllowN operation: ~500ns-2µs
//   - Memory usage: ~200 bytes per key
//   - Cleanup: Automatic expiration of unused keys
//
// Scaling considerations:
//   - Memory store: Single instance, ~1M operations/sec
//   - Redis store: Distributed, ~10K-100K operations/sec
//   - Key cleanup prevents unbounded memory growth
//
// # Advanced Usage
//
// Status checking without consumption:
//
//	// Check current status without consuming tokens
//	status, err := limiter.Status(ctx, "user:123")
//	if err != nil {
//		log.Printf("Status check failed: %v", err)
//		return
//	}
//
//	log.Printf("Current tokens: %d/%d, reset at: %v",
//		status.Remaining, status.Limit, status.ResetAt)
//
// Administrative reset:
//
//	// Reset bucket for a specific key (admin operation)
//	err := limiter.Reset(ctx, "user:123")
//	if err != nil {
//		log.Printf("Reset failed: %v", err)
//	}
//
// # Error Handling
//
// The package defines specific error types:
//   - ErrInvalidConfig: Invalid rate limiting parameters
//   - ErrInvalidTokenCount: Invalid token count (must not be negative)
//
// Storage backend errors are propagated as-is for handling by the application.
//
// # Best Practices
//
// Key selection:
//   - User-based: "user:" + userID
//   - IP-based: client IP address
//   - API key-based: "api:" + apiKey
//   - Route-based: "route:" + httpMethod + path
//
// Configuration guidelines:
//   - Set capacity 2-5x normal request rate for burst handling
//   - Use shorter refill intervals for smoother rate limiting
//   - Monitor and adjust based on actual traffic patterns
//
// Error handling:
//   - Always check the returned bool before proceeding
//   - Use Status for client-facing retry guidance (limit/remaining/resetAt)
//   - Log rate limiter errors for monitoring
//   - Implement fallback behavior for storage failures
//
// # Monitoring Integration
//
//	// Metrics collection example
//	func (rl *instrumentedLimiter) Allow(ctx context.Context, key string) (bool, error) {
//		start := time.Now()
//		allowed, err := rl.limiter.Allow(ctx, key)
//
//		// Record metrics
//		latency := time.Since(start)
//		metrics.RecordRateLimitLatency(latency)
//
//		if err != nil {
//			metrics.IncRateLimitErrors()
//		} else if !allowed {
//			metrics.IncRateLimitRejects()
//		} else {
//			metrics.IncRateLimitAllows()
//		}
//
//		return allowed, err
//	}
package ratelimiter
