// Package middleware provides rate limiting and request logging for the
// forecast core's outward-facing endpoints.
//
// This file implements a token-bucket rate limiter keyed by subject ID,
// used to bound how often a single subject can force forecast recomputation.
//
// Design Notes:
//   - Token bucket allows bursts up to bucket capacity
//   - Refill happens on-demand during Allow() calls (no background goroutines)
//   - Uses sync.Map for per-key buckets (concurrent access)
//   - Uses sync/atomic for lock-free token operations
//
// Algorithm:
//   - Tokens refill at constant rate (refillRate tokens/second)
//   - Max tokens = bucketSize
//   - Each request consumes 1 token
//   - Request blocked if tokens < 1
//
// Trade-offs:
//   - Token bucket vs leaky bucket: chose token for burst support
//   - Per-key state vs shared: chose per-key for subject isolation
//   - Lazy refill vs background: chose lazy to avoid goroutines
//   - Memory: O(N) where N = number of unique keys; EvictStaleKeys bounds it
package middleware

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// TokenBucket implements a per-key token bucket rate limiter.
//
// Example usage:
//
//	// 2 rebuilds per second per subject, burst of 5
//	limiter := NewTokenBucket(2, 5)
//
//	if !limiter.Allow(subjectID) {
//	    // serve from cache only, refuse recompute
//	}
type TokenBucket struct {
	refillRate float64 // Tokens per second
	bucketSize int64   // Maximum tokens

	// Per-key buckets stored in sync.Map
	// Key: string, Value: *bucket
	buckets sync.Map

	// Global bucket for AllowGlobal()
	globalBucket *bucket
}

// bucket represents a single token bucket.
type bucket struct {
	tokens     int64 // Current token count (atomic)
	lastRefill int64 // Last refill timestamp in nanoseconds (atomic)
	maxTokens  int64
	refillRate float64
}

// NewTokenBucket creates a new token bucket rate limiter.
//
// Parameters:
//   - refillRate: Tokens added per second
//   - bucketSize: Maximum tokens (burst capacity)
func NewTokenBucket(refillRate float64, bucketSize int64) *TokenBucket {
	if refillRate <= 0 {
		panic("refillRate must be positive")
	}
	if bucketSize <= 0 {
		panic("bucketSize must be positive")
	}

	return &TokenBucket{
		refillRate: refillRate,
		bucketSize: bucketSize,
		globalBucket: &bucket{
			tokens:     bucketSize,
			lastRefill: time.Now().UnixNano(),
			maxTokens:  bucketSize,
			refillRate: refillRate,
		},
	}
}

// Allow checks if a request for the given key is allowed.
// Returns true if allowed, false if rate limited.
//
// Thread-safe, lock-free on the hot path.
// Complexity: O(1) amortized
func (tb *TokenBucket) Allow(key string) bool {
	if key == "" {
		return false
	}
	return tb.getOrCreateBucket(key).tryConsume(1)
}

// AllowGlobal checks a request against the global limit, regardless of key.
func (tb *TokenBucket) AllowGlobal() bool {
	return tb.globalBucket.tryConsume(1)
}

// AllowN checks if N tokens can be consumed for the given key.
// Useful for operations with variable cost (e.g., weekly = 7 daily builds).
func (tb *TokenBucket) AllowN(key string, n int) bool {
	if key == "" || n <= 0 {
		return false
	}
	return tb.getOrCreateBucket(key).tryConsume(int64(n))
}

// getOrCreateBucket returns the bucket for a key, creating it if needed.
func (tb *TokenBucket) getOrCreateBucket(key string) *bucket {
	if b, ok := tb.buckets.Load(key); ok {
		return b.(*bucket)
	}

	newBucket := &bucket{
		tokens:     tb.bucketSize,
		lastRefill: time.Now().UnixNano(),
		maxTokens:  tb.bucketSize,
		refillRate: tb.refillRate,
	}

	actual, _ := tb.buckets.LoadOrStore(key, newBucket)
	return actual.(*bucket)
}

// tryConsume attempts to consume n tokens, refilling lazily first.
func (b *bucket) tryConsume(n int64) bool {
	now := time.Now().UnixNano()

	for {
		last := atomic.LoadInt64(&b.lastRefill)
		tokens := atomic.LoadInt64(&b.tokens)

		// Lazy refill based on elapsed time
		elapsed := time.Duration(now - last)
		refill := int64(elapsed.Seconds() * b.refillRate)

		newTokens := tokens + refill
		if newTokens > b.maxTokens {
			newTokens = b.maxTokens
		}

		if newTokens < n {
			return false
		}

		// Only advance lastRefill when tokens were actually added,
		// otherwise fractional refills would be lost forever.
		newLast := last
		if refill > 0 {
			newLast = now
		}

		if atomic.CompareAndSwapInt64(&b.tokens, tokens, newTokens-n) {
			atomic.StoreInt64(&b.lastRefill, newLast)
			return true
		}
		// CAS lost a race, retry.
	}
}

// CurrentTokens returns the current token count without consuming.
func (b *bucket) CurrentTokens() int64 {
	return atomic.LoadInt64(&b.tokens)
}

// Stats summarizes limiter state for observability endpoints.
type Stats struct {
	TrackedKeys  int   `json:"tracked_keys"`
	GlobalTokens int64 `json:"global_tokens"`
}

// GetStats returns current limiter statistics.
func (tb *TokenBucket) GetStats() Stats {
	count := 0
	tb.buckets.Range(func(_, _ any) bool {
		count++
		return true
	})

	return Stats{
		TrackedKeys:  count,
		GlobalTokens: tb.globalBucket.CurrentTokens(),
	}
}

// EvictStaleKeys removes buckets that have not refilled within staleDuration.
// Returns the number of evicted keys. Call periodically to bound memory.
func (tb *TokenBucket) EvictStaleKeys(staleDuration time.Duration) int {
	cutoff := time.Now().Add(-staleDuration).UnixNano()
	evicted := 0

	tb.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		if atomic.LoadInt64(&b.lastRefill) < cutoff {
			tb.buckets.Delete(key)
			evicted++
		}
		return true
	})

	return evicted
}

func (tb *TokenBucket) String() string {
	return fmt.Sprintf("TokenBucket(rate=%.1f/s, size=%d, keys=%d)",
		tb.refillRate, tb.bucketSize, tb.GetStats().TrackedKeys)
}
