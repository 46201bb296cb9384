// Package ratelimit tracks each provider credential's remaining API quota
// in process memory. It is the only synchronization primitive an adapter
// exposes to the Polling Scheduler: the scheduler never talks to the
// provider directly, it only asks a TokenBucket whether a call is safe.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket holds the last known rate-limit state for one credential. Zero
// value is usable and reports Unknown until the first Update.
type TokenBucket struct {
	mu        sync.Mutex
	remaining int
	limit     int
	resetAt   time.Time
	known     bool
}

// Update records the remaining/limit/reset values parsed from a provider's
// rate-limit response headers (or, for Bitbucket Cloud, a locally estimated
// decrement). Calling Update marks the bucket as known.
func (b *TokenBucket) Update(remaining, limit int, resetAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = remaining
	b.limit = limit
	b.resetAt = resetAt
	b.known = true
}

// Consume decrements the locally tracked remaining count by one, used by
// providers (Bitbucket Cloud) that expose no rate-limit headers at all. It
// is a no-op until the bucket has been seeded with an initial estimate via
// Seed.
func (b *TokenBucket) Consume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.known && b.remaining > 0 {
		b.remaining--
	}
}

// Seed initializes an estimated bucket for a provider with no rate-limit
// signal, resetting on a fixed window (e.g. Bitbucket Cloud's ~1000 req/hr).
func (b *TokenBucket) Seed(limit int, window time.Duration, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remaining = limit
	b.limit = limit
	b.resetAt = now.Add(window)
	b.known = true
}

// Status is the normalized snapshot an adapter's RateLimitStatus returns.
type Status struct {
	Remaining int
	Limit     int
	ResetAt   time.Time
	Unknown   bool
}

// Status returns the bucket's current view.
func (b *TokenBucket) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known {
		return Status{Unknown: true}
	}
	return Status{Remaining: b.remaining, Limit: b.limit, ResetAt: b.resetAt}
}

// Allow reports whether a call is safe given a minimum safety threshold of
// remaining budget, and resets the bucket's window if resetAt has passed.
func (b *TokenBucket) Allow(safetyThreshold int, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known {
		return true
	}
	if !b.resetAt.IsZero() && now.After(b.resetAt) {
		return true
	}
	return b.remaining > safetyThreshold
}

// ResetAt returns the bucket's current reset time.
func (b *TokenBucket) ResetAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetAt
}
