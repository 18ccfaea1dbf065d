package connection

import (
	"sync"
	"time"
)

// Rate limiting defaults: 5 session-creation attempts per identifier
// inside a 300 second sliding window.
const (
	DefaultRateLimitAttempts = 5
	DefaultRateLimitWindow   = 300 * time.Second
)

// RateLimiter bounds session-creation attempts per (hostname, username)
// identifier within a sliding window. State for an identifier is pruned
// lazily on the first check after the window has passed.
type RateLimiter struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	attempts    map[string][]time.Time
	nowFn       func() time.Time // injectable clock for testing
}

// NewRateLimiter creates a RateLimiter allowing maxAttempts per window.
// Non-positive arguments fall back to the defaults.
func NewRateLimiter(maxAttempts int, window time.Duration) *RateLimiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultRateLimitAttempts
	}
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[string][]time.Time),
		nowFn:       time.Now,
	}
}

// Allow records an attempt for key and returns nil, or returns a
// *RateLimitedError without recording when the key is over its budget.
func (rl *RateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFn()
	cutoff := now.Add(-rl.window)

	recent := rl.attempts[key][:0]
	for _, t := range rl.attempts[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.maxAttempts {
		rl.attempts[key] = recent
		return &RateLimitedError{
			Key:        key,
			Attempts:   len(recent),
			RetryAfter: recent[0].Add(rl.window).Sub(now),
		}
	}

	rl.attempts[key] = append(recent, now)
	return nil
}

// Reset clears all recorded attempts for key.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}
