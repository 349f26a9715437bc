package completion

import (
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the maximum number of summarization calls allowed
	// per conversation per minute when no explicit limit is configured.
	DefaultRateLimit = 6

	defaultRateLimitWindow = time.Minute
)

// RateLimiter enforces a per-key sliding-window limit on completion calls.
// Keys are conversation IDs.
//
// Memory stays bounded to O(limit) timestamps per active key; stale entries
// are pruned on every call.  Safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	counters map[string][]time.Time
}

// NewRateLimiter returns a RateLimiter that allows at most limit calls per
// key within window.  Non-positive values select the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string][]time.Time),
	}
}

// Allow reports whether key may make another call and, if so, records it.
//
//	if !limiter.Allow(conversationID) {
//	    cfg.EnableSummarization = false
//	}
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.prune(key, now)
	if len(valid) >= r.limit {
		r.counters[key] = valid
		return false
	}
	r.counters[key] = append(valid, now)
	return true
}

// Remaining returns the number of calls key can still make in the current
// window.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	valid := r.prune(key, r.now())
	if len(valid) == 0 {
		delete(r.counters, key)
	} else {
		r.counters[key] = valid
	}
	if rem := r.limit - len(valid); rem > 0 {
		return rem
	}
	return 0
}

// prune must be called with r.mu held.
func (r *RateLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.counters[key]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
