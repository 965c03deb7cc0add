package broadcast

import (
	"sync"
	"time"
)

// RateLimiter caps per-author chat throughput with a fixed window per author.
// Stroke, scroll, and page traffic is not limited; those are high-frequency
// by nature and bounded by the document surface itself.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	authors map[string]*authorWindow
	checks  int
}

type authorWindow struct {
	count       int
	windowStart time.Time
}

// NewRateLimiter creates a limiter allowing limit events per window per author.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		authors: make(map[string]*authorWindow),
	}
}

// Allow reports whether the author may send another event now.
func (rl *RateLimiter) Allow(authorID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()

	// Lazy cleanup keeps entries for departed authors from accumulating
	// across long-running sessions.
	rl.checks++
	if rl.checks%256 == 0 {
		rl.cleanupLocked(now)
	}

	w, exists := rl.authors[authorID]
	if !exists {
		rl.authors[authorID] = &authorWindow{count: 1, windowStart: now}
		return true
	}

	if now.Sub(w.windowStart) >= rl.window {
		w.count = 1
		w.windowStart = now
		return true
	}

	if w.count >= rl.limit {
		return false
	}
	w.count++
	return true
}

func (rl *RateLimiter) cleanupLocked(now time.Time) {
	for authorID, w := range rl.authors {
		if now.Sub(w.windowStart) > 5*rl.window {
			delete(rl.authors, authorID)
		}
	}
}
