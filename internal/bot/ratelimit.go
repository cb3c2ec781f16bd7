package bot

import (
	"sync"
	"time"
)

// RateLimiter throttles repeated payment actions per user in memory.
type RateLimiter struct {
	mu       sync.Mutex
	lastCall map[int64]map[string]time.Time
	limits   map[string]time.Duration
	exempt   func(int64) bool
	now      func() time.Time
}

func NewRateLimiter(exempt func(int64) bool) *RateLimiter {
	return &RateLimiter{
		lastCall: make(map[int64]map[string]time.Time),
		limits: map[string]time.Duration{
			"pay:start":  3 * time.Second,
			"pay:check":  3 * time.Second,
			"pay:result": time.Second,
			"conn:renew": 10 * time.Second,
		},
		exempt: exempt,
		now:    time.Now,
	}
}

// IsLimited reports whether the user repeated action too soon. A call that is
// not limited is recorded.
func (r *RateLimiter) IsLimited(userID int64, action string) bool {
	if r.exempt != nil && r.exempt(userID) {
		return false
	}
	limit, ok := r.limits[action]
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if r.lastCall[userID] == nil {
		r.lastCall[userID] = make(map[string]time.Time)
	}
	if now.Sub(r.lastCall[userID][action]) < limit {
		return true
	}
	r.lastCall[userID][action] = now
	return false
}
