package handler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterRegistry hands out a token-bucket limiter per key, grounded on
// the teacher's scheduler.TokenBucketLimiter (control_plane/scheduler/
// limiter.go) EnsureLimiter pattern. spec.md §4.6.2 specifies a fixed
// window of `limit` invocations per 60s; the bucket's burst is sized to
// that limit and its refill rate to limit/window so admission behavior
// approximates the fixed window without hand-rolling a window counter
// (see DESIGN.md's open-question entry on keeping golang.org/x/time
// rather than dropping it).
type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	window   time.Duration
}

func newLimiterRegistry(window time.Duration) *limiterRegistry {
	return &limiterRegistry{limiters: make(map[string]*rate.Limiter), window: window}
}

func (r *limiterRegistry) allow(key string, limit int) bool {
	if limit <= 0 {
		return true
	}
	return r.ensure(key, limit).Allow()
}

func (r *limiterRegistry) ensure(key string, limit int) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[key]
	if ok {
		return l
	}
	refillPerSec := float64(limit) / r.window.Seconds()
	l = rate.NewLimiter(rate.Limit(refillPerSec), limit)
	r.limiters[key] = l
	return l
}
