package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles refresh requests per client address so a busy
// dashboard cannot hammer the upstream feeds.
type RateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows rps requests per second per client with the given
// burst.
func NewRateLimiter(rps, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.RLock()
	l, ok := rl.limiters[key]
	rl.mu.RUnlock()
	if ok {
		return l
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	// Double-check in case another goroutine created it.
	if l, ok := rl.limiters[key]; ok {
		return l
	}
	l = rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters[key] = l
	return l
}

// Middleware rejects requests over the limit with 429. Clients are keyed
// by RemoteAddr, which RealIP has already resolved.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.limiter(r.RemoteAddr).Allow() {
			writeError(w, "too many refresh requests, try again shortly", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
