package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/inflatable-cookie/converge/internal/server/auth"
)

// RateLimiter enforces a single (rate, burst) token bucket per caller, keyed
// by the authenticated user id when present and falling back to remote IP
// (e.g. for /bootstrap, which runs ahead of authentication).
type RateLimiter struct {
	perSecond float64
	burst     int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

// NewRateLimiter builds a RateLimiter from the server config's
// RateLimitPerSecond/RateLimitBurst knobs.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	rl := &RateLimiter{perSecond: perSecond, burst: burst, visitors: map[string]*rate.Limiter{}}
	go rl.sweep(10 * time.Minute)
	return rl
}

// Middleware rejects requests exceeding the per-caller bucket with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := rl.limiterFor(callerID(r))
		if !limiter.Allow() {
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limiterFor(id string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.visitors[id]
	if !ok {
		l = rate.NewLimiter(rate.Limit(rl.perSecond), rl.burst)
		rl.visitors[id] = l
	}
	return l
}

func callerID(r *http.Request) string {
	if user, ok := auth.UserFromContext(r.Context()); ok {
		return "user:" + user.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// sweep drops every visitor bucket once per interval; NewRateLimiter starts
// it with a 10-minute interval. Unused visitors are cheap (one
// *rate.Limiter each) so this is a memory-bound, not correctness, concern.
func (rl *RateLimiter) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		rl.visitors = map[string]*rate.Limiter{}
		rl.mu.Unlock()
	}
}
