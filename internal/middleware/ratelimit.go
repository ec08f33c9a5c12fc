package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RealIP extracts the client's real IP address, preferring Cloudflare's
// CF-Connecting-IP header, then X-Forwarded-For, and falling back to RemoteAddr.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First IP in the chain is the original client
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// window tracks one key's usage inside a fixed window.
type window struct {
	used    int
	resetAt time.Time
}

// Decision is the outcome of one Take call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the window resets, rounded up to whole
// seconds and never below one.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(math.Ceil(d.ResetAt.Sub(now).Seconds()))
	return max(secs, 1)
}

// RateLimiter counts requests per key in fixed windows, in memory.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Take spends one request from key's allowance of limit per period.
func (rl *RateLimiter) Take(key string, limit int, period time.Duration) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	win, ok := rl.windows[key]
	if !ok || !now.Before(win.resetAt) {
		win = &window{resetAt: now.Add(period)}
		rl.windows[key] = win
	}
	win.used++
	return Decision{
		Allowed:   win.used <= limit,
		Limit:     limit,
		Remaining: max(limit-win.used, 0),
		ResetAt:   win.resetAt,
	}
}

// Allow reports whether key is still within limit for the current period.
func (rl *RateLimiter) Allow(key string, limit int, period time.Duration) bool {
	return rl.Take(key, limit, period).Allowed
}

// Cleanup drops windows that have already reset and returns how many went.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	dropped := 0
	for key, win := range rl.windows {
		if !now.Before(win.resetAt) {
			delete(rl.windows, key)
			dropped++
		}
	}
	return dropped
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (rl *RateLimiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// RateLimit allows limit requests per period for each keyFunc key. Every
// response carries X-RateLimit-Limit, -Remaining and -Reset (unix seconds);
// refusals are a JSON 429 with Retry-After.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, limit int, period time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Take(keyFunc(r), limit, period)
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				h.Set("Retry-After", strconv.Itoa(d.RetryAfter(limiter.now())))
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
