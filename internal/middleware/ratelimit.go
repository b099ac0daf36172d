package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/twogether/internal/auth"
)

// RealIP returns the client address, trusting CF-Connecting-IP and then the
// first X-Forwarded-For hop only when they hold a parseable IP.
func RealIP(r *http.Request) string {
	if ip := parseIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
	if ip := parseIP(first); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}

// ByAccount keys a request by its authenticated account. It must run behind
// RequireAuth; anonymous requests fall back to the client IP.
func ByAccount(r *http.Request) string {
	if id := auth.AccountID(r.Context()); id != 0 {
		return "account:" + strconv.FormatInt(id, 10)
	}
	return "ip:" + RealIP(r)
}

// Policy is one throttle: at most Limit charged requests per Window for
// each key.
type Policy struct {
	// Name separates the budgets of policies sharing a RateLimiter.
	Name   string
	Limit  int
	Window time.Duration
	Key    func(*http.Request) string
	// FailuresOnly charges a request only when the handler answers 4xx.
	FailuresOnly bool
}

type bucket struct {
	hits    int
	resetAt time.Time
}

// RateLimiter keeps fixed-window hit counters in memory.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow charges one hit to key and reports whether key is still within limit.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.chargeLocked(key, window) <= limit
}

// Charge records one hit against key without checking a limit.
func (rl *RateLimiter) Charge(key string, window time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.chargeLocked(key, window)
}

// Exhausted reports whether key has already used limit hits in its current
// window and, if so, how long until the window resets.
func (rl *RateLimiter) Exhausted(key string, limit int) (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[key]
	now := rl.now()
	if !ok || !now.Before(b.resetAt) || b.hits < limit {
		return 0, false
	}
	return b.resetAt.Sub(now), true
}

func (rl *RateLimiter) chargeLocked(key string, window time.Duration) int {
	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(window)}
		rl.buckets[key] = b
	}
	b.hits++
	return b.hits
}

// Cleanup drops buckets whose window has ended.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, b := range rl.buckets {
		if !now.Before(b.resetAt) {
			delete(rl.buckets, key)
		}
	}
}

// Middleware enforces p. Rejected requests get 429 with a Retry-After header.
func (rl *RateLimiter) Middleware(p Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := p.Name + "|" + p.Key(r)

			if wait, ok := rl.Exhausted(key, p.Limit); ok {
				tooManyRequests(w, wait)
				return
			}

			if !p.FailuresOnly {
				if !rl.Allow(key, p.Limit, p.Window) {
					tooManyRequests(w, p.Window)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			if rec.status >= 400 && rec.status < 500 {
				rl.Charge(key, p.Window)
			}
		})
	}
}

func tooManyRequests(w http.ResponseWriter, wait time.Duration) {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "RateLimited", "too many requests")
}
