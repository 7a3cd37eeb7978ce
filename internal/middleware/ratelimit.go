package middleware

import (
	"encoding/json"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const defaultSweepInterval = 60 * time.Second

// Decision is the result of a rate limit check
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// RetryAfterMs rounds RetryAfter up to whole milliseconds
func (d Decision) RetryAfterMs() int64 {
	return int64(math.Ceil(float64(d.RetryAfter) / float64(time.Millisecond)))
}

// RetryAfterHeader renders RetryAfter as a Retry-After header value (whole seconds, rounded up)
func (d Decision) RetryAfterHeader() string {
	return strconv.FormatInt(int64(math.Ceil(d.RetryAfter.Seconds())), 10)
}

type rateLimitEntry struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a process-local fixed-window limiter keyed by caller-supplied strings.
// A key may see up to 2x limit requests across a window boundary; that is acceptable
// for an abuse guard. The entry map is owned by the instance and is not shared across
// server instances.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry

	now           func() time.Time
	sweepInterval time.Duration

	running bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// RateLimiterOption configures a RateLimiter
type RateLimiterOption func(*RateLimiter)

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) { rl.now = now }
}

// WithSweepInterval sets how often expired entries are purged after Start
func WithSweepInterval(d time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		if d > 0 {
			rl.sweepInterval = d
		}
	}
}

// NewRateLimiter creates a new rate limiter. Call Start to enable the background sweep.
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		entries:       make(map[string]*rateLimitEntry),
		now:           time.Now,
		sweepInterval: defaultSweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Check counts a request for key against limit per window
func (rl *RateLimiter) Check(key string, limit int, window time.Duration) Decision {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok || !now.Before(e.resetAt) {
		if limit < 1 {
			return Decision{Allowed: false, RetryAfter: window}
		}
		rl.entries[key] = &rateLimitEntry{count: 1, resetAt: now.Add(window)}
		return Decision{Allowed: true}
	}

	if e.count >= limit {
		return Decision{Allowed: false, RetryAfter: e.resetAt.Sub(now)}
	}

	e.count++
	return Decision{Allowed: true}
}

// Sweep removes entries whose window has elapsed and returns how many were removed
func (rl *RateLimiter) Sweep() int {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, e := range rl.entries {
		if !now.Before(e.resetAt) {
			delete(rl.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Start launches the periodic sweep. Calling it more than once, or after Stop, has no effect.
func (rl *RateLimiter) Start() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.running || rl.stopped {
		return
	}
	rl.running = true
	go rl.sweepLoop()
}

// Stop ends the periodic sweep and waits for it to exit. Safe to call without Start.
func (rl *RateLimiter) Stop() {
	rl.mu.Lock()
	if rl.stopped {
		rl.mu.Unlock()
		return
	}
	rl.stopped = true
	running := rl.running
	rl.mu.Unlock()

	close(rl.stop)
	if running {
		<-rl.done
	}
}

func (rl *RateLimiter) sweepLoop() {
	defer close(rl.done)

	ticker := time.NewTicker(rl.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := rl.Sweep(); n > 0 {
				log.Printf("ratelimit: swept %d expired entries", n)
			}
		case <-rl.stop:
			return
		}
	}
}

// RateLimitMiddleware rejects requests over limit per window for the key produced by keyFunc
func RateLimitMiddleware(limiter *RateLimiter, limit int, window time.Duration, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Check(keyFunc(r), limit, window)
			if !d.Allowed {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", d.RetryAfterHeader())
				w.WriteHeader(http.StatusTooManyRequests)
				response := map[string]any{"error": "rate limit exceeded", "retry_after_ms": d.RetryAfterMs()}
				_ = json.NewEncoder(w).Encode(response)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetIPKey extracts IP address from request for rate limiting
func GetIPKey(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

// ClientIP returns the request's remote host without port. chi's RealIP middleware has
// already replaced RemoteAddr with the forwarded address when one was present.
func ClientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// GetStationKey builds the verification limiter key for a scan station, falling back to the client IP
func GetStationKey(r *http.Request) string {
	if station := r.Header.Get(StationHeader); station != "" {
		return "checkin-verify:" + station
	}
	return "checkin-verify:" + ClientIP(r)
}
