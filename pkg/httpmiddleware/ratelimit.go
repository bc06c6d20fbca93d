package httpmiddleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures the per-client token bucket limiter.
type RateLimitConfig struct {
	// Max is the number of requests a client may burst, refilled evenly over
	// Window.
	Max int
	// Window is the refill period for Max tokens.
	Window time.Duration
	// KeyFunc extracts the rate limit key from a request.
	// If nil, the client IP address is used.
	KeyFunc func(*http.Request) string
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter holds one token bucket per client key.
type rateLimiter struct {
	cfg     RateLimitConfig
	every   rate.Limit
	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = defaultKeyFunc
	}
	if cfg.Max <= 0 {
		cfg.Max = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &rateLimiter{
		cfg:     cfg,
		every:   rate.Every(cfg.Window / time.Duration(cfg.Max)),
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// allow consumes a token for key. On denial it returns how long the client
// must wait for the next token.
func (rl *rateLimiter) allow(key string) (remaining int, retryAfter time.Duration, allowed bool) {
	now := rl.now()

	rl.mu.Lock()
	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.every, rl.cfg.Max)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	if c.limiter.AllowN(now, 1) {
		return int(math.Max(0, math.Floor(c.limiter.TokensAt(now)))), 0, true
	}

	r := c.limiter.ReserveN(now, 1)
	retryAfter = r.DelayFrom(now)
	r.CancelAt(now)
	return 0, retryAfter, false
}

// cleanup drops clients idle for longer than two windows; their buckets are
// full again by then.
func (rl *rateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) >= 2*rl.cfg.Window {
			delete(rl.clients, key)
		}
	}
}

// startCleanup launches a background goroutine that periodically removes
// idle clients. It stops when ctx is cancelled.
func (rl *rateLimiter) startCleanup(ctx context.Context) {
	interval := 2 * rl.cfg.Window
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.cleanup(now)
			}
		}
	}()
}

// RateLimit returns a middleware that enforces a per-key token bucket. When
// the bucket is empty it responds with 429 Too Many Requests and a JSON body.
// Every response includes X-RateLimit-Limit and X-RateLimit-Remaining.
//
// This variant does not start a background cleanup goroutine. Use
// RateLimitWithCleanup for long-running servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return rateLimitMiddleware(newRateLimiter(cfg))
}

// RateLimitWithCleanup is like RateLimit but additionally evicts idle clients
// every 2x the window duration until ctx is cancelled.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	rl := newRateLimiter(cfg)
	rl.startCleanup(ctx)
	return rateLimitMiddleware(rl)
}

func rateLimitMiddleware(rl *rateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, retryAfter, allowed := rl.allow(rl.cfg.KeyFunc(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":    http.StatusTooManyRequests,
					"message": "rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// defaultKeyFunc extracts the client IP from the request, checking
// X-Forwarded-For first, then X-Real-IP, then falling back to RemoteAddr.
func defaultKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
