package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateConfig is the per-client token bucket.
type RateConfig struct {
	PerSecond float64
	Burst     int
	// Idle clients are forgotten after TTL. Default: 10m.
	TTL time.Duration
}

// DefaultRate allows 20 requests per second with bursts of 40.
func DefaultRate() RateConfig {
	return RateConfig{PerSecond: 20, Burst: 40, TTL: 10 * time.Minute}
}

type client struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter provides per-IP rate limiting. A zero PerSecond disables it.
type RateLimiter struct {
	cfg     RateConfig
	exclude []string // path prefixes excluded from rate limiting
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*client
}

// NewRateLimiter creates a rate limiter. Requests whose path starts with
// one of excludePrefixes are never limited.
func NewRateLimiter(cfg RateConfig, excludePrefixes ...string) *RateLimiter {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &RateLimiter{
		cfg:     cfg,
		exclude: excludePrefixes,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

func (rl *RateLimiter) allow(ip string) bool {
	if rl.cfg.PerSecond <= 0 {
		return true
	}
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	c, ok := rl.clients[ip]
	if !ok {
		rl.gcLocked(now)
		c = &client{lim: rate.NewLimiter(rate.Limit(rl.cfg.PerSecond), rl.cfg.Burst)}
		rl.clients[ip] = c
	}
	c.seen = now
	return c.lim.AllowN(now, 1)
}

// gcLocked drops idle clients. It runs when a new client shows up, so
// the map never outgrows the set of recently active addresses.
func (rl *RateLimiter) gcLocked(now time.Time) {
	for ip, c := range rl.clients {
		if now.Sub(c.seen) > rl.cfg.TTL {
			delete(rl.clients, ip)
		}
	}
}

// Middleware is the HTTP middleware that enforces rate limits with a 429
// JSON response.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		ip := ExtractIP(r)
		if rl.allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("ratelimit: request blocked", "ip", ip, "path", r.URL.Path)
		retry := 1
		if rl.cfg.PerSecond > 0 && rl.cfg.PerSecond < 1 {
			retry = int(1/rl.cfg.PerSecond + 0.5)
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "rate limit exceeded",
		})
	})
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
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
