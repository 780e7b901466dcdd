package shield

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig defines a fixed-window per-IP rate limit.
type RateLimitConfig struct {
	// MaxRequests allowed per window per client IP. Default: 10.
	MaxRequests int
	// Window length. Default: 1 minute.
	Window time.Duration
}

func (c *RateLimitConfig) defaults() {
	if c.MaxRequests <= 0 {
		c.MaxRequests = 10
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
}

type rlBucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter enforces a per-IP fixed-window limit. It is meant for the
// trigger endpoints, where a runaway webhook sender could otherwise flood
// the coordinator queue; the config is static because the limits are an
// operator decision, not data.
type RateLimiter struct {
	config  RateLimitConfig
	buckets sync.Map
	done    chan struct{}
	once    sync.Once
}

// NewRateLimiter creates a RateLimiter and starts its bucket GC.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	cfg.defaults()
	rl := &RateLimiter{config: cfg, done: make(chan struct{})}
	go rl.gcLoop()
	return rl
}

// Close stops the background GC.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

func (rl *RateLimiter) gcLoop() {
	tick := time.NewTicker(5 * time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-tick.C:
			now := time.Now()
			rl.buckets.Range(func(key, value any) bool {
				b := value.(*rlBucket)
				b.mu.Lock()
				expired := now.After(b.resetAt)
				b.mu.Unlock()
				if expired {
					rl.buckets.Delete(key)
				}
				return true
			})
		}
	}
}

// Allow reports whether a request from ip fits in the current window.
func (rl *RateLimiter) Allow(ip string) bool {
	now := time.Now()
	val, _ := rl.buckets.LoadOrStore(ip, &rlBucket{})
	b := val.(*rlBucket)

	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(rl.config.Window)
	}
	b.count++
	return b.count <= rl.config.MaxRequests
}

// Middleware enforces the limit, answering 429 JSON when exceeded.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ExtractIP(r)
		if rl.Allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("ratelimit: request blocked", "ip", ip, "path", r.URL.Path)
		w.Header().Set("Retry-After", "60")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
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
