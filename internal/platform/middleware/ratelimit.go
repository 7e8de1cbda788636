package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/workspacehq/gateway/internal/platform/metrics"
)

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// IdleEvictAfter drops a client's bucket once it has been unused for
	// this long, bounding memory for a gateway that sees many distinct
	// client IPs over its lifetime.
	IdleEvictAfter time.Duration
}

// DefaultRateLimitConfig returns conservative defaults suitable for the
// gateway's own control endpoints.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 20, Burst: 40, IdleEvictAfter: 10 * time.Minute}
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware enforces a per-client-IP token bucket, used to
// protect the gateway's own endpoints (/healthz, /metrics) rather than
// workspace subdomain or proxied workspace traffic.
type RateLimitMiddleware struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*clientBucket
}

// NewRateLimitMiddleware builds a RateLimitMiddleware.
func NewRateLimitMiddleware(cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.RequestsPerSecond <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	return &RateLimitMiddleware{cfg: cfg, buckets: make(map[string]*clientBucket)}
}

func (m *RateLimitMiddleware) bucketFor(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for k, b := range m.buckets {
		if now.Sub(b.lastSeen) > m.cfg.IdleEvictAfter {
			delete(m.buckets, k)
		}
	}

	b, ok := m.buckets[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(m.cfg.RequestsPerSecond), m.cfg.Burst)}
		m.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// Handler returns the rate-limiting middleware handler.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.bucketFor(clientIP(r)).Allow() {
			metrics.Global().RecordRateLimitRejection()
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
