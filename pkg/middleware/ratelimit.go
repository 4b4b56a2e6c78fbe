package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/vaidashi/rachma-marketplace/pkg/logger"
	"github.com/vaidashi/rachma-marketplace/pkg/ratelimit"
)

// RateLimiterMiddleware applies per-IP rate limiting to incoming requests
type RateLimiterMiddleware struct {
	ipLimiter         *ratelimit.IPRateLimiter
	logger            logger.Logger
	trustForwardedFor bool
	retryAfter        string
}

// RateLimiterConfig configures the rate limiter middleware
type RateLimiterConfig struct {
	IPMaxTokens  float64
	IPRefillRate float64 // tokens per second
	// TrustForwardedFor keys clients by the first X-Forwarded-For hop.
	// Enable only behind a proxy that overwrites the header.
	TrustForwardedFor bool
}

// NewRateLimiterMiddleware creates a new rate limiter middleware
func NewRateLimiterMiddleware(cfg *RateLimiterConfig, logger logger.Logger) *RateLimiterMiddleware {
	return &RateLimiterMiddleware{
		ipLimiter:         ratelimit.NewIPRateLimiter(cfg.IPMaxTokens, cfg.IPRefillRate, 0),
		logger:            logger,
		trustForwardedFor: cfg.TrustForwardedFor,
		retryAfter:        retryAfterSeconds(cfg.IPRefillRate),
	}
}

// retryAfterSeconds is the time for one token to come back, 60s when buckets never refill
func retryAfterSeconds(refillRate float64) string {
	if refillRate <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Ceil(1 / refillRate)))
}

// Middleware returns a middleware function
func (m *RateLimiterMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := m.clientIP(r)

		if !m.ipLimiter.Allow(ip) {
			m.logger.Warn("IP rate limit exceeded", "method", r.Method, "path", r.URL.Path, "ip", ip)

			w.Header().Set("Retry-After", m.retryAfter)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"success":false,"error":"rate limit exceeded, retry later"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimiterMiddleware) clientIP(r *http.Request) string {
	if m.trustForwardedFor {
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			first, _, _ := strings.Cut(forwardedFor, ",")
			return strings.TrimSpace(first)
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Tracked returns how many client buckets are held
func (m *RateLimiterMiddleware) Tracked() int {
	return m.ipLimiter.Tracked()
}

// Stop stops the rate limiters
func (m *RateLimiterMiddleware) Stop() {
	m.ipLimiter.Stop()
}
