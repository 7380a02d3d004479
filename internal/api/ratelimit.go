package api

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/stiffinWanjohi/bulkmail/internal/auth"
	"github.com/stiffinWanjohi/bulkmail/internal/ratelimit"
)

const (
	globalRateLimitKey       = "global"
	rateLimitClientKeyPrefix = "client:"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Scope       string // Key namespace so separate limits do not share counters
	GlobalLimit int    // Requests per window across all clients (0 = unlimited)
	ClientLimit int    // Requests per window per client (0 = unlimited)
}

// RateLimitMiddleware applies global and per-client limits using Redis.
// Clients are identified by API key when authenticated, otherwise by
// remote address.
func RateLimitMiddleware(limiter *ratelimit.Limiter, cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if cfg.GlobalLimit > 0 {
				if !limiter.Allow(ctx, cfg.Scope+globalRateLimitKey, cfg.GlobalLimit) {
					apiLog.Warn("global rate limit exceeded",
						"scope", cfg.Scope,
						"path", r.URL.Path,
						"method", r.Method,
						"remote_addr", r.RemoteAddr,
					)
					writeRateLimitResponse(w, cfg.GlobalLimit, limiter.Window())
					return
				}
			}

			if cfg.ClientLimit > 0 {
				clientID := rateLimitClient(r)
				if !limiter.Allow(ctx, cfg.Scope+rateLimitClientKeyPrefix+clientID, cfg.ClientLimit) {
					apiLog.Warn("client rate limit exceeded",
						"scope", cfg.Scope,
						"client_id", clientID,
						"path", r.URL.Path,
						"method", r.Method,
					)
					writeRateLimitResponse(w, cfg.ClientLimit, limiter.Window())
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func rateLimitClient(r *http.Request) string {
	if clientID, ok := auth.ClientIDFromContext(r.Context()); ok && clientID != "" {
		return clientID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// writeRateLimitResponse writes a 429 Too Many Requests response.
func writeRateLimitResponse(w http.ResponseWriter, limit int, window time.Duration) {
	retryAfter := max(int(math.Ceil(window.Seconds())), 1)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(window).Unix(), 10))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate limit exceeded","code":"RATE_LIMITED","retry_after":` + strconv.Itoa(retryAfter) + `}`))
}
