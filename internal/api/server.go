// Package api assembles the HTTP server: middleware, authentication, the
// REST routes and the activity stream.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stiffinWanjohi/bulkmail/internal/api/rest"
	"github.com/stiffinWanjohi/bulkmail/internal/auth"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
	"github.com/stiffinWanjohi/bulkmail/internal/logstream"
	"github.com/stiffinWanjohi/bulkmail/internal/observability"
	"github.com/stiffinWanjohi/bulkmail/internal/ratelimit"
)

var apiLog = logging.Component("api")

// DefaultRequestTimeout bounds non-streaming requests.
const DefaultRequestTimeout = 60 * time.Second

// ServerConfig holds server configuration.
type ServerConfig struct {
	EnableAuth      bool
	MetricsHandler  http.Handler           // Optional Prometheus metrics handler
	Metrics         *observability.Metrics // Optional HTTP request metrics
	Tracer          *observability.Tracer  // Optional HTTP request tracing
	RateLimiter     *ratelimit.Limiter     // Optional rate limiter
	GlobalRateLimit int                    // Global requests per second (0 = unlimited)
	ClientRateLimit int                    // Per-client requests per second (0 = unlimited)
	SendRateLimit   int                    // Per-client sends and connection tests per minute (0 = unlimited)
	RequestTimeout  time.Duration
	LogStreamHub    *logstream.Hub      // Optional activity streaming hub
	Activity        *logstream.Activity // Activity log served alongside the hub
}

// Server represents the HTTP server.
type Server struct {
	router *chi.Mux
}

// NewServer creates a new HTTP server around the REST handler.
func NewServer(handler *rest.Handler, authValidator auth.APIKeyValidator, cfg ServerConfig) *Server {
	r := chi.NewRouter()

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(timeoutUnlessStreaming(cfg.RequestTimeout))
	r.Use(loggingMiddleware())
	if cfg.Metrics != nil || cfg.Tracer != nil {
		r.Use(observability.HTTPMiddleware(cfg.Metrics, cfg.Tracer))
	}

	s := &Server{
		router: r,
	}

	// Public routes (no auth required)
	r.Get("/health", s.healthHandler)

	// Metrics endpoint (Prometheus)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.RateLimiter != nil && cfg.SendRateLimit > 0 {
		handler = handler.WithSendGuard(RateLimitMiddleware(cfg.RateLimiter.WithWindow(time.Minute), RateLimitConfig{
			Scope:       "send:",
			ClientLimit: cfg.SendRateLimit,
		}))
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		if cfg.EnableAuth && authValidator != nil {
			r.Use(auth.Middleware(authValidator))
		}

		// Rate limiting runs after auth so limits apply per API key
		if cfg.RateLimiter != nil && (cfg.GlobalRateLimit > 0 || cfg.ClientRateLimit > 0) {
			r.Use(RateLimitMiddleware(cfg.RateLimiter, RateLimitConfig{
				Scope:       "api:",
				GlobalLimit: cfg.GlobalRateLimit,
				ClientLimit: cfg.ClientRateLimit,
			}))
		}

		if cfg.LogStreamHub != nil && cfg.Activity != nil {
			r.Mount("/api/activity", logstream.NewHandler(cfg.LogStreamHub, cfg.Activity).Router())
		}

		r.Mount("/", handler.Router())
	})

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// timeoutUnlessStreaming applies a request deadline to everything except
// Server-Sent Event streams, which stay open until the client leaves.
func timeoutUnlessStreaming(d time.Duration) func(http.Handler) http.Handler {
	timeout := middleware.Timeout(d)
	return func(next http.Handler) http.Handler {
		limited := timeout(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/stream") {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

func loggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			apiLog.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
