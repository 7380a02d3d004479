package app

import (
	"net/http"

	"github.com/stiffinWanjohi/bulkmail/internal/api"
	"github.com/stiffinWanjohi/bulkmail/internal/api/rest"
	"github.com/stiffinWanjohi/bulkmail/internal/auth"
)

// metricsExporter is implemented by providers that serve a scrape endpoint.
type metricsExporter interface {
	Handler() http.Handler
}

// NewAPIServer builds the HTTP API over the initialized services.
func (s *Services) NewAPIServer() *api.Server {
	cfg := s.Config

	handler := rest.NewHandler(s.Drafts, s.Runner, s.Audit).
		WithProgressStore(s.Progress).
		WithTransport(s.Transport).
		WithObservability(s.Metrics, s.Tracer).
		WithMaxUpload(cfg.API.MaxUploadBytes)

	var metricsHandler http.Handler
	if exp, ok := s.metricsProvider.(metricsExporter); ok {
		metricsHandler = exp.Handler()
	}

	keys := auth.NewStaticKeys(cfg.Auth.APIKeys)
	if cfg.Auth.Enabled {
		log.Info("api key authentication enabled", "keys", keys.Len())
	} else {
		log.Warn("api key authentication disabled")
	}

	return api.NewServer(handler, keys, api.ServerConfig{
		EnableAuth:      cfg.Auth.Enabled,
		MetricsHandler:  metricsHandler,
		Metrics:         s.Metrics,
		Tracer:          s.Tracer,
		RateLimiter:     s.Limiter,
		GlobalRateLimit: cfg.API.GlobalRateLimit,
		ClientRateLimit: cfg.API.ClientRateLimit,
		SendRateLimit:   cfg.API.SendRateLimit,
		RequestTimeout:  cfg.API.WriteTimeout,
		LogStreamHub:    s.Hub,
		Activity:        s.Activity,
	})
}
