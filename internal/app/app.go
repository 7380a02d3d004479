// Package app provides shared application setup and lifecycle management.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/stiffinWanjohi/bulkmail/internal/audit"
	"github.com/stiffinWanjohi/bulkmail/internal/config"
	"github.com/stiffinWanjohi/bulkmail/internal/dispatch"
	"github.com/stiffinWanjohi/bulkmail/internal/distlock"
	"github.com/stiffinWanjohi/bulkmail/internal/draft"
	"github.com/stiffinWanjohi/bulkmail/internal/logging"
	"github.com/stiffinWanjohi/bulkmail/internal/logstream"
	"github.com/stiffinWanjohi/bulkmail/internal/observability"
	"github.com/stiffinWanjohi/bulkmail/internal/progress"
	"github.com/stiffinWanjohi/bulkmail/internal/ratelimit"
	"github.com/stiffinWanjohi/bulkmail/internal/template"
	"github.com/stiffinWanjohi/bulkmail/internal/transport"
	"github.com/stiffinWanjohi/bulkmail/pkg/backoff"
)

var log = logging.Component("app")

// Services holds all initialized application services.
type Services struct {
	Config    *config.Config
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Metrics   *observability.Metrics
	Tracer    *observability.Tracer
	Audit     *audit.Store
	Async     *audit.Async
	Drafts    *draft.Store
	Progress  *progress.Store
	Locker    *distlock.Locker
	Limiter   *ratelimit.Limiter
	Hub       *logstream.Hub
	Activity  *logstream.Activity
	Transport transport.Transport
	Runner    *dispatch.Runner

	metricsProvider observability.MetricsProvider
	tracingProvider observability.TracingProvider
}

// MetricsProvider returns the underlying provider, for example to expose a
// scrape endpoint.
func (s *Services) MetricsProvider() observability.MetricsProvider {
	return s.metricsProvider
}

// Close stops running campaigns, drains pending audit writes, then closes
// connections.
func (s *Services) Close(ctx context.Context) {
	timeout := s.Config.Dispatch.ShutdownTimeout
	if s.Runner != nil {
		if err := s.Runner.Shutdown(timeout); err != nil {
			log.Error("runner shutdown error", "error", err)
		}
	}
	if s.Async != nil {
		if err := s.Async.Close(timeout); err != nil {
			log.Error("audit writer shutdown error", "error", err, "pending", s.Async.Pending())
		}
	}
	if s.tracingProvider != nil {
		_ = s.tracingProvider.Shutdown(ctx)
	}
	if s.metricsProvider != nil {
		_ = s.metricsProvider.Close(ctx)
	}
	if s.Audit != nil {
		_ = s.Audit.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// ConnectPostgres connects to PostgreSQL with the provided configuration.
func ConnectPostgres(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.Database.MaxConns
	poolConfig.MinConns = cfg.Database.MinConns
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return pool, nil
}

// ConnectRedis connects to Redis with the provided configuration.
func ConnectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.URL,
		PoolSize:     cfg.Redis.PoolSize,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// NewMetricsProvider opens the configured metrics backend.
func NewMetricsProvider(ctx context.Context, cfg *config.Config) (observability.MetricsProvider, *observability.Metrics, error) {
	provider, err := observability.OpenMetrics(ctx, cfg.Metrics.Provider, observability.Config{
		ServiceName:    cfg.Metrics.ServiceName,
		ServiceVersion: cfg.Metrics.ServiceVersion,
		Environment:    cfg.Metrics.Environment,
		Endpoint:       cfg.Metrics.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return provider, observability.NewMetrics(provider), nil
}

// NewTracer creates a tracer. Tracing disabled yields a no-op tracer.
func NewTracer(ctx context.Context, cfg *config.Config) (observability.TracingProvider, *observability.Tracer, error) {
	serviceName := cfg.Tracing.ServiceName
	if serviceName == "" {
		serviceName = cfg.Metrics.ServiceName
	}

	name := "noop"
	if cfg.Tracing.Enabled {
		name = "otel"
	}

	provider, err := observability.OpenTracing(ctx, name, observability.Config{
		ServiceName:    serviceName,
		ServiceVersion: cfg.Metrics.ServiceVersion,
		Environment:    cfg.Metrics.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	return provider, observability.NewTracer(provider), nil
}

// InitServer initializes everything the API server needs and wires the
// dispatch pipeline. Returns Services which should be closed with Close()
// when done.
func InitServer(ctx context.Context, cfg *config.Config) (*Services, error) {
	if cfg.Database.AutoMigrate {
		if err := MigrateUp(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		log.Info("migrations applied")
	}

	pool, err := ConnectPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("connected to database", "max_conns", cfg.Database.MaxConns, "min_conns", cfg.Database.MinConns)

	redisClient, err := ConnectRedis(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("connected to redis", "pool_size", cfg.Redis.PoolSize)

	s := &Services{Config: cfg, Pool: pool, Redis: redisClient}

	s.metricsProvider, s.Metrics, err = NewMetricsProvider(ctx, cfg)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.tracingProvider, s.Tracer, err = NewTracer(ctx, cfg)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}

	s.Transport, err = transport.New(ctx, cfg.Transport, s.Tracer)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	renderer, err := template.New(cfg.Dispatch.TemplateEngine)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}

	s.Audit = audit.OpenStore(pool)
	metrics := s.Metrics
	s.Async = audit.NewAsync(s.Audit, cfg.Dispatch.AuditBuffer, cfg.Dispatch.AuditWorkers,
		audit.WithRetry(backoff.NewCalculator()),
		audit.WithErrorHandler(func(e audit.Entry, err error) {
			metrics.AuditWriteFailed(context.Background())
			log.Error("audit write failed", "campaign_id", e.CampaignID, "position", e.Position, "error", err)
		}))

	s.Drafts = draft.NewStore(redisClient).WithTTL(cfg.Drafts.TTL)
	s.Progress = progress.NewStore(redisClient).WithTTL(cfg.Drafts.ProgressTTL)
	s.Locker = distlock.NewLocker(redisClient).WithTTL(cfg.Dispatch.LockTTL)
	s.Limiter = ratelimit.New(redisClient)
	s.Hub = logstream.NewHub(cfg.Activity.SubscriberBuffer)
	s.Activity = logstream.NewActivity(s.Hub, cfg.Activity.Capacity)

	orch := dispatch.NewOrchestrator(dispatch.Config{
		Renderer:        renderer,
		Transport:       s.Transport,
		Audit:           s.Async,
		Observer:        s.Activity,
		Progress:        s.Progress,
		Metrics:         s.Metrics,
		Tracer:          s.Tracer,
		SequentialDelay: cfg.Dispatch.SequentialDelay,
	})
	s.Runner = dispatch.NewRunner(orch, dispatch.RunnerConfig{
		Locker:  s.Locker,
		LockTTL: cfg.Dispatch.LockTTL,
		Clamp:   cfg.Dispatch.Clamp,
		Metrics: s.Metrics,
	})

	log.Info("dispatch ready",
		"transport", s.Transport.Name(),
		"template_engine", renderer.Name(),
		"concurrency", cfg.Dispatch.Concurrency,
		"delay", cfg.Dispatch.Delay,
	)
	return s, nil
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM.
func ShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
