package otel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/stiffinWanjohi/bulkmail/internal/observability"
)

// DefaultExportInterval is how often metrics are pushed to the collector.
const DefaultExportInterval = 15 * time.Second

// MetricsProvider records bulkmail metrics as OTel instruments. Instruments
// are created on first use and cached by name.
type MetricsProvider struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter

	counters   *instruments[metric.Int64Counter]
	gauges     *instruments[metric.Float64Gauge]
	histograms *instruments[metric.Float64Histogram]
}

var _ observability.MetricsProvider = (*MetricsProvider)(nil)

// NewMetricsProvider pushes to cfg.Endpoint every cfg.ExportInterval. With no
// endpoint metrics are aggregated in process only.
func NewMetricsProvider(ctx context.Context, cfg observability.Config) (*MetricsProvider, error) {
	var readers []sdkmetric.Reader
	if cfg.Endpoint != "" {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exporter, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = DefaultExportInterval
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval)))
	}

	p, err := newMetricsProvider(cfg, readers...)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(p.provider)
	log.Info("metrics provider ready", "endpoint", cfg.Endpoint)
	return p, nil
}

func newMetricsProvider(cfg observability.Config, readers ...sdkmetric.Reader) (*MetricsProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	provider := sdkmetric.NewMeterProvider(opts...)
	meter := provider.Meter(serviceName(cfg))

	return &MetricsProvider{
		provider: provider,
		meter:    meter,
		counters: newInstruments(func(name string) (metric.Int64Counter, error) {
			return meter.Int64Counter(name)
		}),
		gauges: newInstruments(func(name string) (metric.Float64Gauge, error) {
			return meter.Float64Gauge(name)
		}),
		histograms: newInstruments(func(name string) (metric.Float64Histogram, error) {
			if strings.HasSuffix(name, ".duration") {
				return meter.Float64Histogram(name, metric.WithUnit("s"))
			}
			return meter.Float64Histogram(name)
		}),
	}, nil
}

func (p *MetricsProvider) Counter(ctx context.Context, name string, value int64, tags map[string]string) {
	if c, ok := p.counters.get(name); ok {
		c.Add(ctx, value, metric.WithAttributes(attributes(tags)...))
	}
}

func (p *MetricsProvider) Gauge(ctx context.Context, name string, value float64, tags map[string]string) {
	if g, ok := p.gauges.get(name); ok {
		g.Record(ctx, value, metric.WithAttributes(attributes(tags)...))
	}
}

func (p *MetricsProvider) Histogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if h, ok := p.histograms.get(name); ok {
		h.Record(ctx, value, metric.WithAttributes(attributes(tags)...))
	}
}

// Timing records seconds into the histogram of the same name.
func (p *MetricsProvider) Timing(ctx context.Context, name string, d time.Duration, tags map[string]string) {
	p.Histogram(ctx, name, d.Seconds(), tags)
}

func (p *MetricsProvider) Flush(ctx context.Context) error {
	return p.provider.ForceFlush(ctx)
}

func (p *MetricsProvider) Close(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

// instruments caches one instrument kind by name.
type instruments[T any] struct {
	create func(name string) (T, error)

	mu     sync.RWMutex
	byName map[string]T
}

func newInstruments[T any](create func(string) (T, error)) *instruments[T] {
	return &instruments[T]{create: create, byName: make(map[string]T)}
}

func (c *instruments[T]) get(name string) (T, bool) {
	c.mu.RLock()
	inst, ok := c.byName[name]
	c.mu.RUnlock()
	if ok {
		return inst, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if inst, ok = c.byName[name]; ok {
		return inst, true
	}
	inst, err := c.create(name)
	if err != nil {
		log.Warn("failed to create instrument", "name", name, "error", err)
		var zero T
		return zero, false
	}
	c.byName[name] = inst
	return inst, true
}
