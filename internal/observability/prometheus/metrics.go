// Package prometheus exposes bulkmail metrics for scraping. Import it for
// side effects to register the "prometheus" metrics backend.
package prometheus

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stiffinWanjohi/bulkmail/internal/observability"
)

func init() {
	observability.Register("prometheus", observability.Backend{
		Metrics: func(_ context.Context, cfg observability.Config) (observability.MetricsProvider, error) {
			return New(cfg), nil
		},
	})
}

// Provider keeps one vector per metric name in a private registry. The label
// set of a name is fixed by its first use.
type Provider struct {
	registry  *prometheus.Registry
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var _ observability.MetricsProvider = (*Provider)(nil)

// New creates a provider whose metric names are prefixed with the sanitized
// service name, "bulkmail" by default. Go runtime and process collectors are
// registered too.
func New(cfg observability.Config) *Provider {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ns := "bulkmail"
	if cfg.ServiceName != "" {
		ns = sanitizeName(cfg.ServiceName)
	}
	return &Provider{
		registry:   registry,
		namespace:  ns,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Handler serves the registry in the OpenMetrics text format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *Provider) Counter(_ context.Context, name string, value int64, tags map[string]string) {
	vec := lookup(p, p.counters, name, tags, func(opts prometheus.Opts, labels []string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts(opts), labels)
	})
	vec.With(labelsOf(tags)).Add(float64(value))
}

func (p *Provider) Gauge(_ context.Context, name string, value float64, tags map[string]string) {
	vec := lookup(p, p.gauges, name, tags, func(opts prometheus.Opts, labels []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts(opts), labels)
	})
	vec.With(labelsOf(tags)).Set(value)
}

func (p *Provider) Histogram(_ context.Context, name string, value float64, tags map[string]string) {
	vec := lookup(p, p.histograms, name, tags, func(opts prometheus.Opts, labels []string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      opts.Name,
			Help:      opts.Help,
			Buckets:   bucketsFor(name),
		}, labels)
	})
	vec.With(labelsOf(tags)).Observe(value)
}

// Timing observes seconds. Names get a "_seconds" suffix.
func (p *Provider) Timing(ctx context.Context, name string, d time.Duration, tags map[string]string) {
	p.Histogram(ctx, name+".seconds", d.Seconds(), tags)
}

// Flush is a no-op; Prometheus pulls.
func (p *Provider) Flush(context.Context) error { return nil }

func (p *Provider) Close(context.Context) error { return nil }

func lookup[V prometheus.Collector](p *Provider, vecs map[string]V, name string, tags map[string]string, create func(prometheus.Opts, []string) V) V {
	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok := vecs[name]; ok {
		return vec
	}
	vec := create(prometheus.Opts{
		Namespace: p.namespace,
		Name:      sanitizeName(name),
		Help:      "bulkmail " + name,
	}, labelNames(tags))
	p.registry.MustRegister(vec)
	vecs[name] = vec
	return vec
}

// sendBuckets cover a single provider round trip, from a local relay to a
// slow SMTP handshake.
var sendBuckets = []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30, 60}

// campaignBuckets cover whole runs, up to several hours.
var campaignBuckets = []float64{1, 10, 60, 300, 900, 1800, 3600, 7200, 14400}

func bucketsFor(name string) []float64 {
	switch {
	case strings.HasPrefix(name, "emails.send.duration"):
		return sendBuckets
	case strings.HasPrefix(name, "campaigns.duration"):
		return campaignBuckets
	case strings.HasSuffix(name, "recipients"), strings.HasSuffix(name, "size"):
		return prometheus.ExponentialBuckets(1, 4, 10)
	default:
		return prometheus.DefBuckets
	}
}

// sanitizeName maps a dotted name onto [a-zA-Z_:][a-zA-Z0-9_:]*.
func sanitizeName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteRune('_')
			}
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, sanitizeName(k))
	}
	slices.Sort(names)
	return names
}

func labelsOf(tags map[string]string) prometheus.Labels {
	labels := make(prometheus.Labels, len(tags))
	for k, v := range tags {
		labels[sanitizeName(k)] = v
	}
	return labels
}
