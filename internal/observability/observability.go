// Package observability records campaign metrics and traces behind small
// provider interfaces. Backends register themselves by name from their own
// packages; the server opens the ones named in its configuration.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"
)

// ErrUnknownBackend is returned when a configured backend was never
// registered.
var ErrUnknownBackend = errors.New("unknown observability backend")

// Config is handed to backend factories.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string // OTLP collector address; empty keeps data in process
	Insecure       bool
	SampleRate     float64
	ExportInterval time.Duration
}

// Backend builds providers for one observability system. Either factory may
// be nil when the system does not support that signal.
type Backend struct {
	Metrics func(ctx context.Context, cfg Config) (MetricsProvider, error)
	Tracing func(ctx context.Context, cfg Config) (TracingProvider, error)
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// Register makes a backend available by name. Backend packages call it from
// init, so importing them for side effects is enough to enable them.
func Register(name string, b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = b
}

// OpenMetrics creates the named metrics provider. An empty name or "noop"
// yields Discard.
func OpenMetrics(ctx context.Context, name string, cfg Config) (MetricsProvider, error) {
	if name == "" || name == "noop" {
		return Discard{}, nil
	}
	b, err := lookup(name, func(b Backend) bool { return b.Metrics != nil })
	if err != nil {
		return nil, err
	}
	return b.Metrics(ctx, cfg)
}

// OpenTracing creates the named tracing provider. An empty name or "noop"
// yields Discard.
func OpenTracing(ctx context.Context, name string, cfg Config) (TracingProvider, error) {
	if name == "" || name == "noop" {
		return Discard{}, nil
	}
	b, err := lookup(name, func(b Backend) bool { return b.Tracing != nil })
	if err != nil {
		return nil, err
	}
	return b.Tracing(ctx, cfg)
}

func lookup(name string, supports func(Backend) bool) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	if b, ok := backends[name]; ok && supports(b) {
		return b, nil
	}
	var available []string
	for n, b := range backends {
		if supports(b) {
			available = append(available, n)
		}
	}
	slices.Sort(available)
	return Backend{}, fmt.Errorf("%w: %q (available: %v)", ErrUnknownBackend, name, available)
}

// Discard drops every metric and span. It is the default for both signals.
type Discard struct{}

var (
	_ MetricsProvider = Discard{}
	_ TracingProvider = Discard{}
)

func (Discard) Counter(context.Context, string, int64, map[string]string) {}

func (Discard) Gauge(context.Context, string, float64, map[string]string) {}

func (Discard) Histogram(context.Context, string, float64, map[string]string) {}

func (Discard) Timing(context.Context, string, time.Duration, map[string]string) {}

func (Discard) Flush(context.Context) error { return nil }

func (Discard) Close(context.Context) error { return nil }

func (Discard) Inject(context.Context, http.Header) {}

func (Discard) Extract(ctx context.Context, _ http.Header) context.Context { return ctx }

func (Discard) Shutdown(context.Context) error { return nil }

func (Discard) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, discardSpan{}
}

type discardSpan struct{}

func (discardSpan) End() {}

func (discardSpan) SetAttribute(string, any) {}

func (discardSpan) SetStatus(SpanStatus, string) {}

func (discardSpan) RecordError(error) {}

