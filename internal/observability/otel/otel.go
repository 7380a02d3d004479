// Package otel exports bulkmail metrics and traces over OTLP/gRPC. Import it
// for side effects to register the "otel" backend (alias "otlp").
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/stiffinWanjohi/bulkmail/internal/logging"
	"github.com/stiffinWanjohi/bulkmail/internal/observability"
)

var log = logging.Component("otel")

func init() {
	b := observability.Backend{
		Metrics: func(ctx context.Context, cfg observability.Config) (observability.MetricsProvider, error) {
			return NewMetricsProvider(ctx, cfg)
		},
		Tracing: func(ctx context.Context, cfg observability.Config) (observability.TracingProvider, error) {
			return NewTracingProvider(ctx, cfg)
		},
	}
	observability.Register("otel", b)
	observability.Register("otlp", b)
}

func newResource(cfg observability.Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName(cfg)),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(cfg.Environment))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

func serviceName(cfg observability.Config) string {
	if cfg.ServiceName == "" {
		return "bulkmail"
	}
	return cfg.ServiceName
}

// attributes converts tag and span attribute maps. Unsupported value types
// are formatted with their default string form.
func attributes[V any](m map[string]V) []attribute.KeyValue {
	if len(m) == 0 {
		return nil
	}
	out := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		out = append(out, attributeOf(k, v))
	}
	return out
}

func attributeOf(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
