package otel

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/stiffinWanjohi/bulkmail/internal/observability"
)

// TracingProvider creates OTel spans and propagates W3C trace context over
// HTTP headers.
type TracingProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	prop     propagation.TextMapPropagator
}

var _ observability.TracingProvider = (*TracingProvider)(nil)

// NewTracingProvider batches spans to cfg.Endpoint. cfg.SampleRate of 1 or
// more samples every trace; 0 or less samples none.
func NewTracingProvider(ctx context.Context, cfg observability.Config) (*TracingProvider, error) {
	var opts []sdktrace.TracerProviderOption
	if cfg.Endpoint != "" {
		exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	p, err := newTracingProvider(cfg, opts...)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(p.provider)
	otel.SetTextMapPropagator(p.prop)
	log.Info("tracing provider ready", "endpoint", cfg.Endpoint, "sample_rate", cfg.SampleRate)
	return p, nil
}

func newTracingProvider(cfg observability.Config, opts ...sdktrace.TracerProviderOption) (*TracingProvider, error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, sdktrace.WithResource(res), sdktrace.WithSampler(sampler(cfg.SampleRate)))

	provider := sdktrace.NewTracerProvider(opts...)
	return &TracingProvider{
		provider: provider,
		tracer:   provider.Tracer(serviceName(cfg)),
		prop:     propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func (p *TracingProvider) StartSpan(ctx context.Context, name string, opts ...observability.SpanOption) (context.Context, observability.Span) {
	c := observability.NewSpanConfig(opts...)
	ctx, span := p.tracer.Start(ctx, name,
		trace.WithSpanKind(spanKind(c.Kind)),
		trace.WithAttributes(attributes(c.Attributes)...),
	)
	return ctx, otelSpan{span}
}

func (p *TracingProvider) Inject(ctx context.Context, h http.Header) {
	p.prop.Inject(ctx, propagation.HeaderCarrier(h))
}

func (p *TracingProvider) Extract(ctx context.Context, h http.Header) context.Context {
	return p.prop.Extract(ctx, propagation.HeaderCarrier(h))
}

func (p *TracingProvider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End() { s.span.End() }

func (s otelSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(attributeOf(key, value))
}

func (s otelSpan) SetStatus(status observability.SpanStatus, description string) {
	switch status {
	case observability.SpanStatusOK:
		s.span.SetStatus(codes.Ok, "")
	case observability.SpanStatusError:
		s.span.SetStatus(codes.Error, description)
	}
}

func (s otelSpan) RecordError(err error) { s.span.RecordError(err) }

func spanKind(kind observability.SpanKind) trace.SpanKind {
	switch kind {
	case observability.SpanKindServer:
		return trace.SpanKindServer
	case observability.SpanKindClient:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}
