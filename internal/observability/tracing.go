package observability

import (
	"context"
	"net/http"
)

// SpanKind tells the backend which side of a call a span represents.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// SpanStatus is the final state of a span.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// Span is one timed operation: a campaign run, a single send, a request.
type Span interface {
	End()
	SetAttribute(key string, value any)
	SetStatus(status SpanStatus, description string)
	RecordError(err error)
}

// TracingProvider is implemented by tracing backends.
type TracingProvider interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
	// Inject writes the active trace context into outgoing headers.
	Inject(ctx context.Context, h http.Header)
	// Extract continues a trace carried by incoming headers.
	Extract(ctx context.Context, h http.Header) context.Context
	Shutdown(ctx context.Context) error
}

// SpanConfig is the result of applying SpanOptions.
type SpanConfig struct {
	Kind       SpanKind
	Attributes map[string]any
}

// SpanOption configures a span at start.
type SpanOption func(*SpanConfig)

// NewSpanConfig applies opts in order.
func NewSpanConfig(opts ...SpanOption) SpanConfig {
	var c SpanConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return func(c *SpanConfig) { c.Kind = kind }
}

// WithAttributes adds attributes to the span. Later options win on
// duplicate keys.
func WithAttributes(attrs map[string]any) SpanOption {
	return func(c *SpanConfig) {
		if c.Attributes == nil {
			c.Attributes = make(map[string]any, len(attrs))
		}
		for k, v := range attrs {
			c.Attributes[k] = v
		}
	}
}

// Tracer wraps a provider. A nil provider discards spans.
type Tracer struct {
	provider TracingProvider
}

// NewTracer wraps a provider.
func NewTracer(provider TracingProvider) *Tracer {
	if provider == nil {
		provider = Discard{}
	}
	return &Tracer{provider: provider}
}

// StartSpan starts a span as a child of any span in ctx.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	return t.provider.StartSpan(ctx, name, opts...)
}

// Inject adds trace headers (traceparent, baggage) to an outgoing request.
func (t *Tracer) Inject(ctx context.Context, h http.Header) {
	t.provider.Inject(ctx, h)
}

// Extract continues the caller's trace, if any.
func (t *Tracer) Extract(ctx context.Context, h http.Header) context.Context {
	return t.provider.Extract(ctx, h)
}

// Shutdown flushes buffered spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// Settle marks the span failed with the given reason, or OK when reason is
// empty.
func Settle(span Span, reason string) {
	if reason != "" {
		span.SetStatus(SpanStatusError, reason)
		return
	}
	span.SetStatus(SpanStatusOK, "")
}

// Span names.
const (
	SpanHTTPRequest    = "http.request"
	SpanCampaignRun    = "campaign.run"
	SpanEmailSend      = "email.send"
	SpanConnectionTest = "connection.test"
	SpanAuditBegin     = "audit.begin"
)

// Attribute keys.
const (
	AttrCampaignID     = "bulkmail.campaign.id"
	AttrDraftID        = "bulkmail.draft.id"
	AttrRecipients     = "bulkmail.recipients"
	AttrRunMode        = "bulkmail.run.mode"
	AttrConcurrency    = "bulkmail.run.concurrency"
	AttrDelayMs        = "bulkmail.run.delay_ms"
	AttrTransport      = "bulkmail.transport"
	AttrSendStatus     = "bulkmail.send.status"
	AttrMessageID      = "bulkmail.send.message_id"
	AttrHTTPMethod     = "http.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.status_code"
	AttrRequestID      = "http.request_id"
)
