package observability

import (
	"context"
	"strings"
	"time"
)

// MetricsProvider is implemented by metrics backends. Names are dotted
// ("emails.sent"); backends translate them to their own conventions.
type MetricsProvider interface {
	Counter(ctx context.Context, name string, value int64, tags map[string]string)
	Gauge(ctx context.Context, name string, value float64, tags map[string]string)
	Histogram(ctx context.Context, name string, value float64, tags map[string]string)
	Timing(ctx context.Context, name string, duration time.Duration, tags map[string]string)
	// Flush pushes buffered data; pull-based backends return nil.
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Metrics names every measurement the service takes. A nil provider
// discards them.
type Metrics struct {
	provider MetricsProvider
}

// NewMetrics wraps a provider.
func NewMetrics(provider MetricsProvider) *Metrics {
	if provider == nil {
		provider = Discard{}
	}
	return &Metrics{provider: provider}
}

// HTTP metrics

func (m *Metrics) HTTPRequestTotal(ctx context.Context, method, path, status string) {
	m.provider.Counter(ctx, "http.requests.total", 1, map[string]string{
		"method": method,
		"path":   path,
		"status": status,
	})
}

func (m *Metrics) HTTPRequestDuration(ctx context.Context, method, path string, duration time.Duration) {
	m.provider.Timing(ctx, "http.request.duration", duration, map[string]string{
		"method": method,
		"path":   path,
	})
}

// Campaign metrics

func (m *Metrics) CampaignStarted(ctx context.Context, mode string, recipients int) {
	m.provider.Counter(ctx, "campaigns.started", 1, map[string]string{
		"mode": mode,
	})
	m.provider.Histogram(ctx, "campaigns.recipients", float64(recipients), nil)
}

func (m *Metrics) CampaignFinished(ctx context.Context, status string, duration time.Duration) {
	m.provider.Counter(ctx, "campaigns.finished", 1, map[string]string{
		"status": status,
	})
	m.provider.Timing(ctx, "campaigns.duration", duration, map[string]string{
		"status": status,
	})
}

func (m *Metrics) CampaignRejected(ctx context.Context, reason string) {
	m.provider.Counter(ctx, "campaigns.rejected", 1, map[string]string{
		"reason": reason,
	})
}

func (m *Metrics) RunsActive(ctx context.Context, n int) {
	m.provider.Gauge(ctx, "runs.active", float64(n), nil)
}

// Email metrics

func (m *Metrics) EmailSent(ctx context.Context, transport string, duration time.Duration) {
	m.provider.Counter(ctx, "emails.sent", 1, map[string]string{
		"transport": transport,
	})
	m.provider.Timing(ctx, "emails.send.duration", duration, map[string]string{
		"transport": transport,
		"status":    "sent",
	})
}

func (m *Metrics) EmailFailed(ctx context.Context, transport, reason string, duration time.Duration) {
	m.provider.Counter(ctx, "emails.failed", 1, map[string]string{
		"transport": transport,
		"reason":    reason,
	})
	m.provider.Timing(ctx, "emails.send.duration", duration, map[string]string{
		"transport": transport,
		"status":    "failed",
	})
}

// Batch metrics

func (m *Metrics) BatchSettled(ctx context.Context, size int, duration time.Duration) {
	m.provider.Counter(ctx, "batches.settled", 1, nil)
	m.provider.Histogram(ctx, "batches.size", float64(size), nil)
	m.provider.Timing(ctx, "batches.duration", duration, nil)
}

// Audit metrics

func (m *Metrics) AuditWriteFailed(ctx context.Context) {
	m.provider.Counter(ctx, "audit.write.failed", 1, nil)
}

func (m *Metrics) AuditPending(ctx context.Context, n int) {
	m.provider.Gauge(ctx, "audit.pending", float64(n), nil)
}

// Connection test metrics

func (m *Metrics) ConnectionTested(ctx context.Context, transport, status string) {
	m.provider.Counter(ctx, "connection.tests", 1, map[string]string{
		"transport": transport,
		"status":    status,
	})
}

// FailureReason reduces a send error to a low-cardinality label.
func FailureReason(errMsg string) string {
	switch {
	case errMsg == "":
		return "unknown"
	case strings.HasPrefix(errMsg, "HTTP "):
		if len(errMsg) >= 8 {
			return "http_" + errMsg[5:8]
		}
		return "http"
	case strings.Contains(errMsg, "timed out"):
		return "timeout"
	case strings.Contains(errMsg, "cancelled"):
		return "cancelled"
	case strings.Contains(errMsg, "cannot connect"):
		return "connection"
	case strings.HasPrefix(errMsg, "panic"):
		return "panic"
	default:
		return "provider"
	}
}

// Flush pushes buffered metrics.
func (m *Metrics) Flush(ctx context.Context) error {
	return m.provider.Flush(ctx)
}

// Close shuts down the metrics provider.
func (m *Metrics) Close(ctx context.Context) error {
	return m.provider.Close(ctx)
}
