package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPMiddleware records a request counter and latency labelled by chi route
// pattern, and wraps each request in a server span that continues the
// caller's trace. Either argument may be nil.
func HTTPMiddleware(metrics *Metrics, tracer *Tracer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			span := Span(discardSpan{})
			if tracer != nil {
				ctx, span = tracer.StartSpan(tracer.Extract(ctx, r.Header), SpanHTTPRequest,
					WithSpanKind(SpanKindServer),
					WithAttributes(map[string]any{
						AttrHTTPMethod: r.Method,
						AttrRequestID:  middleware.GetReqID(ctx),
					}))
			}
			defer span.End()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)

			if metrics != nil {
				metrics.HTTPRequestTotal(ctx, r.Method, route, strconv.Itoa(status))
				metrics.HTTPRequestDuration(ctx, r.Method, route, time.Since(start))
			}

			span.SetAttribute(AttrHTTPRoute, route)
			span.SetAttribute(AttrHTTPStatusCode, status)
			if status >= http.StatusInternalServerError {
				Settle(span, http.StatusText(status))
			} else {
				Settle(span, "")
			}
		})
	}
}

// routePattern returns the matched chi pattern so draft and campaign IDs do
// not become metric labels.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
