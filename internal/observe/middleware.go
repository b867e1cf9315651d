package observe

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Middleware instruments the operational HTTP endpoints: it continues any
// W3C trace context carried by the request, wraps the handler in a server
// span, exposes the trace ID as X-Correlation-ID, and records the request
// duration to [Metrics.HTTPRequestDuration]. The WebSocket route is mounted
// outside this middleware; hijacked connections never write a status code
// and are observed per session instead.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return &opsHandler{metrics: m, propagator: propagation.TraceContext{}, next: next}
	}
}

type opsHandler struct {
	metrics    *Metrics
	propagator propagation.TextMapPropagator
	next       http.Handler
}

func (h *opsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := h.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	if cid := CorrelationID(ctx); cid != "" {
		w.Header().Set("X-Correlation-ID", cid)
	}
	h.propagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
	h.next.ServeHTTP(rec, r.WithContext(ctx))
	h.finish(ctx, r, span, rec.status, time.Since(start))
}

// finish records the request after the handler returns: duration histogram,
// span status attribute, and a completion log. Probe and scrape traffic
// dominates these endpoints, so the log stays below info.
func (h *opsHandler) finish(ctx context.Context, r *http.Request, span trace.Span, status int, elapsed time.Duration) {
	h.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("path", r.URL.Path),
		),
	)
	span.SetAttributes(semconv.HTTPResponseStatusCode(status))
	Logger(ctx).Debug("request completed",
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"duration", elapsed,
	)
}

// responseRecorder captures the status code written by the wrapped handler.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
