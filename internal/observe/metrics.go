// Package observe provides application-wide observability primitives for
// voximux: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// The Record* convenience methods take no context: they are called from
// long-lived relay goroutines, not request handlers, and record against the
// background context.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voximux metrics.
const meterName = "github.com/voximux/voximux"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time to establish an upstream session,
	// from dial to session handshake completion.
	ConnectDuration metric.Float64Histogram

	// TurnDuration tracks the wall-clock length of each AI speaking turn,
	// from first audio chunk to turn completion.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// FramesForwarded counts capture frames sent upstream.
	FramesForwarded metric.Int64Counter

	// FramesDropped counts capture frames dropped before reaching the
	// endpoint. Use with attribute:
	//   attribute.String("reason", ...)  // "ai_responding", "send_queue_full", "send_error"
	FramesDropped metric.Int64Counter

	// ChunksRelayed counts synthesised audio chunks relayed to the sink.
	ChunksRelayed metric.Int64Counter

	// --- Error counters ---

	// UpstreamErrors counts fatal error events received from the endpoint.
	UpstreamErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live relay sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveClients tracks the number of connected clients across all
	// transports.
	ActiveClients metric.Int64UpDownCounter

	// SessionTokens records the cumulative token count reported by the
	// endpoint for the current session. The endpoint reports running
	// totals, so this is a gauge, not a counter.
	SessionTokens metric.Int64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for connection setup latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// turnBuckets defines histogram bucket boundaries (in seconds) for AI
// speaking turns, which run far longer than connection setup.
var turnBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("voximux.upstream.connect.duration",
		metric.WithDescription("Latency of upstream session establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("voximux.turn.duration",
		metric.WithDescription("Wall-clock length of each AI speaking turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesForwarded, err = m.Int64Counter("voximux.capture.frames.forwarded",
		metric.WithDescription("Total capture frames sent upstream."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voximux.capture.frames.dropped",
		metric.WithDescription("Total capture frames dropped before the endpoint, by reason."),
	); err != nil {
		return nil, err
	}
	if met.ChunksRelayed, err = m.Int64Counter("voximux.playback.chunks.relayed",
		metric.WithDescription("Total synthesised audio chunks relayed to the sink."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.UpstreamErrors, err = m.Int64Counter("voximux.upstream.errors",
		metric.WithDescription("Total fatal error events received from the endpoint."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveSessions, err = m.Int64UpDownCounter("voximux.active_sessions",
		metric.WithDescription("Number of live relay sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveClients, err = m.Int64UpDownCounter("voximux.active_clients",
		metric.WithDescription("Number of connected clients across all transports."),
	); err != nil {
		return nil, err
	}
	if met.SessionTokens, err = m.Int64Gauge("voximux.session.tokens.total",
		metric.WithDescription("Cumulative token count reported by the endpoint for the session."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voximux.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordConnect records the time taken to establish an upstream session.
func (m *Metrics) RecordConnect(seconds float64) {
	m.ConnectDuration.Record(context.Background(), seconds)
}

// RecordTurn records the wall-clock length of one completed AI speaking turn.
func (m *Metrics) RecordTurn(seconds float64) {
	m.TurnDuration.Record(context.Background(), seconds)
}

// RecordFrameForwarded increments the forwarded-frame counter.
func (m *Metrics) RecordFrameForwarded() {
	m.FramesForwarded.Add(context.Background(), 1)
}

// RecordFrameDropped increments the dropped-frame counter with the given
// reason attribute.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.FramesDropped.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordChunkRelayed increments the relayed-chunk counter.
func (m *Metrics) RecordChunkRelayed() {
	m.ChunksRelayed.Add(context.Background(), 1)
}

// RecordUpstreamError increments the upstream error counter.
func (m *Metrics) RecordUpstreamError() {
	m.UpstreamErrors.Add(context.Background(), 1)
}

// RecordTokens records the endpoint's cumulative token count for the session.
func (m *Metrics) RecordTokens(total int) {
	m.SessionTokens.Record(context.Background(), int64(total))
}

// RecordSessionStart increments the active-session gauge.
func (m *Metrics) RecordSessionStart() {
	m.ActiveSessions.Add(context.Background(), 1)
}

// RecordSessionEnd decrements the active-session gauge.
func (m *Metrics) RecordSessionEnd() {
	m.ActiveSessions.Add(context.Background(), -1)
}

// RecordClientConnected increments the active-client gauge.
func (m *Metrics) RecordClientConnected() {
	m.ActiveClients.Add(context.Background(), 1)
}

// RecordClientDisconnected decrements the active-client gauge.
func (m *Metrics) RecordClientDisconnected() {
	m.ActiveClients.Add(context.Background(), -1)
}
