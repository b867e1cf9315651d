package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// installTestTracer registers an in-memory exporter as the global tracer
// provider for the duration of the test and returns it for span inspection.
func installTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs replaces the default logger with one writing to the returned
// buffer and restores the original on cleanup.
func captureLogs(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: level})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func TestCorrelationID(t *testing.T) {
	installTestTracer(t)

	t.Run("no span", func(t *testing.T) {
		if got := CorrelationID(context.Background()); got != "" {
			t.Errorf("CorrelationID(background) = %q, want empty", got)
		}
	})

	t.Run("active span", func(t *testing.T) {
		ctx, span := StartSpan(context.Background(), "corr-test")
		defer span.End()

		cid := CorrelationID(ctx)
		if len(cid) != 32 || !isHex(cid) {
			t.Errorf("CorrelationID = %q, want 32 hex chars", cid)
		}
		if want := trace.SpanContextFromContext(ctx).TraceID().String(); cid != want {
			t.Errorf("CorrelationID = %q, want trace ID %q", cid, want)
		}
	})
}

func TestStartSpan_ExportsThroughGlobalProvider(t *testing.T) {
	exp := installTestTracer(t)

	_, span := StartSpan(context.Background(), "session dial")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Name != "session dial" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "session dial")
	}
	if spans[0].InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", spans[0].InstrumentationScope.Name, tracerName)
	}
}

func TestLogger_AttachesSpanIdentifiers(t *testing.T) {
	installTestTracer(t)
	buf := captureLogs(t, slog.LevelInfo)

	ctx, span := StartSpan(context.Background(), "log-test")
	defer span.End()

	Logger(ctx).Info("relay started")

	sc := trace.SpanContextFromContext(ctx)
	out := buf.String()
	if !strings.Contains(out, "trace_id="+sc.TraceID().String()) {
		t.Errorf("log output missing trace_id: %s", out)
	}
	if !strings.Contains(out, "span_id="+sc.SpanID().String()) {
		t.Errorf("log output missing span_id: %s", out)
	}
}

func TestLogger_PlainWithoutSpan(t *testing.T) {
	buf := captureLogs(t, slog.LevelInfo)

	Logger(context.Background()).Info("relay started")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log output has trace_id without an active span: %s", out)
	}
}
