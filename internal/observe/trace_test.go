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
)

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs swaps the default logger for one writing to a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	tp, _ := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	if cid := CorrelationID(ctx); len(cid) != 32 {
		t.Errorf("CorrelationID length = %d, want 32", len(cid))
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	_, span := StartSpan(context.Background(), "monitor.end")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "monitor.end" {
		t.Fatalf("spans = %v, want one named monitor.end", spans)
	}
}

func TestLogger_Enrichment(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	buf := captureLogs(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "log-test")
	defer span.End()
	ctx = WithSessionID(ctx, "sess-42")

	Logger(ctx).Info("event dropped")
	out := buf.String()
	for _, want := range []string{"trace_id=", "span_id=", "session_id=sess-42"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q, got: %s", want, out)
		}
	}
}

func TestLogger_Plain(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("plain")
	if out := buf.String(); strings.Contains(out, "trace_id") || strings.Contains(out, "session_id") {
		t.Errorf("log output should carry no context attributes, got: %s", out)
	}
	if SessionID(context.Background()) != "" {
		t.Error("SessionID(background) not empty")
	}
}
