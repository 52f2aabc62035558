package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// installTracer makes a recording TracerProvider global for the test.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
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

// captureLog points the default logger at a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestStartSpan_RecordsRecogniserOpen(t *testing.T) {
	exp := installTracer(t)

	ctx, span := StartSpan(context.Background(), "recogniser.open",
		trace.WithAttributes(attribute.Int("attempt", 2)))
	cid := CorrelationID(ctx)
	span.End()

	if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("CorrelationID = %q, want 32 hex characters", cid)
	}
	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	got := spans[0]
	if got.Name != "recogniser.open" {
		t.Errorf("span name = %q", got.Name)
	}
	if got.InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", got.InstrumentationScope.Name, tracerName)
	}
	if got.SpanContext.TraceID().String() != cid {
		t.Error("correlation id does not match the recorded trace id")
	}
}

func TestCorrelationID_WithoutSpan(t *testing.T) {
	t.Parallel()
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestSessionID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if got := SessionID(ctx); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	ctx = WithSession(ctx, "listen_3fa85f64")
	if got := SessionID(ctx); got != "listen_3fa85f64" {
		t.Errorf("SessionID = %q, want listen_3fa85f64", got)
	}
	if got := SessionID(WithSession(ctx, "record_9b1deb4d")); got != "record_9b1deb4d" {
		t.Errorf("inner SessionID = %q, want record_9b1deb4d", got)
	}
}

func TestLogger_Fields(t *testing.T) {
	installTracer(t)
	spanCtx, span := StartSpan(context.Background(), "session")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name:    "bare context",
			ctx:     context.Background(),
			notWant: []string{"session=", "trace_id=", "span_id="},
		},
		{
			name:    "session only",
			ctx:     WithSession(context.Background(), "record_2"),
			want:    []string{"session=record_2"},
			notWant: []string{"trace_id="},
		},
		{
			name: "session and span",
			ctx:  WithSession(spanCtx, "listen_1"),
			want: []string{"session=listen_1", "trace_id=" + CorrelationID(spanCtx), "span_id="},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			Logger(tt.ctx).Info("reminder fired")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log output missing %q: %s", w, out)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log output contains %q: %s", w, out)
				}
			}
		})
	}
}
