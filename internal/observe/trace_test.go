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

// useTracer installs an in-memory tracer provider globally for the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
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

// captureLog redirects the default logger into a buffer for the test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartSpan(t *testing.T) {
	exp := useTracer(t)

	ctx, span := StartSpan(context.Background(), "pipeline.classify")
	first := CorrelationID(ctx)
	span.End()
	ctx, span = StartSpan(context.Background(), "pipeline.classify")
	second := CorrelationID(ctx)
	span.End()

	if len(first) != 32 || first == second {
		t.Errorf("correlation ids %q and %q, want two distinct trace ids", first, second)
	}
	if spans := exp.GetSpans(); len(spans) != 2 || spans[0].Name != "pipeline.classify" {
		t.Errorf("spans = %v", spans)
	}
	if CorrelationID(context.Background()) != "" {
		t.Error("CorrelationID without a span should be empty")
	}
}

func TestLogger(t *testing.T) {
	useTracer(t)
	spanCtx, span := StartSpan(context.Background(), "op")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		want    []string
		notWant []string
	}{
		{
			name:    "plain",
			ctx:     context.Background(),
			notWant: []string{"trace_id", "session_id"},
		},
		{
			name:    "session only",
			ctx:     WithSessionID(context.Background(), "ab12cd34"),
			want:    []string{"session_id=ab12cd34"},
			notWant: []string{"trace_id"},
		},
		{
			name: "session and span",
			ctx:  WithSessionID(spanCtx, "ab12cd34"),
			want: []string{"session_id=ab12cd34", "trace_id=" + CorrelationID(spanCtx), "span_id="},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t)
			Logger(tt.ctx).Info("utterance transcribed")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q missing %q", out, w)
				}
			}
			for _, w := range tt.notWant {
				if strings.Contains(out, w) {
					t.Errorf("log %q should not contain %q", out, w)
				}
			}
		})
	}
}

func TestStartSpan_TagsSession(t *testing.T) {
	exp := useTracer(t)

	_, span := StartSpan(WithSessionID(context.Background(), "ab12cd34"), "transcribe")
	span.End()
	_, span = StartSpan(context.Background(), "transcribe")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	var tagged string
	for _, kv := range spans[0].Attributes {
		if kv.Key == SessionAttr {
			tagged = kv.Value.AsString()
		}
	}
	if tagged != "ab12cd34" {
		t.Errorf("session attribute = %q, want ab12cd34", tagged)
	}
	if len(spans[1].Attributes) != 0 {
		t.Errorf("untagged span has attributes %v", spans[1].Attributes)
	}
}

func TestSessionID_Missing(t *testing.T) {
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID = %q, want empty", got)
	}
}
