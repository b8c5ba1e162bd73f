package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/grafana/pausesim/log"
)

func newTestTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()

	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	md := map[string]string{"run_id": "abc", "browser": "chromium"}
	return NewTracer(tp, md, log.NewNullLogger()), rec
}

func TestTracerSpans(t *testing.T) {
	t.Parallel()

	tr, rec := newTestTracer(t)

	ctx, run := tr.TraceRun(context.Background(), "https://www.youtube.com/watch?v=x")
	_, sample := tr.TraceSample(ctx, 1)
	sample.End()
	_, toggle := tr.TraceToggle(ctx, 1, 7)
	toggle.RecordError(errors.New("button gone"))
	toggle.SetStatus(codes.Error, "button gone")
	toggle.End()
	run.End()

	spans := rec.Ended()
	require.Len(t, spans, 3)

	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
		assert.Contains(t, s.Attributes(), attribute.String("run_id", "abc"))
		assert.Equal(t, run.SpanContext().TraceID(), s.SpanContext().TraceID())
	}
	assert.Equal(t, []string{"sample", "toggle", "run"}, names)

	assert.Equal(t, run.SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Contains(t, spans[1].Attributes(), attribute.Int("dwell", 7))
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Len(t, spans[1].Events(), 1)
	assert.Contains(t, spans[2].Attributes(), attribute.String("target_url", "https://www.youtube.com/watch?v=x"))
}

func TestTraceRunIsRoot(t *testing.T) {
	t.Parallel()

	tr, rec := newTestTracer(t)

	ctx, outer := tr.Start(context.Background(), "outer")
	_, run := tr.TraceRun(ctx, "https://example.com")
	run.End()
	outer.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.False(t, spans[0].Parent().IsValid())
}

func TestGetTraceID(t *testing.T) {
	t.Parallel()

	assert.Empty(t, GetTraceID(trace.SpanContext{}))

	tr, _ := newTestTracer(t)
	_, span := tr.TraceRun(context.Background(), "https://example.com")
	defer span.End()
	assert.Len(t, GetTraceID(span.SpanContext()), 32)
}

func TestBuildMetadataAttributes(t *testing.T) {
	t.Parallel()

	got := buildMetadataAttributes(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, []attribute.KeyValue{attribute.String("a", "1"), attribute.String("b", "2")}, got)
}
