// Package trace provides tracing instrumentation for a run: a root span for
// the run with child spans for every sample and toggle.
package trace

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/grafana/pausesim/log"
)

const tracerName = "pausesim"

// Tracer generates the spans of a run. Every span carries the tracer
// metadata as attributes.
type Tracer struct {
	trace.Tracer

	logger   *log.Logger
	metadata []attribute.KeyValue
}

// NewTracer creates a new Tracer from the given TracerProvider.
func NewTracer(
	tp trace.TracerProvider, metadata map[string]string, logger *log.Logger, options ...trace.TracerOption,
) *Tracer {
	return &Tracer{
		Tracer:   tp.Tracer(tracerName, options...),
		logger:   logger,
		metadata: buildMetadataAttributes(metadata),
	}
}

// Start overrides the underlying OTEL tracer method to include the tracer metadata.
func (t *Tracer) Start(
	ctx context.Context, spanName string, opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	opts = append(opts, trace.WithAttributes(t.metadata...))
	ctx, span := t.Tracer.Start(ctx, spanName, opts...)

	t.logger.Debugf("trace:start", "spanName: %q traceID: %q", spanName, GetTraceID(span.SpanContext()))

	return ctx, &SpanLogger{Span: span, logger: t.logger, spanName: spanName}
}

// GetTraceID returns the trace ID of spanCtx, or "" when it has none.
func GetTraceID(spanCtx trace.SpanContext) string {
	if spanCtx.HasTraceID() {
		traceID := spanCtx.TraceID()
		return traceID.String()
	}
	return ""
}

// TraceRun starts the root span of a run against targetURL. It is the
// caller's responsibility to end it.
func (t *Tracer) TraceRun(ctx context.Context, targetURL string) (context.Context, trace.Span) {
	return t.Start(ctx, "run",
		trace.WithNewRoot(),
		trace.WithAttributes(attribute.String("target_url", targetURL)),
	)
}

// TraceSample starts the span of the seq'th sample of a run.
func (t *Tracer) TraceSample(ctx context.Context, seq int) (context.Context, trace.Span) {
	return t.Start(ctx, "sample", trace.WithAttributes(attribute.Int("seq", seq)))
}

// TraceToggle starts the span of the seq'th play/pause toggle, which comes
// after a dwell of dwell samples.
func (t *Tracer) TraceToggle(ctx context.Context, seq, dwell int) (context.Context, trace.Span) {
	return t.Start(ctx, "toggle", trace.WithAttributes(
		attribute.Int("seq", seq),
		attribute.Int("dwell", dwell),
	))
}

func buildMetadataAttributes(metadata map[string]string) []attribute.KeyValue {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	meta := make([]attribute.KeyValue, 0, len(metadata))
	for _, k := range keys {
		meta = append(meta, attribute.String(k, metadata[k]))
	}

	return meta
}

// SpanLogger is a Span that will log the method calls.
type SpanLogger struct {
	trace.Span
	logger   *log.Logger
	spanName string
}

// SetStatus will log some info before calling the underlying SetStatus.
func (i *SpanLogger) SetStatus(code codes.Code, description string) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("trace:setStatus", "spanName: %q traceID: %q code: %q description: %q",
		i.spanName, traceID, code, description)

	i.Span.SetStatus(code, description)
}

// End will log some info before calling the underlying End.
func (i *SpanLogger) End(options ...trace.SpanEndOption) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("trace:end", "spanName: %q traceID: %q", i.spanName, traceID)

	i.Span.End(options...)
}

// RecordError will log some info before calling the underlying RecordError.
func (i *SpanLogger) RecordError(err error, options ...trace.EventOption) {
	traceID := GetTraceID(i.SpanContext())
	i.logger.Debugf("trace:recordError", "spanName: %q traceID: %q err: %q", i.spanName, traceID, err)

	i.Span.RecordError(err, options...)
}
