package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name for pipeline spans.
const TracerName = "turnscribe"

// Span attribute keys
const (
	AttrRunID      = "run_id"
	AttrSession    = "session"
	AttrStage      = "stage"
	AttrEngine     = "engine"
	AttrAudioBytes = "audio_bytes"
	AttrWords      = "words"
	AttrSegments   = "segments"
	AttrTurns      = "turns"
	AttrIssues     = "issues"
	AttrErrorCode  = "error_code"
	AttrRetryable  = "retryable"
)

// SpanRun is the root span of a run. Stage spans are "turnscribe.stage.<stage>".
const SpanRun = "turnscribe.run"

// Tracer provides distributed tracing for pipeline runs.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer() *Tracer {
	return NewTracerFrom(otel.GetTracerProvider())
}

// NewTracerFrom creates a tracer from a specific provider.
func NewTracerFrom(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(TracerName)}
}

// StartRunSpan starts the root span for a run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID string, audioBytes int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanRun,
		trace.WithAttributes(
			attribute.String(AttrRunID, runID),
			attribute.Int(AttrAudioBytes, audioBytes),
		),
	)
}

// StartStageSpan starts a span for a pipeline stage.
func (t *Tracer) StartStageSpan(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{attribute.String(AttrStage, stage)}, attrs...)
	return t.tracer.Start(ctx, "turnscribe.stage."+stage, trace.WithAttributes(attrs...))
}

// SpanHelper provides convenient methods for working with a span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetCounts records alignment sizes.
func (h *SpanHelper) SetCounts(words, segments, turns int) {
	h.span.SetAttributes(
		attribute.Int(AttrWords, words),
		attribute.Int(AttrSegments, segments),
		attribute.Int(AttrTurns, turns),
	)
}

// SetSession records the materialized session.
func (h *SpanHelper) SetSession(name string, issues int) {
	h.span.SetAttributes(
		attribute.String(AttrSession, name),
		attribute.Int(AttrIssues, issues),
	)
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, code string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorCode, code),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// TraceID returns the trace ID from the context, if any.
func TraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
