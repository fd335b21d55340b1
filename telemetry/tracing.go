// Package telemetry provides OpenTelemetry tracing for shutdown runs.
//
// A run produces one "shutdown.run" span with a child "shutdown.phase.<name>"
// span per executed phase. In debug mode every task gets its own span under
// its phase.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with shutdown-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, emit a span per task
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracer creates a new tracer with the given name from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return newTracerFrom(otel.Tracer(name), debug)
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return newTracerFrom(tp.Tracer(name), debug)
}

func newTracerFrom(t trace.Tracer, debug bool) *Tracer {
	return &Tracer{tracer: t, debug: debug}
}

// Debug returns whether task spans are emitted.
func (t *Tracer) Debug() bool {
	return t.debug
}

// --- Run Spans ---

// StartRunSpan starts the root span of a shutdown run.
func (t *Tracer) StartRunSpan(ctx context.Context, runID, reason string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "shutdown.run", trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("shutdown.run_id", runID),
		attribute.String("shutdown.reason", reason),
	)
	return ctx, span
}

// EndRunSpan ends a run span.
func (t *Tracer) EndRunSpan(span trace.Span, phases int, err error) {
	span.SetAttributes(attribute.Int("shutdown.phases_executed", phases))
	end(span, err)
}

// --- Phase Spans ---

// PhaseSpanOptions contains attributes recorded when a phase span ends.
type PhaseSpanOptions struct {
	Outcome  string
	Tasks    int
	Failed   int
	Timeout  time.Duration
	Duration time.Duration
}

// StartPhaseSpan starts a span for one phase.
func (t *Tracer) StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, "shutdown.phase."+phase, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attribute.String("shutdown.phase", phase))
	return ctx, span
}

// EndPhaseSpan ends a phase span with attributes.
func (t *Tracer) EndPhaseSpan(span trace.Span, opts PhaseSpanOptions, err error) {
	span.SetAttributes(
		attribute.String("shutdown.outcome", opts.Outcome),
		attribute.Int("shutdown.tasks", opts.Tasks),
		attribute.Int("shutdown.tasks_failed", opts.Failed),
		attribute.String("shutdown.timeout", opts.Timeout.String()),
		attribute.Int64("shutdown.duration_ms", opts.Duration.Milliseconds()),
	)
	end(span, err)
}

// --- Task Spans ---

// StartTaskSpan starts a span for a single task. Without debug mode the
// returned span is non-recording and the context is unchanged.
func (t *Tracer) StartTaskSpan(ctx context.Context, phase, task string) (context.Context, trace.Span) {
	if !t.debug {
		return ctx, trace.SpanFromContext(context.Background())
	}
	ctx, span := t.tracer.Start(ctx, "shutdown.task."+task, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(
		attribute.String("shutdown.phase", phase),
		attribute.String("shutdown.task", task),
	)
	return ctx, span
}

// EndTaskSpan ends a task span.
func (t *Tracer) EndTaskSpan(span trace.Span, err error) {
	end(span, err)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
