package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/go-go-golems/docagent"

// Tracer wraps an otel tracer. Without a configured provider the global
// no-op tracer is used.
type Tracer struct {
	tracer trace.Tracer
}

func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

func NewTracerFromProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{tracer: tp.Tracer(instrumentationName)}
}

func (t *Tracer) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil || t.tracer == nil {
		// a non-recording span; ending it leaves the caller's span alone
		return ctx, trace.SpanFromContext(context.Background())
	}
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

func (t *Tracer) TraceBackendRequest(ctx context.Context, provider, model string, round int) (context.Context, trace.Span) {
	return t.start(ctx, fmt.Sprintf("llm.%s", provider), trace.SpanKindClient,
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.Int("agent.round", round),
	)
}

func (t *Tracer) TraceToolExecution(ctx context.Context, toolName string, dryRun bool) (context.Context, trace.Span) {
	return t.start(ctx, fmt.Sprintf("tool.%s", toolName), trace.SpanKindInternal,
		attribute.String("tool.name", toolName),
		attribute.Bool("tool.dry_run", dryRun),
	)
}

func (t *Tracer) TraceSession(ctx context.Context, conversationID, provider string) (context.Context, trace.Span) {
	return t.start(ctx, "agent.session", trace.SpanKindServer,
		attribute.String("conversation.id", conversationID),
		attribute.String("llm.provider", provider),
	)
}

// RecordError marks the span failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
