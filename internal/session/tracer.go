package session

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer abstracts span creation so the controller does not depend on
// OpenTelemetry APIs directly. The returned func ends the span, recording
// the operation's error if any.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, func(error))
}

// OTelTracer satisfies Tracer with OpenTelemetry spans.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer creates an OpenTelemetry-backed tracer on the global
// provider, instrumented as "artfolio/session".
func NewOTelTracer() *OTelTracer {
	return &OTelTracer{tracer: otel.Tracer("artfolio/session")}
}

func (t *OTelTracer) Start(ctx context.Context, name string) (context.Context, func(error)) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

var _ Tracer = (*OTelTracer)(nil)

// startSpan is a nil-safe span helper for controller operations.
func (c *Controller) startSpan(ctx context.Context, name string) (context.Context, func(error)) {
	if c.tracer == nil {
		return ctx, func(error) {}
	}
	return c.tracer.Start(ctx, name)
}
