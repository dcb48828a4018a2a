package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracing wraps each task execution in a span using the global
// OpenTelemetry tracer provider. Without a configured provider the
// spans are no-ops.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(meterScope))
}

// TracingWithTracer is Tracing with an explicit tracer, for tests and
// callers managing their own provider.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, e *Exec, next Handler) error {
		ctx, span := tracer.Start(ctx, "orchestrate.task.execute",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("orchestrate.workflow.id", e.Task.WorkflowID.String()),
				attribute.String("orchestrate.task.id", e.Def.ID),
				attribute.String("orchestrate.task.type", e.Def.Type),
				attribute.Int("orchestrate.task.attempt", e.Task.Attempt),
			),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}
