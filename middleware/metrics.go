package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterScope = "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"

// Metrics records task execution duration and counts using the global
// OpenTelemetry meter provider. Without a configured provider the
// instruments are no-ops.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterScope))
}

// MetricsWithMeter is Metrics with an explicit meter, for tests and
// callers managing their own provider.
func MetricsWithMeter(meter metric.Meter) Middleware {
	duration, dErr := meter.Float64Histogram(
		"orchestrate.task.duration",
		metric.WithDescription("Task handler execution time"),
		metric.WithUnit("s"),
	)
	executions, eErr := meter.Int64Counter(
		"orchestrate.task.executions",
		metric.WithDescription("Task handler executions by outcome"),
	)

	return func(ctx context.Context, e *Exec, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("task_id", e.Def.ID),
			attribute.String("task_type", e.Def.Type),
			attribute.String("status", status),
		)
		if dErr == nil {
			duration.Record(ctx, elapsed.Seconds(), attrs)
		}
		if eErr == nil {
			executions.Add(ctx, 1, attrs)
		}
		return err
	}
}
