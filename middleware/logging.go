package middleware

import (
	"context"
	"log/slog"
	"time"
)

// Logging logs the start and outcome of every task execution.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, e *Exec, next Handler) error {
		start := time.Now()
		logger.DebugContext(ctx, "task started",
			"workflow_id", e.Task.WorkflowID,
			"task_id", e.Def.ID,
			"task_type", e.Def.Type,
			"attempt", e.Task.Attempt,
		)

		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.ErrorContext(ctx, "task failed",
				"workflow_id", e.Task.WorkflowID,
				"task_id", e.Def.ID,
				"task_type", e.Def.Type,
				"attempt", e.Task.Attempt,
				"duration", elapsed,
				"error", err,
			)
			return err
		}

		logger.InfoContext(ctx, "task completed",
			"workflow_id", e.Task.WorkflowID,
			"task_id", e.Def.ID,
			"task_type", e.Def.Type,
			"attempt", e.Task.Attempt,
			"duration", elapsed,
		)
		return nil
	}
}
