package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover converts a handler panic into an error so one misbehaving
// task cannot take down the engine's dispatch loop.
func Recover(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, e *Exec, next Handler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorContext(ctx, "task panicked",
					"workflow_id", e.Task.WorkflowID,
					"task_id", e.Def.ID,
					"panic", r,
					"stack", string(debug.Stack()),
				)
				err = fmt.Errorf("panic in task %s: %v", e.Def.ID, r)
			}
		}()
		return next(ctx)
	}
}
