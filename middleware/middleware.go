// Package middleware provides composable wrappers around task handler
// execution. Middleware run in the order given to Chain, with the first
// middleware outermost. The engine installs Recover, Logging, Metrics
// and Tracing by default; callers can prepend their own.
package middleware

import (
	"context"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
)

// Exec pairs the task record being executed with its definition for the
// duration of one handler invocation.
type Exec struct {
	Task *instance.Task
	Def  *graph.TaskDefinition
}

// Handler is the continuation a middleware invokes to proceed with
// execution.
type Handler func(ctx context.Context) error

// Middleware wraps task execution. Implementations must call next to
// continue the chain, or return early to short-circuit.
type Middleware func(ctx context.Context, e *Exec, next Handler) error

// Chain composes middlewares into one. The first middleware is
// outermost: Chain(a, b) runs a's before-logic, then b's, then the
// handler, then b's after-logic, then a's.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, e *Exec, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, e, prev)
			}
		}
		return h(ctx)
	}
}
