package orchestrate

import (
	"context"
	"errors"
)

// ErrorKind classifies a task failure for retry-policy matching.
// Retry policies list the kinds they are willing to retry; failures of
// any other kind exhaust immediately.
type ErrorKind string

const (
	// KindTimeout means the handler did not return before the task's
	// deadline.
	KindTimeout ErrorKind = "timeout"
	// KindHandler is a typed failure returned by the task handler.
	KindHandler ErrorKind = "handler"
	// KindCircuitOpen means the call was rejected by an open circuit
	// breaker without invoking the handler.
	KindCircuitOpen ErrorKind = "circuit_open"
	// KindCancelled means the invocation was cancelled by workflow
	// cancellation or shutdown.
	KindCancelled ErrorKind = "cancelled"
	// KindCompensation marks a compensation body failure.
	KindCompensation ErrorKind = "compensation"
)

// KindOf classifies err into an ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindHandler
	}
}
