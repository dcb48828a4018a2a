package orchestrate

import "errors"

var (
	// Definition errors (rejected synchronously at submission time).
	ErrGraphCycle        = errors.New("orchestrate: dependency graph contains a cycle")
	ErrDanglingReference = errors.New("orchestrate: predecessor references unknown task")
	ErrEmptyDefinition   = errors.New("orchestrate: definition has no tasks")
	ErrTooManyTasks      = errors.New("orchestrate: definition exceeds task limit")

	// Store errors.
	ErrNoStore     = errors.New("orchestrate: no store configured")
	ErrStoreClosed = errors.New("orchestrate: store closed")

	// Not found errors.
	ErrDefinitionNotFound = errors.New("orchestrate: definition not found")
	ErrWorkflowNotFound   = errors.New("orchestrate: workflow instance not found")
	ErrTaskNotFound       = errors.New("orchestrate: task instance not found")
	ErrHandlerNotFound    = errors.New("orchestrate: no handler registered for task type")

	// Conflict errors.
	ErrWorkflowExists         = errors.New("orchestrate: workflow instance already exists")
	ErrConcurrentModification = errors.New("orchestrate: concurrent modification, compare-and-swap failed")

	// Execution errors.
	ErrTimeout               = errors.New("orchestrate: task handler deadline exceeded")
	ErrCircuitOpen           = errors.New("orchestrate: circuit breaker open")
	ErrCompensationExhausted = errors.New("orchestrate: compensation exhausted retries, manual intervention required")

	// State errors.
	ErrInvalidState      = errors.New("orchestrate: invalid state transition")
	ErrInvalidDefinition = errors.New("orchestrate: invalid task definition")
)
