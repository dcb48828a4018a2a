package instance

import (
	"time"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
)

// TaskStatus represents the lifecycle state of a task instance.
type TaskStatus string

const (
	// TaskPending means the task waits for its predecessors (or a retry
	// not-before timestamp).
	TaskPending TaskStatus = "pending"
	// TaskQueued means the scheduler selected the task for dispatch.
	TaskQueued TaskStatus = "queued"
	// TaskRunning means a handler invocation is in flight.
	TaskRunning TaskStatus = "running"
	// TaskSucceeded means the handler returned a result.
	TaskSucceeded TaskStatus = "succeeded"
	// TaskFailed means retries are exhausted (or the task is a
	// compensation target whose compensation exhausted).
	TaskFailed TaskStatus = "failed"
	// TaskSkipped means the task was bypassed by conditional branching
	// or cancellation.
	TaskSkipped TaskStatus = "skipped"
	// TaskCancelled means the invocation was cancelled externally.
	TaskCancelled TaskStatus = "cancelled"
	// TaskCompensating means the task's compensation body is running.
	TaskCompensating TaskStatus = "compensating"
	// TaskCompensated means the task's effects were undone.
	TaskCompensated TaskStatus = "compensated"
)

// Terminal reports whether the task is resolved: no further forward
// transitions are possible. A succeeded task still admits the
// compensation edge.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskFailed, TaskSkipped, TaskCancelled, TaskCompensated:
		return true
	default:
		return false
	}
}

// Settled reports whether the task counts as resolved for readiness:
// successors may run once every predecessor is Succeeded or Skipped.
func (s TaskStatus) Settled() bool {
	return s == TaskSucceeded || s == TaskSkipped
}

// transitions is the legal task state machine. Monotonic except for the
// retry edge Running→Pending and the operator edge Failed→Pending.
var transitions = map[TaskStatus][]TaskStatus{
	TaskPending:      {TaskQueued, TaskSkipped, TaskCancelled},
	TaskQueued:       {TaskRunning, TaskSkipped, TaskCancelled},
	TaskRunning:      {TaskSucceeded, TaskFailed, TaskPending, TaskCancelled},
	TaskSucceeded:    {TaskCompensating},
	TaskCompensating: {TaskCompensated, TaskFailed},
	TaskFailed:       {TaskPending},
}

// ValidTransition reports whether from→to is a legal task transition.
func ValidTransition(from, to TaskStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskError records the kind and message of the last failure.
type TaskError struct {
	Kind    orchestrate.ErrorKind `json:"kind"`
	Message string                `json:"message"`
}

// Task is the runtime record of one task within a workflow instance.
// It weak-references its TaskDefinition by definition ID.
type Task struct {
	orchestrate.Entity

	ID           id.TaskID     `json:"id"`
	WorkflowID   id.WorkflowID `json:"workflow_id"`
	DefinitionID string        `json:"definition_id"`
	Status       TaskStatus    `json:"status"`

	// Compensation marks the record as a compensation body rather than
	// a forward task.
	Compensation bool `json:"compensation,omitempty"`

	// Attempt counts executions, 1-based. Zero means never dispatched.
	Attempt int `json:"attempt"`

	// NotBefore is the earliest time a retry may be dispatched.
	NotBefore time.Time `json:"not_before,omitempty"`

	LastError  *TaskError `json:"last_error,omitempty"`
	Result     []byte     `json:"result,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns the wall-clock time of the most recent execution,
// or zero if the task never started.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if t.FinishedAt != nil {
		end = *t.FinishedAt
	}
	return end.Sub(*t.StartedAt)
}

// Attempt is recorded for every handler invocation, regardless of
// outcome, for observability.
type Attempt struct {
	ID           id.AttemptID  `json:"id"`
	WorkflowID   id.WorkflowID `json:"workflow_id"`
	TaskID       id.TaskID     `json:"task_id"`
	DefinitionID string        `json:"definition_id"`
	Number       int           `json:"number"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Outcome      TaskStatus    `json:"outcome"`
	Error        *TaskError    `json:"error,omitempty"`
	// Replayed marks an attempt short-circuited by an idempotency hit;
	// the handler was not invoked.
	Replayed bool `json:"replayed,omitempty"`
}
