// Package event defines the ordered lifecycle events the engine emits
// while driving a workflow instance, and the Sink interface consumers
// implement to observe them.
package event

import (
	"time"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
)

// Type names a lifecycle event.
type Type string

// Lifecycle event types, in the rough order they occur.
const (
	WorkflowStarted      Type = "workflow.started"
	WorkflowPaused       Type = "workflow.paused"
	WorkflowResumed      Type = "workflow.resumed"
	WorkflowCompleted    Type = "workflow.completed"
	WorkflowFailed       Type = "workflow.failed"
	WorkflowCompensated  Type = "workflow.compensated"
	WorkflowCancelled    Type = "workflow.cancelled"
	TaskQueued           Type = "task.queued"
	TaskStarted          Type = "task.started"
	TaskSucceeded        Type = "task.succeeded"
	TaskFailed           Type = "task.failed"
	TaskRetrying         Type = "task.retrying"
	TaskSkipped          Type = "task.skipped"
	CompensationStarted  Type = "compensation.started"
	CompensationFinished Type = "compensation.finished"
)

// Event is one observation of instance progress. Events for a single
// workflow are emitted in the order the transitions were persisted.
type Event struct {
	ID         id.EventID    `json:"id"`
	Type       Type          `json:"type"`
	WorkflowID id.WorkflowID `json:"workflow_id"`

	// TaskID is the task definition ID for task-scoped events; empty for
	// workflow-scoped ones.
	TaskID  string `json:"task_id,omitempty"`
	Attempt int    `json:"attempt,omitempty"`

	// Error carries the failure message for failure-flavored events.
	Error string `json:"error,omitempty"`

	At time.Time `json:"at"`
}

// New builds a workflow-scoped event.
func New(typ Type, wfID id.WorkflowID) Event {
	return Event{
		ID:         id.NewEventID(),
		Type:       typ,
		WorkflowID: wfID,
		At:         time.Now().UTC(),
	}
}

// NewTask builds a task-scoped event.
func NewTask(typ Type, wfID id.WorkflowID, taskID string, attempt int) Event {
	e := New(typ, wfID)
	e.TaskID = taskID
	e.Attempt = attempt
	return e
}

// WithError attaches a failure message.
func (e Event) WithError(msg string) Event {
	e.Error = msg
	return e
}
