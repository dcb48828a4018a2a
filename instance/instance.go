// Package instance defines the runtime records for workflow execution:
// WorkflowInstance, TaskInstance, and per-invocation attempt records.
//
// Instances are owned exclusively by the orchestrator loop driving them
// and persisted through the store after every transition.
package instance

import (
	"time"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	// StatusPending means the instance is created but not yet started.
	StatusPending Status = "pending"
	// StatusRunning means the control loop is dispatching tasks.
	StatusRunning Status = "running"
	// StatusPaused means dispatch is suspended; in-flight tasks finish.
	StatusPaused Status = "paused"
	// StatusCompleted means all tasks succeeded or were skipped.
	StatusCompleted Status = "completed"
	// StatusFailed means a task exhausted retries under fail-fast, or a
	// compensation exhausted its retries.
	StatusFailed Status = "failed"
	// StatusCompensating means saga compensations are running.
	StatusCompensating Status = "compensating"
	// StatusCompensated means all compensations completed.
	StatusCompensated Status = "compensated"
	// StatusCancelled means the instance was cancelled externally.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompensated, StatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether the control loop is driving the instance.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusCompensating
}

// Instance is a single execution of a workflow definition. It owns its
// task instances; they are created together and destroyed together.
type Instance struct {
	orchestrate.Entity

	ID           id.WorkflowID   `json:"id"`
	DefinitionID id.DefinitionID `json:"definition_id"`
	Status       Status          `json:"status"`
	Error        string          `json:"error,omitempty"`

	// CompensationFailed marks a terminal Failed status caused by an
	// exhausted compensation; such instances require operator
	// intervention and are never re-compensated automatically.
	CompensationFailed bool `json:"compensation_failed,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Tasks maps task definition IDs to their runtime records.
	Tasks map[string]*Task `json:"tasks"`
}

// New materializes an instance from a compiled definition: every task,
// compensation bodies included, is created in Pending state.
func New(def *graph.Definition) *Instance {
	inst := &Instance{
		Entity:       orchestrate.NewEntity(),
		ID:           id.NewWorkflowID(),
		DefinitionID: def.ID,
		Status:       StatusPending,
		Tasks:        make(map[string]*Task, len(def.Tasks)),
	}
	for _, td := range def.Tasks {
		inst.Tasks[td.ID] = &Task{
			Entity:       orchestrate.NewEntity(),
			ID:           id.NewTaskID(),
			WorkflowID:   inst.ID,
			DefinitionID: td.ID,
			Status:       TaskPending,
			Compensation: td.CompensationOf != "",
		}
	}
	return inst
}

// Task returns the task instance for the given definition ID.
func (i *Instance) Task(defID string) (*Task, bool) {
	t, ok := i.Tasks[defID]
	return t, ok
}

// Progress returns the percentage of tasks in a terminal state,
// in [0.0, 100.0]. Compensation bodies are excluded from the count
// unless compensation has started.
func (i *Instance) Progress() float64 {
	countComp := i.Status == StatusCompensating || i.Status == StatusCompensated || i.CompensationFailed
	var total, done int
	for _, t := range i.Tasks {
		if t.Compensation && !countComp {
			continue
		}
		total++
		if t.Status.Terminal() {
			done++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

// Duration returns the wall-clock execution time, or zero if the
// instance has not started.
func (i *Instance) Duration() time.Duration {
	if i.StartedAt == nil {
		return 0
	}
	end := time.Now().UTC()
	if i.CompletedAt != nil {
		end = *i.CompletedAt
	}
	return end.Sub(*i.StartedAt)
}

// Clone returns a deep copy. Stores hand out clones so callers never
// share mutable state with the store's own records.
func (i *Instance) Clone() *Instance {
	cp := *i
	cp.Tasks = make(map[string]*Task, len(i.Tasks))
	for k, t := range i.Tasks {
		tc := *t
		if t.LastError != nil {
			le := *t.LastError
			tc.LastError = &le
		}
		cp.Tasks[k] = &tc
	}
	return &cp
}

// ListOpts controls pagination for instance list queries.
type ListOpts struct {
	// Limit is the maximum number of instances to return. Zero means no limit.
	Limit int
	// Offset is the number of instances to skip.
	Offset int
	// Status filters by instance status. Empty means all statuses.
	Status Status
}
