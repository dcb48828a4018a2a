// Package store defines the persistence contract for workflow state:
// definitions, instances, task records, attempt history, and idempotent
// results. Backends: Postgres, Redis, and Memory.
//
// Task writes go through compare-and-swap: the caller names the status
// it last observed, and the store rejects the write when the stored
// status differs. The orchestrator retries by re-reading, which keeps a
// crashed-and-resumed loop from stomping on its successor.
package store

import (
	"context"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
)

// Store is the aggregate persistence interface. A single backend
// implements all of it.
type Store interface {
	DefinitionStore
	InstanceStore
	TaskStore
	AttemptStore
	IdempotencyStore

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

// DefinitionStore persists registered workflow definitions.
type DefinitionStore interface {
	// CreateDefinition persists a compiled definition. Returns
	// ErrWorkflowExists if the ID is already registered.
	CreateDefinition(ctx context.Context, def *graph.Definition) error

	// GetDefinition retrieves a definition by ID. Implementations must
	// return it compiled (adjacency rebuilt after decoding).
	GetDefinition(ctx context.Context, defID id.DefinitionID) (*graph.Definition, error)

	// ListDefinitions returns all registered definitions, oldest first.
	ListDefinitions(ctx context.Context) ([]*graph.Definition, error)
}

// InstanceStore persists workflow instances together with their tasks.
type InstanceStore interface {
	// CreateInstance persists a freshly materialized instance and all of
	// its task records.
	CreateInstance(ctx context.Context, inst *instance.Instance) error

	// GetInstance retrieves an instance by ID, tasks included.
	GetInstance(ctx context.Context, wfID id.WorkflowID) (*instance.Instance, error)

	// UpdateInstance persists instance-level fields (status, error,
	// timestamps). Task records are untouched; use CompareAndSwapTask.
	UpdateInstance(ctx context.Context, inst *instance.Instance) error

	// ListInstances returns instances matching opts, oldest first.
	ListInstances(ctx context.Context, opts instance.ListOpts) ([]*instance.Instance, error)
}

// TaskStore persists per-task runtime records with optimistic
// concurrency control.
type TaskStore interface {
	// CompareAndSwapTask writes the updated task record if and only if
	// the stored status equals expected. The full record rides along, so
	// one swap carries attempt count, error, result, and timestamps.
	// Returns ErrConcurrentModification when the stored status differs,
	// and ErrInvalidState when expected→updated.Status is not a legal
	// transition.
	CompareAndSwapTask(ctx context.Context, wfID id.WorkflowID, taskDefID string, expected instance.TaskStatus, updated *instance.Task) error

	// ListReadyTasks returns, across all running instances, tasks in
	// Pending whose NotBefore has passed. Used by crash recovery to find
	// work the previous process never dispatched.
	ListReadyTasks(ctx context.Context, limit int) ([]*instance.Task, error)
}

// AttemptStore records handler invocations for observability.
type AttemptStore interface {
	// RecordAttempt appends one attempt record.
	RecordAttempt(ctx context.Context, att *instance.Attempt) error

	// ListAttempts returns the attempts for one task, oldest first.
	ListAttempts(ctx context.Context, wfID id.WorkflowID, taskDefID string) ([]*instance.Attempt, error)
}

// IdempotencyStore maps expanded idempotency keys to prior results.
type IdempotencyStore interface {
	// GetIdempotentResult returns the stored result for key, with ok
	// false when no result has been saved.
	GetIdempotentResult(ctx context.Context, key string) (result []byte, ok bool, err error)

	// SaveIdempotentResult stores the result of a successful execution
	// under key. Last write wins.
	SaveIdempotentResult(ctx context.Context, key string, result []byte) error
}
