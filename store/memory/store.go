package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/store"
)

var _ store.Store = (*Store)(nil)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	defs      map[string]*graph.Definition
	instances map[string]*instance.Instance
	attempts  map[string][]*instance.Attempt // key: "workflowID:taskDefID"
	results   map[string][]byte              // idempotency key -> result
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		defs:      make(map[string]*graph.Definition),
		instances: make(map[string]*instance.Instance),
		attempts:  make(map[string][]*instance.Attempt),
		results:   make(map[string][]byte),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// CreateDefinition persists a compiled definition.
func (m *Store) CreateDefinition(_ context.Context, def *graph.Definition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := def.ID.String()
	if _, exists := m.defs[key]; exists {
		return orchestrate.ErrWorkflowExists
	}
	// Definitions are immutable after Compile; sharing the pointer is safe.
	m.defs[key] = def
	return nil
}

// GetDefinition retrieves a definition by ID.
func (m *Store) GetDefinition(_ context.Context, defID id.DefinitionID) (*graph.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	def, ok := m.defs[defID.String()]
	if !ok {
		return nil, orchestrate.ErrDefinitionNotFound
	}
	return def, nil
}

// ListDefinitions returns all registered definitions, oldest first.
func (m *Store) ListDefinitions(_ context.Context) ([]*graph.Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*graph.Definition, 0, len(m.defs))
	for _, def := range m.defs {
		result = append(result, def)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// CreateInstance persists a freshly materialized instance.
func (m *Store) CreateInstance(_ context.Context, inst *instance.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inst.ID.String()
	if _, exists := m.instances[key]; exists {
		return orchestrate.ErrWorkflowExists
	}
	m.instances[key] = inst.Clone()
	return nil
}

// GetInstance retrieves an instance by ID, tasks included.
func (m *Store) GetInstance(_ context.Context, wfID id.WorkflowID) (*instance.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[wfID.String()]
	if !ok {
		return nil, orchestrate.ErrWorkflowNotFound
	}
	return inst.Clone(), nil
}

// UpdateInstance persists instance-level fields. Task records held by
// the store are preserved as-is.
func (m *Store) UpdateInstance(_ context.Context, inst *instance.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inst.ID.String()
	stored, ok := m.instances[key]
	if !ok {
		return orchestrate.ErrWorkflowNotFound
	}

	cp := inst.Clone()
	cp.Tasks = stored.Tasks
	cp.UpdatedAt = time.Now().UTC()
	m.instances[key] = cp
	return nil
}

// ListInstances returns instances matching opts, oldest first.
func (m *Store) ListInstances(_ context.Context, opts instance.ListOpts) ([]*instance.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*instance.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if opts.Status != "" && inst.Status != opts.Status {
			continue
		}
		result = append(result, inst.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CompareAndSwapTask writes updated if the stored status equals expected.
func (m *Store) CompareAndSwapTask(_ context.Context, wfID id.WorkflowID, taskDefID string, expected instance.TaskStatus, updated *instance.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[wfID.String()]
	if !ok {
		return orchestrate.ErrWorkflowNotFound
	}
	stored, ok := inst.Tasks[taskDefID]
	if !ok {
		return orchestrate.ErrTaskNotFound
	}

	if stored.Status != expected {
		return orchestrate.ErrConcurrentModification
	}
	if updated.Status != expected && !instance.ValidTransition(expected, updated.Status) {
		return orchestrate.ErrInvalidState
	}

	cp := *updated
	if updated.LastError != nil {
		le := *updated.LastError
		cp.LastError = &le
	}
	cp.UpdatedAt = time.Now().UTC()
	inst.Tasks[taskDefID] = &cp
	return nil
}

// ListReadyTasks returns dispatchable pending tasks of running instances.
func (m *Store) ListReadyTasks(_ context.Context, limit int) ([]*instance.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now().UTC()
	var ready []*instance.Task
	for _, inst := range m.instances {
		if !inst.Status.Active() {
			continue
		}
		for _, t := range inst.Tasks {
			if t.Status != instance.TaskPending {
				continue
			}
			if !t.NotBefore.IsZero() && t.NotBefore.After(now) {
				continue
			}
			cp := *t
			ready = append(ready, &cp)
		}
	}

	// Deterministic order: oldest workflow first, then task definition ID.
	sort.Slice(ready, func(i, k int) bool {
		if ready[i].WorkflowID != ready[k].WorkflowID {
			return ready[i].CreatedAt.Before(ready[k].CreatedAt)
		}
		return ready[i].DefinitionID < ready[k].DefinitionID
	})

	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func attemptKey(wfID id.WorkflowID, taskDefID string) string {
	return wfID.String() + ":" + taskDefID
}

// RecordAttempt appends one attempt record.
func (m *Store) RecordAttempt(_ context.Context, att *instance.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := attemptKey(att.WorkflowID, att.DefinitionID)
	cp := *att
	if att.Error != nil {
		e := *att.Error
		cp.Error = &e
	}
	m.attempts[key] = append(m.attempts[key], &cp)
	return nil
}

// ListAttempts returns the attempts for one task, oldest first.
func (m *Store) ListAttempts(_ context.Context, wfID id.WorkflowID, taskDefID string) ([]*instance.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.attempts[attemptKey(wfID, taskDefID)]
	result := make([]*instance.Attempt, len(stored))
	for i, att := range stored {
		cp := *att
		result[i] = &cp
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Number < result[k].Number
	})
	return result, nil
}

// GetIdempotentResult returns the stored result for key.
func (m *Store) GetIdempotentResult(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result, ok := m.results[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(result))
	copy(cp, result)
	return cp, true, nil
}

// SaveIdempotentResult stores the result of a successful execution.
func (m *Store) SaveIdempotentResult(_ context.Context, key string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(result))
	copy(cp, result)
	m.results[key] = cp
	return nil
}
