package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
)

// CreateInstance stores the instance record and every task record.
func (s *Store) CreateInstance(ctx context.Context, inst *instance.Instance) error {
	wID := inst.ID.String()

	body, err := encode(toInstanceRecord(inst))
	if err != nil {
		return err
	}

	ok, err := s.client.SetNX(ctx, wfKey(wID), body, 0).Result()
	if err != nil {
		return fmt.Errorf("orchestrate/redis: create instance: %w", err)
	}
	if !ok {
		return orchestrate.ErrWorkflowExists
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, wfIDsKey, wID)
	for defID, t := range inst.Tasks {
		tb, encErr := encode(toTaskRecord(t))
		if encErr != nil {
			return encErr
		}
		pipe.Set(ctx, taskKey(wID, defID), tb, 0)
		pipe.SAdd(ctx, taskIdxKey(wID), defID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("orchestrate/redis: create instance tasks: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance and all of its task records.
func (s *Store) GetInstance(ctx context.Context, wfID id.WorkflowID) (*instance.Instance, error) {
	return s.getInstance(ctx, wfID.String())
}

func (s *Store) getInstance(ctx context.Context, wID string) (*instance.Instance, error) {
	body, err := s.client.Get(ctx, wfKey(wID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, orchestrate.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("orchestrate/redis: get instance: %w", err)
	}

	var rec instanceRecord
	if err := decode(body, &rec); err != nil {
		return nil, err
	}
	inst, err := fromInstanceRecord(&rec)
	if err != nil {
		return nil, err
	}

	defIDs, err := s.client.SMembers(ctx, taskIdxKey(wID)).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestrate/redis: get instance task index: %w", err)
	}
	for _, defID := range defIDs {
		t, getErr := s.getTask(ctx, wID, defID)
		if getErr != nil {
			return nil, getErr
		}
		inst.Tasks[defID] = t
	}
	return inst, nil
}

func (s *Store) getTask(ctx context.Context, wID, taskDefID string) (*instance.Task, error) {
	body, err := s.client.Get(ctx, taskKey(wID, taskDefID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, orchestrate.ErrTaskNotFound
		}
		return nil, fmt.Errorf("orchestrate/redis: get task: %w", err)
	}

	var rec taskRecord
	if err := decode(body, &rec); err != nil {
		return nil, err
	}
	return fromTaskRecord(&rec)
}

// UpdateInstance persists instance-level fields. Task keys are untouched.
func (s *Store) UpdateInstance(ctx context.Context, inst *instance.Instance) error {
	wID := inst.ID.String()
	key := wfKey(wID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("orchestrate/redis: update instance exists: %w", err)
	}
	if exists == 0 {
		return orchestrate.ErrWorkflowNotFound
	}

	rec := toInstanceRecord(inst)
	rec.UpdatedAt = time.Now().UTC()
	body, err := encode(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, body, 0).Err(); err != nil {
		return fmt.Errorf("orchestrate/redis: update instance: %w", err)
	}
	return nil
}

// ListInstances returns instances matching opts, oldest first.
func (s *Store) ListInstances(ctx context.Context, opts instance.ListOpts) ([]*instance.Instance, error) {
	ids, err := s.client.SMembers(ctx, wfIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestrate/redis: list instances: %w", err)
	}

	result := make([]*instance.Instance, 0, len(ids))
	for _, wID := range ids {
		inst, getErr := s.getInstance(ctx, wID)
		if getErr != nil {
			continue // skip records deleted between SMEMBERS and GET
		}
		if opts.Status != "" && inst.Status != opts.Status {
			continue
		}
		result = append(result, inst)
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

// CompareAndSwapTask swaps the task record under WATCH so a concurrent
// writer aborts the transaction.
func (s *Store) CompareAndSwapTask(ctx context.Context, wfID id.WorkflowID, taskDefID string, expected instance.TaskStatus, updated *instance.Task) error {
	key := taskKey(wfID.String(), taskDefID)

	swap := func(tx *goredis.Tx) error {
		body, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return orchestrate.ErrTaskNotFound
			}
			return fmt.Errorf("orchestrate/redis: cas get task: %w", err)
		}

		var rec taskRecord
		if err := decode(body, &rec); err != nil {
			return err
		}
		if instance.TaskStatus(rec.Status) != expected {
			return orchestrate.ErrConcurrentModification
		}
		if updated.Status != expected && !instance.ValidTransition(expected, updated.Status) {
			return orchestrate.ErrInvalidState
		}

		next := toTaskRecord(updated)
		next.UpdatedAt = time.Now().UTC()
		nb, err := encode(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, nb, 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, swap, key)
	if errors.Is(err, goredis.TxFailedErr) {
		// Someone wrote the key between GET and EXEC.
		return orchestrate.ErrConcurrentModification
	}
	return err
}

// ListReadyTasks returns dispatchable pending tasks of active instances.
func (s *Store) ListReadyTasks(ctx context.Context, limit int) ([]*instance.Task, error) {
	ids, err := s.client.SMembers(ctx, wfIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestrate/redis: list ready: %w", err)
	}

	now := time.Now().UTC()
	var ready []*instance.Task
	for _, wID := range ids {
		inst, getErr := s.getInstance(ctx, wID)
		if getErr != nil {
			continue
		}
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
			ready = append(ready, t)
		}
	}

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
