package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
)

// CreateInstance persists the instance row and one row per task in a
// single transaction.
func (s *Store) CreateInstance(ctx context.Context, inst *instance.Instance) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("orchestrate/postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx, `
		INSERT INTO orchestrate_instances
			(id, definition_id, status, error, compensation_failed, started_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		inst.ID, inst.DefinitionID, string(inst.Status), nullStr(inst.Error),
		inst.CompensationFailed, inst.StartedAt, inst.CompletedAt, inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return orchestrate.ErrWorkflowExists
		}
		return fmt.Errorf("orchestrate/postgres: create instance: %w", err)
	}

	for defID, t := range inst.Tasks {
		_, err = tx.Exec(ctx, `
			INSERT INTO orchestrate_tasks
				(workflow_id, task_def_id, id, status, compensation, attempt, not_before,
				 error_kind, error_message, result, started_at, finished_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			taskArgs(inst.ID, defID, t)...,
		)
		if err != nil {
			return fmt.Errorf("orchestrate/postgres: create task %s: %w", defID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("orchestrate/postgres: commit: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance and all of its task rows.
func (s *Store) GetInstance(ctx context.Context, wfID id.WorkflowID) (*instance.Instance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, definition_id, status, error, compensation_failed,
		       started_at, completed_at, created_at, updated_at
		FROM orchestrate_instances WHERE id = $1`, wfID)

	inst, err := scanInstance(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT workflow_id, task_def_id, id, status, compensation, attempt, not_before,
		       error_kind, error_message, result, started_at, finished_at, created_at, updated_at
		FROM orchestrate_tasks WHERE workflow_id = $1`, wfID)
	if err != nil {
		return nil, fmt.Errorf("orchestrate/postgres: query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		inst.Tasks[t.DefinitionID] = t
	}
	return inst, rows.Err()
}

// UpdateInstance persists instance-level fields. Task rows are untouched.
func (s *Store) UpdateInstance(ctx context.Context, inst *instance.Instance) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orchestrate_instances
		SET status = $2, error = $3, compensation_failed = $4,
		    started_at = $5, completed_at = $6, updated_at = $7
		WHERE id = $1`,
		inst.ID, string(inst.Status), nullStr(inst.Error), inst.CompensationFailed,
		inst.StartedAt, inst.CompletedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("orchestrate/postgres: update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return orchestrate.ErrWorkflowNotFound
	}
	return nil
}

// ListInstances returns instances matching opts, oldest first. Task rows
// are not loaded; use GetInstance for the full record.
func (s *Store) ListInstances(ctx context.Context, opts instance.ListOpts) ([]*instance.Instance, error) {
	query := `
		SELECT id, definition_id, status, error, compensation_failed,
		       started_at, completed_at, created_at, updated_at
		FROM orchestrate_instances`
	args := []any{}
	if opts.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY created_at ASC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("orchestrate/postgres: list instances: %w", err)
	}
	defer rows.Close()

	var result []*instance.Instance
	for rows.Next() {
		inst, scanErr := scanInstance(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

// CompareAndSwapTask swaps the task row with a conditional UPDATE: the
// WHERE clause carries the expected status, so a concurrent writer makes
// the update match zero rows.
func (s *Store) CompareAndSwapTask(ctx context.Context, wfID id.WorkflowID, taskDefID string, expected instance.TaskStatus, updated *instance.Task) error {
	if updated.Status != expected && !instance.ValidTransition(expected, updated.Status) {
		return orchestrate.ErrInvalidState
	}

	var errKind, errMsg *string
	if updated.LastError != nil {
		k, m := string(updated.LastError.Kind), updated.LastError.Message
		errKind, errMsg = &k, &m
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE orchestrate_tasks
		SET status = $4, attempt = $5, not_before = $6,
		    error_kind = $7, error_message = $8, result = $9,
		    started_at = $10, finished_at = $11, updated_at = $12
		WHERE workflow_id = $1 AND task_def_id = $2 AND status = $3`,
		wfID, taskDefID, string(expected),
		string(updated.Status), updated.Attempt, nullTime(updated.NotBefore),
		errKind, errMsg, updated.Result,
		updated.StartedAt, updated.FinishedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("orchestrate/postgres: cas task: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows: either the task does not exist or its status moved.
	var exists bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM orchestrate_tasks WHERE workflow_id = $1 AND task_def_id = $2)`,
		wfID, taskDefID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("orchestrate/postgres: cas task check: %w", err)
	}
	if !exists {
		return orchestrate.ErrTaskNotFound
	}
	return orchestrate.ErrConcurrentModification
}

// ListReadyTasks returns dispatchable pending tasks of active instances.
func (s *Store) ListReadyTasks(ctx context.Context, limit int) ([]*instance.Task, error) {
	query := `
		SELECT t.workflow_id, t.task_def_id, t.id, t.status, t.compensation, t.attempt, t.not_before,
		       t.error_kind, t.error_message, t.result, t.started_at, t.finished_at,
		       t.created_at, t.updated_at
		FROM orchestrate_tasks t
		JOIN orchestrate_instances i ON i.id = t.workflow_id
		WHERE i.status IN ('running', 'compensating')
		  AND t.status = 'pending'
		  AND (t.not_before IS NULL OR t.not_before <= NOW())
		ORDER BY i.created_at ASC, t.task_def_id ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("orchestrate/postgres: list ready tasks: %w", err)
	}
	defer rows.Close()

	var ready []*instance.Task
	for rows.Next() {
		t, scanErr := scanTask(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		ready = append(ready, t)
	}
	return ready, rows.Err()
}

// ── row mapping ──

func scanInstance(row rowScanner) (*instance.Instance, error) {
	var (
		inst    instance.Instance
		status  string
		instErr *string
	)
	err := row.Scan(&inst.ID, &inst.DefinitionID, &status, &instErr, &inst.CompensationFailed,
		&inst.StartedAt, &inst.CompletedAt, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, orchestrate.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("orchestrate/postgres: scan instance: %w", err)
	}

	inst.Status = instance.Status(status)
	if instErr != nil {
		inst.Error = *instErr
	}
	inst.Tasks = make(map[string]*instance.Task)
	return &inst, nil
}

func scanTask(rows pgx.Rows) (*instance.Task, error) {
	var (
		t         instance.Task
		status    string
		notBefore *time.Time
		errKind   *string
		errMsg    *string
	)
	err := rows.Scan(&t.WorkflowID, &t.DefinitionID, &t.ID, &status, &t.Compensation, &t.Attempt, &notBefore,
		&errKind, &errMsg, &t.Result, &t.StartedAt, &t.FinishedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("orchestrate/postgres: scan task: %w", err)
	}

	t.Status = instance.TaskStatus(status)
	if notBefore != nil {
		t.NotBefore = *notBefore
	}
	if errKind != nil || errMsg != nil {
		te := &instance.TaskError{}
		if errKind != nil {
			te.Kind = orchestrate.ErrorKind(*errKind)
		}
		if errMsg != nil {
			te.Message = *errMsg
		}
		t.LastError = te
	}
	return &t, nil
}

func taskArgs(wfID id.WorkflowID, defID string, t *instance.Task) []any {
	var errKind, errMsg *string
	if t.LastError != nil {
		k, m := string(t.LastError.Kind), t.LastError.Message
		errKind, errMsg = &k, &m
	}
	return []any{
		wfID, defID, t.ID, string(t.Status), t.Compensation, t.Attempt, nullTime(t.NotBefore),
		errKind, errMsg, t.Result, t.StartedAt, t.FinishedAt, t.CreatedAt, t.UpdatedAt,
	}
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
