package postgres

import (
	"context"
	"fmt"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
)

// RecordAttempt appends one attempt row.
func (s *Store) RecordAttempt(ctx context.Context, att *instance.Attempt) error {
	var errKind, errMsg *string
	if att.Error != nil {
		k, m := string(att.Error.Kind), att.Error.Message
		errKind, errMsg = &k, &m
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO orchestrate_attempts
			(id, workflow_id, task_id, task_def_id, number,
			 started_at, finished_at, outcome, error_kind, error_message, replayed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		att.ID, att.WorkflowID, att.TaskID, att.DefinitionID, att.Number,
		att.StartedAt, att.FinishedAt, string(att.Outcome), errKind, errMsg, att.Replayed,
	)
	if err != nil {
		return fmt.Errorf("orchestrate/postgres: record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the attempts for one task, oldest first.
func (s *Store) ListAttempts(ctx context.Context, wfID id.WorkflowID, taskDefID string) ([]*instance.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_id, task_id, task_def_id, number,
		       started_at, finished_at, outcome, error_kind, error_message, replayed
		FROM orchestrate_attempts
		WHERE workflow_id = $1 AND task_def_id = $2
		ORDER BY number ASC`, wfID, taskDefID)
	if err != nil {
		return nil, fmt.Errorf("orchestrate/postgres: list attempts: %w", err)
	}
	defer rows.Close()

	var result []*instance.Attempt
	for rows.Next() {
		var (
			att     instance.Attempt
			outcome string
			errKind *string
			errMsg  *string
		)
		err := rows.Scan(&att.ID, &att.WorkflowID, &att.TaskID, &att.DefinitionID, &att.Number,
			&att.StartedAt, &att.FinishedAt, &outcome, &errKind, &errMsg, &att.Replayed)
		if err != nil {
			return nil, fmt.Errorf("orchestrate/postgres: scan attempt: %w", err)
		}

		att.Outcome = instance.TaskStatus(outcome)
		if errKind != nil || errMsg != nil {
			te := &instance.TaskError{}
			if errKind != nil {
				te.Kind = orchestrate.ErrorKind(*errKind)
			}
			if errMsg != nil {
				te.Message = *errMsg
			}
			att.Error = te
		}
		result = append(result, &att)
	}
	return result, rows.Err()
}

// GetIdempotentResult returns the stored result for key.
func (s *Store) GetIdempotentResult(ctx context.Context, key string) ([]byte, bool, error) {
	var result []byte
	err := s.pool.QueryRow(ctx,
		`SELECT result FROM orchestrate_idempotency WHERE key = $1`, key,
	).Scan(&result)
	if err != nil {
		if isNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("orchestrate/postgres: get idempotent result: %w", err)
	}
	return result, true, nil
}

// SaveIdempotentResult stores the result of a successful execution.
func (s *Store) SaveIdempotentResult(ctx context.Context, key string, result []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orchestrate_idempotency (key, result) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET result = EXCLUDED.result`,
		key, result,
	)
	if err != nil {
		return fmt.Errorf("orchestrate/postgres: save idempotent result: %w", err)
	}
	return nil
}
