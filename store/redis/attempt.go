package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
)

// RecordAttempt appends one attempt record to the task's history List.
func (s *Store) RecordAttempt(ctx context.Context, att *instance.Attempt) error {
	body, err := encode(toAttemptRecord(att))
	if err != nil {
		return err
	}

	key := attemptsKey(att.WorkflowID.String(), att.DefinitionID)
	if err := s.client.RPush(ctx, key, body).Err(); err != nil {
		return fmt.Errorf("orchestrate/redis: record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the attempts for one task in append order.
func (s *Store) ListAttempts(ctx context.Context, wfID id.WorkflowID, taskDefID string) ([]*instance.Attempt, error) {
	key := attemptsKey(wfID.String(), taskDefID)
	bodies, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestrate/redis: list attempts: %w", err)
	}

	result := make([]*instance.Attempt, 0, len(bodies))
	for _, body := range bodies {
		var rec attemptRecord
		if err := decode([]byte(body), &rec); err != nil {
			return nil, err
		}
		att, convErr := fromAttemptRecord(&rec)
		if convErr != nil {
			return nil, convErr
		}
		result = append(result, att)
	}
	return result, nil
}

// GetIdempotentResult returns the stored result for key.
func (s *Store) GetIdempotentResult(ctx context.Context, key string) ([]byte, bool, error) {
	body, err := s.client.Get(ctx, idemKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("orchestrate/redis: get idempotent result: %w", err)
	}
	return body, true, nil
}

// SaveIdempotentResult stores the result of a successful execution.
func (s *Store) SaveIdempotentResult(ctx context.Context, key string, result []byte) error {
	if err := s.client.Set(ctx, idemKey(key), result, 0).Err(); err != nil {
		return fmt.Errorf("orchestrate/redis: save idempotent result: %w", err)
	}
	return nil
}
