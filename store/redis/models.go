package redis

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
)

// Wire records with plain string IDs. Domain identity types carry
// unexported state that msgpack cannot round-trip, so the boundary
// converts explicitly.

type instanceRecord struct {
	ID                 string     `msgpack:"id"`
	DefinitionID       string     `msgpack:"definition_id"`
	Status             string     `msgpack:"status"`
	Error              string     `msgpack:"error,omitempty"`
	CompensationFailed bool       `msgpack:"compensation_failed,omitempty"`
	StartedAt          *time.Time `msgpack:"started_at,omitempty"`
	CompletedAt        *time.Time `msgpack:"completed_at,omitempty"`
	CreatedAt          time.Time  `msgpack:"created_at"`
	UpdatedAt          time.Time  `msgpack:"updated_at"`
}

type taskRecord struct {
	ID           string     `msgpack:"id"`
	WorkflowID   string     `msgpack:"workflow_id"`
	DefinitionID string     `msgpack:"definition_id"`
	Status       string     `msgpack:"status"`
	Compensation bool       `msgpack:"compensation,omitempty"`
	Attempt      int        `msgpack:"attempt"`
	NotBefore    time.Time  `msgpack:"not_before,omitempty"`
	ErrorKind    string     `msgpack:"error_kind,omitempty"`
	ErrorMessage string     `msgpack:"error_message,omitempty"`
	Result       []byte     `msgpack:"result,omitempty"`
	StartedAt    *time.Time `msgpack:"started_at,omitempty"`
	FinishedAt   *time.Time `msgpack:"finished_at,omitempty"`
	CreatedAt    time.Time  `msgpack:"created_at"`
	UpdatedAt    time.Time  `msgpack:"updated_at"`
}

type attemptRecord struct {
	ID           string    `msgpack:"id"`
	WorkflowID   string    `msgpack:"workflow_id"`
	TaskID       string    `msgpack:"task_id"`
	DefinitionID string    `msgpack:"definition_id"`
	Number       int       `msgpack:"number"`
	StartedAt    time.Time `msgpack:"started_at"`
	FinishedAt   time.Time `msgpack:"finished_at"`
	Outcome      string    `msgpack:"outcome"`
	ErrorKind    string    `msgpack:"error_kind,omitempty"`
	ErrorMessage string    `msgpack:"error_message,omitempty"`
	Replayed     bool      `msgpack:"replayed,omitempty"`
}

func toInstanceRecord(inst *instance.Instance) *instanceRecord {
	return &instanceRecord{
		ID:                 inst.ID.String(),
		DefinitionID:       inst.DefinitionID.String(),
		Status:             string(inst.Status),
		Error:              inst.Error,
		CompensationFailed: inst.CompensationFailed,
		StartedAt:          inst.StartedAt,
		CompletedAt:        inst.CompletedAt,
		CreatedAt:          inst.CreatedAt,
		UpdatedAt:          inst.UpdatedAt,
	}
}

func fromInstanceRecord(rec *instanceRecord) (*instance.Instance, error) {
	wfID, err := id.ParseWorkflowID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrate/redis: parse workflow id: %w", err)
	}
	defID, err := id.ParseDefinitionID(rec.DefinitionID)
	if err != nil {
		return nil, fmt.Errorf("orchestrate/redis: parse definition id: %w", err)
	}

	return &instance.Instance{
		Entity: orchestrate.Entity{
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		},
		ID:                 wfID,
		DefinitionID:       defID,
		Status:             instance.Status(rec.Status),
		Error:              rec.Error,
		CompensationFailed: rec.CompensationFailed,
		StartedAt:          rec.StartedAt,
		CompletedAt:        rec.CompletedAt,
		Tasks:              make(map[string]*instance.Task),
	}, nil
}

func toTaskRecord(t *instance.Task) *taskRecord {
	rec := &taskRecord{
		ID:           t.ID.String(),
		WorkflowID:   t.WorkflowID.String(),
		DefinitionID: t.DefinitionID,
		Status:       string(t.Status),
		Compensation: t.Compensation,
		Attempt:      t.Attempt,
		NotBefore:    t.NotBefore,
		Result:       t.Result,
		StartedAt:    t.StartedAt,
		FinishedAt:   t.FinishedAt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
	if t.LastError != nil {
		rec.ErrorKind = string(t.LastError.Kind)
		rec.ErrorMessage = t.LastError.Message
	}
	return rec
}

func fromTaskRecord(rec *taskRecord) (*instance.Task, error) {
	taskID, err := id.ParseTaskID(rec.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrate/redis: parse task id: %w", err)
	}
	wfID, err := id.ParseWorkflowID(rec.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("orchestrate/redis: parse workflow id: %w", err)
	}

	t := &instance.Task{
		Entity: orchestrate.Entity{
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
		},
		ID:           taskID,
		WorkflowID:   wfID,
		DefinitionID: rec.DefinitionID,
		Status:       instance.TaskStatus(rec.Status),
		Compensation: rec.Compensation,
		Attempt:      rec.Attempt,
		NotBefore:    rec.NotBefore,
		Result:       rec.Result,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
	}
	if rec.ErrorKind != "" || rec.ErrorMessage != "" {
		t.LastError = &instance.TaskError{
			Kind:    orchestrate.ErrorKind(rec.ErrorKind),
			Message: rec.ErrorMessage,
		}
	}
	return t, nil
}

func toAttemptRecord(a *instance.Attempt) *attemptRecord {
	rec := &attemptRecord{
		ID:           a.ID.String(),
		WorkflowID:   a.WorkflowID.String(),
		TaskID:       a.TaskID.String(),
		DefinitionID: a.DefinitionID,
		Number:       a.Number,
		StartedAt:    a.StartedAt,
		FinishedAt:   a.FinishedAt,
		Outcome:      string(a.Outcome),
		Replayed:     a.Replayed,
	}
	if a.Error != nil {
		rec.ErrorKind = string(a.Error.Kind)
		rec.ErrorMessage = a.Error.Message
	}
	return rec
}

func fromAttemptRecord(rec *attemptRecord) (*instance.Attempt, error) {
	wfID, err := id.ParseWorkflowID(rec.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("orchestrate/redis: parse workflow id: %w", err)
	}

	a := &instance.Attempt{
		WorkflowID:   wfID,
		DefinitionID: rec.DefinitionID,
		Number:       rec.Number,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		Outcome:      instance.TaskStatus(rec.Outcome),
		Replayed:     rec.Replayed,
	}
	// Attempt and task IDs are best-effort on read; history survives
	// malformed identity fields.
	if aid, err := id.ParseAttemptID(rec.ID); err == nil {
		a.ID = aid
	}
	if tid, err := id.ParseTaskID(rec.TaskID); err == nil {
		a.TaskID = tid
	}
	if rec.ErrorKind != "" || rec.ErrorMessage != "" {
		a.Error = &instance.TaskError{
			Kind:    orchestrate.ErrorKind(rec.ErrorKind),
			Message: rec.ErrorMessage,
		}
	}
	return a, nil
}

func encode(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("orchestrate/redis: encode: %w", err)
	}
	return b, nil
}

func decode(b []byte, v any) error {
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("orchestrate/redis: decode: %w", err)
	}
	return nil
}
