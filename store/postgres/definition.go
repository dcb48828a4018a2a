package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
)

// CreateDefinition persists a compiled definition. The task graph is
// stored as a JSONB document; adjacency is rebuilt on read.
func (s *Store) CreateDefinition(ctx context.Context, def *graph.Definition) error {
	tasks, err := json.Marshal(def.Tasks)
	if err != nil {
		return fmt.Errorf("orchestrate/postgres: marshal tasks: %w", err)
	}
	metadata, err := json.Marshal(def.Metadata)
	if err != nil {
		return fmt.Errorf("orchestrate/postgres: marshal metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO orchestrate_definitions (id, name, failure_policy, priority, metadata, tasks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		def.ID, def.Name, string(def.FailurePolicy), def.Priority, metadata, tasks, def.CreatedAt, def.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return orchestrate.ErrWorkflowExists
		}
		return fmt.Errorf("orchestrate/postgres: create definition: %w", err)
	}
	return nil
}

// GetDefinition retrieves a definition by ID, recompiled.
func (s *Store) GetDefinition(ctx context.Context, defID id.DefinitionID) (*graph.Definition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, failure_policy, priority, metadata, tasks, created_at, updated_at
		FROM orchestrate_definitions WHERE id = $1`, defID)
	return scanDefinition(row)
}

// ListDefinitions returns all registered definitions, oldest first.
func (s *Store) ListDefinitions(ctx context.Context) ([]*graph.Definition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, failure_policy, priority, metadata, tasks, created_at, updated_at
		FROM orchestrate_definitions ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("orchestrate/postgres: list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*graph.Definition
	for rows.Next() {
		def, scanErr := scanDefinition(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// rowScanner is the common subset of pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*graph.Definition, error) {
	var (
		def      graph.Definition
		policy   string
		metadata []byte
		tasks    []byte
	)
	err := row.Scan(&def.ID, &def.Name, &policy, &def.Priority, &metadata, &tasks, &def.CreatedAt, &def.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, orchestrate.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("orchestrate/postgres: scan definition: %w", err)
	}

	def.FailurePolicy = graph.FailurePolicy(policy)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &def.Metadata); err != nil {
			return nil, fmt.Errorf("orchestrate/postgres: unmarshal metadata: %w", err)
		}
	}
	if err := json.Unmarshal(tasks, &def.Tasks); err != nil {
		return nil, fmt.Errorf("orchestrate/postgres: unmarshal tasks: %w", err)
	}
	if err := def.Compile(); err != nil {
		return nil, fmt.Errorf("orchestrate/postgres: recompile definition: %w", err)
	}
	return &def, nil
}
