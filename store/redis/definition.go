package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
)

// Definitions are stored as JSON: the graph model is a declarative
// document, and JSON keeps it inspectable with redis-cli.

// CreateDefinition stores the definition and registers its ID.
func (s *Store) CreateDefinition(ctx context.Context, def *graph.Definition) error {
	dID := def.ID.String()
	key := defKey(dID)

	body, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("orchestrate/redis: marshal definition: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key, body, 0).Result()
	if err != nil {
		return fmt.Errorf("orchestrate/redis: create definition: %w", err)
	}
	if !ok {
		return orchestrate.ErrWorkflowExists
	}

	if err := s.client.SAdd(ctx, defIDsKey, dID).Err(); err != nil {
		return fmt.Errorf("orchestrate/redis: index definition: %w", err)
	}
	return nil
}

// GetDefinition retrieves a definition by ID, recompiled.
func (s *Store) GetDefinition(ctx context.Context, defID id.DefinitionID) (*graph.Definition, error) {
	return s.getDefinition(ctx, defID.String())
}

func (s *Store) getDefinition(ctx context.Context, dID string) (*graph.Definition, error) {
	body, err := s.client.Get(ctx, defKey(dID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, orchestrate.ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("orchestrate/redis: get definition: %w", err)
	}

	var def graph.Definition
	if err := json.Unmarshal(body, &def); err != nil {
		return nil, fmt.Errorf("orchestrate/redis: unmarshal definition: %w", err)
	}
	if err := def.Compile(); err != nil {
		return nil, fmt.Errorf("orchestrate/redis: recompile definition: %w", err)
	}
	return &def, nil
}

// ListDefinitions returns all registered definitions, oldest first.
func (s *Store) ListDefinitions(ctx context.Context) ([]*graph.Definition, error) {
	ids, err := s.client.SMembers(ctx, defIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("orchestrate/redis: list definitions: %w", err)
	}

	defs := make([]*graph.Definition, 0, len(ids))
	for _, dID := range ids {
		def, getErr := s.getDefinition(ctx, dID)
		if getErr != nil {
			continue // skip records deleted between SMEMBERS and GET
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, k int) bool {
		return defs[i].CreatedAt.Before(defs[k].CreatedAt)
	})
	return defs, nil
}
