package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/retry"
)

// yamlDefinition is the file schema for declarative workflow
// definitions.
type yamlDefinition struct {
	Name          string            `yaml:"name"`
	FailurePolicy string            `yaml:"failure_policy"`
	Priority      int               `yaml:"priority"`
	Metadata      map[string]string `yaml:"metadata"`
	Tasks         []yamlTask        `yaml:"tasks"`
}

type yamlTask struct {
	ID             string         `yaml:"id"`
	Type           string         `yaml:"type"`
	Payload        map[string]any `yaml:"payload"`
	DependsOn      []string       `yaml:"depends_on"`
	CompensationOf string         `yaml:"compensation_of"`
	Timeout        time.Duration  `yaml:"timeout"`
	IdempotencyKey string         `yaml:"idempotency_key"`
	Priority       int            `yaml:"priority"`
	Branch         bool           `yaml:"branch"`
	BreakerKey     string         `yaml:"breaker_key"`
	Retry          *yamlRetry     `yaml:"retry"`
}

type yamlRetry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Retryable   []string      `yaml:"retryable"`
}

// FromYAML parses a declarative workflow definition. Task payloads are
// YAML mappings re-encoded as JSON so handlers receive the same opaque
// bytes regardless of submission path. The resulting definition is
// validated and compiled before it is returned.
func FromYAML(data []byte) (*Definition, error) {
	var file yamlDefinition
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("graph: parse definition: %w", err)
	}
	if file.Name == "" {
		return nil, fmt.Errorf("%w: definition has no name", orchestrate.ErrInvalidDefinition)
	}

	tasks := make([]TaskDefinition, 0, len(file.Tasks))
	for _, yt := range file.Tasks {
		var payload []byte
		if yt.Payload != nil {
			encoded, err := json.Marshal(yt.Payload)
			if err != nil {
				return nil, fmt.Errorf("graph: encode payload for task %q: %w", yt.ID, err)
			}
			payload = encoded
		}

		policy := retry.Policy{}
		if yt.Retry != nil {
			kinds := make([]orchestrate.ErrorKind, 0, len(yt.Retry.Retryable))
			for _, k := range yt.Retry.Retryable {
				kinds = append(kinds, orchestrate.ErrorKind(k))
			}
			policy = retry.Policy{
				MaxAttempts:    yt.Retry.MaxAttempts,
				BaseDelay:      yt.Retry.BaseDelay,
				Multiplier:     yt.Retry.Multiplier,
				MaxDelay:       yt.Retry.MaxDelay,
				RetryableKinds: kinds,
			}
		}

		tasks = append(tasks, TaskDefinition{
			ID:             yt.ID,
			Type:           yt.Type,
			Payload:        payload,
			Predecessors:   yt.DependsOn,
			CompensationOf: yt.CompensationOf,
			Retry:          policy,
			Timeout:        yt.Timeout,
			IdempotencyKey: yt.IdempotencyKey,
			Priority:       yt.Priority,
			Branch:         yt.Branch,
			BreakerKey:     yt.BreakerKey,
		})
	}

	var opts []Option
	if file.FailurePolicy != "" {
		opts = append(opts, WithFailurePolicy(FailurePolicy(file.FailurePolicy)))
	}
	if file.Metadata != nil {
		opts = append(opts, WithMetadata(file.Metadata))
	}
	if file.Priority != 0 {
		opts = append(opts, WithPriority(file.Priority))
	}

	return New(file.Name, tasks, opts...)
}

// LoadFile reads and parses a YAML workflow definition from disk.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("graph: read %s: %w", path, err)
	}
	return FromYAML(data)
}
