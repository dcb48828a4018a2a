package orchestrate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds configuration for the orchestration engine.
type Config struct {
	// MaxInFlight is the maximum number of tasks executing concurrently
	// within a single workflow instance (backpressure).
	MaxInFlight int `yaml:"max_in_flight"`

	// MaxTasksPerWorkflow caps the number of task definitions a single
	// workflow definition may contain. Submissions above the cap are
	// rejected.
	MaxTasksPerWorkflow int `yaml:"max_tasks_per_workflow"`

	// DefaultTaskTimeout applies to task definitions without an explicit
	// timeout.
	DefaultTaskTimeout time.Duration `yaml:"default_task_timeout"`

	// AbandonGrace is how long after cancellation the runner waits for a
	// handler to observe the cancel signal before abandoning it and
	// discarding its result.
	AbandonGrace time.Duration `yaml:"abandon_grace"`

	// PollInterval is how often the control loop re-evaluates readiness
	// when waiting on a retry's not-before delay.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// BreakerFailMax is the consecutive-failure threshold that opens a
	// circuit for a dependency key.
	BreakerFailMax int `yaml:"breaker_fail_max"`

	// BreakerTimeout is how long an open circuit waits before allowing a
	// half-open probe.
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:         10,
		MaxTasksPerWorkflow: 1000,
		DefaultTaskTimeout:  5 * time.Minute,
		AbandonGrace:        5 * time.Second,
		PollInterval:        100 * time.Millisecond,
		ShutdownTimeout:     30 * time.Second,
		BreakerFailMax:      5,
		BreakerTimeout:      60 * time.Second,
	}
}

// LoadConfig reads a YAML configuration file and merges it over the
// defaults. Zero-valued fields in the file keep their default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("orchestrate: read config %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("orchestrate: parse config %s: %w", path, err)
	}

	cfg.merge(file)
	return cfg, nil
}

// merge overlays non-zero fields from other onto c.
func (c *Config) merge(other Config) {
	if other.MaxInFlight > 0 {
		c.MaxInFlight = other.MaxInFlight
	}
	if other.MaxTasksPerWorkflow > 0 {
		c.MaxTasksPerWorkflow = other.MaxTasksPerWorkflow
	}
	if other.DefaultTaskTimeout > 0 {
		c.DefaultTaskTimeout = other.DefaultTaskTimeout
	}
	if other.AbandonGrace > 0 {
		c.AbandonGrace = other.AbandonGrace
	}
	if other.PollInterval > 0 {
		c.PollInterval = other.PollInterval
	}
	if other.ShutdownTimeout > 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.BreakerFailMax > 0 {
		c.BreakerFailMax = other.BreakerFailMax
	}
	if other.BreakerTimeout > 0 {
		c.BreakerTimeout = other.BreakerTimeout
	}
}
