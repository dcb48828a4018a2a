// Package cron fires workflow submissions on a schedule. Entries bind
// a cron expression to a registered workflow definition; a tick loop
// submits a new instance whenever an entry comes due.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
)

// SubmitFunc is the callback the scheduler uses to start workflow
// instances. This breaks the import cycle: the orchestrator provides
// the implementation.
type SubmitFunc func(ctx context.Context, defID id.DefinitionID) (id.WorkflowID, error)

// cronParser supports standard 5-field cron and descriptors like
// "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Entry binds a schedule to a workflow definition.
type Entry struct {
	ID           id.CronID       `json:"id"`
	Name         string          `json:"name"`
	Schedule     string          `json:"schedule"`
	DefinitionID id.DefinitionID `json:"definition_id"`
	Enabled      bool            `json:"enabled"`
	LastRunAt    *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time      `json:"next_run_at,omitempty"`

	sched cronlib.Schedule
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due
// entries.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler runs cron entries on a tick loop.
type Scheduler struct {
	submit       SubmitFunc
	logger       *slog.Logger
	tickInterval time.Duration

	mu      sync.Mutex
	entries map[string]*Entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler that starts instances through
// submit.
func NewScheduler(submit SubmitFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		submit:       submit,
		logger:       slog.Default(),
		tickInterval: time.Second,
		entries:      make(map[string]*Entry),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an entry. The expression is validated here; the first
// run is scheduled at the expression's next activation.
func (s *Scheduler) Register(name, expr string, defID id.DefinitionID) (*Entry, error) {
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, fmt.Errorf("cron: parse %q: %w", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return nil, fmt.Errorf("cron: entry %q already registered", name)
	}

	next := sched.Next(time.Now().UTC())
	e := &Entry{
		ID:           id.NewCronID(),
		Name:         name,
		Schedule:     expr,
		DefinitionID: defID,
		Enabled:      true,
		NextRunAt:    &next,
		sched:        sched,
	}
	s.entries[name] = e
	return e, nil
}

// Remove deletes an entry by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, name)
}

// SetEnabled toggles an entry without losing its schedule position.
func (s *Scheduler) SetEnabled(name string, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if ok {
		e.Enabled = enabled
	}
	return ok
}

// Entries returns a snapshot of all entries, sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("cron scheduler started",
		slog.Duration("tick_interval", s.tickInterval))
	return nil
}

// Stop signals the scheduler to stop and waits for the loop to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(time.Now().UTC())
		}
	}
}

// tick fires every enabled entry whose NextRunAt has passed.
func (s *Scheduler) tick(now time.Time) {
	s.mu.Lock()
	var due []*Entry
	for _, e := range s.entries {
		if !e.Enabled || e.NextRunAt == nil || e.NextRunAt.After(now) {
			continue
		}
		due = append(due, e)
	}
	for _, e := range due {
		last := now
		next := e.sched.Next(now)
		e.LastRunAt = &last
		e.NextRunAt = &next
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, e := range due {
		wfID, err := s.submit(ctx, e.DefinitionID)
		if err != nil {
			s.logger.Error("cron submit error",
				slog.String("cron_name", e.Name),
				slog.String("definition_id", e.DefinitionID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Info("cron fired",
			slog.String("cron_name", e.Name),
			slog.String("workflow_id", wfID.String()),
		)
	}
}
