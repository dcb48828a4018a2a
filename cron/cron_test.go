package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/id"
)

type submitRecorder struct {
	mu   sync.Mutex
	defs []id.DefinitionID
}

func (r *submitRecorder) submit(_ context.Context, defID id.DefinitionID) (id.WorkflowID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs = append(r.defs, defID)
	return id.NewWorkflowID(), nil
}

func (r *submitRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.defs)
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"@every 30s", false},
		{"@hourly", false},
		{"not a schedule", true},
		{"* * * *", true},
	}
	for _, tt := range tests {
		_, err := ParseSchedule(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSchedule(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestRegister_ValidatesAndSchedules(t *testing.T) {
	s := NewScheduler((&submitRecorder{}).submit)

	e, err := s.Register("nightly", "@every 1h", id.NewDefinitionID())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if e.NextRunAt == nil || !e.NextRunAt.After(time.Now().UTC()) {
		t.Error("NextRunAt not scheduled in the future")
	}
	if !e.Enabled {
		t.Error("new entries should be enabled")
	}

	if _, err := s.Register("nightly", "@every 1h", id.NewDefinitionID()); err == nil {
		t.Error("duplicate name accepted")
	}
	if _, err := s.Register("bad", "nope", id.NewDefinitionID()); err == nil {
		t.Error("invalid expression accepted")
	}
}

func TestTick_FiresDueEntries(t *testing.T) {
	rec := &submitRecorder{}
	s := NewScheduler(rec.submit)

	defID := id.NewDefinitionID()
	e, err := s.Register("report", "@every 1m", defID)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Not due yet.
	s.tick(time.Now().UTC())
	if rec.count() != 0 {
		t.Fatalf("fired %d times before due", rec.count())
	}

	// Force the entry due and tick past it.
	past := time.Now().UTC().Add(-time.Second)
	s.mu.Lock()
	s.entries["report"].NextRunAt = &past
	s.mu.Unlock()

	now := time.Now().UTC()
	s.tick(now)
	if rec.count() != 1 {
		t.Fatalf("fired %d times, want 1", rec.count())
	}
	if rec.defs[0] != defID {
		t.Error("fired with wrong definition ID")
	}

	// NextRunAt advanced; an immediate second tick must not re-fire.
	s.tick(now)
	if rec.count() != 1 {
		t.Errorf("re-fired before next activation, count = %d", rec.count())
	}
	_ = e
}

func TestTick_SkipsDisabledEntries(t *testing.T) {
	rec := &submitRecorder{}
	s := NewScheduler(rec.submit)

	if _, err := s.Register("report", "@every 1m", id.NewDefinitionID()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !s.SetEnabled("report", false) {
		t.Fatal("SetEnabled returned false for known entry")
	}

	past := time.Now().UTC().Add(-time.Second)
	s.mu.Lock()
	s.entries["report"].NextRunAt = &past
	s.mu.Unlock()

	s.tick(time.Now().UTC())
	if rec.count() != 0 {
		t.Errorf("disabled entry fired %d times", rec.count())
	}
}

func TestStartStop(t *testing.T) {
	rec := &submitRecorder{}
	s := NewScheduler(rec.submit, WithTickInterval(5*time.Millisecond))

	if _, err := s.Register("fast", "@every 1ms", id.NewDefinitionID()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if rec.count() == 0 {
		t.Error("scheduler never fired")
	}
}

func TestEntries_Snapshot(t *testing.T) {
	s := NewScheduler((&submitRecorder{}).submit)
	for _, name := range []string{"b", "a"} {
		if _, err := s.Register(name, "@hourly", id.NewDefinitionID()); err != nil {
			t.Fatalf("Register %s: %v", name, err)
		}
	}

	got := s.Entries()
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Errorf("Entries() = %+v, want sorted [a b]", got)
	}

	s.Remove("a")
	if got := s.Entries(); len(got) != 1 {
		t.Errorf("after Remove, %d entries remain", len(got))
	}
}
