package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/store/memory"
)

func newDef(t *testing.T) *graph.Definition {
	t.Helper()
	def, err := graph.New("payments", []graph.TaskDefinition{
		{ID: "a", Type: "noop"},
		{ID: "b", Type: "noop", Predecessors: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("graph.New() error: %v", err)
	}
	return def
}

func TestDefinitionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	def := newDef(t)

	if err := s.CreateDefinition(ctx, def); err != nil {
		t.Fatalf("CreateDefinition() error: %v", err)
	}
	if err := s.CreateDefinition(ctx, def); !errors.Is(err, orchestrate.ErrWorkflowExists) {
		t.Errorf("duplicate CreateDefinition() error = %v, want ErrWorkflowExists", err)
	}

	got, err := s.GetDefinition(ctx, def.ID)
	if err != nil {
		t.Fatalf("GetDefinition() error: %v", err)
	}
	if got.Name != "payments" || len(got.Tasks) != 2 {
		t.Errorf("GetDefinition() = %q with %d tasks", got.Name, len(got.Tasks))
	}

	defs, err := s.ListDefinitions(ctx)
	if err != nil || len(defs) != 1 {
		t.Errorf("ListDefinitions() = %d defs, err %v", len(defs), err)
	}
}

func TestInstanceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	def := newDef(t)
	inst := instance.New(def)

	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance() error: %v", err)
	}

	got, err := s.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance() error: %v", err)
	}
	if got.Status != instance.StatusPending || len(got.Tasks) != 2 {
		t.Errorf("GetInstance() status=%q tasks=%d", got.Status, len(got.Tasks))
	}

	// Handed-out records must not alias the store's own.
	got.Tasks["a"].Status = instance.TaskSucceeded
	again, _ := s.GetInstance(ctx, inst.ID)
	if again.Tasks["a"].Status != instance.TaskPending {
		t.Error("mutating a returned instance leaked into the store")
	}
}

func TestUpdateInstance_PreservesTasks(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	inst := instance.New(newDef(t))
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance() error: %v", err)
	}

	queued := *inst.Tasks["a"]
	queued.Status = instance.TaskQueued
	if err := s.CompareAndSwapTask(ctx, inst.ID, "a", instance.TaskPending, &queued); err != nil {
		t.Fatalf("CompareAndSwapTask() error: %v", err)
	}

	inst.Status = instance.StatusRunning
	if err := s.UpdateInstance(ctx, inst); err != nil {
		t.Fatalf("UpdateInstance() error: %v", err)
	}

	got, _ := s.GetInstance(ctx, inst.ID)
	if got.Status != instance.StatusRunning {
		t.Errorf("status = %q, want running", got.Status)
	}
	if got.Tasks["a"].Status != instance.TaskQueued {
		t.Error("UpdateInstance overwrote task records")
	}
}

func TestCompareAndSwapTask(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	inst := instance.New(newDef(t))
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance() error: %v", err)
	}

	upd := *inst.Tasks["a"]
	upd.Status = instance.TaskQueued

	if err := s.CompareAndSwapTask(ctx, inst.ID, "a", instance.TaskPending, &upd); err != nil {
		t.Fatalf("CompareAndSwapTask() error: %v", err)
	}

	// Stale expectation loses.
	err := s.CompareAndSwapTask(ctx, inst.ID, "a", instance.TaskPending, &upd)
	if !errors.Is(err, orchestrate.ErrConcurrentModification) {
		t.Errorf("stale swap error = %v, want ErrConcurrentModification", err)
	}

	// Illegal transition rejected even with matching expectation.
	bad := upd
	bad.Status = instance.TaskCompensated
	err = s.CompareAndSwapTask(ctx, inst.ID, "a", instance.TaskQueued, &bad)
	if !errors.Is(err, orchestrate.ErrInvalidState) {
		t.Errorf("illegal transition error = %v, want ErrInvalidState", err)
	}

	// Same-status rewrite (e.g. bumping NotBefore) is allowed.
	same := upd
	same.NotBefore = time.Now().UTC().Add(time.Minute)
	if err := s.CompareAndSwapTask(ctx, inst.ID, "a", instance.TaskQueued, &same); err != nil {
		t.Errorf("same-status swap error: %v", err)
	}

	if err := s.CompareAndSwapTask(ctx, inst.ID, "ghost", instance.TaskPending, &upd); !errors.Is(err, orchestrate.ErrTaskNotFound) {
		t.Errorf("unknown task error = %v, want ErrTaskNotFound", err)
	}
}

func TestListInstances_FilterAndPage(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	def := newDef(t)

	var running *instance.Instance
	for i := 0; i < 3; i++ {
		inst := instance.New(def)
		if i == 1 {
			inst.Status = instance.StatusRunning
			running = inst
		}
		if err := s.CreateInstance(ctx, inst); err != nil {
			t.Fatalf("CreateInstance() error: %v", err)
		}
	}

	got, err := s.ListInstances(ctx, instance.ListOpts{Status: instance.StatusRunning})
	if err != nil {
		t.Fatalf("ListInstances() error: %v", err)
	}
	if len(got) != 1 || got[0].ID != running.ID {
		t.Errorf("status filter returned %d instances", len(got))
	}

	got, _ = s.ListInstances(ctx, instance.ListOpts{Limit: 2})
	if len(got) != 2 {
		t.Errorf("Limit=2 returned %d instances", len(got))
	}
	got, _ = s.ListInstances(ctx, instance.ListOpts{Offset: 5})
	if len(got) != 0 {
		t.Errorf("Offset past end returned %d instances", len(got))
	}
}

func TestListReadyTasks(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	inst := instance.New(newDef(t))
	inst.Status = instance.StatusRunning
	inst.Tasks["b"].NotBefore = time.Now().UTC().Add(time.Hour)
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance() error: %v", err)
	}

	// A pending instance is not being driven; its tasks are not ready.
	idle := instance.New(newDef(t))
	if err := s.CreateInstance(ctx, idle); err != nil {
		t.Fatalf("CreateInstance() error: %v", err)
	}

	ready, err := s.ListReadyTasks(ctx, 0)
	if err != nil {
		t.Fatalf("ListReadyTasks() error: %v", err)
	}
	if len(ready) != 1 || ready[0].DefinitionID != "a" {
		t.Fatalf("ListReadyTasks() = %v, want just task a", ready)
	}
}

func TestAttemptsAndIdempotency(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	inst := instance.New(newDef(t))

	for n := 1; n <= 2; n++ {
		err := s.RecordAttempt(ctx, &instance.Attempt{
			WorkflowID:   inst.ID,
			DefinitionID: "a",
			Number:       n,
			Outcome:      instance.TaskFailed,
			Error:        &instance.TaskError{Kind: orchestrate.KindHandler, Message: "boom"},
		})
		if err != nil {
			t.Fatalf("RecordAttempt() error: %v", err)
		}
	}

	atts, err := s.ListAttempts(ctx, inst.ID, "a")
	if err != nil {
		t.Fatalf("ListAttempts() error: %v", err)
	}
	if len(atts) != 2 || atts[0].Number != 1 || atts[1].Number != 2 {
		t.Errorf("ListAttempts() = %d attempts, want 2 in order", len(atts))
	}

	if _, ok, _ := s.GetIdempotentResult(ctx, "charge:wf/a"); ok {
		t.Error("GetIdempotentResult() hit before save")
	}
	if err := s.SaveIdempotentResult(ctx, "charge:wf/a", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("SaveIdempotentResult() error: %v", err)
	}
	res, ok, err := s.GetIdempotentResult(ctx, "charge:wf/a")
	if err != nil || !ok || string(res) != `{"ok":true}` {
		t.Errorf("GetIdempotentResult() = %q, %v, %v", res, ok, err)
	}
}
