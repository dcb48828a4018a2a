package scheduler_test

import (
	"testing"
	"time"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/scheduler"
)

func build(t *testing.T, opts []graph.Option, tasks ...graph.TaskDefinition) (*graph.Definition, *instance.Instance) {
	t.Helper()
	def, err := graph.New("wf", tasks, opts...)
	if err != nil {
		t.Fatalf("graph.New() error: %v", err)
	}
	return def, instance.New(def)
}

func setStatus(inst *instance.Instance, taskID string, st instance.TaskStatus) {
	inst.Tasks[taskID].Status = st
}

func TestPlan_RootsOnly(t *testing.T) {
	def, inst := build(t, nil,
		graph.TaskDefinition{ID: "a", Type: "noop"},
		graph.TaskDefinition{ID: "b", Type: "noop"},
		graph.TaskDefinition{ID: "c", Type: "noop", Predecessors: []string{"a", "b"}},
	)

	d := scheduler.Plan(def, inst, time.Now(), 0)
	if len(d.Dispatch) != 2 || d.Dispatch[0] != "a" || d.Dispatch[1] != "b" {
		t.Errorf("Dispatch = %v, want [a b]", d.Dispatch)
	}
	if len(d.Skip) != 0 {
		t.Errorf("Skip = %v, want empty", d.Skip)
	}
}

func TestPlan_SuccessorAfterAllPredecessorsSettle(t *testing.T) {
	def, inst := build(t, nil,
		graph.TaskDefinition{ID: "a", Type: "noop"},
		graph.TaskDefinition{ID: "b", Type: "noop"},
		graph.TaskDefinition{ID: "c", Type: "noop", Predecessors: []string{"a", "b"}},
	)
	setStatus(inst, "a", instance.TaskSucceeded)

	d := scheduler.Plan(def, inst, time.Now(), 0)
	if len(d.Dispatch) != 1 || d.Dispatch[0] != "b" {
		t.Errorf("Dispatch = %v, want [b] while a's sibling is unsettled", d.Dispatch)
	}

	setStatus(inst, "b", instance.TaskSkipped)
	d = scheduler.Plan(def, inst, time.Now(), 0)
	if len(d.Dispatch) != 1 || d.Dispatch[0] != "c" {
		t.Errorf("Dispatch = %v, want [c] once both predecessors settled", d.Dispatch)
	}
}

func TestPlan_PriorityAndBudget(t *testing.T) {
	def, inst := build(t, nil,
		graph.TaskDefinition{ID: "low", Type: "noop", Priority: 5},
		graph.TaskDefinition{ID: "first", Type: "noop", Priority: 1},
		graph.TaskDefinition{ID: "second", Type: "noop", Priority: 1},
		graph.TaskDefinition{ID: "mid", Type: "noop", Priority: 3},
	)

	d := scheduler.Plan(def, inst, time.Now(), 0)
	want := []string{"first", "second", "mid", "low"}
	if len(d.Dispatch) != len(want) {
		t.Fatalf("Dispatch = %v, want %v", d.Dispatch, want)
	}
	for i, id := range want {
		if d.Dispatch[i] != id {
			t.Errorf("Dispatch[%d] = %q, want %q", i, d.Dispatch[i], id)
		}
	}

	d = scheduler.Plan(def, inst, time.Now(), 2)
	if len(d.Dispatch) != 2 || d.Dispatch[0] != "first" || d.Dispatch[1] != "second" {
		t.Errorf("budgeted Dispatch = %v, want [first second]", d.Dispatch)
	}
}

func TestPlan_HonorsNotBefore(t *testing.T) {
	def, inst := build(t, nil,
		graph.TaskDefinition{ID: "a", Type: "noop"},
	)
	now := time.Now().UTC()
	inst.Tasks["a"].NotBefore = now.Add(time.Minute)

	if d := scheduler.Plan(def, inst, now, 0); len(d.Dispatch) != 0 {
		t.Errorf("Dispatch = %v, want empty before NotBefore", d.Dispatch)
	}
	if d := scheduler.Plan(def, inst, now.Add(2*time.Minute), 0); len(d.Dispatch) != 1 {
		t.Error("task not dispatched after NotBefore passed")
	}
}

func TestPlan_ExcludesCompensationBodies(t *testing.T) {
	def, inst := build(t, nil,
		graph.TaskDefinition{ID: "a", Type: "noop"},
		graph.TaskDefinition{ID: "undo-a", Type: "noop", CompensationOf: "a"},
	)

	d := scheduler.Plan(def, inst, time.Now(), 0)
	if len(d.Dispatch) != 1 || d.Dispatch[0] != "a" {
		t.Errorf("Dispatch = %v, want [a] only", d.Dispatch)
	}
}

func TestPlan_BranchSkipsUnselectedSuccessors(t *testing.T) {
	def, inst := build(t, nil,
		graph.TaskDefinition{ID: "route", Type: "noop", Branch: true},
		graph.TaskDefinition{ID: "card", Type: "noop", Predecessors: []string{"route"}},
		graph.TaskDefinition{ID: "wire", Type: "noop", Predecessors: []string{"route"}},
		graph.TaskDefinition{ID: "receipt", Type: "noop", Predecessors: []string{"card", "wire"}},
	)
	setStatus(inst, "route", instance.TaskSucceeded)
	inst.Tasks["route"].Result = []byte(`{"select": ["card"]}`)

	d := scheduler.Plan(def, inst, time.Now(), 0)
	if len(d.Dispatch) != 1 || d.Dispatch[0] != "card" {
		t.Errorf("Dispatch = %v, want [card]", d.Dispatch)
	}
	if len(d.Skip) != 1 || d.Skip[0] != "wire" {
		t.Errorf("Skip = %v, want [wire]", d.Skip)
	}

	// receipt still runs: one of its predecessor paths stays active.
	setStatus(inst, "wire", instance.TaskSkipped)
	setStatus(inst, "card", instance.TaskSucceeded)
	d = scheduler.Plan(def, inst, time.Now(), 0)
	if len(d.Dispatch) != 1 || d.Dispatch[0] != "receipt" {
		t.Errorf("Dispatch = %v, want [receipt]", d.Dispatch)
	}
	if len(d.Skip) != 0 {
		t.Errorf("Skip = %v, want empty", d.Skip)
	}
}

func TestPlan_SkipPropagatesTransitively(t *testing.T) {
	def, inst := build(t, nil,
		graph.TaskDefinition{ID: "route", Type: "noop", Branch: true},
		graph.TaskDefinition{ID: "x", Type: "noop", Predecessors: []string{"route"}},
		graph.TaskDefinition{ID: "y", Type: "noop", Predecessors: []string{"x"}},
		graph.TaskDefinition{ID: "z", Type: "noop", Predecessors: []string{"y"}},
		graph.TaskDefinition{ID: "other", Type: "noop", Predecessors: []string{"route"}},
	)
	setStatus(inst, "route", instance.TaskSucceeded)
	inst.Tasks["route"].Result = []byte(`{"select": ["other"]}`)

	d := scheduler.Plan(def, inst, time.Now(), 0)
	if len(d.Skip) != 3 {
		t.Fatalf("Skip = %v, want whole chain x y z", d.Skip)
	}
	skipped := map[string]bool{}
	for _, id := range d.Skip {
		skipped[id] = true
	}
	for _, id := range []string{"x", "y", "z"} {
		if !skipped[id] {
			t.Errorf("chain task %q not skipped", id)
		}
	}
	if len(d.Dispatch) != 1 || d.Dispatch[0] != "other" {
		t.Errorf("Dispatch = %v, want [other]", d.Dispatch)
	}
}

func TestPlan_MalformedSelectionConstrainsNothing(t *testing.T) {
	def, inst := build(t, nil,
		graph.TaskDefinition{ID: "route", Type: "noop", Branch: true},
		graph.TaskDefinition{ID: "next", Type: "noop", Predecessors: []string{"route"}},
	)
	setStatus(inst, "route", instance.TaskSucceeded)
	inst.Tasks["route"].Result = []byte(`not json`)

	d := scheduler.Plan(def, inst, time.Now(), 0)
	if len(d.Dispatch) != 1 || d.Dispatch[0] != "next" {
		t.Errorf("Dispatch = %v, want [next]", d.Dispatch)
	}
}

func TestOutcome(t *testing.T) {
	t.Run("all settled completes", func(t *testing.T) {
		def, inst := build(t, nil,
			graph.TaskDefinition{ID: "a", Type: "noop"},
			graph.TaskDefinition{ID: "b", Type: "noop", Predecessors: []string{"a"}},
		)
		setStatus(inst, "a", instance.TaskSucceeded)
		setStatus(inst, "b", instance.TaskSkipped)

		st, done := scheduler.Outcome(def, inst)
		if !done || st != instance.StatusCompleted {
			t.Errorf("Outcome() = %q, %v; want completed, true", st, done)
		}
	})

	t.Run("failure under fail-fast", func(t *testing.T) {
		def, inst := build(t, nil,
			graph.TaskDefinition{ID: "a", Type: "noop"},
			graph.TaskDefinition{ID: "b", Type: "noop"},
		)
		setStatus(inst, "a", instance.TaskFailed)

		st, done := scheduler.Outcome(def, inst)
		if !done || st != instance.StatusFailed {
			t.Errorf("Outcome() = %q, %v; want failed, true", st, done)
		}
	})

	t.Run("failure under compensate", func(t *testing.T) {
		def, inst := build(t, []graph.Option{graph.WithFailurePolicy(graph.Compensate)},
			graph.TaskDefinition{ID: "a", Type: "noop"},
			graph.TaskDefinition{ID: "b", Type: "noop", Predecessors: []string{"a"}},
		)
		setStatus(inst, "a", instance.TaskSucceeded)
		setStatus(inst, "b", instance.TaskFailed)

		st, done := scheduler.Outcome(def, inst)
		if !done || st != instance.StatusCompensating {
			t.Errorf("Outcome() = %q, %v; want compensating, true", st, done)
		}
	})

	t.Run("compensation bodies do not gate completion", func(t *testing.T) {
		def, inst := build(t, nil,
			graph.TaskDefinition{ID: "a", Type: "noop"},
			graph.TaskDefinition{ID: "undo-a", Type: "noop", CompensationOf: "a"},
		)
		setStatus(inst, "a", instance.TaskSucceeded)

		st, done := scheduler.Outcome(def, inst)
		if !done || st != instance.StatusCompleted {
			t.Errorf("Outcome() = %q, %v; want completed, true", st, done)
		}
	})

	t.Run("in flight is not done", func(t *testing.T) {
		def, inst := build(t, nil,
			graph.TaskDefinition{ID: "a", Type: "noop"},
		)
		setStatus(inst, "a", instance.TaskRunning)
		inst.Status = instance.StatusRunning

		if _, done := scheduler.Outcome(def, inst); done {
			t.Error("Outcome() done = true for in-flight instance")
		}
	})
}
