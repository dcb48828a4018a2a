// Package scheduler decides which tasks of a workflow instance are
// ready to dispatch and when an instance has reached a terminal shape.
// It is pure computation over a definition and an instance snapshot;
// the engine applies its decisions through the store.
package scheduler

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/graph"
	"github.com/DNTESCH4TZ/distributed-task-orchestration-platform/instance"
)

// Decision is the outcome of planning one scheduling pass.
type Decision struct {
	// Dispatch lists task definition IDs ready to queue, ordered by
	// priority (lower first, insertion order breaks ties) and capped by
	// the budget.
	Dispatch []string

	// Skip lists task definition IDs that can never run because every
	// predecessor path was skipped or de-selected by a branch.
	Skip []string
}

// branchSelection is the result payload of a succeeded branch task.
type branchSelection struct {
	Select []string `json:"select"`
}

// Plan computes one scheduling pass over the instance snapshot.
//
// A task is ready when it is Pending, its NotBefore has passed, every
// predecessor is settled (Succeeded or Skipped), and at least one
// predecessor path is active. A path through predecessor p is inactive
// when p was skipped, or p is a branch whose selection excludes the
// task. A pending task whose predecessor paths are all inactive is
// skipped instead, and skips propagate transitively.
//
// budget caps the Dispatch list; zero or negative means no cap. Skips
// are never capped, they carry no execution cost.
func Plan(def *graph.Definition, inst *instance.Instance, now time.Time, budget int) Decision {
	skipped := make(map[string]bool)
	for taskID, t := range inst.Tasks {
		if t.Status == instance.TaskSkipped {
			skipped[taskID] = true
		}
	}

	// Selections of succeeded branch tasks. A branch that has not
	// succeeded yet constrains nothing.
	selections := make(map[string]map[string]bool)
	for _, td := range def.ForwardTasks() {
		if !td.Branch {
			continue
		}
		t, ok := inst.Task(td.ID)
		if !ok || t.Status != instance.TaskSucceeded {
			continue
		}
		var sel branchSelection
		if err := json.Unmarshal(t.Result, &sel); err != nil {
			continue // malformed selection skips nothing extra
		}
		chosen := make(map[string]bool, len(sel.Select))
		for _, s := range sel.Select {
			chosen[s] = true
		}
		selections[td.ID] = chosen
	}

	settled := func(taskID string) bool {
		if skipped[taskID] {
			return true
		}
		t, ok := inst.Task(taskID)
		return ok && t.Status.Settled()
	}
	pathActive := func(pred, taskID string) bool {
		if skipped[pred] {
			return false
		}
		if chosen, ok := selections[pred]; ok && !chosen[taskID] {
			return false
		}
		return true
	}

	// Propagate skips to a fixpoint: skipping a task can strand its
	// successors in turn.
	var skips []string
	for changed := true; changed; {
		changed = false
		for _, td := range def.ForwardTasks() {
			t, ok := inst.Task(td.ID)
			if !ok || t.Status != instance.TaskPending || skipped[td.ID] {
				continue
			}
			if len(td.Predecessors) == 0 {
				continue
			}
			allSettled, anyActive := true, false
			for _, pred := range td.Predecessors {
				if !settled(pred) {
					allSettled = false
					break
				}
				if pathActive(pred, td.ID) {
					anyActive = true
				}
			}
			if allSettled && !anyActive {
				skipped[td.ID] = true
				skips = append(skips, td.ID)
				changed = true
			}
		}
	}

	var ready []graph.TaskDefinition
	for _, td := range def.ForwardTasks() {
		t, ok := inst.Task(td.ID)
		if !ok || t.Status != instance.TaskPending || skipped[td.ID] {
			continue
		}
		if !t.NotBefore.IsZero() && t.NotBefore.After(now) {
			continue
		}
		dispatchable := len(td.Predecessors) == 0
		blocked := false
		for _, pred := range td.Predecessors {
			if !settled(pred) {
				blocked = true
				break
			}
			if pathActive(pred, td.ID) {
				dispatchable = true
			}
		}
		if !blocked && dispatchable {
			ready = append(ready, td)
		}
	}

	// Stable sort keeps insertion order within a priority level.
	sort.SliceStable(ready, func(i, k int) bool {
		return ready[i].Priority < ready[k].Priority
	})
	if budget > 0 && len(ready) > budget {
		ready = ready[:budget]
	}

	dispatch := make([]string, len(ready))
	for i, td := range ready {
		dispatch[i] = td.ID
	}
	return Decision{Dispatch: dispatch, Skip: skips}
}

// Outcome inspects the forward tasks of an instance and reports whether
// the forward phase has concluded, and with which instance status.
//
// A failed task concludes the phase immediately: Failed under fail-fast,
// Compensating under the compensate policy. When every forward task is
// settled the instance is Completed.
func Outcome(def *graph.Definition, inst *instance.Instance) (instance.Status, bool) {
	allSettled := true
	for _, td := range def.ForwardTasks() {
		t, ok := inst.Task(td.ID)
		if !ok {
			allSettled = false
			continue
		}
		switch t.Status {
		case instance.TaskFailed:
			if def.FailurePolicy == graph.Compensate {
				return instance.StatusCompensating, true
			}
			return instance.StatusFailed, true
		case instance.TaskCancelled:
			return instance.StatusCancelled, true
		}
		if !t.Status.Settled() {
			allSettled = false
		}
	}
	if allSettled {
		return instance.StatusCompleted, true
	}
	return inst.Status, false
}
