package graph

import (
	"fmt"

	orchestrate "github.com/DNTESCH4TZ/distributed-task-orchestration-platform"
)

// dfs colors for cycle detection.
type color uint8

const (
	white color = iota // unvisited
	gray               // on the current DFS path
	black              // fully explored
)

// validate performs the topological feasibility check: unique non-empty
// task IDs, resolvable references, sound compensation wiring, and an
// acyclic forward dependency graph (DFS coloring).
func validate(d *Definition) error {
	if len(d.Tasks) == 0 {
		return orchestrate.ErrEmptyDefinition
	}

	byID := make(map[string]*TaskDefinition, len(d.Tasks))
	for i := range d.Tasks {
		t := &d.Tasks[i]
		if t.ID == "" {
			return fmt.Errorf("%w: task at position %d has empty id", orchestrate.ErrInvalidDefinition, i)
		}
		if t.Type == "" {
			return fmt.Errorf("%w: task %q has empty type", orchestrate.ErrInvalidDefinition, t.ID)
		}
		if _, dup := byID[t.ID]; dup {
			return fmt.Errorf("%w: duplicate task id %q", orchestrate.ErrInvalidDefinition, t.ID)
		}
		byID[t.ID] = t
	}

	compensated := make(map[string]string) // target task -> compensation task
	for i := range d.Tasks {
		t := &d.Tasks[i]

		for _, pred := range t.Predecessors {
			ref, ok := byID[pred]
			if !ok {
				return fmt.Errorf("%w: task %q depends on unknown task %q", orchestrate.ErrDanglingReference, t.ID, pred)
			}
			if pred == t.ID {
				return fmt.Errorf("%w: task %q depends on itself", orchestrate.ErrGraphCycle, t.ID)
			}
			if ref.CompensationOf != "" {
				return fmt.Errorf("%w: task %q depends on compensation task %q", orchestrate.ErrInvalidDefinition, t.ID, pred)
			}
		}

		if t.CompensationOf == "" {
			continue
		}
		target, ok := byID[t.CompensationOf]
		if !ok {
			return fmt.Errorf("%w: compensation %q targets unknown task %q", orchestrate.ErrDanglingReference, t.ID, t.CompensationOf)
		}
		if target.CompensationOf != "" {
			return fmt.Errorf("%w: compensation %q targets another compensation %q", orchestrate.ErrInvalidDefinition, t.ID, t.CompensationOf)
		}
		if len(t.Predecessors) > 0 {
			return fmt.Errorf("%w: compensation %q declares predecessors; compensation order is derived from the forward graph", orchestrate.ErrInvalidDefinition, t.ID)
		}
		if prev, dup := compensated[t.CompensationOf]; dup {
			return fmt.Errorf("%w: task %q has two compensations (%q and %q)", orchestrate.ErrInvalidDefinition, t.CompensationOf, prev, t.ID)
		}
		compensated[t.CompensationOf] = t.ID
	}

	return detectCycle(d.Tasks, byID)
}

// detectCycle runs iterative DFS coloring over the forward graph,
// following predecessor edges. A gray node reached twice is a cycle.
func detectCycle(tasks []TaskDefinition, byID map[string]*TaskDefinition) error {
	colors := make(map[string]color, len(tasks))

	var visit func(taskID string) error
	visit = func(taskID string) error {
		colors[taskID] = gray
		for _, pred := range byID[taskID].Predecessors {
			switch colors[pred] {
			case gray:
				return fmt.Errorf("%w: involving tasks %q and %q", orchestrate.ErrGraphCycle, taskID, pred)
			case white:
				if err := visit(pred); err != nil {
					return err
				}
			}
		}
		colors[taskID] = black
		return nil
	}

	for _, t := range tasks {
		if t.CompensationOf != "" {
			continue
		}
		if colors[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}

	return nil
}
