package graph

import (
	"fmt"

	"github.com/smallnest/stepgraph/store"
)

// Command is a node result that updates state and overrides routing.
type Command struct {
	// Update is merged into state like a plain node result.
	Update State
	// Goto replaces the node's edges for this superstep. It may be a node
	// name, a []string, a Send or a []Send. Nil keeps normal routing.
	Goto any
}

// Send schedules one task of Node that receives Arg instead of the shared state.
type Send struct {
	Node string
	Arg  State
}

// task returns the pending task for s. An empty Arg is stored as no input.
func (s Send) task() store.Task {
	t := store.Task{Node: s.Node, Send: true}
	if len(s.Arg) > 0 {
		t.Input = copyState(s.Arg)
	}
	return t
}

// gotoTasks normalizes a Command's Goto into tasks.
func gotoTasks(target any) ([]store.Task, error) {
	switch t := target.(type) {
	case nil:
		return nil, nil
	case string:
		return []store.Task{{Node: t}}, nil
	case []string:
		tasks := make([]store.Task, 0, len(t))
		for _, n := range t {
			tasks = append(tasks, store.Task{Node: n})
		}
		return tasks, nil
	case Send:
		return []store.Task{t.task()}, nil
	case *Send:
		return []store.Task{t.task()}, nil
	case []Send:
		tasks := make([]store.Task, 0, len(t))
		for _, s := range t {
			tasks = append(tasks, s.task())
		}
		return tasks, nil
	}
	return nil, fmt.Errorf("%w: unsupported goto %T", ErrInvalidNodeResult, target)
}

// nodeResult is the normalized return value of a node.
type nodeResult struct {
	update  State
	gotoSet bool
	goTo    []store.Task
}

func normalizeResult(node string, out any) (nodeResult, error) {
	switch t := out.(type) {
	case nil:
		return nodeResult{}, nil
	case map[string]any:
		return nodeResult{update: t}, nil
	case *Command:
		if t == nil {
			return nodeResult{}, nil
		}
		tasks, err := gotoTasks(t.Goto)
		if err != nil {
			return nodeResult{}, fmt.Errorf("node %s: %w", node, err)
		}
		return nodeResult{update: t.Update, gotoSet: t.Goto != nil, goTo: tasks}, nil
	case Command:
		return normalizeResult(node, &t)
	}
	return nodeResult{}, fmt.Errorf("node %s: %w: %T", node, ErrInvalidNodeResult, out)
}
