package graph

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/smallnest/stepgraph/store"
)

// taskResult is the outcome of one frontier task.
type taskResult struct {
	out      any
	err      error
	duration time.Duration
}

// superstep runs the frontier of cp and commits exactly one checkpoint:
// an interrupt checkpoint holding cp's state and frontier when a task
// interrupted, or a loop checkpoint with the merged state and next frontier.
// On a node error nothing is committed.
func (g *CompiledGraph) superstep(ctx context.Context, cp *store.Checkpoint, listeners []Listener) (*store.Checkpoint, error) {
	step := cp.Step + 1
	tasks := cp.Pending
	results := g.runTasks(ctx, cp, step, tasks, listeners)

	// The first failing task in frontier order decides the outcome.
	for i, res := range results {
		if res.err == nil {
			continue
		}
		var ni *NodeInterrupt
		if errors.As(res.err, &ni) {
			in := &store.Interrupt{
				Node:  tasks[i].Node,
				Task:  i,
				Step:  step,
				Value: ni.Value,
				Index: ni.Index,
				When:  store.InterruptDuring,
			}
			paused := g.newCheckpoint(cp, cp.ThreadID, store.SourceInterrupt, copyState(cp.State), clonePending(tasks), in)
			if err := g.commit(ctx, paused, listeners); err != nil {
				return nil, err
			}
			return paused, nil
		}
		g.cfg.logger.Error("thread %s: node %s failed at step %d: %v", cp.ThreadID, tasks[i].Node, step, res.err)
		return nil, fmt.Errorf("node %s: %w", tasks[i].Node, res.err)
	}

	normalized := make([]nodeResult, len(tasks))
	for i, res := range results {
		nr, err := normalizeResult(tasks[i].Node, res.out)
		if err != nil {
			return nil, err
		}
		normalized[i] = nr
	}

	state, err := g.merge(cp.ThreadID, cp.State, tasks, normalized)
	if err != nil {
		return nil, err
	}

	var next []store.Task
	for i, t := range tasks {
		if normalized[i].gotoSet {
			for _, target := range normalized[i].goTo {
				if target.Node == END {
					continue
				}
				if _, ok := g.nodes[target.Node]; !ok {
					return nil, fmt.Errorf("node %s: goto %w: %s", t.Node, ErrUnknownNode, target.Node)
				}
				next = append(next, target)
			}
			continue
		}
		routed, err := g.route(ctx, t.Node, state)
		if err != nil {
			return nil, err
		}
		next = append(next, routed...)
	}
	next = g.orderFrontier(next)

	done := g.newCheckpoint(cp, cp.ThreadID, store.SourceLoop, state, next, nil)
	if len(next) > 0 {
		if i := g.firstStatic(tasks, g.after); i >= 0 {
			done.Interrupt = &store.Interrupt{Node: tasks[i].Node, Task: i, Step: step, When: store.InterruptAfter}
		}
	}
	if err := g.commit(ctx, done, listeners); err != nil {
		return nil, err
	}
	return done, nil
}

// runTasks invokes every task on its own copy of the input, at most
// parallelism at a time, and returns the results in frontier order.
func (g *CompiledGraph) runTasks(ctx context.Context, cp *store.Checkpoint, step int, tasks []store.Task, listeners []Listener) []taskResult {
	results := make([]taskResult, len(tasks))

	limit := g.cfg.parallelism
	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}
	sem := make(chan struct{}, limit)

	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, task store.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = g.runTask(ctx, cp, step, idx, task, listeners)
		}(i, t)
	}
	wg.Wait()
	return results
}

func (g *CompiledGraph) runTask(ctx context.Context, cp *store.Checkpoint, step, index int, task store.Task, listeners []Listener) (res taskResult) {
	node := g.nodes[task.Node]
	input := copyState(cp.State)
	if task.Send {
		input = copyState(task.Input)
	}

	info := &taskInfo{
		threadID: cp.ThreadID,
		step:     step,
		taskID:   task.ID,
		node:     task.Node,
		scope:    newResumeScope(task.Node, slices.Clone(task.Resumes)),
		items:    g.cfg.items,
	}
	if info.taskID == "" {
		info.taskID = fmt.Sprintf("%d-%d", step, index)
	}
	// A subgraph without its own item store shares the parent's.
	if parent := getTaskInfo(ctx); info.items == nil && parent != nil {
		info.items = parent.items
	}
	ctx = withTaskInfo(ctx, info)

	event := NodeEventInfo{ThreadID: cp.ThreadID, Step: step, Node: task.Node, State: input}
	for _, l := range listeners {
		l.OnNodeEvent(ctx, NodeEventStart, event)
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("panic: %v", r)
		}
		res.duration = time.Since(start)

		event.Duration = res.duration
		kind := NodeEventComplete
		var ni *NodeInterrupt
		switch {
		case errors.As(res.err, &ni):
			kind = NodeEventInterrupt
			event.Err = res.err
		case res.err != nil:
			kind = NodeEventError
			event.Err = res.err
		default:
			event.State = resultUpdate(res.out)
		}
		for _, l := range listeners {
			l.OnNodeEvent(ctx, kind, event)
		}
	}()

	if node == nil {
		res.err = fmt.Errorf("%w: %s", ErrUnknownNode, task.Node)
		return res
	}
	g.cfg.logger.Debug("thread %s: running %s at step %d", cp.ThreadID, task.Node, step)
	res.out, res.err = node.Function(ctx, input)
	return res
}

func resultUpdate(out any) State {
	switch t := out.(type) {
	case map[string]any:
		return t
	case *Command:
		if t != nil {
			return t.Update
		}
	case Command:
		return t.Update
	}
	return nil
}

// merge folds the task updates into a copy of base in frontier order.
// Reducer fields are reduced; overwrite fields written with different values
// by two tasks are resolved by the conflict policy.
func (g *CompiledGraph) merge(threadID string, base State, tasks []store.Task, results []nodeResult) (State, error) {
	state := copyState(base)
	writers := make(map[string]int)

	for i, res := range results {
		for _, k := range sortedKeys(res.update) {
			v := res.update[k]
			if reducer, ok := g.cfg.schema.reducer(k); ok {
				merged, err := reducer(state[k], v)
				if err != nil {
					return nil, fmt.Errorf("node %s: failed to reduce key %s: %w", tasks[i].Node, k, err)
				}
				state[k] = merged
				continue
			}
			if prev, ok := writers[k]; ok && !reflect.DeepEqual(state[k], v) {
				if g.cfg.conflict == ConflictFail {
					return nil, fmt.Errorf("%w: field %q written by %s and %s", ErrConflictingUpdate, k, tasks[prev].Node, tasks[i].Node)
				}
				g.cfg.logger.Warn("thread %s: field %q written by %s and %s, keeping %s", threadID, k, tasks[prev].Node, tasks[i].Node, tasks[i].Node)
			}
			writers[k] = i
			state[k] = v
		}
	}
	return state, nil
}

// route returns the tasks reached from a node over its static edges,
// conditional edges and fan-outs, evaluated on state.
func (g *CompiledGraph) route(ctx context.Context, from string, state State) ([]store.Task, error) {
	targets := g.targets[from]
	branches := g.branches[from]
	fanOuts := g.fanOuts[from]
	if len(targets) == 0 && len(branches) == 0 && len(fanOuts) == 0 {
		if from == START {
			return nil, ErrEntryPointNotSet
		}
		return nil, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, from)
	}

	var tasks []store.Task
	for _, to := range targets {
		if to != END {
			tasks = append(tasks, store.Task{Node: to})
		}
	}

	for _, b := range branches {
		label := b.router(ctx, copyState(state))
		to := label
		if len(b.labels) > 0 {
			mapped, ok := b.labels[label]
			if !ok {
				return nil, &RoutingError{Node: from, Label: label, Known: sortedKeys(b.labels)}
			}
			to = mapped
		} else if _, ok := g.nodes[to]; !ok && to != END {
			return nil, &RoutingError{Node: from, Label: label}
		}
		if to != END {
			tasks = append(tasks, store.Task{Node: to})
		}
	}

	for _, fn := range fanOuts {
		for _, s := range fn(ctx, copyState(state)) {
			if _, ok := g.nodes[s.Node]; !ok {
				return nil, &RoutingError{Node: from, Label: s.Node}
			}
			tasks = append(tasks, s.task())
		}
	}
	return g.orderFrontier(tasks), nil
}

// orderFrontier drops duplicate plain tasks and orders the frontier by node
// registration. Send tasks are never merged and keep their emission order.
func (g *CompiledGraph) orderFrontier(tasks []store.Task) []store.Task {
	if len(tasks) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	out := make([]store.Task, 0, len(tasks))
	for _, t := range tasks {
		if !t.Send {
			if seen[t.Node] {
				continue
			}
			seen[t.Node] = true
		}
		out = append(out, t)
	}
	slices.SortStableFunc(out, func(a, b store.Task) int {
		return g.rank[a.Node] - g.rank[b.Node]
	})
	return out
}

func clonePending(tasks []store.Task) []store.Task {
	cp := &store.Checkpoint{Pending: tasks}
	return cp.Clone().Pending
}
