package graph

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/smallnest/stepgraph/store"
)

// Status is the lifecycle state of a thread.
type Status string

const (
	// StatusRunning means the thread has pending tasks and no interrupt,
	// e.g. a run that stopped on a node error.
	StatusRunning Status = "running"
	// StatusInterrupted means the thread waits for Resume.
	StatusInterrupted Status = "interrupted"
	// StatusTerminal means the last run finished.
	StatusTerminal Status = "terminal"
)

// Snapshot is the view of a thread at one checkpoint.
type Snapshot struct {
	ThreadID     string           `json:"thread_id"`
	CheckpointID string           `json:"checkpoint_id"`
	ParentID     string           `json:"parent_id,omitempty"`
	Step         int              `json:"step"`
	Source       store.Source     `json:"source"`
	Status       Status           `json:"status"`
	Values       State            `json:"values"`
	Next         []string         `json:"next"`
	Interrupt    *store.Interrupt `json:"interrupt,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

func snapshotOf(cp *store.Checkpoint) *Snapshot {
	status := StatusRunning
	switch {
	case cp.Interrupt != nil:
		status = StatusInterrupted
	case len(cp.Pending) == 0:
		status = StatusTerminal
	}
	var in *store.Interrupt
	if cp.Interrupt != nil {
		c := *cp.Interrupt
		in = &c
	}
	return &Snapshot{
		ThreadID:     cp.ThreadID,
		CheckpointID: cp.ID,
		ParentID:     cp.ParentID,
		Step:         cp.Step,
		Source:       cp.Source,
		Status:       status,
		Values:       copyState(cp.State),
		Next:         cp.PendingNodes(),
		Interrupt:    in,
		CreatedAt:    cp.CreatedAt,
	}
}

// CompiledGraph is the frozen, executable form of a StateGraph.
// It is safe for concurrent use; calls on the same thread are serialized.
type CompiledGraph struct {
	nodes    map[string]*Node
	order    []string
	rank     map[string]int
	edges    []Edge
	targets  map[string][]string
	branches map[string][]branch
	fanOuts  map[string][]FanOutFunc
	before   map[string]bool
	after    map[string]bool
	cfg      *compileConfig
	locks    *threadLocks
}

func newCompiledGraph(g *StateGraph, cfg *compileConfig) *CompiledGraph {
	cg := &CompiledGraph{
		nodes:    make(map[string]*Node, len(g.nodes)),
		order:    slices.Clone(g.order),
		rank:     make(map[string]int, len(g.order)),
		edges:    slices.Clone(g.edges),
		targets:  make(map[string][]string),
		branches: make(map[string][]branch, len(g.branches)),
		fanOuts:  make(map[string][]FanOutFunc, len(g.fanOuts)),
		before:   make(map[string]bool),
		after:    make(map[string]bool),
		cfg:      cfg,
		locks:    newThreadLocks(),
	}
	for name, n := range g.nodes {
		c := *n
		cg.nodes[name] = &c
	}
	for i, name := range cg.order {
		cg.rank[name] = i
	}
	for _, e := range cg.edges {
		if !slices.Contains(cg.targets[e.From], e.To) {
			cg.targets[e.From] = append(cg.targets[e.From], e.To)
		}
	}
	for from, bs := range g.branches {
		cg.branches[from] = slices.Clone(bs)
	}
	for from, fs := range g.fanOuts {
		cg.fanOuts[from] = slices.Clone(fs)
	}
	for _, n := range cfg.interruptBefore {
		cg.before[n] = true
	}
	for _, n := range cfg.interruptAfter {
		cg.after[n] = true
	}
	return cg
}

// Nodes returns the node names in registration order.
func (g *CompiledGraph) Nodes() []string {
	return slices.Clone(g.order)
}

// Store returns the checkpoint store of the graph.
func (g *CompiledGraph) Store() store.CheckpointStore {
	return g.cfg.store
}

// Items returns the long-term item store of the graph, or nil.
func (g *CompiledGraph) Items() store.Store {
	return g.cfg.items
}

func (g *CompiledGraph) newCheckpoint(parent *store.Checkpoint, threadID string, source store.Source, state State, pending []store.Task, interrupt *store.Interrupt) *store.Checkpoint {
	cp := &store.Checkpoint{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		Source:    source,
		State:     state,
		Pending:   pending,
		Interrupt: interrupt,
		CreatedAt: time.Now(),
	}
	if parent != nil {
		cp.Step = parent.Step + 1
		cp.ParentID = parent.ID
	}
	for i := range pending {
		if pending[i].ID == "" {
			pending[i].ID = uuid.NewString()
		}
	}
	return cp
}

func (g *CompiledGraph) commit(ctx context.Context, cp *store.Checkpoint, listeners []Listener) error {
	stampParentResumes(ctx, cp)
	if err := g.cfg.store.Append(ctx, cp); err != nil {
		return fmt.Errorf("failed to append checkpoint for thread %s: %w", cp.ThreadID, err)
	}
	g.cfg.logger.Debug("thread %s: %s checkpoint at step %d, next %v", cp.ThreadID, cp.Source, cp.Step, cp.PendingNodes())
	for _, l := range listeners {
		l.OnSuperstep(ctx, cp)
	}
	return nil
}

// Invoke starts a run on threadID. The input is merged into the thread's
// latest state through the schema and execution starts from START; a
// pending interrupt on the thread is discarded.
//
// When the run pauses, Invoke returns the frozen state together with a
// *GraphInterrupt error.
func (g *CompiledGraph) Invoke(ctx context.Context, threadID string, input State) (State, error) {
	return g.invoke(ctx, threadID, input, g.cfg.listeners)
}

func (g *CompiledGraph) invoke(ctx context.Context, threadID string, input State, listeners []Listener) (State, error) {
	if threadID == "" {
		return nil, fmt.Errorf("%w: missing thread id", store.ErrInvalidCheckpoint)
	}
	unlock := g.locks.lock(threadID)
	defer unlock()

	latest, err := g.cfg.store.GetLatest(ctx, threadID)
	if err != nil {
		return nil, err
	}

	var base State
	if latest != nil {
		base = latest.State
	}
	state, err := g.cfg.schema.Update(base, input)
	if err != nil {
		return nil, fmt.Errorf("failed to merge input: %w", err)
	}

	pending, err := g.route(ctx, START, state)
	if err != nil {
		return nil, err
	}

	cp := g.newCheckpoint(latest, threadID, store.SourceInput, state, pending, nil)
	if err := g.commit(ctx, cp, listeners); err != nil {
		return nil, err
	}
	g.cfg.logger.Info("thread %s: run started at step %d", threadID, cp.Step)
	return g.loop(ctx, cp, false, listeners)
}

// Resume continues an interrupted thread. A value set with ResumeWith is
// returned by the pending Interrupt call when the interrupted node is
// re-executed; a patch set with WithPatch is merged first as an update
// checkpoint.
//
// Resume fails with ErrNoPendingInterrupt, changing nothing, when the thread
// is unknown or terminal, or when a value is given but the thread is not
// interrupted. A zero ResumeSignal on a thread halted by a node error
// retries its pending tasks.
func (g *CompiledGraph) Resume(ctx context.Context, threadID string, sig ResumeSignal) (State, error) {
	return g.resume(ctx, threadID, sig, g.cfg.listeners)
}

func (g *CompiledGraph) resume(ctx context.Context, threadID string, sig ResumeSignal, listeners []Listener) (State, error) {
	unlock := g.locks.lock(threadID)
	defer unlock()

	latest, err := g.cfg.store.GetLatest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: thread %s has no checkpoints", ErrNoPendingInterrupt, threadID)
	}
	if latest.Terminal() {
		return nil, fmt.Errorf("%w: thread %s is terminal", ErrNoPendingInterrupt, threadID)
	}
	if sig.hasValue && latest.Interrupt == nil {
		return nil, fmt.Errorf("%w: thread %s is halted but not interrupted", ErrNoPendingInterrupt, threadID)
	}

	cp := latest
	if sig.patch != nil {
		state, err := g.cfg.schema.Update(cp.State, sig.patch)
		if err != nil {
			return nil, fmt.Errorf("failed to merge resume patch: %w", err)
		}
		patched := g.newCheckpoint(cp, threadID, store.SourceUpdate, state, cp.Pending, cp.Interrupt)
		if err := g.commit(ctx, patched, listeners); err != nil {
			return nil, err
		}
		cp = patched
	}

	start := cp.Clone()
	start.Interrupt = nil
	skipBefore := false
	if in := cp.Interrupt; in != nil {
		skipBefore = in.When != store.InterruptAfter
		if sig.hasValue {
			if in.When != store.InterruptDuring || in.Task < 0 || in.Task >= len(start.Pending) {
				g.cfg.logger.Warn("thread %s: resume value ignored for %s interrupt at %s", threadID, in.When, in.Node)
			} else {
				task := &start.Pending[in.Task]
				task.Resumes = append(task.Resumes, sig.value)
			}
		}
	}

	g.cfg.logger.Info("thread %s: resuming at step %d", threadID, cp.Step)
	return g.loop(ctx, start, skipBefore, listeners)
}

// GetState returns the latest snapshot of a thread, or store.ErrNotFound.
func (g *CompiledGraph) GetState(ctx context.Context, threadID string) (*Snapshot, error) {
	latest, err := g.cfg.store.GetLatest(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, threadID)
	}
	return snapshotOf(latest), nil
}

// History returns every snapshot of a thread, oldest first.
func (g *CompiledGraph) History(ctx context.Context, threadID string) ([]*Snapshot, error) {
	cps, err := g.cfg.store.List(ctx, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]*Snapshot, 0, len(cps))
	for _, cp := range cps {
		out = append(out, snapshotOf(cp))
	}
	return out, nil
}

// UpdateState merges patch into the thread's latest state through the
// schema and appends an update checkpoint.
//
// With an empty asNode the pending tasks and interrupt are kept, so a later
// Resume re-executes the interrupted node against the amended state. With
// asNode the patch counts as that node's output: the pending tasks are
// recomputed from asNode's edges and the interrupt is cleared.
func (g *CompiledGraph) UpdateState(ctx context.Context, threadID string, patch State, asNode string) error {
	if threadID == "" {
		return fmt.Errorf("%w: missing thread id", store.ErrInvalidCheckpoint)
	}
	if asNode != "" {
		if _, ok := g.nodes[asNode]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownNode, asNode)
		}
	}

	unlock := g.locks.lock(threadID)
	defer unlock()

	latest, err := g.cfg.store.GetLatest(ctx, threadID)
	if err != nil {
		return err
	}

	var (
		base      State
		pending   []store.Task
		interrupt *store.Interrupt
	)
	if latest != nil {
		base = latest.State
		pending = latest.Pending
		interrupt = latest.Interrupt
	}

	state, err := g.cfg.schema.Update(base, patch)
	if err != nil {
		return fmt.Errorf("failed to merge patch: %w", err)
	}

	if asNode != "" {
		pending, err = g.route(ctx, asNode, state)
		if err != nil {
			return err
		}
		interrupt = nil
	}

	cp := g.newCheckpoint(latest, threadID, store.SourceUpdate, state, pending, interrupt)
	if asNode != "" {
		cp.Metadata = map[string]any{"as_node": asNode}
	}
	return g.commit(ctx, cp, g.cfg.listeners)
}

// DeleteThread removes the whole history of a thread.
func (g *CompiledGraph) DeleteThread(ctx context.Context, threadID string) error {
	unlock := g.locks.lock(threadID)
	defer unlock()
	return g.cfg.store.Delete(ctx, threadID)
}

func (g *CompiledGraph) interruptError(cp *store.Checkpoint) *GraphInterrupt {
	return &GraphInterrupt{
		Node:  cp.Interrupt.Node,
		Step:  cp.Step,
		Value: cp.Interrupt.Value,
		When:  cp.Interrupt.When,
		State: copyState(cp.State),
		Next:  cp.PendingNodes(),
	}
}

// loop runs supersteps from cp until the thread is terminal, pauses or fails.
func (g *CompiledGraph) loop(ctx context.Context, cp *store.Checkpoint, skipBefore bool, listeners []Listener) (State, error) {
	for steps := 0; ; steps++ {
		if len(cp.Pending) == 0 {
			g.cfg.logger.Info("thread %s: run finished at step %d", cp.ThreadID, cp.Step)
			return copyState(cp.State), nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if g.cfg.maxSteps > 0 && steps >= g.cfg.maxSteps {
			return nil, fmt.Errorf("%w: %d supersteps on thread %s", ErrRecursionLimit, g.cfg.maxSteps, cp.ThreadID)
		}

		if !skipBefore {
			if i := g.firstStatic(cp.Pending, g.before); i >= 0 {
				in := &store.Interrupt{Node: cp.Pending[i].Node, Task: i, Step: cp.Step + 1, When: store.InterruptBefore}
				paused := g.newCheckpoint(cp, cp.ThreadID, store.SourceInterrupt, cp.State, cp.Pending, in)
				if err := g.commit(ctx, paused, listeners); err != nil {
					return nil, err
				}
				return g.paused(ctx, paused, listeners)
			}
		}
		skipBefore = false

		next, err := g.superstep(ctx, cp, listeners)
		if err != nil {
			return nil, err
		}
		if next.Interrupt != nil {
			return g.paused(ctx, next, listeners)
		}
		cp = next
	}
}

func (g *CompiledGraph) paused(ctx context.Context, cp *store.Checkpoint, listeners []Listener) (State, error) {
	gi := g.interruptError(cp)
	g.cfg.logger.Info("thread %s: interrupted %s %s at step %d", cp.ThreadID, gi.When, gi.Node, cp.Step)
	for _, l := range listeners {
		l.OnInterrupt(ctx, cp.ThreadID, gi)
	}
	return copyState(cp.State), gi
}

// firstStatic returns the index of the first task whose node is in set, or -1.
func (g *CompiledGraph) firstStatic(tasks []store.Task, set map[string]bool) int {
	if len(set) == 0 {
		return -1
	}
	for i, t := range tasks {
		if set[t.Node] {
			return i
		}
	}
	return -1
}
