package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/smallnest/stepgraph/store"
)

// MetaParentResumes is the checkpoint metadata key recording how many resume
// values of the parent task a subgraph thread has consumed.
const MetaParentResumes = "parent_resumes"

type parentResumesKey struct{}

func withParentResumes(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, parentResumesKey{}, n)
}

func parentResumes(ctx context.Context) (int, bool) {
	n, ok := ctx.Value(parentResumesKey{}).(int)
	return n, ok
}

// SubgraphConfig maps state between a parent graph and a subgraph node.
type SubgraphConfig struct {
	// Input builds the child input from the node input. Nil passes it unchanged.
	Input func(State) State
	// Output builds the node update from the child's final state. Nil returns
	// the whole final state.
	Output func(State) State
}

// SubgraphThreadID returns the thread on which the subgraph node of a parent
// task runs its child graph. Every scheduled task gets its own thread, kept
// across interrupts and resumes of that task.
func SubgraphThreadID(parentThread, node, taskID string) string {
	return parentThread + "|" + node + ":" + taskID
}

// NewSubgraphNode returns a node that runs child as a nested graph.
//
// The child checkpoints to its own store on a thread namespaced under the
// parent task (see SubgraphThreadID). When the child interrupts, the node
// interrupts the parent with the same value; resuming the parent resumes the
// child from its checkpoint with that value. A child that already finished
// in an earlier attempt of the same task is not run again.
func NewSubgraphNode(name string, child *CompiledGraph, cfg SubgraphConfig) NodeFunc {
	return func(ctx context.Context, state State) (any, error) {
		input := state
		if cfg.Input != nil {
			input = cfg.Input(state)
		}

		threadID := name + "|" + uuid.NewString()
		info := getTaskInfo(ctx)
		if info != nil {
			threadID = SubgraphThreadID(info.threadID, info.node, info.taskID)
		}

		latest, err := child.cfg.store.GetLatest(ctx, threadID)
		if err != nil {
			return nil, fmt.Errorf("subgraph %s: %w", name, err)
		}

		var out State
		consumed := 0
		switch {
		case latest == nil:
			out, err = child.Invoke(withParentResumes(ctx, 0), threadID, input)
		case latest.Terminal():
			out = copyState(latest.State)
		case latest.Interrupt == nil:
			// halted by an error: retry the pending tasks
			consumed = metaInt(latest.Metadata[MetaParentResumes])
			out, err = child.Resume(withParentResumes(ctx, consumed), threadID, ResumeSignal{})
		default:
			consumed = metaInt(latest.Metadata[MetaParentResumes])
			err = child.interruptError(latest)
		}

		if info != nil && info.scope != nil {
			info.scope.advance(consumed)
		}
		for {
			var gi *GraphInterrupt
			if !errors.As(err, &gi) {
				break
			}
			value, ierr := Interrupt(ctx, gi.Value)
			if ierr != nil {
				return nil, ierr
			}
			consumed++
			out, err = child.Resume(withParentResumes(ctx, consumed), threadID, ResumeWith(value))
		}
		if err != nil {
			return nil, fmt.Errorf("subgraph %s: %w", name, err)
		}

		if cfg.Output != nil {
			return cfg.Output(out), nil
		}
		return out, nil
	}
}

// AddSubgraph adds child as the node name of g.
func (g *StateGraph) AddSubgraph(name string, child *CompiledGraph, cfg SubgraphConfig) error {
	if child == nil {
		return fmt.Errorf("subgraph %s: nil graph", name)
	}
	return g.AddNode(name, "Subgraph: "+name, NewSubgraphNode(name, child, cfg))
}

func metaInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// stampParentResumes records the consumed resume count of a subgraph run.
func stampParentResumes(ctx context.Context, cp *store.Checkpoint) {
	n, ok := parentResumes(ctx)
	if !ok {
		return
	}
	if cp.Metadata == nil {
		cp.Metadata = map[string]any{}
	}
	cp.Metadata[MetaParentResumes] = n
}
