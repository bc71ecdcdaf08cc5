package prebuilt

import (
	"context"
	"fmt"

	"github.com/smallnest/stepgraph/graph"
)

// Approval graph node names.
const (
	ApprovalStep1 = "step1"
	ApprovalStep2 = "step2"
	ApprovalStep3 = "step3"
)

// ApprovalPrompt is the interrupt value raised by step1.
const ApprovalPrompt = "decision required: resume with step2 or step3"

// NewApprovalGraph builds START -> step1 -> (step2 | step3) -> END. step1
// interrupts unless the "decision" field is already set and stores the
// resume value as the decision. step2 and step3 append their name to
// "visited".
func NewApprovalGraph(opts ...graph.CompileOption) (*graph.CompiledGraph, error) {
	g := graph.NewStateGraph()

	step1 := func(ctx context.Context, state graph.State) (any, error) {
		decision, _ := state["decision"].(string)
		if decision == "" {
			v, err := graph.Interrupt(ctx, ApprovalPrompt)
			if err != nil {
				return nil, err
			}
			decision = fmt.Sprint(v)
		}
		return graph.State{"decision": decision}, nil
	}
	visit := func(name string) graph.NodeFunc {
		return func(context.Context, graph.State) (any, error) {
			return graph.State{"visited": []string{name}}, nil
		}
	}

	if err := g.AddNode(ApprovalStep1, "wait for a human decision", step1); err != nil {
		return nil, err
	}
	if err := g.AddNode(ApprovalStep2, "first branch", visit(ApprovalStep2)); err != nil {
		return nil, err
	}
	if err := g.AddNode(ApprovalStep3, "second branch", visit(ApprovalStep3)); err != nil {
		return nil, err
	}

	if err := g.AddEdge(graph.START, ApprovalStep1); err != nil {
		return nil, err
	}
	router := func(_ context.Context, state graph.State) string {
		decision, _ := state["decision"].(string)
		return decision
	}
	labels := map[string]string{
		ApprovalStep2: ApprovalStep2,
		ApprovalStep3: ApprovalStep3,
	}
	if err := g.AddConditionalEdge(ApprovalStep1, router, labels); err != nil {
		return nil, err
	}
	if err := g.AddEdge(ApprovalStep2, graph.END); err != nil {
		return nil, err
	}
	if err := g.AddEdge(ApprovalStep3, graph.END); err != nil {
		return nil, err
	}

	schema := graph.NewMapSchema().RegisterReducer("visited", graph.AppendReducer)
	return g.Compile(append([]graph.CompileOption{graph.WithSchema(schema)}, opts...)...)
}
