// Package graph provides the step-graph engine: a graph builder, a
// superstep scheduler and interrupt/resume over persisted checkpoints.
//
// # Building
//
// A StateGraph registers nodes and edges and is frozen by Compile. Nodes
// read a private copy of the shared State and return the fields they
// update, a *Command, or nil.
//
//	g := graph.NewStateGraph()
//	g.AddNode("step1", "ask for a decision", func(ctx context.Context, s graph.State) (any, error) {
//		if s["decision"] == "" {
//			answer, err := graph.Interrupt(ctx, "approve?")
//			if err != nil {
//				return nil, err
//			}
//			return graph.State{"decision": answer}, nil
//		}
//		return nil, nil
//	})
//	g.AddNode("step2", "", step2)
//	g.AddEdge(graph.START, "step1")
//	g.AddEdge("step1", "step2")
//	g.AddEdge("step2", graph.END)
//
//	cg, err := g.Compile(graph.WithCheckpointer(memory.NewMemoryCheckpointStore()))
//
// # Running
//
// Execution proceeds in supersteps. Every task of the frontier runs on the
// state as of the start of the superstep, the updates are merged through the
// MapSchema reducers in node registration order, and exactly one checkpoint
// is appended. Two tasks writing different values to a field without a
// reducer is resolved by the ConflictPolicy.
//
// # Interrupts
//
// A node pauses its thread by returning the error of Interrupt. The
// superstep's updates are discarded and the checkpoint keeps the frontier.
// Resume re-executes the interrupted node from its start; its k-th
// Interrupt call now returns the k-th resume value.
//
//	_, err = cg.Invoke(ctx, "t1", graph.State{"decision": ""})
//	// err is a *graph.GraphInterrupt
//	final, err := cg.Resume(ctx, "t1", graph.ResumeWith("step2"))
//
// GetState, UpdateState and History inspect and amend a thread between runs.
package graph
