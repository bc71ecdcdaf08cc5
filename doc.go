// Stepgraph - interruptible step graphs for Go
//
// Stepgraph runs a graph of node functions over a shared map state in
// supersteps. Every superstep is recorded as a checkpoint, so a run can
// pause in the middle of a node, wait for a human and continue later,
// possibly in another process.
//
// # Quick Start
//
//	g := graph.NewStateGraph()
//	g.AddNode("ask", "ask for approval", func(ctx context.Context, s graph.State) (any, error) {
//		answer, err := graph.Interrupt(ctx, "approve?")
//		if err != nil {
//			return nil, err
//		}
//		return graph.State{"approved": answer == "yes"}, nil
//	})
//	g.SetEntryPoint("ask")
//	g.AddEdge("ask", graph.END)
//
//	app, _ := g.Compile(graph.WithCheckpointer(sqliteStore))
//	_, err := app.Invoke(ctx, "thread-1", nil)      // *graph.GraphInterrupt
//	out, _ := app.Resume(ctx, "thread-1", graph.ResumeWith("yes"))
//
// # Packages
//
//   - graph: graph builder, superstep scheduler, reducers, interrupts,
//     streaming, listeners, metrics and diagram export
//   - store: the checkpoint model and its backends (memory, file, sqlite,
//     postgres, redis)
//   - log: leveled logger interface with a golog implementation
//   - llms: chat model interface and an OpenAI compatible client
//   - prebuilt: approval, summarizing chat and map-reduce graphs
//   - server: HTTP API for a compiled graph
//   - cmd/stepgraph: command line runner
//
// # Execution Model
//
// A thread is an append-only chain of checkpoints. Each checkpoint holds the
// state and the tasks of the next superstep. A superstep runs all pending
// tasks against the same state, merges their updates through the schema's
// reducers and writes exactly one checkpoint. When a node calls Interrupt,
// the whole superstep is discarded and an interrupt checkpoint is written
// instead; Resume re-runs the pending tasks with the supplied value.
package stepgraph // import "github.com/smallnest/stepgraph"
