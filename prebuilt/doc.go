// Package prebuilt provides ready-to-use graphs built on the graph package.
//
// # Approval
//
// NewApprovalGraph pauses in step1 until a human picks the next step:
//
//	g, _ := prebuilt.NewApprovalGraph(graph.WithCheckpointer(cp))
//	_, err := g.Invoke(ctx, "t1", nil)          // *graph.GraphInterrupt
//	out, err := g.Resume(ctx, "t1", graph.ResumeWith("step2"))
//
// A decision written with UpdateState before resuming is honored as well.
//
// # Summarizing chat
//
// NewSummarizingChat keeps a conversation in the "messages" field and folds
// older turns into "summary" once the history grows past a threshold.
// ChatAgent wraps it into a session with its own thread id.
//
// # Map-reduce
//
// NewJokeMapReduce asks a model for sub-topics, fans out one generate_joke
// task per subject with graph.Send, collects the jokes with AppendReducer
// and lets the model pick the best one.
//
// # Memory chat
//
// NewMemoryChat answers with a per-user memory read from a long-term
// store.Store and rewrites that memory after every turn. The memory is keyed
// by the "user_id" field, so every thread of a user shares it:
//
//	items := memory.NewMemoryStore()
//	chat, _ := prebuilt.NewMemoryChat(model, items, prebuilt.MemoryChatOptions{})
//	_, err := chat.Invoke(ctx, "t1", graph.State{"user_id": "u1", "messages": msgs})
//
// # Research assistant
//
// NewResearchAssistant generates analyst personas, pauses for editorial
// feedback and then runs one interview subgraph per analyst. Each interview
// checkpoints on its own thread under the parent task, so a question review
// inside an interview pauses and resumes the whole research run.
package prebuilt
