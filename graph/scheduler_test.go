package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallnest/stepgraph/store"
	"github.com/smallnest/stepgraph/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func history(t *testing.T, cg *CompiledGraph, threadID string) []*store.Checkpoint {
	t.Helper()
	cps, err := cg.Store().List(context.Background(), threadID)
	require.NoError(t, err)
	return cps
}

func TestInvoke_Linear(t *testing.T) {
	g := NewStateGraph()
	require.NoError(t, g.AddNode("a", "", set("a", "done")))
	require.NoError(t, g.AddNode("b", "", set("b", "done")))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", END))

	cg, err := g.Compile()
	require.NoError(t, err)

	out, err := cg.Invoke(context.Background(), "t1", State{"input": 1})
	require.NoError(t, err)
	assert.Equal(t, State{"input": 1, "a": "done", "b": "done"}, out)

	cps := history(t, cg, "t1")
	require.Len(t, cps, 3)
	assert.Equal(t, store.SourceInput, cps[0].Source)
	assert.Equal(t, []string{"a"}, cps[0].PendingNodes())
	assert.Equal(t, store.SourceLoop, cps[1].Source)
	assert.Equal(t, []string{"b"}, cps[1].PendingNodes())
	assert.True(t, cps[2].Terminal())
	for i, cp := range cps {
		assert.Equal(t, i, cp.Step)
		if i > 0 {
			assert.Equal(t, cps[i-1].ID, cp.ParentID)
		}
	}
}

func TestInvoke_Deterministic(t *testing.T) {
	build := func() *CompiledGraph {
		g := NewStateGraph()
		schema := NewMapSchema().RegisterReducer("trail", AppendReducer)
		for _, n := range []string{"a", "b", "c", "d"} {
			name := n
			require.NoError(t, g.AddNode(name, "", func(_ context.Context, s State) (any, error) {
				time.Sleep(time.Millisecond)
				return State{"trail": name, name: len(s)}, nil
			}))
		}
		require.NoError(t, g.AddEdge(START, "a"))
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("a", "c"))
		require.NoError(t, g.AddEdge("b", "d"))
		require.NoError(t, g.AddEdge("c", "d"))
		require.NoError(t, g.AddEdge("d", END))
		cg, err := g.Compile(WithSchema(schema))
		require.NoError(t, err)
		return cg
	}

	var finals []State
	var counts []int
	for i := 0; i < 5; i++ {
		cg := build()
		thread := fmt.Sprintf("run-%d", i)
		out, err := cg.Invoke(context.Background(), thread, State{"seed": "x"})
		require.NoError(t, err)
		finals = append(finals, out)
		counts = append(counts, len(history(t, cg, thread)))
	}

	for i := 1; i < len(finals); i++ {
		assert.Equal(t, finals[0], finals[i])
		assert.Equal(t, counts[0], counts[i])
	}
	// b and c run in one superstep and merge in registration order; d runs once.
	assert.Equal(t, []string{"a", "b", "c", "d"}, finals[0]["trail"])
	assert.Equal(t, 4, counts[0])
}

func TestSuperstep_NodesSeePreStepState(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]State{}
	record := func(name string) NodeFunc {
		return func(_ context.Context, s State) (any, error) {
			mu.Lock()
			seen[name] = s
			mu.Unlock()
			s["scribble"] = name
			return State{name: true}, nil
		}
	}

	g := NewStateGraph()
	require.NoError(t, g.AddNode("x", "", record("x")))
	require.NoError(t, g.AddNode("y", "", record("y")))
	require.NoError(t, g.AddEdge(START, "x"))
	require.NoError(t, g.AddEdge(START, "y"))
	require.NoError(t, g.AddEdge("x", END))
	require.NoError(t, g.AddEdge("y", END))

	cg, err := g.Compile()
	require.NoError(t, err)

	out, err := cg.Invoke(context.Background(), "t1", State{"v": 1})
	require.NoError(t, err)

	assert.Equal(t, State{"v": 1, "x": true, "y": true}, out)
	assert.NotContains(t, seen["x"], "y")
	assert.NotContains(t, seen["y"], "x")
}

func parallelWriters(t *testing.T, opts ...CompileOption) *CompiledGraph {
	g := NewStateGraph()
	require.NoError(t, g.AddNode("first", "", set("answer", "first")))
	require.NoError(t, g.AddNode("second", "", set("answer", "second")))
	require.NoError(t, g.AddEdge(START, "second"))
	require.NoError(t, g.AddEdge(START, "first"))
	require.NoError(t, g.AddEdge("first", END))
	require.NoError(t, g.AddEdge("second", END))
	cg, err := g.Compile(opts...)
	require.NoError(t, err)
	return cg
}

func TestMerge_ConflictFail(t *testing.T) {
	cg := parallelWriters(t)

	_, err := cg.Invoke(context.Background(), "t1", nil)
	assert.ErrorIs(t, err, ErrConflictingUpdate)
	assert.ErrorContains(t, err, `"answer"`)

	// Nothing was committed after the input checkpoint.
	cps := history(t, cg, "t1")
	require.Len(t, cps, 1)
	assert.Equal(t, []string{"first", "second"}, cps[0].PendingNodes())
}

func TestMerge_ConflictLastWriter(t *testing.T) {
	cg := parallelWriters(t, WithConflictPolicy(ConflictLastWriter))

	out, err := cg.Invoke(context.Background(), "t1", nil)
	require.NoError(t, err)
	// Registration order: first, then second.
	assert.Equal(t, "second", out["answer"])
}

func TestMerge_EqualWritesDoNotConflict(t *testing.T) {
	g := NewStateGraph()
	require.NoError(t, g.AddNode("a", "", set("status", "ok")))
	require.NoError(t, g.AddNode("b", "", set("status", "ok")))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge(START, "b"))
	require.NoError(t, g.AddEdge("a", END))
	require.NoError(t, g.AddEdge("b", END))
	cg, err := g.Compile()
	require.NoError(t, err)

	out, err := cg.Invoke(context.Background(), "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out["status"])
}

func TestConditionalEdge_ChoiceScenario(t *testing.T) {
	g := NewStateGraph()
	require.NoError(t, g.AddNode("a", "", noop))
	require.NoError(t, g.AddNode("b", "", set("visited", "b")))
	require.NoError(t, g.AddNode("c", "", set("visited", "c")))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddConditionalEdge("a", func(_ context.Context, s State) string {
		choice, _ := s["choice"].(string)
		return choice
	}, map[string]string{"b": "b", "c": "c"}))
	require.NoError(t, g.AddEdge("b", END))
	require.NoError(t, g.AddEdge("c", END))

	cg, err := g.Compile()
	require.NoError(t, err)

	out, err := cg.Invoke(context.Background(), "ok", State{"choice": "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", out["visited"])

	_, err = cg.Invoke(context.Background(), "bad", State{"choice": "z"})
	var routingErr *RoutingError
	require.ErrorAs(t, err, &routingErr)
	assert.Equal(t, "a", routingErr.Node)
	assert.Equal(t, "z", routingErr.Label)
	assert.Equal(t, []string{"b", "c"}, routingErr.Known)
}

func TestConditionalEdge_LabelIsNodeName(t *testing.T) {
	g := NewStateGraph()
	require.NoError(t, g.AddNode("b", "", set("visited", "b")))
	require.NoError(t, g.AddConditionalEdge(START, func(_ context.Context, s State) string {
		return s["next"].(string)
	}, nil))
	require.NoError(t, g.AddEdge("b", END))
	cg, err := g.Compile()
	require.NoError(t, err)

	out, err := cg.Invoke(context.Background(), "t1", State{"next": "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", out["visited"])

	out, err = cg.Invoke(context.Background(), "t2", State{"next": END})
	require.NoError(t, err)
	assert.NotContains(t, out, "visited")

	_, err = cg.Invoke(context.Background(), "t3", State{"next": "ghost"})
	var routingErr *RoutingError
	assert.ErrorAs(t, err, &routingErr)
}

func TestCommand_OverridesRouting(t *testing.T) {
	g := NewStateGraph()
	require.NoError(t, g.AddNode("router", "", func(_ context.Context, _ State) (any, error) {
		return &Command{Update: State{"routed": true}, Goto: "special"}, nil
	}))
	require.NoError(t, g.AddNode("normal", "", set("path", "normal")))
	require.NoError(t, g.AddNode("special", "", set("path", "special")))
	require.NoError(t, g.AddEdge(START, "router"))
	require.NoError(t, g.AddEdge("router", "normal"))
	require.NoError(t, g.AddEdge("normal", END))
	require.NoError(t, g.AddEdge("special", END))
	cg, err := g.Compile()
	require.NoError(t, err)

	out, err := cg.Invoke(context.Background(), "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["routed"])
	assert.Equal(t, "special", out["path"])
}

func TestCommand_GotoUnknownNode(t *testing.T) {
	g := NewStateGraph()
	require.NoError(t, g.AddNode("a", "", func(_ context.Context, _ State) (any, error) {
		return Command{Goto: []string{"ghost"}}, nil
	}))
	require.NoError(t, g.AddEdge(START, "a"))
	cg, err := g.Compile()
	require.NoError(t, err)

	_, err = cg.Invoke(context.Background(), "t1", nil)
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestFanOut_Send(t *testing.T) {
	schema := NewMapSchema().RegisterReducer("jokes", AppendReducer)

	g := NewStateGraph()
	require.NoError(t, g.AddNode("topics", "", set("subjects", []string{"cats", "dogs", "cats"})))
	require.NoError(t, g.AddNode("joke", "", func(_ context.Context, s State) (any, error) {
		assert.NotContains(t, s, "subjects")
		return State{"jokes": "joke about " + s["subject"].(string)}, nil
	}))
	require.NoError(t, g.AddNode("done", "", set("finished", true)))
	require.NoError(t, g.AddEdge(START, "topics"))
	require.NoError(t, g.AddFanOut("topics", func(_ context.Context, s State) []Send {
		var sends []Send
		for _, subject := range s["subjects"].([]string) {
			sends = append(sends, Send{Node: "joke", Arg: State{"subject": subject}})
		}
		return sends
	}))
	require.NoError(t, g.AddEdge("joke", "done"))
	require.NoError(t, g.AddEdge("done", END))

	cg, err := g.Compile(WithSchema(schema), WithParallelism(2))
	require.NoError(t, err)

	out, err := cg.Invoke(context.Background(), "t1", nil)
	require.NoError(t, err)

	// Send tasks are never merged and fold in emission order.
	assert.Equal(t, []string{"joke about cats", "joke about dogs", "joke about cats"}, out["jokes"])
	assert.Equal(t, true, out["finished"])

	cps := history(t, cg, "t1")
	// input, topics, 3 x joke, done
	require.Len(t, cps, 4)
	require.Len(t, cps[1].Pending, 3)
	assert.Equal(t, "cats", cps[1].Pending[0].Input["subject"])
	// The three joke tasks route to a single done task.
	assert.Equal(t, []string{"done"}, cps[2].PendingNodes())
}

func TestInvoke_NodeErrorCommitsNothing(t *testing.T) {
	boom := errors.New("boom")
	g := NewStateGraph()
	require.NoError(t, g.AddNode("ok", "", set("ok", true)))
	require.NoError(t, g.AddNode("bad", "", func(context.Context, State) (any, error) { return nil, boom }))
	require.NoError(t, g.AddEdge(START, "ok"))
	require.NoError(t, g.AddEdge(START, "bad"))
	cg, err := g.Compile()
	require.NoError(t, err)

	_, err = cg.Invoke(context.Background(), "t1", nil)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "node bad")

	snap, err := cg.GetState(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, []string{"ok", "bad"}, snap.Next)
	assert.NotContains(t, snap.Values, "ok")

	// Resuming with a value is refused, a bare resume retries.
	_, err = cg.Resume(context.Background(), "t1", ResumeWith("x"))
	assert.ErrorIs(t, err, ErrNoPendingInterrupt)
	_, err = cg.Resume(context.Background(), "t1", ResumeSignal{})
	assert.ErrorIs(t, err, boom)
}

func TestInvoke_NodePanic(t *testing.T) {
	g := NewStateGraph()
	require.NoError(t, g.AddNode("a", "", func(context.Context, State) (any, error) { panic("kaput") }))
	require.NoError(t, g.AddEdge(START, "a"))
	cg, err := g.Compile()
	require.NoError(t, err)

	_, err = cg.Invoke(context.Background(), "t1", nil)
	assert.ErrorContains(t, err, "node a: panic: kaput")
}

func TestInvoke_InvalidResult(t *testing.T) {
	g := NewStateGraph()
	require.NoError(t, g.AddNode("a", "", func(context.Context, State) (any, error) { return "nope", nil }))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", END))
	cg, err := g.Compile()
	require.NoError(t, err)

	_, err = cg.Invoke(context.Background(), "t1", nil)
	assert.ErrorIs(t, err, ErrInvalidNodeResult)
}

func TestInvoke_NoOutgoingEdge(t *testing.T) {
	g := NewStateGraph()
	require.NoError(t, g.AddNode("a", "", noop))
	require.NoError(t, g.AddEdge(START, "a"))
	cg, err := g.Compile()
	require.NoError(t, err)

	_, err = cg.Invoke(context.Background(), "t1", nil)
	assert.ErrorIs(t, err, ErrNoOutgoingEdge)
}

func TestInvoke_RecursionLimit(t *testing.T) {
	g := NewStateGraph()
	require.NoError(t, g.AddNode("loop", "", func(_ context.Context, s State) (any, error) {
		n, _ := s["n"].(int)
		return State{"n": n + 1}, nil
	}))
	require.NoError(t, g.AddEdge(START, "loop"))
	require.NoError(t, g.AddEdge("loop", "loop"))
	cg, err := g.Compile(WithMaxSteps(5))
	require.NoError(t, err)

	_, err = cg.Invoke(context.Background(), "t1", nil)
	assert.ErrorIs(t, err, ErrRecursionLimit)

	// input + 5 loop checkpoints, no partial one.
	cps := history(t, cg, "t1")
	require.Len(t, cps, 6)
	assert.Equal(t, 5, cps[5].State["n"])
}

func TestInvoke_Parallelism(t *testing.T) {
	var running, peak int32
	work := func(_ context.Context, _ State) (any, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil, nil
	}

	g := NewStateGraph()
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("n%d", i)
		require.NoError(t, g.AddNode(name, "", work))
		require.NoError(t, g.AddEdge(START, name))
		require.NoError(t, g.AddEdge(name, END))
	}
	cg, err := g.Compile(WithParallelism(2))
	require.NoError(t, err)

	_, err = cg.Invoke(context.Background(), "t1", nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestInvoke_ExistingThreadMergesInput(t *testing.T) {
	schema := NewMapSchema().RegisterReducer("turns", AppendReducer)
	g := NewStateGraph()
	require.NoError(t, g.AddNode("echo", "", func(_ context.Context, s State) (any, error) {
		return State{"last": s["input"]}, nil
	}))
	require.NoError(t, g.AddEdge(START, "echo"))
	require.NoError(t, g.AddEdge("echo", END))
	cg, err := g.Compile(WithSchema(schema))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = cg.Invoke(ctx, "t1", State{"input": "one", "turns": "one"})
	require.NoError(t, err)
	out, err := cg.Invoke(ctx, "t1", State{"input": "two", "turns": "two"})
	require.NoError(t, err)

	assert.Equal(t, "two", out["last"])
	assert.Equal(t, []string{"one", "two"}, out["turns"])
	// 2 checkpoints per run, steps keep increasing.
	cps := history(t, cg, "t1")
	require.Len(t, cps, 4)
	assert.Equal(t, 3, cps[3].Step)
}

func TestInvoke_ThreadsAreIsolated(t *testing.T) {
	g := NewStateGraph()
	require.NoError(t, g.AddNode("a", "", func(_ context.Context, s State) (any, error) {
		return State{"seen": s["id"]}, nil
	}))
	require.NoError(t, g.AddEdge(START, "a"))
	require.NoError(t, g.AddEdge("a", END))
	cg, err := g.Compile(WithCheckpointer(memory.NewMemoryCheckpointStore()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			thread := fmt.Sprintf("t%d", i)
			out, err := cg.Invoke(context.Background(), thread, State{"id": i})
			assert.NoError(t, err)
			assert.Equal(t, i, out["seen"])
		}(i)
	}
	wg.Wait()
}

func TestInvoke_MissingThreadID(t *testing.T) {
	cg := parallelWriters(t)
	_, err := cg.Invoke(context.Background(), "", nil)
	assert.ErrorIs(t, err, store.ErrInvalidCheckpoint)
}
