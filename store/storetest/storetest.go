// Package storetest holds the behavioral contract every store.CheckpointStore
// backend must satisfy. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smallnest/stepgraph/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) store.CheckpointStore

func checkpoint(thread string, step int) *store.Checkpoint {
	return &store.Checkpoint{
		ID:        fmt.Sprintf("%s-%d", thread, step),
		ThreadID:  thread,
		Step:      step,
		Source:    store.SourceLoop,
		State:     map[string]any{"value": fmt.Sprintf("v%d", step)},
		Pending:   []store.Task{{Node: "next"}},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// Run executes the contract against the stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("latest of unknown thread is nil", func(t *testing.T) {
		s := newStore(t)
		cp, err := s.GetLatest(context.Background(), "missing")
		require.NoError(t, err)
		assert.Nil(t, cp)
	})

	t.Run("append then get latest", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, checkpoint("t1", 0)))
		require.NoError(t, s.Append(ctx, checkpoint("t1", 1)))

		latest, err := s.GetLatest(ctx, "t1")
		require.NoError(t, err)
		require.NotNil(t, latest)
		assert.Equal(t, "t1-1", latest.ID)
		assert.Equal(t, 1, latest.Step)
		assert.Equal(t, "v1", latest.State["value"])
		assert.Equal(t, []string{"next"}, latest.PendingNodes())
	})

	t.Run("interrupt round trips", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cp := checkpoint("t1", 0)
		cp.Source = store.SourceInterrupt
		cp.Pending = []store.Task{{Node: "next", Resumes: []any{"first"}}}
		cp.Interrupt = &store.Interrupt{Node: "next", Value: "why?", When: store.InterruptDuring, Index: 1}
		require.NoError(t, s.Append(ctx, cp))

		latest, err := s.GetLatest(ctx, "t1")
		require.NoError(t, err)
		require.NotNil(t, latest.Interrupt)
		assert.Equal(t, "next", latest.Interrupt.Node)
		assert.Equal(t, "why?", latest.Interrupt.Value)
		assert.Equal(t, 1, latest.Interrupt.Index)
		assert.Equal(t, []any{"first"}, latest.Pending[0].Resumes)
		assert.Equal(t, store.SourceInterrupt, latest.Source)
	})

	t.Run("stale step is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, checkpoint("t1", 2)))
		err := s.Append(ctx, checkpoint("t1", 2))
		assert.ErrorIs(t, err, store.ErrStaleCheckpoint)
		err = s.Append(ctx, checkpoint("t1", 1))
		assert.ErrorIs(t, err, store.ErrStaleCheckpoint)

		history, err := s.List(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("list is ordered by step", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for step := 0; step < 5; step++ {
			require.NoError(t, s.Append(ctx, checkpoint("t1", step)))
		}

		history, err := s.List(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, history, 5)
		for i, cp := range history {
			assert.Equal(t, i, cp.Step)
		}

		empty, err := s.List(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("threads are isolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, checkpoint("a", 0)))
		require.NoError(t, s.Append(ctx, checkpoint("b", 0)))
		require.NoError(t, s.Append(ctx, checkpoint("b", 1)))

		a, err := s.GetLatest(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 0, a.Step)

		require.NoError(t, s.Delete(ctx, "b"))
		b, err := s.GetLatest(ctx, "b")
		require.NoError(t, err)
		assert.Nil(t, b)

		a, err = s.GetLatest(ctx, "a")
		require.NoError(t, err)
		assert.NotNil(t, a)
	})

	t.Run("delete unknown thread is a no-op", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Delete(context.Background(), "missing"))
	})

	t.Run("append after delete starts over", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Append(ctx, checkpoint("t1", 3)))
		require.NoError(t, s.Delete(ctx, "t1"))
		require.NoError(t, s.Append(ctx, checkpoint("t1", 0)))

		latest, err := s.GetLatest(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, 0, latest.Step)
	})

	t.Run("missing thread id is rejected", func(t *testing.T) {
		s := newStore(t)
		cp := checkpoint("", 0)
		assert.ErrorIs(t, s.Append(context.Background(), cp), store.ErrInvalidCheckpoint)
	})

	t.Run("missing checkpoint id is rejected", func(t *testing.T) {
		s := newStore(t)
		cp := checkpoint("t1", 0)
		cp.ID = ""
		assert.ErrorIs(t, s.Append(context.Background(), cp), store.ErrInvalidCheckpoint)
	})

	t.Run("send task without input keeps its marker", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cp := checkpoint("t1", 0)
		cp.Pending = []store.Task{{Node: "w", Send: true}, {Node: "w", Send: true, Input: map[string]any{"k": "v"}}, {Node: "next"}}
		require.NoError(t, s.Append(ctx, cp))

		latest, err := s.GetLatest(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, latest.Pending, 3)
		assert.True(t, latest.Pending[0].Send)
		assert.Empty(t, latest.Pending[0].Input)
		assert.True(t, latest.Pending[1].Send)
		assert.Equal(t, "v", latest.Pending[1].Input["k"])
		assert.False(t, latest.Pending[2].Send)
	})

	t.Run("concurrent appends of one step have a single winner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Append(ctx, checkpoint("t1", 0)))

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cp := checkpoint("t1", 1)
				cp.ID = fmt.Sprintf("writer-%d", i)
				errs[i] = s.Append(ctx, cp)
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.True(t, errors.Is(err, store.ErrStaleCheckpoint), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, wins)

		history, err := s.List(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})
}
