package graph

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestWithRetry_Succeeds(t *testing.T) {
	var attempts int32
	fn := WithRetry("flaky", func(context.Context, State) (any, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return nil, errors.New("transient")
		}
		return State{"ok": true}, nil
	}, fastRetry())

	out, err := fn(context.Background(), State{})
	require.NoError(t, err)
	assert.Equal(t, State{"ok": true}, out)
	assert.EqualValues(t, 3, attempts)
}

func TestWithRetry_GivesUp(t *testing.T) {
	fn := WithRetry("broken", func(context.Context, State) (any, error) {
		return nil, errors.New("permanent")
	}, fastRetry())

	_, err := fn(context.Background(), State{})
	assert.ErrorContains(t, err, "max retries (3) exceeded for broken")

	cfg := fastRetry()
	cfg.RetryableErrors = func(error) bool { return false }
	var attempts int32
	fn = WithRetry("once", func(context.Context, State) (any, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, errors.New("fatal")
	}, cfg)
	_, err = fn(context.Background(), State{})
	assert.ErrorContains(t, err, "non-retryable error in once")
	assert.EqualValues(t, 1, attempts)
}

func TestWithRetry_NeverRetriesInterrupts(t *testing.T) {
	var attempts int32
	g := NewStateGraph()
	require.NoError(t, g.AddNodeWithRetry("ask", "", func(ctx context.Context, _ State) (any, error) {
		n := atomic.AddInt32(&attempts, 1)
		v, err := Interrupt(ctx, "value?")
		if err != nil {
			return nil, err
		}
		// Fail once after receiving the value; the retry must see it again.
		if n == 2 {
			return nil, errors.New("transient")
		}
		return State{"v": v}, nil
	}, fastRetry()))
	require.NoError(t, g.AddEdge(START, "ask"))
	require.NoError(t, g.AddEdge("ask", END))
	cg, err := g.Compile()
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cg.Invoke(ctx, "t1", nil)
	requireInterrupt(t, err)
	assert.EqualValues(t, 1, attempts)

	out, err := cg.Resume(ctx, "t1", ResumeWith("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", out["v"])
	assert.EqualValues(t, 3, attempts)
}

func TestWithTimeout(t *testing.T) {
	slow := WithTimeout("slow", func(ctx context.Context, _ State) (any, error) {
		select {
		case <-time.After(time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, 10*time.Millisecond)

	_, err := slow(context.Background(), State{})
	assert.ErrorContains(t, err, "node slow timed out")

	fast := WithTimeout("fast", set("done", true), time.Second)
	out, err := fast(context.Background(), State{})
	require.NoError(t, err)
	assert.Equal(t, State{"done": true}, out)
}
