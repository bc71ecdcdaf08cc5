package prebuilt

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/llms/scripted"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

func contents(msgs []graph.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func texts(msgs []llms.MessageContent) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = scripted.Text(m)
	}
	return out
}

func TestChatAgent_Summarizes(t *testing.T) {
	model := scripted.New("a1", "a2", "s1", "a3", "s2")
	agent, err := NewChatAgent(model, ChatOptions{SummarizeAfter: 2})
	require.NoError(t, err)
	require.NotEmpty(t, agent.ThreadID())
	ctx := context.Background()

	reply, err := agent.Chat(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a1", reply)
	summary, err := agent.Summary(ctx)
	require.NoError(t, err)
	assert.Empty(t, summary)

	reply, err = agent.Chat(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "a2", reply)

	snap, err := agent.Graph.GetState(ctx, agent.ThreadID())
	require.NoError(t, err)
	assert.Equal(t, "s1", snap.Values["summary"])
	history, err := graph.ToMessages(snap.Values["messages"])
	require.NoError(t, err)
	assert.Equal(t, []string{"u2", "a2"}, contents(history))

	reply, err = agent.Chat(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, "a3", reply)
	summary, err = agent.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s2", summary)

	calls := model.Calls()
	require.Len(t, calls, 5)
	assert.Equal(t, []string{"u1"}, texts(calls[0]))
	assert.Equal(t, llms.ChatMessageTypeHuman, calls[0][0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, calls[1][1].Role)
	assert.Equal(t, "Create a summary of the conversation above:", scripted.Text(calls[2][len(calls[2])-1]))
	assert.Equal(t, llms.ChatMessageTypeSystem, calls[3][0].Role)
	assert.Equal(t, "Summary of conversation earlier: s1", scripted.Text(calls[3][0]))
	assert.Contains(t, scripted.Text(calls[4][len(calls[4])-1]), "summary of the conversation to date: s1")
}

func TestChatAgent_ModelError(t *testing.T) {
	agent, err := NewChatAgent(scripted.New(), ChatOptions{})
	require.NoError(t, err)

	_, err = agent.Chat(context.Background(), "hello")
	assert.ErrorIs(t, err, scripted.ErrNoReplies)

	// Nothing past the input checkpoint was committed.
	snap, err := agent.Graph.GetState(context.Background(), agent.ThreadID())
	require.NoError(t, err)
	assert.Equal(t, []string{NodeCallModel}, snap.Next)
}

func TestChatAgent_RetriesModel(t *testing.T) {
	var calls int32
	flaky := scripted.Func(func(context.Context, []llms.MessageContent) (string, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return "", errors.New("rate limited")
		}
		return "finally", nil
	})
	retry := &graph.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 1}

	agent, err := NewChatAgent(flaky, ChatOptions{Retry: retry})
	require.NoError(t, err)
	reply, err := agent.Chat(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "finally", reply)
	assert.EqualValues(t, 3, calls)

	noRetry, err := NewChatAgent(scripted.Func(func(context.Context, []llms.MessageContent) (string, error) {
		return "", errors.New("down")
	}), ChatOptions{})
	require.NoError(t, err)
	_, err = noRetry.Chat(context.Background(), "hello")
	assert.ErrorContains(t, err, "down")
}

func TestNewSummarizingChat_NilModel(t *testing.T) {
	_, err := NewSummarizingChat(nil, ChatOptions{})
	assert.Error(t, err)
}

func TestToMessageContent(t *testing.T) {
	out := toMessageContent([]graph.Message{
		{Role: graph.RoleSystem, Content: "s"},
		{Role: graph.RoleUser, Content: "u"},
		{Role: graph.RoleAssistant, Content: "a"},
		{Role: "critic", Content: "c"},
	})
	require.Len(t, out, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, out[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, out[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, out[2].Role)
	assert.Equal(t, llms.ChatMessageTypeGeneric, out[3].Role)
	assert.Equal(t, []string{"s", "u", "a", "c"}, texts(out))
}
