package prebuilt

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/smallnest/stepgraph/graph"
	"github.com/tmc/langchaingo/llms"
)

// Summarizing chat node names.
const (
	NodeCallModel = "call_model"
	NodeSummarize = "summarize_conversation"
)

// DefaultSummarizeAfter is the history length that triggers a summary.
const DefaultSummarizeAfter = 6

// keepMessages is how many recent messages survive a summary.
const keepMessages = 2

// ChatOptions configures NewSummarizingChat.
type ChatOptions struct {
	// SummarizeAfter summarizes once the history is longer than this. Zero
	// means DefaultSummarizeAfter.
	SummarizeAfter int
	// Retry retries failed model calls of both nodes when set.
	Retry *graph.RetryConfig
	// CallOptions are passed to every model call.
	CallOptions []llms.CallOption
	// CompileOptions are passed to Compile after the chat's own schema.
	CompileOptions []graph.CompileOption
}

// NewSummarizingChat builds a conversation graph. call_model answers the
// conversation, prefixed by the running summary when there is one. When the
// history grows past the threshold, summarize_conversation extends the
// summary and removes every message but the last two.
func NewSummarizingChat(model llms.Model, opts ChatOptions) (*graph.CompiledGraph, error) {
	if model == nil {
		return nil, errors.New("summarizing chat: nil model")
	}
	threshold := opts.SummarizeAfter
	if threshold <= 0 {
		threshold = DefaultSummarizeAfter
	}

	g := graph.NewStateGraph()

	callModel := func(ctx context.Context, state graph.State) (any, error) {
		history, err := graph.ToMessages(state["messages"])
		if err != nil {
			return nil, err
		}
		if summary, _ := state["summary"].(string); summary != "" {
			system := graph.Message{Role: graph.RoleSystem, Content: "Summary of conversation earlier: " + summary}
			history = append([]graph.Message{system}, history...)
		}
		reply, err := generate(ctx, model, history, opts.CallOptions...)
		if err != nil {
			return nil, err
		}
		return graph.State{"messages": []graph.Message{reply}}, nil
	}

	summarize := func(ctx context.Context, state graph.State) (any, error) {
		history, err := graph.ToMessages(state["messages"])
		if err != nil {
			return nil, err
		}
		prompt := "Create a summary of the conversation above:"
		if summary, _ := state["summary"].(string); summary != "" {
			prompt = fmt.Sprintf("This is summary of the conversation to date: %s\n\nExtend the summary by taking into account the new messages above:", summary)
		}
		request := append(history, graph.Message{Role: graph.RoleUser, Content: prompt})
		reply, err := generate(ctx, model, request, opts.CallOptions...)
		if err != nil {
			return nil, err
		}

		var removals []graph.Message
		if len(history) > keepMessages {
			for _, m := range history[:len(history)-keepMessages] {
				removals = append(removals, graph.RemoveMessage(m.ID))
			}
		}
		return graph.State{"summary": reply.Content, "messages": removals}, nil
	}

	if err := g.AddNode(NodeCallModel, "answer the conversation", withRetry(NodeCallModel, callModel, opts.Retry)); err != nil {
		return nil, err
	}
	if err := g.AddNode(NodeSummarize, "fold old messages into the summary", withRetry(NodeSummarize, summarize, opts.Retry)); err != nil {
		return nil, err
	}
	if err := g.AddEdge(graph.START, NodeCallModel); err != nil {
		return nil, err
	}
	shouldSummarize := func(_ context.Context, state graph.State) string {
		history, err := graph.ToMessages(state["messages"])
		if err == nil && len(history) > threshold {
			return NodeSummarize
		}
		return graph.END
	}
	if err := g.AddConditionalEdge(NodeCallModel, shouldSummarize, nil); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeSummarize, graph.END); err != nil {
		return nil, err
	}

	schema := graph.NewMapSchema().RegisterReducer("messages", graph.AddMessages)
	return g.Compile(append([]graph.CompileOption{graph.WithSchema(schema)}, opts.CompileOptions...)...)
}

// ChatAgent is one conversation session over a summarizing chat graph.
type ChatAgent struct {
	// Graph is the underlying compiled graph
	Graph *graph.CompiledGraph
	// The session ID for this conversation
	threadID string
}

// NewChatAgent creates a session with a fresh thread id.
func NewChatAgent(model llms.Model, opts ChatOptions) (*ChatAgent, error) {
	g, err := NewSummarizingChat(model, opts)
	if err != nil {
		return nil, err
	}
	return &ChatAgent{Graph: g, threadID: uuid.NewString()}, nil
}

// ThreadID returns the current session ID.
func (c *ChatAgent) ThreadID() string {
	return c.threadID
}

// Chat sends a user message and returns the model's answer. The history
// lives in the checkpoint store, not in the agent.
func (c *ChatAgent) Chat(ctx context.Context, message string) (string, error) {
	input := graph.State{"messages": []graph.Message{graph.NewMessage(graph.RoleUser, message)}}
	out, err := c.Graph.Invoke(ctx, c.threadID, input)
	if err != nil {
		return "", err
	}

	history, err := graph.ToMessages(out["messages"])
	if err != nil {
		return "", err
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == graph.RoleAssistant {
			return history[i].Content, nil
		}
	}
	return "", ErrEmptyResponse
}

// Summary returns the running summary of the session.
func (c *ChatAgent) Summary(ctx context.Context) (string, error) {
	snap, err := c.Graph.GetState(ctx, c.threadID)
	if err != nil {
		return "", err
	}
	summary, _ := snap.Values["summary"].(string)
	return summary, nil
}
