package prebuilt

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/store"
	"github.com/tmc/langchaingo/llms"
)

// Memory chat node names. The answering node shares NodeCallModel.
const NodeWriteMemory = "write_memory"

// UserMemoryKey is the item key of a user's memory in the namespace
// {"memory", userID}.
const UserMemoryKey = "user_memory"

const noMemory = "No existing memory found."

const (
	memorySystemPrompt = `You are a helpful assistant with memory that provides information about the user.
If you have memory for this user, use it to personalize your responses.
Here is the memory (it may be empty): %s`

	createMemoryPrompt = `You are collecting information about the user to personalize your responses.

CURRENT USER INFORMATION:
%s

INSTRUCTIONS:
1. Review the chat history below carefully
2. Identify new information about the user, such as personal details, preferences, interests, past experiences and goals
3. Merge any new information with existing memory
4. Format the memory as a clear, bulleted list
5. If new information conflicts with existing memory, keep the most recent version

Remember: Only include factual information directly stated by the user. Do not make assumptions or inferences.

Based on the chat history below, please update the user information:`
)

// ErrNoUser is returned by the memory chat when the state has no user_id.
var ErrNoUser = errors.New("memory chat: missing user_id")

// MemoryChatOptions configures NewMemoryChat.
type MemoryChatOptions struct {
	// Retry retries failed model calls of both nodes when set.
	Retry *graph.RetryConfig
	// CallOptions are passed to every model call.
	CallOptions []llms.CallOption
	// CompileOptions are passed to Compile after the chat's own schema and store.
	CompileOptions []graph.CompileOption
}

// MemoryNamespace returns the item namespace holding a user's memory.
func MemoryNamespace(userID string) []string {
	return []string{"memory", userID}
}

// UserMemory reads the memory the chat has written for userID. It returns
// "" when there is none.
func UserMemory(ctx context.Context, items store.Store, userID string) (string, error) {
	item, err := items.Get(ctx, MemoryNamespace(userID), UserMemoryKey)
	if err != nil || item == nil {
		return "", err
	}
	memory, _ := item.Value["memory"].(string)
	return memory, nil
}

// NewMemoryChat builds call_model -> write_memory over a long-term item
// store. Every run needs a "user_id" in its state. call_model answers with
// the user's memory in the system prompt; write_memory asks the model to
// merge the conversation into that memory and stores the result. Memory is
// shared by all threads of the same user.
func NewMemoryChat(model llms.Model, items store.Store, opts MemoryChatOptions) (*graph.CompiledGraph, error) {
	if model == nil {
		return nil, errors.New("memory chat: nil model")
	}
	if items == nil {
		return nil, errors.New("memory chat: nil store")
	}

	load := func(ctx context.Context, state graph.State) (string, store.Store, string, error) {
		userID, _ := state["user_id"].(string)
		if userID == "" {
			return "", nil, "", ErrNoUser
		}
		kv := graph.GetStore(ctx)
		if kv == nil {
			return "", nil, "", errors.New("memory chat: no item store in context")
		}
		memory, err := UserMemory(ctx, kv, userID)
		if err != nil {
			return "", nil, "", fmt.Errorf("failed to load memory of %s: %w", userID, err)
		}
		if memory == "" {
			memory = noMemory
		}
		return userID, kv, memory, nil
	}

	callModel := func(ctx context.Context, state graph.State) (any, error) {
		_, _, memory, err := load(ctx, state)
		if err != nil {
			return nil, err
		}
		history, err := graph.ToMessages(state["messages"])
		if err != nil {
			return nil, err
		}
		system := graph.Message{Role: graph.RoleSystem, Content: fmt.Sprintf(memorySystemPrompt, memory)}
		reply, err := generate(ctx, model, append([]graph.Message{system}, history...), opts.CallOptions...)
		if err != nil {
			return nil, err
		}
		return graph.State{"messages": []graph.Message{reply}}, nil
	}

	writeMemory := func(ctx context.Context, state graph.State) (any, error) {
		userID, kv, memory, err := load(ctx, state)
		if err != nil {
			return nil, err
		}
		history, err := graph.ToMessages(state["messages"])
		if err != nil {
			return nil, err
		}
		system := graph.Message{Role: graph.RoleSystem, Content: fmt.Sprintf(createMemoryPrompt, memory)}
		reply, err := generate(ctx, model, append([]graph.Message{system}, history...), opts.CallOptions...)
		if err != nil {
			return nil, err
		}
		if err := kv.Put(ctx, MemoryNamespace(userID), UserMemoryKey, map[string]any{"memory": reply.Content}); err != nil {
			return nil, fmt.Errorf("failed to save memory of %s: %w", userID, err)
		}
		return nil, nil
	}

	g := graph.NewStateGraph()
	if err := g.AddNode(NodeCallModel, "answer with the user's memory", withRetry(NodeCallModel, callModel, opts.Retry)); err != nil {
		return nil, err
	}
	if err := g.AddNode(NodeWriteMemory, "merge the conversation into the user's memory", withRetry(NodeWriteMemory, writeMemory, opts.Retry)); err != nil {
		return nil, err
	}
	if err := g.AddEdge(graph.START, NodeCallModel); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeCallModel, NodeWriteMemory); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeWriteMemory, graph.END); err != nil {
		return nil, err
	}

	schema := graph.NewMapSchema().RegisterReducer("messages", graph.AddMessages)
	compile := []graph.CompileOption{graph.WithSchema(schema), graph.WithStore(items)}
	return g.Compile(append(compile, opts.CompileOptions...)...)
}
