package prebuilt

import (
	"context"
	"errors"

	"github.com/smallnest/stepgraph/graph"
	"github.com/tmc/langchaingo/llms"
)

// ErrEmptyResponse is returned when a model answered without a choice.
var ErrEmptyResponse = errors.New("no response")

// toMessageContent converts state messages for a langchaingo model.
func toMessageContent(msgs []graph.Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llms.TextParts(messageType(m.Role), m.Content))
	}
	return out
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case graph.RoleSystem:
		return llms.ChatMessageTypeSystem
	case graph.RoleAssistant:
		return llms.ChatMessageTypeAI
	case graph.RoleUser, "":
		return llms.ChatMessageTypeHuman
	}
	return llms.ChatMessageTypeGeneric
}

// generate asks model for the next message of msgs.
func generate(ctx context.Context, model llms.Model, msgs []graph.Message, opts ...llms.CallOption) (graph.Message, error) {
	resp, err := model.GenerateContent(ctx, toMessageContent(msgs), opts...)
	if err != nil {
		return graph.Message{}, err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return graph.Message{}, ErrEmptyResponse
	}
	return graph.NewMessage(graph.RoleAssistant, resp.Choices[0].Content), nil
}

// withRetry wraps fn when a retry config is set.
func withRetry(name string, fn graph.NodeFunc, cfg *graph.RetryConfig) graph.NodeFunc {
	if cfg == nil {
		return fn
	}
	return graph.WithRetry(name, fn, cfg)
}
