// Package openai implements the langchaingo llms.Model interface on top of
// the OpenAI chat completions API or any compatible server.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
)

var (
	// ErrNotSetAuth is returned by New when no API key is available.
	ErrNotSetAuth = errors.New("API key not set")
	// ErrEmptyResponse is returned when the server sent no choice.
	ErrEmptyResponse = errors.New("no response")
)

// DefaultModel is used when WithModel is not given.
const DefaultModel = goopenai.GPT4oMini

// LLM is a chat client for OpenAI compatible endpoints.
type LLM struct {
	client           *goopenai.Client
	model            string
	temperature      float32
	CallbacksHandler callbacks.Handler
}

var _ llms.Model = (*LLM)(nil)

// New returns a client configured by opts.
//
//	model, err := openai.New(
//		openai.WithModel("gpt-4o-mini"),
//		openai.WithBaseURL("http://localhost:11434/v1"),
//	)
func New(opts ...Option) (*LLM, error) {
	o := &options{
		apiKey:  getEnvOrDefault("OPENAI_API_KEY", ""),
		baseURL: getEnvOrDefault("OPENAI_BASE_URL", ""),
		model:   DefaultModel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.apiKey == "" {
		return nil, fmt.Errorf("%w: use openai.WithAPIKey or export OPENAI_API_KEY", ErrNotSetAuth)
	}

	cfg := goopenai.DefaultConfig(o.apiKey)
	if o.baseURL != "" {
		cfg.BaseURL = o.baseURL
	}
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}

	return &LLM{
		client:           goopenai.NewClientWithConfig(cfg),
		model:            o.model,
		temperature:      o.temperature,
		CallbacksHandler: o.callbacksHandler,
	}, nil
}

// Model returns the configured model name.
func (l *LLM) Model() string {
	return l.model
}

// Call generates a response for a single prompt.
func (l *LLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, l, prompt, options...)
}

// GenerateContent implements the Model interface. Call options override the
// configured model, temperature and token limit.
func (l *LLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if l.CallbacksHandler != nil {
		l.CallbacksHandler.HandleLLMGenerateContentStart(ctx, messages)
	}

	opts := &llms.CallOptions{}
	for _, opt := range options {
		opt(opts)
	}

	req := goopenai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: l.temperature,
		Messages:    make([]goopenai.ChatCompletionMessage, 0, len(messages)),
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.Temperature != 0 {
		req.Temperature = float32(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	req.Stop = opts.StopWords

	for _, msg := range messages {
		var content strings.Builder
		for _, part := range msg.Parts {
			if text, ok := part.(llms.TextContent); ok {
				content.WriteString(text.Text)
			}
		}
		req.Messages = append(req.Messages, goopenai.ChatCompletionMessage{
			Role:    toRole(msg.Role),
			Content: content.String(),
		})
	}

	resp, err := l.client.CreateChatCompletion(ctx, req)
	if err != nil {
		err = fmt.Errorf("chat completion: %w", err)
		if l.CallbacksHandler != nil {
			l.CallbacksHandler.HandleLLMError(ctx, err)
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		if l.CallbacksHandler != nil {
			l.CallbacksHandler.HandleLLMError(ctx, ErrEmptyResponse)
		}
		return nil, ErrEmptyResponse
	}

	out := &llms.ContentResponse{Choices: make([]*llms.ContentChoice, 0, len(resp.Choices))}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			GenerationInfo: map[string]any{
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
				"total_tokens":      resp.Usage.TotalTokens,
			},
		})
	}

	if l.CallbacksHandler != nil {
		l.CallbacksHandler.HandleLLMGenerateContentEnd(ctx, out)
	}
	return out, nil
}

func toRole(role llms.ChatMessageType) string {
	switch role {
	case llms.ChatMessageTypeSystem:
		return goopenai.ChatMessageRoleSystem
	case llms.ChatMessageTypeAI:
		return goopenai.ChatMessageRoleAssistant
	case llms.ChatMessageTypeTool:
		return goopenai.ChatMessageRoleTool
	default:
		return goopenai.ChatMessageRoleUser
	}
}
