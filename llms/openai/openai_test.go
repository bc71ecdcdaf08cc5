package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
)

func fakeServer(t *testing.T, choices []goopenai.ChatCompletionChoice, seen *goopenai.ChatCompletionRequest) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(seen))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(goopenai.ChatCompletionResponse{
			ID:      "chatcmpl-1",
			Choices: choices,
			Usage:   goopenai.Usage{PromptTokens: 7, CompletionTokens: 2, TotalTokens: 9},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

type countingHandler struct {
	callbacks.SimpleHandler
	starts, ends, errs int
}

func (h *countingHandler) HandleLLMGenerateContentStart(context.Context, []llms.MessageContent) {
	h.starts++
}

func (h *countingHandler) HandleLLMGenerateContentEnd(context.Context, *llms.ContentResponse) {
	h.ends++
}

func (h *countingHandler) HandleLLMError(context.Context, error) {
	h.errs++
}

func TestNew_RequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New()
	assert.ErrorIs(t, err, ErrNotSetAuth)

	t.Setenv("OPENAI_API_KEY", "from-env")
	l, err := New(WithModel("local"))
	require.NoError(t, err)
	assert.Equal(t, "local", l.Model())
}

func TestLLM_GenerateContent(t *testing.T) {
	var seen goopenai.ChatCompletionRequest
	srv := fakeServer(t, []goopenai.ChatCompletionChoice{{
		Message:      goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant, Content: "hi there"},
		FinishReason: goopenai.FinishReasonStop,
	}}, &seen)

	handler := &countingHandler{}
	l, err := New(WithAPIKey("test-key"), WithBaseURL(srv.URL), WithModel("test-model"), WithTemperature(0.2), WithCallback(handler))
	require.NoError(t, err)

	resp, err := l.GenerateContent(context.Background(), []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, "be brief"),
		llms.TextParts(llms.ChatMessageTypeHuman, "hel", "lo"),
		llms.TextParts(llms.ChatMessageTypeAI, "hey"),
	})
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hi there", resp.Choices[0].Content)
	assert.Equal(t, "stop", resp.Choices[0].StopReason)
	assert.Equal(t, 9, resp.Choices[0].GenerationInfo["total_tokens"])

	assert.Equal(t, "test-model", seen.Model)
	require.Len(t, seen.Messages, 3)
	assert.Equal(t, goopenai.ChatMessageRoleSystem, seen.Messages[0].Role)
	assert.Equal(t, goopenai.ChatMessageRoleUser, seen.Messages[1].Role)
	assert.Equal(t, "hello", seen.Messages[1].Content)
	assert.Equal(t, goopenai.ChatMessageRoleAssistant, seen.Messages[2].Role)

	assert.Equal(t, 1, handler.starts)
	assert.Equal(t, 1, handler.ends)
	assert.Zero(t, handler.errs)
}

func TestLLM_CallOptionsOverride(t *testing.T) {
	var seen goopenai.ChatCompletionRequest
	srv := fakeServer(t, []goopenai.ChatCompletionChoice{{
		Message: goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleAssistant, Content: "ok"},
	}}, &seen)

	l, err := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	out, err := l.Call(context.Background(), "ping", llms.WithModel("other"), llms.WithMaxTokens(16))
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "other", seen.Model)
	assert.Equal(t, 16, seen.MaxTokens)
	require.Len(t, seen.Messages, 1)
	assert.Equal(t, goopenai.ChatMessageRoleUser, seen.Messages[0].Role)
}

func TestLLM_NoChoices(t *testing.T) {
	var seen goopenai.ChatCompletionRequest
	srv := fakeServer(t, nil, &seen)

	l, err := New(WithAPIKey("test-key"), WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = l.GenerateContent(context.Background(), []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hello")})
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Equal(t, DefaultModel, seen.Model)
}

func TestLLM_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"boom","type":"server_error"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	handler := &countingHandler{}
	l, err := New(WithAPIKey("test-key"), WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithCallback(handler))
	require.NoError(t, err)

	_, err = l.GenerateContent(context.Background(), []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, "hello")})
	assert.ErrorContains(t, err, "chat completion")
	assert.Equal(t, 1, handler.errs)
}
