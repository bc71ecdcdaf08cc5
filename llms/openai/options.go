package openai

import (
	"net/http"
	"os"

	"github.com/tmc/langchaingo/callbacks"
)

type options struct {
	apiKey      string
	model       string
	baseURL     string
	httpClient  *http.Client
	temperature float32

	callbacksHandler callbacks.Handler
}

// Option is a function that configures an LLM.
type Option func(*options)

// WithAPIKey sets the API key. Defaults to $OPENAI_API_KEY.
func WithAPIKey(apiKey string) Option {
	return func(opts *options) {
		opts.apiKey = apiKey
	}
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithBaseURL points the client at an OpenAI compatible endpoint.
// Defaults to $OPENAI_BASE_URL, then the public API.
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(opts *options) {
		opts.temperature = t
	}
}

// WithCallback sets the langchaingo callbacks handler.
func WithCallback(callbacksHandler callbacks.Handler) Option {
	return func(opts *options) {
		opts.callbacksHandler = callbacksHandler
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
