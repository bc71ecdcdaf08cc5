// Package scripted provides offline llms.Model implementations that answer
// from a fixed script or a function. They back tests, demos and the CLI's
// "scripted" provider.
package scripted

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ErrNoReplies is returned by a Model created without replies.
var ErrNoReplies = errors.New("scripted model has no replies")

// Model replies with a fixed sequence of contents and records the
// conversations it was given. Once the replies run out the last one repeats.
type Model struct {
	mu      sync.Mutex
	replies []string
	next    int
	calls   [][]llms.MessageContent
}

var _ llms.Model = (*Model)(nil)

// New returns a model answering with replies in order.
func New(replies ...string) *Model {
	return &Model{replies: replies}
}

// Call implements llms.Model.
func (m *Model) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// GenerateContent implements llms.Model.
func (m *Model) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, append([]llms.MessageContent(nil), messages...))
	if len(m.replies) == 0 {
		return nil, ErrNoReplies
	}
	i := min(m.next, len(m.replies)-1)
	m.next++
	return reply(m.replies[i]), nil
}

// Calls returns the conversations received so far.
func (m *Model) Calls() [][]llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llms.MessageContent(nil), m.calls...)
}

// Func answers a conversation with a function. It must be safe for
// concurrent use when the graph fans out.
type Func func(ctx context.Context, messages []llms.MessageContent) (string, error)

var _ llms.Model = Func(nil)

// Call implements llms.Model.
func (f Func) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

// GenerateContent implements llms.Model.
func (f Func) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	out, err := f(ctx, messages)
	if err != nil {
		return nil, err
	}
	return reply(out), nil
}

// Text joins the text parts of a message.
func Text(msg llms.MessageContent) string {
	var sb strings.Builder
	for _, part := range msg.Parts {
		if t, ok := part.(llms.TextContent); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

func reply(content string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content, StopReason: "stop"}}}
}
