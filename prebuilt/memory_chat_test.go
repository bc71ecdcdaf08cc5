package prebuilt

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/llms/scripted"
	"github.com/smallnest/stepgraph/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// memoryModel answers chat turns with the memory it was shown and folds
// every user message into the memory.
type memoryModel struct {
	mu      sync.Mutex
	systems []string
}

func (m *memoryModel) answer(_ context.Context, msgs []llms.MessageContent) (string, error) {
	system := scripted.Text(msgs[0])
	m.mu.Lock()
	m.systems = append(m.systems, system)
	m.mu.Unlock()

	if strings.HasPrefix(system, "You are collecting") {
		var facts []string
		for _, msg := range msgs[1:] {
			if msg.Role == llms.ChatMessageTypeHuman {
				facts = append(facts, "- "+scripted.Text(msg))
			}
		}
		return strings.Join(facts, "\n"), nil
	}
	_, memory, _ := strings.Cut(system, "Here is the memory (it may be empty): ")
	return "I know: " + memory, nil
}

func TestMemoryChat_SharesMemoryAcrossThreads(t *testing.T) {
	model := &memoryModel{}
	items := memory.NewMemoryStore()
	chat, err := NewMemoryChat(scripted.Func(model.answer), items, MemoryChatOptions{Retry: graph.DefaultRetryConfig()})
	require.NoError(t, err)
	ctx := context.Background()

	say := func(thread, user, text string) string {
		out, err := chat.Invoke(ctx, thread, graph.State{
			"user_id":  user,
			"messages": []graph.Message{graph.NewMessage(graph.RoleUser, text)},
		})
		require.NoError(t, err)
		history, err := graph.ToMessages(out["messages"])
		require.NoError(t, err)
		return history[len(history)-1].Content
	}

	assert.Equal(t, "I know: "+noMemory, say("t1", "u1", "Hi, I am Robert"))
	mem, err := UserMemory(ctx, items, "u1")
	require.NoError(t, err)
	assert.Equal(t, "- Hi, I am Robert", mem)

	say("t1", "u1", "I like to bike")
	mem, err = UserMemory(ctx, items, "u1")
	require.NoError(t, err)
	assert.Equal(t, "- Hi, I am Robert\n- I like to bike", mem)

	// A new thread of the same user starts with the stored memory.
	assert.Equal(t, "I know: - Hi, I am Robert\n- I like to bike", say("t2", "u1", "Where should I ride?"))

	// Other users do not see it.
	assert.Equal(t, "I know: "+noMemory, say("t3", "u2", "Hello"))

	namespaces, err := items.ListNamespaces(ctx, []string{"memory"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{MemoryNamespace("u1"), MemoryNamespace("u2")}, namespaces)
}

func TestMemoryChat_RequiresUser(t *testing.T) {
	chat, err := NewMemoryChat(scripted.New("hi"), memory.NewMemoryStore(), MemoryChatOptions{})
	require.NoError(t, err)

	_, err = chat.Invoke(context.Background(), "t1", graph.State{"messages": []graph.Message{graph.NewMessage(graph.RoleUser, "hi")}})
	assert.ErrorIs(t, err, ErrNoUser)

	_, err = NewMemoryChat(nil, memory.NewMemoryStore(), MemoryChatOptions{})
	assert.Error(t, err)
	_, err = NewMemoryChat(scripted.New("hi"), nil, MemoryChatOptions{})
	assert.Error(t, err)
}
