package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMessages_AppendAndReplace(t *testing.T) {
	current := []Message{{ID: "1", Role: RoleUser, Content: "hi"}}

	got, err := AddMessages(current, []Message{
		{ID: "2", Role: RoleAssistant, Content: "hello"},
		{ID: "1", Role: RoleUser, Content: "hi there"},
	})
	require.NoError(t, err)

	msgs := got.([]Message)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi there", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, "hi", current[0].Content)
}

func TestAddMessages_AssignsIDs(t *testing.T) {
	got, err := AddMessages(nil, Message{Role: RoleUser, Content: "hi"})
	require.NoError(t, err)

	msgs := got.([]Message)
	require.Len(t, msgs, 1)
	assert.NotEmpty(t, msgs[0].ID)
}

func TestAddMessages_Remove(t *testing.T) {
	current := []Message{
		{ID: "1", Role: RoleUser, Content: "a"},
		{ID: "2", Role: RoleAssistant, Content: "b"},
		{ID: "3", Role: RoleUser, Content: "c"},
	}

	got, err := AddMessages(current, []Message{RemoveMessage("1"), RemoveMessage("2")})
	require.NoError(t, err)
	assert.Equal(t, []Message{{ID: "3", Role: RoleUser, Content: "c"}}, got)

	_, err = AddMessages(current, RemoveMessage("missing"))
	assert.ErrorContains(t, err, "doesn't exist")
}

func TestAddMessages_FromCheckpointJSON(t *testing.T) {
	raw, err := json.Marshal([]Message{{ID: "1", Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	var decoded []any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	got, err := AddMessages(decoded, map[string]any{"id": "2", "role": "assistant", "content": "yo"})
	require.NoError(t, err)
	assert.Equal(t, []Message{
		{ID: "1", Role: RoleUser, Content: "hi"},
		{ID: "2", Role: RoleAssistant, Content: "yo"},
	}, got)

	_, err = AddMessages(42, nil)
	assert.Error(t, err)
}

func TestNewMessage(t *testing.T) {
	a := NewMessage(RoleUser, "x")
	b := NewMessage(RoleUser, "x")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "x", a.Content)
}
