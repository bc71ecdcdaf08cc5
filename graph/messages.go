package graph

import (
	"fmt"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	// RoleRemove marks a deletion request understood by AddMessages.
	RoleRemove = "remove"
)

// Message is one entry of a conversation kept in state.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// RemoveMessage returns a marker that deletes the message with the given id
// when merged through AddMessages.
func RemoveMessage(id string) Message {
	return Message{ID: id, Role: RoleRemove}
}

// NewMessage builds a message with a fresh id.
func NewMessage(role, content string) Message {
	return Message{ID: uuid.NewString(), Role: role, Content: content}
}

// AddMessages merges message lists: a message whose id is already present
// replaces it in place, a RemoveMessage marker deletes it, anything else is
// appended. Messages without an id get one.
func AddMessages(current, new any) (any, error) {
	left, err := ToMessages(current)
	if err != nil {
		return nil, fmt.Errorf("current value: %w", err)
	}
	right, err := ToMessages(new)
	if err != nil {
		return nil, fmt.Errorf("new value: %w", err)
	}

	merged := make([]Message, 0, len(left)+len(right))
	index := make(map[string]int, len(left))
	for _, m := range left {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}

	removed := make(map[string]bool)
	for _, m := range right {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Role == RoleRemove {
			if _, ok := index[m.ID]; !ok || removed[m.ID] {
				return nil, fmt.Errorf("attempting to delete a message with an ID that doesn't exist: %s", m.ID)
			}
			removed[m.ID] = true
			continue
		}
		if i, ok := index[m.ID]; ok {
			merged[i] = m
			delete(removed, m.ID)
			continue
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}

	if len(removed) == 0 {
		return merged, nil
	}
	out := make([]Message, 0, len(merged)-len(removed))
	for _, m := range merged {
		if !removed[m.ID] {
			out = append(out, m)
		}
	}
	return out, nil
}

// ToMessages converts a state value into messages. It accepts a Message, a
// []Message, and the map forms produced by decoding a checkpoint.
func ToMessages(v any) ([]Message, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case Message:
		return []Message{t}, nil
	case []Message:
		return append([]Message(nil), t...), nil
	case map[string]any:
		var m Message
		if err := decode(t, &m); err != nil {
			return nil, err
		}
		return []Message{m}, nil
	case []any:
		out := make([]Message, 0, len(t))
		for _, e := range t {
			ms, err := ToMessages(e)
			if err != nil {
				return nil, err
			}
			out = append(out, ms...)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot convert %T to messages", v)
}
