package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrInvalidNamespace is returned for an empty namespace, an empty label or key,
// or a label containing NamespaceSeparator.
var ErrInvalidNamespace = errors.New("invalid namespace")

// NamespaceSeparator joins namespace labels in backend keys.
const NamespaceSeparator = "."

// DefaultSearchLimit is used when SearchRequest.Limit is not positive.
const DefaultSearchLimit = 10

// Item is one value of the long-term store.
type Item struct {
	Namespace []string       `json:"namespace"`
	Key       string         `json:"key"`
	Value     map[string]any `json:"value"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	// Score is set by Search when a query was given.
	Score float64 `json:"score,omitempty"`
}

// SearchRequest narrows a search below a namespace prefix.
type SearchRequest struct {
	// Query keeps items whose string values contain at least one of its
	// words, ranked by the number of matching words.
	Query string
	// Filter keeps items whose top-level value fields equal the given values.
	Filter map[string]any
	Limit  int
	Offset int
}

// Store is a key-value store shared by all threads. Values live under a
// namespace such as {"memory", userID} and a key.
type Store interface {
	// Put creates or replaces an item. A nil value deletes it.
	Put(ctx context.Context, namespace []string, key string, value map[string]any) error
	// Get returns the item, or nil if it does not exist.
	Get(ctx context.Context, namespace []string, key string) (*Item, error)
	// Search returns the items below prefix that match req.
	Search(ctx context.Context, prefix []string, req SearchRequest) ([]*Item, error)
	// Delete removes an item. Deleting a missing item is not an error.
	Delete(ctx context.Context, namespace []string, key string) error
	// ListNamespaces returns the distinct namespaces below prefix in lexical order.
	ListNamespaces(ctx context.Context, prefix []string) ([][]string, error)
}

// CheckNamespace validates a namespace and, unless key is omitted, a key.
func CheckNamespace(namespace []string, key ...string) error {
	if len(namespace) == 0 {
		return fmt.Errorf("%w: empty namespace", ErrInvalidNamespace)
	}
	for _, label := range namespace {
		if label == "" || strings.Contains(label, NamespaceSeparator) {
			return fmt.Errorf("%w: bad label %q", ErrInvalidNamespace, label)
		}
	}
	for _, k := range key {
		if k == "" {
			return fmt.Errorf("%w: empty key in %s", ErrInvalidNamespace, JoinNamespace(namespace))
		}
	}
	return nil
}

// JoinNamespace renders a namespace as a single string.
func JoinNamespace(namespace []string) string {
	return strings.Join(namespace, NamespaceSeparator)
}

// SplitNamespace is the inverse of JoinNamespace.
func SplitNamespace(s string) []string {
	return strings.Split(s, NamespaceSeparator)
}

// HasPrefix reports whether namespace starts with prefix. Every namespace
// starts with an empty prefix.
func HasPrefix(namespace, prefix []string) bool {
	return len(namespace) >= len(prefix) && slices.Equal(namespace[:len(prefix)], prefix)
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	out := *i
	out.Namespace = slices.Clone(i.Namespace)
	out.Value = CopyMap(i.Value)
	return &out
}

// Match scores item against req. It reports false when the item is
// filtered out or does not contain any query word.
func Match(item *Item, req SearchRequest) (float64, bool) {
	for field, want := range req.Filter {
		got, ok := item.Value[field]
		if !ok || !sameJSON(got, want) {
			return 0, false
		}
	}

	words := strings.Fields(strings.ToLower(req.Query))
	if len(words) == 0 {
		return 0, true
	}
	text := strings.ToLower(strings.Join(texts(item.Value, nil), "\n"))
	hits := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			hits++
		}
	}
	if hits == 0 {
		return 0, false
	}
	return float64(hits) / float64(len(words)), true
}

// Page sorts matched items by score, then by most recent update, then by
// namespace and key, and applies the offset and limit of req.
func Page(items []*Item, req SearchRequest) []*Item {
	slices.SortFunc(items, func(a, b *Item) int {
		switch {
		case a.Score != b.Score:
			if a.Score > b.Score {
				return -1
			}
			return 1
		case !a.UpdatedAt.Equal(b.UpdatedAt):
			return b.UpdatedAt.Compare(a.UpdatedAt)
		}
		if c := strings.Compare(JoinNamespace(a.Namespace), JoinNamespace(b.Namespace)); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if req.Offset >= len(items) {
		return []*Item{}
	}
	items = items[max(req.Offset, 0):]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// texts collects the string leaves of v.
func texts(v any, out []string) []string {
	switch t := v.(type) {
	case string:
		out = append(out, t)
	case map[string]any:
		for _, k := range sortedKeys(t) {
			out = texts(t[k], out)
		}
	case []any:
		for _, e := range t {
			out = texts(e, out)
		}
	case []string:
		out = append(out, t...)
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// sameJSON compares two values by their JSON encoding so that an int filter
// matches a float64 read back from a durable backend.
func sameJSON(a, b any) bool {
	x, err := json.Marshal(a)
	if err != nil {
		return false
	}
	y, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(x) == string(y)
}
