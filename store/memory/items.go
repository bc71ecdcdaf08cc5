package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/smallnest/stepgraph/store"
)

// MemoryStore is a process-local store.Store. Items are cloned on the way in
// and out.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]map[string]*store.Item // joined namespace -> key -> item
	now   func() time.Time
}

var _ store.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty item store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]map[string]*store.Item),
		now:   time.Now,
	}
}

// Put creates or replaces an item. A nil value deletes it.
func (s *MemoryStore) Put(ctx context.Context, namespace []string, key string, value map[string]any) error {
	if err := store.CheckNamespace(namespace, key); err != nil {
		return err
	}
	if value == nil {
		return s.Delete(ctx, namespace, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns := store.JoinNamespace(namespace)
	bucket, ok := s.items[ns]
	if !ok {
		bucket = make(map[string]*store.Item)
		s.items[ns] = bucket
	}
	now := s.now()
	item := &store.Item{
		Namespace: slices.Clone(namespace),
		Key:       key,
		Value:     store.CopyMap(value),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if old, ok := bucket[key]; ok {
		item.CreatedAt = old.CreatedAt
	}
	bucket[key] = item
	return nil
}

// Get returns a copy of the item, or nil.
func (s *MemoryStore) Get(_ context.Context, namespace []string, key string) (*store.Item, error) {
	if err := store.CheckNamespace(namespace, key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.items[store.JoinNamespace(namespace)][key].Clone(), nil
}

// Search scans every namespace below prefix.
func (s *MemoryStore) Search(_ context.Context, prefix []string, req store.SearchRequest) ([]*store.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*store.Item
	for _, bucket := range s.items {
		for _, item := range bucket {
			if !store.HasPrefix(item.Namespace, prefix) {
				continue
			}
			score, ok := store.Match(item, req)
			if !ok {
				continue
			}
			c := item.Clone()
			c.Score = score
			matched = append(matched, c)
		}
	}
	return store.Page(matched, req), nil
}

// Delete removes an item and drops its namespace once empty.
func (s *MemoryStore) Delete(_ context.Context, namespace []string, key string) error {
	if err := store.CheckNamespace(namespace, key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns := store.JoinNamespace(namespace)
	delete(s.items[ns], key)
	if len(s.items[ns]) == 0 {
		delete(s.items, ns)
	}
	return nil
}

// ListNamespaces returns the namespaces below prefix that hold items.
func (s *MemoryStore) ListNamespaces(_ context.Context, prefix []string) ([][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var joined []string
	for ns := range s.items {
		if store.HasPrefix(store.SplitNamespace(ns), prefix) {
			joined = append(joined, ns)
		}
	}
	slices.Sort(joined)

	out := make([][]string, 0, len(joined))
	for _, ns := range joined {
		out = append(out, store.SplitNamespace(ns))
	}
	return out, nil
}
