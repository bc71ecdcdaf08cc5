package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/smallnest/stepgraph/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ItemFactory returns an empty item store. It is called once per subtest.
type ItemFactory func(t *testing.T) store.Store

// RunItems executes the store.Store contract against the stores produced by newStore.
func RunItems(t *testing.T, newStore ItemFactory) {
	t.Run("get of unknown item is nil", func(t *testing.T) {
		s := newStore(t)
		item, err := s.Get(context.Background(), []string{"memory", "u1"}, "missing")
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("put then get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ns := []string{"memory", "u1"}

		require.NoError(t, s.Put(ctx, ns, "profile", map[string]any{"name": "Robert", "likes": []any{"biking"}}))
		item, err := s.Get(ctx, ns, "profile")
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, ns, item.Namespace)
		assert.Equal(t, "profile", item.Key)
		assert.Equal(t, "Robert", item.Value["name"])
		assert.Equal(t, []any{"biking"}, item.Value["likes"])
		assert.False(t, item.CreatedAt.IsZero())
	})

	t.Run("replace keeps the creation time", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ns := []string{"memory", "u1"}

		require.NoError(t, s.Put(ctx, ns, "profile", map[string]any{"v": "1"}))
		first, err := s.Get(ctx, ns, "profile")
		require.NoError(t, err)

		time.Sleep(2 * time.Millisecond)
		require.NoError(t, s.Put(ctx, ns, "profile", map[string]any{"v": "2"}))
		second, err := s.Get(ctx, ns, "profile")
		require.NoError(t, err)

		assert.Equal(t, "2", second.Value["v"])
		assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
		assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	})

	t.Run("nil value deletes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ns := []string{"memory", "u1"}

		require.NoError(t, s.Put(ctx, ns, "k", map[string]any{"v": "1"}))
		require.NoError(t, s.Put(ctx, ns, "k", nil))
		item, err := s.Get(ctx, ns, "k")
		require.NoError(t, err)
		assert.Nil(t, item)

		namespaces, err := s.ListNamespaces(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, namespaces)
	})

	t.Run("delete unknown item is a no-op", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Delete(context.Background(), []string{"memory"}, "missing"))
	})

	t.Run("invalid namespace is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		assert.ErrorIs(t, s.Put(ctx, nil, "k", map[string]any{}), store.ErrInvalidNamespace)
		assert.ErrorIs(t, s.Put(ctx, []string{"a.b"}, "k", map[string]any{}), store.ErrInvalidNamespace)
		assert.ErrorIs(t, s.Put(ctx, []string{"a"}, "", map[string]any{}), store.ErrInvalidNamespace)
		_, err := s.Get(ctx, []string{""}, "k")
		assert.ErrorIs(t, err, store.ErrInvalidNamespace)
	})

	t.Run("search by prefix, filter and query", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, []string{"memory", "u1"}, "a", map[string]any{"kind": "food", "text": "I like pizza"}))
		require.NoError(t, s.Put(ctx, []string{"memory", "u1"}, "b", map[string]any{"kind": "sport", "text": "I bike to work"}))
		require.NoError(t, s.Put(ctx, []string{"memory", "u2"}, "c", map[string]any{"kind": "food", "text": "pizza and pasta", "rank": 2}))
		require.NoError(t, s.Put(ctx, []string{"docs"}, "d", map[string]any{"text": "pizza recipe"}))

		all, err := s.Search(ctx, []string{"memory"}, store.SearchRequest{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		u1, err := s.Search(ctx, []string{"memory", "u1"}, store.SearchRequest{})
		require.NoError(t, err)
		assert.Len(t, u1, 2)

		food, err := s.Search(ctx, []string{"memory"}, store.SearchRequest{Filter: map[string]any{"kind": "food"}})
		require.NoError(t, err)
		assert.Len(t, food, 2)

		ranked, err := s.Search(ctx, []string{"memory"}, store.SearchRequest{Filter: map[string]any{"rank": 2}})
		require.NoError(t, err)
		require.Len(t, ranked, 1)
		assert.Equal(t, "c", ranked[0].Key)

		hits, err := s.Search(ctx, nil, store.SearchRequest{Query: "Pizza pasta"})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "c", hits[0].Key)
		assert.Equal(t, float64(1), hits[0].Score)

		paged, err := s.Search(ctx, nil, store.SearchRequest{Query: "pizza", Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Len(t, paged, 1)

		none, err := s.Search(ctx, nil, store.SearchRequest{Query: "pizza", Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("list namespaces", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.Put(ctx, []string{"memory", "u2"}, "k", map[string]any{"v": "1"}))
		require.NoError(t, s.Put(ctx, []string{"memory", "u1"}, "k", map[string]any{"v": "1"}))
		require.NoError(t, s.Put(ctx, []string{"docs"}, "k", map[string]any{"v": "1"}))

		namespaces, err := s.ListNamespaces(ctx, []string{"memory"})
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"memory", "u1"}, {"memory", "u2"}}, namespaces)

		require.NoError(t, s.Delete(ctx, []string{"memory", "u1"}, "k"))
		namespaces, err = s.ListNamespaces(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"docs"}, {"memory", "u2"}}, namespaces)
	})
}
