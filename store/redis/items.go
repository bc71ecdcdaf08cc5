package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/stepgraph/store"
)

// RedisStore implements store.Store. Every namespace is a hash of JSON items
// keyed by item key; a set indexes the namespaces in use.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ store.Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis with the address, credentials and prefix of opts.
// TTL is ignored: items live until deleted.
func NewRedisStore(opts RedisOptions) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStoreFromClient(client, opts.Prefix)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "stepgraph:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) namespacesKey() string {
	return s.prefix + "namespaces"
}

func (s *RedisStore) itemsKey(ns string) string {
	return fmt.Sprintf("%sitems:%s", s.prefix, ns)
}

func decodeItem(raw string) (*store.Item, error) {
	var item store.Item
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &item, nil
}

// Put writes the item inside a transaction watching the namespace hash, so
// the creation time of a replaced item survives concurrent writers.
func (s *RedisStore) Put(ctx context.Context, namespace []string, key string, value map[string]any) error {
	if err := store.CheckNamespace(namespace, key); err != nil {
		return err
	}
	if value == nil {
		return s.Delete(ctx, namespace, key)
	}

	ns := store.JoinNamespace(namespace)
	hash := s.itemsKey(ns)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		now := time.Now().UTC()
		item := &store.Item{
			Namespace: slices.Clone(namespace),
			Key:       key,
			Value:     value,
			CreatedAt: now,
			UpdatedAt: now,
		}
		old, err := tx.HGet(ctx, hash, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if prev, err := decodeItem(old); err == nil {
				item.CreatedAt = prev.CreatedAt
			}
		}

		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal item: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, hash, key, string(data))
			pipe.SAdd(ctx, s.namespacesKey(), ns)
			return nil
		})
		return err
	}, hash)
	if err != nil {
		return fmt.Errorf("failed to put item %s/%s: %w", ns, key, err)
	}
	return nil
}

// Get reads one hash field.
func (s *RedisStore) Get(ctx context.Context, namespace []string, key string) (*store.Item, error) {
	if err := store.CheckNamespace(namespace, key); err != nil {
		return nil, err
	}
	raw, err := s.client.HGet(ctx, s.itemsKey(store.JoinNamespace(namespace)), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return decodeItem(raw)
}

// Search loads every namespace hash below prefix and matches in process.
func (s *RedisStore) Search(ctx context.Context, prefix []string, req store.SearchRequest) ([]*store.Item, error) {
	namespaces, err := s.ListNamespaces(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var matched []*store.Item
	for _, ns := range namespaces {
		fields, err := s.client.HGetAll(ctx, s.itemsKey(store.JoinNamespace(ns))).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to search items: %w", err)
		}
		for _, raw := range fields {
			item, err := decodeItem(raw)
			if err != nil {
				return nil, err
			}
			score, ok := store.Match(item, req)
			if !ok {
				continue
			}
			item.Score = score
			matched = append(matched, item)
		}
	}
	return store.Page(matched, req), nil
}

// Delete removes the hash field and unindexes an emptied namespace.
func (s *RedisStore) Delete(ctx context.Context, namespace []string, key string) error {
	if err := store.CheckNamespace(namespace, key); err != nil {
		return err
	}

	ns := store.JoinNamespace(namespace)
	hash := s.itemsKey(ns)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		left, err := tx.HLen(ctx, hash).Result()
		if err != nil {
			return err
		}
		exists, err := tx.HExists(ctx, hash, key).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, hash, key)
			if left == 0 || (exists && left == 1) {
				pipe.SRem(ctx, s.namespacesKey(), ns)
			}
			return nil
		})
		return err
	}, hash)
	if err != nil {
		return fmt.Errorf("failed to delete item %s/%s: %w", ns, key, err)
	}
	return nil
}

// ListNamespaces reads the namespace index.
func (s *RedisStore) ListNamespaces(ctx context.Context, prefix []string) ([][]string, error) {
	members, err := s.client.SMembers(ctx, s.namespacesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	slices.Sort(members)

	out := make([][]string, 0, len(members))
	for _, m := range members {
		ns := store.SplitNamespace(m)
		if store.HasPrefix(ns, prefix) {
			out = append(out, ns)
		}
	}
	return out, nil
}
