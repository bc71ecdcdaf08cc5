package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/stepgraph/store"
)

// RedisCheckpointStore implements store.CheckpointStore using Redis
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ store.CheckpointStore = (*RedisCheckpointStore)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "stepgraph:"
	TTL      time.Duration // Expiration for thread histories, default 0 (no expiration)
}

// NewRedisCheckpointStore creates a new Redis checkpoint store
func NewRedisCheckpointStore(opts RedisOptions) *RedisCheckpointStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisCheckpointStoreFromClient(client, opts.Prefix, opts.TTL)
}

// NewRedisCheckpointStoreFromClient wraps an existing client.
func NewRedisCheckpointStoreFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCheckpointStore {
	if prefix == "" {
		prefix = "stepgraph:"
	}
	return &RedisCheckpointStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Close closes the underlying client.
func (s *RedisCheckpointStore) Close() error {
	return s.client.Close()
}

func (s *RedisCheckpointStore) threadKey(threadID string) string {
	return fmt.Sprintf("%sthread:%s:checkpoints", s.prefix, threadID)
}

func latestIn(ctx context.Context, c redis.Cmdable, key string) (*store.Checkpoint, error) {
	members, err := c.ZRevRange(ctx, key, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint from redis: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	var cp store.Checkpoint
	if err := json.Unmarshal([]byte(members[0]), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// GetLatest returns the member with the highest score.
func (s *RedisCheckpointStore) GetLatest(ctx context.Context, threadID string) (*store.Checkpoint, error) {
	return latestIn(ctx, s.client, s.threadKey(threadID))
}

// Append adds the checkpoint inside a transaction watching the thread key.
func (s *RedisCheckpointStore) Append(ctx context.Context, checkpoint *store.Checkpoint) error {
	if err := store.CheckAppend(nil, checkpoint); err != nil {
		return err
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	key := s.threadKey(checkpoint.ThreadID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		latest, err := latestIn(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := store.CheckAppend(latest, checkpoint); err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZAdd(ctx, key, redis.Z{Score: float64(checkpoint.Step), Member: string(data)})
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: thread %s step %d", store.ErrStaleCheckpoint, checkpoint.ThreadID, checkpoint.Step)
	}
	if err != nil && !errors.Is(err, store.ErrStaleCheckpoint) {
		return fmt.Errorf("failed to save checkpoint to redis: %w", err)
	}
	return err
}

// List returns the thread's checkpoints by ascending step.
func (s *RedisCheckpointStore) List(ctx context.Context, threadID string) ([]*store.Checkpoint, error) {
	members, err := s.client.ZRange(ctx, s.threadKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints for thread %s: %w", threadID, err)
	}

	checkpoints := make([]*store.Checkpoint, 0, len(members))
	for _, m := range members {
		var cp store.Checkpoint
		if err := json.Unmarshal([]byte(m), &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, &cp)
	}
	return checkpoints, nil
}

// Delete removes the thread key.
func (s *RedisCheckpointStore) Delete(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.threadKey(threadID)).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}
