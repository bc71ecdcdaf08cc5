// Package memory provides process-local checkpoint and item stores.
package memory

import (
	"context"
	"sync"

	"github.com/smallnest/stepgraph/store"
)

// MemoryCheckpointStore keeps checkpoint chains in memory.
// Checkpoints are cloned on the way in and out so callers never share maps with the store.
type MemoryCheckpointStore struct {
	mu      sync.RWMutex
	threads map[string][]*store.Checkpoint
}

var _ store.CheckpointStore = (*MemoryCheckpointStore)(nil)

// NewMemoryCheckpointStore creates an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		threads: make(map[string][]*store.Checkpoint),
	}
}

// GetLatest returns the newest checkpoint of a thread.
func (s *MemoryCheckpointStore) GetLatest(_ context.Context, threadID string) (*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.threads[threadID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1].Clone(), nil
}

// Append adds a checkpoint after validating its step.
func (s *MemoryCheckpointStore) Append(_ context.Context, checkpoint *store.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *store.Checkpoint
	if checkpoint != nil {
		if chain := s.threads[checkpoint.ThreadID]; len(chain) > 0 {
			latest = chain[len(chain)-1]
		}
	}
	if err := store.CheckAppend(latest, checkpoint); err != nil {
		return err
	}

	s.threads[checkpoint.ThreadID] = append(s.threads[checkpoint.ThreadID], checkpoint.Clone())
	return nil
}

// List returns the history of a thread.
func (s *MemoryCheckpointStore) List(_ context.Context, threadID string) ([]*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.threads[threadID]
	out := make([]*store.Checkpoint, 0, len(chain))
	for _, cp := range chain {
		out = append(out, cp.Clone())
	}
	return out, nil
}

// Delete drops a thread.
func (s *MemoryCheckpointStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.threads, threadID)
	return nil
}

// Threads returns the ids of all threads with history.
func (s *MemoryCheckpointStore) Threads() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	return ids
}
