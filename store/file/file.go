// Package file provides a checkpoint store that keeps one JSON-lines file per thread.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/smallnest/stepgraph/store"
)

// FileCheckpointStore writes each thread's chain to <dir>/<thread>.jsonl.
type FileCheckpointStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ store.CheckpointStore = (*FileCheckpointStore)(nil)

// NewFileCheckpointStore creates the directory if needed and returns a store rooted at it.
func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (s *FileCheckpointStore) path(threadID string) string {
	return filepath.Join(s.dir, url.PathEscape(threadID)+".jsonl")
}

func (s *FileCheckpointStore) lock(threadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[threadID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[threadID] = l
	}
	return l
}

func (s *FileCheckpointStore) read(threadID string) ([]*store.Checkpoint, error) {
	f, err := os.Open(s.path(threadID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer f.Close()

	var chain []*store.Checkpoint
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cp store.Checkpoint
		if err := json.Unmarshal(line, &cp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		chain = append(chain, &cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	return chain, nil
}

// GetLatest returns the last line of the thread's file.
func (s *FileCheckpointStore) GetLatest(_ context.Context, threadID string) (*store.Checkpoint, error) {
	l := s.lock(threadID)
	l.Lock()
	defer l.Unlock()

	chain, err := s.read(threadID)
	if err != nil || len(chain) == 0 {
		return nil, err
	}
	return chain[len(chain)-1], nil
}

// Append validates the step and appends one line.
func (s *FileCheckpointStore) Append(_ context.Context, checkpoint *store.Checkpoint) error {
	if err := store.CheckAppend(nil, checkpoint); err != nil {
		return err
	}

	l := s.lock(checkpoint.ThreadID)
	l.Lock()
	defer l.Unlock()

	chain, err := s.read(checkpoint.ThreadID)
	if err != nil {
		return err
	}
	var latest *store.Checkpoint
	if len(chain) > 0 {
		latest = chain[len(chain)-1]
	}
	if err := store.CheckAppend(latest, checkpoint); err != nil {
		return err
	}

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	f, err := os.OpenFile(s.path(checkpoint.ThreadID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return f.Sync()
}

// List returns every checkpoint in the thread's file.
func (s *FileCheckpointStore) List(_ context.Context, threadID string) ([]*store.Checkpoint, error) {
	l := s.lock(threadID)
	l.Lock()
	defer l.Unlock()

	chain, err := s.read(threadID)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		chain = []*store.Checkpoint{}
	}
	return chain, nil
}

// Delete removes the thread's file.
func (s *FileCheckpointStore) Delete(_ context.Context, threadID string) error {
	l := s.lock(threadID)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(s.path(threadID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return nil
}
