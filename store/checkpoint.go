package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStaleCheckpoint is returned by Append when the checkpoint's step is not
	// strictly greater than the latest step already stored for the thread.
	ErrStaleCheckpoint = errors.New("stale checkpoint")

	// ErrInvalidCheckpoint is returned by Append for a checkpoint without a thread id or id.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")

	// ErrNotFound is returned by readers that require an existing thread.
	ErrNotFound = errors.New("thread not found")
)

// Source describes what produced a checkpoint.
type Source string

const (
	// SourceInput is written when a run starts from new input.
	SourceInput Source = "input"
	// SourceLoop is written after a superstep completed and its updates were merged.
	SourceLoop Source = "loop"
	// SourceInterrupt is written when a superstep was suspended by an interrupt.
	SourceInterrupt Source = "interrupt"
	// SourceUpdate is written by an out-of-band state amendment.
	SourceUpdate Source = "update"
)

// Interrupt timing.
const (
	InterruptDuring = "during"
	InterruptBefore = "before"
	InterruptAfter  = "after"
)

// Task is one unit of pending work: a node to run, optionally with its own input.
type Task struct {
	// ID is assigned when the task is scheduled and survives interrupts and
	// resumes of the same superstep.
	ID   string `json:"id,omitempty"`
	Node string `json:"node"`
	// Send marks a fan-out task: the node reads Input instead of the shared
	// state, even when Input is empty.
	Send bool `json:"send,omitempty"`
	// Input is the argument of a Send task.
	Input map[string]any `json:"input,omitempty"`
	// Resumes holds the values delivered to the task's interrupt calls, in call order.
	Resumes []any `json:"resumes,omitempty"`
}

// Interrupt records a pause raised at a superstep.
type Interrupt struct {
	// Node that raised the interrupt
	Node string `json:"node"`
	// Task is the index of the interrupted task in the checkpoint's Pending list
	Task int `json:"task"`
	// Step at which the interrupt was raised
	Step int `json:"step"`
	// Value is the payload passed to the interrupt call
	Value any `json:"value,omitempty"`
	// Index is the position of the interrupt call inside the node invocation
	Index int `json:"index"`
	// When is one of InterruptDuring, InterruptBefore or InterruptAfter
	When string `json:"when"`
}

// Checkpoint is an immutable snapshot of a thread taken at a superstep boundary.
type Checkpoint struct {
	ID        string         `json:"id"`
	ThreadID  string         `json:"thread_id"`
	Step      int            `json:"step"`
	ParentID  string         `json:"parent_id,omitempty"`
	Source    Source         `json:"source"`
	State     map[string]any `json:"state"`
	Pending   []Task         `json:"pending,omitempty"`
	Interrupt *Interrupt     `json:"interrupt,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Terminal reports whether the run recorded by the checkpoint has finished.
func (c *Checkpoint) Terminal() bool {
	return len(c.Pending) == 0 && c.Interrupt == nil
}

// PendingNodes returns the node names of the pending tasks in order.
func (c *Checkpoint) PendingNodes() []string {
	names := make([]string, 0, len(c.Pending))
	for _, t := range c.Pending {
		names = append(names, t.Node)
	}
	return names
}

// Clone returns a deep copy of c: no map or slice reachable from the
// copy is shared with c.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.State = CopyMap(c.State)
	cp.Metadata = CopyMap(c.Metadata)
	if c.Pending != nil {
		cp.Pending = make([]Task, len(c.Pending))
		for i, t := range c.Pending {
			cp.Pending[i] = Task{
				Node:  t.Node,
				Send:  t.Send,
				Input: CopyMap(t.Input),
			}
			if t.Resumes != nil {
				cp.Pending[i].Resumes = CopyValue(t.Resumes).([]any)
			}
		}
	}
	if c.Interrupt != nil {
		in := *c.Interrupt
		in.Value = CopyValue(in.Value)
		cp.Interrupt = &in
	}
	return &cp
}

// CheckpointStore persists the checkpoint chain of every thread.
type CheckpointStore interface {
	// GetLatest returns the newest checkpoint of a thread, or nil when the thread has no history.
	GetLatest(ctx context.Context, threadID string) (*Checkpoint, error)

	// Append adds a checkpoint to its thread. It fails with ErrStaleCheckpoint
	// unless the checkpoint's step is greater than every stored step of the thread.
	Append(ctx context.Context, checkpoint *Checkpoint) error

	// List returns the history of a thread ordered by step.
	List(ctx context.Context, threadID string) ([]*Checkpoint, error)

	// Delete removes every checkpoint of a thread. Deleting an unknown thread is not an error.
	Delete(ctx context.Context, threadID string) error
}

// CheckAppend validates cp against the latest stored checkpoint of its thread.
func CheckAppend(latest, cp *Checkpoint) error {
	if cp == nil || cp.ThreadID == "" {
		return fmt.Errorf("%w: missing thread id", ErrInvalidCheckpoint)
	}
	if cp.ID == "" {
		return fmt.Errorf("%w: missing checkpoint id on thread %s", ErrInvalidCheckpoint, cp.ThreadID)
	}
	if latest != nil && cp.Step <= latest.Step {
		return fmt.Errorf("%w: thread %s step %d is not after %d", ErrStaleCheckpoint, cp.ThreadID, cp.Step, latest.Step)
	}
	return nil
}
