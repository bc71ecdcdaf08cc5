package graph

import (
	"context"
	"sync"
)

// resumeScope counts the interrupt calls of one node invocation and holds
// the values delivered to them so far.
type resumeScope struct {
	mu      sync.Mutex
	node    string
	values  []any
	counter int
}

func newResumeScope(node string, values []any) *resumeScope {
	return &resumeScope{node: node, values: values}
}

func (s *resumeScope) next(value any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.counter
	s.counter++
	if idx < len(s.values) {
		return s.values[idx], nil
	}
	return nil, &NodeInterrupt{Node: s.node, Value: value, Index: idx}
}

// advance skips the first n values, which a nested graph already consumed.
func (s *resumeScope) advance(n int) {
	s.mu.Lock()
	if s.counter < n {
		s.counter = min(n, len(s.values))
	}
	s.mu.Unlock()
}

// reset rewinds the counter so a re-executed body replays the same values.
func (s *resumeScope) reset() {
	s.mu.Lock()
	s.counter = 0
	s.mu.Unlock()
}

// Interrupt pauses the running node. The k-th call inside a node invocation
// returns the k-th resume value once the thread has been resumed that many
// times; until then it returns a *NodeInterrupt that the node must return.
// The node is re-executed from its start on every resume.
func Interrupt(ctx context.Context, value any) (any, error) {
	info := getTaskInfo(ctx)
	if info == nil || info.scope == nil {
		return nil, &NodeInterrupt{Value: value}
	}
	return info.scope.next(value)
}

// ResumeSignal continues an interrupted thread.
// The zero value continues without delivering a value.
type ResumeSignal struct {
	value    any
	hasValue bool
	patch    State
}

// ResumeWith returns a signal delivering v to the pending interrupt call.
func ResumeWith(v any) ResumeSignal {
	return ResumeSignal{value: v, hasValue: true}
}

// WithPatch returns a copy of r that merges patch into the thread's state
// before the interrupted node is re-executed.
func (r ResumeSignal) WithPatch(patch State) ResumeSignal {
	r.patch = patch
	return r
}

// Value returns the resume value and whether one is set.
func (r ResumeSignal) Value() (any, bool) {
	return r.value, r.hasValue
}
