package graph

import (
	"fmt"
	"strings"

	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/store"
	"github.com/smallnest/stepgraph/store/memory"
)

// DefaultMaxSteps bounds the supersteps of a single Invoke or Resume.
const DefaultMaxSteps = 25

// ConflictPolicy decides what happens when two tasks of one superstep write
// different values to the same field without a reducer.
type ConflictPolicy int

const (
	// ConflictFail aborts the superstep with ErrConflictingUpdate.
	ConflictFail ConflictPolicy = iota
	// ConflictLastWriter keeps the value of the last task in frontier order
	// and logs a warning.
	ConflictLastWriter
)

func (p ConflictPolicy) String() string {
	switch p {
	case ConflictFail:
		return "fail"
	case ConflictLastWriter:
		return "last-writer"
	}
	return fmt.Sprintf("ConflictPolicy(%d)", int(p))
}

// ParseConflictPolicy accepts "fail" or "last-writer".
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(s) {
	case "", "fail":
		return ConflictFail, nil
	case "last-writer", "last_writer", "lastwriter":
		return ConflictLastWriter, nil
	}
	return ConflictFail, fmt.Errorf("unknown conflict policy %q", s)
}

type compileConfig struct {
	store           store.CheckpointStore
	items           store.Store
	schema          *MapSchema
	conflict        ConflictPolicy
	logger          log.Logger
	listeners       []Listener
	interruptBefore []string
	interruptAfter  []string
	maxSteps        int
	parallelism     int
}

func defaultCompileConfig() *compileConfig {
	return &compileConfig{
		conflict: ConflictFail,
		maxSteps: DefaultMaxSteps,
	}
}

// CompileOption configures a CompiledGraph.
type CompileOption func(*compileConfig)

// WithCheckpointer sets the checkpoint store. The default is an in-memory store.
func WithCheckpointer(s store.CheckpointStore) CompileOption {
	return func(c *compileConfig) { c.store = s }
}

// WithStore sets the long-term item store shared by all threads. Nodes reach
// it through GetStore.
func WithStore(s store.Store) CompileOption {
	return func(c *compileConfig) { c.items = s }
}

// WithSchema sets the reducers of the state fields.
func WithSchema(schema *MapSchema) CompileOption {
	return func(c *compileConfig) { c.schema = schema }
}

// WithConflictPolicy sets how overwrite-field conflicts are resolved.
func WithConflictPolicy(p ConflictPolicy) CompileOption {
	return func(c *compileConfig) { c.conflict = p }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l log.Logger) CompileOption {
	return func(c *compileConfig) { c.logger = l }
}

// WithListeners registers listeners notified about node, superstep and interrupt events.
func WithListeners(listeners ...Listener) CompileOption {
	return func(c *compileConfig) { c.listeners = append(c.listeners, listeners...) }
}

// WithInterruptBefore pauses a run before any superstep that would execute one of nodes.
func WithInterruptBefore(nodes ...string) CompileOption {
	return func(c *compileConfig) { c.interruptBefore = append(c.interruptBefore, nodes...) }
}

// WithInterruptAfter pauses a run after any superstep that executed one of nodes.
func WithInterruptAfter(nodes ...string) CompileOption {
	return func(c *compileConfig) { c.interruptAfter = append(c.interruptAfter, nodes...) }
}

// WithMaxSteps limits the supersteps a single call may run. n <= 0 removes the limit.
func WithMaxSteps(n int) CompileOption {
	return func(c *compileConfig) { c.maxSteps = n }
}

// WithParallelism caps concurrently running tasks of a superstep. n <= 0 runs
// the whole frontier at once.
func WithParallelism(n int) CompileOption {
	return func(c *compileConfig) { c.parallelism = n }
}

func (c *compileConfig) finish() {
	if c.store == nil {
		c.store = memory.NewMemoryCheckpointStore()
	}
	if c.logger == nil {
		c.logger = log.NoOpLogger{}
	}
}
