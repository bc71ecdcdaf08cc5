package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateNode is returned when a node name is registered twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrUnknownNode is returned when an edge or option references an unregistered node.
	ErrUnknownNode = errors.New("unknown node")

	// ErrGraphFrozen is returned when a compiled graph definition is mutated.
	ErrGraphFrozen = errors.New("graph is frozen")

	// ErrEntryPointNotSet is returned when the entry point of the graph is not set.
	ErrEntryPointNotSet = errors.New("entry point not set")

	// ErrNoPendingInterrupt is returned when resuming a thread that is not waiting.
	ErrNoPendingInterrupt = errors.New("no pending interrupt")

	// ErrConflictingUpdate is returned when two nodes of one superstep write
	// different values to the same overwrite field under ConflictFail.
	ErrConflictingUpdate = errors.New("conflicting update")

	// ErrRecursionLimit is returned when a run exceeds the configured superstep limit.
	ErrRecursionLimit = errors.New("recursion limit reached")

	// ErrNoOutgoingEdge is returned when no outgoing edge is found for a node.
	ErrNoOutgoingEdge = errors.New("no outgoing edge found for node")

	// ErrInvalidNodeResult is returned when a node returns something other than
	// a State, a *Command or nil.
	ErrInvalidNodeResult = errors.New("invalid node result")
)

// RoutingError is returned when a conditional edge produces a label that maps to no node.
type RoutingError struct {
	Node  string
	Label string
	Known []string
}

func (e *RoutingError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("routing from %s: label %q is not a node", e.Node, e.Label)
	}
	return fmt.Sprintf("routing from %s: label %q not in [%s]", e.Node, e.Label, strings.Join(e.Known, ", "))
}

// NodeInterrupt is returned by Interrupt when a node requests a pause (e.g. waiting for human input).
// Nodes must return it unchanged.
type NodeInterrupt struct {
	// Node is the name of the node that triggered the interrupt
	Node string
	// Value is the data/query provided by the interrupt
	Value any
	// Index is the position of the interrupt call within the node invocation
	Index int
}

func (e *NodeInterrupt) Error() string {
	return fmt.Sprintf("interrupt at node %s: %v", e.Node, e.Value)
}

// GraphInterrupt is returned by a run that paused. The thread's latest
// checkpoint holds State and the frozen frontier.
type GraphInterrupt struct {
	// Node that caused the interruption
	Node string
	// Step of the interrupt checkpoint
	Step int
	// Value is the value provided by the dynamic interrupt (if any)
	Value any
	// When is "during", "before" or "after"
	When string
	// State at the time of interruption
	State State
	// Next holds the nodes that will run on resume
	Next []string
}

func (e *GraphInterrupt) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("graph interrupted at node %s with value: %v", e.Node, e.Value)
	}
	return fmt.Sprintf("graph interrupted %s node %s", e.When, e.Node)
}

// IsInterrupt reports whether err is a pause rather than a failure.
func IsInterrupt(err error) bool {
	var gi *GraphInterrupt
	var ni *NodeInterrupt
	return errors.As(err, &gi) || errors.As(err, &ni)
}
