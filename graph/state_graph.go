package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// NodeFunc is the body of a node. It returns a State holding the fields it
// updates, a *Command, or nil.
type NodeFunc func(ctx context.Context, state State) (any, error)

// Router picks the label of the next node from the state.
type Router func(ctx context.Context, state State) string

// FanOutFunc returns the Send tasks a node schedules for the next superstep.
type FanOutFunc func(ctx context.Context, state State) []Send

// Node represents a node in the graph.
type Node struct {
	// Name is the unique identifier for the node.
	Name string

	// Description describes the functionality of the node.
	Description string

	// Function is the function associated with the node.
	Function NodeFunc
}

// Edge represents a static edge in the graph.
type Edge struct {
	From string
	To   string
}

type branch struct {
	router Router
	labels map[string]string
}

// StateGraph is the mutable definition of a graph. Compile freezes it.
type StateGraph struct {
	mu       sync.Mutex
	nodes    map[string]*Node
	order    []string
	edges    []Edge
	branches map[string][]branch
	fanOuts  map[string][]FanOutFunc
	frozen   bool
}

// NewStateGraph creates an empty graph definition.
func NewStateGraph() *StateGraph {
	return &StateGraph{
		nodes:    make(map[string]*Node),
		branches: make(map[string][]branch),
		fanOuts:  make(map[string][]FanOutFunc),
	}
}

// AddNode registers a node. Names must be unique and START and END are reserved.
func (g *StateGraph) AddNode(name string, description string, fn NodeFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return fmt.Errorf("%w: cannot add node %s", ErrGraphFrozen, name)
	}
	if name == "" || name == START || name == END {
		return fmt.Errorf("%w: %q is reserved", ErrDuplicateNode, name)
	}
	if _, ok := g.nodes[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, name)
	}
	if fn == nil {
		return fmt.Errorf("node %s: nil function", name)
	}
	g.nodes[name] = &Node{Name: name, Description: description, Function: fn}
	g.order = append(g.order, name)
	return nil
}

func (g *StateGraph) checkSource(from string) error {
	if from == START {
		return nil
	}
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, from)
	}
	return nil
}

func (g *StateGraph) checkTarget(to string) error {
	if to == END {
		return nil
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, to)
	}
	return nil
}

// AddEdge adds a static edge. Both endpoints must be registered, apart from
// START as a source and END as a target.
func (g *StateGraph) AddEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return fmt.Errorf("%w: cannot add edge %s -> %s", ErrGraphFrozen, from, to)
	}
	if err := g.checkSource(from); err != nil {
		return err
	}
	if err := g.checkTarget(to); err != nil {
		return err
	}
	g.edges = append(g.edges, Edge{From: from, To: to})
	return nil
}

// AddConditionalEdge routes from a node through router. labels maps router
// labels to node names; when labels is empty the label itself is the node
// name. A label that resolves to no node fails the run with *RoutingError.
func (g *StateGraph) AddConditionalEdge(from string, router Router, labels map[string]string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return fmt.Errorf("%w: cannot add conditional edge from %s", ErrGraphFrozen, from)
	}
	if err := g.checkSource(from); err != nil {
		return err
	}
	if router == nil {
		return fmt.Errorf("conditional edge from %s: nil router", from)
	}
	for _, to := range labels {
		if err := g.checkTarget(to); err != nil {
			return err
		}
	}
	g.branches[from] = append(g.branches[from], branch{router: router, labels: maps.Clone(labels)})
	return nil
}

// AddFanOut adds a dynamic edge: after from runs, fn's Send tasks join the next frontier.
func (g *StateGraph) AddFanOut(from string, fn FanOutFunc) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.frozen {
		return fmt.Errorf("%w: cannot add fan-out from %s", ErrGraphFrozen, from)
	}
	if err := g.checkSource(from); err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("fan-out from %s: nil function", from)
	}
	g.fanOuts[from] = append(g.fanOuts[from], fn)
	return nil
}

// SetEntryPoint is shorthand for AddEdge(START, name).
func (g *StateGraph) SetEntryPoint(name string) error {
	return g.AddEdge(START, name)
}

// Compile freezes the definition and returns an executable graph. A frozen
// definition may be compiled again with other options.
func (g *StateGraph) Compile(opts ...CompileOption) (*CompiledGraph, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	hasEntry := len(g.branches[START]) > 0 || len(g.fanOuts[START]) > 0
	for _, e := range g.edges {
		if e.From == START {
			hasEntry = true
			break
		}
	}
	if !hasEntry {
		return nil, ErrEntryPointNotSet
	}

	cfg := defaultCompileConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	for _, n := range slices.Concat(cfg.interruptBefore, cfg.interruptAfter) {
		if _, ok := g.nodes[n]; !ok {
			return nil, fmt.Errorf("%w: interrupt on %s", ErrUnknownNode, n)
		}
	}
	cfg.finish()

	g.frozen = true
	return newCompiledGraph(g, cfg), nil
}
