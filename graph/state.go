package graph

import (
	"maps"
	"slices"

	"github.com/smallnest/stepgraph/store"
)

// START is the virtual node every run begins from.
const START = "START"

// END is a special constant used to represent the end node in the graph.
const END = "END"

// State is the shared, JSON-like state of a thread.
type State = map[string]any

// copyState returns a deep copy of s. A nil state becomes an empty one.
func copyState(s State) State {
	if s == nil {
		return State{}
	}
	return store.CopyMap(s)
}

// sortedKeys returns the keys of m in lexical order.
func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
