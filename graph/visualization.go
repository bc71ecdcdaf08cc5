package graph

import (
	"fmt"
	"strings"
)

// Exporter renders a compiled graph as a diagram.
type Exporter struct {
	graph *CompiledGraph
}

// NewExporter creates a new graph exporter for the given graph
func NewExporter(graph *CompiledGraph) *Exporter {
	return &Exporter{graph: graph}
}

// MermaidOptions defines configuration for Mermaid diagram generation
type MermaidOptions struct {
	// Direction of the flowchart (e.g., "TD", "LR")
	Direction string
}

// arc is one drawable edge. A "?" target stands for a destination only
// known at run time.
type arc struct {
	from, to, label string
	dashed          bool
}

// arcs lists every edge in a stable order: static edges as added, then
// conditional targets by label, then fan-outs.
func (ge *Exporter) arcs() []arc {
	g := ge.graph
	var out []arc
	for _, e := range g.edges {
		out = append(out, arc{from: e.From, to: e.To})
	}
	sources := append([]string{START}, g.order...)
	for _, from := range sources {
		for _, b := range g.branches[from] {
			if len(b.labels) == 0 {
				out = append(out, arc{from: from, to: "?", label: "route", dashed: true})
				continue
			}
			for _, label := range sortedKeys(b.labels) {
				out = append(out, arc{from: from, to: b.labels[label], label: label, dashed: true})
			}
		}
		if len(g.fanOuts[from]) > 0 {
			out = append(out, arc{from: from, to: "?", label: "send", dashed: true})
		}
	}
	return out
}

func (ge *Exporter) usesEnd(arcs []arc) bool {
	for _, a := range arcs {
		if a.to == END {
			return true
		}
	}
	return false
}

// DrawMermaid generates a Mermaid diagram representation of the graph
func (ge *Exporter) DrawMermaid() string {
	return ge.DrawMermaidWithOptions(MermaidOptions{
		Direction: "TD",
	})
}

// DrawMermaidWithOptions generates a Mermaid diagram with custom options
func (ge *Exporter) DrawMermaidWithOptions(opts MermaidOptions) string {
	var sb strings.Builder

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}
	fmt.Fprintf(&sb, "flowchart %s\n", direction)
	sb.WriteString("    START([\"START\"])\n")
	sb.WriteString("    style START fill:#90EE90\n")

	for _, name := range ge.graph.order {
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", name, name)
	}

	arcs := ge.arcs()
	if ge.usesEnd(arcs) {
		sb.WriteString("    END([\"END\"])\n")
		sb.WriteString("    style END fill:#FFB6C1\n")
	}

	for _, a := range arcs {
		switch {
		case a.to == "?":
			fmt.Fprintf(&sb, "    %s -.-> %s_%s((?))\n", a.from, a.from, a.label)
		case a.dashed:
			fmt.Fprintf(&sb, "    %s -. %s .-> %s\n", a.from, a.label, a.to)
		default:
			fmt.Fprintf(&sb, "    %s --> %s\n", a.from, a.to)
		}
	}

	for _, name := range ge.graph.order {
		if ge.graph.before[name] || ge.graph.after[name] {
			fmt.Fprintf(&sb, "    style %s stroke:#f66,stroke-width:2px\n", name)
		}
	}
	return sb.String()
}

// DrawDOT generates a DOT (Graphviz) representation of the graph
func (ge *Exporter) DrawDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph G {\n")
	sb.WriteString("    rankdir=TD;\n")
	sb.WriteString("    node [shape=box];\n")
	sb.WriteString("    START [label=\"START\", shape=ellipse, style=filled, fillcolor=lightgreen];\n")

	arcs := ge.arcs()
	if ge.usesEnd(arcs) {
		sb.WriteString("    END [label=\"END\", shape=ellipse, style=filled, fillcolor=lightpink];\n")
	}

	for _, a := range arcs {
		switch {
		case a.to == "?":
			fmt.Fprintf(&sb, "    %s_%s [label=\"?\", shape=diamond, style=filled, fillcolor=lightyellow];\n", a.from, a.label)
			fmt.Fprintf(&sb, "    %s -> %s_%s [style=dashed, label=\"%s\"];\n", a.from, a.from, a.label, a.label)
		case a.dashed:
			fmt.Fprintf(&sb, "    %s -> %s [style=dashed, label=\"%s\"];\n", a.from, a.to, a.label)
		default:
			fmt.Fprintf(&sb, "    %s -> %s;\n", a.from, a.to)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// DrawASCII generates an ASCII tree representation of the graph
func (ge *Exporter) DrawASCII() string {
	var sb strings.Builder
	sb.WriteString("Graph Execution Flow:\n")
	sb.WriteString("└── START\n")
	ge.drawASCIIChildren(START, "    ", map[string]bool{START: true}, &sb)
	return sb.String()
}

func (ge *Exporter) children(name string) []string {
	var out []string
	for _, a := range ge.arcs() {
		if a.from != name {
			continue
		}
		if a.to == "?" {
			out = append(out, "("+a.label+")")
			continue
		}
		out = append(out, a.to)
	}
	return out
}

// drawASCIIChildren recursively draws the nodes reachable from name
func (ge *Exporter) drawASCIIChildren(name string, prefix string, visited map[string]bool, sb *strings.Builder) {
	children := ge.children(name)
	for i, child := range children {
		last := i == len(children)-1
		connector, nextPrefix := "├──", prefix+"│   "
		if last {
			connector, nextPrefix = "└──", prefix+"    "
		}

		if visited[child] {
			fmt.Fprintf(sb, "%s%s %s (cycle)\n", prefix, connector, child)
			continue
		}
		fmt.Fprintf(sb, "%s%s %s\n", prefix, connector, child)
		if child == END || strings.HasPrefix(child, "(") {
			continue
		}
		visited[child] = true
		ge.drawASCIIChildren(child, nextPrefix, visited, sb)
		delete(visited, child)
	}
}

// Exporter returns an exporter for g.
func (g *CompiledGraph) Exporter() *Exporter {
	return NewExporter(g)
}
