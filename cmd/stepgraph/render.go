package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/smallnest/stepgraph/graph"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	valueStyle = lipgloss.NewStyle().PaddingLeft(2)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("11")).
			Padding(0, 1)

	statusStyles = map[graph.Status]lipgloss.Style{
		graph.StatusTerminal:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")),
		graph.StatusInterrupted: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		graph.StatusRunning:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
	}
)

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func renderStatus(s graph.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

func field(label, value string) string {
	return labelStyle.Render(label+":") + " " + value
}

// renderRun prints the outcome of a run or resume.
func renderRun(w io.Writer, threadID string, values graph.State, gi *graph.GraphInterrupt) {
	status := graph.StatusTerminal
	if gi != nil {
		status = graph.StatusInterrupted
	}
	lines := []string{
		titleStyle.Render("thread " + threadID),
		field("status", renderStatus(status)),
		field("values", ""),
		valueStyle.Render(prettyJSON(values)),
	}
	if gi != nil {
		box := boxStyle.Render(strings.Join([]string{
			field("paused", gi.When+" "+gi.Node),
			field("step", fmt.Sprint(gi.Step)),
			field("value", fmt.Sprint(gi.Value)),
			field("next", strings.Join(gi.Next, ", ")),
		}, "\n"))
		lines = append(lines, box)
	}
	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

// renderSnapshot prints one checkpoint of a thread.
func renderSnapshot(w io.Writer, snap *graph.Snapshot) {
	lines := []string{
		titleStyle.Render(fmt.Sprintf("thread %s @ step %d", snap.ThreadID, snap.Step)),
		field("checkpoint", snap.CheckpointID),
		field("source", string(snap.Source)),
		field("status", renderStatus(snap.Status)),
		field("next", strings.Join(snap.Next, ", ")),
	}
	if snap.Interrupt != nil {
		lines = append(lines, field("interrupt", fmt.Sprintf("%s %s: %v", snap.Interrupt.When, snap.Interrupt.Node, snap.Interrupt.Value)))
	}
	lines = append(lines, field("values", ""), valueStyle.Render(prettyJSON(snap.Values)))
	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

// renderHistory prints one line per checkpoint, oldest first.
func renderHistory(w io.Writer, snaps []*graph.Snapshot) {
	for _, s := range snaps {
		fmt.Fprintf(w, "%s %-9s %s next=[%s]\n",
			labelStyle.Render(fmt.Sprintf("%3d", s.Step)),
			s.Source,
			renderStatus(s.Status),
			strings.Join(s.Next, ", "))
	}
}
