package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallnest/stepgraph/graph"
	"github.com/spf13/cobra"
)

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state <thread-id>",
		Short: "Show the latest checkpoint of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			snap, err := a.graph.GetState(ctx, args[0])
			if err != nil {
				return err
			}
			renderSnapshot(cmd.OutOrStdout(), snap)
			return nil
		}),
	}
}

func newUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <thread-id>",
		Short: "Patch the state of a thread",
		Long: `Merges --values into the latest state and records an update checkpoint.
With --as-node the patch counts as that node's output and the next tasks are recomputed.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			var values graph.State
			ok, err := jsonFlag(cmd, "values", &values)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("--values is required")
			}
			asNode, _ := cmd.Flags().GetString("as-node")
			if err := a.graph.UpdateState(ctx, args[0], values, asNode); err != nil {
				return err
			}
			snap, err := a.graph.GetState(ctx, args[0])
			if err != nil {
				return err
			}
			renderSnapshot(cmd.OutOrStdout(), snap)
			return nil
		}),
	}
	cmd.Flags().String("values", "", "State patch as a JSON object")
	cmd.Flags().String("as-node", "", "Apply the patch as the output of this node")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <thread-id>",
		Short: "List the checkpoints of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			snaps, err := a.graph.History(ctx, args[0])
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				return fmt.Errorf("thread %s has no checkpoints", args[0])
			}
			renderHistory(cmd.OutOrStdout(), snaps)
			return nil
		}),
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <thread-id>...",
		Short: "Remove the history of one or more threads",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			for _, threadID := range args {
				if err := a.graph.DeleteThread(ctx, threadID); err != nil {
					return fmt.Errorf("failed to delete %s: %w", threadID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed thread '%s'\n", threadID)
			}
			return nil
		}),
	}
}

func newDrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draw",
		Short: "Print the graph as Mermaid, DOT or ASCII",
		Args:  cobra.NoArgs,
		RunE: withApp(func(_ context.Context, cmd *cobra.Command, a *app, _ []string) error {
			format, _ := cmd.Flags().GetString("format")
			exporter := a.graph.Exporter()
			switch format {
			case "mermaid":
				fmt.Fprint(cmd.OutOrStdout(), exporter.DrawMermaid())
			case "dot":
				fmt.Fprint(cmd.OutOrStdout(), exporter.DrawDOT())
			case "ascii":
				fmt.Fprint(cmd.OutOrStdout(), exporter.DrawASCII())
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			return nil
		}),
	}
	cmd.Flags().String("format", "mermaid", "Output format: mermaid, dot or ascii")
	return cmd
}
