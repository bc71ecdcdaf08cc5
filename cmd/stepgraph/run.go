package main

import (
	"context"
	"errors"

	"github.com/smallnest/stepgraph/graph"
	"github.com/spf13/cobra"
)

// printRun renders a run outcome. A pause is not an error.
func printRun(cmd *cobra.Command, threadID string, values graph.State, err error) error {
	var gi *graph.GraphInterrupt
	if err != nil && !errors.As(err, &gi) {
		return err
	}
	renderRun(cmd.OutOrStdout(), threadID, values, gi)
	return nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <thread-id>",
		Short: "Start a run on a thread",
		Long:  `Runs the graph from START. On an existing thread the input is merged into the latest state.`,
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			var input graph.State
			if _, err := jsonFlag(cmd, "input", &input); err != nil {
				return err
			}
			values, err := a.graph.Invoke(ctx, args[0], input)
			return printRun(cmd, args[0], values, err)
		}),
	}
	cmd.Flags().String("input", "", "Input state as a JSON object")
	return cmd
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <thread-id>",
		Short: "Resume an interrupted thread",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			sig := graph.ResumeSignal{}

			var value any
			ok, err := jsonFlag(cmd, "value", &value)
			if err != nil {
				return err
			}
			if ok {
				sig = graph.ResumeWith(value)
			}

			var patch graph.State
			ok, err = jsonFlag(cmd, "patch", &patch)
			if err != nil {
				return err
			}
			if ok {
				sig = sig.WithPatch(patch)
			}

			values, err := a.graph.Resume(ctx, args[0], sig)
			return printRun(cmd, args[0], values, err)
		}),
	}
	cmd.Flags().String("value", "", "Resume value as JSON, e.g. '\"step2\"'")
	cmd.Flags().String("patch", "", "State patch applied before resuming, as a JSON object")
	return cmd
}
