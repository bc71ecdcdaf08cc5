package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/log"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "stepgraph.yaml"

// app is what a command needs once flags and config are resolved.
type app struct {
	cfg    *Config
	logger log.Logger
	graph  *graph.CompiledGraph
	close  func() error
}

// loadConfig reads --config and applies the flag overrides.
func loadConfig(cmd *cobra.Command) (*Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := LoadConfig(path, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		flag   string
		target *string
	}{
		{"graph", &cfg.Graph},
		{"store", &cfg.Store.Kind},
		{"store-path", &cfg.Store.Path},
		{"log-level", &cfg.Log.Level},
	}
	for _, o := range overrides {
		if cmd.Flags().Changed(o.flag) {
			*o.target, _ = cmd.Flags().GetString(o.flag)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openApp loads the config and compiles the graph over the configured store.
func openApp(cmd *cobra.Command, listeners ...graph.Listener) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	level, _ := log.ParseLevel(cfg.Log.Level)
	logger := log.NewWriterLogger(cmd.ErrOrStderr(), level)
	if level == log.LogLevelDebug {
		listeners = append(listeners, graph.NewLoggingListener(logger))
	}

	s, closeStore, err := openStore(cmd.Context(), cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Kind, err)
	}
	items, closeItems := openItems(cfg.Store)
	closeAll := func() error {
		return errors.Join(closeItems(), closeStore())
	}
	g, err := buildGraph(cfg, s, items, logger, listeners...)
	if err != nil {
		_ = closeAll()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, graph: g, close: closeAll}, nil
}

// withApp runs fn with an opened app and closes it afterwards.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd.Context(), cmd, a, args)
	}
}

// jsonFlag decodes a JSON flag value. An unset flag yields ok == false.
func jsonFlag(cmd *cobra.Command, name string, out any) (ok bool, err error) {
	if !cmd.Flags().Changed(name) {
		return false, nil
	}
	raw, _ := cmd.Flags().GetString(name)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("--%s: %w", name, err)
	}
	return true, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "stepgraph",
		Short:         "Run interruptible step graphs",
		Long:          `stepgraph runs a prebuilt graph on a thread, pauses at interrupts and resumes from the checkpoint store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", defaultConfigPath, "Path to the YAML config file")
	flags.String("graph", "", "Graph to run: approval, chat, jokes, memory or research")
	flags.String("store", "", "Checkpoint store: memory, file, sqlite, postgres or redis")
	flags.String("store-path", "", "Directory of the file store or database of the sqlite store")
	flags.String("log-level", "", "Log level: debug, info, warn, error or none")

	root.AddCommand(
		newRunCmd(),
		newResumeCmd(),
		newStateCmd(),
		newUpdateCmd(),
		newHistoryCmd(),
		newDeleteCmd(),
		newDrawCmd(),
		newServeCmd(),
	)
	return root
}
