package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/server"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the graph over HTTP",
		Long:  `Starts an HTTP server exposing invoke, resume, state and history endpoints plus /metrics.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics, err := graph.NewMetricsListener(reg)
			if err != nil {
				return err
			}

			a, err := openApp(cmd, metrics)
			if err != nil {
				return err
			}
			defer a.close()

			addr := a.cfg.Server.Addr
			if cmd.Flags().Changed("addr") {
				addr, _ = cmd.Flags().GetString("addr")
			}
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.NewHandler(a.graph, server.Options{Logger: a.logger, Gatherer: reg}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			serverErrors := make(chan error, 1)
			go func() {
				a.logger.Info("serving graph %s on %s (store %s)", a.cfg.Graph, addr, a.cfg.Store.Kind)
				serverErrors <- srv.ListenAndServe()
			}()

			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)
			case <-ctx.Done():
				a.logger.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}
	cmd.Flags().String("addr", "", "Listen address, overrides server.addr")
	return cmd
}
