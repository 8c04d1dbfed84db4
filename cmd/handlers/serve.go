package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"alexandria/internal/logger"
	"alexandria/internal/server"

	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command: HTTP API plus ingestion workers.
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the ingestion workers",
		Long: `Start the Alexandria server.

The server provides:
  - resource submission and lifecycle endpoints
  - hybrid search with weighted rank fusion
  - graph neighbors, collections, annotations, recommendations
  - health and readiness endpoints

Ingestion workers run in-process; submitted URLs are fetched, enriched,
and indexed asynchronously.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.start(ctx); err != nil {
				return fmt.Errorf("failed to start services: %w", err)
			}

			serverCfg := a.cfg.Server
			if host != "" {
				serverCfg.Host = host
			}
			if port != 0 {
				serverCfg.Port = port
			}

			srv := server.New(serverCfg, server.Deps{
				Store:       a.store,
				Engine:      a.engine,
				Search:      a.search,
				Graph:       a.graph,
				Recommender: a.recommender,
				Annotations: a.annotations,
				Collections: a.collections,
			})

			logger.Info("starting server", "host", serverCfg.Host, "port", serverCfg.Port)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides config)")
	cmd.Flags().StringVar(&host, "host", "", "Host to bind to (overrides config)")
	return cmd
}
