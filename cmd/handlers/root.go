// Package handlers wires the cobra command tree to the application services.
package handlers

import (
	"fmt"
	"os"

	"alexandria/internal/config"
	"alexandria/internal/logger"

	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "alexandria",
		Short: "Alexandria is a personal library: ingest, enrich, and search web resources.",
		Long: `Alexandria ingests web resources through an asynchronous enrichment
pipeline and answers hybrid search queries over the result.

  serve    start the HTTP API and the ingestion workers
  ingest   submit URLs for ingestion from the command line
  search   run a search query against the library
  rank     recompute citation graph importance scores`,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.alexandria.yaml)")

	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewIngestCmd())
	rootCmd.AddCommand(NewSearchCmd())
	rootCmd.AddCommand(NewRankCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig loads configuration and initializes logging before any command
// runs.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.Logging.Level)
}
