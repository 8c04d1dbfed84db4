package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alexandria/internal/core"

	"github.com/spf13/cobra"
)

// NewIngestCmd creates the ingest command: submit URLs and wait for the
// builds to finish.
func NewIngestCmd() *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "ingest URL [URL...]",
		Short: "Submit URLs for ingestion",
		Long: `Submit one or more URLs to the ingestion pipeline.

Each URL is normalized, deduplicated against existing resources, fetched,
enriched, and indexed. With --wait the command blocks until every submitted
resource reaches a terminal state and reports the outcome.`,
		Args: cobra.MinimumNArgs(1),
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

			var submitted []string
			for _, rawURL := range args {
				res, created, err := a.engine.Submit(ctx, rawURL)
				if err != nil {
					fmt.Fprintf(os.Stderr, "✗ %s: %v\n", rawURL, err)
					continue
				}
				if created {
					fmt.Printf("→ %s queued as %s\n", res.Source, res.ID)
					submitted = append(submitted, res.ID)
				} else {
					fmt.Printf("= %s already known as %s (%s)\n", res.Source, res.ID, res.IngestionStatus)
					if res.IngestionStatus == core.StatusPending || res.IngestionStatus == core.StatusProcessing {
						submitted = append(submitted, res.ID)
					}
				}
			}

			if !wait || len(submitted) == 0 {
				return nil
			}
			return awaitBuilds(ctx, a, submitted)
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", true, "Wait for builds to finish before exiting")
	return cmd
}

// awaitBuilds polls until every resource reaches a terminal state.
func awaitBuilds(ctx context.Context, a *app, ids []string) error {
	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		pending[id] = true
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		for id := range pending {
			res, err := a.store.GetResource(ctx, id)
			if err != nil {
				delete(pending, id)
				fmt.Fprintf(os.Stderr, "✗ %s: %v\n", id, err)
				continue
			}
			switch res.IngestionStatus {
			case core.StatusCompleted:
				delete(pending, id)
				fmt.Printf("✓ %s  %q\n", res.Source, res.Title)
			case core.StatusFailed:
				delete(pending, id)
				job, jobErr := a.store.GetJob(ctx, id)
				reason := "unknown"
				if jobErr == nil {
					reason = job.LastError
				}
				fmt.Printf("✗ %s failed: %s\n", res.Source, reason)
			}
		}
	}
	return nil
}
