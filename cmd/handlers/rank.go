package handlers

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewRankCmd creates the rank command: the citation graph batch pass.
func NewRankCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Recompute citation importance scores",
		Long: `Run the citation graph batch pass.

Unresolved citation targets are first matched against resources ingested
since their extraction. PageRank then runs over the resolved citation graph
and the normalized importance scores are written back to the citations.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			resolved, err := a.store.ResolveCitationTargets(ctx)
			if err != nil {
				return fmt.Errorf("failed to resolve citation targets: %w", err)
			}
			fmt.Printf("resolved %d citation targets\n", resolved)

			ranked, err := a.graph.RecomputeImportance(ctx)
			if err != nil {
				return fmt.Errorf("failed to recompute importance: %w", err)
			}
			fmt.Printf("ranked %d resources in the citation graph\n", ranked)
			return nil
		},
	}
	return cmd
}
