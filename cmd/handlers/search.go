package handlers

import (
	"context"
	"fmt"
	"strings"

	"alexandria/internal/core"

	"github.com/spf13/cobra"
)

// NewSearchCmd creates the search command: run a query from the terminal.
func NewSearchCmd() *cobra.Command {
	var (
		strategy string
		limit    int
		weight   float64
		rerank   bool
		language string
	)

	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Search the library",
		Long: `Run a retrieval query against the library.

Strategies: keyword, semantic, sparse, hybrid, three_way. Semantic and
sparse retrieval need a configured model service; without one they degrade
and the remaining retrievers carry the query.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.search.Warm(ctx); err != nil {
				return err
			}

			req := core.SearchRequest{
				Text:     strings.Join(args, " "),
				Strategy: core.SearchStrategy(strategy),
				Limit:    limit,
				Rerank:   rerank,
			}
			if cmd.Flags().Changed("weight") {
				req.HybridWeight = &weight
			}
			if language != "" {
				req.Filters.Language = language
			}

			resp, err := a.search.Search(ctx, req)
			if err != nil {
				return err
			}

			fmt.Printf("%d results\n\n", resp.Total)
			for i, item := range resp.Items {
				title := item.Resource.Title
				if title == "" {
					title = item.Resource.Source
				}
				fmt.Printf("%2d. %s\n    %s  score=%.4f", i+1, title, item.Resource.Source, item.FusedScore)
				if item.RerankScore != nil {
					fmt.Printf("  rerank=%.4f", *item.RerankScore)
				}
				fmt.Println()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", "hybrid", "Retrieval strategy")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum results")
	cmd.Flags().Float64Var(&weight, "weight", 0.5, "Explicit hybrid weight in [0,1] (disables adaptive weighting)")
	cmd.Flags().BoolVar(&rerank, "rerank", false, "Rescore the top results with the reranker")
	cmd.Flags().StringVar(&language, "language", "", "Restrict to a language")
	return cmd
}
