package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show counts by entity type, confidence band and province",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			defer func() { _ = a.Close() }()

			stats, err := a.merge.Statistics(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}

			fmt.Printf("Total businesses: %d\n", stats.Total)
			printCounts(os.Stdout, "by type", stats.ByType)
			printCounts(os.Stdout, "by confidence", stats.ByConfidenceBand)
			printCounts(os.Stdout, "by location", stats.ByLocation)
			return nil
		},
	}
}
