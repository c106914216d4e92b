package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/discovery-swarm/internal/geo"
	"github.com/ajitpratap0/discovery-swarm/internal/merge"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

func listCmd() *cobra.Command {
	var (
		entityType    string
		province      string
		sourceType    string
		minConfidence int
		offset        int
		limit         int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List discovered businesses",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			filter := merge.Filter{
				EntityType:    models.EntityType(entityType),
				Province:      strings.ToUpper(strings.TrimSpace(province)),
				Source:        models.SourceType(sourceType),
				MinConfidence: minConfidence,
				Offset:        offset,
				Limit:         limit,
			}
			if filter.Province != "" && !geo.IsCode(filter.Province) {
				return fmt.Errorf("list: invalid province %q", province)
			}

			a, err := openApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			defer func() { _ = a.Close() }()

			businesses, err := a.merge.List(ctx, filter)
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}

			for _, b := range businesses {
				fmt.Printf("[%s] %-18s %3d  %-4s %s\n",
					b.ID, b.EntityType, b.Confidence, b.Province, truncate(b.Name, 60))
			}
			fmt.Printf("\nShowing %d businesses\n", len(businesses))
			return nil
		},
	}

	cmd.Flags().StringVar(&entityType, "type", "", "filter by entity type")
	cmd.Flags().StringVar(&province, "province", "", "filter by two-letter province code")
	cmd.Flags().StringVar(&sourceType, "source", "", "filter by contributing source type")
	cmd.Flags().IntVar(&minConfidence, "min-confidence", 0, "minimum confidence (0-100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many results")
	cmd.Flags().IntVar(&limit, "limit", 50, "max results")
	return cmd
}
