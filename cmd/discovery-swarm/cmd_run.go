package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ajitpratap0/discovery-swarm/internal/models"
	"github.com/ajitpratap0/discovery-swarm/internal/swarm"
	"github.com/ajitpratap0/discovery-swarm/internal/telemetry"
)

func runCmd() *cobra.Command {
	var (
		industries  []string
		locations   []string
		terms       []string
		sources     []string
		targetCount int
		outputJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one discovery pass in the foreground and print its report",
		Long: `Builds a query plan from the swarm section of the config (overridable with flags),
dispatches it to every enabled source and merges the results into the store.
Ctrl-C stops dispatching new queries; in-flight queries finish before the report prints.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, version, logger)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

			a, err := openApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			defer func() { _ = a.Close() }()

			ctl, closeLimiter, err := newController(a, logger)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			defer closeLimiter()

			rc := cfg.RunConfig()
			if len(industries) > 0 {
				rc.Industries = industries
			}
			if len(locations) > 0 {
				rc.Locations = locations
			}
			if len(terms) > 0 {
				rc.IndicatorTerms = terms
			}
			for _, s := range sources {
				rc.Sources = append(rc.Sources, models.SourceType(s))
			}
			if cmd.Flags().Changed("target") {
				rc.TargetCount = targetCount
			}

			run, err := ctl.Start(ctx, rc)
			if err != nil {
				return fmt.Errorf("run: %w", err)
			}
			rep, runErr := run.Wait()

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(rep); encErr != nil {
					return fmt.Errorf("run: encoding report: %w", encErr)
				}
			} else {
				printReport(os.Stdout, rep)
			}
			if runErr != nil {
				return fmt.Errorf("run: %w", runErr)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&industries, "industry", nil, "industries to search (repeatable)")
	cmd.Flags().StringSliceVar(&locations, "location", nil, "locations to search (repeatable)")
	cmd.Flags().StringSliceVar(&terms, "term", nil, "indicator terms added to each query (repeatable)")
	cmd.Flags().StringSliceVar(&sources, "source", nil, "restrict to these source types")
	cmd.Flags().IntVar(&targetCount, "target", 0, "stop after this many new businesses (0 = no target)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "print the report as JSON")
	return cmd
}

func printReport(w io.Writer, rep *swarm.RunReport) {
	bold := color.New(color.Bold)
	stateColor := color.New(color.FgGreen, color.Bold)
	if rep.State == swarm.StateAborted {
		stateColor = color.New(color.FgRed, color.Bold)
	}

	bold.Fprintf(w, "Run %s ", rep.RunID)
	stateColor.Fprintln(w, rep.State)
	if rep.FinishedAt != nil {
		fmt.Fprintf(w, "  duration     %s\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "  plan         %d items: %d completed, %d failed, %d skipped, %d requeues\n",
		rep.PlanSize, rep.Completed, rep.Failed, rep.Skipped, rep.Requeued)
	fmt.Fprintf(w, "  candidates   %d seen, %d rejected\n", rep.CandidatesSeen, rep.CandidatesRejected)
	fmt.Fprintf(w, "  businesses   ")
	color.New(color.FgGreen).Fprintf(w, "%d new", rep.Created)
	fmt.Fprintf(w, ", %d merged, %d unchanged", rep.Merged, rep.Unchanged)
	if rep.Conflicts > 0 {
		color.New(color.FgYellow).Fprintf(w, ", %d conflicts", rep.Conflicts)
	}
	fmt.Fprintln(w)

	if rep.Statistics != nil && rep.Statistics.Total > 0 {
		printCounts(w, "by type", rep.Statistics.ByType)
		printCounts(w, "by confidence", rep.Statistics.ByConfidenceBand)
		printCounts(w, "by location", rep.Statistics.ByLocation)
	}
	if len(rep.FailureSamples) > 0 {
		color.New(color.FgRed).Fprintln(w, "  failures")
		for _, f := range rep.FailureSamples {
			fmt.Fprintf(w, "    %-18s %q: %s\n", f.ItemID, truncate(f.Query, 40), truncate(f.Reason, 80))
		}
	}
	if rep.Error != "" {
		color.New(color.FgRed, color.Bold).Fprintf(w, "  error: %s\n", rep.Error)
	}
}

func printCounts(w io.Writer, label string, counts map[string]int64) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	fmt.Fprintf(w, "  %-12s %s\n", label, strings.Join(parts, " "))
}
