package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/discovery-swarm/internal/merge"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

func exportCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all discovered businesses as JSON lines or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			defer func() { _ = a.Close() }()

			all, err := a.merge.List(ctx, merge.Filter{})
			if err != nil {
				return fmt.Errorf("export: listing businesses: %w", err)
			}

			var w *os.File
			if output == "" || output == "-" {
				w = os.Stdout
			} else {
				w, err = os.Create(output)
				if err != nil {
					return fmt.Errorf("export: creating output file: %w", err)
				}
				defer func() { _ = w.Close() }()
			}

			if err := writeExport(w, format, all); err != nil {
				return fmt.Errorf("export: %w", err)
			}

			if output != "" && output != "-" {
				fmt.Fprintf(os.Stderr, "Exported %d businesses to %s\n", len(all), output)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "jsonl", "output format: jsonl or csv")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file path (- for stdout)")
	return cmd
}

var exportHeaders = []string{
	"id", "name", "legal_name", "registration_number", "entity_type", "confidence",
	"sources", "industry", "location", "province", "website", "emails", "phones",
	"verification_status", "discovered_at", "last_updated",
}

func writeExport(w io.Writer, format string, all []*models.DiscoveredBusiness) error {
	switch format {
	case "jsonl":
		enc := json.NewEncoder(w)
		for _, b := range all {
			if err := enc.Encode(b); err != nil {
				return fmt.Errorf("encoding JSON: %w", err)
			}
		}
		return nil
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write(exportHeaders); err != nil {
			return fmt.Errorf("writing CSV header: %w", err)
		}
		for _, b := range all {
			sources := make([]string, len(b.Sources))
			for i, s := range b.Sources {
				sources[i] = string(s)
			}
			row := []string{
				b.ID,
				b.Name,
				b.LegalName,
				b.RegistrationNumber,
				string(b.EntityType),
				strconv.Itoa(b.Confidence),
				strings.Join(sources, ";"),
				b.Industry,
				b.Location,
				b.Province,
				b.Contact.Website,
				strings.Join(b.Contact.Emails, ";"),
				strings.Join(b.Contact.Phones, ";"),
				string(b.VerificationStatus),
				b.DiscoveredAt.Format("2006-01-02T15:04:05Z"),
				b.LastUpdated.Format("2006-01-02T15:04:05Z"),
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("writing CSV row: %w", err)
			}
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			return fmt.Errorf("flushing CSV: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format %q (use jsonl or csv)", format)
	}
}
