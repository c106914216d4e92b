package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/discovery-swarm/internal/store"
)

func getCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "get [business-id]",
		Short: "Show one discovered business with its provenance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			defer func() { _ = a.Close() }()

			b, err := a.merge.Get(ctx, args[0])
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("get: business %s not found", args[0])
				}
				return fmt.Errorf("get: %w", err)
			}

			if outputJSON {
				data, marshalErr := json.MarshalIndent(b, "", "  ")
				if marshalErr != nil {
					return fmt.Errorf("get: marshaling business: %w", marshalErr)
				}
				fmt.Println(string(data))
				return nil
			}

			fmt.Printf("ID:           %s\n", b.ID)
			fmt.Printf("Name:         %s\n", b.Name)
			if b.LegalName != "" {
				fmt.Printf("Legal name:   %s\n", b.LegalName)
			}
			if b.RegistrationNumber != "" {
				fmt.Printf("Registration: %s\n", b.RegistrationNumber)
			}
			fmt.Printf("Type:         %s\n", b.EntityType)
			fmt.Printf("Confidence:   %d\n", b.Confidence)
			fmt.Printf("Location:     %s\n", b.Location)
			if b.Industry != "" {
				fmt.Printf("Industry:     %s\n", b.Industry)
			}
			if b.Contact.Website != "" {
				fmt.Printf("Website:      %s\n", b.Contact.Website)
			}
			if len(b.Contact.Emails) > 0 {
				fmt.Printf("Emails:       %s\n", strings.Join(b.Contact.Emails, ", "))
			}
			if len(b.Contact.Phones) > 0 {
				fmt.Printf("Phones:       %s\n", strings.Join(b.Contact.Phones, ", "))
			}
			fmt.Printf("Verification: %s\n", b.VerificationStatus)
			fmt.Printf("Discovered:   %s\n", b.DiscoveredAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Updated:      %s\n", b.LastUpdated.Format("2006-01-02 15:04:05"))
			fmt.Println("Provenance:")
			for _, p := range b.Provenance {
				fmt.Printf("  %-15s %s  %s\n", p.SourceType, p.ObservedAt.Format("2006-01-02"), p.SourceRef)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
