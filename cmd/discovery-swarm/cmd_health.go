package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check connectivity to the store and the configured sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()
			allOK := true

			ok := color.New(color.FgGreen).SprintFunc()
			fail := color.New(color.FgRed).SprintFunc()

			a, err := openApp(ctx, logger)
			if err != nil {
				fmt.Printf("Store (%s): %s (%v)\n", cfg.Store.Backend, fail("FAIL"), err)
				allOK = false
			} else {
				defer func() { _ = a.Close() }()
				if err := a.merge.Ping(ctx); err != nil {
					fmt.Printf("Store (%s): %s (%v)\n", cfg.Store.Backend, fail("FAIL"), err)
					allOK = false
				} else {
					fmt.Printf("Store (%s): %s\n", cfg.Store.Backend, ok("OK"))
				}
			}

			adapters, err := newAdapters(logger)
			if err != nil {
				fmt.Printf("Sources: %s (%v)\n", fail("FAIL"), err)
				allOK = false
			} else if len(adapters) == 0 {
				fmt.Printf("Sources: %s (no source enabled)\n", fail("FAIL"))
				allOK = false
			} else {
				fmt.Printf("Sources: %s %v\n", ok("OK"), adapters.Types())
			}

			if cfg.RateLimits.Backend == "redis" {
				_, closeLimiter := newLimiter(logger)
				closeLimiter()
				fmt.Printf("Rate limits: shared bucket at %s\n", cfg.RateLimits.Redis.Addr)
			}

			// News mention extraction degrades to structured mentions only.
			if cfg.Claude.APIKey == "" {
				fmt.Printf("Claude API: %s (no API key; news articles need structured mentions)\n", color.YellowString("WARN"))
			} else {
				fmt.Printf("Claude API: %s\n", ok("OK"))
			}

			if !allOK {
				return fmt.Errorf("one or more health checks failed")
			}
			return nil
		},
	}
}
