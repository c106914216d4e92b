package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	swarmmcp "github.com/ajitpratap0/discovery-swarm/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout remains exclusively MCP protocol traffic.

Tools exposed:
  discovery_stats  aggregate counts over all discovered businesses
  list_businesses  filtered, paginated business listing
  get_business     one business by id
  start_run        start a discovery run (one at a time)
  run_status       report of the latest run
  stop_run         stop the active run; in-flight queries finish`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			a, err := openApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("mcp: %w", err)
			}
			defer func() { _ = a.Close() }()

			ctl, closeLimiter, err := newController(a, logger)
			if err != nil {
				// The read tools still work without adapters.
				logger.Error("mcp: source adapters unavailable; run tools will fail", "error", err)
			} else {
				defer closeLimiter()
			}

			var runs swarmmcp.Runs
			if ctl != nil {
				runs = ctl
			}
			srv := swarmmcp.NewServer(a.merge, runs, cfg.RunConfig(), version, logger)

			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)

			logger.Info("mcp: discovery-swarm MCP server starting", "transport", "stdio")

			serveErr := mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
			if ctl != nil {
				ctl.Stop()
				if run := ctl.Current(); run != nil {
					_, _ = run.Wait()
				}
			}
			return serveErr
		},
	}

	return cmd
}
