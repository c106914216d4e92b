package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/discovery-swarm/internal/api"
	"github.com/ajitpratap0/discovery-swarm/internal/telemetry"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/JSON API server and the run scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, version, logger)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = shutdownTelemetry(context.WithoutCancel(ctx)) }()

			a, err := openApp(ctx, logger)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = a.Close() }()

			ctl, closeLimiter, err := newController(a, logger)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeLimiter()

			srv := api.NewServer(a.merge, ctl, cfg.RunConfig(), logger, cfg.API.AuthToken)

			if cfg.API.AuthToken == "" {
				logger.Warn("HTTP API: auth is DISABLED; set DISCOVERY_SWARM_API_AUTH_TOKEN or api.auth_token for production use")
			}

			httpSrv := &http.Server{
				Addr:              cfg.API.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP API server starting", "addr", cfg.API.ListenAddr)
				if listenErr := httpSrv.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
					errCh <- fmt.Errorf("serve: HTTP server: %w", listenErr)
				}
				close(errCh)
			}()

			schedCtx, cancelSched := context.WithCancel(ctx)
			defer cancelSched()
			schedDone := make(chan struct{})
			go func() {
				defer close(schedDone)
				ctl.Schedule(schedCtx, cfg.Swarm.ScheduleInterval, cfg.RunConfig())
			}()

			var startErr error
			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case startErr = <-errCh:
			}

			cancelSched()
			<-schedDone

			// Runs started over the API outlive their requests; stop and drain
			// the active one before the store closes.
			ctl.Stop()
			if run := ctl.Current(); run != nil {
				_, _ = run.Wait()
			}

			const shutdownTimeout = 10 * time.Second
			if shutdownErr := api.Shutdown(httpSrv, shutdownTimeout); shutdownErr != nil {
				return fmt.Errorf("serve: graceful shutdown: %w", shutdownErr)
			}
			if startErr == nil {
				// Drain the errCh in case ListenAndServe returned after Shutdown.
				startErr = <-errCh
			}
			return startErr
		},
	}
	return cmd
}
