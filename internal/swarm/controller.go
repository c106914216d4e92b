package swarm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// Controller serializes runs and keeps the latest one around for status queries.
type Controller struct {
	orch   *Orchestrator
	logger *slog.Logger

	mu     sync.Mutex
	latest *Run
}

// NewController creates a Controller over orch.
func NewController(orch *Orchestrator, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{orch: orch, logger: logger}
}

// Start begins a run unless one is active. The run lives as long as ctx, so
// request-scoped callers should detach it first.
func (c *Controller) Start(ctx context.Context, rc RunConfig) (*Run, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest != nil && !c.latest.State().Terminal() {
		return nil, ErrRunInProgress
	}
	run, err := c.orch.Start(ctx, rc)
	if err != nil {
		return nil, err
	}
	c.latest = run
	return run, nil
}

// Current returns the active run, or the most recent finished one. It returns
// nil before the first run.
func (c *Controller) Current() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest
}

// Stop stops the active run and reports whether there was one.
func (c *Controller) Stop() bool {
	run := c.Current()
	if run == nil || run.State().Terminal() {
		return false
	}
	run.Stop()
	return true
}

// Schedule starts a run every interval until ctx is done, skipping ticks that
// land while a run is active. A non-positive interval disables scheduling.
// Stopping the schedule stops the active run.
func (c *Controller) Schedule(ctx context.Context, interval time.Duration, rc RunConfig) {
	if interval <= 0 {
		return
	}
	c.logger.Info("run schedule started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Stop()
			return
		case <-ticker.C:
			run, err := c.Start(ctx, rc)
			switch {
			case errors.Is(err, ErrRunInProgress):
				c.logger.Info("scheduled run skipped, previous run still active")
			case err != nil:
				c.logger.Error("scheduled run failed to start", "error", err)
			default:
				c.logger.Info("scheduled run started", "run_id", run.ID())
			}
		}
	}
}
