// Package swarm drives discovery runs: it plans queries, fans them out over
// per-source worker pools under rate limits and retries, and feeds every result
// through extraction, identity resolution and the merge store.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/discovery-swarm/internal/identity"
	"github.com/ajitpratap0/discovery-swarm/internal/merge"
	"github.com/ajitpratap0/discovery-swarm/internal/metrics"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
	"github.com/ajitpratap0/discovery-swarm/internal/ratelimit"
	"github.com/ajitpratap0/discovery-swarm/internal/source"
)

// ErrStoreFailure aborts a run after too many consecutive record store failures.
var ErrStoreFailure = errors.New("record store failing")

const reasonRequeueBudget = "rate limit requeue budget exhausted"

// Extractor turns raw records into candidates.
type Extractor interface {
	Extract(raw *models.CandidateRaw) (*models.CandidateBusiness, error)
}

// KeyResolver computes identity keys.
type KeyResolver interface {
	Resolve(ctx context.Context, c *models.CandidateBusiness) (string, error)
}

// Merger is the subset of the merge store the orchestrator writes through.
type Merger interface {
	Upsert(ctx context.Context, key string, c *models.CandidateBusiness) (*models.DiscoveredBusiness, merge.Outcome, error)
	Get(ctx context.Context, id string) (*models.DiscoveredBusiness, error)
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Adapters source.Set
	Limiter  ratelimit.Acquirer
	Engine   Extractor
	Resolver KeyResolver
	Merge    Merger
}

// Config holds orchestrator settings that don't change per run.
type Config struct {
	Retry RetryPolicy
	// CallTimeout bounds each adapter call, including calls finishing after a stop.
	CallTimeout time.Duration
	// StoreFailureThreshold consecutive store failures abort the run. 0 disables.
	StoreFailureThreshold int
	// DefaultConcurrency applies to sources missing from RunConfig.ConcurrencyPerSource.
	DefaultConcurrency map[models.SourceType]int
	// MaxRequeueDelay caps how long a rate-limited item waits before it goes
	// back on its queue.
	MaxRequeueDelay time.Duration
}

// minRequeueDelay applies when the limiter gives no retry hint.
const minRequeueDelay = 10 * time.Millisecond

// DefaultConfig returns conservative pools for scraping-like sources and wider
// ones for registry and directory APIs.
func DefaultConfig() Config {
	return Config{
		Retry:                 DefaultRetryPolicy(),
		CallTimeout:           30 * time.Second,
		StoreFailureThreshold: 5,
		MaxRequeueDelay:       time.Minute,
		DefaultConcurrency: map[models.SourceType]int{
			models.SourceGovRegistry:   10,
			models.SourceIndustryAssoc: 8,
			models.SourceNews:          5,
			models.SourceWeb:           5,
			models.SourceSocial:        5,
		},
	}
}

// Orchestrator runs discovery plans. One Orchestrator can run many plans, but
// callers that need one-at-a-time semantics should go through a Controller.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if cfg.MaxRequeueDelay <= 0 {
		cfg.MaxRequeueDelay = DefaultConfig().MaxRequeueDelay
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/ajitpratap0/discovery-swarm/internal/swarm"),
	}
}

// Execute runs rc to completion and returns the final report.
func (o *Orchestrator) Execute(ctx context.Context, rc RunConfig) (*RunReport, error) {
	run, err := o.Start(ctx, rc)
	if err != nil {
		return nil, err
	}
	return run.Wait()
}

// Start plans rc and begins dispatching in the background. Planning errors are
// returned directly.
func (o *Orchestrator) Start(ctx context.Context, rc RunConfig) (*Run, error) {
	run := &Run{
		id:        uuid.NewString(),
		cfg:       rc,
		startedAt: time.Now().UTC(),
		state:     StatePlanning,
		done:      make(chan struct{}),
	}
	plan, err := BuildPlan(rc, o.deps.Adapters.Types())
	if err != nil {
		return nil, fmt.Errorf("planning run: %w", err)
	}
	run.plan = plan

	runCtx, cancel := context.WithCancelCause(ctx)
	run.cancel = cancel
	run.setState(StateDispatching)
	o.logger.Info("run started", "run_id", run.id, "plan_size", len(plan), "target_count", rc.TargetCount)

	go o.execute(runCtx, run)
	return run, nil
}

type itemResult int

const (
	itemDone itemResult = iota
	itemFailed
	itemSkipped
	itemRequeue
)

// itemQueue feeds one source's workers. Its capacity equals the number of items,
// so a worker putting back the item it holds never blocks.
type itemQueue struct {
	ch      chan *PlanItem
	pending atomic.Int64
}

func newItemQueue(items []*PlanItem) *itemQueue {
	q := &itemQueue{ch: make(chan *PlanItem, len(items))}
	q.pending.Store(int64(len(items)))
	for _, it := range items {
		q.ch <- it
	}
	return q
}

func (q *itemQueue) requeue(it *PlanItem) { q.ch <- it }

// finish retires one item for good; the last one closes the queue.
func (q *itemQueue) finish() {
	if q.pending.Add(-1) == 0 {
		close(q.ch)
	}
}

func (o *Orchestrator) execute(ctx context.Context, run *Run) {
	defer close(run.done)
	defer run.cancel(nil)

	bySource := make(map[models.SourceType][]*PlanItem)
	for _, it := range run.plan {
		bySource[it.Source] = append(bySource[it.Source], it)
	}

	g, gctx := errgroup.WithContext(ctx)
	for st, items := range bySource {
		q := newItemQueue(items)
		workers := min(o.concurrency(run.cfg, st), len(items))
		for i := 0; i < workers; i++ {
			g.Go(func() error { return o.worker(gctx, run, q) })
		}
	}
	err := g.Wait()
	o.finalize(ctx, run, err)
}

func (o *Orchestrator) concurrency(rc RunConfig, st models.SourceType) int {
	if n := rc.ConcurrencyPerSource[st]; n > 0 {
		return n
	}
	if n := o.cfg.DefaultConcurrency[st]; n > 0 {
		return n
	}
	return 1
}

func (o *Orchestrator) worker(ctx context.Context, run *Run, q *itemQueue) error {
	for item := range q.ch {
		if ctx.Err() != nil || run.stopDispatch.Load() {
			run.skipped.Add(1)
			q.finish()
			continue
		}
		if item.requeues == 0 {
			run.c.dispatched.Add(1)
			metrics.Inc(metrics.PlanItemsDispatched)
			if run.firstDispatched.Add(1) == int64(len(run.plan)) {
				run.setState(StateDraining)
			}
		}

		res, err := o.process(ctx, run, item)
		switch res {
		case itemRequeue:
			q.requeue(item)
			continue
		case itemDone:
			run.c.completed.Add(1)
		case itemSkipped:
			run.skipped.Add(1)
		}
		q.finish()
		if err != nil {
			return err
		}
	}
	return nil
}

// process runs one plan item. The first permit wait observes the run context;
// once the adapter has been called the item finishes on a detached context
// bounded by CallTimeout, so a stop never leaves a candidate half-merged.
func (o *Orchestrator) process(ctx context.Context, run *Run, item *PlanItem) (itemResult, error) {
	ctx, span := o.tracer.Start(ctx, "swarm.plan_item", trace.WithAttributes(
		attribute.String("swarm.run_id", run.id),
		attribute.String("swarm.item_id", item.ID),
		attribute.String("swarm.source", string(item.Source)),
	))
	defer span.End()

	adapter := o.deps.Adapters[item.Source]
	inflight := context.WithoutCancel(ctx)

	var raws []models.CandidateRaw
	err := o.callAdapter(ctx, inflight, item, true, "search", func(c context.Context) error {
		var err error
		raws, err = adapter.Search(c, item.Query, item.Options)
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return o.adapterFailure(ctx, run, item, err), nil
	}
	span.SetAttributes(attribute.Int("swarm.results", len(raws)))

	for i := range raws {
		raw := &raws[i]
		raw.SourceType = item.Source
		if raw.Shallow {
			var full *models.CandidateRaw
			ref := raw.SourceRef
			err := o.callAdapter(ctx, inflight, item, false, "extract", func(c context.Context) error {
				var err error
				full, err = adapter.Extract(c, ref)
				return err
			})
			if err != nil {
				if errors.Is(err, ratelimit.ErrTimeout) {
					// Merges so far are idempotent on replay.
					return o.adapterFailure(ctx, run, item, err), nil
				}
				run.c.seen.Add(1)
				run.c.rejected.Add(1)
				metrics.Inc(metrics.CandidatesRejected)
				o.logger.Warn("extract failed, skipping result", "item", item.ID, "ref", ref, "error", err)
				continue
			}
			if full == nil {
				run.c.seen.Add(1)
				run.c.rejected.Add(1)
				metrics.Inc(metrics.CandidatesRejected)
				o.logger.Debug("source no longer knows ref", "item", item.ID, "ref", ref)
				continue
			}
			full.SourceType = item.Source
			if full.SourceRef == "" {
				full.SourceRef = ref
			}
			raw = full
		}
		if err := o.handleCandidate(inflight, run, raw); err != nil {
			o.fail(run, item, err.Error())
			span.SetStatus(codes.Error, err.Error())
			return itemFailed, err
		}
	}
	return itemDone, nil
}

// adapterFailure maps an adapter error to the item's fate.
func (o *Orchestrator) adapterFailure(ctx context.Context, run *Run, item *PlanItem, err error) itemResult {
	switch {
	case errors.Is(err, ratelimit.ErrTimeout):
		metrics.Inc(metrics.RateLimitTimeouts)
		if budget := run.cfg.MaxRequeues; budget > 0 && item.requeues >= budget {
			o.fail(run, item, reasonRequeueBudget)
			return itemFailed
		}
		item.requeues++
		run.c.requeued.Add(1)
		metrics.Inc(metrics.PlanItemsRequeued)
		delay := o.requeueDelay(err)
		o.logger.Debug("plan item requeued", "item", item.ID, "requeues", item.requeues, "delay", delay)
		// Hold the item until its source can grant a permit again. A stop cuts
		// the wait short and the worker then skips the item.
		sleep(ctx, delay)
		return itemRequeue
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return itemSkipped
	default:
		o.fail(run, item, err.Error())
		return itemFailed
	}
}

func (o *Orchestrator) requeueDelay(err error) time.Duration {
	d := ratelimit.RetryAfter(err)
	if d < minRequeueDelay {
		d = minRequeueDelay
	}
	return min(d, o.cfg.MaxRequeueDelay)
}

func (o *Orchestrator) fail(run *Run, item *PlanItem, reason string) {
	run.c.failed.Add(1)
	metrics.Inc(metrics.PlanItemsFailed)
	run.failures.add(FailureSample{ItemID: item.ID, Source: item.Source, Query: item.Query, Reason: reason})
	o.logger.Warn("plan item failed", "run_id", run.id, "item", item.ID, "source", item.Source, "reason", reason)
}

// callAdapter acquires a permit and calls fn, retrying transient errors with
// backoff. Backoff waits observe the run context so a stop cuts retries short.
func (o *Orchestrator) callAdapter(runCtx, inflight context.Context, item *PlanItem, first bool, op string, fn func(context.Context) error) error {
	var last error
	for attempt := 0; attempt < o.cfg.Retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.Inc(metrics.AdapterRetries)
			if !sleep(runCtx, o.cfg.Retry.backoff(attempt-1, item.ID+"/"+op)) {
				return fmt.Errorf("retries abandoned: %w", errors.Join(runCtx.Err(), last))
			}
		}
		acquireCtx := inflight
		if first && attempt == 0 {
			acquireCtx = runCtx
		}
		if err := o.deps.Limiter.Acquire(acquireCtx, string(item.Source)); err != nil {
			return err
		}

		callCtx, span := o.tracer.Start(inflight, "swarm.adapter_call", trace.WithAttributes(
			attribute.String("swarm.op", op),
			attribute.Int("swarm.attempt", attempt+1),
		))
		callCtx, cancel := context.WithTimeout(callCtx, o.cfg.CallTimeout)
		metrics.Inc(metrics.AdapterCalls)
		last = safeCall(callCtx, fn)
		cancel()
		if last != nil {
			span.SetStatus(codes.Error, last.Error())
		}
		span.End()

		if last == nil {
			return nil
		}
		if !source.IsTransient(last) {
			return last
		}
		o.logger.Debug("transient adapter error", "item", item.ID, "op", op, "attempt", attempt+1, "error", last)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, o.cfg.Retry.MaxAttempts, last)
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = source.Permanent(fmt.Errorf("adapter panic: %v", r))
		}
	}()
	return fn(ctx)
}

// handleCandidate runs extraction, identity and merge for one raw record. Only
// a run-threatening store failure is returned.
func (o *Orchestrator) handleCandidate(ctx context.Context, run *Run, raw *models.CandidateRaw) error {
	run.c.seen.Add(1)
	c, err := o.deps.Engine.Extract(raw)
	if err != nil {
		run.c.rejected.Add(1)
		metrics.Inc(metrics.CandidatesRejected)
		return nil
	}
	metrics.Inc(metrics.CandidatesExtracted)

	key, err := o.deps.Resolver.Resolve(ctx, c)
	if errors.Is(err, identity.ErrEmptyName) {
		run.c.rejected.Add(1)
		metrics.Inc(metrics.CandidatesRejected)
		o.logger.Debug("candidate rejected", "ref", c.SourceRef, "error", err)
		return nil
	}
	if err != nil {
		return o.storeFailed(run, c, err)
	}

	b, outcome, err := o.deps.Merge.Upsert(ctx, key, c)
	if errors.Is(err, merge.ErrMergeConflict) {
		run.c.conflicts.Add(1)
		metrics.Inc(metrics.MergeConflicts)
		o.logger.Error("merge conflict", "run_id", run.id, "key", key, "ref", c.SourceRef, "error", err)
		return nil
	}
	if err != nil {
		return o.storeFailed(run, c, err)
	}
	run.storeFailures.Store(0)
	run.touched.add(b.ID)

	switch outcome {
	case merge.OutcomeCreated:
		metrics.Inc(metrics.BusinessesCreated)
		n := run.c.created.Add(1)
		if t := run.cfg.TargetCount; t > 0 && n >= int64(t) && run.stopDispatch.CompareAndSwap(false, true) {
			o.logger.Info("target count reached, draining", "run_id", run.id, "created", n)
			run.setState(StateDraining)
		}
	case merge.OutcomeMerged:
		metrics.Inc(metrics.BusinessesMerged)
		run.c.merged.Add(1)
	case merge.OutcomeUnchanged:
		run.c.unchanged.Add(1)
	}
	return nil
}

func (o *Orchestrator) storeFailed(run *Run, c *models.CandidateBusiness, err error) error {
	n := run.storeFailures.Add(1)
	o.logger.Error("record store failure", "run_id", run.id, "ref", c.SourceRef, "consecutive", n, "error", err)
	if t := o.cfg.StoreFailureThreshold; t > 0 && n >= int64(t) {
		return fmt.Errorf("%w: %d consecutive failures: %w", ErrStoreFailure, n, err)
	}
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, run *Run, err error) {
	state := StateComplete
	switch {
	case err != nil:
		state = StateAborted
	case run.stopped.Load() || ctx.Err() != nil:
		state = StateAborted
	}

	statsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.CallTimeout)
	defer cancel()
	stats := models.NewStatistics()
	for _, id := range run.touched.list() {
		b, gerr := o.deps.Merge.Get(statsCtx, id)
		if gerr != nil {
			o.logger.Warn("reading business for run statistics", "id", id, "error", gerr)
			continue
		}
		stats.Add(b)
	}

	run.finish(state, stats, err)
	if state == StateAborted {
		metrics.Inc(metrics.RunsAborted)
	} else {
		metrics.Inc(metrics.RunsCompleted)
	}
	rep := run.Report()
	o.logger.Info("run finished", "run_id", run.id, "state", state,
		"completed", rep.Completed, "failed", rep.Failed, "skipped", rep.Skipped,
		"created", rep.Created, "merged", rep.Merged)
}

// Run is a handle on one executing plan.
type Run struct {
	id        string
	cfg       RunConfig
	plan      []*PlanItem
	startedAt time.Time

	mu         sync.Mutex
	state      State
	finishedAt *time.Time
	err        error
	stats      *models.Statistics

	c               counters
	skipped         atomic.Int64
	failures        failureLog
	touched         touchedSet
	firstDispatched atomic.Int64
	stopDispatch    atomic.Bool
	stopped         atomic.Bool
	storeFailures   atomic.Int64

	cancel context.CancelCauseFunc
	done   chan struct{}
}

var errStopped = errors.New("run stopped")

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Plan returns the run's plan items.
func (r *Run) Plan() []*PlanItem { return r.plan }

// Stop stops dispatch of new items. In-flight items finish.
func (r *Run) Stop() {
	r.stopped.Store(true)
	r.cancel(errStopped)
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends. The error is non-nil only when the run was
// aborted by a store failure.
func (r *Run) Wait() (*RunReport, error) {
	<-r.done
	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	return r.Report(), err
}

// State returns the current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	if s == StateDraining && r.state != StateDispatching {
		return
	}
	r.state = s
}

func (r *Run) finish(s State, stats *models.Statistics, err error) {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
	r.finishedAt = &now
	r.stats = stats
	r.err = err
	// Whatever never completed or failed was skipped.
	r.skipped.Store(int64(len(r.plan)) - r.c.completed.Load() - r.c.failed.Load())
}

// Report returns a snapshot. It is safe to call at any time.
func (r *Run) Report() *RunReport {
	r.mu.Lock()
	rep := &RunReport{
		RunID:      r.id,
		State:      r.state,
		StartedAt:  r.startedAt,
		FinishedAt: r.finishedAt,
		PlanSize:   len(r.plan),
		Statistics: r.stats,
	}
	if r.err != nil {
		rep.Error = r.err.Error()
	}
	r.mu.Unlock()

	rep.Dispatched = r.c.dispatched.Load()
	rep.Completed = r.c.completed.Load()
	rep.Failed = r.c.failed.Load()
	rep.Requeued = r.c.requeued.Load()
	rep.Skipped = r.skipped.Load()
	rep.CandidatesSeen = r.c.seen.Load()
	rep.CandidatesRejected = r.c.rejected.Load()
	rep.Created = r.c.created.Load()
	rep.Merged = r.c.merged.Load()
	rep.Unchanged = r.c.unchanged.Load()
	rep.Conflicts = r.c.conflicts.Load()
	rep.FailureSamples = r.failures.snapshot()
	return rep
}
