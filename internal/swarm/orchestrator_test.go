package swarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/discovery-swarm/internal/classifier"
	"github.com/ajitpratap0/discovery-swarm/internal/extraction"
	"github.com/ajitpratap0/discovery-swarm/internal/identity"
	"github.com/ajitpratap0/discovery-swarm/internal/merge"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
	"github.com/ajitpratap0/discovery-swarm/internal/ratelimit"
	"github.com/ajitpratap0/discovery-swarm/internal/source"
	"github.com/ajitpratap0/discovery-swarm/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeAdapter serves canned results. search receives the 1-based call number.
type fakeAdapter struct {
	st      models.SourceType
	calls   atomic.Int64
	search  func(ctx context.Context, query string, call int64) ([]models.CandidateRaw, error)
	extract func(ctx context.Context, ref string) (*models.CandidateRaw, error)
}

func (f *fakeAdapter) Type() models.SourceType { return f.st }

func (f *fakeAdapter) Search(ctx context.Context, query string, _ source.Options) ([]models.CandidateRaw, error) {
	n := f.calls.Add(1)
	if f.search == nil {
		return nil, nil
	}
	return f.search(ctx, query, n)
}

func (f *fakeAdapter) Extract(ctx context.Context, ref string) (*models.CandidateRaw, error) {
	if f.extract == nil {
		return nil, nil
	}
	return f.extract(ctx, ref)
}

func returns(raws ...models.CandidateRaw) func(context.Context, string, int64) ([]models.CandidateRaw, error) {
	return func(context.Context, string, int64) ([]models.CandidateRaw, error) {
		out := make([]models.CandidateRaw, len(raws))
		copy(out, raws)
		return out, nil
	}
}

type harness struct {
	orch    *Orchestrator
	merge   *merge.Store
	limiter *ratelimit.Limiter
}

func generousLimiter() *ratelimit.Limiter {
	return ratelimit.New(nil, testLogger(), ratelimit.WithDefaultPolicy(ratelimit.Policy{
		MaxRequests: 1000, Window: time.Second, MaxWait: time.Second,
	}))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	cfg.CallTimeout = 5 * time.Second
	return cfg
}

func newHarness(t *testing.T, limiter *ratelimit.Limiter, adapters ...source.Adapter) *harness {
	t.Helper()
	logger := testLogger()
	set, err := source.NewSet(adapters...)
	require.NoError(t, err)
	if limiter == nil {
		limiter = generousLimiter()
	}
	m := merge.New(store.NewMemoryStore(), classifier.NewClassifier(classifier.DefaultPolicy(), logger), logger)
	orch := New(Deps{
		Adapters: set,
		Limiter:  limiter,
		Engine:   extraction.NewEngine(extraction.DefaultConfig(), logger),
		Resolver: identity.NewResolver(m, 0),
		Merge:    m,
	}, testConfig(), logger)
	return &harness{orch: orch, merge: m, limiter: limiter}
}

func oneQuery() RunConfig {
	return RunConfig{Industries: []string{"construction"}, Locations: []string{"Ontario"}}
}

func eagleWeb() models.CandidateRaw {
	return models.CandidateRaw{
		SourceRef:   "https://eaglefeather.ca",
		Name:        "Eagle Feather Enterprises Ltd.",
		Description: "Indigenous-owned supplier",
		Province:    "ON",
	}
}

func eagleRegistry() models.CandidateRaw {
	return models.CandidateRaw{
		SourceRef:          "registry:ON1234567",
		Name:               "Eagle Feather Enterprises Ltd.",
		LegalName:          "EAGLE FEATHER ENTERPRISES LTD.",
		Province:           "ON",
		RegistrationNumber: "ON1234567",
	}
}

func business(i int) models.CandidateRaw {
	return models.CandidateRaw{
		SourceRef: fmt.Sprintf("https://biz%d.example.ca", i),
		Name:      fmt.Sprintf("Northern Builder %d Inc.", i),
		Province:  "MB",
		Phones:    []string{fmt.Sprintf("204555%04d", i)},
	}
}

func TestExecute_MergesAcrossSources(t *testing.T) {
	web := &fakeAdapter{st: models.SourceWeb, search: returns(eagleWeb())}
	gov := &fakeAdapter{st: models.SourceGovRegistry, search: returns(eagleRegistry())}
	h := newHarness(t, nil, web, gov)

	rep, err := h.orch.Execute(context.Background(), oneQuery())
	require.NoError(t, err)

	assert.Equal(t, StateComplete, rep.State)
	assert.Equal(t, 2, rep.PlanSize)
	assert.Equal(t, int64(2), rep.Dispatched)
	assert.Equal(t, int64(2), rep.Completed)
	assert.Zero(t, rep.Failed)
	assert.Zero(t, rep.Skipped)
	assert.Equal(t, int64(1), rep.Created)
	assert.Equal(t, int64(1), rep.Merged)
	require.NotNil(t, rep.FinishedAt)
	require.NotNil(t, rep.Statistics)
	assert.Equal(t, int64(1), rep.Statistics.Total)

	all, err := h.merge.List(context.Background(), merge.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.ElementsMatch(t, []models.SourceType{models.SourceWeb, models.SourceGovRegistry}, all[0].Sources)
	assert.Len(t, all[0].Provenance, 2)
}

func TestExecute_StampsSourceType(t *testing.T) {
	raw := eagleWeb()
	raw.SourceType = models.SourceGovRegistry
	web := &fakeAdapter{st: models.SourceWeb, search: returns(raw)}
	h := newHarness(t, nil, web)

	_, err := h.orch.Execute(context.Background(), oneQuery())
	require.NoError(t, err)

	all, err := h.merge.List(context.Background(), merge.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []models.SourceType{models.SourceWeb}, all[0].Sources)
}

func TestExecute_RerunIsIdempotent(t *testing.T) {
	web := &fakeAdapter{st: models.SourceWeb, search: returns(eagleWeb(), business(1))}
	gov := &fakeAdapter{st: models.SourceGovRegistry, search: returns(eagleRegistry())}
	h := newHarness(t, nil, web, gov)
	ctx := context.Background()

	_, err := h.orch.Execute(ctx, oneQuery())
	require.NoError(t, err)
	before, err := h.merge.List(ctx, merge.Filter{})
	require.NoError(t, err)

	rep, err := h.orch.Execute(ctx, oneQuery())
	require.NoError(t, err)
	assert.Zero(t, rep.Created)
	assert.Zero(t, rep.Merged)
	assert.Equal(t, int64(3), rep.Unchanged)

	after, err := h.merge.List(ctx, merge.Filter{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestExecute_TransientErrorsRetried(t *testing.T) {
	web := &fakeAdapter{st: models.SourceWeb}
	web.search = func(_ context.Context, _ string, call int64) ([]models.CandidateRaw, error) {
		if call < 3 {
			return nil, source.Transient(errors.New("503 from upstream"))
		}
		return []models.CandidateRaw{business(1)}, nil
	}
	h := newHarness(t, nil, web)

	rep, err := h.orch.Execute(context.Background(), oneQuery())
	require.NoError(t, err)
	assert.Equal(t, int64(3), web.calls.Load())
	assert.Equal(t, int64(1), rep.Completed)
	assert.Equal(t, int64(1), rep.Created)
}

func TestExecute_TransientExhaustsAttempts(t *testing.T) {
	web := &fakeAdapter{st: models.SourceWeb}
	web.search = func(context.Context, string, int64) ([]models.CandidateRaw, error) {
		return nil, source.Transient(errors.New("connection reset"))
	}
	h := newHarness(t, nil, web)

	rep, err := h.orch.Execute(context.Background(), oneQuery())
	require.NoError(t, err)
	assert.Equal(t, int64(3), web.calls.Load())
	assert.Equal(t, int64(1), rep.Failed)
	require.Len(t, rep.FailureSamples, 1)
	assert.Contains(t, rep.FailureSamples[0].Reason, "after 3 attempts")
	assert.Equal(t, StateComplete, rep.State)
}

func TestExecute_PermanentErrorNotRetried(t *testing.T) {
	web := &fakeAdapter{st: models.SourceWeb}
	web.search = func(context.Context, string, int64) ([]models.CandidateRaw, error) {
		return nil, source.Permanent(errors.New("401 unauthorized"))
	}
	h := newHarness(t, nil, web)

	rep, err := h.orch.Execute(context.Background(), oneQuery())
	require.NoError(t, err)
	assert.Equal(t, int64(1), web.calls.Load())
	assert.Equal(t, int64(1), rep.Failed)
	require.Len(t, rep.FailureSamples, 1)
	assert.Equal(t, "web:0", rep.FailureSamples[0].ItemID)
	assert.Contains(t, rep.FailureSamples[0].Reason, "401")
}

func TestExecute_AdapterPanicFailsItem(t *testing.T) {
	web := &fakeAdapter{st: models.SourceWeb}
	web.search = func(context.Context, string, int64) ([]models.CandidateRaw, error) {
		panic("nil map")
	}
	gov := &fakeAdapter{st: models.SourceGovRegistry, search: returns(eagleRegistry())}
	h := newHarness(t, nil, web, gov)

	rep, err := h.orch.Execute(context.Background(), oneQuery())
	require.NoError(t, err)
	assert.Equal(t, int64(1), web.calls.Load())
	assert.Equal(t, int64(1), rep.Failed)
	assert.Equal(t, int64(1), rep.Completed)
	assert.Equal(t, int64(1), rep.Created)
}

func TestExecute_RateLimitTimeoutRequeues(t *testing.T) {
	// One permit per 30ms and no waiting: concurrent workers time out and
	// their items go back on the queue until a permit frees up.
	limiter := ratelimit.New(map[string]ratelimit.Policy{
		string(models.SourceWeb): {MaxRequests: 1, Window: 30 * time.Millisecond, MaxWait: 0},
	}, testLogger())
	web := &fakeAdapter{st: models.SourceWeb}
	web.search = func(_ context.Context, query string, _ int64) ([]models.CandidateRaw, error) {
		return []models.CandidateRaw{{
			SourceRef: "https://" + query + ".example.ca",
			Name:      query + " Ltd.",
			Province:  "ON",
			Phones:    []string{"4165550100"},
		}}, nil
	}
	h := newHarness(t, limiter, web)

	rc := RunConfig{
		IndicatorTerms:       []string{"alpha", "bravo", "charlie"},
		ConcurrencyPerSource: map[models.SourceType]int{models.SourceWeb: 3},
	}
	rep, err := h.orch.Execute(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, StateComplete, rep.State)
	assert.Equal(t, int64(3), rep.Completed)
	assert.Equal(t, int64(3), rep.Dispatched)
	assert.Zero(t, rep.Failed)
	assert.Positive(t, rep.Requeued)
	assert.Equal(t, int64(3), rep.Created)
	assert.Equal(t, int64(3), web.calls.Load())
}

func TestExecute_RequeuedItemsWaitForBudget(t *testing.T) {
	// The budget refills every 100ms but callers only wait 20ms. Requeued
	// items must wait for the refill rather than burn through the default
	// requeue budget.
	limiter := ratelimit.New(map[string]ratelimit.Policy{
		string(models.SourceWeb): {MaxRequests: 1, Window: 100 * time.Millisecond, MaxWait: 20 * time.Millisecond},
	}, testLogger())
	web := &fakeAdapter{st: models.SourceWeb}
	web.search = func(_ context.Context, query string, _ int64) ([]models.CandidateRaw, error) {
		return []models.CandidateRaw{{
			SourceRef: "https://" + query + ".example.ca",
			Name:      query + " Ltd.",
			Province:  "ON",
			Phones:    []string{"4165550100"},
		}}, nil
	}
	h := newHarness(t, limiter, web)

	rc := RunConfig{
		IndicatorTerms:       []string{"alpha", "bravo", "charlie"},
		ConcurrencyPerSource: map[models.SourceType]int{models.SourceWeb: 1},
		MaxRequeues:          50,
	}
	start := time.Now()
	rep, err := h.orch.Execute(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, StateComplete, rep.State)
	assert.Equal(t, int64(3), rep.Completed)
	assert.Zero(t, rep.Failed)
	assert.Empty(t, rep.FailureSamples)
	assert.Equal(t, int64(3), rep.Created)
	assert.LessOrEqual(t, rep.Requeued, int64(10))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestRequeueDelay(t *testing.T) {
	h := newHarness(t, nil)
	h.orch.cfg.MaxRequeueDelay = time.Second

	assert.Equal(t, 80*time.Millisecond, h.orch.requeueDelay(&ratelimit.TimeoutError{RetryAfter: 80 * time.Millisecond}))
	assert.Equal(t, minRequeueDelay, h.orch.requeueDelay(ratelimit.ErrTimeout))
	assert.Equal(t, time.Second, h.orch.requeueDelay(&ratelimit.TimeoutError{RetryAfter: time.Hour}))
}

func TestExecute_RequeueBudgetExhausted(t *testing.T) {
	limiter := ratelimit.New(map[string]ratelimit.Policy{
		string(models.SourceWeb): {MaxRequests: 1, Window: time.Hour, MaxWait: 0},
	}, testLogger())
	web := &fakeAdapter{st: models.SourceWeb, search: returns(business(1))}
	h := newHarness(t, limiter, web)
	h.orch.cfg.MaxRequeueDelay = 5 * time.Millisecond

	rc := RunConfig{
		IndicatorTerms:       []string{"alpha", "bravo"},
		ConcurrencyPerSource: map[models.SourceType]int{models.SourceWeb: 1},
		MaxRequeues:          2,
	}
	rep, err := h.orch.Execute(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, int64(1), rep.Completed)
	assert.Equal(t, int64(1), rep.Failed)
	assert.Equal(t, int64(2), rep.Requeued)
	require.Len(t, rep.FailureSamples, 1)
	assert.Equal(t, reasonRequeueBudget, rep.FailureSamples[0].Reason)
	assert.Equal(t, rep.Completed+rep.Failed+rep.Skipped, int64(rep.PlanSize))
}

func TestExecute_ShallowResultsExtracted(t *testing.T) {
	full := business(7)
	web := &fakeAdapter{st: models.SourceWeb}
	web.search = returns(
		models.CandidateRaw{SourceRef: full.SourceRef, Shallow: true},
		models.CandidateRaw{SourceRef: "https://gone.example.ca", Shallow: true},
	)
	web.extract = func(_ context.Context, ref string) (*models.CandidateRaw, error) {
		if ref == full.SourceRef {
			c := full
			return &c, nil
		}
		return nil, nil
	}
	h := newHarness(t, nil, web)

	rep, err := h.orch.Execute(context.Background(), oneQuery())
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.CandidatesSeen)
	assert.Equal(t, int64(1), rep.CandidatesRejected)
	assert.Equal(t, int64(1), rep.Created)

	all, err := h.merge.List(context.Background(), merge.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Northern Builder 7 Inc.", all[0].Name)
}

func TestExecute_RejectedCandidatesCounted(t *testing.T) {
	web := &fakeAdapter{st: models.SourceWeb, search: returns(
		models.CandidateRaw{SourceRef: "https://blank.example.ca"},
		business(2),
	)}
	h := newHarness(t, nil, web)

	rep, err := h.orch.Execute(context.Background(), oneQuery())
	require.NoError(t, err)
	assert.Equal(t, int64(2), rep.CandidatesSeen)
	assert.Equal(t, int64(1), rep.CandidatesRejected)
	assert.Equal(t, int64(1), rep.Created)
}

func TestExecute_TargetCountDrains(t *testing.T) {
	var n atomic.Int64
	web := &fakeAdapter{st: models.SourceWeb}
	web.search = func(context.Context, string, int64) ([]models.CandidateRaw, error) {
		return []models.CandidateRaw{business(int(n.Add(1)))}, nil
	}
	h := newHarness(t, nil, web)

	rc := RunConfig{
		IndicatorTerms:       []string{"alpha", "bravo", "charlie", "delta"},
		ConcurrencyPerSource: map[models.SourceType]int{models.SourceWeb: 1},
		TargetCount:          2,
	}
	rep, err := h.orch.Execute(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, rep.State)
	assert.Equal(t, int64(2), rep.Created)
	assert.Equal(t, int64(2), rep.Completed)
	assert.Equal(t, int64(2), rep.Skipped)
	assert.Equal(t, int64(2), web.calls.Load())
}

func TestRun_StopLetsInFlightFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	web := &fakeAdapter{st: models.SourceWeb}
	web.search = func(ctx context.Context, query string, call int64) ([]models.CandidateRaw, error) {
		if call == 1 {
			close(started)
			<-release
		}
		// The in-flight call context survives Stop.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []models.CandidateRaw{business(int(call))}, nil
	}
	h := newHarness(t, nil, web)

	run, err := h.orch.Start(context.Background(), RunConfig{
		IndicatorTerms:       []string{"alpha", "bravo", "charlie"},
		ConcurrencyPerSource: map[models.SourceType]int{models.SourceWeb: 1},
	})
	require.NoError(t, err)
	<-started
	assert.Equal(t, StateDispatching, run.State())

	run.Stop()
	close(release)
	rep, err := run.Wait()
	require.NoError(t, err)

	assert.Equal(t, StateAborted, rep.State)
	assert.Equal(t, int64(1), rep.Completed)
	assert.Equal(t, int64(1), rep.Created)
	assert.Equal(t, int64(2), rep.Skipped)
	assert.Equal(t, int64(1), web.calls.Load())
	assert.True(t, run.State().Terminal())
}

func TestRun_ParentCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	web := &fakeAdapter{st: models.SourceWeb}
	web.search = func(_ context.Context, _ string, call int64) ([]models.CandidateRaw, error) {
		if call == 1 {
			close(started)
			cancel()
		}
		return nil, nil
	}
	h := newHarness(t, nil, web)

	run, err := h.orch.Start(ctx, RunConfig{
		IndicatorTerms:       []string{"alpha", "bravo"},
		ConcurrencyPerSource: map[models.SourceType]int{models.SourceWeb: 1},
	})
	require.NoError(t, err)
	<-started
	rep, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, StateAborted, rep.State)
	assert.Equal(t, int64(1), rep.Skipped)
}

// brokenMerger fails every write as if the backend were down.
type brokenMerger struct{ calls atomic.Int64 }

func (b *brokenMerger) Upsert(context.Context, string, *models.CandidateBusiness) (*models.DiscoveredBusiness, merge.Outcome, error) {
	b.calls.Add(1)
	return nil, "", fmt.Errorf("%w: connection refused", merge.ErrStore)
}

func (b *brokenMerger) Get(context.Context, string) (*models.DiscoveredBusiness, error) {
	return nil, store.ErrNotFound
}

func TestExecute_StoreFailureAbortsRun(t *testing.T) {
	logger := testLogger()
	web := &fakeAdapter{st: models.SourceWeb, search: returns(business(1), business(2), business(3))}
	set, err := source.NewSet(web)
	require.NoError(t, err)
	broken := &brokenMerger{}
	cfg := testConfig()
	cfg.StoreFailureThreshold = 2
	orch := New(Deps{
		Adapters: set,
		Limiter:  generousLimiter(),
		Engine:   extraction.NewEngine(extraction.DefaultConfig(), logger),
		Resolver: identity.NewResolver(nil, 0),
		Merge:    broken,
	}, cfg, logger)

	rep, err := orch.Execute(context.Background(), RunConfig{
		IndicatorTerms:       []string{"alpha", "bravo"},
		ConcurrencyPerSource: map[models.SourceType]int{models.SourceWeb: 1},
	})
	require.ErrorIs(t, err, ErrStoreFailure)
	assert.ErrorIs(t, err, merge.ErrStore)
	assert.Equal(t, StateAborted, rep.State)
	assert.Equal(t, int64(2), broken.calls.Load())
	assert.Equal(t, int64(1), rep.Failed)
	assert.Equal(t, int64(1), rep.Skipped)
	assert.NotEmpty(t, rep.Error)
}

func TestStart_PlanningErrors(t *testing.T) {
	h := newHarness(t, nil, &fakeAdapter{st: models.SourceWeb})

	_, err := h.orch.Start(context.Background(), RunConfig{})
	assert.ErrorIs(t, err, ErrEmptyPlan)

	_, err = h.orch.Start(context.Background(), RunConfig{
		Industries: []string{"retail"},
		Sources:    []models.SourceType{models.SourceNews},
	})
	assert.Error(t, err)
}

func TestRun_ReportIsLive(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})
	web := &fakeAdapter{st: models.SourceWeb}
	web.search = func(context.Context, string, int64) ([]models.CandidateRaw, error) {
		once.Do(func() { close(started) })
		<-release
		return nil, nil
	}
	h := newHarness(t, nil, web)

	run, err := h.orch.Start(context.Background(), oneQuery())
	require.NoError(t, err)
	<-started
	live := run.Report()
	assert.Equal(t, run.ID(), live.RunID)
	assert.Nil(t, live.FinishedAt)
	assert.Equal(t, int64(1), live.Dispatched)
	assert.Equal(t, StateDraining, live.State)

	close(release)
	<-run.Done()
	assert.Equal(t, StateComplete, run.State())
}
