package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/discovery-swarm/internal/classifier"
	"github.com/ajitpratap0/discovery-swarm/internal/extraction"
	"github.com/ajitpratap0/discovery-swarm/internal/identity"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
	"github.com/ajitpratap0/discovery-swarm/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type pipeline struct {
	engine   *extraction.Engine
	resolver *identity.Resolver
	merge    *Store
}

func newPipeline(t *testing.T, records store.RecordStore) *pipeline {
	t.Helper()
	logger := testLogger()
	m := New(records, classifier.NewClassifier(classifier.DefaultPolicy(), logger), logger)
	return &pipeline{
		engine:   extraction.NewEngine(extraction.DefaultConfig(), logger),
		resolver: identity.NewResolver(m, 0),
		merge:    m,
	}
}

func (p *pipeline) observe(t *testing.T, raw models.CandidateRaw) (*models.DiscoveredBusiness, Outcome) {
	t.Helper()
	ctx := context.Background()
	c, err := p.engine.Extract(&raw)
	require.NoError(t, err)
	key, err := p.resolver.Resolve(ctx, c)
	require.NoError(t, err)
	b, outcome, err := p.merge.Upsert(ctx, key, c)
	require.NoError(t, err)
	return b, outcome
}

func eagleWeb() models.CandidateRaw {
	return models.CandidateRaw{
		SourceType:  models.SourceWeb,
		SourceRef:   "https://eaglefeather.ca",
		Name:        "Eagle Feather Enterprises Ltd.",
		Description: "Indigenous-owned supplier",
		Province:    "ON",
	}
}

func eagleRegistry() models.CandidateRaw {
	return models.CandidateRaw{
		SourceType:         models.SourceGovRegistry,
		SourceRef:          "registry:ON1234567",
		Name:               "Eagle Feather Enterprises Ltd.",
		LegalName:          "EAGLE FEATHER ENTERPRISES LTD.",
		Province:           "ON",
		RegistrationNumber: "ON1234567",
	}
}

func TestScenarioA_SingleWebCandidate(t *testing.T) {
	p := newPipeline(t, store.NewMemoryStore())
	b, outcome := p.observe(t, eagleWeb())

	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, models.EntityIndigenousOwned, b.EntityType)
	assert.Equal(t, 50, b.Confidence)
	assert.Equal(t, "eaglefeatherenterprises-on", b.ID)
	assert.Equal(t, models.VerificationUnverified, b.VerificationStatus)
	assert.Equal(t, b.DiscoveredAt, b.LastUpdated)
	assert.Len(t, b.Provenance, 1)
}

func TestScenarioB_RegistryCorroboration(t *testing.T) {
	p := newPipeline(t, store.NewMemoryStore())
	first, _ := p.observe(t, eagleWeb())
	b, outcome := p.observe(t, eagleRegistry())

	assert.Equal(t, OutcomeMerged, outcome)
	assert.Equal(t, first.ID, b.ID)
	assert.Equal(t, 100, b.Confidence)
	assert.Equal(t, models.EntityIndigenousOwned, b.EntityType)
	assert.Equal(t, "EAGLE FEATHER ENTERPRISES LTD.", b.LegalName, "registry legal name overrides web guess")
	assert.Equal(t, "ON1234567", b.RegistrationNumber)
	assert.ElementsMatch(t, []models.SourceType{models.SourceWeb, models.SourceGovRegistry}, b.Sources)
	assert.Equal(t, first.DiscoveredAt, b.DiscoveredAt)

	stats, err := p.merge.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Total)
}

func TestScenarioC_SameNameDifferentProvince(t *testing.T) {
	p := newPipeline(t, store.NewMemoryStore())
	on, _ := p.observe(t, models.CandidateRaw{SourceType: models.SourceWeb, SourceRef: "https://ns-on.ca", Name: "Northern Solutions Inc.", Province: "ON"})
	bc, _ := p.observe(t, models.CandidateRaw{SourceType: models.SourceWeb, SourceRef: "https://ns-bc.ca", Name: "Northern Solutions Inc.", Province: "BC"})

	assert.NotEqual(t, on.ID, bc.ID)
	stats, err := p.merge.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.ByLocation["ON"])
	assert.Equal(t, int64(1), stats.ByLocation["BC"])
}

func TestUpsert_ProvenanceAppendOnly(t *testing.T) {
	p := newPipeline(t, store.NewMemoryStore())
	var refs []string
	var b *models.DiscoveredBusiness
	for i := 0; i < 5; i++ {
		raw := eagleWeb()
		raw.SourceRef = fmt.Sprintf("https://eaglefeather.ca/page/%d", i)
		refs = append(refs, raw.SourceRef)
		b, _ = p.observe(t, raw)
	}
	require.Len(t, b.Provenance, 5)
	for i := range refs {
		assert.Equal(t, refs[i], b.Provenance[i].SourceRef)
	}
}

func TestUpsert_RepeatObservationIsNoop(t *testing.T) {
	p := newPipeline(t, store.NewMemoryStore())
	first, _ := p.observe(t, eagleWeb())
	again, outcome := p.observe(t, eagleWeb())
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Len(t, again.Provenance, 1)
	assert.Equal(t, first.LastUpdated, again.LastUpdated)
}

func TestUpsert_ContactUnion(t *testing.T) {
	p := newPipeline(t, store.NewMemoryStore())
	raw := eagleWeb()
	raw.Emails = []string{"info@eaglefeather.ca"}
	raw.Phones = []string{"705-555-0100"}
	p.observe(t, raw)

	raw2 := eagleWeb()
	raw2.SourceType = models.SourceSocial
	raw2.SourceRef = "instagram/eaglefeather"
	raw2.Emails = []string{"sales@eaglefeather.ca", "info@eaglefeather.ca"}
	raw2.SocialHandles = map[string]string{"instagram": "eaglefeather"}
	b, _ := p.observe(t, raw2)

	assert.Equal(t, []string{"info@eaglefeather.ca", "sales@eaglefeather.ca"}, b.Contact.Emails)
	assert.Equal(t, []string{"+17055550100"}, b.Contact.Phones)
	assert.Equal(t, "eaglefeather", b.Contact.SocialHandles["instagram"])
}

func TestUpsert_LastUpdatedBumps(t *testing.T) {
	records := store.NewMemoryStore()
	logger := testLogger()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(records, classifier.NewClassifier(classifier.DefaultPolicy(), logger), logger,
		WithClock(func() time.Time { return clock }))
	engine := extraction.NewEngine(extraction.DefaultConfig(), logger)
	ctx := context.Background()

	raw := eagleWeb()
	c, err := engine.Extract(&raw)
	require.NoError(t, err)
	b, _, err := m.Upsert(ctx, "k", c)
	require.NoError(t, err)
	created := b.DiscoveredAt

	clock = clock.Add(time.Hour)
	raw.SourceRef = "https://eaglefeather.ca/contact"
	c, err = engine.Extract(&raw)
	require.NoError(t, err)
	b, _, err = m.Upsert(ctx, "k", c)
	require.NoError(t, err)
	assert.Equal(t, created, b.DiscoveredAt)
	assert.Equal(t, clock, b.LastUpdated)
}

func TestUpsert_ConcurrentSameKey(t *testing.T) {
	p := newPipeline(t, store.NewMemoryStore())
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw := eagleWeb()
			raw.SourceRef = fmt.Sprintf("https://eaglefeather.ca/%d", i)
			c, err := p.engine.Extract(&raw)
			if !assert.NoError(t, err) {
				return
			}
			_, _, err = p.merge.Upsert(ctx, "eaglefeatherenterprises-on", c)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	b, err := p.merge.Get(ctx, "eaglefeatherenterprises-on")
	require.NoError(t, err)
	assert.Len(t, b.Provenance, n)
	assert.Equal(t, 0, p.merge.locks.size(), "key locks are released")
}

// conflictStore always reports a version conflict on swap.
type conflictStore struct {
	*store.MemoryStore
}

func (c *conflictStore) CompareAndSwap(_ context.Context, key string, _ int64, _ []byte) (*store.Record, error) {
	return nil, fmt.Errorf("%w: %s", store.ErrVersionConflict, key)
}

func TestUpsert_ConflictExhaustion(t *testing.T) {
	p := newPipeline(t, &conflictStore{store.NewMemoryStore()})
	p.observe(t, eagleWeb())

	raw := eagleWeb()
	raw.SourceRef = "https://eaglefeather.ca/other"
	c, err := p.engine.Extract(&raw)
	require.NoError(t, err)
	_, _, err = p.merge.Upsert(context.Background(), "eaglefeatherenterprises-on", c)
	assert.True(t, errors.Is(err, ErrMergeConflict))
}

// failingStore fails every call.
type failingStore struct {
	store.MemoryStore
}

func (f *failingStore) Get(context.Context, string) (*store.Record, error) {
	return nil, errors.New("disk I/O error")
}

func TestUpsert_StoreFailure(t *testing.T) {
	p := newPipeline(t, &failingStore{})
	raw := eagleWeb()
	c, err := p.engine.Extract(&raw)
	require.NoError(t, err)
	_, _, err = p.merge.Upsert(context.Background(), "k", c)
	assert.True(t, errors.Is(err, ErrStore))
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestSetVerificationStatus(t *testing.T) {
	p := newPipeline(t, store.NewMemoryStore())
	b, _ := p.observe(t, eagleWeb())
	ctx := context.Background()

	updated, err := p.merge.SetVerificationStatus(ctx, b.ID, models.VerificationVerified)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, updated.VerificationStatus)

	// Later merges keep the externally set status.
	raw := eagleRegistry()
	merged, _ := p.observe(t, raw)
	assert.Equal(t, models.VerificationVerified, merged.VerificationStatus)

	_, err = p.merge.SetVerificationStatus(ctx, b.ID, "approved")
	assert.Error(t, err)

	_, err = p.merge.SetVerificationStatus(ctx, "missing", models.VerificationPending)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestList_Filters(t *testing.T) {
	p := newPipeline(t, store.NewMemoryStore())
	p.observe(t, eagleWeb())
	p.observe(t, models.CandidateRaw{SourceType: models.SourceSocial, SourceRef: "ig/raven", Name: "Raven Works", Province: "MB"})
	p.observe(t, models.CandidateRaw{SourceType: models.SourceGovRegistry, SourceRef: "registry:BC1", Name: "Coastal Marine Ltd", Province: "BC", RegistrationNumber: "BC1"})
	ctx := context.Background()

	all, err := p.merge.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	indigenous, err := p.merge.List(ctx, Filter{EntityType: models.EntityIndigenousOwned})
	require.NoError(t, err)
	require.Len(t, indigenous, 1)
	assert.Equal(t, "eaglefeatherenterprises-on", indigenous[0].ID)

	confident, err := p.merge.List(ctx, Filter{MinConfidence: 90})
	require.NoError(t, err)
	require.Len(t, confident, 1)
	assert.Equal(t, models.EntityComplianceReady, confident[0].EntityType)

	mb, err := p.merge.List(ctx, Filter{Province: "mb"})
	require.NoError(t, err)
	assert.Len(t, mb, 1)

	page, err := p.merge.List(ctx, Filter{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[1].ID, page[0].ID)

	social, err := p.merge.List(ctx, Filter{Source: models.SourceSocial})
	require.NoError(t, err)
	assert.Len(t, social, 1)
}

func TestGet_NotFound(t *testing.T) {
	p := newPipeline(t, store.NewMemoryStore())
	_, err := p.merge.Get(context.Background(), "nope")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestSetRanked(t *testing.T) {
	b := &models.DiscoveredBusiness{AttributeSources: map[string]models.SourceType{}}
	setRanked(b, "industry", &b.Industry, "Construction", models.SourceWeb)
	setRanked(b, "industry", &b.Industry, "Retail Trade", models.SourceSocial)
	assert.Equal(t, "Construction", b.Industry, "equal rank keeps first")
	setRanked(b, "industry", &b.Industry, "Specialty Trade Contractors", models.SourceIndustryAssoc)
	assert.Equal(t, "Specialty Trade Contractors", b.Industry)
	setRanked(b, "industry", &b.Industry, "Utilities", models.SourceWeb)
	assert.Equal(t, "Specialty Trade Contractors", b.Industry)
	setRanked(b, "industry", &b.Industry, "", models.SourceGovRegistry)
	assert.Equal(t, "Specialty Trade Contractors", b.Industry)
}
