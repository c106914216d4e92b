package extraction

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

func newTestEngine() *Engine {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewEngine(DefaultConfig(), logger)
}

func TestExtract_WebCandidate(t *testing.T) {
	e := newTestEngine()
	observed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	raw := &models.CandidateRaw{
		SourceType:  models.SourceWeb,
		SourceRef:   "https://www.eaglefeather.ca/about",
		Name:        "  Eagle   Feather Enterprises Ltd. ",
		Description: "An Indigenous-owned general contractor serving Northern Ontario.",
		URL:         "https://WWW.EagleFeather.ca/",
		Emails:      []string{"Info@EagleFeather.ca", "info@eaglefeather.ca", "not-an-email"},
		Phones:      []string{"(705) 555-0100", "705.555.0100", "123"},
		Province:    "Ontario",
		ObservedAt:  observed,
	}

	c, err := e.Extract(raw)
	require.NoError(t, err)
	assert.Equal(t, "Eagle Feather Enterprises Ltd.", c.DisplayName)
	assert.Equal(t, "Ltd.", c.LegalSuffix)
	assert.Equal(t, "Eagle Feather Enterprises Ltd.", c.LegalNameGuess)
	assert.Equal(t, "ON", c.Location.Province)
	assert.Equal(t, "CA", c.Location.Country)
	assert.Equal(t, []string{"info@eaglefeather.ca"}, c.Contact.Emails)
	assert.Equal(t, []string{"+17055550100"}, c.Contact.Phones)
	assert.Equal(t, "https://eaglefeather.ca", c.Contact.Website)
	assert.Equal(t, "Construction", c.IndustryGuess)
	assert.Equal(t, []models.IndicatorFlag{models.FlagIndigenousTerm}, c.IndicatorFlags)
	assert.Equal(t, observed, c.ObservedAt)
}

func TestExtract_SourceFlags(t *testing.T) {
	e := newTestEngine()
	tests := []struct {
		st   models.SourceType
		want models.IndicatorFlag
	}{
		{models.SourceGovRegistry, models.FlagGovRegistrySource},
		{models.SourceIndustryAssoc, models.FlagAssociationMember},
		{models.SourceNews, models.FlagNewsMention},
	}
	for _, tt := range tests {
		t.Run(string(tt.st), func(t *testing.T) {
			c, err := e.Extract(&models.CandidateRaw{SourceType: tt.st, SourceRef: "ref-1", Name: "Raven Works"})
			require.NoError(t, err)
			assert.True(t, c.HasFlag(tt.want))
			assert.False(t, c.HasFlag(models.FlagIndigenousTerm))
		})
	}
}

func TestExtract_IndicatorTerms(t *testing.T) {
	e := newTestEngine()
	tests := []struct {
		name       string
		raw        models.CandidateRaw
		indigenous bool
		compliance bool
	}{
		{"accented term", models.CandidateRaw{Name: "Prairie Métis Builders"}, true, false},
		{"multi word term", models.CandidateRaw{Name: "Lakeside Catering", Description: "Owned by a First Nation community"}, true, false},
		{"self identified", models.CandidateRaw{Name: "Northwind Inc.", SelfIdentified: true}, true, false},
		{"substring is not a word match", models.CandidateRaw{Name: "Increed Labs", Description: "credence"}, false, false},
		{"compliance program", models.CandidateRaw{Name: "Boreal Services", Text: "We are ISO 9001 registered and COR certified."}, false, true},
		{"nothing", models.CandidateRaw{Name: "Generic Widgets"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.raw
			raw.SourceType = models.SourceWeb
			raw.SourceRef = "https://example.ca"
			c, err := e.Extract(&raw)
			require.NoError(t, err)
			assert.Equal(t, tt.indigenous, c.HasFlag(models.FlagIndigenousTerm))
			assert.Equal(t, tt.compliance, c.HasFlag(models.FlagComplianceProgram))
		})
	}
}

func TestExtract_Malformed(t *testing.T) {
	e := newTestEngine()
	tests := []struct {
		name string
		raw  *models.CandidateRaw
	}{
		{"nil", nil},
		{"bad source type", &models.CandidateRaw{SourceType: "rss", SourceRef: "x", Name: "A"}},
		{"missing ref", &models.CandidateRaw{SourceType: models.SourceWeb, Name: "A"}},
		{"missing name", &models.CandidateRaw{SourceType: models.SourceWeb, SourceRef: "x", Name: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := e.Extract(tt.raw)
			assert.Nil(t, c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
			var xerr *Error
			assert.True(t, errors.As(err, &xerr))
		})
	}
}

func TestExtract_Denylist(t *testing.T) {
	e := newTestEngine()

	t.Run("aggregator without contact is filtered", func(t *testing.T) {
		c, err := e.Extract(&models.CandidateRaw{
			SourceType: models.SourceWeb,
			SourceRef:  "https://m.yelp.ca/biz/raven-works-winnipeg",
			URL:        "https://m.yelp.ca/biz/raven-works-winnipeg",
			Name:       "Raven Works",
		})
		assert.Nil(t, c)
		assert.True(t, errors.Is(err, ErrFiltered))
	})

	t.Run("listing title without contact is filtered", func(t *testing.T) {
		_, err := e.Extract(&models.CandidateRaw{
			SourceType: models.SourceWeb,
			SourceRef:  "https://blog.example.ca/post",
			Name:       "Top 10 Indigenous Contractors in Manitoba",
		})
		assert.True(t, errors.Is(err, ErrFiltered))
	})

	t.Run("aggregator with phone is kept", func(t *testing.T) {
		c, err := e.Extract(&models.CandidateRaw{
			SourceType: models.SourceWeb,
			SourceRef:  "https://www.yellowpages.ca/bus/raven-works",
			URL:        "https://www.yellowpages.ca/bus/raven-works",
			Name:       "Raven Works",
			Phones:     []string{"204-555-0199"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Raven Works", c.DisplayName)
	})

	t.Run("aggregator with industry code is kept", func(t *testing.T) {
		_, err := e.Extract(&models.CandidateRaw{
			SourceType:   models.SourceWeb,
			SourceRef:    "https://opencorporates.com/companies/ca/123",
			Name:         "Raven Works",
			IndustryCode: "2362",
		})
		require.NoError(t, err)
	})

	t.Run("empty denylist disables domain filtering", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AggregatorDomains = []string{}
		e2 := NewEngine(cfg, nil)
		_, err := e2.Extract(&models.CandidateRaw{
			SourceType: models.SourceWeb,
			SourceRef:  "https://yelp.com/biz/x",
			Name:       "Raven Works",
		})
		require.NoError(t, err)
	})
}

func TestExtract_NewsLocationString(t *testing.T) {
	e := newTestEngine()
	c, err := e.Extract(&models.CandidateRaw{
		SourceType: models.SourceNews,
		SourceRef:  "https://news.example.ca/a#0",
		Name:       "Raven Works",
		Province:   "Winnipeg, MB",
	})
	require.NoError(t, err)
	assert.Equal(t, "Winnipeg", c.Location.City)
	assert.Equal(t, "MB", c.Location.Province)
}

func TestExtract_ConcurrentUse(t *testing.T) {
	e := newTestEngine()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				_, _ = e.Extract(&models.CandidateRaw{SourceType: models.SourceWeb, SourceRef: "r", Name: "Cree Construction"})
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}

func TestIndustryForCode(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"236220", "Non-Residential Building Construction"},
		{"23", "Construction"},
		{"238210", "Specialty Trade Contractors"},
		{"541512", "Computer Systems Design and Related Services"},
		{"NAICS 484110", "General Freight Trucking"},
		{"99", ""},
		{"", ""},
		{"7", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IndustryForCode(tt.code), tt.code)
	}
}

func TestSplitLegalSuffix(t *testing.T) {
	tests := []struct {
		in     string
		base   string
		suffix string
	}{
		{"Eagle Feather Enterprises Ltd.", "Eagle Feather Enterprises", "Ltd."},
		{"Northern Solutions, Inc.", "Northern Solutions", "Inc."},
		{"Acme Co. Ltd", "Acme", "Co. Ltd"},
		{"Construction Boréale Ltée", "Construction Boréale", "Ltée"},
		{"Limited", "Limited", ""},
		{"Raven Works", "Raven Works", ""},
	}
	for _, tt := range tests {
		base, suffix := SplitLegalSuffix(tt.in)
		assert.Equal(t, tt.base, base, tt.in)
		assert.Equal(t, tt.suffix, suffix, tt.in)
	}
}

func TestNormalizeWebsite(t *testing.T) {
	assert.Equal(t, "https://raven.ca/shop", normalizeWebsite("http://www.Raven.ca/shop/"))
	assert.Equal(t, "https://raven.ca", normalizeWebsite("raven.ca"))
	assert.Equal(t, "", normalizeWebsite("ftp://raven.ca"))
	assert.Equal(t, "", normalizeWebsite("localhost"))
	assert.Equal(t, "", normalizeWebsite(""))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "metis nation", Fold("Métis Nation"))
	assert.Equal(t, []string{"mi", "kmaq", "owned"}, Words("Mi'kmaq-owned"))
}
