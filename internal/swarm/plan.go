package swarm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ajitpratap0/discovery-swarm/internal/models"
	"github.com/ajitpratap0/discovery-swarm/internal/source"
)

// ErrEmptyPlan is returned when a run configuration expands to no work.
var ErrEmptyPlan = errors.New("query plan is empty")

// RunConfig is consumed at PLANNING.
type RunConfig struct {
	Industries     []string `json:"industries"`
	Locations      []string `json:"locations"`
	IndicatorTerms []string `json:"indicator_terms"`
	// TargetCount stops dispatch once this many new businesses were created. 0 disables it.
	TargetCount          int                       `json:"target_count"`
	ConcurrencyPerSource map[models.SourceType]int `json:"concurrency_per_source,omitempty"`
	// Sources restricts the run to these source types; empty means every configured adapter.
	Sources         []models.SourceType `json:"sources,omitempty"`
	MaxPlanItems    int                 `json:"max_plan_items"`
	ResultsPerQuery int                 `json:"results_per_query"`
	// MaxRequeues bounds rate-limit requeues per item. 0 means unlimited.
	MaxRequeues int `json:"max_requeues"`
}

// PlanItem is one query against one source.
type PlanItem struct {
	ID      string            `json:"id"`
	Source  models.SourceType `json:"source"`
	Query   string            `json:"query"`
	Options source.Options    `json:"options"`

	requeues int
}

// BuildPlan expands industries x locations x terms for every available source.
// Sources are interleaved so that MaxPlanItems truncation stays fair.
func BuildPlan(cfg RunConfig, available []models.SourceType) ([]*PlanItem, error) {
	sources, err := planSources(cfg.Sources, available)
	if err != nil {
		return nil, err
	}

	industries := nonEmpty(cfg.Industries)
	terms := nonEmpty(cfg.IndicatorTerms)
	if len(industries) == 0 && len(terms) == 0 {
		return nil, fmt.Errorf("%w: no industries or indicator terms configured", ErrEmptyPlan)
	}
	locations := nonEmpty(cfg.Locations)
	if len(locations) == 0 {
		locations = []string{""}
	}
	if len(industries) == 0 {
		industries = []string{""}
	}
	if len(terms) == 0 {
		terms = []string{""}
	}

	type query struct {
		text     string
		industry string
		location string
	}
	var queries []query
	seen := make(map[string]bool)
	for _, ind := range industries {
		for _, loc := range locations {
			for _, term := range terms {
				text := strings.TrimSpace(term + " " + ind)
				k := text + "\x00" + loc
				if seen[k] {
					continue
				}
				seen[k] = true
				queries = append(queries, query{text: text, industry: ind, location: loc})
			}
		}
	}

	total := len(queries) * len(sources)
	if cfg.MaxPlanItems > 0 && total > cfg.MaxPlanItems {
		total = cfg.MaxPlanItems
	}
	plan := make([]*PlanItem, 0, total)
	for qi := 0; qi < len(queries) && len(plan) < total; qi++ {
		for _, st := range sources {
			if len(plan) == total {
				break
			}
			q := queries[qi]
			plan = append(plan, &PlanItem{
				ID:     fmt.Sprintf("%s:%d", st, qi),
				Source: st,
				Query:  q.text,
				Options: source.Options{
					Limit:    cfg.ResultsPerQuery,
					Industry: q.industry,
					Location: q.location,
				},
			})
		}
	}
	return plan, nil
}

func planSources(requested, available []models.SourceType) ([]models.SourceType, error) {
	have := make(map[models.SourceType]bool, len(available))
	for _, st := range available {
		have[st] = true
	}
	want := make(map[models.SourceType]bool, len(requested))
	for _, st := range requested {
		if !st.IsValid() {
			return nil, fmt.Errorf("unknown source type %q", st)
		}
		if !have[st] {
			return nil, fmt.Errorf("source %q requested but no adapter is enabled", st)
		}
		want[st] = true
	}
	var out []models.SourceType
	for _, st := range models.ValidSourceTypes {
		if have[st] && (len(want) == 0 || want[st]) {
			out = append(out, st)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no source adapters enabled", ErrEmptyPlan)
	}
	return out, nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
