package source

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

// fixtureRecord is one canned raw record. Match lists lowercase substrings;
// the record is returned for a query containing any of them, or for every
// query when Match is empty.
type fixtureRecord struct {
	models.CandidateRaw `yaml:",inline"`
	Match               []string `yaml:"match"`
}

type fixtureFile struct {
	Records []fixtureRecord `yaml:"records"`
}

// FixtureAdapter serves canned records for one source type. It backs offline
// runs and demos without network access.
type FixtureAdapter struct {
	sourceType models.SourceType
	records    []fixtureRecord
}

// LoadFixtures reads a YAML fixture file and returns one adapter per source
// type present in it.
func LoadFixtures(path string) ([]*FixtureAdapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures parses fixture YAML.
func ParseFixtures(data []byte) ([]*FixtureAdapter, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixtures: %w", err)
	}
	byType := make(map[models.SourceType]*FixtureAdapter)
	for i := range f.Records {
		r := f.Records[i]
		if !r.SourceType.IsValid() {
			return nil, fmt.Errorf("fixture record %d: invalid source_type %q", i, r.SourceType)
		}
		if r.SourceRef == "" {
			return nil, fmt.Errorf("fixture record %d: source_ref is required", i)
		}
		for j := range r.Match {
			r.Match[j] = strings.ToLower(r.Match[j])
		}
		a, ok := byType[r.SourceType]
		if !ok {
			a = &FixtureAdapter{sourceType: r.SourceType}
			byType[r.SourceType] = a
		}
		a.records = append(a.records, r)
	}
	var out []*FixtureAdapter
	for _, st := range models.ValidSourceTypes {
		if a, ok := byType[st]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// Type implements Adapter.
func (f *FixtureAdapter) Type() models.SourceType { return f.sourceType }

// Search implements Adapter.
func (f *FixtureAdapter) Search(_ context.Context, query string, opts Options) ([]models.CandidateRaw, error) {
	q := strings.ToLower(query)
	limit := limitOrDefault(opts.Limit)
	var out []models.CandidateRaw
	for i := range f.records {
		if len(out) >= limit {
			break
		}
		if !f.records[i].matches(q) {
			continue
		}
		out = append(out, f.records[i].stamped())
	}
	return out, nil
}

// Extract implements Adapter.
func (f *FixtureAdapter) Extract(_ context.Context, ref string) (*models.CandidateRaw, error) {
	for i := range f.records {
		if f.records[i].SourceRef == ref {
			raw := f.records[i].stamped()
			raw.Shallow = false
			return &raw, nil
		}
	}
	return nil, nil
}

func (r *fixtureRecord) matches(q string) bool {
	if len(r.Match) == 0 {
		return true
	}
	for _, m := range r.Match {
		if strings.Contains(q, m) {
			return true
		}
	}
	return false
}

func (r *fixtureRecord) stamped() models.CandidateRaw {
	raw := r.CandidateRaw
	if raw.ObservedAt.IsZero() {
		raw.ObservedAt = time.Now().UTC()
	}
	return raw
}
