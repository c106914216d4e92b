// Package merge owns DiscoveredBusiness records: one per identity key, updated
// with serialized per-key upserts on top of a versioned record store.
package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ajitpratap0/discovery-swarm/internal/classifier"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
	"github.com/ajitpratap0/discovery-swarm/internal/store"
)

var (
	// ErrMergeConflict is returned when a compare-and-swap kept losing to
	// another writer. It is fatal to that merge only.
	ErrMergeConflict = errors.New("merge conflict")
	// ErrStore wraps failures of the underlying record store.
	ErrStore = errors.New("record store failure")
)

// Outcome describes what an Upsert did.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeMerged    Outcome = "merged"
	OutcomeUnchanged Outcome = "unchanged"
)

// Record key prefixes.
const (
	businessPrefix  = "biz/"
	registryPrefix  = "regid/"
	nameClaimPrefix = "keyreg/"
)

const defaultMaxCASRetries = 8

// Store is the MergeStore.
type Store struct {
	records    store.RecordStore
	classifier classifier.Classifier
	locks      *keyedMutex
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxCASRetries bounds compare-and-swap attempts per merge.
func WithMaxCASRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over records.
func New(records store.RecordStore, cls classifier.Classifier, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		records:    records,
		classifier: cls,
		locks:      newKeyedMutex(),
		maxRetries: defaultMaxCASRetries,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Upsert creates or merges the business under key. Calls for the same key are
// serialized in-process; the record version check covers other processes.
func (s *Store) Upsert(ctx context.Context, key string, c *models.CandidateBusiness) (*models.DiscoveredBusiness, Outcome, error) {
	unlock := s.locks.lock(key)
	defer unlock()

	rk := businessPrefix + key
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		rec, err := s.records.Get(ctx, rk)
		switch {
		case errors.Is(err, store.ErrNotFound):
			b := s.newBusiness(key, c)
			data, err := json.Marshal(b)
			if err != nil {
				return nil, "", fmt.Errorf("encoding business %s: %w", key, err)
			}
			_, created, err := s.records.PutIfAbsent(ctx, rk, data)
			if err != nil {
				return nil, "", fmt.Errorf("%w: creating %s: %w", ErrStore, key, err)
			}
			if created {
				return b, OutcomeCreated, nil
			}
			// Another process created it first; merge into theirs.
			continue
		case err != nil:
			return nil, "", fmt.Errorf("%w: reading %s: %w", ErrStore, key, err)
		}

		b, err := decode(rec)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrStore, err)
		}
		if !s.mergeInto(b, c) {
			return b, OutcomeUnchanged, nil
		}
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encoding business %s: %w", key, err)
		}
		_, err = s.records.CompareAndSwap(ctx, rk, rec.Version, data)
		if err == nil {
			return b, OutcomeMerged, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, "", fmt.Errorf("%w: updating %s: %w", ErrStore, key, err)
		}
		s.logger.Debug("merge version conflict, retrying", "key", key, "attempt", attempt+1)
	}
	s.logger.Error("merge conflict, giving up", "key", key, "source_ref", c.SourceRef, "attempts", s.maxRetries)
	return nil, "", fmt.Errorf("%w: %s after %d attempts", ErrMergeConflict, key, s.maxRetries)
}

func (s *Store) newBusiness(key string, c *models.CandidateBusiness) *models.DiscoveredBusiness {
	now := s.now()
	b := &models.DiscoveredBusiness{
		ID:                 key,
		Sources:            []models.SourceType{c.SourceType},
		Provenance:         []models.ProvenanceEntry{provenanceOf(c)},
		Contact:            unionContact(models.ContactInfo{}, c.Contact),
		DiscoveredAt:       now,
		LastUpdated:        now,
		VerificationStatus: models.VerificationUnverified,
		AttributeSources:   map[string]models.SourceType{},
	}
	s.applyAttributes(b, c)
	s.classify(b)
	return b
}

// mergeInto folds c into b and reports whether anything changed. An observation
// already in provenance is a no-op so that re-runs stay idempotent.
func (s *Store) mergeInto(b *models.DiscoveredBusiness, c *models.CandidateBusiness) bool {
	if b.HasObservation(c.SourceType, c.SourceRef) {
		return false
	}
	b.Provenance = append(b.Provenance, provenanceOf(c))
	if !b.HasSource(c.SourceType) {
		b.Sources = append(b.Sources, c.SourceType)
	}
	b.Contact = unionContact(b.Contact, c.Contact)
	if b.AttributeSources == nil {
		b.AttributeSources = map[string]models.SourceType{}
	}
	s.applyAttributes(b, c)
	b.LastUpdated = s.now()
	s.classify(b)
	return true
}

func (s *Store) classify(b *models.DiscoveredBusiness) {
	if s.classifier == nil {
		return
	}
	res := s.classifier.Classify(b, b.Provenance)
	b.EntityType = res.EntityType
	b.Confidence = res.Confidence
}

// sourceRank orders how far a source is trusted for scalar attributes.
func sourceRank(st models.SourceType) int {
	switch st {
	case models.SourceGovRegistry:
		return 3
	case models.SourceIndustryAssoc:
		return 2
	default:
		return 1
	}
}

// setRanked replaces *field with value when the field is empty or value comes
// from a strictly more trusted source. Equal rank keeps the first value.
func setRanked(b *models.DiscoveredBusiness, attr string, field *string, value string, st models.SourceType) {
	if value == "" {
		return
	}
	if *field != "" {
		if prev, ok := b.AttributeSources[attr]; ok && sourceRank(st) <= sourceRank(prev) {
			return
		}
		if _, ok := b.AttributeSources[attr]; !ok && sourceRank(st) <= 1 {
			return
		}
	}
	*field = value
	b.AttributeSources[attr] = st
}

func (s *Store) applyAttributes(b *models.DiscoveredBusiness, c *models.CandidateBusiness) {
	st := c.SourceType
	setRanked(b, "name", &b.Name, c.DisplayName, st)
	setRanked(b, "legal_name", &b.LegalName, c.LegalNameGuess, st)
	setRanked(b, "industry", &b.Industry, c.IndustryGuess, st)
	setRanked(b, "website", &b.Contact.Website, c.Contact.Website, st)
	if c.Location.Province != "" || c.Location.City != "" {
		before := b.Location
		setRanked(b, "location", &b.Location, c.Location.String(), st)
		if b.Location != before {
			b.Province = c.Location.Province
		}
	}
	if st == models.SourceGovRegistry && b.RegistrationNumber == "" {
		b.RegistrationNumber = c.RegistrationNumber
	}
}

func provenanceOf(c *models.CandidateBusiness) models.ProvenanceEntry {
	var flags []models.IndicatorFlag
	if len(c.IndicatorFlags) > 0 {
		flags = append(flags, c.IndicatorFlags...)
	}
	return models.ProvenanceEntry{
		SourceRef:  c.SourceRef,
		SourceType: c.SourceType,
		ObservedAt: c.ObservedAt,
		Flags:      flags,
	}
}

func unionContact(a, b models.ContactInfo) models.ContactInfo {
	out := models.ContactInfo{
		Emails:  unionSorted(a.Emails, b.Emails),
		Phones:  unionSorted(a.Phones, b.Phones),
		Website: a.Website,
	}
	if len(a.SocialHandles) > 0 || len(b.SocialHandles) > 0 {
		out.SocialHandles = make(map[string]string, len(a.SocialHandles)+len(b.SocialHandles))
		for k, v := range a.SocialHandles {
			out.SocialHandles[k] = v
		}
		for k, v := range b.SocialHandles {
			if _, ok := out.SocialHandles[k]; !ok {
				out.SocialHandles[k] = v
			}
		}
	}
	return out
}

func unionSorted(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func decode(rec *store.Record) (*models.DiscoveredBusiness, error) {
	var b models.DiscoveredBusiness
	if err := json.Unmarshal(rec.Value, &b); err != nil {
		return nil, fmt.Errorf("decoding business %s: %w", rec.Key, err)
	}
	return &b, nil
}
