package merge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ajitpratap0/discovery-swarm/internal/models"
	"github.com/ajitpratap0/discovery-swarm/internal/store"
)

// Filter narrows List results. Zero values match everything.
type Filter struct {
	EntityType    models.EntityType
	Province      string
	Source        models.SourceType
	MinConfidence int
	Offset        int
	Limit         int
}

func (f *Filter) matches(b *models.DiscoveredBusiness) bool {
	if f.EntityType != "" && b.EntityType != f.EntityType {
		return false
	}
	if f.Province != "" && !strings.EqualFold(b.Province, f.Province) {
		return false
	}
	if f.Source != "" && !b.HasSource(f.Source) {
		return false
	}
	return b.Confidence >= f.MinConfidence
}

// Get returns the business with the given id (its identity key).
func (s *Store) Get(ctx context.Context, id string) (*models.DiscoveredBusiness, error) {
	rec, err := s.records.Get(ctx, businessPrefix+id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("business %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrStore, id, err)
	}
	return decode(rec)
}

// List returns businesses ordered by id.
func (s *Store) List(ctx context.Context, filter Filter) ([]*models.DiscoveredBusiness, error) {
	var out []*models.DiscoveredBusiness
	skipped := 0
	err := s.each(ctx, func(b *models.DiscoveredBusiness) bool {
		if !filter.matches(b) {
			return true
		}
		if skipped < filter.Offset {
			skipped++
			return true
		}
		out = append(out, b)
		return filter.Limit <= 0 || len(out) < filter.Limit
	})
	return out, err
}

// Statistics summarizes all stored businesses. It only reads, so it is safe
// while a run is dispatching.
func (s *Store) Statistics(ctx context.Context) (*models.Statistics, error) {
	stats := models.NewStatistics()
	err := s.each(ctx, func(b *models.DiscoveredBusiness) bool {
		stats.Add(b)
		return true
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Store) each(ctx context.Context, fn func(*models.DiscoveredBusiness) bool) error {
	recs, err := s.records.List(ctx, businessPrefix)
	if err != nil {
		return fmt.Errorf("%w: listing businesses: %w", ErrStore, err)
	}
	for i := range recs {
		b, err := decode(&recs[i])
		if err != nil {
			s.logger.Warn("skipping undecodable business record", "key", recs[i].Key, "error", err)
			continue
		}
		if !fn(b) {
			return nil
		}
	}
	return nil
}

// SetVerificationStatus is the only path that changes verification status. The
// swarm itself never calls it.
func (s *Store) SetVerificationStatus(ctx context.Context, id string, status models.VerificationStatus) (*models.DiscoveredBusiness, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid verification status %q", status)
	}
	unlock := s.locks.lock(id)
	defer unlock()

	rk := businessPrefix + id
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		rec, err := s.records.Get(ctx, rk)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("business %s: %w", id, store.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %w", ErrStore, id, err)
		}
		b, err := decode(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStore, err)
		}
		if b.VerificationStatus == status {
			return b, nil
		}
		b.VerificationStatus = status
		b.LastUpdated = s.now()
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encoding business %s: %w", id, err)
		}
		_, err = s.records.CompareAndSwap(ctx, rk, rec.Version, data)
		if err == nil {
			s.logger.Info("verification status updated", "id", id, "status", status)
			return b, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("%w: updating %s: %w", ErrStore, id, err)
		}
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrMergeConflict, id, s.maxRetries)
}

// Ping checks the underlying record store.
func (s *Store) Ping(ctx context.Context) error {
	return s.records.Ping(ctx)
}
