// Package source defines the adapter contract every external discovery source
// satisfies, and the adapters for each source category.
package source

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

// Options narrows a search.
type Options struct {
	Limit    int    `json:"limit"`
	Industry string `json:"industry,omitempty"`
	Location string `json:"location,omitempty"`
}

// Adapter turns queries into raw candidate records for one source category.
// Implementations classify failures with Transient or Permanent so callers
// know whether a retry is worthwhile.
type Adapter interface {
	// Type is the source category stamped on every record this adapter returns.
	Type() models.SourceType

	// Search runs query against the source.
	Search(ctx context.Context, query string, opts Options) ([]models.CandidateRaw, error)

	// Extract fetches the full record behind ref. It returns (nil, nil) when the
	// source no longer knows ref.
	Extract(ctx context.Context, ref string) (*models.CandidateRaw, error)
}

// Set holds at most one adapter per source type.
type Set map[models.SourceType]Adapter

// NewSet builds a Set, rejecting duplicate source types.
func NewSet(adapters ...Adapter) (Set, error) {
	s := make(Set, len(adapters))
	for _, a := range adapters {
		if _, dup := s[a.Type()]; dup {
			return nil, fmt.Errorf("duplicate adapter for source %q", a.Type())
		}
		s[a.Type()] = a
	}
	return s, nil
}

// Types returns the configured source types in dispatch order.
func (s Set) Types() []models.SourceType {
	var out []models.SourceType
	for _, st := range models.ValidSourceTypes {
		if _, ok := s[st]; ok {
			out = append(out, st)
		}
	}
	return out
}
