package models

import (
	"time"
)

// EntityType classifies a discovered business.
type EntityType string

const (
	EntityIndigenousOwned  EntityType = "indigenous_owned"
	EntityComplianceReady  EntityType = "compliance_ready"
	EntityPotentialPartner EntityType = "potential_partner"
)

// ValidEntityTypes is the set of all valid entity types.
var ValidEntityTypes = []EntityType{
	EntityIndigenousOwned,
	EntityComplianceReady,
	EntityPotentialPartner,
}

// IsValid returns true if the entity type is recognized.
func (et EntityType) IsValid() bool {
	for _, v := range ValidEntityTypes {
		if et == v {
			return true
		}
	}
	return false
}

// VerificationStatus is owned by the external verification process.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationPending    VerificationStatus = "pending"
	VerificationVerified   VerificationStatus = "verified"
)

// ValidVerificationStatuses is the set of all valid verification statuses.
var ValidVerificationStatuses = []VerificationStatus{
	VerificationUnverified,
	VerificationPending,
	VerificationVerified,
}

// IsValid returns true if the verification status is recognized.
func (vs VerificationStatus) IsValid() bool {
	for _, v := range ValidVerificationStatuses {
		if vs == v {
			return true
		}
	}
	return false
}

// ProvenanceEntry records one observation that was merged into a business.
type ProvenanceEntry struct {
	SourceRef  string          `json:"source_ref"`
	SourceType SourceType      `json:"source_type"`
	ObservedAt time.Time       `json:"observed_at"`
	Flags      []IndicatorFlag `json:"flags,omitempty"`
}

// DiscoveredBusiness is the persistent record for one real-world entity.
type DiscoveredBusiness struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	LegalName          string             `json:"legal_name,omitempty"`
	RegistrationNumber string             `json:"registration_number,omitempty"`
	EntityType         EntityType         `json:"entity_type"`
	Confidence         int                `json:"confidence"`
	Sources            []SourceType       `json:"sources"`
	Provenance         []ProvenanceEntry  `json:"provenance"`
	Industry           string             `json:"industry,omitempty"`
	Location           string             `json:"location,omitempty"`
	Province           string             `json:"province,omitempty"`
	Contact            ContactInfo        `json:"contact"`
	DiscoveredAt       time.Time          `json:"discovered_at"`
	LastUpdated        time.Time          `json:"last_updated"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	// AttributeSources records which source type supplied each ranked scalar field.
	AttributeSources map[string]SourceType `json:"attribute_sources,omitempty"`
}

// HasSource reports whether the given source type already contributed.
func (b *DiscoveredBusiness) HasSource(st SourceType) bool {
	for _, s := range b.Sources {
		if s == st {
			return true
		}
	}
	return false
}

// HasObservation reports whether provenance already contains this exact observation.
func (b *DiscoveredBusiness) HasObservation(st SourceType, ref string) bool {
	for i := range b.Provenance {
		if b.Provenance[i].SourceType == st && b.Provenance[i].SourceRef == ref {
			return true
		}
	}
	return false
}

// Confidence bands used by statistics.
const (
	BandLow      = "low"       // 0-49
	BandMedium   = "medium"    // 50-74
	BandHigh     = "high"      // 75-89
	BandVeryHigh = "very_high" // 90-100
)

// ConfidenceBand maps a 0-100 confidence to its statistics band.
func ConfidenceBand(confidence int) string {
	switch {
	case confidence >= 90:
		return BandVeryHigh
	case confidence >= 75:
		return BandHigh
	case confidence >= 50:
		return BandMedium
	default:
		return BandLow
	}
}

// Statistics summarizes a set of discovered businesses.
type Statistics struct {
	Total            int64            `json:"total"`
	ByType           map[string]int64 `json:"by_type"`
	ByConfidenceBand map[string]int64 `json:"by_confidence_band"`
	ByLocation       map[string]int64 `json:"by_location"`
}

// NewStatistics returns a Statistics with initialized maps.
func NewStatistics() *Statistics {
	return &Statistics{
		ByType:           make(map[string]int64),
		ByConfidenceBand: make(map[string]int64),
		ByLocation:       make(map[string]int64),
	}
}

// Add counts one business.
func (s *Statistics) Add(b *DiscoveredBusiness) {
	s.Total++
	s.ByType[string(b.EntityType)]++
	s.ByConfidenceBand[ConfidenceBand(b.Confidence)]++
	loc := b.Province
	if loc == "" {
		loc = "unknown"
	}
	s.ByLocation[loc]++
}
