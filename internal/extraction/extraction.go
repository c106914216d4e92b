// Package extraction turns raw adapter records into normalized candidate businesses.
package extraction

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ajitpratap0/discovery-swarm/internal/geo"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

var (
	// ErrMalformed marks a raw record that cannot be turned into a candidate.
	ErrMalformed = errors.New("malformed raw record")
	// ErrFiltered marks a record discarded as directory or aggregator noise.
	ErrFiltered = errors.New("not a business")
)

// Error is returned for every rejected record. It wraps ErrMalformed or ErrFiltered.
type Error struct {
	SourceType models.SourceType
	SourceRef  string
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract %s %q: %s: %v", e.SourceType, e.SourceRef, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DefaultIndicatorTerms are self-identification terms that set INDIGENOUS_TERM.
var DefaultIndicatorTerms = []string{
	"indigenous",
	"indigenous-owned",
	"aboriginal",
	"first nation",
	"first nations",
	"métis",
	"inuit",
	"band-owned",
	"anishinaabe",
	"cree",
	"ojibwe",
	"mohawk",
	"haudenosaunee",
	"mi'kmaq",
	"dene",
}

// DefaultComplianceTerms set COMPLIANCE_PROGRAM when mentioned.
var DefaultComplianceTerms = []string{
	"iso 9001",
	"iso 14001",
	"iso 45001",
	"cor certified",
	"certificate of recognition",
	"supplier diversity",
	"certified supplier",
	"security clearance",
	"ccab certified",
	"progressive aboriginal relations",
	"compliance program",
}

// Config controls term lists and the aggregator denylist.
type Config struct {
	IndicatorTerms    []string `mapstructure:"indicator_terms"`
	ComplianceTerms   []string `mapstructure:"compliance_terms"`
	AggregatorDomains []string `mapstructure:"aggregator_domains"`
	// DefaultCountry is applied when a province resolves but no country was given.
	DefaultCountry string `mapstructure:"default_country"`
}

// DefaultConfig returns the built-in term lists and denylist.
func DefaultConfig() Config {
	return Config{
		IndicatorTerms:    DefaultIndicatorTerms,
		ComplianceTerms:   DefaultComplianceTerms,
		AggregatorDomains: DefaultAggregatorDomains,
		DefaultCountry:    "CA",
	}
}

// Engine is safe for concurrent use; it holds no mutable state after construction.
type Engine struct {
	indicators []string
	compliance []string
	deny       *denylist
	country    string
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine builds an engine. Empty term lists fall back to the defaults.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.IndicatorTerms) == 0 {
		cfg.IndicatorTerms = DefaultIndicatorTerms
	}
	if len(cfg.ComplianceTerms) == 0 {
		cfg.ComplianceTerms = DefaultComplianceTerms
	}
	if cfg.AggregatorDomains == nil {
		cfg.AggregatorDomains = DefaultAggregatorDomains
	}
	return &Engine{
		indicators: normalizePhrases(cfg.IndicatorTerms),
		compliance: normalizePhrases(cfg.ComplianceTerms),
		deny:       newDenylist(cfg.AggregatorDomains),
		country:    strings.ToUpper(cfg.DefaultCountry),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Extract normalizes one raw record. Rejected records return an *Error and a nil
// candidate; Extract never panics.
func (e *Engine) Extract(raw *models.CandidateRaw) (cand *models.CandidateBusiness, err error) {
	if raw == nil {
		return nil, e.reject(&models.CandidateRaw{}, "nil record", ErrMalformed)
	}
	defer func() {
		if r := recover(); r != nil {
			cand = nil
			err = e.reject(raw, fmt.Sprintf("panic: %v", r), ErrMalformed)
		}
	}()

	if !raw.SourceType.IsValid() {
		return nil, e.reject(raw, "unknown source type", ErrMalformed)
	}
	if strings.TrimSpace(raw.SourceRef) == "" {
		return nil, e.reject(raw, "missing source ref", ErrMalformed)
	}
	display := CollapseSpace(raw.Name)
	if display == "" {
		display = CollapseSpace(raw.LegalName)
	}
	if display == "" {
		return nil, e.reject(raw, "missing name", ErrMalformed)
	}

	contact := buildContact(raw)
	address := CollapseSpace(raw.Address)
	codeIndustry := IndustryForCode(raw.IndustryCode)

	if !isLikelyBusiness(contact, address, codeIndustry) &&
		(e.deny.matchesDomain(raw.URL) || e.deny.matchesDomain(raw.SourceRef) || matchesNoiseName(display)) {
		return nil, e.reject(raw, "aggregator or listing page without contact details", ErrFiltered)
	}

	_, suffix := SplitLegalSuffix(display)
	legal := CollapseSpace(raw.LegalName)
	if legal == "" && suffix != "" {
		legal = display
	}

	text := newPhraseIndex(display, raw.Description, raw.Text)
	industry := codeIndustry
	if industry == "" {
		industry = industryFromKeywords(newPhraseIndex(display, raw.Description, raw.Text, strings.Join(raw.Keywords, " . ")))
	}

	observed := raw.ObservedAt
	if observed.IsZero() {
		observed = e.now()
	}

	return &models.CandidateBusiness{
		RawName:            raw.Name,
		DisplayName:        display,
		LegalNameGuess:     legal,
		LegalSuffix:        suffix,
		Location:           e.location(raw, address),
		Address:            address,
		Contact:            contact,
		IndustryGuess:      industry,
		IndicatorFlags:     e.flags(raw, text),
		SourceType:         raw.SourceType,
		SourceRef:          strings.TrimSpace(raw.SourceRef),
		RegistrationNumber: strings.TrimSpace(raw.RegistrationNumber),
		ObservedAt:         observed.UTC(),
	}, nil
}

// isLikelyBusiness is true when the record has at least one concrete business attribute.
func isLikelyBusiness(c models.ContactInfo, address, codeIndustry string) bool {
	return c.HasAny() || address != "" || codeIndustry != ""
}

func (e *Engine) flags(raw *models.CandidateRaw, text phraseIndex) []models.IndicatorFlag {
	var out []models.IndicatorFlag
	if raw.SelfIdentified || containsAny(text, e.indicators) {
		out = append(out, models.FlagIndigenousTerm)
	}
	if containsAny(text, e.compliance) {
		out = append(out, models.FlagComplianceProgram)
	}
	switch raw.SourceType {
	case models.SourceGovRegistry:
		out = append(out, models.FlagGovRegistrySource)
	case models.SourceIndustryAssoc:
		out = append(out, models.FlagAssociationMember)
	case models.SourceNews:
		out = append(out, models.FlagNewsMention)
	}
	return out
}

func containsAny(idx phraseIndex, phrases []string) bool {
	for _, p := range phrases {
		if idx.contains(p) {
			return true
		}
	}
	return false
}

func (e *Engine) location(raw *models.CandidateRaw, address string) models.Location {
	loc := models.Location{
		City:    CollapseSpace(raw.City),
		Country: strings.ToUpper(strings.TrimSpace(raw.Country)),
	}
	loc.Province = geo.ProvinceCode(raw.Province)
	if loc.Province == "" {
		loc.Province = geo.ProvinceCode(address)
	}
	if loc.Province == "" {
		loc.Province = geo.ProvinceCode(raw.City)
	}
	// "Winnipeg, MB" given as a single location string.
	if loc.City == "" && strings.Contains(raw.Province, ",") {
		first := CollapseSpace(strings.SplitN(raw.Province, ",", 2)[0])
		if geo.ProvinceCode(first) == "" {
			loc.City = first
		}
	}
	if loc.Country == "" && loc.Province != "" {
		loc.Country = e.country
	}
	return loc
}

func (e *Engine) reject(raw *models.CandidateRaw, reason string, kind error) error {
	err := &Error{SourceType: raw.SourceType, SourceRef: raw.SourceRef, Reason: reason, Err: kind}
	e.logger.Debug("extraction rejected record",
		"source_type", raw.SourceType, "source_ref", raw.SourceRef, "reason", reason)
	return err
}
