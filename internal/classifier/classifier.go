package classifier

import (
	"fmt"
	"log/slog"

	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

// Result is the outcome of classifying one business.
type Result struct {
	EntityType models.EntityType `json:"entity_type"`
	Confidence int               `json:"confidence"`
}

// Classifier assigns entity type and confidence from the full contributing evidence.
type Classifier interface {
	Classify(b *models.DiscoveredBusiness, evidence []models.ProvenanceEntry) Result
}

// Policy holds the scoring constants.
type Policy struct {
	BaseConfidence map[models.SourceType]int `mapstructure:"base_confidence"`
	// CorroborationBonus applies once at least two distinct source types contributed.
	CorroborationBonus int `mapstructure:"corroboration_bonus"`
	// PerSourceBonus applies for each distinct source type beyond two.
	PerSourceBonus int `mapstructure:"per_source_bonus"`
	MaxBonus       int `mapstructure:"max_bonus"`
}

// DefaultPolicy returns the standard weights.
func DefaultPolicy() Policy {
	return Policy{
		BaseConfidence: map[models.SourceType]int{
			models.SourceGovRegistry:   90,
			models.SourceIndustryAssoc: 80,
			models.SourceNews:          65,
			models.SourceWeb:           50,
			models.SourceSocial:        45,
		},
		CorroborationBonus: 10,
		PerSourceBonus:     5,
		MaxBonus:           20,
	}
}

// Validate checks that all weights are within range.
func (p Policy) Validate() error {
	for st, v := range p.BaseConfidence {
		if !st.IsValid() {
			return fmt.Errorf("scoring.base_confidence: unknown source type %q", st)
		}
		if v < 0 || v > 100 {
			return fmt.Errorf("scoring.base_confidence.%s must be between 0 and 100, got %d", st, v)
		}
	}
	if p.CorroborationBonus < 0 || p.PerSourceBonus < 0 || p.MaxBonus < 0 {
		return fmt.Errorf("scoring bonuses must not be negative")
	}
	return nil
}

// ScoringClassifier implements Classifier with a Policy.
type ScoringClassifier struct {
	policy Policy
	logger *slog.Logger
}

// NewClassifier creates a classifier. Source types missing from the policy's
// base table score 0.
func NewClassifier(policy Policy, logger *slog.Logger) *ScoringClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScoringClassifier{policy: policy, logger: logger}
}

// Classify recomputes type and confidence from scratch. Entity type rules,
// first match wins: indigenous evidence, then registry or compliance-program
// evidence, then potential partner.
func (c *ScoringClassifier) Classify(b *models.DiscoveredBusiness, evidence []models.ProvenanceEntry) Result {
	distinct := make(map[models.SourceType]struct{}, len(models.ValidSourceTypes))
	base := 0
	indigenous, compliance := false, false

	for i := range evidence {
		e := &evidence[i]
		distinct[e.SourceType] = struct{}{}
		if v := c.policy.BaseConfidence[e.SourceType]; v > base {
			base = v
		}
		if e.SourceType == models.SourceGovRegistry {
			compliance = true
		}
		for _, f := range e.Flags {
			switch f {
			case models.FlagIndigenousTerm:
				indigenous = true
			case models.FlagComplianceProgram, models.FlagGovRegistrySource:
				compliance = true
			}
		}
	}

	res := Result{EntityType: models.EntityPotentialPartner}
	switch {
	case indigenous:
		res.EntityType = models.EntityIndigenousOwned
	case compliance:
		res.EntityType = models.EntityComplianceReady
	}
	res.Confidence = min(100, base+c.bonus(len(distinct)))

	id := ""
	if b != nil {
		id = b.ID
	}
	c.logger.Debug("classified business", "id", id, "type", res.EntityType,
		"confidence", res.Confidence, "sources", len(distinct))
	return res
}

func (c *ScoringClassifier) bonus(distinctSources int) int {
	if distinctSources < 2 {
		return 0
	}
	bonus := c.policy.CorroborationBonus + (distinctSources-2)*c.policy.PerSourceBonus
	return min(bonus, c.policy.MaxBonus)
}
