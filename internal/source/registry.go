package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/discovery-swarm/internal/geo"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

const registryRefPrefix = "registry:"

// GovernmentRegistry queries a business registry API. Registry records are
// authoritative: they carry the registration number and legal name.
type GovernmentRegistry struct {
	c *client
}

type registryCompany struct {
	RegistrationNumber string `json:"registration_number"`
	LegalName          string `json:"legal_name"`
	OperatingName      string `json:"operating_name"`
	Jurisdiction       string `json:"jurisdiction"`
	Status             string `json:"status"`
	IndustryCode       string `json:"industry_code"`
	Address            string `json:"address"`
	City               string `json:"city"`
	Email              string `json:"email"`
	Phone              string `json:"phone"`
	Website            string `json:"website"`
	SelfIdentified     bool   `json:"self_identified"`
	Description        string `json:"description"`
}

type registrySearchResponse struct {
	Companies []registryCompany `json:"companies"`
}

// NewGovernmentRegistry creates a registry adapter.
func NewGovernmentRegistry(cfg ClientConfig, logger *slog.Logger) *GovernmentRegistry {
	return &GovernmentRegistry{c: newClient(cfg, logger)}
}

// Type implements Adapter.
func (g *GovernmentRegistry) Type() models.SourceType { return models.SourceGovRegistry }

// Search implements Adapter. Dissolved companies are skipped.
func (g *GovernmentRegistry) Search(ctx context.Context, query string, opts Options) ([]models.CandidateRaw, error) {
	q := url.Values{}
	q.Set("q", query)
	if code := geo.ProvinceCode(opts.Location); code != "" {
		q.Set("jurisdiction", code)
	}

	var resp registrySearchResponse
	if err := g.c.getJSON(ctx, "/companies/search", q, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, Permanent(fmt.Errorf("registry search endpoint not found"))
		}
		return nil, fmt.Errorf("registry search %q: %w", query, err)
	}

	now := time.Now().UTC()
	limit := limitOrDefault(opts.Limit)
	out := make([]models.CandidateRaw, 0, len(resp.Companies))
	for i := range resp.Companies {
		if len(out) >= limit {
			break
		}
		if resp.Companies[i].Status == "dissolved" {
			continue
		}
		out = append(out, registryToRaw(&resp.Companies[i], now))
	}
	return out, nil
}

// Extract implements Adapter; ref is "registry:<registration number>" or the
// bare number.
func (g *GovernmentRegistry) Extract(ctx context.Context, ref string) (*models.CandidateRaw, error) {
	number := strings.TrimPrefix(ref, registryRefPrefix)
	var company registryCompany
	if err := g.c.getJSON(ctx, "/companies/"+url.PathEscape(number), nil, &company); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry record %s: %w", number, err)
	}
	if company.RegistrationNumber == "" {
		company.RegistrationNumber = number
	}
	raw := registryToRaw(&company, time.Now().UTC())
	return &raw, nil
}

func registryToRaw(c *registryCompany, now time.Time) models.CandidateRaw {
	name := c.OperatingName
	if name == "" {
		name = c.LegalName
	}
	raw := models.CandidateRaw{
		SourceType:         models.SourceGovRegistry,
		SourceRef:          registryRefPrefix + c.RegistrationNumber,
		Name:               name,
		LegalName:          c.LegalName,
		Description:        c.Description,
		URL:                c.Website,
		Address:            c.Address,
		City:               c.City,
		Province:           c.Jurisdiction,
		Country:            "CA",
		IndustryCode:       c.IndustryCode,
		RegistrationNumber: c.RegistrationNumber,
		SelfIdentified:     c.SelfIdentified,
		ObservedAt:         now,
	}
	if c.Email != "" {
		raw.Emails = []string{c.Email}
	}
	if c.Phone != "" {
		raw.Phones = []string{c.Phone}
	}
	return raw
}
