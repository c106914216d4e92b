package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

const memberRefPrefix = "member:"

// IndustryDirectory queries industry association member directories.
type IndustryDirectory struct {
	c *client
}

type directoryMember struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Association string `json:"association"`
	Website     string `json:"website"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	City        string `json:"city"`
	Province    string `json:"province"`
	NAICS       string `json:"naics"`
	Profile     string `json:"profile"`
}

type directorySearchResponse struct {
	Members []directoryMember `json:"members"`
}

// NewIndustryDirectory creates an industry association directory adapter.
func NewIndustryDirectory(cfg ClientConfig, logger *slog.Logger) *IndustryDirectory {
	return &IndustryDirectory{c: newClient(cfg, logger)}
}

// Type implements Adapter.
func (d *IndustryDirectory) Type() models.SourceType { return models.SourceIndustryAssoc }

// Search implements Adapter.
func (d *IndustryDirectory) Search(ctx context.Context, query string, opts Options) ([]models.CandidateRaw, error) {
	q := url.Values{}
	q.Set("q", query)
	if opts.Industry != "" {
		q.Set("industry", opts.Industry)
	}

	var resp directorySearchResponse
	if err := d.c.getJSON(ctx, "/members", q, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, Permanent(fmt.Errorf("member directory endpoint not found"))
		}
		return nil, fmt.Errorf("directory search %q: %w", query, err)
	}
	now := time.Now().UTC()
	limit := limitOrDefault(opts.Limit)
	out := make([]models.CandidateRaw, 0, len(resp.Members))
	for i := range resp.Members {
		if len(out) >= limit {
			break
		}
		out = append(out, memberToRaw(&resp.Members[i], now))
	}
	return out, nil
}

// Extract implements Adapter; ref is "member:<id>" or the bare member id.
func (d *IndustryDirectory) Extract(ctx context.Context, ref string) (*models.CandidateRaw, error) {
	id := strings.TrimPrefix(ref, memberRefPrefix)
	var m directoryMember
	if err := d.c.getJSON(ctx, "/members/"+url.PathEscape(id), nil, &m); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("directory member %s: %w", id, err)
	}
	if m.ID == "" {
		m.ID = id
	}
	raw := memberToRaw(&m, time.Now().UTC())
	return &raw, nil
}

func memberToRaw(m *directoryMember, now time.Time) models.CandidateRaw {
	raw := models.CandidateRaw{
		SourceType:   models.SourceIndustryAssoc,
		SourceRef:    memberRefPrefix + m.ID,
		Name:         m.Name,
		Description:  m.Profile,
		URL:          m.Website,
		Address:      m.Address,
		City:         m.City,
		Province:     m.Province,
		Country:      "CA",
		IndustryCode: m.NAICS,
		ObservedAt:   now,
	}
	if m.Association != "" {
		raw.Keywords = []string{m.Association}
	}
	if m.Email != "" {
		raw.Emails = []string{m.Email}
	}
	if m.Phone != "" {
		raw.Phones = []string{m.Phone}
	}
	return raw
}
