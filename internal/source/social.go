package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

// SocialMedia queries business profiles on social platforms.
type SocialMedia struct {
	c *client
}

type socialProfile struct {
	Handle      string `json:"handle"`
	Platform    string `json:"platform"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
	Website     string `json:"website"`
	Location    string `json:"location"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Category    string `json:"category"`
}

type socialSearchResponse struct {
	Profiles []socialProfile `json:"profiles"`
}

// NewSocialMedia creates a social media adapter.
func NewSocialMedia(cfg ClientConfig, logger *slog.Logger) *SocialMedia {
	return &SocialMedia{c: newClient(cfg, logger)}
}

// Type implements Adapter.
func (s *SocialMedia) Type() models.SourceType { return models.SourceSocial }

// Search implements Adapter.
func (s *SocialMedia) Search(ctx context.Context, query string, opts Options) ([]models.CandidateRaw, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limitOrDefault(opts.Limit)))

	var resp socialSearchResponse
	if err := s.c.getJSON(ctx, "/profiles/search", q, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, Permanent(fmt.Errorf("profile search endpoint not found"))
		}
		return nil, fmt.Errorf("social search %q: %w", query, err)
	}
	now := time.Now().UTC()
	out := make([]models.CandidateRaw, 0, len(resp.Profiles))
	for i := range resp.Profiles {
		out = append(out, profileToRaw(&resp.Profiles[i], now))
	}
	return out, nil
}

// Extract implements Adapter; ref is "platform/handle".
func (s *SocialMedia) Extract(ctx context.Context, ref string) (*models.CandidateRaw, error) {
	var p socialProfile
	if err := s.c.getJSON(ctx, "/profiles/"+ref, nil, &p); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("social profile %s: %w", ref, err)
	}
	raw := profileToRaw(&p, time.Now().UTC())
	return &raw, nil
}

func profileToRaw(p *socialProfile, now time.Time) models.CandidateRaw {
	raw := models.CandidateRaw{
		SourceType:    models.SourceSocial,
		SourceRef:     p.Platform + "/" + p.Handle,
		Name:          p.DisplayName,
		Description:   p.Bio,
		URL:           p.Website,
		Province:      p.Location,
		SocialHandles: map[string]string{p.Platform: p.Handle},
		ObservedAt:    now,
	}
	if p.Category != "" {
		raw.Keywords = []string{p.Category}
	}
	if p.Email != "" {
		raw.Emails = []string{p.Email}
	}
	if p.Phone != "" {
		raw.Phones = []string{p.Phone}
	}
	return raw
}
