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

// WebSearch queries a web search backend and fetches result pages.
type WebSearch struct {
	c *client
}

type webResult struct {
	Title   string   `json:"title"`
	URL     string   `json:"url"`
	Snippet string   `json:"snippet"`
	Emails  []string `json:"emails"`
	Phones  []string `json:"phones"`
	Address string   `json:"address"`
}

type webSearchResponse struct {
	Results []webResult `json:"results"`
}

type webPage struct {
	webResult
	Text     string            `json:"text"`
	City     string            `json:"city"`
	Province string            `json:"province"`
	Social   map[string]string `json:"social"`
}

// NewWebSearch creates a web search adapter.
func NewWebSearch(cfg ClientConfig, logger *slog.Logger) *WebSearch {
	return &WebSearch{c: newClient(cfg, logger)}
}

// Type implements Adapter.
func (w *WebSearch) Type() models.SourceType { return models.SourceWeb }

// Search implements Adapter. Results carry only title and snippet and are
// marked Shallow when they lack any contact detail.
func (w *WebSearch) Search(ctx context.Context, query string, opts Options) ([]models.CandidateRaw, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limitOrDefault(opts.Limit)))

	var resp webSearchResponse
	if err := w.c.getJSON(ctx, "/search", q, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, Permanent(fmt.Errorf("web search endpoint not found"))
		}
		return nil, fmt.Errorf("web search %q: %w", query, err)
	}

	now := time.Now().UTC()
	out := make([]models.CandidateRaw, 0, len(resp.Results))
	for i := range resp.Results {
		r := resp.Results[i]
		out = append(out, models.CandidateRaw{
			SourceType:  models.SourceWeb,
			SourceRef:   r.URL,
			Name:        r.Title,
			Description: r.Snippet,
			URL:         r.URL,
			Emails:      r.Emails,
			Phones:      r.Phones,
			Address:     r.Address,
			Shallow:     len(r.Emails) == 0 && len(r.Phones) == 0 && r.Address == "",
			ObservedAt:  now,
		})
	}
	return out, nil
}

// Extract implements Adapter by fetching the page behind a result URL.
func (w *WebSearch) Extract(ctx context.Context, ref string) (*models.CandidateRaw, error) {
	q := url.Values{}
	q.Set("url", ref)

	var page webPage
	if err := w.c.getJSON(ctx, "/page", q, &page); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("web page %s: %w", ref, err)
	}
	return &models.CandidateRaw{
		SourceType:    models.SourceWeb,
		SourceRef:     ref,
		Name:          page.Title,
		Description:   page.Snippet,
		Text:          page.Text,
		URL:           ref,
		Emails:        page.Emails,
		Phones:        page.Phones,
		Address:       page.Address,
		City:          page.City,
		Province:      page.Province,
		SocialHandles: page.Social,
		ObservedAt:    time.Now().UTC(),
	}, nil
}
