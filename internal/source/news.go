package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

const articleRefPrefix = "article:"

// Mention is a business named in an unstructured article.
type Mention struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Website  string `json:"website,omitempty"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Context  string `json:"context,omitempty"`
}

// MentionExtractor finds business mentions in article text.
type MentionExtractor interface {
	ExtractMentions(ctx context.Context, title, body string) ([]Mention, error)
}

// News queries a news feed. Each business mentioned in an article becomes one
// raw record whose ref is "article:<id>#<index>", or "<article url>#<index>"
// when the feed gives no id.
type News struct {
	c        *client
	mentions MentionExtractor
	logger   *slog.Logger
}

type newsArticle struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	Mentions    []Mention `json:"mentions"`
}

type newsSearchResponse struct {
	Articles []newsArticle `json:"articles"`
}

// NewNews creates a news adapter. mentions may be nil, in which case articles
// without structured mentions yield no records.
func NewNews(cfg ClientConfig, mentions MentionExtractor, logger *slog.Logger) *News {
	if logger == nil {
		logger = slog.Default()
	}
	return &News{c: newClient(cfg, logger), mentions: mentions, logger: logger}
}

// Type implements Adapter.
func (n *News) Type() models.SourceType { return models.SourceNews }

// Search implements Adapter.
func (n *News) Search(ctx context.Context, query string, opts Options) ([]models.CandidateRaw, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limitOrDefault(opts.Limit)))

	var resp newsSearchResponse
	if err := n.c.getJSON(ctx, "/articles", q, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, Permanent(fmt.Errorf("news endpoint not found"))
		}
		return nil, fmt.Errorf("news search %q: %w", query, err)
	}
	var out []models.CandidateRaw
	for i := range resp.Articles {
		raws, err := n.articleToRaw(ctx, &resp.Articles[i])
		if err != nil {
			return nil, fmt.Errorf("news search %q: %w", query, err)
		}
		out = append(out, raws...)
	}
	return out, nil
}

// Extract implements Adapter. It accepts the refs Search produces.
func (n *News) Extract(ctx context.Context, ref string) (*models.CandidateRaw, error) {
	base, idx := splitMentionRef(ref)
	a, err := n.article(ctx, base)
	if err != nil || a == nil {
		return nil, err
	}
	raws, err := n.articleToRaw(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("news article %s: %w", base, err)
	}
	if idx < 0 || idx >= len(raws) {
		return nil, nil
	}
	return &raws[idx], nil
}

// article fetches by id for "article:" refs and looks up by URL otherwise.
func (n *News) article(ctx context.Context, base string) (*newsArticle, error) {
	if id, ok := strings.CutPrefix(base, articleRefPrefix); ok {
		var a newsArticle
		if err := n.c.getJSON(ctx, "/articles/"+url.PathEscape(id), nil, &a); err != nil {
			if errors.Is(err, errNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("news article %s: %w", id, err)
		}
		if a.ID == "" {
			a.ID = id
		}
		return &a, nil
	}

	q := url.Values{}
	q.Set("url", base)
	var resp newsSearchResponse
	if err := n.c.getJSON(ctx, "/articles", q, &resp); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("news article %s: %w", base, err)
	}
	for i := range resp.Articles {
		if resp.Articles[i].URL == base {
			return &resp.Articles[i], nil
		}
	}
	return nil, nil
}

func articleRef(a *newsArticle) string {
	if a.ID != "" {
		return articleRefPrefix + a.ID
	}
	return a.URL
}

// articleToRaw turns each mention into a raw record. A transient extractor
// failure is returned so the call is retried; any other failure skips the
// article.
func (n *News) articleToRaw(ctx context.Context, a *newsArticle) ([]models.CandidateRaw, error) {
	mentions := a.Mentions
	if len(mentions) == 0 && n.mentions != nil && a.Body != "" {
		extracted, err := n.mentions.ExtractMentions(ctx, a.Title, a.Body)
		switch {
		case err == nil:
			mentions = extracted
		case IsTransient(err) || ctx.Err() != nil:
			return nil, fmt.Errorf("mention extraction for %s: %w", articleRef(a), err)
		default:
			n.logger.Warn("news: mention extraction failed, skipping article", "url", a.URL, "error", err)
			return nil, nil
		}
	}
	observed := a.PublishedAt
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	ref := articleRef(a)
	out := make([]models.CandidateRaw, 0, len(mentions))
	for i := range mentions {
		m := mentions[i]
		raw := models.CandidateRaw{
			SourceType:  models.SourceNews,
			SourceRef:   ref + "#" + strconv.Itoa(i),
			Name:        m.Name,
			Description: m.Context,
			URL:         m.Website,
			Province:    m.Location,
			ObservedAt:  observed,
		}
		if m.Email != "" {
			raw.Emails = []string{m.Email}
		}
		if m.Phone != "" {
			raw.Phones = []string{m.Phone}
		}
		out = append(out, raw)
	}
	return out, nil
}

func splitMentionRef(ref string) (string, int) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '#' {
			n, err := strconv.Atoi(ref[i+1:])
			if err != nil {
				return ref, 0
			}
			return ref[:i], n
		}
	}
	return ref, 0
}
