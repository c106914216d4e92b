package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single HTTP call to a source.
	DefaultTimeout = 15 * time.Second

	maxErrorBody = 512
)

// errNotFound is returned by getJSON on 404 so Extract can report a missing ref.
var errNotFound = errors.New("not found")

// ClientConfig configures the JSON client shared by the HTTP adapters.
type ClientConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// client is a small JSON-over-HTTP client that classifies failures.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

func newClient(cfg ClientConfig, logger *slog.Logger) *client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// getJSON issues GET baseURL+path?query and decodes the body into out.
func (c *client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		return Transient(fmt.Errorf("calling %s: %w", path, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Transient(fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body))))
	case resp.StatusCode >= 400:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Permanent(fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return Permanent(fmt.Errorf("decoding %s response: %w", path, err))
	}
	c.logger.Debug("source call", "path", path, "status", resp.StatusCode)
	return nil
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 25
	}
	return n
}
