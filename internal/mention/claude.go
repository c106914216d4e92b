// Package mention finds business mentions in unstructured article text using Claude.
package mention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ajitpratap0/discovery-swarm/internal/source"
	"github.com/ajitpratap0/discovery-swarm/pkg/xmlutil"
)

// maxBodyRunes bounds how much article text is sent per request.
const maxBodyRunes = 12000

// mentionPromptTemplate asks for businesses named in an article. Article content
// is injected inside XML tags to prevent prompt injection.
const mentionPromptTemplate = `You identify businesses named in a news article.

For each business the article names, provide:
- name: the business name exactly as written
- location: city and/or province if stated, else ""
- website: if stated, else ""
- email: if stated, else ""
- phone: if stated, else ""
- context: one sentence from the article describing the business

Only include organisations that operate as businesses. Do not guess values that the
article does not state. Return a JSON array; return [] if there are none.

%s

%s

Businesses as JSON array:`

// ClaudeExtractor implements source.MentionExtractor with the Claude API.
type ClaudeExtractor struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

// NewClaudeExtractor creates an extractor. Extra request options (base URL,
// retries) are passed through to the SDK client.
func NewClaudeExtractor(apiKey, model string, logger *slog.Logger, opts ...option.RequestOption) *ClaudeExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	c := anthropic.NewClient(opts...)
	return &ClaudeExtractor{
		client: &c,
		model:  model,
		logger: logger,
	}
}

var _ source.MentionExtractor = (*ClaudeExtractor)(nil)

// ExtractMentions sends the article to Claude and parses the JSON answer.
func (e *ClaudeExtractor) ExtractMentions(ctx context.Context, title, body string) ([]source.Mention, error) {
	prompt := fmt.Sprintf(mentionPromptTemplate,
		xmlutil.Element("title", title, 0),
		xmlutil.Element("article", body, maxBodyRunes))

	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(e.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(prompt),
			),
		},
		System: []anthropic.TextBlockParam{
			{Text: "You are a precise information extraction system. Output only valid JSON."},
		},
	})
	if err != nil {
		return nil, classifyError(fmt.Errorf("calling Claude API: %w", err))
	}

	var responseText string
	for i := range resp.Content {
		if resp.Content[i].Type == "text" {
			responseText = resp.Content[i].Text
			break
		}
	}
	if responseText == "" {
		return nil, fmt.Errorf("empty response from Claude")
	}

	e.logger.Debug("mention extraction response", "response", responseText)

	mentions, err := parseMentions(responseText)
	if err != nil {
		return nil, err
	}
	e.logger.Info("extracted business mentions", "count", len(mentions))
	return mentions, nil
}

// classifyError marks rate limits, overload, server errors and network
// failures transient, and other API rejections permanent. Context errors pass
// through unmarked.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError {
			return source.Transient(err)
		}
		return source.Permanent(err)
	}
	return source.Transient(err)
}

// parseMentions accepts a bare JSON array or one wrapped in a code fence, and
// drops entries without a name.
func parseMentions(text string) ([]source.Mention, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var raw []source.Mention
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("parsing mention response: %w (raw: %s)", err, text)
	}
	out := make([]source.Mention, 0, len(raw))
	for i := range raw {
		raw[i].Name = strings.TrimSpace(raw[i].Name)
		if raw[i].Name == "" {
			continue
		}
		out = append(out, raw[i])
	}
	return out, nil
}
