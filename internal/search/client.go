// Package search provides the DuckDuckGo Instant Answer client used to
// ground expert answers. Failures here never propagate past the tool
// bridge: callers treat any error as "no search result".
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	defaultBaseURL = "https://api.duckduckgo.com"
	defaultTimeout = 15 * time.Second
)

// RelatedTopic is one linked entry in an instant answer.
type RelatedTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

// InstantAnswer is the structured result of one instant-answer lookup.
type InstantAnswer struct {
	Heading       string         `json:"Heading"`
	Abstract      string         `json:"Abstract"`
	AbstractText  string         `json:"AbstractText"`
	Answer        string         `json:"Answer"`
	Results       []RelatedTopic `json:"Results"`
	RelatedTopics []RelatedTopic `json:"RelatedTopics"`
}

// Client calls the DuckDuckGo Instant Answer API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client (useful for testing).
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(cl *Client) {
		cl.baseURL = u
	}
}

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates an Instant Answer client with a per-call timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InstantAnswer looks up the query and returns the structured answer.
func (c *Client) InstantAnswer(ctx context.Context, query string) (*InstantAnswer, error) {
	u := fmt.Sprintf("%s/?q=%s&format=json&no_html=1", c.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("duckduckgo status %d", resp.StatusCode)
	}

	var answer InstantAnswer
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return nil, fmt.Errorf("parse duckduckgo response: %w", err)
	}

	c.logger.Debug("instant answer fetched", "query", query, "heading", answer.Heading)
	return &answer, nil
}
