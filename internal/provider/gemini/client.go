package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultTimeout = 90 * time.Second

	// DefaultChunkLimit matches the messaging-platform message size limit.
	// Answers longer than this are split into ordered chunks before they
	// leave this layer.
	DefaultChunkLimit = 4096
)

// defaultSafetySettings are the fixed thresholds applied to every call.
var defaultSafetySettings = []SafetySetting{
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_ONLY_HIGH"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_ONLY_HIGH"},
}

// Client calls the generateContent endpoint. One invocation performs
// exactly one remote call: retry and credential rotation policy belong
// upstream. Per-model circuit breakers stop hammering a model that keeps
// failing server-side.
type Client struct {
	httpClient *http.Client
	baseURL    string
	chunkLimit int
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*generateResponse]
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
func WithBaseURL(url string) Option {
	return func(cl *Client) {
		cl.baseURL = url
	}
}

// WithChunkLimit overrides the transport chunk size.
func WithChunkLimit(n int) Option {
	return func(cl *Client) {
		cl.chunkLimit = n
	}
}

// WithLogger sets a structured logger for the client.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a Gemini client. The per-request timeout on the HTTP
// client is mandatory so a hung call cannot stall a whole committee run.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    defaultBaseURL,
		chunkLimit: DefaultChunkLimit,
		logger:     slog.Default(),
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*generateResponse]),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateContent performs one completion call with the given API key and
// classifies the response into a Result. Transport and HTTP-level failures
// come back as *ClassifiedError so the credential session can file the
// right disposition; semantic outcomes (empty, safety-blocked, tool call,
// text) come back as a Result with a nil error.
func (c *Client) GenerateContent(ctx context.Context, apiKey string, req Request) (*Result, error) {
	cb := c.getOrCreateBreaker(req.Model)

	resp, err := cb.Execute(func() (*generateResponse, error) {
		return c.doRequest(ctx, apiKey, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &ClassifiedError{
				Type:    ErrOverloaded,
				Message: fmt.Sprintf("circuit breaker open for model %s", req.Model),
			}
		}
		return nil, err
	}

	return c.normalize(resp), nil
}

// buildContents assembles the request content list: prior history verbatim
// (user and model turns preserved, tool turns kept for the second round of
// the search protocol, anything else dropped), then one block for the
// current turn.
func buildContents(req Request) []Content {
	contents := make([]Content, 0, len(req.History)+1)
	for _, c := range req.History {
		switch c.Role {
		case RoleUser, RoleModel, RoleTool:
			contents = append(contents, c)
		}
	}
	if len(req.UserParts) > 0 {
		contents = append(contents, Content{Role: RoleUser, Parts: req.UserParts})
	}
	return contents
}

// doRequest performs a single HTTP request and parses the response body.
func (c *Client) doRequest(ctx context.Context, apiKey string, req Request) (*generateResponse, error) {
	wire := generateRequest{
		Contents:         buildContents(req),
		Tools:            req.Tools,
		SafetySettings:   defaultSafetySettings,
		GenerationConfig: req.Generation,
	}
	if req.SystemPrompt != "" {
		wire.SystemInstruction = &Content{Parts: []Part{TextPart(req.SystemPrompt)}}
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ClassifiedError{
			Type:    ErrTimeout,
			Message: err.Error(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ClassifiedError{
			Type:    ErrMalformed,
			Message: fmt.Sprintf("read response body: %v", err),
		}
	}

	var genResp generateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return nil, &ClassifiedError{
			Type:    ErrMalformed,
			Message: fmt.Sprintf("parse response JSON: %v", err),
		}
	}

	return &genResp, nil
}

// normalize classifies a parsed response into a Result.
func (c *Client) normalize(resp *generateResponse) *Result {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		// The block category is logged, never surfaced to the end user.
		c.logger.Warn("response blocked by safety policy", "reason", resp.PromptFeedback.BlockReason)
		return &Result{FinishReason: FinishSafety}
	}

	if len(resp.Candidates) == 0 {
		return &Result{FinishReason: FinishEmpty}
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == "SAFETY" {
		c.logger.Warn("candidate blocked by safety policy")
		return &Result{FinishReason: FinishSafety}
	}

	parts := cand.Content.Parts
	if len(parts) == 0 {
		return &Result{FinishReason: FinishEmpty}
	}

	if parts[0].FunctionCall != nil {
		return &Result{
			ToolCall:     parts[0].FunctionCall,
			FinishReason: FinishStop,
		}
	}

	var text string
	for _, p := range parts {
		text += p.Text
	}
	if text == "" {
		return &Result{FinishReason: FinishEmpty}
	}

	return &Result{
		Text:         text,
		Chunks:       SplitMessage(text, c.chunkLimit),
		FinishReason: FinishStop,
	}
}

// getOrCreateBreaker returns the circuit breaker for the given model,
// creating one if needed. Per-model breakers isolate failures.
func (c *Client) getOrCreateBreaker(model string) *gobreaker.CircuitBreaker[*generateResponse] {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cb, ok := c.breakers[model]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[*generateResponse](gobreaker.Settings{
		Name:        "gemini-" + model,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Info("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Key-specific rejections are not model failures.
			classified, ok := err.(*ClassifiedError)
			if !ok {
				return false
			}
			switch classified.Type {
			case ErrAuth, ErrRateLimit:
				return true
			default:
				return false
			}
		},
	})

	c.breakers[model] = cb
	return cb
}
