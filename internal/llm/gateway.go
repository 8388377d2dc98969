// Package llm is the request/response wrapper around a text-completion
// provider. It is Anthropic- and OpenAI-shaped, selected by base URL, and
// owns timeout/retry/rate-limit policy plus structured-output decoding.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"
)

// Gateway is the single operation the core consumes: given a model id, a
// prompt, and a max-output-token budget, return text and token counts.
type Gateway interface {
	Complete(ctx context.Context, model, prompt string, maxTokens int) (Completion, error)
}

// Completion is the gateway's response to one Complete call.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Option configures a Client.
type Option func(*Client)

// WithRetryAttempts overrides the bounded attempt count, the first attempt
// included (default 3).
func WithRetryAttempts(n uint) Option {
	return func(c *Client) { c.retryAttempts = n }
}

// WithTimeout overrides the per-call wall-clock deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		transport := c.httpClient.Transport
		c.httpClient = &http.Client{Timeout: timeout, Transport: transport}
	}
}

// WithRateLimit overrides the requests-per-minute / burst limiter.
func WithRateLimit(requestsPerMinute int, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst)
	}
}

// WithAPIConfig sets the base URL and auto-detects the provider shape from it.
func WithAPIConfig(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
		if strings.Contains(baseURL, "openai") {
			c.apiType = "openai"
		} else {
			c.apiType = "anthropic"
		}
	}
}

// WithLogger overrides the client's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client is the default Gateway implementation: a hand-rolled HTTP client
// against an Anthropic- or OpenAI-shaped completion endpoint.
type Client struct {
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	retryAttempts uint
	limiter       *rate.Limiter
	apiType       string
	logger        *slog.Logger
}

// NewClient returns a Client defaulting to the Anthropic API shape with a
// ~5 minute timeout, sized for chapter-length responses (§4.2).
func NewClient(apiKey string, opts ...Option) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	c := &Client{
		apiKey:        apiKey,
		baseURL:       "https://api.anthropic.com/v1",
		httpClient:    &http.Client{Timeout: 5 * time.Minute, Transport: transport},
		retryAttempts: 3,
		limiter:       rate.NewLimiter(rate.Limit(1), 1),
		apiType:       "anthropic",
		logger:        slog.Default().With("component", "llm_gateway"),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger.Debug("llm gateway initialized",
		"api_type", c.apiType,
		"base_url", c.baseURL,
		"retry_attempts", c.retryAttempts)

	return c
}

// Complete sends prompt to model, making up to retryAttempts attempts in
// total with exponential backoff from one second. Every failure is retried
// the same way, transport errors and non-200 responses alike; a
// server-provided retry delay is not read.
func (c *Client) Complete(ctx context.Context, model, prompt string, maxTokens int) (Completion, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Completion{}, fmt.Errorf("rate limit wait: %w", err)
	}

	var result Completion
	err := retry.Do(
		func() error {
			resp, err := c.doRequest(ctx, model, prompt, maxTokens)
			if err != nil {
				return err
			}
			result = resp
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("llm request retrying", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return Completion{}, fmt.Errorf("llm gateway: %w", err)
	}
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, model, prompt string, maxTokens int) (Completion, error) {
	if c.apiType == "openai" {
		return c.doOpenAIRequest(ctx, model, prompt, maxTokens)
	}
	return c.doAnthropicRequest(ctx, model, prompt, maxTokens)
}

func (c *Client) doOpenAIRequest(ctx context.Context, model, prompt string, maxTokens int) (Completion, error) {
	requestBody := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens": maxTokens,
	}
	body, err := json.Marshal(requestBody)
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Completion{}, fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Completion{}, fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, fmt.Errorf("no choices in response")
	}

	return Completion{
		Text:         parsed.Choices[0].Message.Content,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func (c *Client) doAnthropicRequest(ctx context.Context, model, prompt string, maxTokens int) (Completion, error) {
	requestBody := map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"max_tokens": maxTokens,
	}
	body, err := json.Marshal(requestBody)
	if err != nil {
		return Completion{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return Completion{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Completion{}, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Completion{}, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Completion{}, fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return Completion{}, fmt.Errorf("parsing response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return Completion{}, fmt.Errorf("no content blocks in response")
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		text.WriteString(block.Text)
	}

	return Completion{
		Text:         text.String(),
		InputTokens:  parsed.Usage.InputTokens,
		OutputTokens: parsed.Usage.OutputTokens,
	}, nil
}
