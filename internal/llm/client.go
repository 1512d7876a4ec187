// Package llm provides the Anthropic Messages API client the walkers reason
// through.
package llm

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

	"github.com/bretstarr2024/The-Long-Walk-sub000/internal/cognition"
)

const (
	defaultURL = "https://api.anthropic.com/v1/messages"
	apiVersion = "2023-06-01"
)

// Config holds API settings. The key normally comes from the environment.
type Config struct {
	APIKey    string        `yaml:"-"`
	URL       string        `yaml:"url"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	MaxPerMin int           `yaml:"max_per_min"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the standard API settings without a key.
func DefaultConfig() Config {
	return Config{
		URL:       defaultURL,
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 300,
		MaxPerMin: 20, // Conservative rate limit
		Timeout:   30 * time.Second,
	}
}

// Client wraps the Anthropic Messages API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger

	// Rate limiting: max calls per minute.
	mu        sync.Mutex
	callCount int
	resetAt   time.Time
}

// NewClient creates a new API client.
// Returns nil if the key is empty (reasoning falls back to local heuristics).
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.APIKey == "" {
		return nil
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.MaxPerMin <= 0 {
		cfg.MaxPerMin = 20
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

// Enabled returns true if the client has a valid API key.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.APIKey != ""
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// request is the API request body.
type request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

// response is the API response body.
type response struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends a prompt and returns the response text. Rate limiting and
// transport failures wrap cognition.ErrServiceUnavailable.
func (c *Client) Complete(ctx context.Context, system, userPrompt string, maxTokens int) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("llm: client not configured: %w", cognition.ErrServiceUnavailable)
	}

	// Rate limiting.
	c.mu.Lock()
	now := time.Now()
	if now.After(c.resetAt) {
		c.callCount = 0
		c.resetAt = now.Add(time.Minute)
	}
	if c.callCount >= c.cfg.MaxPerMin {
		c.mu.Unlock()
		return "", fmt.Errorf("llm: rate limit exceeded (%d calls/min): %w", c.cfg.MaxPerMin, cognition.ErrServiceUnavailable)
	}
	c.callCount++
	c.mu.Unlock()

	req := request{
		Model:     c.cfg.Model,
		MaxTokens: maxTokens,
		System:    system,
		Messages: []Message{
			{Role: "user", Content: userPrompt},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("llm: API call: %v: %w", err, cognition.ErrServiceUnavailable)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("llm: API error %d: %s: %w", resp.StatusCode, string(respBody), cognition.ErrServiceUnavailable)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("llm: API error %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp response
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("llm: unmarshal response: %w", err)
	}

	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("llm: empty response")
	}

	c.log.Debug("llm call",
		"model", c.cfg.Model,
		"input_tokens", apiResp.Usage.InputTokens,
		"output_tokens", apiResp.Usage.OutputTokens,
	)

	return apiResp.Content[0].Text, nil
}
