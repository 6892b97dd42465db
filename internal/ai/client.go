// Package ai provides text generation through an OpenAI-compatible
// chat-completions endpoint, with deterministic fallbacks when no API key is
// configured so the rest of the system works offline.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/bioinfoflow/backend/internal/infrastructure/config"
	"github.com/bioinfoflow/backend/internal/infrastructure/logging"
)

// Generator produces model responses for a prompt.
type Generator interface {
	// Generate returns a free-text response.
	Generate(ctx context.Context, prompt string) (string, error)
	// GenerateStructured returns a response that parses as JSON, retrying a
	// bounded number of times when the model returns malformed output.
	GenerateStructured(ctx context.Context, prompt string) (string, error)
}

const structuredMaxRetries = 3

// Client talks to an OpenAI-compatible API. A zero API key switches the
// client into fallback mode.
type Client struct {
	http   *resty.Client
	cfg    config.AIConfig
	logger *logging.Logger
}

// New creates a client from configuration.
func New(cfg config.AIConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 15 * time.Second
	retryClient.Logger = nil

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTransport(retryClient.HTTPClient.Transport)

	return &Client{http: httpClient, cfg: cfg, logger: logger}
}

// Configured reports whether a real endpoint is available.
func (c *Client) Configured() bool {
	return c.cfg.APIKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate returns a free-text model response, or a canned fallback when the
// client is unconfigured or the call fails.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if !c.Configured() {
		return fallbackResponse(prompt), nil
	}

	text, err := c.complete(ctx, prompt)
	if err != nil {
		c.logger.Error("chat completion failed", zap.Error(err))
		return fallbackResponse(prompt), nil
	}
	return text, nil
}

// GenerateStructured returns a JSON response. Model replies wrapped in
// markdown fences are unwrapped; replies that still fail to parse are
// retried up to structuredMaxRetries times.
func (c *Client) GenerateStructured(ctx context.Context, prompt string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("ai client not configured")
	}

	var lastErr error
	for attempt := 0; attempt < structuredMaxRetries; attempt++ {
		text, err := c.complete(ctx, prompt)
		if err != nil {
			lastErr = err
			continue
		}

		text = stripFences(text)
		var probe interface{}
		if err := sonic.UnmarshalString(text, &probe); err != nil {
			lastErr = fmt.Errorf("response is not valid JSON: %w", err)
			c.logger.Warn("structured response parse failed, retrying",
				zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		return text, nil
	}
	return "", fmt.Errorf("structured generation failed after %d attempts: %w", structuredMaxRetries, lastErr)
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	if resp.IsError() {
		if out.Error != nil {
			return "", fmt.Errorf("chat completion: %s", out.Error.Message)
		}
		return "", fmt.Errorf("chat completion: status %d", resp.StatusCode())
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices")
	}
	return out.Choices[0].Message.Content, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// fallbackResponse keeps the assistant usable without an API key.
func fallbackResponse(prompt string) string {
	lower := strings.ToLower(prompt)
	switch {
	case strings.Contains(lower, "fastq"):
		return "For FASTQ inputs, start with quality control (FastQC), then trim adapters " +
			"(Trim Galore or fastp) before alignment with BWA or STAR."
	case strings.Contains(lower, "workflow"):
		return "I can help plan an analysis workflow. Describe your goal and the files you " +
			"have, and I will propose concrete steps."
	default:
		return "The AI service is not configured, so this is a canned reply. Set OPENAI_API_KEY " +
			"to enable real responses."
	}
}
