// Package insight talks to the external AI collaborator that turns a ledger
// digest into an advisory forecast. The payload is opaque to the rest of the
// system: it is rendered to the caller as-is and never feeds back into
// catalog or invoice state.
package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"stokku/backend/internal/domain"
)

// ErrUnavailable signals that the collaborator could not produce a result.
// Callers retry by re-invoking the same request; no partial state is kept.
var ErrUnavailable = errors.New("insight service unavailable")

type Client interface {
	Generate(ctx context.Context, digest string) (*domain.InsightResult, error)
}

// Disabled is used when no API key is configured.
type Disabled struct{}

func (Disabled) Generate(_ context.Context, _ string) (*domain.InsightResult, error) {
	return nil, fmt.Errorf("%w: no API key configured", ErrUnavailable)
}

const (
	defaultAPIURL = "https://api.anthropic.com/v1/messages"
	apiVersion    = "2023-06-01"
	model         = "claude-3-haiku-20240307"
	maxTokens     = 1024
)

type AnthropicClient struct {
	httpClient *resty.Client
	apiURL     string
}

// NewAnthropicClient builds a configured Messages API client. baseURL
// overrides the production endpoint and is meant for tests; pass "" normally.
func NewAnthropicClient(apiKey string, baseURL string) *AnthropicClient {
	apiURL := defaultAPIURL
	if baseURL != "" {
		apiURL = strings.TrimSuffix(baseURL, "/") + "/v1/messages"
	}

	client := resty.New().
		SetHeader("x-api-key", apiKey).
		SetHeader("anthropic-version", apiVersion).
		SetHeader("content-type", "application/json").
		SetTimeout(20 * time.Second)

	return &AnthropicClient{httpClient: client, apiURL: apiURL}
}

type messageRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messageResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

const systemPrompt = `You are an inventory analyst for a small retail business.
You receive a digest of the product catalog and recent invoices.

Respond with ONLY a JSON object of this exact structure:
{
  "summary": "two or three sentence analysis of stock and sales health",
  "predictions": [
    {"product": "product name", "prediction": "expected demand", "urgency": "Low" | "Medium" | "High"}
  ],
  "restocks": [
    {"product": "product name", "qty": suggested integer quantity, "reason": "short reason"}
  ],
  "financial_tip": "one optional actionable tip, or empty string"
}

RULES:
- Urgency must be exactly "Low", "Medium" or "High".
- Recommend restocks only for products at or below their minimum stock, or
  with clearly accelerating sales.
- Keep every free-text field under 300 characters.
- Output valid JSON with no markdown fences and no commentary.`

func (c *AnthropicClient) Generate(ctx context.Context, digest string) (*domain.InsightResult, error) {
	reqBody := messageRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    systemPrompt,
		Messages: []message{
			{Role: "user", Content: digest},
			// Prefill the opening brace to force a bare JSON object.
			{Role: "assistant", Content: "{"},
		},
	}

	var respBody messageResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&respBody).
		Post(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode())
	}
	if len(respBody.Content) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	return parseResult("{" + respBody.Content[0].Text)
}

func parseResult(raw string) (*domain.InsightResult, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var result domain.InsightResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", ErrUnavailable, err)
	}
	if strings.TrimSpace(result.Summary) == "" {
		return nil, fmt.Errorf("%w: payload missing summary", ErrUnavailable)
	}
	result.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
	return &result, nil
}
