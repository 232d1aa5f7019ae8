// Package classifier provides the LLM-backed conversation classifier and
// theme extractor consumed by the pipeline.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"

	"github.com/feedforward/feedforward/internal/types"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// Config holds classifier construction options.
type Config struct {
	// APIKey for the Anthropic API. Falls back to ANTHROPIC_API_KEY.
	APIKey string

	// Model selects the model for classification and theme extraction.
	Model string

	// Retry configures backoff, circuit breaking, and call concurrency.
	Retry RetryConfig
}

// Client classifies conversations and extracts themes via the Anthropic API.
type Client struct {
	client         *anthropic.Client
	model          string
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
}

// NewClient creates a classifier client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	var circuitBreaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}

	var concurrencySem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	return &Client{
		client:         &client,
		model:          model,
		retry:          retry,
		circuitBreaker: circuitBreaker,
		concurrencySem: concurrencySem,
	}, nil
}

// classificationResponse is the JSON shape the model is asked to return for
// classification.
type classificationResponse struct {
	ProductArea string `json:"product_area"`
	Component   string `json:"component"`
	Relevant    bool   `json:"relevant"`
}

// themeResponse is the JSON shape the model is asked to return for theme
// extraction.
type themeResponse struct {
	ProductArea     string `json:"product_area"`
	Component       string `json:"component"`
	IssueDescriptor string `json:"issue_descriptor"`
}

// Classify fills in the product area and component for a raw conversation.
// Returns (nil, nil) for conversations the model judges irrelevant (spam,
// empty, pure pleasantries), which the pipeline skips without error.
func (c *Client) Classify(ctx context.Context, conv *types.ClassifiedConversation) (*types.ClassifiedConversation, error) {
	prompt := fmt.Sprintf(`Classify this customer support conversation.

Conversation (from %s):
%s

Respond with JSON only: {"product_area": "...", "component": "...", "relevant": true|false}
Set relevant=false for spam, empty messages, or pure pleasantries.`,
		conv.Source, excerptForPrompt(conv.BodyExcerpt))

	text, err := c.callModel(ctx, "classification", prompt, 1024)
	if err != nil {
		return nil, err
	}

	var parsed classificationResponse
	if err := parseJSONResponse(text, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse classification response: %w", err)
	}
	if !parsed.Relevant {
		return nil, nil
	}

	classified := *conv
	classified.ProductArea = parsed.ProductArea
	classified.Component = parsed.Component
	return &classified, nil
}

// ExtractTheme produces the per-conversation theme that feeds signature
// canonicalization.
func (c *Client) ExtractTheme(ctx context.Context, conv *types.ClassifiedConversation) (*types.ExtractedTheme, error) {
	prompt := fmt.Sprintf(`Extract the core issue theme from this classified support conversation.

Product area: %s
Component: %s
Conversation:
%s

Respond with JSON only: {"product_area": "...", "component": "...", "issue_descriptor": "..."}
The issue_descriptor is a short (2-5 word) phrase naming the underlying issue.`,
		conv.ProductArea, conv.Component, excerptForPrompt(conv.BodyExcerpt))

	text, err := c.callModel(ctx, "theme extraction", prompt, 1024)
	if err != nil {
		return nil, err
	}

	var parsed themeResponse
	if err := parseJSONResponse(text, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse theme response: %w", err)
	}

	theme := &types.ExtractedTheme{
		ConversationID:  conv.ID,
		ProductArea:     parsed.ProductArea,
		Component:       parsed.Component,
		IssueDescriptor: parsed.IssueDescriptor,
	}
	if theme.ProductArea == "" {
		theme.ProductArea = conv.ProductArea
	}
	if theme.Component == "" {
		theme.Component = conv.Component
	}
	return theme, nil
}

// callModel makes one LLM call with retry and circuit breaking, returning the
// concatenated text blocks of the response.
func (c *Client) callModel(ctx context.Context, operation, prompt string, maxTokens int64) (string, error) {
	startTime := time.Now()

	var response *anthropic.Message
	err := c.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := c.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(c.model),
			MaxTokens: maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	fmt.Printf("LLM %s call: input=%d tokens, output=%d tokens, duration=%v\n",
		operation, response.Usage.InputTokens, response.Usage.OutputTokens, time.Since(startTime))

	return text.String(), nil
}

var (
	codeFenceRegex     = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?([\\s\\S]*?)\\n?```")
	jsonObjectRegex    = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
)

// parseJSONResponse decodes model output into v, tolerating the common LLM
// formatting quirks: code fences, surrounding prose, trailing commas.
func parseJSONResponse(text string, v interface{}) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty response")
	}

	// Direct parse first.
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}

	// Strip code fences.
	if m := codeFenceRegex.FindStringSubmatch(text); m != nil {
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), v); err == nil {
			return nil
		}
		text = strings.TrimSpace(m[1])
	}

	// Extract the outermost JSON object from mixed content.
	if m := jsonObjectRegex.FindString(text); m != "" {
		text = m
	}

	// Drop trailing commas.
	text = trailingCommaRegex.ReplaceAllString(text, "$1")

	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("no parseable JSON in response: %w", err)
	}
	return nil
}

const maxPromptExcerpt = 4000

func excerptForPrompt(body string) string {
	if len(body) <= maxPromptExcerpt {
		return body
	}
	return body[:maxPromptExcerpt]
}
