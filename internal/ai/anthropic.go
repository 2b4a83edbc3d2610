package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Claude-backed collaborator.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string // optional override for proxies
	Model   string
}

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// AnthropicClient implements Client against the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient builds a Claude-backed assessor/translator.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &AnthropicClient{
		client: anthropic.NewClient(options...),
		model:  model,
	}, nil
}

// Assess asks Claude for a risk verdict on a shell command.
func (c *AnthropicClient) Assess(ctx context.Context, req Request) (Decision, error) {
	raw, err := c.complete(ctx, assessSystemPrompt, assessUserPrompt(req))
	if err != nil {
		return Decision{}, fmt.Errorf("anthropic: assess command: %w", err)
	}
	return parseDecision(raw)
}

// Translate converts a natural-language query into a shell command.
func (c *AnthropicClient) Translate(ctx context.Context, query, shell string) (string, error) {
	prompt := fmt.Sprintf("Shell: %s\nRequest: %s\n", shell, query)
	raw, err := c.complete(ctx, translateSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("anthropic: translate query: %w", err)
	}
	return parseTranslation(raw)
}

func (c *AnthropicClient) complete(ctx context.Context, system, user string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: 512,
		System: []anthropic.TextBlockParam{
			{Type: "text", Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		sb.WriteString(block.Text)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return sb.String(), nil
}
