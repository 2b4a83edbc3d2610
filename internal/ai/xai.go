package ai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// XAIConfig configures the Grok-backed collaborator, spoken to over the
// OpenAI-compatible chat completions API.
type XAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

const (
	defaultXAIBaseURL = "https://api.x.ai/v1"
	defaultXAIModel   = "grok-3"
)

// XAIClient implements Client against the x.ai chat completions endpoint.
type XAIClient struct {
	client *openai.Client
	model  string
}

// NewXAIClient builds a Grok-backed assessor/translator.
func NewXAIClient(cfg XAIConfig) (*XAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("xai: api key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = defaultXAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultXAIModel
	}
	return &XAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Assess asks Grok for a risk verdict on a shell command.
func (c *XAIClient) Assess(ctx context.Context, req Request) (Decision, error) {
	raw, err := c.complete(ctx, assessSystemPrompt, assessUserPrompt(req))
	if err != nil {
		return Decision{}, fmt.Errorf("xai: assess command: %w", err)
	}
	return parseDecision(raw)
}

// Translate converts a natural-language query into a shell command.
func (c *XAIClient) Translate(ctx context.Context, query, shell string) (string, error) {
	prompt := fmt.Sprintf("Shell: %s\nRequest: %s\n", shell, query)
	raw, err := c.complete(ctx, translateSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("xai: translate query: %w", err)
	}
	return parseTranslation(raw)
}

func (c *XAIClient) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}
