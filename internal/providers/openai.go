package providers

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider generates plans via the OpenAI chat completions API.
type OpenAIProvider struct {
	base
	client       *openai.Client
	defaultModel string
	maxTokens    int
}

// OpenAIConfig configures an OpenAIProvider. APIKey is required.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxTokens    int
}

// NewOpenAIProvider creates a provider backed by the OpenAI API.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultOpenAIModel
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 4096
	}

	var client *openai.Client
	if strings.TrimSpace(config.BaseURL) != "" {
		cfg := openai.DefaultConfig(config.APIKey)
		cfg.BaseURL = config.BaseURL
		client = openai.NewClientWithConfig(cfg)
	} else {
		client = openai.NewClient(config.APIKey)
	}

	return &OpenAIProvider{
		base:         newBase("openai"),
		client:       client,
		defaultModel: config.DefaultModel,
		maxTokens:    config.MaxTokens,
	}, nil
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string {
	return p.name
}

// Generate performs a non-streaming chat completion with linear-backoff
// retries for transient API failures.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  messages,
	}

	var resp openai.ChatCompletionResponse
	err := p.retry(ctx, retryableAPIError, func() error {
		var apiErr error
		resp, apiErr = p.client.CreateChatCompletion(ctx, chatReq)
		return apiErr
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, ErrEmptyCompletion
	}

	return &Response{
		Text:             text,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}
