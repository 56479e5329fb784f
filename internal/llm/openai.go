package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/unburden/solvency/internal/model"
)

// OpenAIProvider implements the Provider interface for OpenAI models
type OpenAIProvider struct {
	client *openai.Client
	config Config
	logger *slog.Logger
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: slog.New(slog.DiscardHandler),
	}, nil
}

// WithLogger sets the logger used for availability diagnostics
func (p *OpenAIProvider) WithLogger(l *slog.Logger) *OpenAIProvider {
	if l != nil {
		p.logger = l
	}
	return p
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// IsAvailable checks if the provider is properly configured
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	// Listing models is the lightest authenticated call
	if _, err := p.client.ListModels(ctx); err != nil {
		p.logger.Warn("OpenAI API check failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Review asks an OpenAI chat model for a verdict in JSON mode
func (p *OpenAIProvider) Review(ctx context.Context, req ReviewRequest) (*ReviewResponse, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = BuildPrompt(req)
	}

	modelName := req.Model
	if modelName == "" {
		modelName = p.config.Model
	}
	if modelName == "" {
		modelName = openai.GPT4oMini
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = 800
	}

	timeout := time.Duration(p.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctxWithTimeout, openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:      maxTokens,
		Temperature:    0, // Verdicts should be repeatable
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return nil, classifyOpenAIError(fmt.Errorf("OpenAI API error: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	review, err := ParseReview(resp.Choices[0].Message.Content, req.EvidenceURLs, p.config.StrictEvidence)
	if err != nil {
		return nil, err
	}
	review.Model = modelName
	review.TokensUsed = resp.Usage.TotalTokens
	return review, nil
}

// classifyOpenAIError marks rate limits, server errors and timeouts as
// transient so the breaker controller retries them
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && model.IsTransientStatus(apiErr.HTTPStatusCode) {
		return model.Transient(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && model.IsTransientStatus(reqErr.HTTPStatusCode) {
		return model.Transient(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.Transient(err)
	}
	return err
}
