package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIClient uses the official SDK against the Responses API.
type OpenAIClient struct {
	client          openai.Client
	model           string
	maxOutputTokens int64
}

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("empty model")
	}
	opts := []option.RequestOption{}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.Retries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.Retries))
	}
	maxTokens := int64(cfg.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	return &OpenAIClient{
		client:          openai.NewClient(opts...),
		model:           model,
		maxOutputTokens: maxTokens,
	}, nil
}

func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(c.maxOutputTokens),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(userContent)},
	}
	if systemPrompt != "" {
		params.Instructions = openai.String(systemPrompt)
	}
	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai responses request failed: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyOutput
	}
	text := strings.TrimSpace(resp.OutputText())
	if text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}

// Stream returns the whole completion as one chunk.
func (c *OpenAIClient) Stream(ctx context.Context, systemPrompt, userContent string) (<-chan Chunk, error) {
	return singleChunkStream(ctx, func(ctx context.Context) (string, error) {
		return c.Complete(ctx, systemPrompt, userContent)
	}), nil
}
