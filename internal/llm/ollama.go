package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

const defaultOllamaHost = "http://localhost:11434"

type OllamaClient struct {
	client    *api.Client
	model     string
	maxTokens int
}

func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("empty model")
	}
	host := strings.TrimSpace(cfg.Endpoint)
	if host == "" {
		host = defaultOllamaHost
	}
	parsed, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	return &OllamaClient{
		client:    api.NewClient(parsed, httpClient),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (c *OllamaClient) Model() string {
	return c.model
}

func (c *OllamaClient) request(systemPrompt, userContent string, stream bool) *api.ChatRequest {
	messages := make([]api.Message, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: userContent})
	return &api.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": c.maxTokens,
		},
	}
}

func (c *OllamaClient) Complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	var out strings.Builder
	err := c.client.Chat(ctx, c.request(systemPrompt, userContent, false), func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}

func (c *OllamaClient) Stream(ctx context.Context, systemPrompt, userContent string) (<-chan Chunk, error) {
	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		err := c.client.Chat(ctx, c.request(systemPrompt, userContent, true), func(resp api.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			select {
			case ch <- Chunk{Text: resp.Message.Content}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			select {
			case ch <- Chunk{Err: fmt.Errorf("ollama chat stream failed: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
