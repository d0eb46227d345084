package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultResponsesEndpoint = "https://api.openai.com/v1/responses"
	defaultReasoningEffort   = "medium"
	defaultAPIRetries        = 2
	defaultAPIRetryBackoff   = 1500 * time.Millisecond
	defaultAPITimeout        = 4 * time.Minute
	defaultMaxOutputBytes    = 2 * 1024 * 1024
	defaultMaxOutputTokens   = 4096
	maxHTTPErrorBodyReadSize = 64 * 1024
)

var allowedReasoningEfforts = map[string]struct{}{
	"none":   {},
	"low":    {},
	"medium": {},
	"high":   {},
}

// ResponsesClient talks to a Responses-compatible endpoint over plain HTTP
// and always requests a server-sent event stream.
type ResponsesClient struct {
	endpoint        string
	model           string
	reasoningEffort string
	authToken       string
	retries         int
	retryBackoff    time.Duration
	maxOutputBytes  int
	maxOutputTokens int
	logger          *log.Logger
	client          *http.Client
}

func NewResponsesClient(cfg Config) (*ResponsesClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultResponsesEndpoint
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid API endpoint %q: %w", endpoint, err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("empty model")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	if retries == 0 {
		retries = defaultAPIRetries
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = defaultAPIRetryBackoff
	}
	maxOutputTokens := cfg.MaxOutputTokens
	if maxOutputTokens <= 0 {
		maxOutputTokens = defaultMaxOutputTokens
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
		}
	}

	return &ResponsesClient{
		endpoint:        endpoint,
		model:           model,
		reasoningEffort: normalizeReasoningEffort(cfg.ReasoningEffort),
		authToken:       strings.TrimSpace(cfg.APIKey),
		retries:         retries,
		retryBackoff:    retryBackoff,
		maxOutputBytes:  defaultMaxOutputBytes,
		maxOutputTokens: maxOutputTokens,
		logger:          cfg.Logger,
		client:          client,
	}, nil
}

func (c *ResponsesClient) Model() string {
	return c.model
}

// Complete retries transport-level failures with linear backoff. Callers
// that need a single attempt should use Stream.
func (c *ResponsesClient) Complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries+1; attempt++ {
		text, err := c.completeOnce(ctx, systemPrompt, userContent, nil)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == c.retries+1 {
			break
		}
		wait := time.Duration(attempt) * c.retryBackoff
		c.logger.Printf("responses api retry attempt=%d wait=%s reason=%v", attempt, wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown completion error")
	}
	return "", lastErr
}

func (c *ResponsesClient) Stream(ctx context.Context, systemPrompt, userContent string) (<-chan Chunk, error) {
	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		_, err := c.completeOnce(ctx, systemPrompt, userContent, func(delta string) {
			select {
			case ch <- Chunk{Text: delta}:
			case <-ctx.Done():
			}
		})
		if err != nil {
			select {
			case ch <- Chunk{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}

func (c *ResponsesClient) completeOnce(ctx context.Context, systemPrompt, userContent string, onDelta func(string)) (string, error) {
	payload := responsesRequest{
		Model:        c.model,
		Instructions: systemPrompt,
		Stream:       true,
		Reasoning:    &responsesReasoning{Effort: c.reasoningEffort},
		Input: []responsesInputMessage{
			{
				Role: "user",
				Content: []responsesInputContent{
					{Type: "input_text", Text: userContent},
				},
			},
		},
		MaxOutputTokens: c.maxOutputTokens,
	}
	if c.reasoningEffort == "none" {
		payload.Reasoning = nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal responses request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create API request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("responses api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxHTTPErrorBodyReadSize))
		if readErr != nil {
			return "", fmt.Errorf("responses api status=%d and read body failed: %w", resp.StatusCode, readErr)
		}
		return "", HTTPError{
			StatusCode: resp.StatusCode,
			Body:       trim(strings.TrimSpace(string(body)), 800),
		}
	}

	text, err := readResponsesStream(resp.Body, c.maxOutputBytes, onDelta)
	if err != nil {
		return "", fmt.Errorf("read responses stream: %w", err)
	}
	return text, nil
}

func normalizeReasoningEffort(value string) string {
	effort := strings.ToLower(strings.TrimSpace(value))
	if effort == "" {
		return defaultReasoningEffort
	}
	if _, ok := allowedReasoningEfforts[effort]; !ok {
		return defaultReasoningEffort
	}
	return effort
}

func readResponsesStream(body io.Reader, maxBytes int, onDelta func(string)) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBytes+64*1024)

	var output strings.Builder
	var dataLines []string
	emit := func(text string) error {
		if output.Len()+len(text) > maxBytes {
			return fmt.Errorf("responses output exceeds %d bytes", maxBytes)
		}
		output.WriteString(text)
		if onDelta != nil && text != "" {
			onDelta(text)
		}
		return nil
	}
	processEvent := func(lines []string) error {
		if len(lines) == 0 {
			return nil
		}
		data := strings.TrimSpace(strings.Join(lines, "\n"))
		if data == "" || data == "[DONE]" {
			return nil
		}
		var event responsesStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("unmarshal stream event: %w", err)
		}
		if event.Error != nil {
			return fmt.Errorf("responses stream error: %s", event.Error.Message)
		}
		if event.Response != nil && event.Response.Error != nil {
			return fmt.Errorf("responses completion error: %s", event.Response.Error.Message)
		}
		switch event.Type {
		case "response.output_text.delta":
			return emit(event.Delta)
		case "response.completed":
			if output.Len() == 0 && event.Response != nil {
				return emit(extractCompletedResponseText(event.Response))
			}
		}
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := processEvent(dataLines); err != nil {
				return "", err
			}
			dataLines = dataLines[:0]
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if err := processEvent(dataLines); err != nil {
		return "", err
	}
	text := strings.TrimSpace(output.String())
	if text == "" {
		return "", ErrEmptyOutput
	}
	return text, nil
}

func extractCompletedResponseText(resp *responsesEventResponse) string {
	if resp == nil {
		return ""
	}
	var out strings.Builder
	for _, item := range resp.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" || part.Type == "text" {
				out.WriteString(part.Text)
			}
		}
	}
	return out.String()
}

type responsesRequest struct {
	Model           string                  `json:"model"`
	Instructions    string                  `json:"instructions,omitempty"`
	Stream          bool                    `json:"stream"`
	Reasoning       *responsesReasoning     `json:"reasoning,omitempty"`
	Input           []responsesInputMessage `json:"input"`
	MaxOutputTokens int                     `json:"max_output_tokens,omitempty"`
}

type responsesReasoning struct {
	Effort string `json:"effort"`
}

type responsesInputMessage struct {
	Role    string                  `json:"role"`
	Content []responsesInputContent `json:"content"`
}

type responsesInputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesStreamEvent struct {
	Type     string                  `json:"type"`
	Delta    string                  `json:"delta,omitempty"`
	Response *responsesEventResponse `json:"response,omitempty"`
	Error    *responsesAPIError      `json:"error,omitempty"`
}

type responsesEventResponse struct {
	Error  *responsesAPIError    `json:"error,omitempty"`
	Output []responsesOutputItem `json:"output,omitempty"`
}

type responsesOutputItem struct {
	Type    string                   `json:"type"`
	Content []responsesOutputContent `json:"content,omitempty"`
}

type responsesOutputContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responsesAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}
