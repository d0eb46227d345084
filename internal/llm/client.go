// Package llm adapts external text-generation services to a single
// system-prompt/user-content completion interface.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	ProviderResponses = "responses"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

var ErrEmptyOutput = errors.New("empty completion output")

// Client issues one completion per call. Implementations hold no
// per-request state and are safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userContent string) (string, error)
	// Stream delivers generated text incrementally. The channel is closed
	// after the last chunk; a failure is delivered as a final chunk with Err set.
	Stream(ctx context.Context, systemPrompt, userContent string) (<-chan Chunk, error)
	Model() string
}

type Chunk struct {
	Text string
	Err  error
}

type Config struct {
	Provider        string
	Model           string
	Endpoint        string
	APIKey          string
	ReasoningEffort string
	MaxOutputTokens int
	Timeout         time.Duration
	Retries         int
	RetryBackoff    time.Duration
	Logger          *log.Logger
	HTTPClient      *http.Client
}

// New builds the client for cfg.Provider. An empty provider selects the
// raw Responses API client.
func New(cfg Config) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderResponses:
		return NewResponsesClient(cfg)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg)
	case ProviderAnthropic:
		return NewAnthropicClient(cfg)
	case ProviderOllama:
		return NewOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// Collect drains a stream into a single string.
func Collect(ch <-chan Chunk) (string, error) {
	var out strings.Builder
	for chunk := range ch {
		if chunk.Err != nil {
			return out.String(), chunk.Err
		}
		out.WriteString(chunk.Text)
	}
	return out.String(), nil
}

// singleChunkStream adapts a blocking Complete into a one-chunk stream for
// providers whose SDK streaming is not wired.
func singleChunkStream(ctx context.Context, complete func(context.Context) (string, error)) <-chan Chunk {
	ch := make(chan Chunk, 1)
	go func() {
		defer close(ch)
		text, err := complete(ctx)
		if err != nil {
			ch <- Chunk{Err: err}
			return
		}
		ch <- Chunk{Text: text}
	}()
	return ch
}

// HTTPError is a non-2xx response from a completion endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("completion api status=%d", e.StatusCode)
	}
	return fmt.Sprintf("completion api status=%d body=%s", e.StatusCode, e.Body)
}

func IsRetryable(err error) bool {
	var statusErr HTTPError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

func trim(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
