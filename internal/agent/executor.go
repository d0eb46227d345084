package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/llm"
)

const defaultCallTimeout = 2 * time.Minute

// ExecutionError wraps any failure of a single agent call: unknown agent,
// transport, timeout, rejected request or empty output.
type ExecutionError struct {
	Agent string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute agent %s: %v", e.Agent, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether the call was cut off by its deadline.
func (e *ExecutionError) IsTimeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

type Resolver interface {
	Resolve(agentID string) (domain.AgentDescriptor, error)
}

type Recorder interface {
	ObserveRequest(model, agentID string, promptTokens, completionTokens int, success bool, duration time.Duration)
}

type ExecutorConfig struct {
	CallTimeout time.Duration
	Logger      *log.Logger
	Metrics     Recorder
}

// Executor runs one completion per call with the agent's persona. It never
// retries; retry policy belongs to the orchestrator.
type Executor struct {
	registry Resolver
	client   llm.Client
	timeout  time.Duration
	logger   *log.Logger
	metrics  Recorder
}

func NewExecutor(registry Resolver, client llm.Client, cfg ExecutorConfig) *Executor {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Executor{
		registry: registry,
		client:   client,
		timeout:  cfg.CallTimeout,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

func (e *Executor) Execute(ctx context.Context, agentID, task string) (string, error) {
	descriptor, err := e.registry.Resolve(agentID)
	if err != nil {
		return "", &ExecutionError{Agent: agentID, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	text, err := e.client.Complete(callCtx, descriptor.Prompt, task)
	if err == nil && strings.TrimSpace(text) == "" {
		err = llm.ErrEmptyOutput
	}
	elapsed := time.Since(started)
	e.observe(descriptor.ID, descriptor.Prompt+task, text, err == nil, elapsed)
	if err != nil {
		e.logger.Printf("agent call failed agent=%s elapsed=%s err=%v", descriptor.ID, elapsed.Round(time.Millisecond), err)
		return "", &ExecutionError{Agent: descriptor.ID, Err: err}
	}
	e.logger.Printf("agent call done agent=%s elapsed=%s chars=%d", descriptor.ID, elapsed.Round(time.Millisecond), len(text))
	return text, nil
}

// Stream runs the agent with a token stream. The per-call timeout covers
// the whole stream.
func (e *Executor) Stream(ctx context.Context, agentID, task string) (<-chan llm.Chunk, error) {
	descriptor, err := e.registry.Resolve(agentID)
	if err != nil {
		return nil, &ExecutionError{Agent: agentID, Err: err}
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	upstream, err := e.client.Stream(callCtx, descriptor.Prompt, task)
	if err != nil {
		cancel()
		return nil, &ExecutionError{Agent: descriptor.ID, Err: err}
	}

	out := make(chan llm.Chunk, 16)
	go func() {
		defer close(out)
		defer cancel()
		started := time.Now()
		var text strings.Builder
		ok := true
		for chunk := range upstream {
			if chunk.Err != nil {
				ok = false
				chunk.Err = &ExecutionError{Agent: descriptor.ID, Err: chunk.Err}
			} else {
				text.WriteString(chunk.Text)
			}
			out <- chunk
		}
		e.observe(descriptor.ID, descriptor.Prompt+task, text.String(), ok, time.Since(started))
	}()
	return out, nil
}

func (e *Executor) observe(agentID, prompt, completion string, success bool, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	promptTokens, completionTokens := 0, 0
	if success {
		promptTokens = llm.CountTokens(prompt)
		completionTokens = llm.CountTokens(completion)
	}
	e.metrics.ObserveRequest(e.client.Model(), agentID, promptTokens, completionTokens, success, elapsed)
}
