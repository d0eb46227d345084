package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/agent"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/config"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/llm"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/messaging/inproc"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/orchestrator"
	sqlitestore "github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/store/sqlite"
)

const fallbackSystemPrompt = "You are a warm, supportive assistant. Answer the user's message directly and helpfully."

type runStore interface {
	GetRun(ctx context.Context, runID string) (domain.Run, error)
	ListRuns(ctx context.Context, limit int) ([]domain.Run, error)
	ListRunEvents(ctx context.Context, runID string, limit int) ([]domain.RunEvent, error)
	ListRunIterations(ctx context.Context, runID string) ([]domain.IterationRecord, error)
	MarkFallback(ctx context.Context, runID, text string) error
}

type agentCatalog interface {
	List() []domain.AgentDescriptor
}

type app struct {
	// ctx bounds background runs; it is cancelled on shutdown.
	ctx      context.Context
	cfg      config.Config
	svc      *orchestrator.Service
	agents   agentCatalog
	store    runStore
	bus      *inproc.Bus
	fallback *fallback
	logger   *log.Logger
}

func (a *app) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("GET /config", a.handleConfig)
	mux.HandleFunc("GET /agents", a.handleAgents)
	mux.HandleFunc("POST /chat", a.handleChat)
	mux.HandleFunc("GET /runs", a.handleListRuns)
	mux.HandleFunc("POST /runs", a.handleCreateRun)
	mux.HandleFunc("GET /runs/{id}", a.handleGetRun)
	mux.HandleFunc("GET /runs/{id}/events", a.handleRunEvents)
	mux.HandleFunc("GET /runs/{id}/iterations", a.handleRunIterations)
	mux.HandleFunc("GET /runs/{id}/watch", a.handleWatch)
	return mux
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path": a.cfg.Path,
		"raw":  a.cfg.Raw,
	})
}

func (a *app) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.agents.List())
}

type chatRequest struct {
	Message string `json:"message"`
}

func decodeChatRequest(r *http.Request) (string, error) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return "", fmt.Errorf("invalid json body: %w", err)
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return "", fmt.Errorf("message is required")
	}
	return message, nil
}

// handleChat runs a workflow and streams its progress as server-sent
// events. A failed workflow is answered by a direct fallback completion.
func (a *app) handleChat(w http.ResponseWriter, r *http.Request) {
	message, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	stream, err := newEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	sink := orchestrator.SinkFunc(func(ev domain.ProgressEvent) {
		if err := stream.send(ev); err != nil {
			a.logger.Printf("chat stream write failed run=%s err=%v", ev.RunID, err)
		}
	})
	result, runErr := a.svc.RunWorkflow(r.Context(), message, sink)
	if runErr == nil {
		return
	}
	var execErr *agent.ExecutionError
	if !errors.As(runErr, &execErr) || r.Context().Err() != nil {
		return
	}

	text, err := a.fallback.answer(r.Context(), message)
	if err != nil {
		a.logger.Printf("fallback failed run=%s err=%v", result.RunID, err)
		_ = stream.send(domain.ProgressEvent{
			Status:         domain.EventWorkflowError,
			RunID:          result.RunID,
			Message:        err.Error(),
			TerminalReason: domain.TerminalReasonError,
			Timestamp:      time.Now().UTC(),
		})
		return
	}
	if err := a.store.MarkFallback(r.Context(), result.RunID, text); err != nil {
		a.logger.Printf("record fallback failed run=%s err=%v", result.RunID, err)
	}
	_ = stream.send(domain.ProgressEvent{
		Status:         domain.EventWorkflowComplete,
		RunID:          result.RunID,
		Message:        text,
		TerminalReason: domain.TerminalReasonError,
		Trace:          result.Trace,
		Fallback:       true,
		Timestamp:      time.Now().UTC(),
	})
}

// handleCreateRun runs a workflow and returns the final result. With
// ?async=true it returns the run id at once and the run continues in the
// background, observable through /runs/{id}/watch.
func (a *app) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	message, err := decodeChatRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		runID := uuid.NewString()
		a.bus.Open(runID)
		go func() {
			if _, err := a.svc.RunWorkflowWithID(a.ctx, runID, message, nil); err != nil {
				a.logger.Printf("background run failed run=%s err=%v", runID, err)
			}
		}()
		writeJSON(w, http.StatusAccepted, map[string]any{"run_id": runID})
		return
	}

	result, err := a.svc.RunWorkflow(r.Context(), message, nil)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *app) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := a.store.ListRuns(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *app) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := a.store.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *app) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := a.store.GetRun(r.Context(), runID); err != nil {
		writeStoreError(w, err)
		return
	}
	events, err := a.store.ListRunEvents(r.Context(), runID, queryInt(r, "limit", 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (a *app) handleRunIterations(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if _, err := a.store.GetRun(r.Context(), runID); err != nil {
		writeStoreError(w, err)
		return
	}
	records, err := a.store.ListRunIterations(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleWatch streams live events of an in-flight run. A finished run is
// replayed from the store.
func (a *app) handleWatch(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	live, cancel, err := a.bus.Subscribe(runID)
	if err != nil && !errors.Is(err, inproc.ErrRunNotSubscribed) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err != nil {
		events, listErr := a.store.ListRunEvents(r.Context(), runID, 0)
		if listErr != nil {
			writeError(w, http.StatusInternalServerError, listErr)
			return
		}
		if len(events) == 0 {
			writeError(w, http.StatusNotFound, fmt.Errorf("run %s not found", runID))
			return
		}
		stream, err := newEventStream(w)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		for _, ev := range events {
			if err := stream.send(ev.Event); err != nil {
				return
			}
		}
		return
	}
	defer cancel()

	stream, err := newEventStream(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-live:
			if !ok {
				return
			}
			if err := stream.send(ev); err != nil {
				return
			}
		}
	}
}

// fallback produces a direct single-call answer when a workflow fails.
type fallback struct {
	executor *agent.Executor
	client   llm.Client
	agentID  string
}

func newFallback(executor *agent.Executor, client llm.Client, agentID string) *fallback {
	return &fallback{executor: executor, client: client, agentID: agentID}
}

func (f *fallback) answer(ctx context.Context, message string) (string, error) {
	var (
		chunks <-chan llm.Chunk
		err    error
	)
	if f.agentID != "" && f.executor != nil {
		chunks, err = f.executor.Stream(ctx, f.agentID, message)
	} else {
		chunks, err = f.client.Stream(ctx, fallbackSystemPrompt, message)
	}
	if err != nil {
		return "", fmt.Errorf("fallback completion: %w", err)
	}
	text, err := llm.Collect(chunks)
	if err != nil {
		return "", fmt.Errorf("fallback completion: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", llm.ErrEmptyOutput
	}
	return text, nil
}

type eventStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) (*eventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &eventStream{w: w, flusher: flusher}, nil
}

func (s *eventStream) send(event domain.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, sqlitestore.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
