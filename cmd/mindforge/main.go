package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/agent"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/config"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/fs"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/llm"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/messaging/inproc"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/metrics"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/orchestrator"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/policy"
	sqlitestore "github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.mindforge/config.toml)")
	addrFlag := flag.String("addr", "", "http listen address override")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	envFile := flag.String("env", ".env", "dotenv file with provider keys; ignored when missing")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load env file: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	addr := firstNonEmpty(*addrFlag, cfg.Server.Addr, ":8091")
	dbPath := filepath.Clean(firstNonEmpty(*dbPathFlag, cfg.Server.DBPath, "data/mindforge.db"))
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("create db directory: %v", err)
	}

	var prompts agent.PromptSource
	if cfg.Agents.PromptsDir != "" {
		loader, err := fs.NewPromptLoader(cfg.Agents.PromptsDir)
		if err != nil {
			log.Fatalf("open prompts directory: %v", err)
		}
		prompts = loader
	}
	registry, err := agent.LoadRegistry(cfg.Agents.Agents, prompts)
	if err != nil {
		log.Fatalf("load agents: %v", err)
	}

	supervisorID := firstNonEmpty(cfg.Orchestrator.SupervisorID, orchestrator.DefaultSupervisorID)
	monitorID := firstNonEmpty(cfg.Orchestrator.MonitorID, orchestrator.DefaultMonitorID)
	required := []string{supervisorID, monitorID}
	if cfg.Orchestrator.FallbackID != "" {
		required = append(required, cfg.Orchestrator.FallbackID)
	}
	if err := registry.RequireAll(required...); err != nil {
		log.Fatalf("check agents: %v", err)
	}

	client, err := llm.New(llm.Config{
		Provider:        cfg.LLM.Provider,
		Model:           cfg.LLM.Model,
		Endpoint:        cfg.LLM.Endpoint,
		APIKey:          cfg.LLM.APIKey(),
		ReasoningEffort: cfg.LLM.ReasoningEffort,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
		Timeout:         durationMS(cfg.LLM.TimeoutMS, 0),
		Retries:         cfg.LLM.Retries,
		RetryBackoff:    durationMS(cfg.LLM.RetryBackoffMS, 0),
		Logger:          log.Default(),
	})
	if err != nil {
		log.Fatalf("create llm client: %v", err)
	}

	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	recorder := metrics.New(prometheus.DefaultRegisterer)
	executor := agent.NewExecutor(registry, client, agent.ExecutorConfig{
		CallTimeout: durationMS(cfg.Orchestrator.CallTimeoutMS, 2*time.Minute),
		Logger:      log.Default(),
		Metrics:     recorder,
	})
	bus := inproc.New(256)
	policyEngine := policy.New(registry, supervisorID, monitorID)

	svc := orchestrator.New(executor, policyEngine, store, bus, orchestrator.Config{
		MaxIterations:       intOrDefault(cfg.Orchestrator.MaxIterations, orchestrator.DefaultMaxIterations),
		PassThreshold:       intOrDefault(cfg.Orchestrator.PassThreshold, orchestrator.DefaultPassThreshold),
		SupervisorID:        supervisorID,
		MonitorID:           monitorID,
		EmitIterationEvents: cfg.Orchestrator.EmitIterationEvents,
		Agents:              registry.List(),
		Metrics:             recorder,
	}, log.Default())

	a := &app{
		ctx:      ctx,
		cfg:      cfg,
		svc:      svc,
		agents:   registry,
		store:    store,
		bus:      bus,
		fallback: newFallback(executor, client, cfg.Orchestrator.FallbackID),
		logger:   log.Default(),
	}
	mux := a.routes()
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           loggingMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf(
		"mindforge started addr=%s db=%s provider=%s model=%s agents=%d",
		addr,
		dbPath,
		firstNonEmpty(cfg.LLM.Provider, llm.ProviderResponses),
		client.Model(),
		len(registry.List()),
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func intOrDefault(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
