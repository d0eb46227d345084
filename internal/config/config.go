package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

type Config struct {
	LLM          LLMConfig                 `toml:"llm"`
	Orchestrator OrchestratorRuntimeConfig `toml:"orchestrator"`
	Server       ServerConfig              `toml:"server"`
	Agents       AgentsConfig              `toml:"agents"`
	Raw          map[string]any            `toml:"-"`
	Path         string                    `toml:"-"`
}

type LLMConfig struct {
	Provider        string `toml:"provider"`
	Model           string `toml:"model"`
	Endpoint        string `toml:"endpoint"`
	APIKeyEnv       string `toml:"api_key_env"`
	ReasoningEffort string `toml:"reasoning_effort"`
	MaxOutputTokens int    `toml:"max_output_tokens"`
	TimeoutMS       int    `toml:"timeout_ms"`
	Retries         int    `toml:"retries"`
	RetryBackoffMS  int    `toml:"retry_backoff_ms"`
}

type OrchestratorRuntimeConfig struct {
	MaxIterations       int    `toml:"max_iterations"`
	PassThreshold       int    `toml:"pass_threshold"`
	CallTimeoutMS       int    `toml:"call_timeout_ms"`
	EmitIterationEvents bool   `toml:"emit_iteration_events"`
	SupervisorID        string `toml:"supervisor_id"`
	MonitorID           string `toml:"monitor_id"`
	FallbackID          string `toml:"fallback_id"`
}

type ServerConfig struct {
	Addr   string `toml:"addr"`
	DBPath string `toml:"db_path"`
}

type AgentsConfig struct {
	File       string            `toml:"file"`
	PromptsDir string            `toml:"prompts_dir"`
	Agents     []AgentDefinition `toml:"agent"`
}

// AgentDefinition is one agent entry from config.toml or the YAML agents
// file. Exactly one of Prompt and PromptFile is expected.
type AgentDefinition struct {
	ID         string `toml:"id" yaml:"id"`
	Capability string `toml:"capability" yaml:"capability"`
	Prompt     string `toml:"prompt" yaml:"prompt"`
	PromptFile string `toml:"prompt_file" yaml:"prompt_file"`
}

type agentsFile struct {
	Agents []AgentDefinition `yaml:"agents"`
}

func Load(path string) (Config, error) {
	resolved, err := expandPath(path, defaultConfigPath())
	if err != nil {
		return Config{}, err
	}

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	redactSecrets(raw)
	cfg.Raw = raw
	cfg.Path = resolved

	if cfg.Agents.File != "" {
		agentsPath := cfg.Agents.File
		if !filepath.IsAbs(agentsPath) && !strings.HasPrefix(agentsPath, "~") {
			agentsPath = filepath.Join(filepath.Dir(resolved), agentsPath)
		}
		defs, err := LoadAgentsFile(agentsPath)
		if err != nil {
			return Config{}, err
		}
		cfg.Agents.Agents = append(cfg.Agents.Agents, defs...)
	}
	if cfg.Agents.PromptsDir != "" && !filepath.IsAbs(cfg.Agents.PromptsDir) {
		cfg.Agents.PromptsDir = filepath.Join(filepath.Dir(resolved), cfg.Agents.PromptsDir)
	}
	return cfg, nil
}

// LoadAgentsFile reads agent definitions from a YAML document of the form
// `agents: [{id, capability, prompt | prompt_file}]`.
func LoadAgentsFile(path string) ([]AgentDefinition, error) {
	resolved, err := expandPath(path, "")
	if err != nil {
		return nil, err
	}
	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read agents file %s: %w", resolved, err)
	}
	var doc agentsFile
	if err := yaml.Unmarshal(bytes, &doc); err != nil {
		return nil, fmt.Errorf("decode agents file: %w", err)
	}
	return doc.Agents, nil
}

// APIKey resolves the provider key from the configured environment variable.
func (c LLMConfig) APIKey() string {
	name := strings.TrimSpace(c.APIKeyEnv)
	if name == "" {
		switch strings.ToLower(c.Provider) {
		case "anthropic":
			name = "ANTHROPIC_API_KEY"
		case "ollama":
			return ""
		default:
			name = "OPENAI_API_KEY"
		}
	}
	return strings.TrimSpace(os.Getenv(name))
}

func (a AgentDefinition) Descriptor(prompt string) domain.AgentDescriptor {
	return domain.AgentDescriptor{
		ID:         strings.TrimSpace(a.ID),
		Prompt:     prompt,
		Capability: strings.TrimSpace(a.Capability),
	}
}

func expandPath(path, fallback string) (string, error) {
	resolved := path
	if resolved == "" {
		resolved = fallback
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	return filepath.Clean(resolved), nil
}

func redactSecrets(raw map[string]any) {
	for key, value := range raw {
		lc := strings.ToLower(key)
		if strings.Contains(lc, "secret") || lc == "api_key" || lc == "auth_token" {
			raw[key] = "***"
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			redactSecrets(nested)
		}
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mindforge/config.toml"
	}
	return filepath.Join(home, ".mindforge", "config.toml")
}
