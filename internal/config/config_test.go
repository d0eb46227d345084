package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadMergesInlineAndFileAgents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "agents.yaml"), `
agents:
  - id: emotion
    capability: emotional support
    prompt_file: emotion.md
  - id: planner
    capability: study plans
    prompt: "You plan."
`)
	cfgPath := filepath.Join(dir, "config.toml")
	writeFile(t, cfgPath, `
[llm]
provider = "openai"
model = "gpt-test"
api_key = "sk-inline"

[orchestrator]
max_iterations = 4
pass_threshold = 8
emit_iteration_events = true

[agents]
file = "agents.yaml"
prompts_dir = "prompts"

[[agents.agent]]
id = "supervisor"
prompt = "route"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Path != filepath.Clean(cfgPath) {
		t.Fatalf("path=%s", cfg.Path)
	}
	if cfg.LLM.Model != "gpt-test" || cfg.Orchestrator.MaxIterations != 4 || cfg.Orchestrator.PassThreshold != 8 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if !cfg.Orchestrator.EmitIterationEvents {
		t.Fatalf("emit_iteration_events not decoded")
	}
	if len(cfg.Agents.Agents) != 3 {
		t.Fatalf("agents=%d want=3", len(cfg.Agents.Agents))
	}
	if cfg.Agents.Agents[0].ID != "supervisor" || cfg.Agents.Agents[1].PromptFile != "emotion.md" {
		t.Fatalf("unexpected agent order: %+v", cfg.Agents.Agents)
	}
	if cfg.Agents.PromptsDir != filepath.Join(dir, "prompts") {
		t.Fatalf("prompts_dir=%s", cfg.Agents.PromptsDir)
	}

	llm, ok := cfg.Raw["llm"].(map[string]any)
	if !ok {
		t.Fatalf("raw llm section missing: %#v", cfg.Raw)
	}
	if llm["api_key"] != "***" {
		t.Fatalf("api_key not redacted: %v", llm["api_key"])
	}
	if llm["model"] != "gpt-test" {
		t.Fatalf("model should stay visible: %v", llm["model"])
	}
}

func TestLoadMissingAgentsFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	writeFile(t, cfgPath, "[agents]\nfile = \"nope.yaml\"\n")
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected error for missing agents file")
	}
}

func TestLoadRejectsInvalidTOML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, cfgPath, "[llm\nmodel = ")
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestAPIKeyDefaultsByProvider(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", " sk-openai ")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("MINDFORGE_KEY", "sk-custom")

	cases := []struct {
		cfg  LLMConfig
		want string
	}{
		{cfg: LLMConfig{Provider: "openai"}, want: "sk-openai"},
		{cfg: LLMConfig{}, want: "sk-openai"},
		{cfg: LLMConfig{Provider: "Anthropic"}, want: "sk-ant"},
		{cfg: LLMConfig{Provider: "ollama"}, want: ""},
		{cfg: LLMConfig{Provider: "anthropic", APIKeyEnv: "MINDFORGE_KEY"}, want: "sk-custom"},
	}
	for _, tc := range cases {
		if got := tc.cfg.APIKey(); got != tc.want {
			t.Fatalf("APIKey(%+v)=%q want=%q", tc.cfg, got, tc.want)
		}
	}
}

func TestDescriptorTrimsFields(t *testing.T) {
	d := AgentDefinition{ID: " emotion ", Capability: " support\n"}.Descriptor("be kind")
	if d.ID != "emotion" || d.Capability != "support" || d.Prompt != "be kind" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
}
