package orchestrator

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

type directivePayload struct {
	Status       json.RawMessage `json:"status"`
	Agent        json.RawMessage `json:"agent"`
	Task         json.RawMessage `json:"task"`
	Context      json.RawMessage `json:"context"`
	UserResponse json.RawMessage `json:"user_response"`
}

// ParseDirective turns raw supervisor output into a directive the controller
// can act on. It never fails: output that cannot be parsed, or a continue
// directive without a dispatchable agent and task, degrades to a complete
// directive carrying the raw text verbatim.
func ParseDirective(raw string, policy Policy) domain.Directive {
	degraded := domain.CompleteDirective{Response: raw, Degraded: true}

	body, ok := extractJSONObject(raw)
	if !ok {
		return degraded
	}
	var payload directivePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return degraded
	}

	status := strings.ToLower(textField(payload.Status))
	agentID := textField(payload.Agent)
	task := textField(payload.Task)
	context := textField(payload.Context)
	response := textField(payload.UserResponse)

	switch status {
	case "complete", "completed", "done":
		if response == "" {
			response = raw
		}
		return domain.CompleteDirective{Response: response, Context: context}
	case "continue", "":
		if agentID == "" && task == "" && response != "" {
			return domain.CompleteDirective{Response: response, Context: context}
		}
		if agentID == "" || task == "" {
			return degraded
		}
		if policy != nil {
			if allowed, _ := policy.CanDispatch(agentID); !allowed {
				return degraded
			}
		}
		return domain.ContinueDirective{Agent: agentID, Task: task, Context: context}
	default:
		if response != "" {
			return domain.CompleteDirective{Response: response, Context: context}
		}
		return degraded
	}
}

// extractJSONObject finds the JSON object in model output, tolerating
// markdown fences and surrounding prose.
func extractJSONObject(raw string) ([]byte, bool) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```JSON")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "{") && json.Valid([]byte(text)) {
		return []byte(text), true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	candidate := []byte(text[start : end+1])
	if !json.Valid(candidate) {
		return nil, false
	}
	return candidate, true
}

// textField renders a loosely typed JSON value as text: strings are
// unquoted, null is empty and anything else is kept as compact JSON.
func textField(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return string(trimmed)
	}
	return compact.String()
}
