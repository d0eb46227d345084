package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/config"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

var ErrAgentNotFound = errors.New("agent not found")

// PromptSource loads prompt text referenced by an agent definition.
type PromptSource interface {
	Load(relPath string) (string, error)
}

// Registry maps agent identifiers to descriptors. It is immutable after
// construction and safe for concurrent readers.
type Registry struct {
	agents map[string]domain.AgentDescriptor
	order  []string
}

func NewRegistry(descriptors ...domain.AgentDescriptor) (*Registry, error) {
	r := &Registry{
		agents: make(map[string]domain.AgentDescriptor, len(descriptors)),
		order:  make([]string, 0, len(descriptors)),
	}
	for _, d := range descriptors {
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			return nil, fmt.Errorf("agent descriptor has empty id")
		}
		if strings.TrimSpace(d.Prompt) == "" {
			return nil, fmt.Errorf("agent %s has empty prompt", d.ID)
		}
		if _, exists := r.agents[d.ID]; exists {
			return nil, fmt.Errorf("duplicate agent id %s", d.ID)
		}
		if d.Capability == "" {
			d.Capability = d.ID
		}
		r.agents[d.ID] = d
		r.order = append(r.order, d.ID)
	}
	return r, nil
}

// LoadRegistry builds a registry from configured definitions, reading
// prompt files through prompts when a definition names one.
func LoadRegistry(defs []config.AgentDefinition, prompts PromptSource) (*Registry, error) {
	descriptors := make([]domain.AgentDescriptor, 0, len(defs))
	for _, def := range defs {
		prompt := strings.TrimSpace(def.Prompt)
		if prompt == "" && strings.TrimSpace(def.PromptFile) != "" {
			if prompts == nil {
				return nil, fmt.Errorf("agent %s references prompt file %s but no prompts directory is configured", def.ID, def.PromptFile)
			}
			loaded, err := prompts.Load(def.PromptFile)
			if err != nil {
				return nil, fmt.Errorf("load prompt for agent %s: %w", def.ID, err)
			}
			prompt = loaded
		}
		descriptors = append(descriptors, def.Descriptor(prompt))
	}
	return NewRegistry(descriptors...)
}

func (r *Registry) Resolve(agentID string) (domain.AgentDescriptor, error) {
	d, ok := r.agents[strings.TrimSpace(agentID)]
	if !ok {
		return domain.AgentDescriptor{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return d, nil
}

func (r *Registry) Has(agentID string) bool {
	_, ok := r.agents[strings.TrimSpace(agentID)]
	return ok
}

// List returns descriptors in registration order.
func (r *Registry) List() []domain.AgentDescriptor {
	out := make([]domain.AgentDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// RequireAll reports every identifier in ids that is missing.
func (r *Registry) RequireAll(ids ...string) error {
	var missing []string
	for _, id := range ids {
		if !r.Has(id) {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, strings.Join(missing, ", "))
	}
	return nil
}
