package policy

import (
	"fmt"
	"strings"
)

// Resolver reports whether an agent identifier is registered.
type Resolver interface {
	Has(agentID string) bool
}

// Engine decides which agents a supervisor directive may dispatch to.
// Reserved identities (the supervisor and monitor themselves) are never
// dispatch targets.
type Engine struct {
	resolver Resolver
	reserved map[string]struct{}
}

func New(resolver Resolver, reserved ...string) *Engine {
	set := make(map[string]struct{}, len(reserved))
	for _, id := range reserved {
		id = strings.TrimSpace(id)
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return &Engine{resolver: resolver, reserved: set}
}

func (e *Engine) CanDispatch(agentID string) (bool, string) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return false, "empty agent identifier"
	}
	if _, ok := e.reserved[agentID]; ok {
		return false, fmt.Sprintf("agent %s is reserved for orchestration", agentID)
	}
	if e.resolver != nil && !e.resolver.Has(agentID) {
		return false, fmt.Sprintf("agent %s is not registered", agentID)
	}
	return true, "allowed"
}
