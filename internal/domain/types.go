package domain

import (
	"time"
)

type DirectiveStatus string

const (
	DirectiveStatusContinue DirectiveStatus = "continue"
	DirectiveStatusComplete DirectiveStatus = "complete"
)

type TerminalReason string

const (
	TerminalReasonSupervisorComplete TerminalReason = "supervisor_complete"
	TerminalReasonMaxIterations      TerminalReason = "max_iterations"
	TerminalReasonMalformedDirective TerminalReason = "malformed_directive"
	TerminalReasonError              TerminalReason = "error"
)

type EventStatus string

const (
	EventWorkflowStarted  EventStatus = "workflow_started"
	EventIteration        EventStatus = "iteration"
	EventAgentSelected    EventStatus = "agent_selected"
	EventMonitoring       EventStatus = "monitoring"
	EventRetryRequired    EventStatus = "retry_required"
	EventAgentCompleted   EventStatus = "agent_completed"
	EventWorkflowComplete EventStatus = "workflow_complete"
	EventWorkflowError    EventStatus = "workflow_error"
)

// AgentDescriptor is loaded once at startup and never mutated.
type AgentDescriptor struct {
	ID         string `json:"id" yaml:"id" toml:"id"`
	Prompt     string `json:"-" yaml:"prompt" toml:"prompt"`
	Capability string `json:"capability" yaml:"capability" toml:"capability"`
}

// Directive is the supervisor's decision for the next step. It is either a
// ContinueDirective or a CompleteDirective.
type Directive interface {
	Status() DirectiveStatus
}

type ContinueDirective struct {
	Agent   string `json:"agent"`
	Task    string `json:"task"`
	Context string `json:"context,omitempty"`
}

func (ContinueDirective) Status() DirectiveStatus { return DirectiveStatusContinue }

// CompleteDirective carries the user-facing answer. Degraded marks answers
// synthesised from supervisor output that could not be acted on.
type CompleteDirective struct {
	Response string `json:"user_response"`
	Context  string `json:"context,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`
}

func (CompleteDirective) Status() DirectiveStatus { return DirectiveStatusComplete }

type Evaluation struct {
	Satisfaction int    `json:"satisfaction"`
	Feedback     string `json:"feedback,omitempty"`
}

type IterationRecord struct {
	Iteration     int        `json:"iteration"`
	Agent         string     `json:"agent"`
	Task          string     `json:"task"`
	Response      string     `json:"response"`
	Evaluation    Evaluation `json:"evaluation"`
	Retried       bool       `json:"retried"`
	FinalResponse string     `json:"final_response"`
}

// WorkflowState is owned by a single controller run and dropped once the
// final result is returned.
type WorkflowState struct {
	RunID     string            `json:"run_id"`
	Message   string            `json:"message"`
	Records   []IterationRecord `json:"records"`
	Current   Directive         `json:"-"`
	Iteration int               `json:"iteration"`
	Terminal  bool              `json:"terminal"`
	Reason    TerminalReason    `json:"reason,omitempty"`
}

// LastResponse returns the most recently accepted agent response.
func (s *WorkflowState) LastResponse() string {
	if len(s.Records) == 0 {
		return ""
	}
	return s.Records[len(s.Records)-1].FinalResponse
}

type FinalResult struct {
	RunID          string            `json:"run_id"`
	Text           string            `json:"text"`
	Trace          []IterationRecord `json:"trace"`
	TerminalReason TerminalReason    `json:"terminal_reason"`
	Iterations     int               `json:"iterations"`
}

// ProgressEvent field names are consumed by existing clients; keep them stable.
type ProgressEvent struct {
	Status         EventStatus       `json:"status"`
	RunID          string            `json:"run_id,omitempty"`
	Iteration      int               `json:"iteration,omitempty"`
	Agent          string            `json:"agent,omitempty"`
	Task           string            `json:"task,omitempty"`
	Satisfaction   int               `json:"satisfaction,omitempty"`
	Feedback       string            `json:"feedback,omitempty"`
	Retried        bool              `json:"retried,omitempty"`
	Message        string            `json:"message,omitempty"`
	TerminalReason TerminalReason    `json:"terminal_reason,omitempty"`
	Trace          []IterationRecord `json:"trace,omitempty"`
	Fallback       bool              `json:"fallback,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

type Run struct {
	ID             string         `json:"id"`
	Message        string         `json:"message"`
	Text           string         `json:"text"`
	TerminalReason TerminalReason `json:"terminal_reason"`
	LastError      string         `json:"last_error,omitempty"`
	Iterations     int            `json:"iterations"`
	Fallback       bool           `json:"fallback"`
	CreatedAt      time.Time      `json:"created_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty"`
}

type RunEvent struct {
	ID        int64         `json:"id"`
	RunID     string        `json:"run_id"`
	Seq       int           `json:"seq"`
	Event     ProgressEvent `json:"event"`
	CreatedAt time.Time     `json:"created_at"`
}
