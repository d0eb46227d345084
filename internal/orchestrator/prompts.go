package orchestrator

import (
	"fmt"
	"strings"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

const directiveFormat = `Reply with a single JSON object and nothing else:
{"status":"continue","agent":"<agent id>","task":"<instruction for the agent>","context":"<relevant context>"}
or, when the user can be answered:
{"status":"complete","user_response":"<final answer for the user>"}`

const evaluationFormat = `Reply with a single JSON object and nothing else:
{"satisfaction":<integer 1-10>,"feedback":"<what should be improved>"}`

// supervisorInput builds the supervisor's user content. The first round
// sees the user message; later rounds also see the previous directive and
// the record it produced.
func supervisorInput(state *domain.WorkflowState, catalog []domain.AgentDescriptor) string {
	var b strings.Builder
	b.WriteString("User message:\n")
	b.WriteString(state.Message)
	b.WriteString("\n\n")

	if prev, ok := state.Current.(domain.ContinueDirective); ok && len(state.Records) > 0 {
		last := state.Records[len(state.Records)-1]
		b.WriteString("Previous directive:\n")
		fmt.Fprintf(&b, "agent: %s\ntask: %s\n", prev.Agent, prev.Task)
		if prev.Context != "" {
			fmt.Fprintf(&b, "context: %s\n", prev.Context)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "Result of iteration %d from agent %s (satisfaction %d/10, retried: %t):\n",
			last.Iteration, last.Agent, last.Evaluation.Satisfaction, last.Retried)
		b.WriteString(last.FinalResponse)
		b.WriteString("\n\n")
	}

	if len(catalog) > 0 {
		b.WriteString("Available agents:\n")
		for _, agent := range catalog {
			fmt.Fprintf(&b, "- %s: %s\n", agent.ID, agent.Capability)
		}
		b.WriteString("\n")
	}
	b.WriteString(directiveFormat)
	return b.String()
}

func agentTask(message string, directive domain.ContinueDirective) string {
	var b strings.Builder
	b.WriteString(directive.Task)
	if directive.Context != "" {
		b.WriteString("\n\nContext:\n")
		b.WriteString(directive.Context)
	}
	b.WriteString("\n\nUser message:\n")
	b.WriteString(message)
	return b.String()
}

func retryTask(task, previous string, eval domain.Evaluation) string {
	feedback := eval.Feedback
	if feedback == "" {
		feedback = "The response did not meet the quality bar."
	}
	var b strings.Builder
	b.WriteString(task)
	b.WriteString("\n\nYour previous response:\n")
	b.WriteString(previous)
	fmt.Fprintf(&b, "\n\nReviewer feedback (satisfaction %d/10):\n", eval.Satisfaction)
	b.WriteString(feedback)
	b.WriteString("\n\nRevise your response to address the feedback.")
	return b.String()
}

func monitorInput(agentID, task, response string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n\nTask:\n%s\n\nResponse:\n%s\n\n", agentID, task, response)
	b.WriteString(evaluationFormat)
	return b.String()
}
