package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/agent"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/policy"
)

type reply struct {
	text string
	err  error
}

type call struct {
	agent string
	task  string
}

// scriptedExecutor answers each agent from a queue; the last reply repeats.
type scriptedExecutor struct {
	mu      sync.Mutex
	scripts map[string][]reply
	calls   []call
}

func newScriptedExecutor(scripts map[string][]reply) *scriptedExecutor {
	return &scriptedExecutor{scripts: scripts}
}

func (e *scriptedExecutor) Execute(ctx context.Context, agentID, task string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call{agent: agentID, task: task})
	if err := ctx.Err(); err != nil {
		return "", &agent.ExecutionError{Agent: agentID, Err: err}
	}
	queue := e.scripts[agentID]
	if len(queue) == 0 {
		return "", &agent.ExecutionError{Agent: agentID, Err: fmt.Errorf("no scripted reply")}
	}
	r := queue[0]
	if len(queue) > 1 {
		e.scripts[agentID] = queue[1:]
	}
	return r.text, r.err
}

func (e *scriptedExecutor) callsTo(agentID string) []call {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []call
	for _, c := range e.calls {
		if c.agent == agentID {
			out = append(out, c)
		}
	}
	return out
}

type agentSet map[string]bool

func (s agentSet) Has(id string) bool { return s[id] }

func testPolicy() *policy.Engine {
	return policy.New(agentSet{
		"supervisor": true,
		"monitor":    true,
		"emotion":    true,
		"planner":    true,
	}, "supervisor", "monitor")
}

func newTestService(exec Executor, cfg Config) *Service {
	return New(exec, testPolicy(), nil, nil, cfg, log.New(io.Discard, "", 0))
}

func continueJSON(agentID, task string) string {
	return fmt.Sprintf(`{"status":"continue","agent":%q,"task":%q,"context":"user is anxious"}`, agentID, task)
}

func TestRunWorkflowRetriesOnceAndEmitsCanonicalOrder(t *testing.T) {
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {
			{text: continueJSON("emotion", "comfort the user")},
			{text: "```json\n" + continueJSON("planner", "make a prep plan") + "\n```"},
			{text: `{"status":"complete","user_response":"You've got this. Here is your plan."}`},
		},
		"emotion": {{text: "first draft"}, {text: "warmer draft"}},
		"planner": {{text: "1. outline 2. rehearse"}},
		"monitor": {
			{text: `{"satisfaction": 5, "feedback": "acknowledge the fear first"}`},
			{text: `{"satisfaction": 8}`},
		},
	})
	svc := newTestService(exec, Config{})
	events := &EventLog{}

	result, err := svc.RunWorkflow(context.Background(), "I'm anxious about my presentation tomorrow", events)
	require.NoError(t, err)

	assert.Equal(t, []domain.EventStatus{
		domain.EventWorkflowStarted,
		domain.EventAgentSelected,
		domain.EventMonitoring,
		domain.EventRetryRequired,
		domain.EventAgentCompleted,
		domain.EventAgentSelected,
		domain.EventMonitoring,
		domain.EventAgentCompleted,
		domain.EventWorkflowComplete,
	}, events.Statuses())

	assert.Equal(t, domain.TerminalReasonSupervisorComplete, result.TerminalReason)
	assert.Equal(t, "You've got this. Here is your plan.", result.Text)
	require.Len(t, result.Trace, 2)

	first := result.Trace[0]
	assert.Equal(t, 1, first.Iteration)
	assert.Equal(t, "emotion", first.Agent)
	assert.Equal(t, "first draft", first.Response)
	assert.Equal(t, "warmer draft", first.FinalResponse)
	assert.True(t, first.Retried)
	assert.Equal(t, 5, first.Evaluation.Satisfaction)

	second := result.Trace[1]
	assert.Equal(t, 2, second.Iteration)
	assert.Equal(t, "planner", second.Agent)
	assert.False(t, second.Retried)
	assert.Equal(t, second.Response, second.FinalResponse)

	// The retried response is not evaluated again.
	assert.Len(t, exec.callsTo("monitor"), 2)
	emotionCalls := exec.callsTo("emotion")
	require.Len(t, emotionCalls, 2)
	assert.Contains(t, emotionCalls[1].task, "first draft")
	assert.Contains(t, emotionCalls[1].task, "acknowledge the fear first")

	all := events.Events()
	assert.Equal(t, "emotion", all[1].Agent)
	assert.Equal(t, 5, all[3].Satisfaction)
	assert.Equal(t, "acknowledge the fear first", all[3].Feedback)
	assert.Equal(t, 5, all[4].Satisfaction)
	assert.True(t, all[4].Retried)
	assert.Equal(t, 8, all[7].Satisfaction)
	assert.Equal(t, result.Text, all[8].Message)
	assert.Len(t, all[8].Trace, 2)
	for _, ev := range all {
		assert.Equal(t, result.RunID, ev.RunID)
	}
}

func TestRunWorkflowSingleAgentThenBareComplete(t *testing.T) {
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {
			{text: `{"agent":"emotion","task":"assess"}`},
			{text: `{"status":"complete"}`},
		},
		"emotion": {{text: "You sound stressed but capable."}},
		"monitor": {{text: `{"satisfaction": 9}`}},
	})
	svc := newTestService(exec, Config{})

	result, err := svc.RunWorkflow(context.Background(), "I'm anxious", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TerminalReasonSupervisorComplete, result.TerminalReason)
	assert.Equal(t, `{"status":"complete"}`, result.Text)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "emotion", result.Trace[0].Agent)
	assert.Equal(t, "assess", result.Trace[0].Task)
	assert.Equal(t, 9, result.Trace[0].Evaluation.Satisfaction)
	assert.False(t, result.Trace[0].Retried)
	assert.Len(t, exec.callsTo("emotion"), 1)
}

func TestRunWorkflowStopsAtMaxIterations(t *testing.T) {
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {{text: continueJSON("emotion", "keep going")}},
		"emotion":    {{text: "answer one"}, {text: "answer two"}, {text: "answer three"}},
		"monitor":    {{text: `{"satisfaction": 9}`}},
	})
	svc := newTestService(exec, Config{MaxIterations: 3})

	result, err := svc.RunWorkflow(context.Background(), "loop forever", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TerminalReasonMaxIterations, result.TerminalReason)
	assert.Len(t, result.Trace, 3)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, "answer three", result.Text)
	assert.Len(t, exec.callsTo("supervisor"), 3)
	for i, record := range result.Trace {
		assert.Equal(t, i+1, record.Iteration)
	}
}

func TestRunWorkflowDefaultCapIsTen(t *testing.T) {
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {{text: continueJSON("planner", "again")}},
		"planner":    {{text: "plan"}},
		"monitor":    {{text: "score 10"}},
	})
	svc := newTestService(exec, Config{})

	result, err := svc.RunWorkflow(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TerminalReasonMaxIterations, result.TerminalReason)
	assert.Len(t, result.Trace, DefaultMaxIterations)
}

func TestRunWorkflowNonJSONSupervisorOutputIsReturnedVerbatim(t *testing.T) {
	raw := "  Take a deep breath, you will do fine.\n"
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {{text: raw}},
	})
	svc := newTestService(exec, Config{})
	events := &EventLog{}

	result, err := svc.RunWorkflow(context.Background(), "help", events)
	require.NoError(t, err)
	assert.Equal(t, raw, result.Text)
	assert.Equal(t, domain.TerminalReasonMalformedDirective, result.TerminalReason)
	assert.Empty(t, result.Trace)
	assert.Equal(t, []domain.EventStatus{domain.EventWorkflowStarted, domain.EventWorkflowComplete}, events.Statuses())
}

func TestRunWorkflowUndispatchableDirectivesDegrade(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "unknown agent", raw: continueJSON("astrologer", "read the stars")},
		{name: "reserved monitor", raw: continueJSON("monitor", "grade yourself")},
		{name: "reserved supervisor", raw: continueJSON("supervisor", "recurse")},
		{name: "missing task", raw: `{"status":"continue","agent":"emotion"}`},
		{name: "missing agent", raw: `{"status":"continue","task":"do something"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := newScriptedExecutor(map[string][]reply{"supervisor": {{text: tc.raw}}})
			svc := newTestService(exec, Config{})

			result, err := svc.RunWorkflow(context.Background(), "hello", nil)
			require.NoError(t, err)
			assert.Equal(t, domain.TerminalReasonMalformedDirective, result.TerminalReason)
			assert.Equal(t, tc.raw, result.Text)
			assert.Empty(t, exec.callsTo("monitor"))
		})
	}
}

func TestRunWorkflowCompleteWithoutResponseFallsBackToRawText(t *testing.T) {
	raw := `{"status":"complete"}`
	exec := newScriptedExecutor(map[string][]reply{"supervisor": {{text: raw}}})
	svc := newTestService(exec, Config{})

	result, err := svc.RunWorkflow(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.TerminalReasonSupervisorComplete, result.TerminalReason)
	assert.Equal(t, raw, result.Text)
}

func TestRunWorkflowSurfacesAgentExecutionError(t *testing.T) {
	cause := errors.New("upstream 503")
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {
			{text: continueJSON("planner", "plan")},
			{text: continueJSON("emotion", "comfort")},
		},
		"planner": {{text: "a plan"}},
		"monitor": {{text: `{"satisfaction": 9}`}},
		"emotion": {{err: &agent.ExecutionError{Agent: "emotion", Err: cause}}},
	})
	svc := newTestService(exec, Config{})
	events := &EventLog{}

	result, err := svc.RunWorkflow(context.Background(), "hello", events)
	require.Error(t, err)

	var execErr *agent.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "emotion", execErr.Agent)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, domain.TerminalReasonError, result.TerminalReason)
	assert.Empty(t, result.Text)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, "planner", result.Trace[0].Agent)

	statuses := events.Statuses()
	assert.Equal(t, domain.EventWorkflowError, statuses[len(statuses)-1])
	last := events.Events()[len(statuses)-1]
	assert.Equal(t, domain.TerminalReasonError, last.TerminalReason)
	assert.Contains(t, last.Message, "upstream 503")
}

func TestRunWorkflowSupervisorFailureIsTerminalError(t *testing.T) {
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {{err: &agent.ExecutionError{Agent: "supervisor", Err: context.DeadlineExceeded}}},
	})
	svc := newTestService(exec, Config{})

	result, err := svc.RunWorkflow(context.Background(), "hello", nil)
	var execErr *agent.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.True(t, execErr.IsTimeout())
	assert.Equal(t, domain.TerminalReasonError, result.TerminalReason)
}

func TestRunWorkflowRetryFailureIsTerminalError(t *testing.T) {
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {{text: continueJSON("emotion", "comfort")}},
		"emotion": {
			{text: "meh"},
			{err: &agent.ExecutionError{Agent: "emotion", Err: errors.New("boom")}},
		},
		"monitor": {{text: `{"satisfaction": 2}`}},
	})
	svc := newTestService(exec, Config{})

	result, err := svc.RunWorkflow(context.Background(), "hello", nil)
	require.Error(t, err)
	assert.Equal(t, domain.TerminalReasonError, result.TerminalReason)
	assert.Empty(t, result.Trace)
}

func TestRunWorkflowMonitorFailureCountsAsPass(t *testing.T) {
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {
			{text: continueJSON("emotion", "comfort")},
			{text: `{"status":"complete","user_response":"done"}`},
		},
		"emotion": {{text: "there there"}},
		"monitor": {{err: &agent.ExecutionError{Agent: "monitor", Err: errors.New("down")}}},
	})
	svc := newTestService(exec, Config{})

	result, err := svc.RunWorkflow(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, 10, result.Trace[0].Evaluation.Satisfaction)
	assert.False(t, result.Trace[0].Retried)
}

func TestRunWorkflowClampsOutOfRangeScores(t *testing.T) {
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {
			{text: continueJSON("emotion", "comfort")},
			{text: `{"status":"complete","user_response":"done"}`},
		},
		"emotion": {{text: "there there"}},
		"monitor": {{text: "satisfaction: 13"}},
	})
	svc := newTestService(exec, Config{})

	result, err := svc.RunWorkflow(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.Len(t, result.Trace, 1)
	assert.Equal(t, 10, result.Trace[0].Evaluation.Satisfaction)
	assert.False(t, result.Trace[0].Retried)
}

func TestRunWorkflowThresholdIsInclusive(t *testing.T) {
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {
			{text: continueJSON("emotion", "comfort")},
			{text: `{"status":"complete","user_response":"done"}`},
		},
		"emotion": {{text: "ok"}},
		"monitor": {{text: `{"satisfaction": "7"}`}},
	})
	svc := newTestService(exec, Config{})

	result, err := svc.RunWorkflow(context.Background(), "hello", nil)
	require.NoError(t, err)
	assert.False(t, result.Trace[0].Retried)
	assert.Len(t, exec.callsTo("emotion"), 1)
}

func TestRunWorkflowIterationEventsAreOptIn(t *testing.T) {
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {
			{text: continueJSON("planner", "plan")},
			{text: `{"status":"complete","user_response":"done"}`},
		},
		"planner": {{text: "plan"}},
		"monitor": {{text: `{"satisfaction": 9}`}},
	})
	svc := newTestService(exec, Config{EmitIterationEvents: true})
	events := &EventLog{}

	_, err := svc.RunWorkflow(context.Background(), "hello", events)
	require.NoError(t, err)
	assert.Equal(t, []domain.EventStatus{
		domain.EventWorkflowStarted,
		domain.EventIteration,
		domain.EventAgentSelected,
		domain.EventMonitoring,
		domain.EventAgentCompleted,
		domain.EventIteration,
		domain.EventWorkflowComplete,
	}, events.Statuses())
	assert.Equal(t, 2, events.Events()[5].Iteration)
}

func TestRunWorkflowFeedsPreviousRecordToSupervisor(t *testing.T) {
	exec := newScriptedExecutor(map[string][]reply{
		"supervisor": {
			{text: continueJSON("planner", "draft a schedule")},
			{text: `{"status":"complete","user_response":"done"}`},
		},
		"planner": {{text: "Monday: slides"}},
		"monitor": {{text: `{"satisfaction": 9}`}},
	})
	svc := New(exec, testPolicy(), nil, nil, Config{Agents: []domain.AgentDescriptor{
		{ID: "supervisor", Capability: "routing"},
		{ID: "emotion", Capability: "emotional support"},
		{ID: "planner", Capability: "planning"},
		{ID: "monitor", Capability: "grading"},
	}}, log.New(io.Discard, "", 0))

	_, err := svc.RunWorkflow(context.Background(), "help me prepare", nil)
	require.NoError(t, err)

	calls := exec.callsTo("supervisor")
	require.Len(t, calls, 2)
	assert.Contains(t, calls[0].task, "help me prepare")
	assert.Contains(t, calls[0].task, "- emotion: emotional support")
	assert.NotContains(t, calls[0].task, "- monitor")
	assert.NotContains(t, calls[0].task, "Previous directive")

	assert.Contains(t, calls[1].task, "Previous directive")
	assert.Contains(t, calls[1].task, "draft a schedule")
	assert.Contains(t, calls[1].task, "Monday: slides")

	plannerCalls := exec.callsTo("planner")
	require.Len(t, plannerCalls, 1)
	assert.True(t, strings.HasPrefix(plannerCalls[0].task, "draft a schedule"))
	assert.Contains(t, plannerCalls[0].task, "user is anxious")
	assert.Contains(t, plannerCalls[0].task, "help me prepare")
}

func TestRunWorkflowCancelledContext(t *testing.T) {
	exec := newScriptedExecutor(map[string][]reply{"supervisor": {{text: "unused"}}})
	svc := newTestService(exec, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.RunWorkflow(ctx, "hello", nil)
	require.ErrorIs(t, err, context.Canceled)
	var execErr *agent.ExecutionError
	assert.False(t, errors.As(err, &execErr), "caller cancellation must not look like an agent failure")
	assert.Equal(t, domain.TerminalReasonError, result.TerminalReason)
	assert.Empty(t, exec.callsTo("supervisor"))
}

func TestRunWorkflowConcurrentRunsAreIndependent(t *testing.T) {
	svc := newTestService(newScriptedExecutor(map[string][]reply{
		"supervisor": {{text: `{"status":"complete","user_response":"hi"}`}},
	}), Config{})

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := svc.RunWorkflow(context.Background(), "hello", nil)
			assert.NoError(t, err)
			ids[i] = result.RunID
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate run id %s", id)
		seen[id] = true
	}
}
