package main

import (
	"strings"
	"testing"
	"time"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

func TestRunState(t *testing.T) {
	done := time.Now()
	cases := []struct {
		run  domain.Run
		want string
	}{
		{run: domain.Run{}, want: "running"},
		{run: domain.Run{FinishedAt: &done, TerminalReason: domain.TerminalReasonMaxIterations}, want: "max_iterations"},
		{run: domain.Run{FinishedAt: &done, TerminalReason: domain.TerminalReasonError, Fallback: true}, want: "fallback"},
	}
	for _, tc := range cases {
		if got := runState(tc.run); got != tc.want {
			t.Fatalf("runState(%+v)=%s want=%s", tc.run, got, tc.want)
		}
	}
}

func TestRenderTraceEscapesModelText(t *testing.T) {
	out := renderTrace([]domain.IterationRecord{{
		Iteration:     1,
		Agent:         "emotion",
		Task:          "comfort",
		FinalResponse: "use [red] carefully",
		Evaluation:    domain.Evaluation{Satisfaction: 5, Feedback: "warmer"},
		Retried:       true,
	}})
	if !strings.Contains(out, "#1 emotion") || !strings.Contains(out, "retried") {
		t.Fatalf("unexpected trace: %q", out)
	}
	if !strings.Contains(out, "[red[]") {
		t.Fatalf("model text not escaped: %q", out)
	}
}

func TestRenderAgentStats(t *testing.T) {
	agents := []domain.AgentDescriptor{{ID: "emotion"}, {ID: "planner"}}
	records := []domain.IterationRecord{
		{Agent: "planner", Evaluation: domain.Evaluation{Satisfaction: 8}},
		{Agent: "planner", Evaluation: domain.Evaluation{Satisfaction: 6}, Retried: true},
	}
	out := renderAgentStats(agents, records)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines=%d: %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "planner") || !strings.Contains(lines[0], "calls=2 retries=1 avg=7.0") {
		t.Fatalf("unexpected planner line: %q", lines[0])
	}
	if !strings.Contains(lines[1], "avg=-") {
		t.Fatalf("unexpected emotion line: %q", lines[1])
	}
}

func TestTrimLine(t *testing.T) {
	if got := trimLine("abcdefghij", 8); got != "abcde..." {
		t.Fatalf("trimLine=%q", got)
	}
	if got := oneLine("a\n  b\tc"); got != "a b c" {
		t.Fatalf("oneLine=%q", got)
	}
}
