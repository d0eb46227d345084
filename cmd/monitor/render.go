package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

func renderRunsTable(table *tview.Table, runs []domain.Run, selectedRunID string) {
	table.Clear()
	headers := []string{"Run", "State", "Iter", "Started", "Message"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, r := range runs {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(r.ID)))
		table.SetCell(row, 1, tview.NewTableCell(runState(r)).SetTextColor(runStateColor(r)))
		table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%d", r.Iterations)))
		table.SetCell(row, 3, tview.NewTableCell(r.CreatedAt.Local().Format("15:04:05")))
		table.SetCell(row, 4, tview.NewTableCell(trimLine(oneLine(r.Message), 64)))
		if r.ID == selectedRunID {
			table.Select(row, 0)
		}
	}
}

func runState(r domain.Run) string {
	switch {
	case r.FinishedAt == nil:
		return "running"
	case r.Fallback:
		return "fallback"
	default:
		return string(r.TerminalReason)
	}
}

func runStateColor(r domain.Run) tcell.Color {
	switch {
	case r.FinishedAt == nil:
		return tcell.ColorYellow
	case r.TerminalReason == domain.TerminalReasonSupervisorComplete:
		return tcell.ColorGreen
	case r.TerminalReason == domain.TerminalReasonError:
		return tcell.ColorRed
	default:
		return tcell.ColorOrange
	}
}

func renderTrace(records []domain.IterationRecord) string {
	if len(records) == 0 {
		return "No iterations"
	}
	var b strings.Builder
	for _, r := range records {
		retried := ""
		if r.Retried {
			retried = " [yellow]retried[-]"
		}
		fmt.Fprintf(&b, "#%d %s  satisfaction=%s%s\n", r.Iteration, r.Agent, scoreTag(r.Evaluation.Satisfaction), retried)
		fmt.Fprintf(&b, "  task: %s\n", tview.Escape(trimLine(oneLine(r.Task), 120)))
		if r.Evaluation.Feedback != "" {
			fmt.Fprintf(&b, "  feedback: %s\n", tview.Escape(trimLine(oneLine(r.Evaluation.Feedback), 120)))
		}
		fmt.Fprintf(&b, "  response: %s\n", tview.Escape(trimLine(oneLine(r.FinalResponse), 160)))
	}
	return b.String()
}

func scoreTag(score int) string {
	switch {
	case score >= 7:
		return fmt.Sprintf("[green]%d[-]", score)
	case score >= 4:
		return fmt.Sprintf("[yellow]%d[-]", score)
	default:
		return fmt.Sprintf("[red]%d[-]", score)
	}
}

func renderEvents(events []domain.RunEvent) string {
	if len(events) == 0 {
		return "No events"
	}
	var b strings.Builder
	for _, item := range events {
		ev := item.Event
		fmt.Fprintf(&b, "[%s] %-17s", ev.Timestamp.Local().Format("15:04:05"), ev.Status)
		if ev.Agent != "" {
			fmt.Fprintf(&b, " agent=%s", ev.Agent)
		}
		if ev.Satisfaction > 0 {
			fmt.Fprintf(&b, " satisfaction=%d", ev.Satisfaction)
		}
		if ev.Retried {
			b.WriteString(" retried")
		}
		if ev.TerminalReason != "" {
			fmt.Fprintf(&b, " reason=%s", ev.TerminalReason)
		}
		if ev.Fallback {
			b.WriteString(" fallback")
		}
		b.WriteString("\n")
		if ev.Feedback != "" {
			b.WriteString("  feedback: " + tview.Escape(trimLine(oneLine(ev.Feedback), 120)) + "\n")
		}
		if ev.Status == domain.EventWorkflowError && ev.Message != "" {
			b.WriteString("  error: " + tview.Escape(trimLine(oneLine(ev.Message), 120)) + "\n")
		}
	}
	return b.String()
}

type agentStats struct {
	Agent      string
	Calls      int
	Retries    int
	ScoreTotal int
}

// renderAgentStats summarises the selected run per agent, listing every
// registered agent even when it was not used.
func renderAgentStats(agents []domain.AgentDescriptor, records []domain.IterationRecord) string {
	stats := map[string]*agentStats{}
	order := make([]string, 0, len(agents))
	for _, a := range agents {
		stats[a.ID] = &agentStats{Agent: a.ID}
		order = append(order, a.ID)
	}
	for _, r := range records {
		s, ok := stats[r.Agent]
		if !ok {
			s = &agentStats{Agent: r.Agent}
			stats[r.Agent] = s
			order = append(order, r.Agent)
		}
		s.Calls++
		s.ScoreTotal += r.Evaluation.Satisfaction
		if r.Retried {
			s.Retries++
		}
	}
	if len(order) == 0 {
		return "No agents"
	}
	sort.SliceStable(order, func(i, j int) bool {
		return stats[order[i]].Calls > stats[order[j]].Calls
	})

	var b strings.Builder
	for _, id := range order {
		s := stats[id]
		avg := "-"
		if s.Calls > 0 {
			avg = fmt.Sprintf("%.1f", float64(s.ScoreTotal)/float64(s.Calls))
		}
		fmt.Fprintf(&b, "%-14s calls=%d retries=%d avg=%s\n", s.Agent, s.Calls, s.Retries, avg)
	}
	return b.String()
}

func renderAnswer(run domain.Run) string {
	if run.FinishedAt == nil {
		return "[yellow]running...[-]"
	}
	if run.Text == "" && run.LastError != "" {
		return "[red]" + tview.Escape(run.LastError) + "[-]"
	}
	return tview.Escape(run.Text)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}
