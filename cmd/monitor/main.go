package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

func main() {
	addr := flag.String("addr", "http://localhost:8091", "mindforge base URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	embedded := flag.Bool("embedded", true, "start the mindforge server in the same monitor process lifecycle")
	serverBinary := flag.String("server-bin", "", "path to mindforge binary (optional in embedded mode)")
	configPath := flag.String("config", "", "config.toml passed to the embedded server")
	dbPath := flag.String("db", "data/embedded.db", "sqlite db path for the embedded server")
	flag.Parse()

	c := &client{
		baseURL: strings.TrimRight(*addr, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	if *embedded {
		parsed, err := url.Parse(*addr)
		if err != nil || parsed.Port() == "" {
			fmt.Fprintf(os.Stderr, "addr must include an explicit port, got %q\n", *addr)
			os.Exit(1)
		}
		proc, err := startEmbeddedServer(parsed.Port(), *serverBinary, *configPath, *dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded server: %v\n", err)
			os.Exit(1)
		}
		defer proc.Stop()
	}

	if err := waitHealth(c, 30*time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "mindforge health check failed: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	runsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	runsTable.SetTitle("Runs (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	traceView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	traceView.SetTitle("Trace").SetBorder(true)

	eventsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	eventsView.SetTitle("Events").SetBorder(true)

	answerView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true)
	answerView.SetTitle("Answer").SetBorder(true)

	agentsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	agentsView.SetTitle("Agents").SetBorder(true)

	promptInput := tview.NewInputField().
		SetLabel("Message -> MindForge: ")
	promptInput.SetBorder(true).SetTitle("Enter = start run")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf(
		"Connected to %s | embedded=%t | shortcuts: F10 quit, F5 refresh, Ctrl+L focus prompt, Ctrl+T focus runs",
		c.baseURL,
		*embedded,
	))

	rightTop := tview.NewFlex().
		AddItem(traceView, 0, 2, false).
		AddItem(eventsView, 0, 1, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(rightTop, 0, 3, false).
		AddItem(agentsView, 8, 0, false).
		AddItem(answerView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(runsTable, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(promptInput, 3, 0, true).
		AddItem(statusView, 3, 0, false)

	var selectedRunID string
	var lastRuns []domain.Run
	var agents []domain.AgentDescriptor
	var detailsVersion uint64

	setStatusUI := func(msg string) {
		statusView.SetText(msg)
	}
	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refreshRuns := func() {
		runs, err := c.listRuns(100)
		if err != nil {
			app.QueueUpdateDraw(func() {
				runsTable.Clear()
				runsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			})
			return
		}
		lastRuns = runs
		app.QueueUpdateDraw(func() {
			renderRunsTable(runsTable, runs, selectedRunID)
		})
	}

	findRun := func(runID string) (domain.Run, bool) {
		for _, r := range lastRuns {
			if r.ID == runID {
				return r, true
			}
		}
		return domain.Run{}, false
	}

	refreshDetailsAsync := func(runID string) {
		if strings.TrimSpace(runID) == "" {
			return
		}
		version := atomic.AddUint64(&detailsVersion, 1)

		go func(selected string, v uint64) {
			type traceResult struct {
				items []domain.IterationRecord
				err   error
			}
			type eventResult struct {
				items []domain.RunEvent
				err   error
			}

			traceCh := make(chan traceResult, 1)
			eventCh := make(chan eventResult, 1)
			go func() {
				items, err := c.listRunIterations(selected)
				traceCh <- traceResult{items: items, err: err}
			}()
			go func() {
				items, err := c.listRunEvents(selected)
				eventCh <- eventResult{items: items, err: err}
			}()
			traceRes := <-traceCh
			eventRes := <-eventCh

			if atomic.LoadUint64(&detailsVersion) != v {
				return
			}
			app.QueueUpdateDraw(func() {
				if selected != selectedRunID {
					return
				}
				if traceRes.err != nil {
					traceView.SetText(fmt.Sprintf("error: %v", traceRes.err))
				} else {
					traceView.SetText(renderTrace(traceRes.items))
				}
				if eventRes.err != nil {
					eventsView.SetText(fmt.Sprintf("error: %v", eventRes.err))
				} else {
					eventsView.SetText(renderEvents(eventRes.items))
				}
				agentsView.SetText(renderAgentStats(agents, traceRes.items))
				if run, ok := findRun(selected); ok {
					answerView.SetText(renderAnswer(run))
				}
			})
		}(runID, version)
	}

	submitPrompt := func(message string) {
		message = strings.TrimSpace(message)
		if message == "" {
			return
		}
		setStatusUI("Starting run...")
		promptInput.SetText("")
		go func(input string) {
			runID, err := c.startRun(input)
			if err != nil {
				setStatusAsync("Failed to start run: " + err.Error())
				return
			}
			selectedRunID = runID
			refreshRuns()
			refreshDetailsAsync(selectedRunID)
			setStatusAsync("Run started: " + runID)
		}(message)
	}

	promptInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		submitPrompt(promptInput.GetText())
	})

	runsTable.SetSelectedFunc(func(row, _ int) {
		if row <= 0 || row > len(lastRuns) {
			return
		}
		selectedRunID = lastRuns[row-1].ID
		refreshDetailsAsync(selectedRunID)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == promptInput {
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
				app.SetFocus(runsTable)
				setStatusUI("Focus -> runs")
				return nil
			}
			return event
		}

		switch event.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlT:
			app.SetFocus(runsTable)
			setStatusUI("Focus -> runs")
			return nil
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go func() {
				refreshRuns()
				refreshDetailsAsync(selectedRunID)
				setStatusAsync("Manual refresh complete")
			}()
			return nil
		case tcell.KeyCtrlL, tcell.KeyTAB:
			app.SetFocus(promptInput)
			setStatusUI("Focus -> prompt")
			return nil
		case tcell.KeyRune:
			app.SetFocus(promptInput)
			return event
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		if list, err := c.listAgents(); err == nil {
			agents = list
		} else {
			setStatusAsync("Failed to load agents: " + err.Error())
		}
		refreshRuns()
		for _, r := range lastRuns {
			if r.FinishedAt == nil {
				selectedRunID = r.ID
				break
			}
		}
		if selectedRunID == "" && len(lastRuns) > 0 {
			selectedRunID = lastRuns[0].ID
		}
		refreshDetailsAsync(selectedRunID)

		for range ticker.C {
			refreshRuns()
			if selectedRunID == "" && len(lastRuns) > 0 {
				selectedRunID = lastRuns[0].ID
			}
			refreshDetailsAsync(selectedRunID)
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(promptInput).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}
