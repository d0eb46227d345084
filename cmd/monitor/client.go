package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"
)

type client struct {
	baseURL string
	http    *http.Client
}

func (c *client) startRun(message string) (string, error) {
	var out struct {
		RunID string `json:"run_id"`
	}
	if err := c.postJSON("/runs?async=true", map[string]any{"message": message}, &out); err != nil {
		return "", err
	}
	if out.RunID == "" {
		return "", fmt.Errorf("server returned no run id")
	}
	return out.RunID, nil
}

func (c *client) listRuns(limit int) ([]domain.Run, error) {
	var out []domain.Run
	if err := c.getJSON(fmt.Sprintf("/runs?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listRunEvents(runID string) ([]domain.RunEvent, error) {
	var out []domain.RunEvent
	if err := c.getJSON(fmt.Sprintf("/runs/%s/events", runID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listRunIterations(runID string) ([]domain.IterationRecord, error) {
	var out []domain.IterationRecord
	if err := c.getJSON(fmt.Sprintf("/runs/%s/iterations", runID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listAgents() ([]domain.AgentDescriptor, error) {
	var out []domain.AgentDescriptor
	if err := c.getJSON("/agents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (c *client) postJSON(path string, in any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func waitHealth(c *client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/healthz", nil)
		if err == nil {
			resp, err := c.http.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode < 300 {
					return nil
				}
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}

type embeddedServer struct {
	cmd *exec.Cmd
}

// startEmbeddedServer launches the mindforge server next to the monitor.
// It prefers an explicit binary, then a sibling binary, then `go run`.
func startEmbeddedServer(port, serverBinary, configPath, dbPath string) (*embeddedServer, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	args := []string{"--addr", ":" + port, "--db", dbPath}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	var cmd *exec.Cmd
	if strings.TrimSpace(serverBinary) != "" {
		cmd = exec.Command(serverBinary, args...)
	} else if self, err := os.Executable(); err == nil {
		for _, name := range []string{"mindforge", "mindforge.exe"} {
			sibling := filepath.Join(filepath.Dir(self), name)
			if fileExists(sibling) {
				cmd = exec.Command(sibling, args...)
				break
			}
		}
	}
	if cmd == nil {
		cmd = exec.Command("go", append([]string{"run", "./cmd/mindforge"}, args...)...)
	}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start mindforge process: %w", err)
	}
	return &embeddedServer{cmd: cmd}, nil
}

func (e *embeddedServer) Stop() {
	if e == nil || e.cmd == nil || e.cmd.Process == nil {
		return
	}
	_ = e.cmd.Process.Kill()
	_, _ = e.cmd.Process.Wait()
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
