package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MindForge-AdventureX2025/MindForgeServer-sub000/internal/domain"

	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	message TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	terminal_reason TEXT NOT NULL DEFAULT '',
	last_error TEXT NOT NULL DEFAULT '',
	iterations INTEGER NOT NULL DEFAULT 0,
	fallback INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	finished_at INTEGER NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

CREATE TABLE IF NOT EXISTS iteration_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	iteration INTEGER NOT NULL,
	agent TEXT NOT NULL,
	task TEXT NOT NULL,
	response TEXT NOT NULL,
	satisfaction INTEGER NOT NULL,
	feedback TEXT NOT NULL DEFAULT '',
	retried INTEGER NOT NULL DEFAULT 0,
	final_response TEXT NOT NULL,
	UNIQUE(run_id, iteration),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS run_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	status TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(run_id, seq),
	FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run domain.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs(id, message, created_at) VALUES(?, ?, ?)`,
		run.ID, run.Message, run.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run, creating the row if CreateRun
// never succeeded.
func (s *Store) FinishRun(ctx context.Context, run domain.Run) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO runs(id, message, text, terminal_reason, last_error, iterations, fallback, created_at, finished_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			terminal_reason = excluded.terminal_reason,
			last_error = excluded.last_error,
			iterations = excluded.iterations,
			fallback = excluded.fallback,
			finished_at = excluded.finished_at`,
		run.ID, run.Message, run.Text, string(run.TerminalReason), run.LastError, run.Iterations,
		boolToInt(run.Fallback), run.CreatedAt.UnixMilli(), nullableUnixMilli(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// MarkFallback replaces the text of a failed run with a direct completion.
func (s *Store) MarkFallback(ctx context.Context, runID, text string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET fallback = 1, text = ? WHERE id = ?`, text, runID)
	if err != nil {
		return fmt.Errorf("mark fallback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark fallback rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func (s *Store) AppendEvent(ctx context.Context, runID string, seq int, event domain.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	createdAt := event.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO run_events(run_id, seq, status, payload, created_at) VALUES(?, ?, ?, ?, ?)`,
		runID, seq, string(event.Status), string(payload), createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *Store) SaveIterations(ctx context.Context, runID string, records []domain.IterationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save iterations: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, r := range records {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT OR REPLACE INTO iteration_records(
				run_id, iteration, agent, task, response, satisfaction, feedback, retried, final_response
			) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, r.Iteration, r.Agent, r.Task, r.Response, r.Evaluation.Satisfaction,
			r.Evaluation.Feedback, boolToInt(r.Retried), r.FinalResponse,
		); err != nil {
			return fmt.Errorf("save iteration %d: %w", r.Iteration, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save iterations: %w", err)
	}
	return nil
}

const runColumns = `id, message, text, terminal_reason, last_error, iterations, fallback, created_at, finished_at`

func (s *Store) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return domain.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}

// ListRunEvents returns a run's events in emission order.
func (s *Store) ListRunEvents(ctx context.Context, runID string, limit int) ([]domain.RunEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, seq, payload, created_at
		FROM run_events
		WHERE run_id = ?
		ORDER BY seq ASC
		LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list run events: %w", err)
	}
	defer rows.Close()

	result := make([]domain.RunEvent, 0)
	for rows.Next() {
		var item domain.RunEvent
		var payload string
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.RunID, &item.Seq, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan run event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &item.Event); err != nil {
			return nil, fmt.Errorf("decode run event %d: %w", item.ID, err)
		}
		item.CreatedAt = unixMilliToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run events: %w", err)
	}
	return result, nil
}

func (s *Store) ListRunIterations(ctx context.Context, runID string) ([]domain.IterationRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT iteration, agent, task, response, satisfaction, feedback, retried, final_response
		FROM iteration_records
		WHERE run_id = ?
		ORDER BY iteration ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list run iterations: %w", err)
	}
	defer rows.Close()

	result := make([]domain.IterationRecord, 0)
	for rows.Next() {
		var r domain.IterationRecord
		var retried int
		if err := rows.Scan(
			&r.Iteration, &r.Agent, &r.Task, &r.Response, &r.Evaluation.Satisfaction,
			&r.Evaluation.Feedback, &retried, &r.FinalResponse,
		); err != nil {
			return nil, fmt.Errorf("scan iteration: %w", err)
		}
		r.Retried = retried != 0
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate iterations: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var reason string
	var fallback int
	var createdAt int64
	var finishedAt sql.NullInt64
	if err := row.Scan(
		&run.ID, &run.Message, &run.Text, &reason, &run.LastError, &run.Iterations,
		&fallback, &createdAt, &finishedAt,
	); err != nil {
		return domain.Run{}, err
	}
	run.TerminalReason = domain.TerminalReason(reason)
	run.Fallback = fallback != 0
	run.CreatedAt = unixMilliToTime(createdAt)
	run.FinishedAt = int64ToTimePtr(finishedAt)
	return run, nil
}

func int64ToTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid || v.Int64 <= 0 {
		return nil
	}
	t := unixMilliToTime(v.Int64)
	return &t
}

func unixMilliToTime(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullableUnixMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
