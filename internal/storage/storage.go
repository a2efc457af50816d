// Package storage persists patch runs and their event streams in SQLite so
// past runs can be listed and audited after the process exits.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/bugpilot/bugpilot/internal/events"
	"github.com/bugpilot/bugpilot/internal/patch"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	issue_title TEXT NOT NULL,
	repo_name   TEXT NOT NULL DEFAULT '',
	model       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT NOT NULL DEFAULT '',
	branch      TEXT NOT NULL DEFAULT '',
	commit_sha  TEXT NOT NULL DEFAULT '',
	result_json TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS run_events (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	agent      TEXT NOT NULL,
	type       TEXT NOT NULL,
	step       TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	data_json  TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
CREATE INDEX IF NOT EXISTS idx_run_events_created_at ON run_events(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`

// Run is one persisted patch generation run.
type Run struct {
	ID         string
	IssueTitle string
	RepoName   string
	Model      string
	Status     string
	Error      string
	Branch     string
	CommitSHA  string
	ResultJSON string
	CreatedAt  time.Time
	FinishedAt *time.Time
}

// Store is a SQLite-backed run/event store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the store at path and bootstraps the schema. The
// parent directory is created when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3",
		"file:"+path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a run with status "running".
func (s *Store) CreateRun(ctx context.Context, id, issueTitle, repoName, model string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, issue_title, repo_name, model, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, issueTitle, repoName, model, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun stores the terminal result for a run.
func (s *Store) FinishRun(ctx context.Context, id string, result *patch.Result) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, branch = ?, commit_sha = ?, result_json = ?, finished_at = ? WHERE id = ?`,
		result.Status, result.Error, result.Branch, result.CommitSHA,
		string(resultJSON), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// GetRun loads one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, issue_title, repo_name, model, status, error, branch, commit_sha, result_json, created_at, finished_at
		 FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, issue_title, repo_name, model, status, error, branch, commit_sha, result_json, created_at, finished_at
		 FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var createdAt string
	var finishedAt sql.NullString
	err := row.Scan(&run.ID, &run.IssueTitle, &run.RepoName, &run.Model,
		&run.Status, &run.Error, &run.Branch, &run.CommitSHA, &run.ResultJSON,
		&createdAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if finishedAt.Valid && finishedAt.String != "" {
		if t, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
			run.FinishedAt = &t
		}
	}
	return &run, nil
}

// AppendEvent persists one event under a run.
func (s *Store) AppendEvent(ctx context.Context, runID string, event *events.Event) error {
	dataJSON := ""
	if len(event.Data) > 0 {
		if encoded, err := json.Marshal(event.Data); err == nil {
			dataJSON = string(encoded)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_events (id, run_id, agent, type, step, message, data_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, runID, event.Agent, string(event.Type), event.Step, event.Message,
		dataJSON, event.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns events for a run in insertion order.
func (s *Store) ListEvents(ctx context.Context, runID string, limit int) ([]*events.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent, type, step, message, data_json, created_at
		 FROM run_events WHERE run_id = ? ORDER BY created_at ASC, rowid ASC LIMIT ?`,
		runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var list []*events.Event
	for rows.Next() {
		event := &events.Event{}
		var eventType, dataJSON, createdAt string
		if err := rows.Scan(&event.ID, &event.Agent, &eventType, &event.Step,
			&event.Message, &dataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Type = events.Type(eventType)
		if dataJSON != "" {
			_ = json.Unmarshal([]byte(dataJSON), &event.Data)
		}
		event.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		list = append(list, event)
	}
	return list, rows.Err()
}

// CleanupEventsByAge deletes events older than the given age, returning the
// number deleted. Runs themselves are kept.
func (s *Store) CleanupEventsByAge(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-age).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM run_events WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup events: %w", err)
	}
	return res.RowsAffected()
}

// PersistingEmitter forwards events to an inner emitter and records each
// one under a run id. Persistence failures are logged, never propagated;
// events are advisory and must not affect the patch workflow.
type PersistingEmitter struct {
	store *Store
	runID string
	inner events.Emitter
}

// NewPersistingEmitter wraps inner (nil means events are only persisted).
func NewPersistingEmitter(store *Store, runID string, inner events.Emitter) *PersistingEmitter {
	if inner == nil {
		inner = events.NopEmitter{}
	}
	return &PersistingEmitter{store: store, runID: runID, inner: inner}
}

// Emit implements events.Emitter.
func (p *PersistingEmitter) Emit(agent string, eventType events.Type, step, message string, data map[string]any) {
	p.inner.Emit(agent, eventType, step, message, data)
	event := events.New(agent, eventType, step, message, data)
	if err := p.store.AppendEvent(context.Background(), p.runID, event); err != nil {
		slog.Warn("failed to persist event", "run_id", p.runID, "step", step, "error", err)
	}
}
