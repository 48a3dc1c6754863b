package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/conveyorci/conveyor/internal/executor"
)

// Store is the SQLite-backed run store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the run database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		project TEXT NOT NULL,
		trigger TEXT NOT NULL,
		parameters TEXT NOT NULL DEFAULT '{}',
		state TEXT NOT NULL,
		ref TEXT DEFAULT '',
		commit_sha TEXT DEFAULT '',
		sender TEXT DEFAULT '',
		error TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS stage_results (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		stage TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		output TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		stage TEXT NOT NULL,
		line TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_state ON runs(state);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_run_logs_run_id ON run_logs(run_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate run store: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *Store) CreateRun(run *RunRecord) error {
	params, err := json.Marshal(run.Parameters)
	if err != nil {
		return fmt.Errorf("marshal run parameters: %w", err)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	_, err = s.db.Exec(`
		INSERT INTO runs (id, project, trigger, parameters, state, ref, commit_sha, sender, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Project, run.Trigger, string(params), string(run.State),
		run.Ref, run.Commit, run.Sender, run.Error, run.CreatedAt, run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert run %q: %w", run.ID, err)
	}
	return nil
}

// UpdateRun rewrites the mutable fields of a run record.
func (s *Store) UpdateRun(run *RunRecord) error {
	res, err := s.db.Exec(`
		UPDATE runs SET state = ?, error = ?, started_at = ?, finished_at = ? WHERE id = ?`,
		string(run.State), run.Error, run.StartedAt, run.FinishedAt, run.ID)
	if err != nil {
		return fmt.Errorf("update run %q: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return &NotFoundError{ID: run.ID}
	}
	return nil
}

// GetRun fetches one run by id.
func (s *Store) GetRun(id string) (*RunRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, project, trigger, parameters, state, ref, commit_sha, sender, error, created_at, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get run %q: %w", id, err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, project, trigger, parameters, state, ref, commit_sha, sender, error, created_at, started_at, finished_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// SaveStageResult persists one stage result for a run.
func (s *Store) SaveStageResult(runID string, position int, result executor.Result) error {
	_, err := s.db.Exec(`
		INSERT INTO stage_results (run_id, position, stage, status, exit_code, output, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, position) DO UPDATE SET
			status = excluded.status,
			exit_code = excluded.exit_code,
			output = excluded.output,
			error = excluded.error,
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms`,
		runID, position, result.Stage, string(result.Status), result.ExitCode,
		result.Output, result.Error, result.StartedAt, result.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("save stage result %q/%d: %w", runID, position, err)
	}
	return nil
}

// ListStageResults returns a run's stage results in execution order.
func (s *Store) ListStageResults(runID string) ([]StageRecord, error) {
	rows, err := s.db.Query(`
		SELECT run_id, position, stage, status, exit_code, output, error, started_at, duration_ms
		FROM stage_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stage results %q: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []StageRecord
	for rows.Next() {
		var rec StageRecord
		var startedAt sql.NullTime
		var durationMs int64
		var status string
		if err := rows.Scan(&rec.RunID, &rec.Position, &rec.Stage, &status, &rec.ExitCode,
			&rec.Output, &rec.Error, &startedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		rec.Status = executor.Status(status)
		if startedAt.Valid {
			rec.StartedAt = startedAt.Time
		}
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendLog stores one redacted output line for a run.
func (s *Store) AppendLog(runID string, entry LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO run_logs (run_id, timestamp, stage, line) VALUES (?, ?, ?, ?)`,
		runID, entry.Timestamp, entry.Stage, entry.Line)
	if err != nil {
		return fmt.Errorf("append log for run %q: %w", runID, err)
	}
	return nil
}

// ListLogs returns a run's log lines in insertion order.
func (s *Store) ListLogs(runID string) ([]LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT timestamp, stage, line FROM run_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list logs %q: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []LogEntry
	for rows.Next() {
		var entry LogEntry
		if err := rows.Scan(&entry.Timestamp, &entry.Stage, &entry.Line); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var run RunRecord
	var params, state string
	var startedAt, finishedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.Project, &run.Trigger, &params, &state,
		&run.Ref, &run.Commit, &run.Sender, &run.Error, &run.CreatedAt, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.State = RunState(state)
	if err := json.Unmarshal([]byte(params), &run.Parameters); err != nil {
		return nil, fmt.Errorf("decode run parameters: %w", err)
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}
