// Package audit persists the trail of every pipeline run: a SQLite event
// log for queries and per-run append-only JSONL shards consolidated into a
// single history file.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite audit database.
type DB struct {
	conn *sql.DB
	path string
}

// DefaultDBPath returns {baseDir}/steward.db, creating baseDir if needed.
func DefaultDBPath(baseDir string) (string, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", baseDir, err)
	}
	return filepath.Join(baseDir, "steward.db"), nil
}

// Open opens or creates the database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pipeline_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    issue       INTEGER NOT NULL,
    run_id      TEXT NOT NULL,
    event       TEXT NOT NULL,
    stage       TEXT,
    attempt     INTEGER,
    detail      TEXT,
    timestamp   TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_pipeline_issue ON pipeline_events(issue, timestamp DESC);

CREATE TABLE IF NOT EXISTS stage_attempts (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    issue            INTEGER NOT NULL,
    run_id           TEXT NOT NULL,
    stage            TEXT NOT NULL,
    attempt          INTEGER NOT NULL,
    status           TEXT NOT NULL CHECK(status IN ('passed','skipped','failed','blocked')),
    artifact_path    TEXT,
    error_message    TEXT,
    duration_seconds REAL,
    timestamp        TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_stage_issue ON stage_attempts(issue, stage);

CREATE TABLE IF NOT EXISTS credential_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id      TEXT NOT NULL,
    event       TEXT NOT NULL CHECK(event IN ('acquired','released','cooldown','timeout')),
    detail      TEXT,
    timestamp   TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// PipelineEvent represents a row in the pipeline_events table.
type PipelineEvent struct {
	ID        int
	Issue     int
	RunID     string
	Event     string
	Stage     string
	Attempt   int
	Detail    string
	Timestamp string
}

// LogPipelineEvent inserts a pipeline event.
func (d *DB) LogPipelineEvent(issue int, runID, event, stage string, attempt int, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO pipeline_events (issue, run_id, event, stage, attempt, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		issue, runID, event, stage, attempt, detail,
	)
	if err != nil {
		return fmt.Errorf("log pipeline event: %w", err)
	}
	return nil
}

// LogStageAttempt inserts a stage attempt record.
func (d *DB) LogStageAttempt(issue int, runID, stage string, attempt int, status, artifactPath, errorMessage string, durationSeconds float64) error {
	_, err := d.conn.Exec(
		`INSERT INTO stage_attempts (issue, run_id, stage, attempt, status, artifact_path, error_message, duration_seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		issue, runID, stage, attempt, status, artifactPath, errorMessage, durationSeconds,
	)
	if err != nil {
		return fmt.Errorf("log stage attempt: %w", err)
	}
	return nil
}

// LogCredentialEvent inserts a credential lifecycle event.
func (d *DB) LogCredentialEvent(runID, event, detail string) error {
	_, err := d.conn.Exec(
		`INSERT INTO credential_events (run_id, event, detail) VALUES (?, ?, ?)`,
		runID, event, detail,
	)
	if err != nil {
		return fmt.Errorf("log credential event: %w", err)
	}
	return nil
}

// CredentialEvent represents a row in the credential_events table.
type CredentialEvent struct {
	ID        int
	RunID     string
	Event     string
	Detail    string
	Timestamp string
}

// RecentCredentialEvents returns the latest credential lifecycle events,
// newest first.
func (d *DB) RecentCredentialEvents(limit int) ([]CredentialEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.Query(
		`SELECT id, run_id, event, COALESCE(detail,''), timestamp
		 FROM credential_events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query credential events: %w", err)
	}
	defer rows.Close()

	var events []CredentialEvent
	for rows.Next() {
		var e CredentialEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.Event, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan credential event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecentEvents returns the latest pipeline events for an issue, newest first.
func (d *DB) RecentEvents(issue int, limit int) ([]PipelineEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.conn.Query(
		`SELECT id, issue, run_id, event, COALESCE(stage,''), COALESCE(attempt,0), COALESCE(detail,''), timestamp
		 FROM pipeline_events WHERE issue = ? ORDER BY id DESC LIMIT ?`,
		issue, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query pipeline events: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		if err := rows.Scan(&e.ID, &e.Issue, &e.RunID, &e.Event, &e.Stage, &e.Attempt, &e.Detail, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan pipeline event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
