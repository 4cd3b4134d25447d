// Package runindex maintains a SQLite-backed index over output/runs/*, so
// GET /api/runs and GET /api/artifacts can enumerate without a full
// directory walk on every request. It is a derived cache: every row here
// is reconstructible from the on-disk artifact tree and the in-memory
// orchestrator state, so losing the database file loses query convenience,
// never data. Grounded on the teacher's jobs.Store (modernc.org/sqlite,
// single pooled connection, WAL) and internal/events.SQLiteStore's
// schema-then-prepared-query shape.
package runindex

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CLIAIMONITOR/internal/domain"
)

// RunRecord is one run's indexed state, joining the orchestrator's
// RunState with the specification fields a run list needs to display
// (project name, MCU) without re-reading the spec off disk.
type RunRecord struct {
	RunID          string
	ProjectName    string
	MCU            string
	Status         domain.Status
	Progress       int
	CurrentStage   string
	StartedAt      time.Time
	CompletedAt    time.Time
	OutputDir      string
	ArtifactCounts map[string]int
	Errors         []string
	Warnings       []string
}

// ArtifactRecord is one indexed artifact, scoped to the run that produced
// it.
type ArtifactRecord struct {
	RunID      string
	Category   string
	Filename   string
	Path       string
	Size       int64
	ModifiedAt time.Time
}

// Index is a handle to the run-index database. A *Index is safe for
// concurrent use; modernc.org/sqlite connections are serialized through a
// single pooled *sql.DB connection, matching the jobs.Store precedent.
type Index struct {
	db *sql.DB
}

// Open creates dbPath's parent directory if needed, opens (or creates)
// the index database, and ensures its schema.
func Open(dbPath string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("runindex: create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("runindex: open db: %w", err)
	}

	// A single connection keeps write ordering deterministic across the
	// orchestrator's sync goroutine and concurrent HTTP readers; modernc's
	// pragmas are connection-scoped, so this also avoids reapplying them
	// per pooled connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("runindex: %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Index{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id          TEXT PRIMARY KEY,
			project_name    TEXT NOT NULL,
			mcu             TEXT NOT NULL,
			status          TEXT NOT NULL,
			progress        INTEGER NOT NULL DEFAULT 0,
			current_stage   TEXT NOT NULL DEFAULT '',
			started_at      TEXT NOT NULL,
			completed_at    TEXT,
			output_dir      TEXT NOT NULL DEFAULT '',
			artifact_counts TEXT NOT NULL DEFAULT '{}',
			errors          TEXT NOT NULL DEFAULT '[]',
			warnings        TEXT NOT NULL DEFAULT '[]',
			updated_at      TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			run_id      TEXT NOT NULL,
			category    TEXT NOT NULL,
			filename    TEXT NOT NULL,
			path        TEXT NOT NULL,
			size        INTEGER NOT NULL,
			modified_at TEXT NOT NULL,
			PRIMARY KEY (run_id, path),
			FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("runindex: ensure schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database connection.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// UpsertRun inserts or replaces rec's row. Callers resync the whole
// record on every sync rather than patching individual
// columns, since RunState.Clone() already hands back a complete
// snapshot.
func (ix *Index) UpsertRun(rec RunRecord) error {
	counts, err := json.Marshal(rec.ArtifactCounts)
	if err != nil {
		return fmt.Errorf("runindex: marshal artifact counts: %w", err)
	}
	errs, err := json.Marshal(nonNil(rec.Errors))
	if err != nil {
		return fmt.Errorf("runindex: marshal errors: %w", err)
	}
	warnings, err := json.Marshal(nonNil(rec.Warnings))
	if err != nil {
		return fmt.Errorf("runindex: marshal warnings: %w", err)
	}

	_, err = ix.db.Exec(`
		INSERT INTO runs (run_id, project_name, mcu, status, progress, current_stage, started_at, completed_at, output_dir, artifact_counts, errors, warnings, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			project_name = excluded.project_name,
			mcu = excluded.mcu,
			status = excluded.status,
			progress = excluded.progress,
			current_stage = excluded.current_stage,
			completed_at = excluded.completed_at,
			output_dir = excluded.output_dir,
			artifact_counts = excluded.artifact_counts,
			errors = excluded.errors,
			warnings = excluded.warnings,
			updated_at = excluded.updated_at
	`,
		rec.RunID, rec.ProjectName, rec.MCU, string(rec.Status), rec.Progress, rec.CurrentStage,
		formatTime(rec.StartedAt), formatTimePtr(rec.CompletedAt), rec.OutputDir,
		string(counts), string(errs), string(warnings), formatTime(time.Now().UTC()),
	)
	if err != nil {
		return fmt.Errorf("runindex: upsert run %s: %w", rec.RunID, err)
	}
	return nil
}

// GetRun returns runID's indexed record, or ok=false if it is unknown.
func (ix *Index) GetRun(runID string) (RunRecord, bool, error) {
	row := ix.db.QueryRow(`
		SELECT run_id, project_name, mcu, status, progress, current_stage, started_at, completed_at, output_dir, artifact_counts, errors, warnings
		FROM runs WHERE run_id = ?
	`, runID)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return RunRecord{}, false, nil
	}
	if err != nil {
		return RunRecord{}, false, fmt.Errorf("runindex: get run %s: %w", runID, err)
	}
	return rec, true, nil
}

// ListRuns returns every indexed run, most recently started first.
func (ix *Index) ListRuns() ([]RunRecord, error) {
	rows, err := ix.db.Query(`
		SELECT run_id, project_name, mcu, status, progress, current_stage, started_at, completed_at, output_dir, artifact_counts, errors, warnings
		FROM runs ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("runindex: list runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("runindex: scan run row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runindex: iterate run rows: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var status, started string
	var completed sql.NullString
	var counts, errsJSON, warningsJSON string

	if err := row.Scan(&rec.RunID, &rec.ProjectName, &rec.MCU, &status, &rec.Progress, &rec.CurrentStage,
		&started, &completed, &rec.OutputDir, &counts, &errsJSON, &warningsJSON); err != nil {
		return RunRecord{}, err
	}

	rec.Status = domain.Status(status)
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if completed.Valid && completed.String != "" {
		rec.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed.String)
	}
	rec.ArtifactCounts = map[string]int{}
	_ = json.Unmarshal([]byte(counts), &rec.ArtifactCounts)
	_ = json.Unmarshal([]byte(errsJSON), &rec.Errors)
	_ = json.Unmarshal([]byte(warningsJSON), &rec.Warnings)
	return rec, nil
}

// ReplaceArtifacts replaces runID's indexed artifact rows with infos,
// called on each periodic sync with the store's current listing so the
// index tracks the on-disk tree.
func (ix *Index) ReplaceArtifacts(runID string, infos []domain.ArtifactInfo) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return fmt.Errorf("runindex: begin artifact replace: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM artifacts WHERE run_id = ?`, runID); err != nil {
		tx.Rollback()
		return fmt.Errorf("runindex: clear artifacts for run %s: %w", runID, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO artifacts (run_id, category, filename, path, size, modified_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("runindex: prepare artifact insert: %w", err)
	}
	defer stmt.Close()

	for _, info := range infos {
		if _, err := stmt.Exec(runID, info.Category, info.Filename, info.Path, info.Size, formatTime(info.ModifiedAt)); err != nil {
			tx.Rollback()
			return fmt.Errorf("runindex: insert artifact %s: %w", info.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("runindex: commit artifact replace: %w", err)
	}
	return nil
}

// ListArtifacts returns every indexed artifact across every run (GET
// /api/artifacts), sorted by run then path.
func (ix *Index) ListArtifacts() ([]ArtifactRecord, error) {
	return ix.queryArtifacts(`SELECT run_id, category, filename, path, size, modified_at FROM artifacts ORDER BY run_id, path`)
}

// ListArtifactsForRun returns runID's indexed artifacts, sorted by path.
func (ix *Index) ListArtifactsForRun(runID string) ([]ArtifactRecord, error) {
	rows, err := ix.db.Query(`SELECT run_id, category, filename, path, size, modified_at FROM artifacts WHERE run_id = ? ORDER BY path`, runID)
	if err != nil {
		return nil, fmt.Errorf("runindex: list artifacts for run %s: %w", runID, err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

func (ix *Index) queryArtifacts(query string, args ...interface{}) ([]ArtifactRecord, error) {
	rows, err := ix.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("runindex: query artifacts: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

func scanArtifacts(rows *sql.Rows) ([]ArtifactRecord, error) {
	var out []ArtifactRecord
	for rows.Next() {
		var rec ArtifactRecord
		var modified string
		if err := rows.Scan(&rec.RunID, &rec.Category, &rec.Filename, &rec.Path, &rec.Size, &modified); err != nil {
			return nil, fmt.Errorf("runindex: scan artifact row: %w", err)
		}
		rec.ModifiedAt, _ = time.Parse(time.RFC3339Nano, modified)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runindex: iterate artifact rows: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
