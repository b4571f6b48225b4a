// Package journal keeps a per-run SQLite record of a migration: every
// optional item that failed (with enough context to retry it manually)
// and every identifier mapping the import established. The journal is
// diagnostic output; nothing reads it back during a run.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mode TEXT NOT NULL,
	source TEXT NOT NULL,
	started_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS warnings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	phase TEXT NOT NULL,
	item TEXT NOT NULL,
	detail TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS mappings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	kind TEXT NOT NULL,
	origin_id INTEGER NOT NULL,
	target_id INTEGER NOT NULL
);
`

// Journal is one run's record. Safe for concurrent use (database/sql
// serializes access; sqlite busy timeout covers writer contention).
type Journal struct {
	db    *sql.DB
	runID int64
}

// Open creates or opens the journal database at path and starts a new
// run record. mode is "export" or "import"; source names the project or
// snapshot being processed.
func Open(path, mode, source string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create schema: %w", err)
	}

	result, err := db.Exec(
		`INSERT INTO runs (mode, source, started_at) VALUES (?, ?, ?)`,
		mode, source, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: start run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: start run: %w", err)
	}

	return &Journal{db: db, runID: runID}, nil
}

// Warn records one failed optional item.
func (j *Journal) Warn(phase, item string, cause error) error {
	_, err := j.db.Exec(
		`INSERT INTO warnings (run_id, phase, item, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		j.runID, phase, item, cause.Error(), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journal: record warning: %w", err)
	}
	return nil
}

// RecordMapping records one origin→target identifier mapping.
func (j *Journal) RecordMapping(kind string, originID, targetID int64) error {
	_, err := j.db.Exec(
		`INSERT INTO mappings (run_id, kind, origin_id, target_id) VALUES (?, ?, ?, ?)`,
		j.runID, kind, originID, targetID,
	)
	if err != nil {
		return fmt.Errorf("journal: record mapping: %w", err)
	}
	return nil
}

// WarningCount returns how many warnings this run has recorded.
func (j *Journal) WarningCount() (int, error) {
	var count int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM warnings WHERE run_id = ?`, j.runID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("journal: count warnings: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
