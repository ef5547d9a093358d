// Package database implements the embedded relational store:
// users/credits, usage logs, processing failures, app logs, error log,
// and system status, with an idempotent migration run at open.
package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arborfm/karaopipe/src/music"
)

// DB wraps the sqlite connection pool. journal_mode=WAL lets readers
// proceed while a writer holds the database.
type DB struct {
	conn *sql.DB
}

// Open connects to path, enables WAL, and runs the idempotent migration.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("database: enable WAL: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) Close() error { return db.conn.Close() }

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	is_admin INTEGER NOT NULL DEFAULT 0,
	credits INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT,
	username TEXT,
	action TEXT NOT NULL,
	detail TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_failures (
	track_id TEXT PRIMARY KEY,
	stage TEXT NOT NULL,
	error_message TEXT NOT NULL,
	failure_count INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS app_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	level TEXT NOT NULL,
	source TEXT NOT NULL,
	message TEXT NOT NULL,
	details TEXT,
	track_id TEXT,
	user_id TEXT,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS error_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	error_type TEXT NOT NULL,
	source TEXT NOT NULL,
	error_message TEXT NOT NULL,
	stack_trace TEXT,
	track_id TEXT,
	request_method TEXT,
	request_path TEXT,
	user_id TEXT,
	username TEXT,
	resolved INTEGER NOT NULL DEFAULT 0,
	resolved_at DATETIME,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS system_status (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	component TEXT NOT NULL,
	status TEXT NOT NULL,
	details TEXT,
	last_checked DATETIME NOT NULL,
	checked_by TEXT
);
`)
	if err != nil {
		return fmt.Errorf("database: migrate: %w", err)
	}

	// Fixed ordered list of ALTER TABLE statements for columns added after
	// the base schema above, idempotent by swallowing "duplicate column".
	alters := []string{
		`ALTER TABLE usage_logs ADD COLUMN username TEXT`,
	}
	for _, stmt := range alters {
		if _, err := db.conn.Exec(stmt); err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return fmt.Errorf("database: migrate alter: %w", err)
		}
	}
	return nil
}

// UpsertUser creates or replaces a user's credit/admin state, used by the
// startup admin bootstrap and by account provisioning.
func (db *DB) UpsertUser(id string, isAdmin bool, credits int) error {
	admin := 0
	if isAdmin {
		admin = 1
	}
	_, err := db.conn.Exec(`
INSERT INTO users (id, is_admin, credits) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET is_admin = excluded.is_admin, credits = excluded.credits
`, id, admin, credits)
	if err != nil {
		return fmt.Errorf("database: upsert user: %w", err)
	}
	return nil
}

// GetUser returns the credit/admin state for id.
func (db *DB) GetUser(id string) (music.User, error) {
	var u music.User
	var isAdmin int
	err := db.conn.QueryRow(`SELECT id, is_admin, credits FROM users WHERE id = ?`, id).Scan(&u.ID, &isAdmin, &u.Credits)
	if err != nil {
		return music.User{}, fmt.Errorf("database: get user: %w", err)
	}
	u.IsAdmin = isAdmin != 0
	return u, nil
}

// DeductCredits atomically decrements id's credits by amount, failing
// if the balance would go negative.
func (db *DB) DeductCredits(id string, amount int) (bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, fmt.Errorf("database: deduct credits: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE users SET credits = credits - ? WHERE id = ? AND credits >= ?`, amount, id, amount)
	if err != nil {
		return false, fmt.Errorf("database: deduct credits: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("database: deduct credits: %w", err)
	}
	if n == 0 {
		return false, tx.Commit()
	}
	return true, tx.Commit()
}

// LogUsage records a usage_logs row.
func (db *DB) LogUsage(userID, username, action, detail string) error {
	_, err := db.conn.Exec(
		`INSERT INTO usage_logs (user_id, username, action, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		userID, username, action, detail, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("database: log usage: %w", err)
	}
	return nil
}

// RecordFailure inserts a new processing_failures row or increments the
// existing one's failure_count. Last write wins per track.
func (db *DB) RecordFailure(trackID, stage, message string) error {
	now := time.Now()
	_, err := db.conn.Exec(`
INSERT INTO processing_failures (track_id, stage, error_message, failure_count, created_at, updated_at)
VALUES (?, ?, ?, 1, ?, ?)
ON CONFLICT(track_id) DO UPDATE SET
	stage = excluded.stage,
	error_message = excluded.error_message,
	failure_count = failure_count + 1,
	updated_at = excluded.updated_at
`, trackID, stage, message, now, now)
	if err != nil {
		return fmt.Errorf("database: record failure: %w", err)
	}
	return nil
}

// ClearFailure removes trackID's failure row, called after a successful
// reprocess so a stale failure doesn't linger once COMPLETE.
func (db *DB) ClearFailure(trackID string) error {
	_, err := db.conn.Exec(`DELETE FROM processing_failures WHERE track_id = ?`, trackID)
	if err != nil {
		return fmt.Errorf("database: clear failure: %w", err)
	}
	return nil
}

// ListFailures returns every processing_failures row, for the admin
// read endpoint.
func (db *DB) ListFailures() ([]music.ProcessingFailure, error) {
	rows, err := db.conn.Query(`SELECT track_id, stage, error_message, failure_count, created_at, updated_at FROM processing_failures ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("database: list failures: %w", err)
	}
	defer rows.Close()

	var out []music.ProcessingFailure
	for rows.Next() {
		var f music.ProcessingFailure
		if err := rows.Scan(&f.TrackID, &f.Stage, &f.ErrorMessage, &f.FailureCount, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("database: list failures: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// LogError inserts an error_log row with the classified error kind and
// a captured stack trace.
func (db *DB) LogError(errorType, source, message, stackTrace, trackID string) error {
	_, err := db.conn.Exec(`
INSERT INTO error_log (error_type, source, error_message, stack_trace, track_id, resolved, created_at)
VALUES (?, ?, ?, ?, ?, 0, ?)
`, errorType, source, message, stackTrace, trackID, time.Now())
	if err != nil {
		return fmt.Errorf("database: log error: %w", err)
	}
	return nil
}

// ListErrors returns every error_log row, for the admin read endpoint.
func (db *DB) ListErrors() ([]ErrorLogEntry, error) {
	rows, err := db.conn.Query(`
SELECT id, error_type, source, error_message, track_id, resolved, created_at
FROM error_log ORDER BY created_at DESC LIMIT 200
`)
	if err != nil {
		return nil, fmt.Errorf("database: list errors: %w", err)
	}
	defer rows.Close()

	var out []ErrorLogEntry
	for rows.Next() {
		var e ErrorLogEntry
		var trackID sql.NullString
		var resolved int
		if err := rows.Scan(&e.ID, &e.ErrorType, &e.Source, &e.ErrorMessage, &trackID, &resolved, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("database: list errors: %w", err)
		}
		e.TrackID = trackID.String
		e.Resolved = resolved != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

// ErrorLogEntry is the admin-facing projection of an error_log row.
type ErrorLogEntry struct {
	ID           int64     `json:"id"`
	ErrorType    string    `json:"error_type"`
	Source       string    `json:"source"`
	ErrorMessage string    `json:"error_message"`
	TrackID      string    `json:"track_id,omitempty"`
	Resolved     bool      `json:"resolved"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageStats summarizes usage_logs for the admin usage endpoint.
type UsageStats struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

func (db *DB) UsageStats() ([]UsageStats, error) {
	rows, err := db.conn.Query(`SELECT action, COUNT(*) FROM usage_logs GROUP BY action ORDER BY action`)
	if err != nil {
		return nil, fmt.Errorf("database: usage stats: %w", err)
	}
	defer rows.Close()

	var out []UsageStats
	for rows.Next() {
		var s UsageStats
		if err := rows.Scan(&s.Action, &s.Count); err != nil {
			return nil, fmt.Errorf("database: usage stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecordSystemStatus appends a component's health row.
func (db *DB) RecordSystemStatus(component, status, details, checkedBy string) error {
	_, err := db.conn.Exec(
		`INSERT INTO system_status (component, status, details, last_checked, checked_by) VALUES (?, ?, ?, ?, ?)`,
		component, status, details, time.Now(), checkedBy,
	)
	if err != nil {
		return fmt.Errorf("database: record system status: %w", err)
	}
	return nil
}
