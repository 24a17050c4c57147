package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bullen/bullend/pkg/logging"
	"github.com/bullen/bullend/pkg/transport"
	_ "github.com/mattn/go-sqlite3"
)

// AttemptStore persists the transport acquisition attempt trail and
// recording session metadata with a SQLite backend
type AttemptStore struct {
	db          *sql.DB
	dbPath      string
	maxAttempts int
}

// NewAttemptStore creates a new attempt store
func NewAttemptStore(dbPath string, maxAttempts int) (*AttemptStore, error) {
	store := &AttemptStore{
		dbPath:      dbPath,
		maxAttempts: maxAttempts,
	}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize attempt store: %w", err)
	}

	return store, nil
}

// initialize sets up the database connection and creates tables
func (as *AttemptStore) initialize() error {
	if as.dbPath == "" {
		as.dbPath = "./bullend.db"
	}

	if err := os.MkdirAll(filepath.Dir(as.dbPath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	connectionString := as.dbPath + "?_busy_timeout=10000&_journal_mode=WAL&_foreign_keys=on"

	db, err := sql.Open("sqlite3", connectionString)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	as.db = db

	if err := as.createTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	logging.Infof("storage", "attempt store initialized: %s (max %d attempts)",
		as.dbPath, as.maxAttempts)
	return nil
}

// createTables creates the database schema
func (as *AttemptStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transport_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		strategy TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		polls INTEGER NOT NULL DEFAULT 0,
		pid INTEGER NOT NULL DEFAULT 0,
		log_path TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS recording_sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		directory TEXT NOT NULL,
		channels INTEGER NOT NULL DEFAULT 0,
		sample_rate INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		stopped_at DATETIME,
		dropped_buffers INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_attempts_timestamp ON transport_attempts(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_attempts_strategy ON transport_attempts(strategy);
	CREATE INDEX IF NOT EXISTS idx_sessions_started ON recording_sessions(started_at DESC);
	`

	_, err := as.db.Exec(schema)
	return err
}

// RecordAttempt stores one acquisition attempt. Satisfies the orchestrator's
// attempt sink.
func (as *AttemptStore) RecordAttempt(record transport.AttemptRecord) error {
	tx, err := as.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO transport_attempts (
			strategy, outcome, reason, duration_ms, polls, pid, log_path
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.Exec(query,
		record.Strategy, string(record.Outcome), record.Reason,
		record.Duration.Milliseconds(), record.Polls, record.PID, record.LogPath,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt: %w", err)
	}

	if err := as.cleanupOldAttempts(tx); err != nil {
		logging.Warnf("storage", "failed to cleanup old attempts: %v", err)
	}

	return tx.Commit()
}

// RecentAttempts returns the newest attempts, most recent first
func (as *AttemptStore) RecentAttempts(limit int) ([]transport.AttemptRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT strategy, outcome, reason, duration_ms, polls, pid, log_path
		FROM transport_attempts
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := as.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var records []transport.AttemptRecord
	for rows.Next() {
		var rec transport.AttemptRecord
		var outcome string
		var durationMS int64

		if err := rows.Scan(&rec.Strategy, &outcome, &rec.Reason,
			&durationMS, &rec.Polls, &rec.PID, &rec.LogPath); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		rec.Outcome = transport.Outcome(outcome)
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}

	return records, rows.Err()
}

// cleanupOldAttempts removes attempts beyond the maximum limit
func (as *AttemptStore) cleanupOldAttempts(tx *sql.Tx) error {
	if as.maxAttempts <= 0 {
		return nil
	}

	var count int
	if err := tx.QueryRow("SELECT COUNT(*) FROM transport_attempts").Scan(&count); err != nil {
		return err
	}

	if count <= as.maxAttempts {
		return nil
	}

	query := `
		DELETE FROM transport_attempts
		WHERE id IN (
			SELECT id FROM transport_attempts
			ORDER BY id ASC
			LIMIT ?
		)
	`

	_, err := tx.Exec(query, count-as.maxAttempts)
	return err
}

// StartSession records the start of a recording session and returns its ID
func (as *AttemptStore) StartSession(directory string, channels, sampleRate int) (int64, error) {
	result, err := as.db.Exec(
		"INSERT INTO recording_sessions (directory, channels, sample_rate) VALUES (?, ?, ?)",
		directory, channels, sampleRate,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}
	return result.LastInsertId()
}

// FinishSession marks a recording session as stopped
func (as *AttemptStore) FinishSession(id int64, droppedBuffers int64) error {
	_, err := as.db.Exec(
		"UPDATE recording_sessions SET stopped_at = CURRENT_TIMESTAMP, dropped_buffers = ? WHERE id = ?",
		droppedBuffers, id,
	)
	return err
}

// RecordingSession describes one completed or running recording session
type RecordingSession struct {
	ID             int64      `json:"id"`
	Directory      string     `json:"directory"`
	Channels       int        `json:"channels"`
	SampleRate     int        `json:"sample_rate"`
	StartedAt      time.Time  `json:"started_at"`
	StoppedAt      *time.Time `json:"stopped_at,omitempty"`
	DroppedBuffers int64      `json:"dropped_buffers"`
}

// RecentSessions returns the newest recording sessions, most recent first
func (as *AttemptStore) RecentSessions(limit int) ([]RecordingSession, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := as.db.Query(`
		SELECT id, directory, channels, sample_rate, started_at, stopped_at, dropped_buffers
		FROM recording_sessions
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []RecordingSession
	for rows.Next() {
		var s RecordingSession
		if err := rows.Scan(&s.ID, &s.Directory, &s.Channels, &s.SampleRate,
			&s.StartedAt, &s.StoppedAt, &s.DroppedBuffers); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// Close closes the database connection
func (as *AttemptStore) Close() error {
	if as.db != nil {
		return as.db.Close()
	}
	return nil
}
