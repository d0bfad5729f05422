// Package storage is the durable archive for finished reports. Live sessions
// never touch it; only completed analyses are written, and nothing is read
// back into the registry.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "moodflo.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS reports (
			session_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			payload TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create reports table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS insight_requests (
			session_id TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, prompt_hash)
		);
	`); err != nil {
		return fmt.Errorf("create insight_requests table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_reports_created_at ON reports(created_at)"); err != nil {
		return fmt.Errorf("create reports index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// SaveReport archives the report payload for a session. Re-generating a
// report for the same session replaces the previous payload.
func (s *SQLiteStore) SaveReport(sessionID string, payload []byte) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO reports(session_id, created_at, payload) VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET created_at = excluded.created_at, payload = excluded.payload`,
		sessionID,
		time.Now().UTC().Format(time.RFC3339Nano),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("save report for session %s: %w", sessionID, err)
	}
	return nil
}

// GetReport returns the archived payload, or sql.ErrNoRows if the report does
// not exist yet.
func (s *SQLiteStore) GetReport(sessionID string) ([]byte, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM reports WHERE session_id = ?`, sessionID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("query report for session %s: %w", sessionID, err)
	}
	return []byte(payload), nil
}

// ListReportIDs returns the archived session ids, newest first.
func (s *SQLiteStore) ListReportIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT session_id FROM reports ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query report ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan report id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}

	return ids, nil
}

// ClaimInsightRequest records that a completion was requested for this
// session/prompt pair. The first claim wins; repeats return false.
func (s *SQLiteStore) ClaimInsightRequest(sessionID, promptHash string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO insight_requests(session_id, prompt_hash) VALUES(?, ?)`,
		sessionID,
		promptHash,
	)
	if err != nil {
		return false, fmt.Errorf("claim insight request for session %s: %w", sessionID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim insight rows affected: %w", err)
	}

	return rows > 0, nil
}
