package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// HistoryEntry is one completed dictation.
type HistoryEntry struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	RawText     string    `json:"raw_text"`
	RefinedText string    `json:"refined_text"`
	Duration    float64   `json:"duration_seconds"`
	AppContext  string    `json:"app_context"` // focused window title, "" if unknown
	WordCount   int       `json:"word_count"`
	Language    string    `json:"language"`
}

// HistoryService persists transcriptions in SQLite under the XDG data dir.
type HistoryService struct {
	db            *sql.DB
	retentionDays int
}

// NewHistoryService opens (creating if needed) the history database and
// purges entries older than the retention window.
func NewHistoryService(cfg HistoryConfig) (*HistoryService, error) {
	return newHistoryServiceAtPath(filepath.Join(dataDir(), "history.db"), cfg.RetentionDays)
}

func newHistoryServiceAtPath(path string, retentionDays int) (*HistoryService, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close() //nolint:errcheck
			return nil, fmt.Errorf("history: %s: %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS transcriptions (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		raw_text     TEXT NOT NULL,
		refined_text TEXT NOT NULL DEFAULT '',
		duration     REAL NOT NULL DEFAULT 0,
		app_context  TEXT NOT NULL DEFAULT '',
		word_count   INTEGER NOT NULL DEFAULT 0,
		language     TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_transcriptions_timestamp ON transcriptions(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = historyRetentionDays
	}
	s := &HistoryService{db: db, retentionDays: retentionDays}
	if purged, err := s.Purge(); err != nil {
		logger.Warnw("history: startup purge failed", "err", err)
	} else if purged > 0 {
		logger.Infow("history: purged expired entries", "count", purged)
	}
	return s, nil
}

// Add stores one completed dictation and returns its id.
func (s *HistoryService) Add(raw, refined string, duration time.Duration, appContext, language string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO transcriptions (timestamp, raw_text, refined_text, duration, app_context, word_count, language)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), raw, refined, duration.Seconds(), appContext, len(strings.Fields(raw)), language,
	)
	if err != nil {
		return 0, fmt.Errorf("history: insert: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the newest entries, most recent first.
func (s *HistoryService) Recent(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, timestamp, raw_text, refined_text, duration, app_context, word_count, language
		 FROM transcriptions ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Search returns entries whose raw or refined text contains the query,
// case-insensitively, most recent first.
func (s *HistoryService) Search(query string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + strings.ToLower(query) + "%"
	rows, err := s.db.Query(
		`SELECT id, timestamp, raw_text, refined_text, duration, app_context, word_count, language
		 FROM transcriptions
		 WHERE lower(raw_text) LIKE ? OR lower(refined_text) LIKE ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("history: search: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Delete removes one entry by id.
func (s *HistoryService) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM transcriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("history: delete %d: %w", id, err)
	}
	return nil
}

// Clear removes all entries.
func (s *HistoryService) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM transcriptions`); err != nil {
		return fmt.Errorf("history: clear: %w", err)
	}
	return nil
}

// Purge removes entries older than the retention window and returns how
// many were deleted.
func (s *HistoryService) Purge() (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	res, err := s.db.Exec(`DELETE FROM transcriptions WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("history: purge: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *HistoryService) Close() error {
	return s.db.Close()
}

func scanEntries(rows *sql.Rows) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.RawText, &e.RefinedText,
			&e.Duration, &e.AppContext, &e.WordCount, &e.Language); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
