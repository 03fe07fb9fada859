// Package history persists a local audit log of tunnel sessions in a
// SQLite database: which provider exposed which port, the public URL it
// got, and how the session ended.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Session is one recorded tunnel session.
type Session struct {
	ID         string
	ProviderID string
	Port       int
	URL        string
	StartedAt  time.Time
	EndedAt    time.Time
	Outcome    string
}

// Session outcomes.
const (
	OutcomeActive       = "active"
	OutcomeDisconnected = "disconnected"
	OutcomeFailed       = "failed"
)

// Store wraps the SQLite database holding session records.
type Store struct {
	db *sql.DB
}

// Open creates or opens the history database at path, runs migrations,
// and enables WAL mode for concurrent reads.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite setup (%s): %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	provider_id TEXT NOT NULL,
	port        INTEGER NOT NULL,
	url         TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMP NOT NULL,
	ended_at    TIMESTAMP,
	outcome     TEXT NOT NULL DEFAULT 'active'
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
`)
	return err
}

// RecordStart inserts a new active session and returns its id.
func (s *Store) RecordStart(providerID string, port int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, provider_id, port, started_at, outcome) VALUES (?, ?, ?, ?, ?)`,
		id, providerID, port, time.Now().UTC(), OutcomeActive,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record session start: %w", err)
	}
	return id, nil
}

// RecordURL attaches the public URL once the tunnel is established.
func (s *Store) RecordURL(sessionID, url string) error {
	_, err := s.db.Exec(`UPDATE sessions SET url = ? WHERE id = ?`, url, sessionID)
	return err
}

// RecordEnd marks a session finished with the given outcome.
func (s *Store) RecordEnd(sessionID, outcome string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, outcome = ? WHERE id = ?`,
		time.Now().UTC(), outcome, sessionID,
	)
	return err
}

// Recent returns the most recent sessions, newest first.
func (s *Store) Recent(limit int) ([]Session, error) {
	rows, err := s.db.Query(`
SELECT id, provider_id, port, url, started_at, ended_at, outcome
FROM sessions
ORDER BY started_at DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var ended sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.ProviderID, &sess.Port, &sess.URL,
			&sess.StartedAt, &ended, &sess.Outcome); err != nil {
			return nil, err
		}
		if ended.Valid {
			sess.EndedAt = ended.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Prune deletes finished sessions older than the retention window.
func (s *Store) Prune(olderThan time.Duration) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM sessions WHERE outcome != ? AND started_at < ?`,
		OutcomeActive, time.Now().UTC().Add(-olderThan),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
