// Package cache is the local SQLite-backed copy of conversations, read for
// a fast first paint before the backend is asked and kept fresh behind the
// engine. Caps on stored messages and sessions are enforced here, oldest
// dropped first.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agusx1211/parley/internal/chat"
)

// Store persists per-session message lists and session metadata. It
// implements chat.Cache.
type Store struct {
	db         *sql.DB
	messageCap int
	sessionCap int
}

// Open creates or opens the cache database at path. messageCap bounds stored
// messages per session and sessionCap bounds sessions overall; zero or
// negative values disable the respective cap.
func Open(path string, messageCap, sessionCap int) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing cache path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db, messageCap: messageCap, sessionCap: sessionCap}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
  key                TEXT PRIMARY KEY,
  title              TEXT NOT NULL DEFAULT '',
  updated_at_unix_ms INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS messages (
  seq                INTEGER PRIMARY KEY AUTOINCREMENT,
  session_key        TEXT NOT NULL,
  message_id         TEXT NOT NULL,
  role               TEXT NOT NULL,
  text               TEXT NOT NULL DEFAULT '',
  parts_json         TEXT NOT NULL DEFAULT '',
  created_at_unix_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, seq);
`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Messages returns the cached message list for a session, oldest first.
func (s *Store) Messages(sessionKey string) ([]chat.Message, error) {
	rows, err := s.db.Query(`
SELECT message_id, role, text, parts_json, created_at_unix_ms
FROM messages WHERE session_key = ? ORDER BY seq`, sessionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var (
			msg       chat.Message
			role      string
			partsJSON string
			createdMS int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Text, &partsJSON, &createdMS); err != nil {
			return nil, err
		}
		msg.Role = chat.Role(role)
		if partsJSON != "" {
			if err := json.Unmarshal([]byte(partsJSON), &msg.Parts); err != nil {
				// A single corrupt row must not fail the whole load.
				msg.Parts = nil
			}
		}
		if createdMS > 0 {
			msg.CreatedAt = time.UnixMilli(createdMS)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// Replace swaps a session's cached messages for msgs in one transaction.
func (s *Store) Replace(sessionKey string, msgs []chat.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE session_key = ?`, sessionKey); err != nil {
		return err
	}
	start := 0
	if s.messageCap > 0 && len(msgs) > s.messageCap {
		start = len(msgs) - s.messageCap
	}
	for _, msg := range msgs[start:] {
		if err := insertMessage(tx, sessionKey, msg); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Append adds one message to a session's cached list, dropping the oldest
// rows beyond the per-session cap.
func (s *Store) Append(sessionKey string, msg chat.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertMessage(tx, sessionKey, msg); err != nil {
		return err
	}
	if s.messageCap > 0 {
		_, err := tx.Exec(`
DELETE FROM messages WHERE session_key = ? AND seq NOT IN (
  SELECT seq FROM messages WHERE session_key = ? ORDER BY seq DESC LIMIT ?
)`, sessionKey, sessionKey, s.messageCap)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertMessage(tx *sql.Tx, sessionKey string, msg chat.Message) error {
	partsJSON := ""
	if len(msg.Parts) > 0 {
		b, err := json.Marshal(msg.Parts)
		if err != nil {
			return err
		}
		partsJSON = string(b)
	}
	_, err := tx.Exec(`
INSERT INTO messages (session_key, message_id, role, text, parts_json, created_at_unix_ms)
VALUES (?, ?, ?, ?, ?, ?)`,
		sessionKey, msg.ID, string(msg.Role), msg.Text, partsJSON, msg.CreatedAt.UnixMilli())
	return err
}

// Clear removes a session's cached messages, keeping its metadata row.
func (s *Store) Clear(sessionKey string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE session_key = ?`, sessionKey)
	return err
}

// SaveSession upserts a session's metadata and enforces the session cap,
// dropping the least recently updated sessions together with their messages.
func (s *Store) SaveSession(meta chat.SessionMeta) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
INSERT INTO sessions (key, title, updated_at_unix_ms) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET title = excluded.title, updated_at_unix_ms = excluded.updated_at_unix_ms`,
		meta.Key, meta.Title, meta.UpdatedAt.UnixMilli())
	if err != nil {
		return err
	}

	if s.sessionCap > 0 {
		rows, err := tx.Query(`
SELECT key FROM sessions WHERE key NOT IN (
  SELECT key FROM sessions ORDER BY updated_at_unix_ms DESC LIMIT ?
)`, s.sessionCap)
		if err != nil {
			return err
		}
		var stale []string
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return err
			}
			stale = append(stale, key)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for _, key := range stale {
			if _, err := tx.Exec(`DELETE FROM messages WHERE session_key = ?`, key); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM sessions WHERE key = ?`, key); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// Sessions returns cached session metadata, most recently updated first.
func (s *Store) Sessions() ([]chat.SessionMeta, error) {
	rows, err := s.db.Query(`
SELECT key, title, updated_at_unix_ms FROM sessions ORDER BY updated_at_unix_ms DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.SessionMeta
	for rows.Next() {
		var (
			meta      chat.SessionMeta
			updatedMS int64
		)
		if err := rows.Scan(&meta.Key, &meta.Title, &updatedMS); err != nil {
			return nil, err
		}
		if updatedMS > 0 {
			meta.UpdatedAt = time.UnixMilli(updatedMS)
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its messages entirely.
func (s *Store) DeleteSession(sessionKey string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_key = ?`, sessionKey); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE key = ?`, sessionKey); err != nil {
		return err
	}
	return tx.Commit()
}
