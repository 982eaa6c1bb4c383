/*
Copyright © 2025 ALESSIO TONIOLO

store.go persists chat sessions and their messages in a local SQLite
database. The database lives in the user config directory unless an
explicit path is given.
*/
package session

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"
	"github.com/kirsle/configdir"
)

// ErrNotFound is returned when a session id has no record.
var ErrNotFound = errors.New("session not found")

// Message is one chat turn inside a session.
type Message struct {
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	ExecutionMode string    `json:"execution_mode,omitempty"`
	CreatedAt     time.Time `json:"timestamp"`
}

// Session is a stored conversation.
type Session struct {
	ID            string    `json:"id"`
	ExecutionMode string    `json:"execution_mode"`
	CreatedAt     time.Time `json:"created_at"`
	Messages      []Message `json:"messages"`
}

// Store wraps the sql.DB connection.
type Store struct {
	*sql.DB
}

// Open initializes the session database at the default location in the user
// config directory.
func Open() (*Store, error) {
	configPath := configdir.LocalConfig("xcodeagent")
	if err := configdir.MakePath(configPath); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	return OpenPath(filepath.Join(configPath, "sessions.db"))
}

// OpenPath initializes the session database at an explicit path. Tests use
// this with a temp directory.
func OpenPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		execution_mode TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		execution_mode TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);
	`
	_, err := s.Exec(query)
	return err
}

// Create inserts a new session and returns its id.
func (s *Store) Create(executionMode string) (string, error) {
	id := uuid.NewString()
	_, err := s.Exec(
		"INSERT INTO sessions (id, execution_mode, created_at) VALUES (?, ?, ?)",
		id, executionMode, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

// AppendMessage records one chat turn on an existing session.
func (s *Store) AppendMessage(sessionID, role, content, executionMode string) error {
	res, err := s.Exec(
		"INSERT INTO messages (session_id, role, content, execution_mode, created_at) "+
			"SELECT ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ?)",
		sessionID, role, content, executionMode, time.Now().UTC(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns a session with its messages in insertion order.
func (s *Store) Get(sessionID string) (*Session, error) {
	session := &Session{ID: sessionID}

	err := s.QueryRow(
		"SELECT execution_mode, created_at FROM sessions WHERE id = ?",
		sessionID,
	).Scan(&session.ExecutionMode, &session.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	rows, err := s.Query(
		"SELECT role, content, COALESCE(execution_mode, ''), created_at "+
			"FROM messages WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content, &m.ExecutionMode, &m.CreatedAt); err != nil {
			return nil, err
		}
		session.Messages = append(session.Messages, m)
	}
	return session, rows.Err()
}

// MessageCount returns the number of messages stored for a session.
func (s *Store) MessageCount(sessionID string) (int, error) {
	var count int
	err := s.QueryRow("SELECT COUNT(*) FROM messages WHERE session_id = ?", sessionID).Scan(&count)
	return count, err
}

// ActiveCount returns the number of sessions created within the window,
// used as the active-session gauge by monitoring.
func (s *Store) ActiveCount(window time.Duration) (int, error) {
	var count int
	cutoff := time.Now().UTC().Add(-window)
	err := s.QueryRow("SELECT COUNT(*) FROM sessions WHERE created_at >= ?", cutoff).Scan(&count)
	return count, err
}
