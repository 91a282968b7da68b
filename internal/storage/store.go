// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrStoreClosed is returned when an operation runs after Close.
// Use errors.Is(err, ErrStoreClosed) to check for this error.
var ErrStoreClosed = &StorageError{Message: "store is closed"}

// StorageError represents a persistence-layer error. A turn that fails to
// append is discarded; callers decide whether that is fatal.
type StorageError struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is support for comparing storage errors.
func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

// =============================================================================
// TURN TYPE
// =============================================================================

// Role values stored in the turns table.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn is one persisted conversation turn.
type Turn struct {
	Role       string
	Content    string
	TokenCount int
	CreatedAt  time.Time
}

// ResolveScope maps a configured cache prefix to a scope key. An empty
// prefix selects the shared global conversation. The same prefix used
// across projects deliberately shares one history.
func ResolveScope(cachePrefix string) string {
	if cachePrefix == "" {
		return "global"
	}
	return cachePrefix
}

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// Store persists conversation turns in SQLite, one logical record per
// scope key. The database is opened lazily on first access and the
// connection is held until Close.
type Store struct {
	path string

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// NewStore creates a store backed by the database at path. The file and
// its parent directory are created on first access, not here.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns the standard database location under the user
// config directory.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".ghostwriter", "history.db"), nil
}

// conn returns the open database handle, opening it on first use.
// Caller must hold s.mu.
func (s *Store) conn() (*sql.DB, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if s.db != nil {
		return s.db, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, &StorageError{Message: "failed to create database directory", Err: err}
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return nil, &StorageError{Message: "failed to open database", Err: err}
	}

	// Single writer is enough for an interactive client
	db.SetMaxOpenConns(1)

	// RELIABILITY: WAL keeps readers from blocking the appending writer;
	// busy_timeout covers a second process sharing the same prefix.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, &StorageError{Message: "failed to set pragma", Err: err}
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, &StorageError{Message: "failed to create schema", Err: err}
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, &StorageError{Message: "failed to initialize metadata", Err: err}
	}

	s.db = db
	return db, nil
}

// Close releases the database connection. Further operations return
// ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// =============================================================================
// APPEND OPERATIONS
// =============================================================================

// AppendTurn appends one turn to the scope's history. The append is
// atomic: on failure the turn is discarded and a StorageError returned.
func (s *Store) AppendTurn(scope string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return &StorageError{Message: "failed to begin transaction", Err: err}
	}
	defer tx.Rollback()

	if err := appendTurnTx(tx, scope, turn); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Message: "failed to commit turn", Err: err}
	}
	return nil
}

// AppendExchange appends a user turn and the assistant turn that answered
// it in a single transaction. Concurrent sessions writing to the same
// scope can never interleave the halves of an exchange.
func (s *Store) AppendExchange(scope string, userTurn, assistantTurn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return &StorageError{Message: "failed to begin transaction", Err: err}
	}
	defer tx.Rollback()

	if err := appendTurnTx(tx, scope, userTurn); err != nil {
		return err
	}
	if err := appendTurnTx(tx, scope, assistantTurn); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Message: "failed to commit exchange", Err: err}
	}
	return nil
}

// appendTurnTx inserts one turn inside an open transaction, creating the
// scope row on first use.
func appendTurnTx(tx *sql.Tx, scope string, turn Turn) error {
	now := time.Now()
	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := tx.Exec(`
		INSERT INTO scopes (key, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET updated_at = excluded.updated_at`,
		scope, now.Unix(), now.Unix())
	if err != nil {
		return &StorageError{Message: "failed to upsert scope", Err: err}
	}

	_, err = tx.Exec(`
		INSERT INTO turns (scope_id, role, content, token_count, created_at)
		VALUES ((SELECT id FROM scopes WHERE key = ?), ?, ?, ?, ?)`,
		scope, turn.Role, turn.Content, turn.TokenCount, createdAt.Unix())
	if err != nil {
		return &StorageError{Message: "failed to insert turn", Err: err}
	}
	return nil
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// History returns the scope's turns oldest-first. An unknown scope yields
// an empty history, not an error.
func (s *Store) History(scope string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT t.role, t.content, t.token_count, t.created_at
		FROM turns t
		JOIN scopes s ON s.id = t.scope_id
		WHERE s.key = ?
		ORDER BY t.id ASC`, scope)
	if err != nil {
		return nil, &StorageError{Message: "failed to query history", Err: err}
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var tokenCount sql.NullInt64
		var createdAt int64
		if err := rows.Scan(&turn.Role, &turn.Content, &tokenCount, &createdAt); err != nil {
			return nil, &StorageError{Message: "failed to scan turn", Err: err}
		}
		turn.TokenCount = int(tokenCount.Int64)
		turn.CreatedAt = time.Unix(createdAt, 0)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Message: "failed to read history", Err: err}
	}
	return turns, nil
}

// TurnCount returns the number of turns stored for a scope.
func (s *Store) TurnCount(scope string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return 0, err
	}

	var count int
	err = db.QueryRow(`
		SELECT COUNT(*) FROM turns t
		JOIN scopes s ON s.id = t.scope_id
		WHERE s.key = ?`, scope).Scan(&count)
	if err != nil {
		return 0, &StorageError{Message: "failed to count turns", Err: err}
	}
	return count, nil
}

// Scopes returns all known scope keys, most recently updated first.
func (s *Store) Scopes() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT key FROM scopes ORDER BY updated_at DESC`)
	if err != nil {
		return nil, &StorageError{Message: "failed to query scopes", Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, &StorageError{Message: "failed to scan scope", Err: err}
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// =============================================================================
// RESET
// =============================================================================

// Reset irreversibly clears the scope's history. Resetting an unknown
// scope is a no-op.
func (s *Store) Reset(scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.conn()
	if err != nil {
		return err
	}

	// ON DELETE CASCADE removes the turns with the scope row
	if _, err := db.Exec(`DELETE FROM scopes WHERE key = ?`, scope); err != nil {
		return &StorageError{Message: "failed to reset scope", Err: err}
	}
	return nil
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown writes the scope's transcript to w as Markdown with role
// labels and timestamps.
func (s *Store) ExportMarkdown(scope string, w io.Writer) error {
	turns, err := s.History(scope)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("# Conversation " + scope + "\n\n")
	sb.WriteString("Exported: " + time.Now().Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, turn := range turns {
		role := "**User**"
		switch turn.Role {
		case RoleAssistant:
			role = "**Assistant**"
		case RoleSystem:
			role = "**System**"
		}
		sb.WriteString(role + " (" + turn.CreatedAt.Format("2006-01-02 15:04") + "):\n\n")
		sb.WriteString(turn.Content)
		sb.WriteString("\n\n---\n\n")
	}

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return &StorageError{Message: "failed to write export", Err: err}
	}
	return nil
}

// FormatScopeList formats scope keys with their turn counts for display.
func (s *Store) FormatScopeList() (string, error) {
	keys, err := s.Scopes()
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "No conversations found.", nil
	}

	var sb strings.Builder
	sb.WriteString("Conversations:\n")
	for _, key := range keys {
		count, err := s.TurnCount(key)
		if err != nil {
			return "", err
		}
		sb.WriteString(fmt.Sprintf("  %-24s %d turns\n", key, count))
	}
	return sb.String(), nil
}
