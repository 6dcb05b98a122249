package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/hupe1980/agentpipe/core"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS conversations (
	session_id TEXT PRIMARY KEY,
	messages   TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore persists conversations in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:" for
// a private in-memory database.
func NewSQLiteStore(path string, optFns ...func(o *Options)) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	// This also keeps a ":memory:" database alive on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db, opts: newOptions(optFns)}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*core.Conversation, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT messages FROM conversations WHERE session_id = ?`, sessionID).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return emptyConversation(sessionID), nil
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return decode(sessionID, []byte(data))
}

// Save implements Store.
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, conv *core.Conversation) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	data, n, err := encode(conv, s.opts.HistoryCap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (session_id, messages, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET messages = excluded.messages, updated_at = excluded.updated_at`,
		sessionID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}
	s.opts.Logger.Debug("memory.save", "store", "sqlite", "session_id", sessionID, "messages", n)
	return nil
}

// Delete removes the record of a session.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// UpdatedAt returns the time of the last save of a session.
func (s *SQLiteStore) UpdatedAt(ctx context.Context, sessionID string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM conversations WHERE session_id = ?`, sessionID).Scan(&ms)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
