// Package store persists conversation transcripts in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ninjacat-ai/mcp-bridge/internal/domain"
)

// ErrUnavailable marks persistence I/O failures so callers can tell a
// storage outage apart from business-logic errors.
var ErrUnavailable = errors.New("transcript store unavailable")

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// SQLiteStore is the single writer of the transcript database. Appends are
// transactional, so concurrent calls against the same session never
// interleave partially.
type SQLiteStore struct {
	db           *sql.DB
	historyLimit int
}

// NewSQLiteStore opens (or creates) the transcript database at dsn.
// historyLimit is the default window applied when callers pass a
// non-positive limit.
func NewSQLiteStore(dsn string, historyLimit int) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection so schema and data survive across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if historyLimit <= 0 {
		historyLimit = 20
	}

	s := &SQLiteStore{db: db, historyLimit: historyLimit}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_created ON messages(session_id, created_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HistoryLimit returns the default message window.
func (s *SQLiteStore) HistoryLimit() int {
	return s.historyLimit
}

// Append stores one message, creating the session on first write. The
// session upsert, message insert, and updated_at touch commit atomically.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, role domain.Role, content string, metadata json.RawMessage) (*domain.Message, error) {
	now := time.Now().UTC()
	msg := &domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin append", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, now, now); err != nil {
		return nil, storeErr("upsert session", err)
	}

	var meta sql.NullString
	if len(metadata) > 0 {
		meta = sql.NullString{String: string(metadata), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, session_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.MessageID, sessionID, string(role), content, meta, now); err != nil {
		return nil, storeErr("insert message", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE session_id = ?`,
		now, sessionID); err != nil {
		return nil, storeErr("touch session", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit append", err)
	}
	return msg, nil
}

// Recent returns at most limit most-recent messages in chronological order.
// An unknown session yields an empty slice, not an error. A non-positive
// limit falls back to the configured history limit.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = s.historyLimit
	}

	// Newest-first window, re-sorted oldest-first for replay. Ties on
	// created_at break on insertion order via the rowid.
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, session_id, role, content, metadata, created_at FROM (
			SELECT id, message_id, session_id, role, content, metadata, created_at
			FROM messages WHERE session_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at ASC, id ASC`,
		sessionID, limit)
	if err != nil {
		return nil, storeErr("query recent", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var role string
		var metadata sql.NullString
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &role, &msg.Content, &metadata, &msg.CreatedAt); err != nil {
			return nil, storeErr("scan message", err)
		}
		msg.Role = domain.Role(role)
		if metadata.Valid {
			msg.Metadata = json.RawMessage(metadata.String)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate messages", err)
	}
	return messages, nil
}

// ListSessions summarizes stored sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.session_id, s.created_at, s.updated_at, COUNT(m.id)
		 FROM sessions s
		 LEFT JOIN messages m ON m.session_id = s.session_id
		 GROUP BY s.session_id
		 ORDER BY s.updated_at DESC
		 LIMIT ?`,
		limit)
	if err != nil {
		return nil, storeErr("query sessions", err)
	}
	defer rows.Close()

	var sessions []domain.SessionSummary
	for rows.Next() {
		var summary domain.SessionSummary
		if err := rows.Scan(&summary.SessionID, &summary.CreatedAt, &summary.UpdatedAt, &summary.MessageCount); err != nil {
			return nil, storeErr("scan session", err)
		}
		sessions = append(sessions, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate sessions", err)
	}
	return sessions, nil
}

// Delete removes a session and all of its messages. It reports whether a
// session row was actually deleted.
func (s *SQLiteStore) Delete(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, storeErr("delete session", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("delete session", err)
	}
	return affected > 0, nil
}

// ContextBlock renders the recent window as "<Role>: <content>" lines for
// injection into outbound AI payloads.
func (s *SQLiteStore) ContextBlock(ctx context.Context, sessionID string, limit int) (string, error) {
	messages, err := s.Recent(ctx, sessionID, limit)
	if err != nil {
		return "", err
	}
	return FormatContextBlock(messages), nil
}

// FormatContextBlock renders messages as a readable transcript.
func FormatContextBlock(messages []domain.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		lines = append(lines, msg.Role.Title()+": "+msg.Content)
	}
	return strings.Join(lines, "\n")
}

// Sweep expires messages created before now minus retention, then removes
// sessions left with no messages. It returns the number of messages and
// sessions removed.
func (s *SQLiteStore) Sweep(ctx context.Context, retention time.Duration) (int64, int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, storeErr("begin sweep", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, 0, storeErr("sweep messages", err)
	}
	messages, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE NOT EXISTS (
			SELECT 1 FROM messages WHERE messages.session_id = sessions.session_id
		)`)
	if err != nil {
		return 0, 0, storeErr("sweep sessions", err)
	}
	sessions, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, storeErr("commit sweep", err)
	}
	return messages, sessions, nil
}
