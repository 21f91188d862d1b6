package conversation

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLLog is the conversation store's optional persistence path: every
// appended Message is mirrored into a SQL table so the conversation can
// be replayed after a restart. Nothing in this package requires a SQLLog
// to be attached — Conversation works entirely in memory without one,
// and the log only issues statements through the stdlib database/sql
// interface, so it works against any registered driver without this
// package naming one.
type SQLLog struct {
	db *sql.DB
}

// NewSQLLog wraps an already-open *sql.DB. The caller owns the driver
// registration and connection lifecycle.
func NewSQLLog(db *sql.DB) *SQLLog {
	return &SQLLog{db: db}
}

// EnsureSchema creates the conversation_messages table if it does not
// already exist.
func (l *SQLLog) EnsureSchema(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS conversation_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`
	if _, err := l.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("conversation: ensure schema: %w", err)
	}
	return nil
}

// Record appends one Message to the persistent log.
func (l *SQLLog) Record(ctx context.Context, msg Message) error {
	const stmt = `INSERT INTO conversation_messages (role, content, created_at) VALUES (?, ?, ?)`
	if _, err := l.db.ExecContext(ctx, stmt, string(msg.Role), msg.Content, msg.CreatedAt); err != nil {
		return fmt.Errorf("conversation: record message: %w", err)
	}
	return nil
}

// Replay loads every persisted Message back in insertion order, for
// restoring a Conversation's history after a restart.
func (l *SQLLog) Replay(ctx context.Context) ([]Message, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT role, content, created_at FROM conversation_messages ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("conversation: replay: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var role string
		var msg Message
		if err := rows.Scan(&role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation: scan replayed message: %w", err)
		}
		msg.Role = Role(role)
		out = append(out, msg)
	}
	return out, rows.Err()
}
