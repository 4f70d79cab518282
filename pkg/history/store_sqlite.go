package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists conversation history per group and an audit trail of
// wake decisions. It backs the evaluator's relevance trigger and the status
// command.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the history database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process gateway. Use one shared connection to avoid writer
	// lock contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS messages_conv_role_idx ON messages(conversation, role, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS decisions (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			reason TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS decisions_group_idx ON decisions(group_id, created_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init history schema: %w", err)
		}
	}
	return nil
}

// Append records one conversation message.
func (s *SQLiteStore) Append(ctx context.Context, conversation, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation, role, content, created_at_ms) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), conversation, role, content, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("append history message: %w", err)
	}
	return nil
}

// Recent returns the last n messages of one role in chronological order
// (oldest first). Implements the evaluator's History interface.
func (s *SQLiteStore) Recent(ctx context.Context, conversation, role string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM messages
		 WHERE conversation = ? AND role = ?
		 ORDER BY created_at_ms DESC, rowid DESC LIMIT ?`,
		conversation, role, n)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var reversed []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		reversed = append(reversed, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}

	out := make([]string, len(reversed))
	for i, c := range reversed {
		out[len(reversed)-1-i] = c
	}
	return out, nil
}

// Turn is one message of mixed-role conversation context.
type Turn struct {
	Role    string
	Content string
}

// RecentTurns returns the last n messages of any role in chronological
// order, for assembling LLM context.
func (s *SQLiteStore) RecentTurns(ctx context.Context, conversation string, n int) ([]Turn, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM messages
		 WHERE conversation = ?
		 ORDER BY created_at_ms DESC, rowid DESC LIMIT ?`,
		conversation, n)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var reversed []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		reversed = append(reversed, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	out := make([]Turn, len(reversed))
	for i, t := range reversed {
		out[len(reversed)-1-i] = t
	}
	return out, nil
}

// DecisionRecord is one audit row of the decision log.
type DecisionRecord struct {
	GroupID   string
	UserID    string
	Outcome   string
	Reason    string
	CreatedAt time.Time
}

// RecordDecision appends to the audit trail. Failures here must never block
// message handling, so callers log and move on.
func (s *SQLiteStore) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	at := rec.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, group_id, user_id, outcome, reason, created_at_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.GroupID, rec.UserID, rec.Outcome, rec.Reason, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// RecentDecisions returns the newest n audit rows, newest first.
func (s *SQLiteStore) RecentDecisions(ctx context.Context, n int) ([]DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, user_id, outcome, reason, created_at_ms FROM decisions
		 ORDER BY created_at_ms DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var rec DecisionRecord
		var ms int64
		if err := rows.Scan(&rec.GroupID, &rec.UserID, &rec.Outcome, &rec.Reason, &ms); err != nil {
			return nil, fmt.Errorf("scan decision row: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(ms)
		out = append(out, rec)
	}
	return out, rows.Err()
}
