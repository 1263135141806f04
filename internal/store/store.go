// Package store provides the local SQLite cache backing instant paint and
// the offline mark-read journal.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/fleetmsg/fleetmsg/internal/logging"
	"github.com/fleetmsg/fleetmsg/internal/models"
)

// Store is the local cache. The directory paints from it before the first
// network response and rewrites it after every successful refresh.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (and if needed creates) the cache database at path.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}

	s := &Store{db: db, logger: logging.Component("store")}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			key TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			audience TEXT NOT NULL DEFAULT '',
			last_message_title TEXT NOT NULL DEFAULT '',
			last_message_text TEXT NOT NULL DEFAULT '',
			last_message_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS pending_reads (
			key TEXT PRIMARY KEY,
			id TEXT NOT NULL,
			kind TEXT NOT NULL,
			queued_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS conversations_updated_idx ON conversations(updated_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure cache schema: %w", err)
		}
	}
	return nil
}

// Conversations returns the cached directory, newest activity first.
func (s *Store) Conversations(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, audience, last_message_title, last_message_text, last_message_at, updated_at
		FROM conversations
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cached conversations: %w", err)
	}
	defer rows.Close()

	var conversations []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var kind string
		if err := rows.Scan(
			&conv.ID,
			&kind,
			&conv.Title,
			&conv.Audience,
			&conv.LastMessageTitle,
			&conv.LastMessageText,
			&conv.LastMessageAt,
			&conv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cached conversation: %w", err)
		}
		conv.Kind = models.Kind(kind)
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cached conversations: %w", err)
	}
	return conversations, nil
}

// SaveConversations replaces the cached directory with the given list.
func (s *Store) SaveConversations(ctx context.Context, conversations []models.Conversation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("failed to clear conversation cache: %w", err)
	}
	for _, conv := range conversations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (
				key, id, kind, title, audience, last_message_title, last_message_text, last_message_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			conv.Key(),
			conv.ID,
			string(conv.Kind),
			conv.Title,
			conv.Audience,
			conv.LastMessageTitle,
			conv.LastMessageText,
			conv.LastMessageAt,
			conv.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to cache conversation %s: %w", conv.Key(), err)
		}
	}
	return tx.Commit()
}

// EnqueueRead journals a mark-read that could not reach the server. At most
// one entry per conversation so a repeated offline markRead stays a single
// replay.
func (s *Store) EnqueueRead(ctx context.Context, conv models.Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO pending_reads (key, id, kind, queued_at) VALUES (?, ?, ?, ?)
	`, conv.Key(), conv.ID, string(conv.Kind), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to enqueue pending read: %w", err)
	}
	return nil
}

// PendingReads returns journalled mark-reads awaiting replay.
func (s *Store) PendingReads(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind FROM pending_reads ORDER BY queued_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending reads: %w", err)
	}
	defer rows.Close()

	var pending []models.Conversation
	for rows.Next() {
		var conv models.Conversation
		var kind string
		if err := rows.Scan(&conv.ID, &kind); err != nil {
			return nil, fmt.Errorf("failed to scan pending read: %w", err)
		}
		conv.Kind = models.Kind(kind)
		pending = append(pending, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending reads: %w", err)
	}
	return pending, nil
}

// ClearPendingRead removes a journal entry after a successful replay.
func (s *Store) ClearPendingRead(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_reads WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to clear pending read: %w", err)
	}
	return nil
}
