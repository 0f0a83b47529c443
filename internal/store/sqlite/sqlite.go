// Package sqlite provides a SQLite-backed message store and enrollment
// source for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"uppy/chat/internal/store"
	"uppy/chat/internal/types"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
	message_id      TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id       TEXT NOT NULL,
	sender_type     TEXT NOT NULL,
	message_text    TEXT NOT NULL,
	created_at      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_created
	ON messages (conversation_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS enrollments (
	enrollment_id TEXT PRIMARY KEY,
	id_campaign   TEXT NOT NULL DEFAULT '',
	id_influencer TEXT NOT NULL
	)`,
}

// Store persists messages and enrollments in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var (
	_ store.MessageStore     = (*Store)(nil)
	_ store.EnrollmentSource = (*Store)(nil)
)

// Open opens a SQLite store and creates its tables.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	for _, stmt := range schema {
		if _, err := sqlDB.ExecContext(ctx, stmt); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *Store) Put(ctx context.Context, msg types.Message) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO messages (
		   message_id, conversation_id, sender_id, sender_type, message_text, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, string(msg.SenderType), msg.Text, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) History(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT message_id, conversation_id, sender_id, sender_type, message_text, created_at
		   FROM messages
		  WHERE conversation_id = ?
		  ORDER BY created_at DESC, rowid DESC
		  LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []types.Message
	for rows.Next() {
		var m types.Message
		var senderType string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &senderType, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SenderType = types.Role(senderType)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

func (s *Store) Enrollment(ctx context.Context, enrollmentID string) (types.Enrollment, error) {
	var en types.Enrollment
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT enrollment_id, id_campaign, id_influencer FROM enrollments WHERE enrollment_id = ?`,
		enrollmentID,
	).Scan(&en.ID, &en.CampaignID, &en.InfluencerID)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Enrollment{}, store.ErrNotFound
	}
	if err != nil {
		return types.Enrollment{}, fmt.Errorf("query enrollment: %w", err)
	}
	return en, nil
}

// PutEnrollment inserts or replaces an enrollment record.
func (s *Store) PutEnrollment(ctx context.Context, en types.Enrollment) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO enrollments (enrollment_id, id_campaign, id_influencer) VALUES (?, ?, ?)
		 ON CONFLICT (enrollment_id) DO UPDATE SET id_campaign = excluded.id_campaign, id_influencer = excluded.id_influencer`,
		en.ID, en.CampaignID, en.InfluencerID,
	)
	if err != nil {
		return fmt.Errorf("upsert enrollment: %w", err)
	}
	return nil
}
