package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable message store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures the
// schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		chat_id    INTEGER NOT NULL,
		message_id INTEGER NOT NULL,
		sender     TEXT NOT NULL,
		text       TEXT NOT NULL,
		sent_at    INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (chat_id, message_id)
	);

	CREATE INDEX IF NOT EXISTS idx_messages_chat_sent ON messages(chat_id, sent_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, msg Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (chat_id, message_id, sender, text, sent_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (chat_id, message_id) DO UPDATE
		SET sender = excluded.sender,
		    text = excluded.text,
		    sent_at = excluded.sent_at
	`, msg.ChatID, msg.ID, msg.Sender, msg.Text, msg.SentAt.UTC().UnixMicro())
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ByCount(ctx context.Context, chatID int64, limit int, maxAge time.Duration) ([]Message, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if maxAge > 0 {
		cutoff := time.Now().UTC().Add(-maxAge).UnixMicro()
		rows, err = s.db.QueryContext(ctx, `
			SELECT chat_id, message_id, sender, text, sent_at
			FROM messages
			WHERE chat_id = ? AND sent_at > ?
			ORDER BY sent_at DESC
			LIMIT ?
		`, chatID, cutoff, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT chat_id, message_id, sender, text, sent_at
			FROM messages
			WHERE chat_id = ?
			ORDER BY sent_at DESC
			LIMIT ?
		`, chatID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages by count: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Query is newest-first for the LIMIT; flip back to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) ByTimeframe(ctx context.Context, chatID int64, start, end time.Time) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, message_id, sender, text, sent_at
		FROM messages
		WHERE chat_id = ? AND sent_at >= ? AND sent_at <= ?
		ORDER BY sent_at ASC
	`, chatID, start.UTC().UnixMicro(), end.UTC().UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("query messages by timeframe: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

func (s *SQLiteStore) Count(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).UnixMicro()
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE sent_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup messages: %w", err)
	}
	removed, _ := res.RowsAffected()
	if removed > 0 {
		log.Debug().Int64("removed", removed).Msg("store: cleaned up old messages")
	}
	return removed, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var (
			m      Message
			sentAt int64
		)
		if err := rows.Scan(&m.ChatID, &m.ID, &m.Sender, &m.Text, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SentAt = time.UnixMicro(sentAt).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}
