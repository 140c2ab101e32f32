// Package store persists chat messages and serves them back oldest-first,
// either by recency count or by explicit time range.
package store

import (
	"context"
	"time"
)

// Message is one chat utterance. Instants are UTC. Messages are immutable
// once retrieved; callers hold read-only references for one request.
type Message struct {
	ID     int64     `json:"message_id"`
	ChatID int64     `json:"chat_id"`
	Sender string    `json:"sender"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// Store is the message persistence collaborator. All read methods return
// messages in chronological order, oldest first.
type Store interface {
	// Append stores a message. Re-appending the same (chat, message) pair
	// updates the stored copy.
	Append(ctx context.Context, msg Message) error

	// ByCount returns up to limit most-recent messages for a chat, oldest
	// first. maxAge > 0 excludes messages older than now-maxAge.
	ByCount(ctx context.Context, chatID int64, limit int, maxAge time.Duration) ([]Message, error)

	// ByTimeframe returns messages with start <= SentAt <= end, oldest first.
	ByTimeframe(ctx context.Context, chatID int64, start, end time.Time) ([]Message, error)

	// Count returns the number of stored messages for a chat.
	Count(ctx context.Context, chatID int64) (int, error)

	// Cleanup deletes messages older than the retention horizon and reports
	// how many were removed.
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)

	Close() error
}
