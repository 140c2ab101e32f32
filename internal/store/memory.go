package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultMaxPerChat bounds the in-memory ring per chat.
const DefaultMaxPerChat = 100

// MemoryStore keeps a bounded, per-chat ring of recent messages. It is the
// fallback when no durable store is configured; history does not survive
// restarts.
type MemoryStore struct {
	mu         sync.RWMutex
	chats      map[int64][]Message
	maxPerChat int
}

// NewMemoryStore creates a memory store keeping up to maxPerChat messages
// per chat (DefaultMaxPerChat when <= 0).
func NewMemoryStore(maxPerChat int) *MemoryStore {
	if maxPerChat <= 0 {
		maxPerChat = DefaultMaxPerChat
	}
	return &MemoryStore{
		chats:      make(map[int64][]Message),
		maxPerChat: maxPerChat,
	}
}

func (s *MemoryStore) Append(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.chats[msg.ChatID]
	for i := range msgs {
		if msgs[i].ID == msg.ID {
			msgs[i] = msg
			return nil
		}
	}

	msgs = append(msgs, msg)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].SentAt.Before(msgs[j].SentAt) })
	if len(msgs) > s.maxPerChat {
		msgs = msgs[len(msgs)-s.maxPerChat:]
	}
	s.chats[msg.ChatID] = msgs
	return nil
}

func (s *MemoryStore) ByCount(_ context.Context, chatID int64, limit int, maxAge time.Duration) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.chats[chatID]
	var recent []Message
	if maxAge > 0 {
		cutoff := time.Now().UTC().Add(-maxAge)
		for _, m := range msgs {
			if m.SentAt.After(cutoff) {
				recent = append(recent, m)
			}
		}
	} else {
		recent = append(recent, msgs...)
	}

	if limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	out := make([]Message, len(recent))
	copy(out, recent)
	return out, nil
}

func (s *MemoryStore) ByTimeframe(_ context.Context, chatID int64, start, end time.Time) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Message
	for _, m := range s.chats[chatID] {
		if !m.SentAt.Before(start) && !m.SentAt.After(end) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, chatID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats[chatID]), nil
}

func (s *MemoryStore) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var removed int64
	for chatID, msgs := range s.chats {
		kept := msgs[:0]
		for _, m := range msgs {
			if m.SentAt.After(cutoff) {
				kept = append(kept, m)
			} else {
				removed++
			}
		}
		s.chats[chatID] = kept
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }
