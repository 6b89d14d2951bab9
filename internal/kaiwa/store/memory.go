package store

import (
	"context"
	"slices"
)

// MemoryStore is the volatile backend. State lives for the life of the
// process and is partitioned by chat id so that chats never block each other.
type MemoryStore struct {
	limit *HistoryLimit

	history      shardedMap[[]Entry]
	fingerprints shardedMap[string]
	temperatures shardedMap[float64]
	notes        shardedMap[[]Note]
	settings     shardedMap[*ChatSettings]
}

var _ Store = (*MemoryStore)(nil)

// NewMemory returns an empty in-process store bounded by limit. A nil limit
// uses DefaultMaxHistoryLen.
func NewMemory(limit *HistoryLimit) *MemoryStore {
	if limit == nil {
		limit = NewHistoryLimit(DefaultMaxHistoryLen)
	}
	return &MemoryStore{limit: limit}
}

func (m *MemoryStore) Backend() string { return "memory" }

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) History(_ context.Context, chatID int64) []Entry {
	var out []Entry
	m.history.view(chatID, func(h []Entry, _ bool) {
		// The limit may have been lowered since the last append.
		out = slices.Clone(trim(h, m.limit.Max()))
	})
	return out
}

func (m *MemoryStore) AppendEntry(_ context.Context, chatID int64, e Entry) {
	max := m.limit.Max()
	m.history.update(chatID, func(h []Entry, _ bool) ([]Entry, bool) {
		next := make([]Entry, 0, len(h)+1)
		next = append(next, h...)
		next = append(next, e)
		return trim(next, max), true
	})
}

func (m *MemoryStore) ClearHistory(_ context.Context, chatID int64) {
	m.history.delete(chatID)
}

func (m *MemoryStore) Fingerprint(_ context.Context, chatID int64) string {
	var out string
	m.fingerprints.view(chatID, func(v string, _ bool) { out = v })
	return out
}

func (m *MemoryStore) SetFingerprint(_ context.Context, chatID int64, fingerprint string) {
	m.fingerprints.update(chatID, func(string, bool) (string, bool) { return fingerprint, true })
}

func (m *MemoryStore) Temperature(_ context.Context, chatID int64) float64 {
	out := DefaultTemperature
	m.temperatures.view(chatID, func(v float64, ok bool) {
		if ok {
			out = v
		}
	})
	return out
}

func (m *MemoryStore) SetTemperature(_ context.Context, chatID int64, temperature float64) {
	m.temperatures.update(chatID, func(float64, bool) (float64, bool) { return temperature, true })
}

func (m *MemoryStore) AddNote(_ context.Context, n Note) {
	m.notes.update(n.ChatID, func(cur []Note, _ bool) ([]Note, bool) {
		next := make([]Note, 0, len(cur)+1)
		next = append(next, cur...)
		next = append(next, n)
		sortNotes(next)
		return next, true
	})
}

func (m *MemoryStore) RemoveNote(_ context.Context, chatID, noteID int64) {
	m.notes.update(chatID, func(cur []Note, ok bool) ([]Note, bool) {
		if !ok {
			return nil, false
		}
		next := make([]Note, 0, len(cur))
		for _, n := range cur {
			if n.NoteID != noteID {
				next = append(next, n)
			}
		}
		return next, len(next) > 0
	})
}

func (m *MemoryStore) ListNotes(_ context.Context, chatID int64) []Note {
	var out []Note
	m.notes.view(chatID, func(v []Note, _ bool) { out = slices.Clone(v) })
	return out
}

func (m *MemoryStore) EraseNotes(_ context.Context, chatID int64) {
	m.notes.delete(chatID)
}

func (m *MemoryStore) Enable(_ context.Context, chatID int64, threadID *int64, isSupergroup bool) {
	m.toggle(chatID, threadID, isSupergroup, true)
}

func (m *MemoryStore) Disable(_ context.Context, chatID int64, threadID *int64, isSupergroup bool) {
	m.toggle(chatID, threadID, isSupergroup, false)
}

func (m *MemoryStore) toggle(chatID int64, threadID *int64, isSupergroup, enabled bool) {
	m.settings.update(chatID, func(cur *ChatSettings, _ bool) (*ChatSettings, bool) {
		return applyToggle(cur, threadID, isSupergroup, enabled), true
	})
}

func (m *MemoryStore) IsEnabled(_ context.Context, chatID int64, threadID *int64, isSupergroup bool) bool {
	enabled := true
	m.settings.view(chatID, func(s *ChatSettings, _ bool) {
		enabled = resolveEnabled(s, threadID, isSupergroup)
	})
	return enabled
}

// Chats returns the number of chats with retained history.
func (m *MemoryStore) Chats() int {
	return m.history.len()
}
