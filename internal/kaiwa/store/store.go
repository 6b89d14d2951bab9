// Package store holds per-chat conversation state for Kaiwa: the bounded
// message history, the persona directive (fingerprint), the sampling
// temperature, free-form notes and enable/disable flags.
//
// Two backends implement the same Store contract. MemoryStore keeps
// everything in process; SQLStore persists to SQLite, Postgres or MySQL.
// Open picks one at startup and falls back to memory when the database
// cannot be reached.
//
// No public operation returns an error. Durable read failures degrade to the
// attribute default and durable write failures are logged and dropped, so a
// flaky database never interrupts a conversation.
package store

import (
	"context"
	"errors"
)

const (
	// DefaultTemperature is returned for chats that never set one.
	DefaultTemperature = 0.7

	// MinTemperature and MaxTemperature bound the accepted domain. Callers
	// reset out-of-range values to DefaultTemperature before storing.
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

var (
	// ErrBackendUnavailable marks a durable backend that could not be
	// connected or migrated at startup.
	ErrBackendUnavailable = errors.New("store: backend unavailable")

	// ErrReadFailure marks a durable query that failed; the caller receives
	// the attribute default instead.
	ErrReadFailure = errors.New("store: read failure")

	// ErrWriteFailure marks a durable statement that failed; the write is
	// dropped.
	ErrWriteFailure = errors.New("store: write failure")
)

// Role is the speaker of a conversation entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is a single turn of a conversation.
type Entry struct {
	Role    Role
	Content string
	// Reasoning carries the model's thinking text when the provider returns
	// one. Only the memory backend retains it.
	Reasoning string
}

// Note is a free-text annotation attached to a chat.
type Note struct {
	NoteID int64
	ChatID int64
	UserID int64
	Text   string
}

// ChatSettings is the enablement record of a chat. Thread flags only matter
// for supergroups.
type ChatSettings struct {
	IsSupergroup bool
	Threads      map[int64]bool
	Enabled      bool
}

// Store is the capability surface consumed by the request handlers.
// Implementations are safe for concurrent use and never hand out references
// to their internal state.
type Store interface {
	// History returns the most recent entries of the chat, oldest first.
	History(ctx context.Context, chatID int64) []Entry
	// AppendEntry appends e and trims the history to the configured limit.
	AppendEntry(ctx context.Context, chatID int64, e Entry)
	// ClearHistory makes the chat history logically empty.
	ClearHistory(ctx context.Context, chatID int64)

	Fingerprint(ctx context.Context, chatID int64) string
	SetFingerprint(ctx context.Context, chatID int64, fingerprint string)

	Temperature(ctx context.Context, chatID int64) float64
	SetTemperature(ctx context.Context, chatID int64, temperature float64)

	AddNote(ctx context.Context, n Note)
	// RemoveNote deletes every note of the chat with the given id. Missing
	// ids are ignored.
	RemoveNote(ctx context.Context, chatID, noteID int64)
	// ListNotes returns the chat's notes ordered by NoteID, ties in
	// insertion order.
	ListNotes(ctx context.Context, chatID int64) []Note
	EraseNotes(ctx context.Context, chatID int64)

	// Enable and Disable set the thread flag when threadID is non-nil and
	// the chat flag otherwise. isSupergroup is recorded only when the
	// settings record is first created.
	Enable(ctx context.Context, chatID int64, threadID *int64, isSupergroup bool)
	Disable(ctx context.Context, chatID int64, threadID *int64, isSupergroup bool)
	IsEnabled(ctx context.Context, chatID int64, threadID *int64, isSupergroup bool) bool

	// Backend names the implementation ("memory", "sqlite", "postgres", "mysql").
	Backend() string
	Close() error
}

// Thread returns a pointer to id, for the optional thread arguments.
func Thread(id int64) *int64 {
	return &id
}
