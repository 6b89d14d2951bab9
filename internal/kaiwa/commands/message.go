package commands

import (
	"context"
	"time"
)

// Message is an inbound chat message, already mapped from the platform's
// identifiers to the store's integer ids.
type Message struct {
	ChatID   int64
	ThreadID *int64
	UserID   int64

	// Direct is a one-to-one conversation with the bot.
	Direct bool
	// Supergroup marks rooms whose threads can be enabled independently.
	Supergroup bool
	// Addressed is set when the bot is mentioned or the message replies to
	// one of the bot's messages.
	Addressed bool

	SenderName string
	Text       string
	Time       time.Time

	// Platform references, opaque to this package and handed back to the
	// Sender unchanged.
	RoomID     string
	EventID    string
	ThreadRoot string
	SenderID   string
}

// Sender is the chat platform as seen by the handlers.
type Sender interface {
	// Reply sends text in response to msg, in msg's thread when it has one.
	Reply(ctx context.Context, msg *Message, text string) error
	// Notice sends a short status line that is not part of the conversation.
	Notice(ctx context.Context, msg *Message, text string) error
	// Typing toggles the typing indicator in msg's room.
	Typing(ctx context.Context, msg *Message, typing bool) error
	// IsAdmin reports whether msg's sender may change the room's settings.
	IsAdmin(ctx context.Context, msg *Message) bool
	// Redact removes msg from the room.
	Redact(ctx context.Context, msg *Message) error
}
