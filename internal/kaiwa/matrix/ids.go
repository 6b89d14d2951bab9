package matrix

import (
	"math"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/kaiwa/internal/kaiwa/commands"
)

// NumericID maps a Matrix identifier onto the non-negative integer ids the
// conversation store is keyed by.
func NumericID(s string) int64 {
	return int64(xxhash.Sum64String(s) & math.MaxInt64)
}

// roomInfo is what toMessage needs to know about the room an event came from.
type roomInfo struct {
	members     int
	displayName string
}

// direct rooms have the bot and one other member. An unknown count (0) is
// a group room so moderator checks still apply.
func (r roomInfo) direct() bool { return r.members > 0 && r.members <= 2 }

// toMessage converts a text event into the handler's message. repliedToBot
// reports whether the event answers one of the bot's own messages.
func toMessage(evt *event.Event, content *event.MessageEventContent, botID id.UserID, room roomInfo, repliedToBot bool) *commands.Message {
	msg := &commands.Message{
		ChatID:     NumericID(evt.RoomID.String()),
		UserID:     NumericID(evt.Sender.String()),
		Direct:     room.direct(),
		Supergroup: !room.direct(),
		SenderName: room.displayName,
		SenderID:   evt.Sender.String(),
		Text:       strings.TrimSpace(content.Body),
		Time:       time.UnixMilli(evt.Timestamp).UTC(),
		RoomID:     evt.RoomID.String(),
		EventID:    evt.ID.String(),
	}
	if msg.SenderName == "" {
		msg.SenderName = evt.Sender.Localpart()
	}
	if root := threadRoot(content); root != "" {
		msg.ThreadRoot = root.String()
		tid := NumericID(msg.ThreadRoot)
		msg.ThreadID = &tid
	}
	msg.Addressed = repliedToBot || mentions(content, botID)
	if msg.Addressed {
		msg.Text = stripMention(msg.Text, botID)
	}
	return msg
}

func threadRoot(content *event.MessageEventContent) id.EventID {
	if content.RelatesTo == nil || content.RelatesTo.Type != event.RelThread {
		return ""
	}
	return content.RelatesTo.EventID
}

// replyTarget returns the event a message replies to, ignoring the fallback
// reply every threaded message carries.
func replyTarget(content *event.MessageEventContent) id.EventID {
	rel := content.RelatesTo
	if rel == nil || rel.InReplyTo == nil {
		return ""
	}
	if rel.Type == event.RelThread && rel.IsFallingBack {
		return ""
	}
	return rel.InReplyTo.EventID
}

func mentions(content *event.MessageEventContent, botID id.UserID) bool {
	if content.Mentions != nil {
		for _, u := range content.Mentions.UserIDs {
			if u == botID {
				return true
			}
		}
	}
	return strings.Contains(content.Body, botID.String())
}

// stripMention drops a leading "@bot:server" or "@bot:server:" from text.
func stripMention(text string, botID id.UserID) string {
	rest, ok := strings.CutPrefix(text, botID.String())
	if !ok {
		return text
	}
	rest = strings.TrimPrefix(rest, ":")
	if trimmed := strings.TrimSpace(rest); trimmed != "" {
		return trimmed
	}
	return text
}
