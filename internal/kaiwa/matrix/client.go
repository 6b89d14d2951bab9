// Package matrix connects Kaiwa to a Matrix homeserver.
//
// Every joined room is a chat. Rooms with two members are direct chats and
// larger rooms are group chats whose threads can be toggled one by one.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/kaiwa/internal/kaiwa/commands"
)

const (
	// adminPowerLevel is the power level of a room moderator.
	adminPowerLevel = 50
	typingTimeout   = 30 * time.Second

	backoffMin = 2 * time.Second
	backoffMax = 5 * time.Minute
)

// Config holds Matrix client configuration
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// AllowedRooms restricts the bot to these rooms. Empty allows every
	// room the bot is in.
	AllowedRooms []string
	// SyncState persists the sync position. When nil an in-memory store is
	// used and the first sync after a restart skips old events instead.
	SyncState SyncStateStore
	Logger    *slog.Logger
}

// MessageHandler processes one inbound text message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *commands.Message)
}

// Client wraps the mautrix client and implements commands.Sender.
type Client struct {
	client  *mautrix.Client
	userID  id.UserID
	logger  *slog.Logger
	allowed map[id.RoomID]bool

	mu      sync.Mutex
	members map[id.RoomID]int

	// inflight tracks handler goroutines so Run can wait for them.
	inflight sync.WaitGroup
}

var _ commands.Sender = (*Client)(nil)

// New creates a new Matrix client
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}

	if cfg.SyncState != nil {
		client.Store = NewDBSyncStore(cfg.SyncState)
		cfg.Logger.Info("Matrix sync store: using persistent store")
	} else {
		cfg.Logger.Warn("Matrix sync store: no database configured, old events are skipped on restart")
	}

	c := &Client{
		client:  client,
		userID:  id.UserID(cfg.UserID),
		logger:  cfg.Logger,
		members: make(map[id.RoomID]int),
	}
	if len(cfg.AllowedRooms) > 0 {
		c.allowed = make(map[id.RoomID]bool, len(cfg.AllowedRooms))
		for _, r := range cfg.AllowedRooms {
			c.allowed[id.RoomID(r)] = true
		}
	}
	return c, nil
}

// UserID returns the bot's Matrix user id.
func (c *Client) UserID() string { return c.userID.String() }

// Run syncs with the homeserver and feeds text messages to handler until ctx
// is cancelled. Sync errors are retried with exponential back-off. Each
// message is handled on its own goroutine so a slow completion never stalls
// the sync loop; Run waits for them before returning.
func (c *Client) Run(ctx context.Context, handler MessageHandler) error {
	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("unsupported Matrix syncer")
	}
	syncer.OnSync(c.client.DontProcessOldEvents)
	syncer.OnEventType(event.StateMember, c.handleMember)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		c.handleMessage(ctx, evt, handler)
	})

	defer c.inflight.Wait()

	backoff := backoffMin
	for {
		err := c.client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		c.logger.Error("Matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// IsAllowedRoom reports whether the bot answers in roomID.
func (c *Client) IsAllowedRoom(roomID string) bool {
	return c.allowed == nil || c.allowed[id.RoomID(roomID)]
}

// handleMember joins rooms the bot is invited to and keeps the member count
// cache fresh.
func (c *Client) handleMember(ctx context.Context, evt *event.Event) {
	c.forgetMembers(evt.RoomID)

	member := evt.Content.AsMember()
	if member == nil || evt.GetStateKey() != c.userID.String() || member.Membership != event.MembershipInvite {
		return
	}
	if !c.IsAllowedRoom(evt.RoomID.String()) {
		c.logger.Info("ignoring invite to room outside the allow list", "room", evt.RoomID, "inviter", evt.Sender)
		return
	}
	if err := c.joinRoom(ctx, evt.RoomID); err != nil {
		c.logger.Error("failed to join room", "room", evt.RoomID, "err", err)
		return
	}
	c.logger.Info("joined room", "room", evt.RoomID, "inviter", evt.Sender)
}

func (c *Client) handleMessage(ctx context.Context, evt *event.Event, handler MessageHandler) {
	// Ignore our own messages
	if evt.Sender == c.userID || !c.IsAllowedRoom(evt.RoomID.String()) {
		return
	}
	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return
	}
	// Edits arrive as new events and would be answered twice.
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return
	}

	room := roomInfo{members: c.memberCount(ctx, evt.RoomID)}
	if !room.direct() {
		room.displayName = c.displayName(ctx, evt.Sender)
	}
	msg := toMessage(evt, content, c.userID, room, c.repliesToBot(ctx, evt.RoomID, content))

	c.inflight.Add(1)
	go c.dispatch(context.WithoutCancel(ctx), handler, msg)
}

// dispatch runs handler for one message. A panicking handler is logged and
// does not take the sync loop down with it.
func (c *Client) dispatch(ctx context.Context, handler MessageHandler, msg *commands.Message) {
	defer c.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked", "room", msg.RoomID, "event", msg.EventID, "panic", r)
		}
	}()
	handler.HandleMessage(ctx, msg)
}

// memberCount returns the number of joined members in roomID. Failures are
// not cached and report 0, which toMessage treats as a group room.
func (c *Client) memberCount(ctx context.Context, roomID id.RoomID) int {
	c.mu.Lock()
	n, ok := c.members[roomID]
	c.mu.Unlock()
	if ok {
		return n
	}

	resp, err := c.client.JoinedMembers(ctx, roomID)
	if err != nil {
		c.logger.Warn("failed to load room members", "room", roomID, "err", err)
		return 0
	}
	n = len(resp.Joined)
	c.mu.Lock()
	c.members[roomID] = n
	c.mu.Unlock()
	return n
}

func (c *Client) forgetMembers(roomID id.RoomID) {
	c.mu.Lock()
	delete(c.members, roomID)
	c.mu.Unlock()
}

func (c *Client) displayName(ctx context.Context, userID id.UserID) string {
	profile, err := c.client.GetProfile(ctx, userID)
	if err != nil {
		return ""
	}
	return profile.DisplayName
}

func (c *Client) repliesToBot(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) bool {
	target := replyTarget(content)
	if target == "" {
		return false
	}
	evt, err := c.client.GetEvent(ctx, roomID, target)
	if err != nil {
		c.logger.Debug("failed to load replied-to event", "room", roomID, "event", target, "err", err)
		return false
	}
	return evt.Sender == c.userID
}

// Reply sends text in msg's thread, or as a reply to msg in group rooms.
func (c *Client) Reply(ctx context.Context, msg *commands.Message, text string) error {
	content := &event.MessageEventContent{
		MsgType:   event.MsgText,
		Body:      text,
		RelatesTo: relation(msg),
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(msg.RoomID), event.EventMessage, content); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}

// Notice sends a notice message (less intrusive than normal messages)
func (c *Client) Notice(ctx context.Context, msg *commands.Message, text string) error {
	content := &event.MessageEventContent{
		MsgType:   event.MsgNotice,
		Body:      text,
		RelatesTo: relation(msg),
	}
	if _, err := c.client.SendMessageEvent(ctx, id.RoomID(msg.RoomID), event.EventMessage, content); err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

// Typing sets the typing indicator
func (c *Client) Typing(ctx context.Context, msg *commands.Message, typing bool) error {
	if _, err := c.client.UserTyping(ctx, id.RoomID(msg.RoomID), typing, typingTimeout); err != nil {
		return fmt.Errorf("failed to set typing: %w", err)
	}
	return nil
}

// IsAdmin reports whether the sender is at least a moderator of the room.
func (c *Client) IsAdmin(ctx context.Context, msg *commands.Message) bool {
	var levels event.PowerLevelsEventContent
	if err := c.client.StateEvent(ctx, id.RoomID(msg.RoomID), event.StatePowerLevels, "", &levels); err != nil {
		c.logger.Warn("failed to load power levels", "room", msg.RoomID, "err", err)
		return false
	}
	return levels.GetUserLevel(id.UserID(msg.SenderID)) >= adminPowerLevel
}

// Redact removes msg from the room.
func (c *Client) Redact(ctx context.Context, msg *commands.Message) error {
	if _, err := c.client.RedactEvent(ctx, id.RoomID(msg.RoomID), id.EventID(msg.EventID)); err != nil {
		return fmt.Errorf("failed to redact event: %w", err)
	}
	return nil
}

// relation keeps answers in the thread they were asked in and quotes the
// question in group rooms.
func relation(msg *commands.Message) *event.RelatesTo {
	switch {
	case msg.ThreadRoot != "":
		return &event.RelatesTo{
			Type:          event.RelThread,
			EventID:       id.EventID(msg.ThreadRoot),
			IsFallingBack: true,
			InReplyTo:     &event.InReplyTo{EventID: id.EventID(msg.EventID)},
		}
	case !msg.Direct && msg.EventID != "":
		return &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: id.EventID(msg.EventID)}}
	default:
		return nil
	}
}

// joinRoom attempts to join a room
func (c *Client) joinRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := c.client.JoinRoomByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			c.logger.Warn("joinRoom: already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}
