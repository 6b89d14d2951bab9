package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bdobrica/kaiwa/common/trace"
	"github.com/bdobrica/kaiwa/common/version"
	"github.com/bdobrica/kaiwa/internal/kaiwa/admission"
	"github.com/bdobrica/kaiwa/internal/kaiwa/completion"
	"github.com/bdobrica/kaiwa/internal/kaiwa/observability"
	"github.com/bdobrica/kaiwa/internal/kaiwa/store"
)

const (
	// BusyNotice is sent when a chat already has a request in flight.
	BusyNotice = "⏳ Please wait, I'm still processing your previous request..."
	// FailureNotice is sent when the model call fails.
	FailureNotice = "⚠️ Sorry, I couldn't get an answer from the model. Please try again."
	// InvalidNotice is sent for unknown or malformed commands.
	InvalidNotice = "❌ Invalid command. Use /help to see available commands."

	DefaultMaxReplyLen = 4000
)

// Config wires the handlers to their collaborators.
type Config struct {
	Store     store.Store
	Admission *admission.Controller
	Provider  completion.Provider
	Sender    Sender
	Logger    *slog.Logger

	// Prefix introduces a command. Defaults to "/".
	Prefix string
	// Timeout bounds one completion call. Defaults to completion.DefaultTimeout.
	Timeout time.Duration
	// MaxReplyLen is the longest message sent in one piece, in runes.
	MaxReplyLen int
	// Now is the clock used to stamp group prompts. Defaults to time.Now.
	Now func() time.Time
}

// Handlers holds all command handlers and dependencies
type Handlers struct {
	store     store.Store
	admission *admission.Controller
	provider  completion.Provider
	sender    Sender
	logger    *slog.Logger
	router    *Router

	timeout     time.Duration
	maxReplyLen int
	now         func() time.Time
}

// NewHandlers creates the handlers and registers every command.
func NewHandlers(cfg Config) *Handlers {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Admission == nil {
		cfg.Admission = admission.New()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = completion.DefaultTimeout
	}
	if cfg.MaxReplyLen <= 0 {
		cfg.MaxReplyLen = DefaultMaxReplyLen
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &Handlers{
		store:       cfg.Store,
		admission:   cfg.Admission,
		provider:    cfg.Provider,
		sender:      cfg.Sender,
		logger:      cfg.Logger,
		router:      NewRouter(cfg.Prefix),
		timeout:     cfg.Timeout,
		maxReplyLen: cfg.MaxReplyLen,
		now:         cfg.Now,
	}

	h.router.Register("start", h.HandleStart)
	h.router.Register("help", h.HandleHelp)
	h.router.Register("version", h.HandleVersion)
	h.router.Register("chat", h.HandleChatCommand)
	h.router.Register("clear", h.adminOnly(h.HandleClear))
	h.router.Register("system", h.adminOnly(h.HandleSystem))
	h.router.Register("temperature", h.adminOnly(h.HandleTemperature))
	h.router.Register("addnote", h.adminOnly(h.HandleAddNote))
	h.router.Register("removenote", h.adminOnly(h.HandleRemoveNote))
	h.router.Register("listnotes", h.adminOnly(h.HandleListNotes))
	h.router.Register("erasenotes", h.adminOnly(h.HandleEraseNotes))
	h.router.Register("enable", h.adminOnly(h.HandleEnable))
	h.router.Register("disable", h.adminOnly(h.HandleDisable))
	return h
}

// Router exposes the command router.
func (h *Handlers) Router() *Router { return h.router }

// HandleMessage is the entry point for every inbound text message.
func (h *Handlers) HandleMessage(ctx context.Context, msg *Message) {
	ctx, _ = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx, h.logger).With("chat_id", msg.ChatID)

	cmd, err := h.router.Parse(msg.Text)
	switch {
	case errors.Is(err, ErrNotACommand):
		h.handlePlain(ctx, msg)
		return
	case err != nil:
		h.notice(ctx, msg, InvalidNotice)
		return
	}

	logger.Info("command received", "command", cmd.Name, "sender", msg.SenderID)
	reply, err := h.router.Dispatch(ctx, cmd, msg)
	if err != nil {
		if errors.Is(err, ErrUnknownCommand) {
			h.notice(ctx, msg, InvalidNotice)
			return
		}
		logger.Error("command failed", "command", cmd.Name, "err", err)
		h.notice(ctx, msg, "❌ "+err.Error())
		return
	}
	if reply != "" {
		h.reply(ctx, msg, reply)
	}
}

// handlePlain sends a non-command message to the model when the bot is
// expected to answer it.
func (h *Handlers) handlePlain(ctx context.Context, msg *Message) {
	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	if !msg.Direct && !msg.Addressed {
		return
	}
	if !h.store.IsEnabled(ctx, msg.ChatID, msg.ThreadID, msg.Supergroup) {
		return
	}

	prompt := msg.Text
	if !msg.Direct {
		prompt = h.groupPrompt(msg)
	}
	_ = h.Chat(ctx, msg, prompt)
}

// groupPrompt tags a group message with its author so the model can tell
// speakers apart.
func (h *Handlers) groupPrompt(msg *Message) string {
	at := msg.Time
	if at.IsZero() {
		at = h.now()
	}
	return fmt.Sprintf("{Username: %s (%s), DateTime: %s, Message: %s}",
		msg.SenderName, msg.SenderID, at.Format(time.RFC3339), msg.Text)
}

// adminOnly rejects settings commands from non-admins in shared rooms.
func (h *Handlers) adminOnly(next Handler) Handler {
	return func(ctx context.Context, cmd *Command, msg *Message) (string, error) {
		if !msg.Direct && !h.sender.IsAdmin(ctx, msg) {
			return fmt.Sprintf("⛔ Only room moderators can use /%s here.", cmd.Name), nil
		}
		return next(ctx, cmd, msg)
	}
}

// confirm answers in direct rooms. In shared rooms the command is removed
// instead, keeping prompts and notes out of the room's timeline.
func (h *Handlers) confirm(ctx context.Context, msg *Message, text string) string {
	if msg.Direct {
		return text
	}
	if err := h.sender.Redact(ctx, msg); err != nil {
		h.logger.Warn("failed to redact command", "chat_id", msg.ChatID, "err", err)
	}
	return ""
}

func (h *Handlers) reply(ctx context.Context, msg *Message, text string) {
	for _, chunk := range SplitReply(text, h.maxReplyLen) {
		if err := h.sender.Reply(ctx, msg, chunk); err != nil {
			h.logger.Error("failed to send reply", "chat_id", msg.ChatID, "err", err)
			return
		}
	}
}

func (h *Handlers) notice(ctx context.Context, msg *Message, text string) {
	if err := h.sender.Notice(ctx, msg, text); err != nil {
		h.logger.Error("failed to send notice", "chat_id", msg.ChatID, "err", err)
	}
}

// HandleStart greets the user.
func (h *Handlers) HandleStart(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	return "👋 Welcome to Kaiwa! Talk to me directly, mention me in a group, or use /help to see the commands.", nil
}

// HandleHelp lists the commands the sender may use.
func (h *Handlers) HandleHelp(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("**Kaiwa commands**\n\n")
	sb.WriteString("• /start - Say hello\n")
	sb.WriteString("• /help - Show this help message\n")
	sb.WriteString("• /chat <prompt> - Send a prompt to the model\n")
	sb.WriteString("• /version - Show version information\n")

	if msg.Direct || h.sender.IsAdmin(ctx, msg) {
		sb.WriteString("\n**Settings**\n\n")
		sb.WriteString("• /clear - Forget the conversation so far\n")
		sb.WriteString("• /system <text> - Set the system prompt (empty to reset)\n")
		sb.WriteString("• /temperature <0.0-2.0> - Set the sampling temperature\n")
		sb.WriteString("• /addnote <text> - Add a note the model can see\n")
		sb.WriteString("• /removenote <id> - Remove a note\n")
		sb.WriteString("• /listnotes - List notes\n")
		sb.WriteString("• /erasenotes - Remove all notes\n")
		sb.WriteString("• /enable - Answer messages in this chat or thread\n")
		sb.WriteString("• /disable - Ignore messages in this chat or thread\n")
	}
	return sb.String(), nil
}

// HandleVersion shows version information
func (h *Handlers) HandleVersion(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	return fmt.Sprintf("**Kaiwa**\nVersion: %s\nCommit: %s\nBuild Time: %s\nStore: %s",
		version.Version, version.GitCommit, version.BuildTime, h.store.Backend()), nil
}

// HandleChatCommand sends the command text to the model regardless of the
// room's reply rules.
func (h *Handlers) HandleChatCommand(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	if cmd.Text == "" {
		return "Usage: /chat <prompt>", nil
	}
	prompt := cmd.Text
	if !msg.Direct {
		tagged := *msg
		tagged.Text = cmd.Text
		prompt = h.groupPrompt(&tagged)
	}
	// Failures are reported to the room by Chat itself.
	_ = h.Chat(ctx, msg, prompt)
	return "", nil
}

// HandleClear forgets the chat's history.
func (h *Handlers) HandleClear(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	h.store.ClearHistory(ctx, msg.ChatID)
	return h.confirm(ctx, msg, "🧹 Conversation cleared."), nil
}

// HandleSystem sets the persona directive.
func (h *Handlers) HandleSystem(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	h.store.SetFingerprint(ctx, msg.ChatID, cmd.Text)
	if cmd.Text == "" {
		return h.confirm(ctx, msg, "System prompt cleared."), nil
	}
	return h.confirm(ctx, msg, "System prompt set."), nil
}

// HandleTemperature sets the sampling temperature. Values outside the
// accepted range reset it to the default.
func (h *Handlers) HandleTemperature(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	arg, ok := cmd.GetArg(0)
	if !ok {
		return fmt.Sprintf("Current temperature: %g\nUsage: /temperature <%.1f-%.1f>",
			h.store.Temperature(ctx, msg.ChatID), store.MinTemperature, store.MaxTemperature), nil
	}
	t, err := strconv.ParseFloat(strings.Replace(arg, ",", ".", 1), 64)
	if err != nil {
		return fmt.Sprintf("Usage: /temperature <%.1f-%.1f>", store.MinTemperature, store.MaxTemperature), nil
	}
	if math.IsNaN(t) || t < store.MinTemperature || t > store.MaxTemperature {
		t = store.DefaultTemperature
	}
	h.store.SetTemperature(ctx, msg.ChatID, t)
	return h.confirm(ctx, msg, fmt.Sprintf("🌡️ Temperature set to %g.", t)), nil
}

// HandleAddNote attaches a note to the chat.
func (h *Handlers) HandleAddNote(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	if cmd.Text == "" {
		return "Usage: /addnote <text>", nil
	}
	note := store.Note{
		NoteID: store.NextNoteID(),
		ChatID: msg.ChatID,
		UserID: msg.UserID,
		Text:   cmd.Text,
	}
	h.store.AddNote(ctx, note)
	return h.confirm(ctx, msg, fmt.Sprintf("📝 Note added (id %d).", note.NoteID)), nil
}

// HandleRemoveNote deletes a note by id.
func (h *Handlers) HandleRemoveNote(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	arg, ok := cmd.GetArg(0)
	if !ok {
		return "Usage: /removenote <id>", nil
	}
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return "Usage: /removenote <id>", nil
	}
	h.store.RemoveNote(ctx, msg.ChatID, id)
	return h.confirm(ctx, msg, "Note removed."), nil
}

// HandleListNotes shows the chat's notes.
func (h *Handlers) HandleListNotes(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	notes := h.store.ListNotes(ctx, msg.ChatID)
	if len(notes) == 0 {
		return "No notes for this chat.", nil
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("**Notes (%d)**\n\n", len(notes)))
	for _, n := range notes {
		sb.WriteString(fmt.Sprintf("• `%d` %s\n", n.NoteID, n.Text))
	}
	return sb.String(), nil
}

// HandleEraseNotes removes every note of the chat.
func (h *Handlers) HandleEraseNotes(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	h.store.EraseNotes(ctx, msg.ChatID)
	return h.confirm(ctx, msg, "All notes erased."), nil
}

// HandleEnable makes the bot answer in this chat, or in this thread when
// the command is sent from one.
func (h *Handlers) HandleEnable(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	h.store.Enable(ctx, msg.ChatID, toggleThread(msg), msg.Supergroup)
	return "✅ Enabled for this " + scope(msg) + ".", nil
}

// HandleDisable makes the bot ignore plain messages in this chat or thread.
// Commands keep working.
func (h *Handlers) HandleDisable(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	h.store.Disable(ctx, msg.ChatID, toggleThread(msg), msg.Supergroup)
	return "⏸️ Disabled for this " + scope(msg) + ". Use /enable to turn me back on.", nil
}

// toggleThread is the thread an enable or disable applies to. Only group
// chats resolve threads, so a thread in a direct chat toggles the whole chat.
func toggleThread(msg *Message) *int64 {
	if !msg.Supergroup {
		return nil
	}
	return msg.ThreadID
}

func scope(msg *Message) string {
	if toggleThread(msg) != nil {
		return "thread"
	}
	return "chat"
}
