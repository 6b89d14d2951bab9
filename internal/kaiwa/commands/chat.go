package commands

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bdobrica/kaiwa/common/trace"
	"github.com/bdobrica/kaiwa/internal/kaiwa/completion"
	"github.com/bdobrica/kaiwa/internal/kaiwa/observability"
	"github.com/bdobrica/kaiwa/internal/kaiwa/store"
)

// typingRefresh re-sends the typing indicator before clients time it out.
const typingRefresh = 20 * time.Second

// ErrBusy is returned by Chat when the chat already has a request in flight.
var ErrBusy = errors.New("chat is busy processing another request")

// Chat runs one completion round trip for msg's chat: admit, read the chat's
// state, ask the model, record both turns and deliver the reply. A busy chat
// gets BusyNotice and a failed model call gets FailureNotice; in both cases
// the history is left untouched.
func (h *Handlers) Chat(ctx context.Context, msg *Message, prompt string) error {
	ctx, _ = trace.Ensure(ctx)
	logger := observability.WithTrace(ctx, h.logger).With("chat_id", msg.ChatID)

	admitted, err := h.admission.Guard(msg.ChatID, func() error {
		return h.chat(ctx, msg, prompt)
	})
	if !admitted {
		logger.Warn("chat is busy, rejecting request")
		h.notice(ctx, msg, BusyNotice)
		return ErrBusy
	}
	if err != nil {
		logger.Error("completion failed", "provider", h.provider.Name(), "err", err)
		h.notice(ctx, msg, FailureNotice)
		return err
	}
	return nil
}

func (h *Handlers) chat(ctx context.Context, msg *Message, prompt string) error {
	stopTyping := h.keepTyping(ctx, msg)
	defer stopTyping()

	user := store.Entry{Role: store.RoleUser, Content: prompt}
	history := append(h.store.History(ctx, msg.ChatID), user)
	req := completion.Request{
		System:      completion.SystemPrompt(h.store.Fingerprint(ctx, msg.ChatID), h.store.ListNotes(ctx, msg.ChatID)),
		Temperature: h.store.Temperature(ctx, msg.ChatID),
		History:     history,
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	start := time.Now()
	reply, err := h.provider.Complete(callCtx, req)
	cancel()
	if err != nil {
		return err
	}

	h.store.AppendEntry(ctx, msg.ChatID, user)
	h.store.AppendEntry(ctx, msg.ChatID, reply)

	observability.WithTrace(ctx, h.logger).Info("completion delivered",
		"chat_id", msg.ChatID,
		"provider", h.provider.Name(),
		"history", len(history),
		"duration", time.Since(start),
	)
	h.reply(ctx, msg, reply.Content)
	return nil
}

// keepTyping shows the typing indicator until the returned stop function is
// called. stop waits for the refresh loop to exit.
func (h *Handlers) keepTyping(ctx context.Context, msg *Message) (stop func()) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(typingRefresh)
		defer ticker.Stop()
		for {
			if err := h.sender.Typing(loopCtx, msg, true); err != nil && loopCtx.Err() == nil {
				h.logger.Debug("failed to send typing indicator", "chat_id", msg.ChatID, "err", err)
			}
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return func() {
		cancel()
		<-done
		if err := h.sender.Typing(context.WithoutCancel(ctx), msg, false); err != nil {
			h.logger.Debug("failed to clear typing indicator", "chat_id", msg.ChatID, "err", err)
		}
	}
}

// SplitReply breaks text into pieces of at most max runes, preferring line
// boundaries and falling back to a hard cut for overlong lines.
func SplitReply(text string, max int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
		curLen = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if curLen+n > max {
			flush()
		}
		for n > max {
			runes := []rune(line)
			chunks = append(chunks, string(runes[:max]))
			line = string(runes[max:])
			n -= max
		}
		cur.WriteString(line)
		curLen += n
	}
	flush()
	return chunks
}
