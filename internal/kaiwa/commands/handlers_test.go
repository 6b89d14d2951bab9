package commands_test

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/kaiwa/internal/kaiwa/commands"
	"github.com/bdobrica/kaiwa/internal/kaiwa/completion"
	"github.com/bdobrica/kaiwa/internal/kaiwa/store"
)

func TestHandleMessage_DirectChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.SetFingerprint(ctx, 1, "be terse")
	f.store.SetTemperature(ctx, 1, 0.3)
	f.store.AddNote(ctx, store.Note{NoteID: 1, ChatID: 1, Text: "likes tea"})

	f.handlers.HandleMessage(ctx, direct(1, "hello"))

	assert.Equal(t, []string{"pong"}, f.sender.Replies())
	assert.Empty(t, f.sender.Notices())

	reqs := f.provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, completion.SystemPrompt("be terse", f.store.ListNotes(ctx, 1)), reqs[0].System)
	assert.Equal(t, 0.3, reqs[0].Temperature)
	assert.Equal(t, []store.Entry{{Role: store.RoleUser, Content: "hello"}}, reqs[0].History)

	assert.Equal(t, []store.Entry{
		{Role: store.RoleUser, Content: "hello"},
		{Role: store.RoleAssistant, Content: "pong"},
	}, f.store.History(ctx, 1))

	typing := f.sender.TypingCalls()
	require.NotEmpty(t, typing)
	assert.True(t, typing[0])
	assert.False(t, typing[len(typing)-1])
	assert.False(t, f.admission.Busy(1))
}

func TestHandleMessage_HistoryFeedsNextRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.handlers.HandleMessage(ctx, direct(1, "first"))
	f.handlers.HandleMessage(ctx, direct(1, "second"))

	reqs := f.provider.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []store.Entry{
		{Role: store.RoleUser, Content: "first"},
		{Role: store.RoleAssistant, Content: "pong"},
		{Role: store.RoleUser, Content: "second"},
	}, reqs[1].History)
}

func TestHandleMessage_ModelFailureLeavesHistory(t *testing.T) {
	f := newFixture(t)
	f.provider.err = errModelDown
	ctx := context.Background()

	f.handlers.HandleMessage(ctx, direct(1, "hello"))

	assert.Empty(t, f.sender.Replies())
	assert.Equal(t, []string{commands.FailureNotice}, f.sender.Notices())
	assert.Empty(t, f.store.History(ctx, 1))
	assert.False(t, f.admission.Busy(1))
}

func TestHandleMessage_BusyChatIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	f.provider.fn = func(ctx context.Context, req completion.Request) (store.Entry, error) {
		close(started)
		<-release
		return store.Entry{Role: store.RoleAssistant, Content: "slow"}, nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.handlers.HandleMessage(ctx, direct(1, "first"))
	}()
	<-started

	err := f.handlers.Chat(ctx, direct(1, "second"), "second")
	assert.ErrorIs(t, err, commands.ErrBusy)
	assert.Equal(t, []string{commands.BusyNotice}, f.sender.Notices())
	assert.Empty(t, f.store.History(ctx, 1))

	// Other chats are unaffected.
	f.provider.mu.Lock()
	f.provider.fn = nil
	f.provider.mu.Unlock()
	f.handlers.HandleMessage(ctx, direct(2, "other"))
	assert.Len(t, f.store.History(ctx, 2), 2)

	close(release)
	wg.Wait()

	assert.Equal(t, []string{"pong", "slow"}, f.sender.Replies())
	assert.Equal(t, []string{"first", "slow"}, contents(f.store.History(ctx, 1)))
	assert.Equal(t, 0, f.admission.Len())
}

func TestHandleMessage_GroupReplyRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.handlers.HandleMessage(ctx, group(5, "chatting among ourselves"))
	assert.Empty(t, f.provider.Requests())

	msg := group(5, "hey bot")
	msg.Addressed = true
	f.handlers.HandleMessage(ctx, msg)

	reqs := f.provider.Requests()
	require.Len(t, reqs, 1)
	want := "{Username: Alice (@alice:example.org), DateTime: 2024-03-01T12:00:00Z, Message: hey bot}"
	assert.Equal(t, want, reqs[0].History[0].Content)
	assert.Equal(t, []string{"pong"}, f.sender.Replies())
}

func TestHandleMessage_ChatCommandInGroup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.handlers.HandleMessage(ctx, group(5, "/chat what time is it"))

	reqs := f.provider.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].History[0].Content, "Message: what time is it}")

	f.handlers.HandleMessage(ctx, group(5, "/chat"))
	assert.Contains(t, f.sender.Replies(), "Usage: /chat <prompt>")
}

func TestHandleMessage_DisabledChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.handlers.HandleMessage(ctx, direct(1, "/disable"))
	f.handlers.HandleMessage(ctx, direct(1, "are you there?"))
	assert.Empty(t, f.provider.Requests())

	// Commands keep working while disabled.
	f.handlers.HandleMessage(ctx, direct(1, "/enable"))
	f.handlers.HandleMessage(ctx, direct(1, "are you there?"))
	assert.Len(t, f.provider.Requests(), 1)
}

func TestHandleMessage_DisabledThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg := group(5, "/disable")
	msg.Supergroup = true
	msg.ThreadID = store.Thread(3)
	f.sender.admin = true
	f.handlers.HandleMessage(ctx, msg)
	assert.Contains(t, f.sender.Replies()[0], "thread")

	inThread := group(5, "hi")
	inThread.Supergroup = true
	inThread.Addressed = true
	inThread.ThreadID = store.Thread(3)
	f.handlers.HandleMessage(ctx, inThread)
	assert.Empty(t, f.provider.Requests())

	outside := group(5, "hi")
	outside.Supergroup = true
	outside.Addressed = true
	f.handlers.HandleMessage(ctx, outside)
	assert.Len(t, f.provider.Requests(), 1)
}

func TestHandleMessage_DisableInDirectThread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg := direct(1, "/disable")
	msg.ThreadID = store.Thread(3)
	f.handlers.HandleMessage(ctx, msg)
	require.Len(t, f.sender.Replies(), 1)
	assert.Contains(t, f.sender.Replies()[0], "chat")
	assert.NotContains(t, f.sender.Replies()[0], "thread")

	inThread := direct(1, "hi")
	inThread.ThreadID = store.Thread(3)
	f.handlers.HandleMessage(ctx, inThread)
	f.handlers.HandleMessage(ctx, direct(1, "hi"))
	assert.Empty(t, f.provider.Requests())

	enable := direct(1, "/enable")
	enable.ThreadID = store.Thread(3)
	f.handlers.HandleMessage(ctx, enable)
	f.handlers.HandleMessage(ctx, inThread)
	assert.Len(t, f.provider.Requests(), 1)
}

func TestChat_PanicReleasesChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.fn = func(ctx context.Context, req completion.Request) (store.Entry, error) {
		panic("provider exploded")
	}

	assert.Panics(t, func() {
		_ = f.handlers.Chat(ctx, direct(1, "hi"), "hi")
	})
	assert.False(t, f.admission.Busy(1))
	typing := f.sender.TypingCalls()
	require.NotEmpty(t, typing)
	assert.False(t, typing[len(typing)-1])
	assert.Empty(t, f.store.History(ctx, 1))
}

func TestHandleMessage_InvalidCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.handlers.HandleMessage(ctx, direct(1, "/nope"))
	f.handlers.HandleMessage(ctx, direct(1, "/"))

	assert.Equal(t, []string{commands.InvalidNotice, commands.InvalidNotice}, f.sender.Notices())
	assert.Empty(t, f.provider.Requests())
}

func TestHandleMessage_SettingsNeedAdminInGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.handlers.HandleMessage(ctx, group(5, "/system talk like a pirate"))
	assert.Equal(t, "", f.store.Fingerprint(ctx, 5))
	require.Len(t, f.sender.Replies(), 1)
	assert.Contains(t, f.sender.Replies()[0], "Only room moderators")

	f.sender.admin = true
	f.handlers.HandleMessage(ctx, group(5, "/system talk like a pirate"))
	assert.Equal(t, "talk like a pirate", f.store.Fingerprint(ctx, 5))
	// The confirmation is replaced by removing the command from the room.
	assert.Len(t, f.sender.Replies(), 1)
	assert.Equal(t, []string{"$group"}, f.sender.Redacted())
}

func TestHandleTemperature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		arg  string
		want float64
	}{
		{"0.2", 0.2},
		{"1,5", 1.5},
		{"2.0", 2.0},
		{"3", store.DefaultTemperature},
		{"-1", store.DefaultTemperature},
		{"NaN", store.DefaultTemperature},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			f.handlers.HandleMessage(ctx, direct(1, "/temperature "+tt.arg))
			assert.Equal(t, tt.want, f.store.Temperature(ctx, 1))
		})
	}

	f.store.SetTemperature(ctx, 1, 0.4)
	f.handlers.HandleMessage(ctx, direct(1, "/temperature abc"))
	assert.Equal(t, 0.4, f.store.Temperature(ctx, 1))

	f.handlers.HandleMessage(ctx, direct(1, "/temperature"))
	replies := f.sender.Replies()
	assert.Contains(t, replies[len(replies)-1], "Current temperature: 0.4")
}

func TestHandleNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.handlers.HandleMessage(ctx, direct(1, "/addnote likes tea"))
	f.handlers.HandleMessage(ctx, direct(1, "/addnote lives in Kyoto"))

	notes := f.store.ListNotes(ctx, 1)
	require.Len(t, notes, 2)
	assert.Equal(t, "likes tea", notes[0].Text)
	assert.Less(t, notes[0].NoteID, notes[1].NoteID)

	f.handlers.HandleMessage(ctx, direct(1, "/listnotes"))
	replies := f.sender.Replies()
	assert.Contains(t, replies[len(replies)-1], "lives in Kyoto")

	f.handlers.HandleMessage(ctx, direct(1, "/removenote "+strconv.FormatInt(notes[0].NoteID, 10)))
	assert.Len(t, f.store.ListNotes(ctx, 1), 1)

	f.handlers.HandleMessage(ctx, direct(1, "/erasenotes"))
	assert.Empty(t, f.store.ListNotes(ctx, 1))

	f.handlers.HandleMessage(ctx, direct(1, "/listnotes"))
	replies = f.sender.Replies()
	assert.Equal(t, "No notes for this chat.", replies[len(replies)-1])
}

func TestHandleClearKeepsSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.SetFingerprint(ctx, 1, "be terse")
	f.handlers.HandleMessage(ctx, direct(1, "hello"))
	f.handlers.HandleMessage(ctx, direct(1, "/clear"))

	assert.Empty(t, f.store.History(ctx, 1))
	assert.Equal(t, "be terse", f.store.Fingerprint(ctx, 1))
}

func TestHandleHelp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.handlers.HandleMessage(ctx, group(5, "/help"))
	assert.NotContains(t, f.sender.Replies()[0], "/temperature")

	f.handlers.HandleMessage(ctx, direct(1, "/help"))
	assert.Contains(t, f.sender.Replies()[1], "/temperature")
}

func TestLongReplyIsSplit(t *testing.T) {
	f := newFixture(t)
	f.provider.reply = strings.Repeat("a", commands.DefaultMaxReplyLen+10)

	f.handlers.HandleMessage(context.Background(), direct(1, "essay please"))

	replies := f.sender.Replies()
	require.Len(t, replies, 2)
	assert.Len(t, replies[0], commands.DefaultMaxReplyLen)
	assert.Len(t, replies[1], 10)
}

func contents(entries []store.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Content
	}
	return out
}
