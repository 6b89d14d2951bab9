package commands_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bdobrica/kaiwa/internal/kaiwa/admission"
	"github.com/bdobrica/kaiwa/internal/kaiwa/commands"
	"github.com/bdobrica/kaiwa/internal/kaiwa/completion"
	"github.com/bdobrica/kaiwa/internal/kaiwa/store"
)

type fakeSender struct {
	mu       sync.Mutex
	admin    bool
	replies  []string
	notices  []string
	typing   []bool
	redacted []string
}

func (s *fakeSender) Reply(ctx context.Context, msg *commands.Message, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, text)
	return nil
}

func (s *fakeSender) Notice(ctx context.Context, msg *commands.Message, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, text)
	return nil
}

func (s *fakeSender) Typing(ctx context.Context, msg *commands.Message, typing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, typing)
	return nil
}

func (s *fakeSender) IsAdmin(ctx context.Context, msg *commands.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

func (s *fakeSender) Redact(ctx context.Context, msg *commands.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.redacted = append(s.redacted, msg.EventID)
	return nil
}

func (s *fakeSender) Replies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.replies...)
}

func (s *fakeSender) Notices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notices...)
}

func (s *fakeSender) TypingCalls() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.typing...)
}

func (s *fakeSender) Redacted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.redacted...)
}

// fakeProvider answers with reply, or calls fn when set.
type fakeProvider struct {
	mu    sync.Mutex
	reply string
	err   error
	fn    func(ctx context.Context, req completion.Request) (store.Entry, error)
	reqs  []completion.Request
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Complete(ctx context.Context, req completion.Request) (store.Entry, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	fn, reply, err := p.fn, p.reply, p.err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return store.Entry{}, err
	}
	return store.Entry{Role: store.RoleAssistant, Content: reply}, nil
}

func (p *fakeProvider) Requests() []completion.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]completion.Request(nil), p.reqs...)
}

var errModelDown = errors.New("model down")

type fixture struct {
	handlers  *commands.Handlers
	store     *store.MemoryStore
	admission *admission.Controller
	sender    *fakeSender
	provider  *fakeProvider
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:     store.NewMemory(store.NewHistoryLimit(10)),
		admission: admission.New(),
		sender:    &fakeSender{},
		provider:  &fakeProvider{reply: "pong"},
	}
	f.handlers = commands.NewHandlers(commands.Config{
		Store:     f.store,
		Admission: f.admission,
		Provider:  f.provider,
		Sender:    f.sender,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Timeout:   5 * time.Second,
		Now:       func() time.Time { return fixedNow },
	})
	return f
}

func direct(chatID int64, text string) *commands.Message {
	return &commands.Message{ChatID: chatID, UserID: chatID, Direct: true, Text: text, EventID: "$direct"}
}

func group(chatID int64, text string) *commands.Message {
	return &commands.Message{
		ChatID:     chatID,
		UserID:     99,
		SenderName: "Alice",
		SenderID:   "@alice:example.org",
		Text:       text,
		Time:       fixedNow,
		EventID:    "$group",
	}
}
