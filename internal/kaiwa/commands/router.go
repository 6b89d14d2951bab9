// Package commands turns inbound chat messages into actions on the
// conversation store: slash commands that change per-chat settings, and plain
// messages that go to the model.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Command is a parsed slash command.
type Command struct {
	Name string
	Args []string
	// Text is everything after the command name, whitespace preserved
	// except at the ends.
	Text    string
	RawText string
}

// ErrNotACommand is returned by Parse when the message does not start with
// the command prefix. Callers should use errors.Is to tell this expected
// case from real errors.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// ErrUnknownCommand is returned by Route for names with no handler.
var ErrUnknownCommand = errors.New("unknown command")

// Handler handles one command. A non-empty reply is sent back to the room.
type Handler func(ctx context.Context, cmd *Command, msg *Message) (string, error)

// Router routes commands to handlers
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a router for commands starting with prefix, e.g. "/".
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register registers a handler. Names are matched case-insensitively.
func (r *Router) Register(name string, handler Handler) {
	r.handlers[strings.ToLower(name)] = handler
}

// Commands returns the registered names in sorted order.
func (r *Router) Commands() []string {
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Parse parses a message into a command
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}

	body := strings.TrimPrefix(text, r.prefix)
	if body == "" || unicode.IsSpace(rune(body[0])) {
		return nil, fmt.Errorf("empty command")
	}

	name, rest := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		_, size := utf8.DecodeRuneInString(body[i:])
		name, rest = body[:i], body[i+size:]
	}

	cmd := &Command{
		Name:    strings.ToLower(name),
		Text:    strings.TrimSpace(rest),
		RawText: text,
	}
	cmd.Args = strings.Fields(cmd.Text)
	return cmd, nil
}

// Route parses text and calls the matching handler.
func (r *Router) Route(ctx context.Context, text string, msg *Message) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}
	return r.Dispatch(ctx, cmd, msg)
}

// Dispatch calls the handler registered for cmd.Name.
func (r *Router) Dispatch(ctx context.Context, cmd *Command, msg *Message) (string, error) {
	handler, ok := r.handlers[cmd.Name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Name)
	}
	return handler(ctx, cmd, msg)
}

// GetArg returns an argument by index
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}
