// Package admission ensures that at most one completion round trip is in
// flight per chat.
//
// A chat is admitted by TryAdmit, which hands back a Token, and stays busy
// until that Token is released. A second request for a busy chat is rejected
// rather than queued; the caller tells the user to wait.
package admission

import "sync"

// Controller is the set of busy chat ids. The zero value is ready to use and
// it is safe for concurrent use from multiple goroutines.
type Controller struct {
	mu   sync.Mutex
	busy map[int64]*Token
}

// New returns an empty Controller.
func New() *Controller {
	return &Controller{busy: make(map[int64]*Token)}
}

// Token is the proof of admission for one chat.
type Token struct {
	c      *Controller
	chatID int64
	once   sync.Once
}

// ChatID returns the admitted chat.
func (t *Token) ChatID() int64 { return t.chatID }

// Release frees the chat. It is idempotent, and a stale token never frees
// a later admission of the same chat.
func (t *Token) Release() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.c.mu.Lock()
		defer t.c.mu.Unlock()
		if t.c.busy[t.chatID] == t {
			delete(t.c.busy, t.chatID)
		}
	})
}

// TryAdmit marks chatID busy and returns its token, or returns false when
// the chat already has a request in flight.
func (c *Controller) TryAdmit(chatID int64) (*Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, taken := c.busy[chatID]; taken {
		return nil, false
	}
	if c.busy == nil {
		c.busy = make(map[int64]*Token)
	}
	tok := &Token{c: c, chatID: chatID}
	c.busy[chatID] = tok
	return tok, true
}

// Guard runs fn while holding the admission for chatID. It reports
// admitted=false without calling fn when the chat is busy. The admission is
// released however fn exits, including by panic; the panic then continues
// unwinding.
func (c *Controller) Guard(chatID int64, fn func() error) (admitted bool, err error) {
	tok, ok := c.TryAdmit(chatID)
	if !ok {
		return false, nil
	}
	defer tok.Release()
	return true, fn()
}

// Busy reports whether chatID currently has a request in flight.
func (c *Controller) Busy(chatID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.busy[chatID]
	return ok
}

// Len returns the number of busy chats.
func (c *Controller) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.busy)
}
