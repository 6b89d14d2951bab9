// Package completion sends a chat's conversation to an LLM and returns the
// assistant's reply as a store.Entry.
//
// Two providers are supported: any OpenAI-compatible chat completions
// endpoint (OpenAI, llama.cpp, vLLM, LM Studio, ...) through openai-go, and
// Anthropic's Messages API through anthropic-sdk-go.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/kaiwa/internal/kaiwa/store"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultTimeout   = 2 * time.Minute
	DefaultMaxTokens = 4096
)

// ErrEmptyReply is returned when the model answers with no text.
var ErrEmptyReply = errors.New("completion: empty reply")

// Request is everything the model sees for one turn.
type Request struct {
	// System is the persona directive, already merged with the chat's notes.
	System      string
	Temperature float64
	// History ends with the user message being answered.
	History []store.Entry
}

// Provider produces the assistant reply for a request.
type Provider interface {
	Complete(ctx context.Context, req Request) (store.Entry, error)
	Name() string
}

// Config selects and configures a Provider.
type Config struct {
	Provider  string
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	// MaxRetries is passed to the SDK. Zero keeps the SDK default.
	MaxRetries int
}

// New builds the configured Provider.
func New(cfg Config) (Provider, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("completion: missing model")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderOpenAI:
		return newOpenAI(cfg), nil
	case ProviderAnthropic:
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, errors.New("completion: anthropic requires an api key")
		}
		return newAnthropic(cfg), nil
	}
	return nil, fmt.Errorf("completion: unsupported provider %q", cfg.Provider)
}

// SystemPrompt merges the chat's fingerprint with its notes so the model can
// use them.
func SystemPrompt(fingerprint string, notes []store.Note) string {
	fingerprint = strings.TrimSpace(fingerprint)
	if len(notes) == 0 {
		return fingerprint
	}
	var b strings.Builder
	if fingerprint != "" {
		b.WriteString(fingerprint)
		b.WriteString("\n\n")
	}
	b.WriteString("Notes:")
	for _, n := range notes {
		b.WriteString("\n- ")
		b.WriteString(strings.TrimSpace(n.Text))
	}
	return b.String()
}
