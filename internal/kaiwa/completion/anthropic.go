package completion

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bdobrica/kaiwa/internal/kaiwa/store"
)

// anthropicMaxTemperature is the upper bound the Messages API accepts.
const anthropicMaxTemperature = 1.0

type anthropicProvider struct {
	client    anthropic.Client
	model     string
	maxTokens int
}

var _ Provider = (*anthropicProvider)(nil)

func newAnthropic(cfg Config) *anthropicProvider {
	opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(cfg.APIKey))}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		opts = append(opts, aoption.WithBaseURL(u))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, aoption.WithMaxRetries(cfg.MaxRetries))
	}
	return &anthropicProvider{
		client:    anthropic.NewClient(opts...),
		model:     strings.TrimSpace(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}
}

func (p *anthropicProvider) Name() string { return ProviderAnthropic }

func (p *anthropicProvider) Complete(ctx context.Context, req Request) (store.Entry, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(p.maxTokens),
		Messages:    anthropicMessages(req.History),
		Temperature: anthropic.Float(min(req.Temperature, anthropicMaxTemperature)),
	}
	if system := anthropicSystem(req); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return store.Entry{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var text, thinking []string
	for _, block := range msg.Content {
		switch v := block.AsAny().(type) {
		case anthropic.TextBlock:
			text = append(text, v.Text)
		case anthropic.ThinkingBlock:
			thinking = append(thinking, v.Thinking)
		}
	}

	content := strings.TrimSpace(strings.Join(text, ""))
	if content == "" {
		return store.Entry{}, ErrEmptyReply
	}
	return store.Entry{
		Role:      store.RoleAssistant,
		Content:   content,
		Reasoning: strings.TrimSpace(strings.Join(thinking, "\n")),
	}, nil
}

// anthropicSystem folds system-role history entries into the top-level
// system prompt, which is the only place the Messages API accepts them.
func anthropicSystem(req Request) string {
	parts := []string{strings.TrimSpace(req.System)}
	for _, e := range req.History {
		if e.Role == store.RoleSystem {
			parts = append(parts, strings.TrimSpace(e.Content))
		}
	}
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}

func anthropicMessages(history []store.Entry) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, e := range history {
		switch e.Role {
		case store.RoleSystem:
			continue
		case store.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(e.Content)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(e.Content)))
		}
	}
	return out
}
