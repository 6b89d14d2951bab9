package completion

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"

	"github.com/bdobrica/kaiwa/internal/kaiwa/store"
)

type openAIProvider struct {
	client    openai.Client
	model     string
	maxTokens int
}

var _ Provider = (*openAIProvider)(nil)

func newOpenAI(cfg Config) *openAIProvider {
	var opts []ooption.RequestOption
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, ooption.WithAPIKey(key))
	} else {
		// Local OpenAI-compatible servers usually ignore the key, but the SDK
		// still sends one.
		opts = append(opts, ooption.WithAPIKey("none"))
	}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		opts = append(opts, ooption.WithBaseURL(u))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, ooption.WithMaxRetries(cfg.MaxRetries))
	}
	return &openAIProvider{
		client:    openai.NewClient(opts...),
		model:     strings.TrimSpace(cfg.Model),
		maxTokens: cfg.MaxTokens,
	}
}

func (p *openAIProvider) Name() string { return ProviderOpenAI }

func (p *openAIProvider) Complete(ctx context.Context, req Request) (store.Entry, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    openAIMessages(req),
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(p.maxTokens)),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return store.Entry{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return store.Entry{}, ErrEmptyReply
	}

	msg := resp.Choices[0].Message
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return store.Entry{}, ErrEmptyReply
	}
	return store.Entry{
		Role:      store.RoleAssistant,
		Content:   content,
		Reasoning: reasoningContent(msg.RawJSON()),
	}, nil
}

func openAIMessages(req Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	if s := strings.TrimSpace(req.System); s != "" {
		out = append(out, openai.SystemMessage(s))
	}
	for _, e := range req.History {
		switch e.Role {
		case store.RoleSystem:
			out = append(out, openai.SystemMessage(e.Content))
		case store.RoleAssistant:
			out = append(out, openai.AssistantMessage(e.Content))
		default:
			out = append(out, openai.UserMessage(e.Content))
		}
	}
	return out
}

// reasoningContent extracts the non-standard reasoning_content field that
// reasoning models behind OpenAI-compatible servers attach to the message.
func reasoningContent(raw string) string {
	return strings.TrimSpace(gjson.Get(raw, "reasoning_content").String())
}
