package llm

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/pkg/errors"
)

// AnthropicAdapter sends conversations to the Claude messages API.
type AnthropicAdapter struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

func NewAnthropicAdapter(apiKey, model string, maxTokens int, temperature float64, opts ...option.RequestOption) (*AnthropicAdapter, error) {
	if apiKey == "" {
		return nil, errors.Wrap(ErrMissingAPIKey, "anthropic")
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicAdapter{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: temperature,
	}, nil
}

func (a *AnthropicAdapter) Name() string { return "anthropic/" + a.model }

func (a *AnthropicAdapter) params(history []Message) (anthropic.MessageNewParams, error) {
	system, turns := splitSystem(history)
	if len(turns) == 0 {
		return anthropic.MessageNewParams{}, ErrEmptyHistory
	}
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, m := range turns {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Messages:    messages,
		Temperature: anthropic.Float(a.temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params, nil
}

func (a *AnthropicAdapter) Generate(ctx context.Context, history []Message) (string, error) {
	params, err := a.params(history)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", errors.Wrap(err, "anthropic messages")
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String(), nil
}

func (a *AnthropicAdapter) Stream(ctx context.Context, history []Message) (Stream, error) {
	params, err := a.params(history)
	if err != nil {
		return nil, err
	}
	return &anthropicStream{events: a.client.Messages.NewStreaming(ctx, params)}, nil
}

// anthropicStream keeps only the text deltas of the event stream.
type anthropicStream struct {
	events *ssestream.Stream[anthropic.MessageStreamEventUnion]
	text   string
}

func (s *anthropicStream) Next() bool {
	for s.events.Next() {
		event, ok := s.events.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := event.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		s.text = delta.Text
		return true
	}
	return false
}

func (s *anthropicStream) Text() string { return s.text }

func (s *anthropicStream) Err() error {
	if err := s.events.Err(); err != nil {
		return errors.Wrap(err, "anthropic stream")
	}
	return nil
}

func (s *anthropicStream) Close() error { return s.events.Close() }
