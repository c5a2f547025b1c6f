package llm

import (
	"context"

	"github.com/jmorganca/ollama/api"
	"github.com/pkg/errors"
)

// LocalAdapter talks to a model served by Ollama, normally the fine-tuned
// deepseek-coder checkpoint. The server address comes from OLLAMA_HOST.
type LocalAdapter struct {
	client  *api.Client
	model   string
	options map[string]interface{}
}

func NewLocalAdapter(model string, maxTokens int, temperature float64) (*LocalAdapter, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, errors.Wrap(err, "ollama client")
	}
	options := map[string]interface{}{"temperature": temperature}
	if maxTokens > 0 {
		options["num_predict"] = maxTokens
	}
	return &LocalAdapter{client: client, model: model, options: options}, nil
}

func (l *LocalAdapter) Name() string { return "local/" + l.model }

func (l *LocalAdapter) request(history []Message, stream bool) (*api.ChatRequest, error) {
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}
	messages := make([]api.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, api.Message{Role: string(m.Role), Content: m.Content})
	}
	return &api.ChatRequest{
		Model:    l.model,
		Messages: messages,
		Stream:   &stream,
		Options:  l.options,
	}, nil
}

func (l *LocalAdapter) Generate(ctx context.Context, history []Message) (string, error) {
	return Collect(l.stream(ctx, history, false))
}

func (l *LocalAdapter) Stream(ctx context.Context, history []Message) (Stream, error) {
	if len(history) == 0 {
		return nil, ErrEmptyHistory
	}
	return l.stream(ctx, history, true), nil
}

func (l *LocalAdapter) stream(ctx context.Context, history []Message, stream bool) Stream {
	return newChanStream(ctx, func(ctx context.Context, emit func(string) error) error {
		req, err := l.request(history, stream)
		if err != nil {
			return err
		}
		err = l.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			return emit(resp.Message.Content)
		})
		return errors.Wrap(err, "ollama chat")
	})
}
