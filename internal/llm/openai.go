package llm

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// OpenAIAdapter sends conversations to the OpenAI chat completions API, or to
// any server speaking the same protocol when a base URL is set.
type OpenAIAdapter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

func NewOpenAIAdapter(apiKey, baseURL, model string, maxTokens int, temperature float64) (*OpenAIAdapter, error) {
	if apiKey == "" {
		return nil, errors.Wrap(ErrMissingAPIKey, "openai")
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIAdapter{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		maxTokens:   maxTokens,
		temperature: float32(temperature),
	}, nil
}

func (o *OpenAIAdapter) Name() string { return "openai/" + o.model }

func (o *OpenAIAdapter) request(history []Message, stream bool) (openai.ChatCompletionRequest, error) {
	if len(history) == 0 {
		return openai.ChatCompletionRequest{}, ErrEmptyHistory
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   o.maxTokens,
		Temperature: o.temperature,
		Stream:      stream,
	}, nil
}

func (o *OpenAIAdapter) Generate(ctx context.Context, history []Message) (string, error) {
	req, err := o.request(history, false)
	if err != nil {
		return "", err
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "openai chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIAdapter) Stream(ctx context.Context, history []Message) (Stream, error) {
	req, err := o.request(history, true)
	if err != nil {
		return nil, err
	}
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "openai chat completion stream")
	}
	return &openaiStream{stream: stream}, nil
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
	text   string
	err    error
	done   bool
}

func (s *openaiStream) Next() bool {
	for !s.done && s.err == nil {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return false
		}
		if err != nil {
			s.err = errors.Wrap(err, "openai stream")
			return false
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		s.text = resp.Choices[0].Delta.Content
		return true
	}
	return false
}

func (s *openaiStream) Text() string { return s.text }

func (s *openaiStream) Err() error { return s.err }

func (s *openaiStream) Close() error {
	s.done = true
	s.stream.Close()
	return nil
}
