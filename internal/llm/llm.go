// Package llm talks to the language models that write manim scenes.
//
// Every backend is reached through Generator. Replies come back either whole
// (Generate) or as a Stream of text fragments that ends when the model is
// done, the context is cancelled, or the caller closes it.
package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

var (
	ErrMissingAPIKey   = errors.New("missing API key")
	ErrUnknownProvider = errors.New("unknown model provider")
	ErrEmptyPrompt     = errors.New("please write a prompt to generate the video")
	ErrEmptyHistory    = errors.New("conversation has no messages")
)

// Generator produces the assistant reply to a conversation.
type Generator interface {
	// Name identifies the backend and model, e.g. "anthropic/claude-3-opus-20240229".
	Name() string
	Generate(ctx context.Context, history []Message) (string, error)
	Stream(ctx context.Context, history []Message) (Stream, error)
}

// Stream yields reply fragments in order. It cannot be restarted.
type Stream interface {
	Next() bool
	Text() string
	Err() error
	Close() error
}

// Collect drains s and returns the concatenated reply. It closes s.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Text())
	}
	return b.String(), s.Err()
}

// splitSystem separates system messages from the conversation turns.
func splitSystem(history []Message) (string, []Message) {
	system, turns := splitSystemMessages(history)
	parts := make([]string, 0, len(system))
	for _, m := range system {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n\n"), turns
}

type chunk struct {
	text string
	err  error
}

// chanStream adapts push-style producers (callbacks, Recv loops) to Stream.
type chanStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan chunk
	text   string
	err    error
	closed bool
}

// newChanStream runs produce in a goroutine. produce must stop when emit
// returns an error.
func newChanStream(ctx context.Context, produce func(ctx context.Context, emit func(string) error) error) *chanStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &chanStream{ctx: ctx, cancel: cancel, ch: make(chan chunk)}
	go func() {
		defer close(s.ch)
		emit := func(text string) error {
			select {
			case s.ch <- chunk{text: text}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := produce(ctx, emit); err != nil {
			select {
			case s.ch <- chunk{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return s
}

func (s *chanStream) Next() bool {
	if s.err != nil || s.closed {
		return false
	}
	for c := range s.ch {
		if c.err != nil {
			s.err = c.err
			return false
		}
		if c.text == "" {
			continue
		}
		s.text = c.text
		return true
	}
	if err := s.ctx.Err(); err != nil && !s.closed {
		s.err = err
	}
	return false
}

func (s *chanStream) Text() string { return s.text }

func (s *chanStream) Err() error { return s.err }

func (s *chanStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	for range s.ch {
	}
	return nil
}
