package llm

import (
	"context"
	"strings"
	"sync"
)

// Static replies with a fixed text. The stream splits it into lines. Useful
// offline and in tests.
type Static struct {
	Reply string
	// Err, when set, is returned instead of a reply.
	Err error

	mu    sync.Mutex
	calls [][]Message
}

func (s *Static) Name() string { return "static" }

func (s *Static) Generate(ctx context.Context, history []Message) (string, error) {
	if err := s.check(ctx, history); err != nil {
		return "", err
	}
	return s.Reply, nil
}

func (s *Static) Stream(ctx context.Context, history []Message) (Stream, error) {
	if err := s.check(ctx, history); err != nil {
		return nil, err
	}
	parts := strings.SplitAfter(s.Reply, "\n")
	return newChanStream(ctx, func(ctx context.Context, emit func(string) error) error {
		for _, p := range parts {
			if err := emit(p); err != nil {
				return err
			}
		}
		return nil
	}), nil
}

// Calls returns the histories the generator was asked to answer.
func (s *Static) Calls() [][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Message(nil), s.calls...)
}

func (s *Static) check(ctx context.Context, history []Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	s.calls = append(s.calls, append([]Message(nil), history...))
	s.mu.Unlock()
	return nil
}
