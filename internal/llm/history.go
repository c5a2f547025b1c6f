package llm

import (
	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// Budget caps the conversation sent to a model at a number of tokens, counted
// with the cl100k_base encoding. Exact counts differ per model; the budget is
// an approximation.
type Budget struct {
	Tokens int
	codec  tokenizer.Codec
}

func NewBudget(tokens int) (*Budget, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, errors.Wrap(err, "load tokenizer")
	}
	return &Budget{Tokens: tokens, codec: codec}, nil
}

// Count returns the number of tokens in text.
func (b *Budget) Count(text string) int {
	ids, _, err := b.codec.Encode(text)
	if err != nil {
		// rough fallback: four bytes per token
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// Trim keeps system messages and the most recent turns that fit the budget.
// The last message is always kept. The kept turns start with a user message.
// A budget of zero or less keeps everything.
func (b *Budget) Trim(history []Message) []Message {
	if b == nil || b.Tokens <= 0 || len(history) == 0 {
		return history
	}
	system, turns := splitSystemMessages(history)
	used := 0
	for _, m := range system {
		used += b.Count(m.Content)
	}

	start := len(turns)
	for start > 0 {
		n := b.Count(turns[start-1].Content)
		if start < len(turns) && used+n > b.Tokens {
			break
		}
		used += n
		start--
	}
	for start < len(turns)-1 && turns[start].Role != RoleUser {
		start++
	}
	return append(system, turns[start:]...)
}

func splitSystemMessages(history []Message) ([]Message, []Message) {
	var system, turns []Message
	for _, m := range history {
		if m.Role == RoleSystem {
			system = append(system, m)
			continue
		}
		turns = append(turns, m)
	}
	return system, turns
}
