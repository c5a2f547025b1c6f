package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgetTrim(t *testing.T) {
	b, err := NewBudget(0)
	require.NoError(t, err)

	system := Message{Role: RoleSystem, Content: "write manim"}
	old := Message{Role: RoleUser, Content: strings.Repeat("a circle turning into a square ", 20)}
	oldReply := Message{Role: RoleAssistant, Content: strings.Repeat("class A(Scene): pass ", 20)}
	last := Message{Role: RoleUser, Content: "now make it blue"}
	history := []Message{system, old, oldReply, last}

	t.Run("no budget keeps everything", func(t *testing.T) {
		assert.Equal(t, history, b.Trim(history))
	})

	t.Run("large budget keeps everything", func(t *testing.T) {
		b.Tokens = 100000
		assert.Equal(t, history, b.Trim(history))
	})

	t.Run("small budget keeps system and last", func(t *testing.T) {
		b.Tokens = b.Count(system.Content) + b.Count(last.Content)
		assert.Equal(t, []Message{system, last}, b.Trim(history))
	})

	t.Run("last message survives a tiny budget", func(t *testing.T) {
		b.Tokens = 1
		assert.Equal(t, []Message{system, last}, b.Trim(history))
	})

	t.Run("kept turns start with a user message", func(t *testing.T) {
		b.Tokens = b.Count(system.Content) + b.Count(oldReply.Content) + b.Count(last.Content)
		assert.Equal(t, []Message{system, last}, b.Trim(history))
	})
}

func TestBudgetNil(t *testing.T) {
	var b *Budget
	history := []Message{{Role: RoleUser, Content: "hi"}}
	assert.Equal(t, history, b.Trim(history))
}

func TestBudgetCount(t *testing.T) {
	b, err := NewBudget(10)
	require.NoError(t, err)
	assert.Equal(t, 0, b.Count(""))
	assert.Greater(t, b.Count("from manim import *"), 2)
}
