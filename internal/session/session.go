// Package session keeps chat conversations between requests.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"manim-server/internal/llm"
)

var ErrNotFound = errors.New("conversation not found")

// Conversation is the chat history of one user. It is safe for concurrent use.
type Conversation struct {
	ID     string
	UserID string

	mu       sync.Mutex
	messages []llm.Message
	updated  time.Time
}

func (c *Conversation) Append(role llm.Role, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, llm.Message{Role: role, Content: content})
	c.updated = time.Now()
}

// History returns a copy of the messages.
func (c *Conversation) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.messages...)
}

// LastReply is the most recent assistant message, or "".
func (c *Conversation) LastReply() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == llm.RoleAssistant {
			return c.messages[i].Content
		}
	}
	return ""
}

// Rollback removes the last message if it has the given role. Used when a
// request fails after the user turn was recorded.
func (c *Conversation) Rollback(role llm.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := len(c.messages); n > 0 && c.messages[n-1].Role == role {
		c.messages = c.messages[:n-1]
	}
}

func (c *Conversation) Updated() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updated
}

type Store interface {
	Create(ctx context.Context, userID string) (*Conversation, error)
	// Get returns ErrNotFound for unknown ids and for conversations of
	// other users.
	Get(ctx context.Context, userID, id string) (*Conversation, error)
	Delete(ctx context.Context, userID, id string) error
}

// MemoryStore keeps conversations in process memory. Conversations idle for
// longer than MaxIdle are dropped on the next Create.
type MemoryStore struct {
	MaxIdle time.Duration

	mu            sync.Mutex
	conversations map[string]*Conversation
}

func NewMemoryStore(maxIdle time.Duration) *MemoryStore {
	return &MemoryStore{MaxIdle: maxIdle, conversations: map[string]*Conversation{}}
}

func (s *MemoryStore) Create(ctx context.Context, userID string) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &Conversation{ID: uuid.NewString(), UserID: userID, updated: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	s.conversations[c.ID] = c
	return c, nil
}

func (s *MemoryStore) Get(ctx context.Context, userID, id string) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return nil, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	return c, nil
}

func (s *MemoryStore) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}

// Len returns the number of stored conversations.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}

func (s *MemoryStore) evictLocked() {
	if s.MaxIdle <= 0 {
		return
	}
	cutoff := time.Now().Add(-s.MaxIdle)
	for id, c := range s.conversations {
		if c.Updated().Before(cutoff) {
			delete(s.conversations, id)
		}
	}
}
