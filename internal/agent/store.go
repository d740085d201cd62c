package agent

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrConversationNotFound is returned for an unknown conversation id.
var ErrConversationNotFound = errors.New("conversation not found")

// StoredMessage is one turn of an assistant conversation.
type StoredMessage struct {
	Role         string    `json:"role"`
	Content      string    `json:"content"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Conversation is a learner's chat with their personal assistant. The system
// prompt is fixed when the conversation starts.
type Conversation struct {
	ID           string          `json:"id"`
	UserEmail    string          `json:"user_email"`
	SystemPrompt string          `json:"system_prompt"`
	Messages     []StoredMessage `json:"messages"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
}

// ConversationStore persists conversations and their messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv Conversation) (string, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetActiveConversation(ctx context.Context, email string) (*Conversation, bool, error)
	AddMessage(ctx context.Context, conversationID string, msg StoredMessage) error
	EndConversation(ctx context.Context, id string) error
}

// MemoryStore is an in-memory ConversationStore.
type MemoryStore struct {
	conversations map[string]*Conversation
	mu            sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*Conversation),
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, conv Conversation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv.ID = generateID()
	if conv.StartedAt.IsZero() {
		conv.StartedAt = time.Now()
	}
	conv.Messages = slices.Clone(conv.Messages)
	if conv.Messages == nil {
		conv.Messages = []StoredMessage{}
	}
	s.conversations[conv.ID] = &conv
	return conv.ID, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrConversationNotFound)
	}
	return copyConversation(conv), nil
}

// GetActiveConversation returns the most recently started open conversation.
func (s *MemoryStore) GetActiveConversation(_ context.Context, email string) (*Conversation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active *Conversation
	for _, conv := range s.conversations {
		if conv.UserEmail != email || conv.EndedAt != nil {
			continue
		}
		if active == nil || conv.StartedAt.After(active.StartedAt) {
			active = conv
		}
	}
	if active == nil {
		return nil, false, nil
	}
	return copyConversation(active), true, nil
}

func (s *MemoryStore) AddMessage(_ context.Context, conversationID string, msg StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("add message to %s: %w", conversationID, ErrConversationNotFound)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	conv.Messages = append(conv.Messages, msg)
	return nil
}

func (s *MemoryStore) EndConversation(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("end %s: %w", id, ErrConversationNotFound)
	}
	now := time.Now()
	conv.EndedAt = &now
	return nil
}

func copyConversation(c *Conversation) *Conversation {
	out := *c
	out.Messages = slices.Clone(c.Messages)
	return &out
}

func generateID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x", b)
}
