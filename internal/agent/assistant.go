package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sqb-ai/istudy/internal/ai"
	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/events"
)

// FallbackReply is shown when the provider answers with nothing.
const FallbackReply = "Извините, я не смог обработать ваш запрос."

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// Completer is the slice of the AI gateway the assistant needs. *ai.Router
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, req ai.CompletionRequest) (ai.CompletionResponse, error)
}

// AssistantConfig wires an Assistant. Quota and Events may be nil; zero
// numeric fields take defaults.
type AssistantConfig struct {
	Provider     Completer
	Store        ConversationStore
	Quota        ai.Quota
	Events       events.Logger
	MaxTokens    int
	Temperature  float64
	HistoryLimit int
	Now          func() time.Time
}

// Reply is what the learner sees after sending a message. When Failed is set,
// Text is a fixed message for Category and never the raw error.
type Reply struct {
	Text     string
	Failed   bool
	Category Category
}

// Assistant is the learner's personal chat agent.
type Assistant struct {
	cfg AssistantConfig
}

func NewAssistant(cfg AssistantConfig) *Assistant {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Events == nil {
		cfg.Events = events.NopLogger{}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Assistant{cfg: cfg}
}

// SystemPrompt renders the instructions for a profile.
func SystemPrompt(p Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a helpful AI assistant specialized in %s.\n", p.Area)
	fmt.Fprintf(&b, "Your primary goal is to help users with tasks related to %s.\n", p.Area)
	fmt.Fprintf(&b, "You are configured with %s capabilities and %s personalization level.\n", p.Model, p.Personalization)
	b.WriteString("Be friendly, professional, and provide accurate, helpful responses.\n")
	b.WriteString("Always respond in Russian language since the user interface is in Russian.")
	return b.String()
}

// Initialize starts a fresh conversation configured from the wizard answers.
// Any open conversation for email is ended first.
func (a *Assistant) Initialize(ctx context.Context, email string, answers []domain.AgentAnswer) (*Conversation, error) {
	if err := a.Reset(ctx, email); err != nil {
		return nil, err
	}

	profile := ProfileFrom(answers)
	conv, err := a.start(ctx, email, profile)
	if err != nil {
		return nil, err
	}

	if err := a.cfg.Events.Log(ctx, events.Event{
		UserEmail: email,
		Type:      events.TypeAgentCreated,
		Data: map[string]any{
			"area":            profile.Area,
			"model":           profile.Model,
			"personalization": profile.Personalization,
			"answers":         len(answers),
		},
		CreatedAt: a.cfg.Now(),
	}); err != nil {
		slog.Warn("failed to log event", "type", events.TypeAgentCreated, "user_email", email, "error", err)
	}

	slog.Info("assistant initialized", "user_email", email, "area", profile.Area)
	return conv, nil
}

// Send delivers text to the assistant. Provider and quota failures come back
// as a failed Reply; the error is reserved for storage problems and blank
// input.
func (a *Assistant) Send(ctx context.Context, email, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}

	conv, ok, err := a.cfg.Store.GetActiveConversation(ctx, email)
	if err != nil {
		return Reply{}, fmt.Errorf("get conversation: %w", err)
	}
	if !ok {
		conv, err = a.start(ctx, email, ProfileFrom(nil))
		if err != nil {
			return Reply{}, err
		}
	}

	userMsg := StoredMessage{Role: ai.RoleUser, Content: text, CreatedAt: a.cfg.Now()}
	if err := a.cfg.Store.AddMessage(ctx, conv.ID, userMsg); err != nil {
		return Reply{}, fmt.Errorf("save message: %w", err)
	}
	conv.Messages = append(conv.Messages, userMsg)

	if a.cfg.Quota != nil {
		if err := a.cfg.Quota.Check(ctx, email); err != nil {
			return a.failed(email, err), nil
		}
	}

	if a.cfg.Provider == nil {
		return a.failed(email, ai.ErrNoProvider), nil
	}
	resp, err := a.cfg.Provider.Complete(ctx, ai.CompletionRequest{
		Messages:    a.contextMessages(conv),
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	if err != nil {
		return a.failed(email, err), nil
	}

	content := strings.TrimSpace(resp.Content)
	if content == "" {
		content = FallbackReply
	}

	err = a.cfg.Store.AddMessage(ctx, conv.ID, StoredMessage{
		Role:         ai.RoleAssistant,
		Content:      content,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		CreatedAt:    a.cfg.Now(),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("save reply: %w", err)
	}

	if a.cfg.Quota != nil {
		if err := a.cfg.Quota.Record(ctx, email, resp.TotalTokens()); err != nil {
			slog.Warn("failed to record token usage", "user_email", email, "error", err)
		}
	}

	if err := a.cfg.Events.Log(ctx, events.Event{
		UserEmail: email,
		Type:      events.TypeChatMessage,
		Data: map[string]any{
			"model":         resp.Model,
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
		},
		CreatedAt: a.cfg.Now(),
	}); err != nil {
		slog.Warn("failed to log event", "type", events.TypeChatMessage, "user_email", email, "error", err)
	}

	return Reply{Text: content}, nil
}

// History returns the messages of the active conversation.
func (a *Assistant) History(ctx context.Context, email string) ([]StoredMessage, error) {
	conv, ok, err := a.cfg.Store.GetActiveConversation(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return conv.Messages, nil
}

// Reset ends the active conversation, if any.
func (a *Assistant) Reset(ctx context.Context, email string) error {
	conv, ok, err := a.cfg.Store.GetActiveConversation(ctx, email)
	if err != nil {
		return fmt.Errorf("get conversation: %w", err)
	}
	if !ok {
		return nil
	}
	if err := a.cfg.Store.EndConversation(ctx, conv.ID); err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	return nil
}

func (a *Assistant) start(ctx context.Context, email string, p Profile) (*Conversation, error) {
	conv := Conversation{
		UserEmail:    email,
		SystemPrompt: SystemPrompt(p),
		StartedAt:    a.cfg.Now(),
	}
	id, err := a.cfg.Store.CreateConversation(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	conv.ID = id
	conv.Messages = []StoredMessage{}
	return &conv, nil
}

// contextMessages is the system prompt followed by the most recent turns.
func (a *Assistant) contextMessages(conv *Conversation) []ai.Message {
	history := conv.Messages
	if len(history) > a.cfg.HistoryLimit {
		history = history[len(history)-a.cfg.HistoryLimit:]
	}

	msgs := make([]ai.Message, 0, len(history)+1)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: conv.SystemPrompt})
	for _, m := range history {
		msgs = append(msgs, ai.Message{Role: m.Role, Content: m.Content})
	}
	return msgs
}

func (a *Assistant) failed(email string, err error) Reply {
	cat := Classify(err)
	slog.Error("assistant request failed", "user_email", email, "category", string(cat), "error", err)
	return Reply{Text: cat.Message(), Failed: true, Category: cat}
}
