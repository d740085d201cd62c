package agent_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sqb-ai/istudy/internal/agent"
	"github.com/sqb-ai/istudy/internal/ai"
	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/events"
)

const learner = "aliya@sqb.uz"

func fixedClock() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }

func newAssistant(t *testing.T, provider agent.Completer, quota ai.Quota) (*agent.Assistant, *events.MemoryLogger) {
	t.Helper()
	log := events.NewMemoryLogger()
	return agent.NewAssistant(agent.AssistantConfig{
		Provider: provider,
		Store:    agent.NewMemoryStore(),
		Quota:    quota,
		Events:   log,
		Now:      fixedClock,
	}), log
}

func TestSystemPrompt(t *testing.T) {
	got := agent.SystemPrompt(agent.Profile{Area: "HR", Model: "GPT-4", Personalization: "высокий"})
	for _, want := range []string{
		"specialized in HR.",
		"tasks related to HR.",
		"configured with GPT-4 capabilities and высокий personalization level.",
		"Always respond in Russian language",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("SystemPrompt() missing %q:\n%s", want, got)
		}
	}
}

func TestAssistant_InitializeAndSend(t *testing.T) {
	mock := ai.NewMockProvider("Конечно, помогу!")
	a, log := newAssistant(t, mock, nil)
	ctx := t.Context()

	answers := []domain.AgentAnswer{{QuestionID: 1, Answer: "Маркетинг"}}
	conv, err := a.Initialize(ctx, learner, answers)
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if !strings.Contains(conv.SystemPrompt, "Маркетинг") {
		t.Errorf("SystemPrompt = %q", conv.SystemPrompt)
	}
	if len(log.OfType(events.TypeAgentCreated)) != 1 {
		t.Error("agent_created not logged")
	}

	reply, err := a.Send(ctx, learner, "  Помоги с планом  ")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Failed || reply.Text != "Конечно, помогу!" {
		t.Errorf("reply = %+v", reply)
	}

	req := mock.LastRequest()
	if req == nil {
		t.Fatal("provider not called")
	}
	if req.MaxTokens != 500 || req.Temperature != 0.7 {
		t.Errorf("request params = %d, %v", req.MaxTokens, req.Temperature)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != ai.RoleSystem || req.Messages[1].Content != "Помоги с планом" {
		t.Errorf("request messages = %+v", req.Messages)
	}

	history, err := a.History(ctx, learner)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[1].Role != ai.RoleAssistant {
		t.Errorf("history = %+v", history)
	}
	if len(log.OfType(events.TypeChatMessage)) != 1 {
		t.Error("chat_message not logged")
	}
}

func TestAssistant_ReinitializeStartsOver(t *testing.T) {
	a, _ := newAssistant(t, ai.NewMockProvider("ok"), nil)
	ctx := t.Context()

	if _, err := a.Initialize(ctx, learner, nil); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if _, err := a.Send(ctx, learner, "первый"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := a.Initialize(ctx, learner, []domain.AgentAnswer{{QuestionID: 1, Answer: "Финансы"}}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	history, _ := a.History(ctx, learner)
	if len(history) != 0 {
		t.Errorf("history after re-initialize = %d messages, want 0", len(history))
	}
}

func TestAssistant_SendWithoutInitializeUsesDefaults(t *testing.T) {
	mock := ai.NewMockProvider("ok")
	a, _ := newAssistant(t, mock, nil)

	if _, err := a.Send(t.Context(), learner, "привет"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	system := mock.LastRequest().Messages[0].Content
	if !strings.Contains(system, agent.DefaultArea) {
		t.Errorf("system prompt = %q, want default area", system)
	}
}

func TestAssistant_HistoryLimit(t *testing.T) {
	mock := ai.NewMockProvider("ok")
	a := agent.NewAssistant(agent.AssistantConfig{Provider: mock, HistoryLimit: 3, Now: fixedClock})
	ctx := t.Context()

	for _, text := range []string{"1", "2", "3"} {
		if _, err := a.Send(ctx, learner, text); err != nil {
			t.Fatalf("Send(%s) error = %v", text, err)
		}
	}

	msgs := mock.LastRequest().Messages
	if len(msgs) != 4 {
		t.Fatalf("request has %d messages, want system + 3", len(msgs))
	}
	if msgs[1].Content != "2" || msgs[3].Content != "3" {
		t.Errorf("windowed messages = %+v", msgs[1:])
	}
}

func TestAssistant_EmptyReplyFallsBack(t *testing.T) {
	a, _ := newAssistant(t, ai.NewMockProvider("   "), nil)

	reply, err := a.Send(t.Context(), learner, "?")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if reply.Text != agent.FallbackReply || reply.Failed {
		t.Errorf("reply = %+v, want fallback", reply)
	}
}

func TestAssistant_Failures(t *testing.T) {
	tests := []struct {
		name     string
		provider agent.Completer
		quota    ai.Quota
		want     agent.Category
	}{
		{"bad key", &ai.MockProvider{Err: &ai.APIError{Provider: "openai", StatusCode: 401, Message: "Incorrect API key"}}, nil, agent.CategoryAuth},
		{"run timeout", &ai.MockProvider{Err: ai.ErrRunTimeout}, nil, agent.CategoryTimeout},
		{"no provider", ai.NewRouter(), nil, agent.CategoryAuth},
		{"quota", ai.NewMockProvider("never"), ai.NewInMemoryQuota(1), agent.CategoryQuota},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.quota != nil {
				if err := tt.quota.Record(t.Context(), learner, 5); err != nil {
					t.Fatalf("Record() error = %v", err)
				}
			}
			a, log := newAssistant(t, tt.provider, tt.quota)

			reply, err := a.Send(t.Context(), learner, "привет")
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			if !reply.Failed || reply.Category != tt.want {
				t.Errorf("reply = %+v, want failed %q", reply, tt.want)
			}
			if reply.Text != tt.want.Message() {
				t.Errorf("reply text = %q, want fixed message", reply.Text)
			}
			if len(log.OfType(events.TypeChatMessage)) != 0 {
				t.Error("failed send logged a chat_message")
			}
		})
	}
}

func TestAssistant_RecordsQuota(t *testing.T) {
	quota := ai.NewInMemoryQuota(0)
	a, _ := newAssistant(t, ai.NewMockProvider("abcd"), quota)
	ctx := t.Context()

	if _, err := a.Send(ctx, learner, "hi"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	used, _, err := quota.Usage(ctx, learner)
	if err != nil {
		t.Fatalf("Usage() error = %v", err)
	}
	if used != 14 {
		t.Errorf("used = %d, want 14", used)
	}
}

func TestAssistant_EmptyMessage(t *testing.T) {
	a, _ := newAssistant(t, ai.NewMockProvider("ok"), nil)
	if _, err := a.Send(t.Context(), learner, "   "); !errors.Is(err, agent.ErrEmptyMessage) {
		t.Errorf("Send(blank) error = %v, want ErrEmptyMessage", err)
	}
}
