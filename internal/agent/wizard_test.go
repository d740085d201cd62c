package agent_test

import (
	"errors"
	"testing"
	"time"

	"github.com/sqb-ai/istudy/internal/agent"
	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/kv"
)

func questions(n int) []domain.AgentQuestion {
	qs := make([]domain.AgentQuestion, n)
	for i := range qs {
		qs[i] = domain.AgentQuestion{
			ID:       int64(i + 1),
			Question: "Вопрос",
			Order:    i + 1,
			Options: []domain.AgentOption{
				{ID: 1, OptionText: "A", Order: 1},
				{ID: 2, OptionText: "B", Order: 2},
			},
		}
	}
	return qs
}

func TestWizard_Greeting(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "Я задам вам 1 вопрос, чтобы понять ваши потребности. Готовы начать?"},
		{3, "Я задам вам 3 вопроса, чтобы понять ваши потребности. Готовы начать?"},
		{10, "Я задам вам 10 вопросов, чтобы понять ваши потребности. Готовы начать?"},
	}
	for _, tt := range tests {
		got := agent.NewWizard(questions(tt.n)).Greeting()
		if len(got) != 2 {
			t.Fatalf("Greeting() = %d messages, want 2", len(got))
		}
		if got[0] != agent.GreetingHello {
			t.Errorf("Greeting()[0] = %q", got[0])
		}
		if got[1] != tt.want {
			t.Errorf("Greeting(%d)[1] = %q, want %q", tt.n, got[1], tt.want)
		}
	}
}

func TestWizard_Flow(t *testing.T) {
	w := agent.NewWizard(questions(3))

	if _, _, err := w.Answer("A"); !errors.Is(err, agent.ErrNotStarted) {
		t.Fatalf("Answer before Start error = %v, want ErrNotStarted", err)
	}

	first, err := w.Start()
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if first.ID != 1 {
		t.Errorf("first question = %d, want 1", first.ID)
	}

	if _, _, err := w.Answer("Z"); !errors.Is(err, agent.ErrInvalidOption) {
		t.Fatalf("Answer(Z) error = %v, want ErrInvalidOption", err)
	}
	if cur, _ := w.Current(); cur.ID != 1 {
		t.Errorf("invalid answer advanced the wizard to %d", cur.ID)
	}

	next, done, err := w.Answer("A")
	if err != nil || done || next.ID != 2 {
		t.Fatalf("Answer(A) = %d, %v, %v", next.ID, done, err)
	}
	if _, done, _ = w.Answer("B"); done {
		t.Fatal("done after two of three answers")
	}
	if _, done, err = w.Answer("A"); err != nil || !done {
		t.Fatalf("last Answer() done = %v, err = %v", done, err)
	}
	if !w.Done() {
		t.Error("Done() = false")
	}
	if _, ok := w.Current(); ok {
		t.Error("Current() after finishing should report false")
	}
	if _, _, err := w.Answer("A"); !errors.Is(err, agent.ErrFinished) {
		t.Errorf("Answer after finish error = %v, want ErrFinished", err)
	}

	answers := w.Answers()
	want := []domain.AgentAnswer{{QuestionID: 1, Answer: "A"}, {QuestionID: 2, Answer: "B"}, {QuestionID: 3, Answer: "A"}}
	if len(answers) != len(want) {
		t.Fatalf("Answers() = %v", answers)
	}
	for i := range want {
		if answers[i] != want[i] {
			t.Errorf("answers[%d] = %+v, want %+v", i, answers[i], want[i])
		}
	}
}

func TestWizard_Empty(t *testing.T) {
	w := agent.NewWizard(nil)
	if _, err := w.Start(); !errors.Is(err, agent.ErrNoQuestions) {
		t.Fatalf("Start() error = %v, want ErrNoQuestions", err)
	}
	if w.Done() {
		t.Error("unstarted wizard reports Done")
	}
}

func TestProfileFrom(t *testing.T) {
	full := make([]domain.AgentAnswer, 10)
	for i := range full {
		full[i] = domain.AgentAnswer{QuestionID: int64(i + 1), Answer: "x"}
	}
	full[0].Answer = "Продажи"
	full[3].Answer = "GPT-4"
	full[6].Answer = "Высокая"

	tests := []struct {
		name    string
		answers []domain.AgentAnswer
		want    agent.Profile
	}{
		{"full", full, agent.Profile{Area: "Продажи", Model: "GPT-4", Personalization: "Высокая"}},
		{"partial", full[:2], agent.Profile{Area: "Продажи", Model: agent.DefaultModel, Personalization: agent.DefaultPersonalization}},
		{"none", nil, agent.Profile{Area: agent.DefaultArea, Model: agent.DefaultModel, Personalization: agent.DefaultPersonalization}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := agent.ProfileFrom(tt.answers); got != tt.want {
				t.Errorf("ProfileFrom() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAgentData_RoundTrip(t *testing.T) {
	store := kv.NewMemoryStore()
	ctx := t.Context()
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	if _, ok, err := agent.LoadAgentData(ctx, store, "Алия"); err != nil || ok {
		t.Fatalf("LoadAgentData() before save = %v, %v", ok, err)
	}

	answers := []domain.AgentAnswer{{QuestionID: 1, Answer: "Продажи"}}
	if _, err := agent.SaveAgentData(ctx, store, "Алия", answers, now); err != nil {
		t.Fatalf("SaveAgentData() error = %v", err)
	}

	raw := store.Snapshot()[kv.AgentDataKey("Алия")]
	if raw != `{"answers":[{"questionId":1,"answer":"Продажи"}],"createdAt":"2025-03-14T12:00:00Z"}` {
		t.Errorf("stored value = %s", raw)
	}

	got, ok, err := agent.LoadAgentData(ctx, store, "Алия")
	if err != nil || !ok {
		t.Fatalf("LoadAgentData() = %v, %v", ok, err)
	}
	if len(got.Answers) != 1 || got.Answers[0].Answer != "Продажи" || !got.CreatedAt.Equal(now) {
		t.Errorf("LoadAgentData() = %+v", got)
	}
}
