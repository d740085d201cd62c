// Package agent builds a learner's personal AI assistant: the questionnaire
// wizard, the persisted answers, and the chat that runs on top of them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/kv"
)

var (
	ErrNoQuestions   = errors.New("questionnaire is empty")
	ErrNotStarted    = errors.New("wizard not started")
	ErrFinished      = errors.New("wizard already finished")
	ErrInvalidOption = errors.New("answer is not one of the options")
)

// Wizard texts.
const (
	GreetingHello = "Привет! Я AI ассистент. Давайте создадим персонального AI агента для вас!"
	StartLabel    = "Да, давайте начнем!"
	DoneMessage   = "Отлично! Я получил все ответы. Сейчас создам для вас персонального AI агента..."
	CreatedTitle  = "🎉 AI Агент успешно создан!"
)

// Profile defaults when the learner skipped past a question.
const (
	DefaultArea            = "general assistance"
	DefaultModel           = "GPT-3.5"
	DefaultPersonalization = "standard"
)

// Answer positions that shape the system prompt.
const (
	areaAnswer            = 0
	modelAnswer           = 3
	personalizationAnswer = 6
)

// Profile is the part of the questionnaire the assistant is configured from.
type Profile struct {
	Area            string
	Model           string
	Personalization string
}

// Wizard walks a learner through the questionnaire one question at a time.
// It is not safe for concurrent use.
type Wizard struct {
	questions []domain.AgentQuestion
	answers   []domain.AgentAnswer
	started   bool
}

func NewWizard(questions []domain.AgentQuestion) *Wizard {
	return &Wizard{questions: slices.Clone(questions)}
}

// Greeting returns the two opening messages.
func (w *Wizard) Greeting() []string {
	n := len(w.questions)
	return []string{
		GreetingHello,
		fmt.Sprintf("Я задам вам %d %s, чтобы понять ваши потребности. Готовы начать?", n, questionWord(n)),
	}
}

// Start begins the questionnaire and returns the first question.
func (w *Wizard) Start() (domain.AgentQuestion, error) {
	if len(w.questions) == 0 {
		return domain.AgentQuestion{}, ErrNoQuestions
	}
	w.started = true
	w.answers = w.answers[:0]
	return w.questions[0], nil
}

// Current returns the question awaiting an answer.
func (w *Wizard) Current() (domain.AgentQuestion, bool) {
	if !w.started || w.Done() {
		return domain.AgentQuestion{}, false
	}
	return w.questions[len(w.answers)], true
}

// Answer records option for the current question. It returns the next
// question, or done=true once every question is answered.
func (w *Wizard) Answer(option string) (next domain.AgentQuestion, done bool, err error) {
	if !w.started {
		return domain.AgentQuestion{}, false, ErrNotStarted
	}
	if w.Done() {
		return domain.AgentQuestion{}, true, ErrFinished
	}

	q := w.questions[len(w.answers)]
	if !q.HasOption(option) {
		return q, false, fmt.Errorf("question %d: %w", q.ID, ErrInvalidOption)
	}
	w.answers = append(w.answers, domain.AgentAnswer{QuestionID: q.ID, Answer: option})

	if w.Done() {
		return domain.AgentQuestion{}, true, nil
	}
	return w.questions[len(w.answers)], false, nil
}

func (w *Wizard) Done() bool {
	return w.started && len(w.answers) == len(w.questions)
}

func (w *Wizard) Answers() []domain.AgentAnswer {
	return slices.Clone(w.answers)
}

func (w *Wizard) Profile() Profile {
	return ProfileFrom(w.answers)
}

// ProfileFrom picks the area, model and personalization answers by position.
func ProfileFrom(answers []domain.AgentAnswer) Profile {
	pick := func(i int, fallback string) string {
		if i < len(answers) && answers[i].Answer != "" {
			return answers[i].Answer
		}
		return fallback
	}
	return Profile{
		Area:            pick(areaAnswer, DefaultArea),
		Model:           pick(modelAnswer, DefaultModel),
		Personalization: pick(personalizationAnswer, DefaultPersonalization),
	}
}

func questionWord(n int) string {
	switch {
	case n == 1:
		return "вопрос"
	case n < 5:
		return "вопроса"
	default:
		return "вопросов"
	}
}

// SaveAgentData stores the learner's answers under aiAgentData_<name>.
func SaveAgentData(ctx context.Context, store kv.Store, name string, answers []domain.AgentAnswer, now time.Time) (domain.AgentData, error) {
	data := domain.AgentData{Answers: slices.Clone(answers), CreatedAt: now}
	if data.Answers == nil {
		data.Answers = []domain.AgentAnswer{}
	}
	if err := kv.SetJSON(ctx, store, kv.AgentDataKey(name), data); err != nil {
		return domain.AgentData{}, fmt.Errorf("save agent data: %w", err)
	}
	return data, nil
}

// LoadAgentData returns the saved answers, or ok=false if the learner has
// not finished the wizard.
func LoadAgentData(ctx context.Context, store kv.Store, name string) (domain.AgentData, bool, error) {
	var data domain.AgentData
	ok, err := kv.GetJSON(ctx, store, kv.AgentDataKey(name), &data)
	if err != nil {
		return domain.AgentData{}, false, fmt.Errorf("load agent data: %w", err)
	}
	return data, ok, nil
}
