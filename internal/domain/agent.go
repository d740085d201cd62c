package domain

import (
	"strings"
	"time"
)

// AgentQuestion is one entry of the assistant questionnaire.
type AgentQuestion struct {
	ID       int64         `json:"id"`
	Question string        `json:"question"`
	Options  []AgentOption `json:"options"`
	Order    int           `json:"order"`
}

// AgentOption is a selectable answer.
type AgentOption struct {
	ID         int64  `json:"id"`
	OptionText string `json:"option_text"`
	Order      int    `json:"order"`
}

// HasOption reports whether text is one of the question's options.
func (q AgentQuestion) HasOption(text string) bool {
	for _, o := range q.Options {
		if o.OptionText == text {
			return true
		}
	}
	return false
}

// OptionTexts lists the option labels in order.
func (q AgentQuestion) OptionTexts() []string {
	out := make([]string, len(q.Options))
	for i, o := range q.Options {
		out[i] = o.OptionText
	}
	return out
}

// AgentQuestionInput is the admin questionnaire form.
type AgentQuestionInput struct {
	Question string   `json:"question" validate:"required"`
	Options  []string `json:"options" validate:"min=1,dive,required"`
}

// Validate trims the form and checks that the question and every option are
// filled in.
func (in *AgentQuestionInput) Validate() error {
	in.Question = strings.TrimSpace(in.Question)
	in.Options = trimAll(in.Options)
	return check(*in)
}

// AgentAnswer is the learner's choice for one question.
type AgentAnswer struct {
	QuestionID int64  `json:"questionId"`
	Answer     string `json:"answer"`
}

// AgentData is what the wizard persists per learner.
type AgentData struct {
	Answers   []AgentAnswer `json:"answers"`
	CreatedAt time.Time     `json:"createdAt"`
}
