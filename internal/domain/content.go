package domain

import "strings"

// OptionsPerQuestion is the fixed number of answers in a test question.
const OptionsPerQuestion = 4

// DefaultLessonContent is the body given to a freshly added lesson.
const DefaultLessonContent = "Новый урок. Добавьте содержимое здесь."

// ContentRecord is the editable body of a lesson, keyed by lesson id.
type ContentRecord struct {
	Title   string         `json:"title"`
	Content string         `json:"content"`
	Test    []TestQuestion `json:"test,omitempty"`
}

// TestQuestion is one multiple-choice question.
type TestQuestion struct {
	Question      string   `json:"question" validate:"required"`
	Options       []string `json:"options" validate:"len=4,dive,required"`
	CorrectAnswer int      `json:"correctAnswer" validate:"min=0,max=3"`
}

// Correct reports whether answer is the right option index.
func (q TestQuestion) Correct(answer int) bool {
	return answer == q.CorrectAnswer
}

// ValidateTest checks every question of a test bank.
func ValidateTest(questions []TestQuestion) error {
	for _, q := range questions {
		q.Question = strings.TrimSpace(q.Question)
		q.Options = trimAll(q.Options)
		if err := check(q); err != nil {
			return err
		}
	}
	return nil
}

func trimAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.TrimSpace(s)
	}
	return out
}
