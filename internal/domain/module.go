package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MinutesPerLesson is the nominal duration used to estimate module length.
const MinutesPerLesson = 45

// DefaultIcon is shown for modules whose icon is unknown.
const DefaultIcon = "book-open"

var knownIcons = map[string]bool{
	"brain":            true,
	"cpu":              true,
	"file-spreadsheet": true,
	"image":            true,
	"file-text":        true,
}

// Lesson is one content unit. Its position in Module.Lessons is its index;
// its ID keys the lesson content.
type Lesson struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewLesson assigns a fresh id.
func NewLesson(name string) Lesson {
	return Lesson{ID: uuid.NewString(), Name: strings.TrimSpace(name)}
}

// Module is a course unit with an ordered lesson list.
type Module struct {
	ID       int64    `json:"id"`
	Title    string   `json:"title"`
	Icon     string   `json:"icon"`
	Lessons  []Lesson `json:"lessons"`
	Duration int      `json:"duration,omitempty"` // minutes
}

// Glyph resolves the icon name, falling back to DefaultIcon.
func (m Module) Glyph() string {
	if knownIcons[m.Icon] {
		return m.Icon
	}
	return DefaultIcon
}

// LessonIndex returns the position of the lesson with id, or -1.
func (m Module) LessonIndex(id string) int {
	for i, l := range m.Lessons {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a copy that shares no slices with m.
func (m Module) Clone() Module {
	m.Lessons = append([]Lesson(nil), m.Lessons...)
	return m
}

// NewModuleInput is the admin "add module" form.
type NewModuleInput struct {
	Title   string   `json:"title" validate:"required"`
	Icon    string   `json:"icon"`
	Lessons []string `json:"lessons" validate:"min=1"`
}

// NewModule validates the form and builds a module. Blank lesson names are
// dropped before the at-least-one-lesson check.
func NewModule(in NewModuleInput, now time.Time) (Module, error) {
	in.Title = strings.TrimSpace(in.Title)
	names := make([]string, 0, len(in.Lessons))
	for _, l := range in.Lessons {
		if strings.TrimSpace(l) != "" {
			names = append(names, l)
		}
	}
	in.Lessons = names

	if err := check(in); err != nil {
		return Module{}, err
	}

	lessons := make([]Lesson, len(names))
	for i, n := range names {
		lessons[i] = NewLesson(n)
	}

	return Module{
		ID:       now.UnixMilli(),
		Title:    in.Title,
		Icon:     in.Icon,
		Lessons:  lessons,
		Duration: len(lessons) * MinutesPerLesson,
	}, nil
}

type lessonForm struct {
	Name string `json:"lessonName" validate:"required"`
}

// ValidateLessonName rejects a blank lesson name.
func ValidateLessonName(name string) error {
	return check(lessonForm{Name: strings.TrimSpace(name)})
}
