package domain

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports every offending form field with its user-facing
// message. A mutation that fails validation is not applied.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Field returns the message for one field, or "".
func (e *ValidationError) Field(name string) string {
	return e.Fields[name]
}

// AsValidation unwraps err into a *ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// messages maps "field.tag" to the text shown next to the input.
var messages = map[string]string{
	"name.required":       "Имя обязательно",
	"email.required":      "Email обязателен",
	"email.email":         "Неверный формат email",
	"department.required": "Отдел обязателен",
	"password.required":   "Пароль обязателен",
	"password.min":        "Пароль должен содержать минимум 6 символов",
	"title.required":      "Название модуля обязательно",
	"lessons.min":         "Добавьте хотя бы один урок",
	"question.required":   "Пожалуйста, заполните вопрос и все варианты ответов",
	"options.len":         "Вопрос должен содержать 4 варианта ответа",
	"options.min":         "Добавьте хотя бы один вариант ответа",
	"options.required":    "Пожалуйста, заполните вопрос и все варианты ответов",
	"correctAnswer.min":   "Неверный номер правильного ответа",
	"correctAnswer.max":   "Неверный номер правильного ответа",
	"lessonName.required": "Название урока обязательно",
}

// MsgDuplicateEmail is reported on the email field when the roster already
// holds the address.
const MsgDuplicateEmail = "Пользователь с таким email уже существует"

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// check runs struct validation and converts the result to a ValidationError.
// Only the first failure per field is kept.
func check(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate: %w", err)
	}

	out := &ValidationError{Fields: make(map[string]string, len(verrs))}
	for _, fe := range verrs {
		field := fe.Field()
		if i := strings.IndexByte(field, '['); i >= 0 {
			field = field[:i]
		}
		if _, seen := out.Fields[field]; seen {
			continue
		}
		msg, ok := messages[field+"."+fe.Tag()]
		if !ok {
			msg = fmt.Sprintf("Некорректное значение (%s)", fe.Tag())
		}
		out.Fields[field] = msg
	}
	return out
}
