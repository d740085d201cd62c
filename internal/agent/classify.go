package agent

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/sqb-ai/istudy/internal/ai"
)

// Category groups assistant failures into the handful of cases the learner
// is told about.
type Category string

const (
	CategoryNone    Category = ""
	CategoryAuth    Category = "auth"
	CategoryQuota   Category = "quota"
	CategoryTimeout Category = "timeout"
	CategoryNetwork Category = "network"
	CategoryOther   Category = "other"
)

var messages = map[Category]string{
	CategoryAuth:    "Ошибка: неверный API ключ. Пожалуйста, проверьте конфигурацию.",
	CategoryQuota:   "Ошибка: превышен лимит API. Пожалуйста, проверьте ваш аккаунт.",
	CategoryTimeout: "Ошибка: превышено время ожидания ответа. Попробуйте ещё раз.",
	CategoryNetwork: "Ошибка сети: проверьте подключение к интернету.",
	CategoryOther:   "Извините, произошла ошибка при обработке вашего запроса.",
}

// Message is the fixed learner-facing text for c.
func (c Category) Message() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return messages[CategoryOther]
}

// Classify maps an error from the AI gateway to a Category. Typed errors are
// checked first; the message text is only a last resort.
func Classify(err error) Category {
	if err == nil {
		return CategoryNone
	}

	switch {
	case errors.Is(err, ai.ErrQuotaExceeded):
		return CategoryQuota
	case errors.Is(err, ai.ErrRunTimeout), errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.Is(err, ai.ErrNoProvider):
		return CategoryAuth
	}

	var apiErr *ai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return CategoryAuth
		case http.StatusTooManyRequests:
			return CategoryQuota
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return CategoryTimeout
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return CategoryTimeout
		}
		return CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key"), strings.Contains(msg, "api_key"), strings.Contains(msg, "unauthorized"):
		return CategoryAuth
	case strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"):
		return CategoryQuota
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return CategoryTimeout
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return CategoryNetwork
	}
	return CategoryOther
}
