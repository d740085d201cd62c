package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrRunTimeout is returned when an assistant run does not finish within the
// configured number of polls.
var ErrRunTimeout = errors.New("assistant run did not finish in time")

const (
	defaultPollInterval = time.Second
	defaultPollAttempts = 60
)

// AssistantsProvider implements Provider with the OpenAI Assistants API: a
// thread is created from the conversation, a run is started against the
// configured assistant and polled until it finishes.
type AssistantsProvider struct {
	apiKey      string
	assistantID string
	baseURL     string
	client      *http.Client

	interval time.Duration
	attempts int
}

// NewAssistantsProvider creates a thread/run provider for assistantID.
// Non-positive poll settings fall back to one poll per second, sixty times.
func NewAssistantsProvider(apiKey, assistantID string, interval time.Duration, attempts int, opts ...OpenAIOption) *AssistantsProvider {
	o := buildOpenAIOptions(opts)
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if attempts <= 0 {
		attempts = defaultPollAttempts
	}
	return &AssistantsProvider{
		apiKey:      apiKey,
		assistantID: assistantID,
		baseURL:     o.baseURL,
		client:      o.client,
		interval:    interval,
		attempts:    attempts,
	}
}

type threadMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type createThreadRequest struct {
	Messages []threadMessage `json:"messages"`
}

type createRunRequest struct {
	AssistantID  string   `json:"assistant_id"`
	Instructions string   `json:"additional_instructions,omitempty"`
	Model        string   `json:"model,omitempty"`
	MaxTokens    int      `json:"max_completion_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

type threadObject struct {
	ID string `json:"id"`
}

type runObject struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Model     string `json:"model"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
	Usage *openaiUsage `json:"usage"`
}

type messageList struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

func (p *AssistantsProvider) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	var instructions []string
	thread := createThreadRequest{Messages: []threadMessage{}}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			instructions = append(instructions, m.Content)
			continue
		}
		thread.Messages = append(thread.Messages, threadMessage(m))
	}

	var th threadObject
	if err := p.call(ctx, http.MethodPost, "/threads", thread, &th); err != nil {
		return CompletionResponse{}, fmt.Errorf("create thread: %w", err)
	}

	runReq := createRunRequest{
		AssistantID:  p.assistantID,
		Instructions: strings.Join(instructions, "\n"),
		Model:        req.Model,
		MaxTokens:    req.MaxTokens,
	}
	if req.Temperature > 0 {
		temp := req.Temperature
		runReq.Temperature = &temp
	}

	var run runObject
	if err := p.call(ctx, http.MethodPost, "/threads/"+th.ID+"/runs", runReq, &run); err != nil {
		return CompletionResponse{}, fmt.Errorf("create run: %w", err)
	}

	run, err := p.wait(ctx, th.ID, run)
	if err != nil {
		return CompletionResponse{}, err
	}

	var msgs messageList
	q := url.Values{"order": {"desc"}, "limit": {"1"}, "run_id": {run.ID}}
	if err := p.call(ctx, http.MethodGet, "/threads/"+th.ID+"/messages?"+q.Encode(), nil, &msgs); err != nil {
		return CompletionResponse{}, fmt.Errorf("list messages: %w", err)
	}

	var text []string
	for _, m := range msgs.Data {
		if m.Role != RoleAssistant {
			continue
		}
		for _, c := range m.Content {
			if c.Type == "text" {
				text = append(text, c.Text.Value)
			}
		}
	}
	if len(text) == 0 {
		return CompletionResponse{}, fmt.Errorf("no assistant message in thread %s", th.ID)
	}

	out := CompletionResponse{Content: strings.Join(text, "\n"), Model: run.Model}
	if run.Usage != nil {
		out.InputTokens = run.Usage.PromptTokens
		out.OutputTokens = run.Usage.CompletionTokens
	}
	return out, nil
}

// wait polls the run until it reaches a terminal status, the context ends or
// the attempt ceiling is hit.
func (p *AssistantsProvider) wait(ctx context.Context, threadID string, run runObject) (runObject, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 0; ; attempt++ {
		switch run.Status {
		case "completed":
			slog.Debug("assistant run completed", "thread_id", threadID, "run_id", run.ID, "polls", attempt)
			return run, nil
		case "failed", "cancelled", "expired", "incomplete", "requires_action":
			msg := run.Status
			if run.LastError != nil && run.LastError.Message != "" {
				msg = run.LastError.Message
			}
			return runObject{}, &APIError{Provider: "openai-assistants", Message: msg}
		}

		if attempt >= p.attempts {
			return runObject{}, fmt.Errorf("run %s after %d polls: %w", run.ID, attempt, ErrRunTimeout)
		}

		select {
		case <-ctx.Done():
			return runObject{}, ctx.Err()
		case <-ticker.C:
		}

		if err := p.call(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+run.ID, nil, &run); err != nil {
			return runObject{}, fmt.Errorf("poll run: %w", err)
		}
	}
}

func (p *AssistantsProvider) Models() []ModelInfo {
	return []ModelInfo{{ID: p.assistantID, Name: "OpenAI Assistant", MaxTokens: 128000}}
}

func (p *AssistantsProvider) HealthCheck(ctx context.Context) error {
	return p.call(ctx, http.MethodGet, "/assistants/"+p.assistantID, nil, nil)
}

func (p *AssistantsProvider) call(ctx context.Context, method, path string, body, out any) error {
	headers := map[string]string{
		"Authorization": "Bearer " + p.apiKey,
		"OpenAI-Beta":   "assistants=v2",
	}
	return doJSON(ctx, p.client, "openai-assistants", method, p.baseURL+path, headers, body, out)
}
