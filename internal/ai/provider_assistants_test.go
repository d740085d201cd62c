package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// fakeAssistants serves the thread/run endpoints. The run reports
// in_progress until polls reaches finishAfter, then finalStatus.
type fakeAssistants struct {
	t           *testing.T
	finishAfter int32
	finalStatus string
	polls       atomic.Int32
	instr       string
}

func (f *fakeAssistants) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("OpenAI-Beta") != "assistants=v2" {
		f.t.Errorf("missing OpenAI-Beta header on %s", r.URL.Path)
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/threads":
		var req createThreadRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 1 || req.Messages[0].Role != RoleUser {
			f.t.Errorf("thread messages = %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(threadObject{ID: "thread_1"})

	case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/runs":
		var req createRunRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.AssistantID != "asst_1" {
			f.t.Errorf("assistant_id = %q", req.AssistantID)
		}
		f.instr = req.Instructions
		_ = json.NewEncoder(w).Encode(runObject{ID: "run_1", Status: "queued"})

	case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/runs/run_1":
		n := f.polls.Add(1)
		run := runObject{ID: "run_1", Status: "in_progress", Model: "gpt-4o-mini"}
		if n >= f.finishAfter {
			run.Status = f.finalStatus
			run.Usage = &openaiUsage{PromptTokens: 30, CompletionTokens: 12}
			if f.finalStatus == "failed" {
				run.LastError = &struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				}{Code: "rate_limit_exceeded", Message: "You exceeded your current quota"}
			}
		}
		_ = json.NewEncoder(w).Encode(run)

	case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/messages":
		if r.URL.Query().Get("run_id") != "run_1" {
			f.t.Errorf("messages query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"data": [{"role": "assistant", "content": [{"type": "text", "text": {"value": "Готово"}}]}]}`))

	default:
		f.t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

var assistantsReq = CompletionRequest{Messages: []Message{
	{Role: RoleSystem, Content: "Be brief."},
	{Role: RoleUser, Content: "Сделай сводку"},
}}

func TestAssistantsProvider_Complete(t *testing.T) {
	fake := &fakeAssistants{t: t, finishAfter: 3, finalStatus: "completed"}
	server := httptest.NewServer(fake)
	defer server.Close()

	p := NewAssistantsProvider("key", "asst_1", time.Millisecond, 10, WithBaseURL(server.URL))
	resp, err := p.Complete(t.Context(), assistantsReq)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if resp.Content != "Готово" || resp.InputTokens != 30 || resp.OutputTokens != 12 {
		t.Errorf("resp = %+v", resp)
	}
	if fake.polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", fake.polls.Load())
	}
	if fake.instr != "Be brief." {
		t.Errorf("instructions = %q", fake.instr)
	}
}

func TestAssistantsProvider_Timeout(t *testing.T) {
	fake := &fakeAssistants{t: t, finishAfter: 1000, finalStatus: "completed"}
	server := httptest.NewServer(fake)
	defer server.Close()

	p := NewAssistantsProvider("key", "asst_1", time.Millisecond, 4, WithBaseURL(server.URL))
	_, err := p.Complete(t.Context(), assistantsReq)
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("error = %v, want ErrRunTimeout", err)
	}
	if fake.polls.Load() != 4 {
		t.Errorf("polls = %d, want 4", fake.polls.Load())
	}
}

func TestAssistantsProvider_RunFailed(t *testing.T) {
	fake := &fakeAssistants{t: t, finishAfter: 1, finalStatus: "failed"}
	server := httptest.NewServer(fake)
	defer server.Close()

	p := NewAssistantsProvider("key", "asst_1", time.Millisecond, 10, WithBaseURL(server.URL))
	_, err := p.Complete(t.Context(), assistantsReq)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "You exceeded your current quota" {
		t.Fatalf("error = %v, want APIError with run message", err)
	}
}

func TestAssistantsProvider_Cancelled(t *testing.T) {
	fake := &fakeAssistants{t: t, finishAfter: 1000, finalStatus: "completed"}
	server := httptest.NewServer(fake)
	defer server.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	p := NewAssistantsProvider("key", "asst_1", 5*time.Millisecond, 1000, WithBaseURL(server.URL))
	_, err := p.Complete(ctx, assistantsReq)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestNewAssistantsProvider_Defaults(t *testing.T) {
	p := NewAssistantsProvider("key", "asst_1", 0, 0)
	if p.interval != time.Second || p.attempts != 60 || p.baseURL != defaultOpenAIBaseURL {
		t.Errorf("defaults = %s, %d, %s", p.interval, p.attempts, p.baseURL)
	}
}
