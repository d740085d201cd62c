package ai

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
)

func TestToGemini(t *testing.T) {
	system, history, last, err := toGemini([]Message{
		{Role: RoleSystem, Content: "Отвечай по-русски."},
		{Role: RoleUser, Content: "Привет"},
		{Role: RoleAssistant, Content: "Здравствуйте"},
		{Role: RoleUser, Content: "Что такое OCR?"},
	})
	if err != nil {
		t.Fatalf("toGemini() error = %v", err)
	}
	if system == nil || system.Parts[0] != genai.Text("Отвечай по-русски.") {
		t.Errorf("system = %+v", system)
	}
	if len(history) != 2 || history[0].Role != "user" || history[1].Role != "model" {
		t.Errorf("history = %+v", history)
	}
	if last != "Что такое OCR?" {
		t.Errorf("last = %q", last)
	}
}

func TestToGemini_RequiresTrailingUserMessage(t *testing.T) {
	tests := [][]Message{
		nil,
		{{Role: RoleSystem, Content: "x"}},
		{{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}},
	}
	for _, msgs := range tests {
		if _, _, _, err := toGemini(msgs); err == nil {
			t.Errorf("toGemini(%+v) should fail", msgs)
		}
	}
}

func TestGeminiText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text("Часть 1. "), genai.Text("Часть 2.")}},
	}}}
	if got := geminiText(resp); got != "Часть 1. Часть 2." {
		t.Errorf("geminiText() = %q", got)
	}
	if geminiText(nil) != "" || geminiText(&genai.GenerateContentResponse{}) != "" {
		t.Error("empty response should give empty text")
	}
}

func TestNewGeminiProvider_RequiresKey(t *testing.T) {
	if _, err := NewGeminiProvider(t.Context(), "", ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
