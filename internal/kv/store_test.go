package kv

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

// exerciseStore runs the behaviour every Store implementation must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := t.Context()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want false, nil", ok, err)
	}

	if err := s.Set(ctx, KeyRole, "admin"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := s.Get(ctx, KeyRole)
	if err != nil || !ok || got != "admin" {
		t.Fatalf("Get() = %q, %v, %v; want admin, true, nil", got, ok, err)
	}

	if err := s.Set(ctx, KeyRole, "user"); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	if got, _, _ := s.Get(ctx, KeyRole); got != "user" {
		t.Errorf("after overwrite Get() = %q, want user", got)
	}

	if err := s.Remove(ctx, KeyRole); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, KeyRole); ok {
		t.Error("key still present after Remove()")
	}
	if err := s.Remove(ctx, KeyRole); err != nil {
		t.Errorf("Remove() of missing key error = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	exerciseStore(t, mustOpenFile(t, filepath.Join(t.TempDir(), "profile.json")))
}

func TestFileStore_PersistsAcrossOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "profile.json")

	s := mustOpenFile(t, path)
	if err := s.Set(ctx, UserKey("Алия"), `{"id":1}`); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := SetBool(ctx, s, ChatKey("Алия"), true); err != nil {
		t.Fatalf("SetBool() error = %v", err)
	}

	reopened := mustOpenFile(t, path)
	got, ok, err := reopened.Get(ctx, UserKey("Алия"))
	if err != nil || !ok || got != `{"id":1}` {
		t.Fatalf("Get() after reopen = %q, %v, %v", got, ok, err)
	}
	visible, err := GetBool(ctx, reopened, ChatKey("Алия"))
	if err != nil || !visible {
		t.Errorf("GetBool() after reopen = %v, %v; want true", visible, err)
	}
}

func TestOpenFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(path); err == nil {
		t.Fatal("OpenFile() should fail on a corrupt profile")
	}
}

func TestOpenFile_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.json")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFile(path); err != nil {
		t.Fatalf("OpenFile() on empty file error = %v", err)
	}
}

func TestJSONHelpers(t *testing.T) {
	ctx := t.Context()
	s := NewMemoryStore()

	type entry struct {
		Title string `json:"title"`
	}

	var out entry
	ok, err := GetJSON(ctx, s, KeyModules, &out)
	if err != nil || ok {
		t.Fatalf("GetJSON(missing) = %v, %v", ok, err)
	}

	if err := SetJSON(ctx, s, KeyModules, entry{Title: "Основы ИИ"}); err != nil {
		t.Fatalf("SetJSON() error = %v", err)
	}
	raw, _, _ := s.Get(ctx, KeyModules)
	if raw != `{"title":"Основы ИИ"}` {
		t.Errorf("stored = %s", raw)
	}

	ok, err = GetJSON(ctx, s, KeyModules, &out)
	if err != nil || !ok || out.Title != "Основы ИИ" {
		t.Errorf("GetJSON() = %+v, %v, %v", out, ok, err)
	}

	_ = s.Set(ctx, KeyUsers, "[")
	var users []entry
	if _, err := GetJSON(ctx, s, KeyUsers, &users); err == nil {
		t.Error("GetJSON() should fail on malformed JSON")
	}
}

func TestGetBool(t *testing.T) {
	ctx := t.Context()
	s := NewMemoryStore()

	tests := []struct {
		name string
		raw  *string
		want bool
	}{
		{"missing", nil, false},
		{"true", ptr("true"), true},
		{"false", ptr("false"), false},
		{"garbage", ptr("yes"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_ = s.Remove(ctx, KeyIsLoggedIn)
			if tt.raw != nil {
				_ = s.Set(ctx, KeyIsLoggedIn, *tt.raw)
			}
			got, err := GetBool(ctx, s, KeyIsLoggedIn)
			if err != nil || got != tt.want {
				t.Errorf("GetBool() = %v, %v; want %v", got, err, tt.want)
			}
		})
	}
}

func TestPerUserKeys(t *testing.T) {
	got := PerUserKeys("Bob")
	want := []string{"user_Bob", "showAIChat_Bob", "aiAgentData_Bob"}
	if len(got) != len(want) {
		t.Fatalf("PerUserKeys() = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("PerUserKeys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func mustOpenFile(t *testing.T, path string) *FileStore {
	t.Helper()
	s, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	return s
}

func ptr(s string) *string { return &s }
