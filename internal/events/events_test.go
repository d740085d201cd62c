package events_test

import (
	"strings"
	"testing"

	"github.com/sqb-ai/istudy/internal/events"
	"github.com/sqb-ai/istudy/internal/platform/database/databasetest"
)

func TestMemoryLogger_Log(t *testing.T) {
	logger := events.NewMemoryLogger()

	err := logger.Log(t.Context(), events.Event{
		UserEmail: "aliya@sqb.uz",
		Type:      events.TypeLessonViewed,
		ModuleID:  1,
		Data:      map[string]any{"lesson": 2},
	})
	if err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	got := logger.Events()
	if len(got) != 1 {
		t.Fatalf("len(events) = %d, want 1", len(got))
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
	if len(logger.OfType(events.TypeLessonViewed)) != 1 || len(logger.OfType(events.TypeTestCompleted)) != 0 {
		t.Error("OfType filtered incorrectly")
	}
}

func TestMemoryLogger_RequiresType(t *testing.T) {
	if err := events.NewMemoryLogger().Log(t.Context(), events.Event{UserEmail: "a@b.c"}); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestNopLogger(t *testing.T) {
	if err := (events.NopLogger{}).Log(t.Context(), events.Event{}); err != nil {
		t.Fatalf("Log() error = %v", err)
	}
}

func TestPostgresLogger_NilPool(t *testing.T) {
	err := events.NewPostgresLogger(nil).Log(t.Context(), events.Event{UserEmail: "a@b.c", Type: events.TypeModuleStarted})
	if err == nil {
		t.Fatal("expected error for nil pool")
	}
}

func TestPostgresLogger_LogAndCount(t *testing.T) {
	db := databasetest.New(t, events.Schema...)
	logger := events.NewPostgresLogger(db.Pool)
	ctx := t.Context()

	for _, e := range []events.Event{
		{UserEmail: "bob@sqb.uz", Type: events.TypeModuleStarted, ModuleID: 1},
		{UserEmail: "bob@sqb.uz", Type: events.TypeLessonViewed, ModuleID: 1},
		{UserEmail: "bob@sqb.uz", Type: events.TypeLessonViewed, ModuleID: 1},
		{UserEmail: "bob@sqb.uz", Type: events.TypeAgentCreated},
		{UserEmail: "eve@sqb.uz", Type: events.TypeChatMessage},
	} {
		if err := logger.Log(ctx, e); err != nil {
			t.Fatalf("Log(%s) error = %v", e.Type, err)
		}
	}

	counts, err := logger.Counts(ctx, "bob@sqb.uz")
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	want := map[string]int{
		events.TypeModuleStarted: 1,
		events.TypeLessonViewed:  2,
		events.TypeAgentCreated:  1,
	}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("counts[%s] = %d, want %d", k, counts[k], v)
		}
	}
	if counts[events.TypeChatMessage] != 0 {
		t.Error("other user's events counted")
	}
}

func TestMemoryLogger_Counts(t *testing.T) {
	logger := events.NewMemoryLogger()
	for _, e := range []events.Event{
		{UserEmail: "aliya@sqb.uz", Type: events.TypeLessonViewed},
		{UserEmail: "aliya@sqb.uz", Type: events.TypeLessonViewed},
		{UserEmail: "bob@sqb.uz", Type: events.TypeChatMessage},
	} {
		if err := logger.Log(t.Context(), e); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}

	var counter events.Counter = logger
	counts, err := counter.Counts(t.Context(), "aliya@sqb.uz")
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	if len(counts) != 1 || counts[events.TypeLessonViewed] != 2 {
		t.Errorf("Counts() = %v, want two lesson views only", counts)
	}
}

func TestSchema_OneStatementPerEntry(t *testing.T) {
	if len(events.Schema) != 2 {
		t.Fatalf("len(Schema) = %d, want 2", len(events.Schema))
	}
	for i, stmt := range events.Schema {
		if strings.Contains(stmt, ";") {
			t.Errorf("Schema[%d] holds more than one statement", i)
		}
	}
	if !strings.HasPrefix(events.Schema[1], "CREATE INDEX") {
		t.Errorf("Schema[1] = %q, want the index", events.Schema[1])
	}
}
