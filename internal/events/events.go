// Package events records learning analytics: module starts, lesson views,
// finished tests and assistant activity.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Event types.
const (
	TypeModuleStarted = "module_started"
	TypeLessonViewed  = "lesson_viewed"
	TypeTestCompleted = "test_completed"
	TypeAgentCreated  = "agent_created"
	TypeChatMessage   = "chat_message"
)

// Schema creates the events table and its index.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS learning_events (
	id         BIGSERIAL PRIMARY KEY,
	user_email TEXT NOT NULL,
	event_type TEXT NOT NULL,
	module_id  BIGINT,
	data       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS learning_events_user_idx ON learning_events (user_email, created_at)`,
}

const dbTimeout = 5 * time.Second

// Event is one analytics record.
type Event struct {
	UserEmail string
	Type      string
	ModuleID  int64 // 0 when not module-scoped
	Data      map[string]any
	CreatedAt time.Time
}

// Logger records events.
type Logger interface {
	Log(ctx context.Context, e Event) error
}

// Counter is implemented by loggers that can report per-user totals.
type Counter interface {
	Counts(ctx context.Context, email string) (map[string]int, error)
}

// NopLogger ignores all events.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) error { return nil }

// MemoryLogger keeps events in memory.
type MemoryLogger struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{events: []Event{}}
}

func (l *MemoryLogger) Log(_ context.Context, e Event) error {
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	return nil
}

// Events returns a copy of everything logged so far.
func (l *MemoryLogger) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// OfType returns the logged events of type t.
func (l *MemoryLogger) OfType(t string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Counts returns how many events of each type a user has.
func (l *MemoryLogger) Counts(_ context.Context, email string) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := map[string]int{}
	for _, e := range l.events {
		if e.UserEmail == email {
			counts[e.Type]++
		}
	}
	return counts, nil
}

// PostgresLogger inserts events into learning_events.
type PostgresLogger struct {
	pool *pgxpool.Pool
}

func NewPostgresLogger(pool *pgxpool.Pool) *PostgresLogger {
	return &PostgresLogger{pool: pool}
}

func (l *PostgresLogger) Log(ctx context.Context, e Event) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("event logger pool is nil")
	}
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.UserEmail == "" {
		return fmt.Errorf("user email is required")
	}

	payload := e.Data
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var moduleID *int64
	if e.ModuleID != 0 {
		moduleID = &e.ModuleID
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	_, err = l.pool.Exec(ctx,
		`INSERT INTO learning_events (user_email, event_type, module_id, data, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5)`,
		e.UserEmail, e.Type, moduleID, string(data), createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	slog.Debug("event logged", "type", e.Type, "user_email", e.UserEmail, "module_id", e.ModuleID)
	return nil
}

// Counts returns how many events of each type a user has.
func (l *PostgresLogger) Counts(ctx context.Context, email string) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := l.pool.Query(ctx,
		`SELECT event_type, count(*) FROM learning_events WHERE user_email = $1 GROUP BY event_type`, email)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}
