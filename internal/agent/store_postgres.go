package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// Schema creates the conversation tables.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS chat_conversations (
	id            BIGSERIAL PRIMARY KEY,
	user_email    TEXT NOT NULL,
	system_prompt TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	ended_at      TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
	id              BIGSERIAL PRIMARY KEY,
	conversation_id BIGINT NOT NULL REFERENCES chat_conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL,
	content         TEXT NOT NULL,
	model           TEXT,
	input_tokens    INT,
	output_tokens   INT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS chat_conversations_active_idx ON chat_conversations (user_email) WHERE ended_at IS NULL`,
}

// PostgresStore is a PostgreSQL-backed ConversationStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context, conv Conversation) (string, error) {
	if conv.UserEmail == "" {
		return "", fmt.Errorf("user email is required")
	}
	startedAt := conv.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_conversations (user_email, system_prompt, started_at)
		 VALUES ($1, $2, $3)
		 RETURNING id::text`,
		conv.UserEmail, conv.SystemPrompt, startedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}

	for _, msg := range conv.Messages {
		if err := s.AddMessage(ctx, id, msg); err != nil {
			return "", fmt.Errorf("save initial messages: %w", err)
		}
	}
	return id, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	conv, err := s.queryConversation(ctx,
		`SELECT id::text, user_email, system_prompt, started_at, ended_at
		 FROM chat_conversations WHERE id = $1::bigint`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, ErrConversationNotFound)
	}
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *PostgresStore) GetActiveConversation(ctx context.Context, email string) (*Conversation, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	conv, err := s.queryConversation(ctx,
		`SELECT id::text, user_email, system_prompt, started_at, ended_at
		 FROM chat_conversations
		 WHERE user_email = $1 AND ended_at IS NULL
		 ORDER BY started_at DESC, id DESC
		 LIMIT 1`, email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return conv, true, nil
}

func (s *PostgresStore) AddMessage(ctx context.Context, conversationID string, msg StoredMessage) error {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (conversation_id, role, content, model, input_tokens, output_tokens, created_at)
		 SELECT c.id, $2, $3, $4, $5, $6, $7
		 FROM chat_conversations c
		 WHERE c.id = $1::bigint`,
		conversationID, msg.Role, msg.Content,
		nullIfEmpty(msg.Model), nullIfZero(msg.InputTokens), nullIfZero(msg.OutputTokens),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("add message to %s: %w", conversationID, ErrConversationNotFound)
	}
	return nil
}

func (s *PostgresStore) EndConversation(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	cmd, err := s.pool.Exec(ctx,
		`UPDATE chat_conversations SET ended_at = now() WHERE id = $1::bigint AND ended_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("end %s: %w", id, ErrConversationNotFound)
	}
	return nil
}

func (s *PostgresStore) queryConversation(ctx context.Context, query string, arg any) (*Conversation, error) {
	var conv Conversation
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&conv.ID, &conv.UserEmail, &conv.SystemPrompt, &conv.StartedAt, &conv.EndedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT role, content, model, input_tokens, output_tokens, created_at
		 FROM chat_messages
		 WHERE conversation_id = $1::bigint
		 ORDER BY created_at ASC, id ASC`, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	conv.Messages = []StoredMessage{}
	for rows.Next() {
		var msg StoredMessage
		var model *string
		var inputTokens, outputTokens *int
		if err := rows.Scan(&msg.Role, &msg.Content, &model, &inputTokens, &outputTokens, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if model != nil {
			msg.Model = *model
		}
		if inputTokens != nil {
			msg.InputTokens = *inputTokens
		}
		if outputTokens != nil {
			msg.OutputTokens = *outputTokens
		}
		conv.Messages = append(conv.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return &conv, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
