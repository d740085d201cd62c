package ai

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrQuotaExceeded is returned by Check once a learner has used up their
// token allowance.
var ErrQuotaExceeded = errors.New("token quota exceeded")

// Quota tracks token usage per learner against a single ceiling. A limit of
// zero means unlimited.
type Quota interface {
	// Check returns ErrQuotaExceeded when the learner has no tokens left.
	Check(ctx context.Context, userID string) error
	// Record adds tokens to the learner's usage.
	Record(ctx context.Context, userID string, tokens int) error
	// Usage returns tokens used and the ceiling.
	Usage(ctx context.Context, userID string) (used, limit int64, err error)
}

// InMemoryQuota keeps usage in process memory.
type InMemoryQuota struct {
	limit int64

	mu    sync.RWMutex
	usage map[string]int64
}

func NewInMemoryQuota(limit int64) *InMemoryQuota {
	return &InMemoryQuota{limit: limit, usage: make(map[string]int64)}
}

func (q *InMemoryQuota) Check(_ context.Context, userID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return exceeded(q.usage[userID], q.limit)
}

func (q *InMemoryQuota) Record(_ context.Context, userID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.usage[userID] += int64(tokens)
	return nil
}

func (q *InMemoryQuota) Usage(_ context.Context, userID string) (int64, int64, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.usage[userID], q.limit, nil
}

// RedisQuota keeps usage in Redis so it survives restarts and is shared
// between processes.
type RedisQuota struct {
	client *redis.Client
	prefix string
	limit  int64
}

func NewRedisQuota(client *redis.Client, prefix string, limit int64) *RedisQuota {
	return &RedisQuota{client: client, prefix: prefix + "quota:", limit: limit}
}

func (q *RedisQuota) Check(ctx context.Context, userID string) error {
	used, _, err := q.Usage(ctx, userID)
	if err != nil {
		return err
	}
	return exceeded(used, q.limit)
}

func (q *RedisQuota) Record(ctx context.Context, userID string, tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("tokens must be non-negative, got %d", tokens)
	}
	if err := q.client.IncrBy(ctx, q.prefix+userID, int64(tokens)).Err(); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

func (q *RedisQuota) Usage(ctx context.Context, userID string) (int64, int64, error) {
	raw, err := q.client.Get(ctx, q.prefix+userID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, q.limit, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("read usage: %w", err)
	}
	used, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse usage %q: %w", raw, err)
	}
	return used, q.limit, nil
}

func exceeded(used, limit int64) error {
	if limit > 0 && used >= limit {
		return ErrQuotaExceeded
	}
	return nil
}
