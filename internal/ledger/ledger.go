// Package ledger records that a live submission was attempted for a job so a
// redelivered job never clicks Send a second time.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrAlreadyAttempted = errors.New("submission already attempted")

// Ledger marks job ids. MarkAttempted returns ErrAlreadyAttempted when the
// job was marked before.
type Ledger interface {
	MarkAttempted(ctx context.Context, jobID string) error
}

type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger shares the queue's client; markers expire after ttl.
func NewRedisLedger(client *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "outreach:attempt:"
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) MarkAttempted(ctx context.Context, jobID string) error {
	ok, err := l.client.SetNX(ctx, l.prefix+jobID, time.Now().UTC().Format(time.RFC3339), l.ttl).Result()
	if err != nil {
		return fmt.Errorf("mark submission attempt: %w", err)
	}
	if !ok {
		return ErrAlreadyAttempted
	}
	return nil
}

// MemoryLedger is the process-local fallback used with the local queue.
type MemoryLedger struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{seen: make(map[string]time.Time)}
}

func (l *MemoryLedger) MarkAttempted(_ context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[jobID]; ok {
		return ErrAlreadyAttempted
	}
	l.seen[jobID] = time.Now().UTC()
	return nil
}
