package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Selections remembers which article each session last opened.
type Selections interface {
	Select(ctx context.Context, session, displayID string) error
	// Selected returns "" when the session has no selection.
	Selected(ctx context.Context, session string) (string, error)
}

// MemorySelections is an in-process Selections whose entries expire after
// ttl of inactivity.
type MemorySelections struct {
	mu  sync.Mutex
	ids sessions[string]
}

func NewMemorySelections(ttl time.Duration) *MemorySelections {
	return &MemorySelections{ids: newSessions[string](ttl)}
}

func (s *MemorySelections) Select(_ context.Context, session, displayID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids.put(session, displayID)
	return nil
}

func (s *MemorySelections) Selected(_ context.Context, session string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := s.ids.get(session)
	return id, nil
}

// RedisSelections keeps selections in Redis with an expiry.
type RedisSelections struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSelections(rdb *redis.Client, ttl time.Duration) *RedisSelections {
	return &RedisSelections{rdb: rdb, ttl: ttl}
}

func selectionKey(session string) string {
	return fmt.Sprintf("chat:%s:article", session)
}

func (s *RedisSelections) Select(ctx context.Context, session, displayID string) error {
	return s.rdb.Set(ctx, selectionKey(session), displayID, s.ttl).Err()
}

func (s *RedisSelections) Selected(ctx context.Context, session string) (string, error) {
	id, err := s.rdb.Get(ctx, selectionKey(session)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return id, err
}
