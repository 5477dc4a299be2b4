package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Sender values of a Message.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Message is one line of a conversation.
type Message struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// Log keeps one ordered conversation per session.
type Log interface {
	Append(ctx context.Context, session string, msgs ...Message) error
	History(ctx context.Context, session string) ([]Message, error)
}

// MemoryLog is an in-process Log. A positive max keeps only the newest max
// messages of each session; a positive ttl forgets conversations idle for
// that long.
type MemoryLog struct {
	mu   sync.Mutex
	max  int
	logs sessions[[]Message]
}

// NewMemoryLog creates a MemoryLog; max <= 0 means unbounded and ttl <= 0
// never expires.
func NewMemoryLog(max int, ttl time.Duration) *MemoryLog {
	return &MemoryLog{max: max, logs: newSessions[[]Message](ttl)}
}

func (l *MemoryLog) Append(_ context.Context, session string, msgs ...Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, _ := l.logs.get(session)
	h = append(h[:len(h):len(h)], msgs...)
	if l.max > 0 && len(h) > l.max {
		h = append([]Message(nil), h[len(h)-l.max:]...)
	}
	l.logs.put(session, h)
	return nil
}

func (l *MemoryLog) History(_ context.Context, session string) ([]Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, _ := l.logs.get(session)
	out := make([]Message, len(h))
	copy(out, h)
	return out, nil
}

// Sessions returns the number of conversations held.
func (l *MemoryLog) Sessions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logs.len()
}

// RedisLog stores each session's conversation as a Redis list.
type RedisLog struct {
	rdb *redis.Client
	max int
	ttl time.Duration
}

// NewRedisLog creates a RedisLog. ttl > 0 expires idle conversations.
func NewRedisLog(rdb *redis.Client, max int, ttl time.Duration) *RedisLog {
	return &RedisLog{rdb: rdb, max: max, ttl: ttl}
}

func historyKey(session string) string {
	return fmt.Sprintf("chat:%s:history", session)
}

func (l *RedisLog) Append(ctx context.Context, session string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, len(msgs))
	for i, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		values[i] = data
	}

	key := historyKey(session)
	pipe := l.rdb.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if l.max > 0 {
		pipe.LTrim(ctx, key, int64(-l.max), -1)
	}
	if l.ttl > 0 {
		pipe.Expire(ctx, key, l.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending to %s: %w", key, err)
	}
	return nil
}

func (l *RedisLog) History(ctx context.Context, session string) ([]Message, error) {
	key := historyKey(session)
	raw, err := l.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	out := make([]Message, 0, len(raw))
	for _, r := range raw {
		var m Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decoding message in %s: %w", key, err)
		}
		out = append(out, m)
	}
	return out, nil
}
