package reader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores reader snapshots under a key with a time-to-live.
type Cache interface {
	// Get returns the snapshot under key, or ok=false when absent or expired.
	Get(ctx context.Context, key string) (snap *Snapshot, ok bool, err error)
	// Set stores snap under key for ttl.
	Set(ctx context.Context, key string, snap *Snapshot, ttl time.Duration) error
	// Replace overwrites an existing entry and keeps its remaining ttl.
	// It is a no-op when the key is absent.
	Replace(ctx context.Context, key string, snap *Snapshot) error
	Delete(ctx context.Context, key string) error
}

type memoryItem struct {
	snap    *Snapshot
	expires time.Time
}

// Memory is an in-process Cache. Expired snapshots are dropped when read
// and swept on every Set, so abandoned scopes do not accumulate.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemory creates a Memory cache reading the time from now. A nil now
// uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{items: make(map[string]memoryItem), now: now}
}

func (m *Memory) Get(_ context.Context, key string) (*Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(item.expires) {
		delete(m.items, key)
		return nil, false, nil
	}
	return item.snap.clone(), true, nil
}

func (m *Memory) Set(_ context.Context, key string, snap *Snapshot, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, item := range m.items {
		if !now.Before(item.expires) {
			delete(m.items, k)
		}
	}
	m.items[key] = memoryItem{snap: snap.clone(), expires: now.Add(ttl)}
	return nil
}

// Len returns the number of snapshots held, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) Replace(_ context.Context, key string, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[key]
	if !ok || !m.now().Before(item.expires) {
		return nil
	}
	item.snap = snap.clone()
	m.items[key] = item
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// Redis keeps snapshots as JSON strings in Redis.
type Redis struct {
	rdb *redis.Client
}

// NewRedis wraps a connected client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) Get(ctx context.Context, key string) (*Snapshot, bool, error) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("decoding snapshot %s: %w", key, err)
	}
	return &snap, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, snap *Snapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return r.rdb.Set(ctx, key, data, ttl).Err()
}

func (r *Redis) Replace(ctx context.Context, key string, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	// XX: only while the snapshot still exists, so an expired key is not revived.
	err = r.rdb.SetArgs(ctx, key, data, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}
