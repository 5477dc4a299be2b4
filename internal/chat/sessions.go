package chat

import "time"

type sessionItem[V any] struct {
	value   V
	touched time.Time
}

// sessions maps a session ID to per-session state. Entries idle for longer
// than ttl are treated as absent and swept on every write. A ttl <= 0 keeps
// entries forever. Callers hold their own lock.
type sessions[V any] struct {
	ttl   time.Duration
	now   func() time.Time
	items map[string]sessionItem[V]
}

func newSessions[V any](ttl time.Duration) sessions[V] {
	return sessions[V]{ttl: ttl, now: time.Now, items: make(map[string]sessionItem[V])}
}

func (s *sessions[V]) expired(item sessionItem[V], now time.Time) bool {
	return s.ttl > 0 && now.Sub(item.touched) >= s.ttl
}

func (s *sessions[V]) get(session string) (V, bool) {
	item, ok := s.items[session]
	if !ok || s.expired(item, s.now()) {
		var zero V
		return zero, false
	}
	return item.value, true
}

func (s *sessions[V]) put(session string, v V) {
	now := s.now()
	if s.ttl > 0 {
		for k, item := range s.items {
			if s.expired(item, now) {
				delete(s.items, k)
			}
		}
	}
	s.items[session] = sessionItem[V]{value: v, touched: now}
}

func (s *sessions[V]) len() int {
	return len(s.items)
}
