package utils

import (
	"container/list"
	"sync"
	"time"
)

// SeenSet is a bounded set with LRU eviction and per-entry TTL. It backs
// notification deduplication on long-lived connections, where an unbounded
// seen-set would grow for the life of the process.
type SeenSet struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List
	capacity int
	ttl      time.Duration
}

type seenEntry struct {
	key       string
	expiresAt time.Time
}

// NewSeenSet creates a SeenSet with the given capacity and TTL. Non-positive
// arguments fall back to safe defaults.
func NewSeenSet(capacity int, ttl time.Duration) *SeenSet {
	if capacity <= 0 {
		capacity = 512
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SeenSet{
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
	}
}

// MarkSeen records the key and reports whether it was already present and
// unexpired. The first caller for a key gets false; repeats get true until
// the entry expires or is evicted.
func (s *SeenSet) MarkSeen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if el, ok := s.entries[key]; ok {
		e := el.Value.(*seenEntry)
		if now.Before(e.expiresAt) {
			s.order.MoveToFront(el)
			return true
		}
		// Expired entry: treat as unseen and refresh.
		e.expiresAt = now.Add(s.ttl)
		s.order.MoveToFront(el)
		return false
	}

	for len(s.entries) >= s.capacity {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*seenEntry).key)
	}

	el := s.order.PushFront(&seenEntry{key: key, expiresAt: now.Add(s.ttl)})
	s.entries[key] = el
	return false
}

// Len reports the current number of tracked keys.
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
