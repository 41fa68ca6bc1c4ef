package store

import (
	"sync"
	"sync/atomic"
	"time"
)

// TypedStore is one collection of the correlation store: a map guarded by
// its own RWMutex, so readers of one collection never wait on writes to
// another. It records the wall-clock time of its last modification.
type TypedStore[K comparable, V any] struct {
	mu          sync.RWMutex
	items       map[K]V
	lastUpdated atomic.Int64 // UnixMilli
}

// NewTypedStore creates an empty collection.
func NewTypedStore[K comparable, V any]() *TypedStore[K, V] {
	s := &TypedStore[K, V]{
		items: make(map[K]V),
	}
	s.lastUpdated.Store(time.Now().UnixMilli())
	return s
}

// Set inserts or overwrites key.
func (s *TypedStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
	s.touch()
}

// GetOrCreate returns the value under key, storing create() first when the
// key is absent. create runs under the write lock.
func (s *TypedStore[K, V]) GetOrCreate(key K, create func() V) V {
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		return v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok {
		return v
	}
	v = create()
	s.items[key] = v
	s.touch()
	return v
}

// DeleteFunc removes every item for which del returns true and reports how
// many were removed.
func (s *TypedStore[K, V]) DeleteFunc(del func(K, V) bool) int {
	s.mu.Lock()
	n := 0
	for k, v := range s.items {
		if del(k, v) {
			delete(s.items, k)
			n++
		}
	}
	s.mu.Unlock()
	if n > 0 {
		s.touch()
	}
	return n
}

// Replace swaps the whole content for a copy of items.
func (s *TypedStore[K, V]) Replace(items map[K]V) {
	cp := make(map[K]V, len(items))
	for k, v := range items {
		cp[k] = v
	}
	s.mu.Lock()
	s.items = cp
	s.mu.Unlock()
	s.touch()
}

// LastUpdated returns the UnixMilli time of the last modification.
func (s *TypedStore[K, V]) LastUpdated() int64 {
	return s.lastUpdated.Load()
}

// Get returns the value under key.
func (s *TypedStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()
	return v, ok
}

// Len returns the number of items.
func (s *TypedStore[K, V]) Len() int {
	s.mu.RLock()
	n := len(s.items)
	s.mu.RUnlock()
	return n
}

// Keys returns every key in unspecified order.
func (s *TypedStore[K, V]) Keys() []K {
	s.mu.RLock()
	keys := make([]K, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	return keys
}

// Snapshot returns a shallow copy of all items.
func (s *TypedStore[K, V]) Snapshot() map[K]V {
	s.mu.RLock()
	cp := make(map[K]V, len(s.items))
	for k, v := range s.items {
		cp[k] = v
	}
	s.mu.RUnlock()
	return cp
}

// Values returns all values in unspecified order.
func (s *TypedStore[K, V]) Values() []V {
	s.mu.RLock()
	vals := make([]V, 0, len(s.items))
	for _, v := range s.items {
		vals = append(vals, v)
	}
	s.mu.RUnlock()
	return vals
}

func (s *TypedStore[K, V]) touch() {
	s.lastUpdated.Store(time.Now().UnixMilli())
}
