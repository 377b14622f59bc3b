// Package shard provides a string-keyed map split across independently locked
// shards, so callers get per-key serialization without a process-wide mutex.
package shard

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultCount is the shard count used when New is given a non-positive value.
const DefaultCount = 32

// Map is a sharded map. The zero value is not usable; call New.
type Map[V any] struct {
	shards []*bucket[V]
}

type bucket[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// New creates a map with count shards.
func New[V any](count int) *Map[V] {
	if count <= 0 {
		count = DefaultCount
	}
	shards := make([]*bucket[V], count)
	for i := range shards {
		shards[i] = &bucket[V]{items: map[string]V{}}
	}
	return &Map[V]{shards: shards}
}

func (m *Map[V]) bucketFor(key string) *bucket[V] {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

// Do runs fn with exclusive access to the shard that owns key. fn may read,
// insert or delete any entry of items, but should only touch key.
func (m *Map[V]) Do(key string, fn func(items map[string]V)) {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.items)
}

// Get returns the value stored under key.
func (m *Map[V]) Get(key string) (V, bool) {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.items[key]
	return v, ok
}

// Delete removes key and reports whether it was present.
func (m *Map[V]) Delete(key string) bool {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.items[key]
	delete(b.items, key)
	return ok
}

// Prune visits every entry shard by shard and deletes the entries for which
// drop returns true. It returns the number of deleted entries.
func (m *Map[V]) Prune(drop func(key string, v V) bool) int {
	removed := 0
	for _, b := range m.shards {
		b.mu.Lock()
		for k, v := range b.items {
			if drop(k, v) {
				delete(b.items, k)
				removed++
			}
		}
		b.mu.Unlock()
	}
	return removed
}

// Len returns the total number of entries.
func (m *Map[V]) Len() int {
	n := 0
	for _, b := range m.shards {
		b.mu.Lock()
		n += len(b.items)
		b.mu.Unlock()
	}
	return n
}
