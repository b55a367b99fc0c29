// Package storage provides the lazily-populated, key-indexed stores that back
// pool ticks, bitmap words and positions, together with a write overlay that
// makes a multi-store update all-or-nothing.
package storage

import "maps"

// Store is a key-indexed collection. Entries exist only once written.
type Store[K comparable, V any] interface {
	Get(key K) (V, bool)
	Put(key K, value V)
	Delete(key K)
}

// Snapshotter is implemented by stores that can copy out every entry.
type Snapshotter[K comparable, V any] interface {
	Snapshot() map[K]V
}

// MemStore is a simple, non-thread-safe, map-backed Store.
type MemStore[K comparable, V any] struct {
	entries map[K]V
}

// NewMemStore creates an empty MemStore.
func NewMemStore[K comparable, V any]() *MemStore[K, V] {
	return &MemStore[K, V]{entries: make(map[K]V)}
}

func (m *MemStore[K, V]) Get(key K) (V, bool) {
	v, ok := m.entries[key]
	return v, ok
}

func (m *MemStore[K, V]) Put(key K, value V) {
	m.entries[key] = value
}

func (m *MemStore[K, V]) Delete(key K) {
	delete(m.entries, key)
}

// Len reports the number of materialized entries.
func (m *MemStore[K, V]) Len() int {
	return len(m.entries)
}

// Snapshot returns a copy of every entry.
func (m *MemStore[K, V]) Snapshot() map[K]V {
	return maps.Clone(m.entries)
}

// Batch is a write overlay on top of a parent Store. Reads see the overlay
// first; nothing reaches the parent until Commit.
type Batch[K comparable, V any] struct {
	parent  Store[K, V]
	writes  map[K]V
	deletes map[K]struct{}
}

// NewBatch creates an empty overlay on parent.
func NewBatch[K comparable, V any](parent Store[K, V]) *Batch[K, V] {
	return &Batch[K, V]{
		parent:  parent,
		writes:  make(map[K]V),
		deletes: make(map[K]struct{}),
	}
}

func (b *Batch[K, V]) Get(key K) (V, bool) {
	if v, ok := b.writes[key]; ok {
		return v, true
	}
	if _, ok := b.deletes[key]; ok {
		var zero V
		return zero, false
	}
	return b.parent.Get(key)
}

func (b *Batch[K, V]) Put(key K, value V) {
	delete(b.deletes, key)
	b.writes[key] = value
}

func (b *Batch[K, V]) Delete(key K) {
	delete(b.writes, key)
	b.deletes[key] = struct{}{}
}

// Commit applies every pending change to the parent and resets the overlay.
func (b *Batch[K, V]) Commit() {
	for k := range b.deletes {
		b.parent.Delete(k)
	}
	for k, v := range b.writes {
		b.parent.Put(k, v)
	}
	b.Discard()
}

// Discard drops every pending change.
func (b *Batch[K, V]) Discard() {
	clear(b.writes)
	clear(b.deletes)
}
