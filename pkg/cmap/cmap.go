// Copyright 2025 The Flowgate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cmap provides a hash map safe for concurrent lock-free readers
// with a single writer. Multiple values may share a hash; the map is a
// multimap keyed purely by the 64-bit hash, equality is the caller's
// business.
//
// Readers observe atomically published immutable snapshots: every mutation
// replaces the affected bucket slice (and, on resize, the bucket array)
// rather than modifying it in place. Displaced snapshots are reclaimed by
// the garbage collector once the last reader drops them. Writers must be
// serialized externally.
package cmap

import (
	"math/bits"
	"sync/atomic"
)

const (
	minBuckets = 8
	// Grow when the average bucket exceeds this many entries.
	loadFactor = 4
)

type entry[T any] struct {
	hash  uint64
	value *T
}

type table[T any] struct {
	mask    uint64
	buckets []atomic.Pointer[[]entry[T]]
}

// Map is the concurrent hash multimap. The zero value is an empty map ready
// for use.
type Map[T any] struct {
	impl  atomic.Pointer[table[T]]
	count atomic.Int64
}

func newTable[T any](nBuckets int) *table[T] {
	return &table[T]{
		mask:    uint64(nBuckets - 1),
		buckets: make([]atomic.Pointer[[]entry[T]], nBuckets),
	}
}

// Get calls fn for every value stored under hash until fn returns false.
// Safe for concurrent readers.
func (m *Map[T]) Get(hash uint64, fn func(*T) bool) {
	t := m.impl.Load()
	if t == nil {
		return
	}
	b := t.buckets[hash&t.mask].Load()
	if b == nil {
		return
	}
	for _, e := range *b {
		if e.hash == hash {
			if !fn(e.value) {
				return
			}
		}
	}
}

// GetFirst returns some value stored under hash, or nil. Safe for
// concurrent readers.
func (m *Map[T]) GetFirst(hash uint64) *T {
	var found *T
	m.Get(hash, func(v *T) bool {
		found = v
		return false
	})
	return found
}

// Len returns the number of stored values. Safe for concurrent readers.
func (m *Map[T]) Len() int {
	return int(m.count.Load())
}

// Insert adds value under hash. Writer-side only.
func (m *Map[T]) Insert(hash uint64, value *T) {
	t := m.impl.Load()
	if t == nil {
		t = newTable[T](minBuckets)
		m.impl.Store(t)
	}
	slot := &t.buckets[hash&t.mask]
	old := slot.Load()
	var b []entry[T]
	if old != nil {
		b = make([]entry[T], len(*old), len(*old)+1)
		copy(b, *old)
	}
	b = append(b, entry[T]{hash: hash, value: value})
	slot.Store(&b)
	m.count.Add(1)
	if m.Len() > len(t.buckets)*loadFactor {
		m.rehash(t, len(t.buckets)*2)
	}
}

// Remove deletes value (compared by pointer identity) stored under hash.
// Returns whether it was present. Writer-side only.
func (m *Map[T]) Remove(hash uint64, value *T) bool {
	t := m.impl.Load()
	if t == nil {
		return false
	}
	slot := &t.buckets[hash&t.mask]
	old := slot.Load()
	if old == nil {
		return false
	}
	for i, e := range *old {
		if e.hash == hash && e.value == value {
			b := make([]entry[T], 0, len(*old)-1)
			b = append(b, (*old)[:i]...)
			b = append(b, (*old)[i+1:]...)
			slot.Store(&b)
			m.count.Add(-1)
			return true
		}
	}
	return false
}

// Replace swaps the value stored under hash from old to new, atomically
// from a reader's point of view. Returns whether old was present.
// Writer-side only.
func (m *Map[T]) Replace(hash uint64, old, new *T) bool {
	t := m.impl.Load()
	if t == nil {
		return false
	}
	slot := &t.buckets[hash&t.mask]
	cur := slot.Load()
	if cur == nil {
		return false
	}
	for i, e := range *cur {
		if e.hash == hash && e.value == old {
			b := make([]entry[T], len(*cur))
			copy(b, *cur)
			b[i].value = new
			slot.Store(&b)
			return true
		}
	}
	return false
}

// rehash publishes a table with nBuckets buckets holding the same entries.
func (m *Map[T]) rehash(t *table[T], nBuckets int) {
	if nBuckets < minBuckets || bits.OnesCount(uint(nBuckets)) != 1 {
		return
	}
	nt := newTable[T](nBuckets)
	for i := range t.buckets {
		b := t.buckets[i].Load()
		if b == nil {
			continue
		}
		for _, e := range *b {
			slot := &nt.buckets[e.hash&nt.mask]
			nb := slot.Load()
			var v []entry[T]
			if nb != nil {
				v = *nb
			}
			v = append(v, e)
			slot.Store(&v)
		}
	}
	m.impl.Store(nt)
}

// Clear drops every entry. Writer-side only; readers holding an older
// snapshot keep iterating it.
func (m *Map[T]) Clear() {
	m.impl.Store(nil)
	m.count.Store(0)
}

// Cursor iterates over the map. It holds the bucket array current when the
// cursor is created and reads each bucket's entries when it reaches that
// bucket, so values inserted or removed afterwards may or may not be
// visited.
type Cursor[T any] struct {
	impl    *table[T]
	bucket  int
	entries []entry[T]
	pos     int
}

// Cursor returns a cursor positioned before the first value.
func (m *Map[T]) Cursor() Cursor[T] {
	return Cursor[T]{impl: m.impl.Load()}
}

// Next returns the next value, or nil when the iteration is done.
func (c *Cursor[T]) Next() *T {
	if c.impl == nil {
		return nil
	}
	for {
		if c.pos < len(c.entries) {
			v := c.entries[c.pos].value
			c.pos++
			return v
		}
		if c.bucket >= len(c.impl.buckets) {
			return nil
		}
		b := c.impl.buckets[c.bucket].Load()
		c.bucket++
		c.pos = 0
		if b != nil {
			c.entries = *b
		} else {
			c.entries = nil
		}
	}
}
