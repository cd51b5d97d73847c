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

// Package pvector provides a priority vector: a set of pointers ordered by
// non-increasing priority, safe for concurrent lock-free readers with a
// single writer. Every mutation publishes a new immutable backing array;
// readers iterate over the snapshot current at the time of the Load call.
package pvector

import (
	"sort"
	"sync/atomic"
)

// Entry pairs a value with the priority it is ordered by. The priority is a
// snapshot taken at insertion; readers use it to cut iteration short
// without touching the value.
type Entry[T any] struct {
	Priority uint32
	Value    *T
}

// Vector is the priority vector. The zero value is an empty vector ready
// for use.
type Vector[T any] struct {
	entries atomic.Pointer[[]Entry[T]]
}

// Load returns the current snapshot, ordered by non-increasing priority.
// The returned slice must not be modified. Safe for concurrent readers.
func (v *Vector[T]) Load() []Entry[T] {
	p := v.entries.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Len returns the number of entries.
func (v *Vector[T]) Len() int {
	return len(v.Load())
}

// Insert adds value with the given priority. Writer-side only.
func (v *Vector[T]) Insert(priority uint32, value *T) {
	old := v.Load()
	idx := sort.Search(len(old), func(i int) bool { return old[i].Priority < priority })
	ns := make([]Entry[T], 0, len(old)+1)
	ns = append(ns, old[:idx]...)
	ns = append(ns, Entry[T]{Priority: priority, Value: value})
	ns = append(ns, old[idx:]...)
	v.entries.Store(&ns)
}

// Remove deletes value (compared by pointer identity). Writer-side only.
func (v *Vector[T]) Remove(value *T) {
	old := v.Load()
	for i := range old {
		if old[i].Value == value {
			ns := make([]Entry[T], 0, len(old)-1)
			ns = append(ns, old[:i]...)
			ns = append(ns, old[i+1:]...)
			v.entries.Store(&ns)
			return
		}
	}
}

// Clear drops every entry. Writer-side only.
func (v *Vector[T]) Clear() {
	v.entries.Store(nil)
}

// ChangePriority moves value to the position given by its new priority,
// publishing a single new snapshot. Writer-side only.
func (v *Vector[T]) ChangePriority(value *T, priority uint32) {
	old := v.Load()
	cur := -1
	for i := range old {
		if old[i].Value == value {
			cur = i
			break
		}
	}
	if cur < 0 {
		return
	}
	ns := make([]Entry[T], 0, len(old))
	ns = append(ns, old[:cur]...)
	ns = append(ns, old[cur+1:]...)
	idx := sort.Search(len(ns), func(i int) bool { return ns[i].Priority < priority })
	ns = append(ns, Entry[T]{})
	copy(ns[idx+1:], ns[idx:])
	ns[idx] = Entry[T]{Priority: priority, Value: value}
	v.entries.Store(&ns)
}
