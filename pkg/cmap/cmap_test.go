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

package cmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	key uint64
	val int
}

func TestMapBasics(t *testing.T) {
	var m Map[item]
	assert.Zero(t, m.Len())
	assert.Nil(t, m.GetFirst(1))

	a := &item{key: 1, val: 10}
	b := &item{key: 1, val: 11} // same hash, different value
	c := &item{key: 2, val: 20}
	m.Insert(1, a)
	m.Insert(1, b)
	m.Insert(2, c)
	assert.Equal(t, 3, m.Len())

	var got []*item
	m.Get(1, func(v *item) bool {
		got = append(got, v)
		return true
	})
	assert.ElementsMatch(t, []*item{a, b}, got,
		"duplicate hashes are a multimap, not a replacement")

	assert.Same(t, c, m.GetFirst(2))

	require.True(t, m.Remove(1, a))
	assert.False(t, m.Remove(1, a), "double remove")
	assert.Equal(t, 2, m.Len())
	assert.Same(t, b, m.GetFirst(1))
}

func TestMapReplace(t *testing.T) {
	var m Map[item]
	a := &item{key: 5, val: 1}
	b := &item{key: 5, val: 2}
	m.Insert(5, a)
	require.True(t, m.Replace(5, a, b))
	assert.Same(t, b, m.GetFirst(5))
	assert.Equal(t, 1, m.Len())
	assert.False(t, m.Replace(5, a, b), "old value is gone")
}

func TestMapGrowKeepsEntries(t *testing.T) {
	var m Map[item]
	items := make([]*item, 1000)
	for i := range items {
		items[i] = &item{key: uint64(i), val: i}
		m.Insert(uint64(i), items[i])
	}
	require.Equal(t, 1000, m.Len())
	for i, it := range items {
		assert.Same(t, it, m.GetFirst(uint64(i)), "entry %d lost in resize", i)
	}
}

func TestMapCursorSnapshot(t *testing.T) {
	var m Map[item]
	want := map[*item]bool{}
	for i := 0; i < 100; i++ {
		it := &item{key: uint64(i)}
		m.Insert(uint64(i), it)
		want[it] = true
	}
	cur := m.Cursor()
	for v := cur.Next(); v != nil; v = cur.Next() {
		require.True(t, want[v])
		delete(want, v)
	}
	assert.Empty(t, want)
}

func TestMapConcurrentReaders(t *testing.T) {
	var m Map[item]
	const n = 512
	items := make([]*item, n)
	for i := range items {
		items[i] = &item{key: uint64(i), val: i}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for i := 0; i < n; i++ {
					if v := m.GetFirst(uint64(i)); v != nil {
						// A reader must never observe a torn entry.
						if v.key != uint64(i) {
							t.Errorf("got key %d for hash %d", v.key, i)
							return
						}
					}
				}
			}
		}()
	}

	// Single writer inserting and removing while the readers spin.
	for round := 0; round < 50; round++ {
		for i, it := range items {
			m.Insert(uint64(i), it)
		}
		for i, it := range items {
			require.True(t, m.Remove(uint64(i), it))
		}
	}
	close(stop)
	wg.Wait()
	assert.Zero(t, m.Len())
}
