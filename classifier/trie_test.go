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

package classifier

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgate/flowgate/pkg/flow"
)

func TestTrieQuery(t *testing.T) {
	var tr clsTrie
	tr.field = flow.FieldByID(flow.FieldIPv4Dst)

	tr.insert(ip4(10, 0, 0, 0), 8)
	tr.insert(ip4(10, 1, 0, 0), 16)

	match, check := tr.query(ip4(10, 1, 2, 3))
	assert.Equal(t, 16, match)
	assert.Equal(t, 17, check, "one branch bit past the /16 leaf")

	match, check = tr.query(ip4(10, 2, 3, 4))
	assert.Equal(t, 8, match)
	assert.LessOrEqual(t, check, 16, "divergence inside the second edge")
	assert.Greater(t, check, 8)

	match, check = tr.query(ip4(11, 0, 0, 1))
	assert.Equal(t, 0, match)
	assert.LessOrEqual(t, check, 8, "divergence inside the first edge")
	assert.GreaterOrEqual(t, check, 1)

	// Removing the /16 shrinks the known address space again.
	tr.remove(ip4(10, 1, 0, 0), 16)
	match, check = tr.query(ip4(10, 1, 2, 3))
	assert.Equal(t, 8, match)
	assert.Equal(t, 9, check)

	tr.remove(ip4(10, 0, 0, 0), 8)
	assert.Nil(t, tr.root.Load(), "empty trie collapses to a nil root")
}

func TestTrieDuplicateCounts(t *testing.T) {
	var tr clsTrie
	tr.field = flow.FieldByID(flow.FieldIPv4Dst)

	tr.insert(ip4(172, 16, 0, 0), 12)
	tr.insert(ip4(172, 16, 0, 0), 12)
	match, _ := tr.query(ip4(172, 16, 5, 5))
	assert.Equal(t, 12, match)

	tr.remove(ip4(172, 16, 0, 0), 12)
	match, _ = tr.query(ip4(172, 16, 5, 5))
	assert.Equal(t, 12, match, "one reference remains")

	tr.remove(ip4(172, 16, 0, 0), 12)
	match, _ = tr.query(ip4(172, 16, 5, 5))
	assert.Equal(t, 0, match)
	assert.Nil(t, tr.root.Load())
}

func TestTrieMidEdgePrefix(t *testing.T) {
	var tr clsTrie
	tr.field = flow.FieldByID(flow.FieldIPv4Dst)

	// /24 first, then a /16 ending in the middle of the existing edge.
	tr.insert(ip4(10, 1, 1, 0), 24)
	tr.insert(ip4(10, 1, 0, 0), 16)

	match, _ := tr.query(ip4(10, 1, 1, 9))
	assert.Equal(t, 24, match)
	match, _ = tr.query(ip4(10, 1, 7, 9))
	assert.Equal(t, 16, match)

	tr.remove(ip4(10, 1, 1, 0), 24)
	match, _ = tr.query(ip4(10, 1, 1, 9))
	assert.Equal(t, 16, match, "the split node keeps the /16 after losing its child")
}

func TestTriePathCopySnapshots(t *testing.T) {
	var tr clsTrie
	tr.field = flow.FieldByID(flow.FieldIPv4Dst)

	tr.insert(ip4(10, 0, 0, 0), 8)
	before := tr.root.Load()
	tr.insert(ip4(10, 1, 0, 0), 16)

	// The displaced root must still answer consistently for readers that
	// loaded it before the mutation was published.
	walk := func(root *trieNode, addr uint32) int {
		saved := tr.root.Load()
		defer tr.root.Store(saved)
		tr.root.Store(root)
		match, _ := tr.query(addr)
		return match
	}
	assert.Equal(t, 8, walk(before, ip4(10, 1, 2, 3)))
	assert.Equal(t, 16, walk(tr.root.Load(), ip4(10, 1, 2, 3)))
}

func TestTrieRandomAgainstReference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var tr clsTrie
	tr.field = flow.FieldByID(flow.FieldIPv4Dst)

	type pfx struct {
		addr uint32
		plen int
	}
	var ref []pfx

	refMatch := func(addr uint32) int {
		best := 0
		for _, p := range ref {
			if p.plen > best && (addr^p.addr)&pmask32(p.plen) == 0 {
				best = p.plen
			}
		}
		return best
	}

	randPfx := func() pfx {
		plen := 1 + rng.Intn(32)
		addr := rng.Uint32() & pmask32(plen)
		// Small pool so that overlaps and duplicates occur.
		addr &= 0xF3000000 | uint32(0x00FFFFFF)&0x00030303
		return pfx{addr: addr & pmask32(plen), plen: plen}
	}

	for step := 0; step < 1000; step++ {
		if len(ref) == 0 || rng.Intn(3) > 0 {
			p := randPfx()
			tr.insert(p.addr, p.plen)
			ref = append(ref, p)
		} else {
			i := rng.Intn(len(ref))
			p := ref[i]
			ref = append(ref[:i], ref[i+1:]...)
			tr.remove(p.addr, p.plen)
		}
		for trial := 0; trial < 8; trial++ {
			addr := rng.Uint32() & (0xF3000000 | uint32(0x00030303))
			match, check := tr.query(addr)
			require.Equal(t, refMatch(addr), match,
				"step %d addr %#x", step, addr)
			require.GreaterOrEqual(t, check, match)
			require.LessOrEqual(t, check, 32)
		}
	}
	for _, p := range ref {
		tr.remove(p.addr, p.plen)
	}
	require.Nil(t, tr.root.Load())
}
