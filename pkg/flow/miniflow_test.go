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

package flow

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiniflowRoundTrip(t *testing.T) {
	var f Flow
	f.Set(FieldMetadata, 9)
	f.Set(FieldIPv4Src, 0x0a000001)
	f.Set(FieldTPDst, 22)

	mf := MiniflowFrom(&f)
	back := mf.Expand()
	assert.Empty(t, cmp.Diff(f, back))

	for w := 0; w < U64s; w++ {
		assert.Equal(t, f[w], mf.Get(w), "word %d", w)
	}
}

func TestMiniflowZero(t *testing.T) {
	var f Flow
	mf := MiniflowFrom(&f)
	assert.Equal(t, Flow{}, mf.Expand())
	for w := 0; w < U64s; w++ {
		assert.Zero(t, mf.Get(w))
	}
}

func TestMinimaskSubset(t *testing.T) {
	var wide, narrow Flow
	FieldByID(FieldEthType).Store(&wide, ^uint64(0))
	FieldByID(FieldTPDst).Store(&wide, ^uint64(0))
	FieldByID(FieldTPDst).Store(&narrow, ^uint64(0))

	wideM := MinimaskFrom(&wide)
	narrowM := MinimaskFrom(&narrow)
	assert.True(t, narrowM.IsSubsetOf(&wideM))
	assert.False(t, wideM.IsSubsetOf(&narrowM))
	assert.True(t, wideM.IsSubsetOf(&wideM))
}

func TestMinimaskHasBitsInRange(t *testing.T) {
	var m Flow
	FieldByID(FieldIPv4Dst).Store(&m, ^uint64(0)) // word 5
	mm := MinimaskFrom(&m)
	assert.False(t, mm.HasBitsInRange(0, 5))
	assert.True(t, mm.HasBitsInRange(5, 7))
	assert.True(t, mm.HasBitsInRange(0, U64s))
	assert.False(t, mm.HasBitsInRange(6, U64s))
}

func TestMinimatchEqualAndHash(t *testing.T) {
	build := func(dst uint64) Minimatch {
		var m Match
		m.SetExact(FieldIPv4Dst, dst)
		m.SetExact(FieldEthType, 0x0800)
		return MinimatchFrom(&m)
	}
	a := build(0x0a000001)
	b := build(0x0a000001)
	c := build(0x0a000002)

	assert.True(t, a.Equal(&b))
	assert.False(t, a.Equal(&c))
	assert.Equal(t, a.Hash(HashBasis), b.Hash(HashBasis))
	assert.NotEqual(t, a.Hash(HashBasis), c.Hash(HashBasis))
}

func TestMinimatchValuePremasked(t *testing.T) {
	var m Match
	m.Value.Set(FieldIPv4Dst, 0x0a0101ff)
	m.Mask[FieldByID(FieldIPv4Dst).Word] |= uint64(0xffff0000) << FieldByID(FieldIPv4Dst).Shift

	mm := MinimatchFrom(&m)
	assert.Equal(t, uint64(0x0a010000), mm.Flow.Get(FieldByID(FieldIPv4Dst).Word)>>FieldByID(FieldIPv4Dst).Shift,
		"bits outside the mask are dropped at compression")

	var f Flow
	f.Set(FieldIPv4Dst, 0x0a01ffff)
	assert.True(t, mm.Matches(&f))
	f.Set(FieldIPv4Dst, 0x0a02ffff)
	assert.False(t, mm.Matches(&f))
}

func TestFlowEqualInMinimask(t *testing.T) {
	var maskFlow Flow
	FieldByID(FieldTPDst).Store(&maskFlow, ^uint64(0))
	mask := MinimaskFrom(&maskFlow)

	var value Flow
	value.Set(FieldTPDst, 80)
	value.Set(FieldTPSrc, 1234) // outside the mask
	mv := MiniflowFrom(&value)

	var f Flow
	f.Set(FieldTPDst, 80)
	f.Set(FieldTPSrc, 999)
	require.True(t, FlowEqualInMinimask(&f, &mv, &mask))

	f.Set(FieldTPDst, 81)
	require.False(t, FlowEqualInMinimask(&f, &mv, &mask))
}
