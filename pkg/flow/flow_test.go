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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldRoundTrip(t *testing.T) {
	var f Flow
	cases := map[FieldID]uint64{
		FieldMetadata: 0xdeadbeefcafef00d,
		FieldTunID:    42,
		FieldInPort:   7,
		FieldReg0:     0xffffffff,
		FieldEthDst:   0x0050569b1c2d,
		FieldEthType:  0x0800,
		FieldEthSrc:   0x00163e112233,
		FieldVLANTCI:  0x1fff,
		FieldIPv4Src:  0x0a000001,
		FieldIPv4Dst:  0xc0a80101,
		FieldIPProto:  6,
		FieldIPTOS:    0x2e,
		FieldIPTTL:    64,
		FieldTPSrc:    49152,
		FieldTPDst:    443,
		FieldTCPFlags: 0x012,
	}
	for id, v := range cases {
		f.Set(id, v)
	}
	for id, v := range cases {
		assert.Equal(t, v, f.Get(id), "field %s", FieldByID(id).Name)
	}
}

func TestFieldStoreTruncates(t *testing.T) {
	var f Flow
	f.Set(FieldIPProto, 0x1ff)
	assert.Equal(t, uint64(0xff), f.Get(FieldIPProto))
	assert.Zero(t, f.Get(FieldIPTOS), "overflow must not leak into neighbors")
}

func TestFieldsCoverDisjointBits(t *testing.T) {
	var seen Flow
	for i := 0; i < NumFields; i++ {
		f := FieldByID(FieldID(i))
		var one Flow
		f.Store(&one, ^uint64(0))
		for w := 0; w < U64s; w++ {
			require.Zero(t, seen[w]&one[w], "field %s overlaps", f.Name)
			seen[w] |= one[w]
		}
	}
	assert.Equal(t, ValidMask(), seen)
}

func TestFieldByName(t *testing.T) {
	f, ok := FieldByName("ipv4_dst")
	require.True(t, ok)
	assert.Equal(t, FieldIPv4Dst, f.ID)
	assert.True(t, f.Prefix)
	assert.Equal(t, SegL3, f.Seg)

	_, ok = FieldByName("no_such_field")
	assert.False(t, ok)
}

func TestPrefixLen32(t *testing.T) {
	for _, tc := range []struct {
		mask   uint32
		plen   int
		prefix bool
	}{
		{0, 0, true},
		{0x80000000, 1, true},
		{0xff000000, 8, true},
		{0xfffffffe, 31, true},
		{0xffffffff, 32, true},
		{0x00ff0000, 0, false},
		{0xff00ff00, 0, false},
		{1, 0, false},
	} {
		plen, ok := PrefixLen32(tc.mask)
		assert.Equal(t, tc.prefix, ok, "mask %#x", tc.mask)
		if tc.prefix {
			assert.Equal(t, tc.plen, plen, "mask %#x", tc.mask)
		}
	}
}

func TestHashRangeChaining(t *testing.T) {
	var value Flow
	value.Set(FieldMetadata, 3)
	value.Set(FieldEthType, 0x0800)
	value.Set(FieldIPv4Dst, 0x0a000001)
	value.Set(FieldTPDst, 53)

	var maskFlow Flow
	for _, id := range []FieldID{FieldMetadata, FieldEthType, FieldIPv4Dst, FieldTPDst} {
		FieldByID(id).Store(&maskFlow, ^uint64(0))
	}
	mask := MinimaskFrom(&maskFlow)

	full := HashFlowInMinimask(&value, &mask, HashBasis)

	// Hashing segment by segment with a chained basis must equal the
	// one-shot hash; the staged subtable indices depend on it.
	chained := HashBasis
	for _, end := range []int{3, 5, 7, U64s} {
		start := 0
		switch end {
		case 3:
			start = 0
		case 5:
			start = 3
		case 7:
			start = 5
		case U64s:
			start = 7
		}
		chained = HashFlowInMinimaskRange(&value, &mask, start, end, chained)
	}
	assert.Equal(t, full, chained)

	// A pre-masked miniflow hashes identically to the flow it came from.
	mf := MiniflowFrom(&value)
	assert.Equal(t, full, HashMiniflowInMinimask(&mf, &mask, HashBasis))
}

func TestEqualInMask(t *testing.T) {
	var a, b, mask Flow
	a.Set(FieldTPDst, 80)
	a.Set(FieldIPv4Src, 0x0a000001)
	b.Set(FieldTPDst, 80)
	b.Set(FieldIPv4Src, 0x0a000002)

	FieldByID(FieldTPDst).Store(&mask, ^uint64(0))
	assert.True(t, a.EqualInMask(&b, &mask))

	FieldByID(FieldIPv4Src).Store(&mask, ^uint64(0))
	assert.False(t, a.EqualInMask(&b, &mask))
}

func TestMatchSetPrefixAndMatches(t *testing.T) {
	var m Match
	m.SetPrefix(FieldIPv4Dst, 0x0a010000, 16)
	m.SetExact(FieldEthType, 0x0800)

	var f Flow
	f.Set(FieldIPv4Dst, 0x0a0101ff)
	f.Set(FieldEthType, 0x0800)
	assert.True(t, m.Matches(&f))

	f.Set(FieldIPv4Dst, 0x0a020000)
	assert.False(t, m.Matches(&f))

	f.Set(FieldIPv4Dst, 0x0a0100aa)
	f.Set(FieldEthType, 0x86dd)
	assert.False(t, m.Matches(&f))
}

func TestMatchString(t *testing.T) {
	var m Match
	assert.Equal(t, "catchall", m.String())

	m.SetExact(FieldEthType, 0x0800)
	m.SetPrefix(FieldIPv4Dst, 0x0a000000, 8)
	s := m.String()
	assert.Contains(t, s, "eth_type=0x800")
	assert.Contains(t, s, "ipv4_dst=0xa000000/0xff000000")
}

func TestWildcardsPrefixOps(t *testing.T) {
	var wc Wildcards
	dst := FieldByID(FieldIPv4Dst)
	wc.UnwildcardPrefix(dst, 12)
	assert.Equal(t, 12, wc.PrefixBits(dst))
	wc.UnwildcardPrefix(dst, 4)
	assert.Equal(t, 12, wc.PrefixBits(dst), "un-wildcarding never shrinks")
	wc.UnwildcardField(FieldIPv4Dst)
	assert.Equal(t, 32, wc.PrefixBits(dst))
}
