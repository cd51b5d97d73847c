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

// Package flow defines the packet header representation used by the
// classifier: the fixed flow word array, compressed miniflows, value+mask
// matches, the wildcard accumulator and the header field registry.
//
// A flow is a fixed array of 64-bit words. Fields are packed into words so
// that each staged-lookup segment (metadata, L2, L3, L4) occupies a
// contiguous word range; staged subtable lookup hashes word ranges.
package flow

import (
	"fmt"
	"strings"
)

// U64s is the number of 64-bit words in a flow.
const U64s = 8

// Word indices of the flow array. The segment ranges are
// metadata [0,3), L2 [3,5), L3 [5,7), L4 [7,8).
const (
	wordMetadata = 0 // OpenFlow metadata register
	wordTunID    = 1 // tunnel ID
	wordPort     = 2 // in_port | reg0
	wordEthDst   = 3 // eth_dst | eth_type
	wordEthSrc   = 4 // eth_src | vlan_tci
	wordIPv4     = 5 // ipv4_src | ipv4_dst
	wordIPMisc   = 6 // nw_proto | nw_tos | nw_ttl | nw_frag
	wordTP       = 7 // tp_src | tp_dst | tcp_flags
)

// DefaultSegments are the staged-lookup boundaries separating the metadata,
// L2, L3 and L4 word ranges.
var DefaultSegments = []uint8{3, 5, 7}

// Flow is a packet header in word-array form. It doubles as a bitmask over
// the header space wherever a mask is required.
type Flow [U64s]uint64

// Equal reports bitwise equality.
func (f *Flow) Equal(o *Flow) bool {
	return *f == *o
}

// EqualInMask reports equality of f and o on the bits set in mask.
func (f *Flow) EqualInMask(o *Flow, mask *Flow) bool {
	for w := 0; w < U64s; w++ {
		if (f[w]^o[w])&mask[w] != 0 {
			return false
		}
	}
	return true
}

// IsZero reports whether no bit is set.
func (f *Flow) IsZero() bool {
	return *f == Flow{}
}

// Get returns the value of the field id.
func (f *Flow) Get(id FieldID) uint64 {
	return FieldByID(id).Load(f)
}

// Set assigns the value of the field id.
func (f *Flow) Set(id FieldID, v uint64) {
	FieldByID(id).Store(f, v)
}

// Metadata returns the metadata word, the partition key.
func (f *Flow) Metadata() uint64 {
	return f[wordMetadata]
}

func (f *Flow) String() string {
	var sb strings.Builder
	for i := range registry {
		fld := &registry[i]
		if v := fld.Load(f); v != 0 {
			if sb.Len() > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, "%s=%#x", fld.Name, v)
		}
	}
	if sb.Len() == 0 {
		return "<zero>"
	}
	return sb.String()
}

// FNV-1a, the hash the lookup path is built on. Cheap, inlineable, and good
// enough distribution for power-of-two bucket counts.
const (
	fnvBasis uint64 = 14695981039346656037
	fnvPrime uint64 = 1099511628211
)

// HashBasis is the initial state for chained hash computations.
const HashBasis = fnvBasis

// HashWord folds one 64-bit word into the hash state.
func HashWord(state, w uint64) uint64 {
	for i := 0; i < 8; i++ {
		state = (state ^ (w & 0xff)) * fnvPrime
		w >>= 8
	}
	return state
}

// HashUint64 hashes a single value from the default basis.
func HashUint64(w uint64) uint64 {
	return HashWord(fnvBasis, w)
}

// Wildcards accumulates the un-wildcarding side effect of a lookup: a 1-bit
// records that the lookup examined that header bit.
type Wildcards struct {
	Masks Flow
}

// FoldMinimaskRange ORs mask's bits within the word range [start, end) into
// the wildcards.
func (wc *Wildcards) FoldMinimaskRange(mask *Minimask, start, end int) {
	for w := start; w < end; w++ {
		wc.Masks[w] |= mask.Get(w)
	}
}

// FoldMinimask ORs all of mask's bits into the wildcards.
func (wc *Wildcards) FoldMinimask(mask *Minimask) {
	wc.FoldMinimaskRange(mask, 0, U64s)
}

// UnwildcardField marks the whole field as examined.
func (wc *Wildcards) UnwildcardField(id FieldID) {
	f := FieldByID(id)
	wc.Masks[f.Word] |= f.mask64()
}

// UnwildcardPrefix sets the nbits most significant bits of the given 32-bit
// field in the wildcards.
func (wc *Wildcards) UnwildcardPrefix(f *Field, nbits int) {
	wc.Masks[f.Word] |= uint64(prefixMask32(nbits)) << f.Shift
}

// PrefixBits returns how many most significant bits of the given 32-bit
// field are already unwildcarded contiguously.
func (wc *Wildcards) PrefixBits(f *Field) int {
	m := uint32(wc.Masks[f.Word] >> f.Shift)
	n := 0
	for i := 31; i >= 0 && m&(1<<uint(i)) != 0; i-- {
		n++
	}
	return n
}
