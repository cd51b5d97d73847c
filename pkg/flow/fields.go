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

// Segment identifies the staged-lookup region a field belongs to. Fields of
// one segment occupy a contiguous word range of the flow; staged subtable
// lookup hashes segment by segment.
type Segment uint8

// The staged-lookup segments, in flow word order.
const (
	SegMetadata Segment = iota
	SegL2
	SegL3
	SegL4
)

func (s Segment) String() string {
	switch s {
	case SegMetadata:
		return "metadata"
	case SegL2:
		return "l2"
	case SegL3:
		return "l3"
	case SegL4:
		return "l4"
	default:
		return "unknown"
	}
}

// FieldID names a header field of the flow.
type FieldID uint8

// The registered header fields.
const (
	FieldMetadata FieldID = iota
	FieldTunID
	FieldInPort
	FieldReg0
	FieldEthDst
	FieldEthType
	FieldEthSrc
	FieldVLANTCI
	FieldIPv4Src
	FieldIPv4Dst
	FieldIPProto
	FieldIPTOS
	FieldIPTTL
	FieldIPFrag
	FieldTPSrc
	FieldTPDst
	FieldTCPFlags

	NumFields int = iota
)

// Field describes a registered header field: its location inside the flow
// word array, its width in bits and its staged-lookup segment. Prefix marks
// address fields eligible for prefix tries; for those the canonical
// orientation is big-endian, i.e. bit 0 of a prefix is the most significant
// bit of the field value.
type Field struct {
	ID     FieldID
	Name   string
	Word   int
	Shift  uint8
	Width  uint8
	Seg    Segment
	Prefix bool
}

var registry = [NumFields]Field{
	FieldMetadata: {FieldMetadata, "metadata", wordMetadata, 0, 64, SegMetadata, false},
	FieldTunID:    {FieldTunID, "tun_id", wordTunID, 0, 64, SegMetadata, false},
	FieldInPort:   {FieldInPort, "in_port", wordPort, 0, 32, SegMetadata, false},
	FieldReg0:     {FieldReg0, "reg0", wordPort, 32, 32, SegMetadata, false},
	FieldEthDst:   {FieldEthDst, "eth_dst", wordEthDst, 0, 48, SegL2, false},
	FieldEthType:  {FieldEthType, "eth_type", wordEthDst, 48, 16, SegL2, false},
	FieldEthSrc:   {FieldEthSrc, "eth_src", wordEthSrc, 0, 48, SegL2, false},
	FieldVLANTCI:  {FieldVLANTCI, "vlan_tci", wordEthSrc, 48, 16, SegL2, false},
	FieldIPv4Src:  {FieldIPv4Src, "ipv4_src", wordIPv4, 0, 32, SegL3, true},
	FieldIPv4Dst:  {FieldIPv4Dst, "ipv4_dst", wordIPv4, 32, 32, SegL3, true},
	FieldIPProto:  {FieldIPProto, "nw_proto", wordIPMisc, 0, 8, SegL3, false},
	FieldIPTOS:    {FieldIPTOS, "nw_tos", wordIPMisc, 8, 8, SegL3, false},
	FieldIPTTL:    {FieldIPTTL, "nw_ttl", wordIPMisc, 16, 8, SegL3, false},
	FieldIPFrag:   {FieldIPFrag, "nw_frag", wordIPMisc, 24, 8, SegL3, false},
	FieldTPSrc:    {FieldTPSrc, "tp_src", wordTP, 0, 16, SegL4, false},
	FieldTPDst:    {FieldTPDst, "tp_dst", wordTP, 16, 16, SegL4, false},
	FieldTCPFlags: {FieldTCPFlags, "tcp_flags", wordTP, 32, 16, SegL4, false},
}

var fieldsByName = func() map[string]*Field {
	m := make(map[string]*Field, NumFields)
	for i := range registry {
		m[registry[i].Name] = &registry[i]
	}
	return m
}()

// validMask has a 1-bit in every position covered by a registered field.
var validMask = func() Flow {
	var v Flow
	for i := range registry {
		f := &registry[i]
		v[f.Word] |= f.mask64()
	}
	return v
}()

// FieldByID returns the field descriptor for id.
func FieldByID(id FieldID) *Field {
	return &registry[id]
}

// FieldByName returns the field descriptor for the given name.
func FieldByName(name string) (*Field, bool) {
	f, ok := fieldsByName[name]
	return f, ok
}

// ValidMask returns a mask with a 1-bit for every position covered by a
// registered field. A rule mask pinning bits outside this mask is invalid.
func ValidMask() Flow {
	return validMask
}

// mask64 returns the field's bits within its word.
func (f *Field) mask64() uint64 {
	if f.Width == 64 {
		return ^uint64(0)
	}
	return ((uint64(1) << f.Width) - 1) << f.Shift
}

// Load returns the field's value from fl.
func (f *Field) Load(fl *Flow) uint64 {
	return (fl[f.Word] & f.mask64()) >> f.Shift
}

// Load32 returns the field's value as a 32-bit quantity; only meaningful for
// fields of width 32 or less.
func (f *Field) Load32(fl *Flow) uint32 {
	return uint32(f.Load(fl))
}

// Store sets the field's value in fl, truncating v to the field width.
func (f *Field) Store(fl *Flow, v uint64) {
	fl[f.Word] = fl[f.Word]&^f.mask64() | (v<<f.Shift)&f.mask64()
}

// PrefixLen32 reports whether the 32-bit field mask m is a big-endian
// prefix, and if so its length. The all-zero mask is the zero-length prefix.
func PrefixLen32(m uint32) (int, bool) {
	if m == 0 {
		return 0, true
	}
	n := 0
	for i := 31; i >= 0 && m&(1<<uint(i)) != 0; i-- {
		n++
	}
	if m != prefixMask32(n) {
		return 0, false
	}
	return n, true
}

// prefixMask32 returns the mask with the n most significant bits set.
func prefixMask32(n int) uint32 {
	if n <= 0 {
		return 0
	}
	if n >= 32 {
		return ^uint32(0)
	}
	return ^uint32(0) << uint(32-n)
}
