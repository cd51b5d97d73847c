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
	"fmt"
	"strings"
)

// Match is a value+mask pair over the header space. Bit i of Mask set means
// "a matching packet must agree with Value on header bit i". A packet p
// matches iff (p & Mask) == (Value & Mask).
type Match struct {
	Value Flow
	Mask  Flow
}

// SetExact pins the field id to v exactly.
func (m *Match) SetExact(id FieldID, v uint64) {
	f := FieldByID(id)
	f.Store(&m.Value, v)
	m.Mask[f.Word] |= f.mask64()
}

// SetMasked pins the bits of field id selected by mask to the corresponding
// bits of v.
func (m *Match) SetMasked(id FieldID, v, mask uint64) {
	f := FieldByID(id)
	fm := (mask << f.Shift) & f.mask64()
	m.Value[f.Word] = m.Value[f.Word]&^fm | (v<<f.Shift)&fm
	m.Mask[f.Word] |= fm
}

// SetPrefix pins the plen most significant bits of the 32-bit address field
// id to the corresponding bits of addr.
func (m *Match) SetPrefix(id FieldID, addr uint32, plen int) {
	pm := prefixMask32(plen)
	m.SetMasked(id, uint64(addr&pm), uint64(pm))
}

// Matches reports whether f matches.
func (m *Match) Matches(f *Flow) bool {
	for w := 0; w < U64s; w++ {
		if (f[w]^m.Value[w])&m.Mask[w] != 0 {
			return false
		}
	}
	return true
}

// IsCatchall reports whether the mask is all zeros, i.e. the match admits
// every packet.
func (m *Match) IsCatchall() bool {
	return m.Mask.IsZero()
}

// String formats the match as a comma-separated field=value[/mask] list, or
// "catchall" for the all-wildcard match.
func (m *Match) String() string {
	var sb strings.Builder
	for i := range registry {
		f := &registry[i]
		fm := (m.Mask[f.Word] & f.mask64()) >> f.Shift
		if fm == 0 {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(",")
		}
		v := f.Load(&m.Value)
		full := f.mask64() >> f.Shift
		if fm == full {
			fmt.Fprintf(&sb, "%s=%#x", f.Name, v)
		} else {
			fmt.Fprintf(&sb, "%s=%#x/%#x", f.Name, v&fm, fm)
		}
	}
	if sb.Len() == 0 {
		return "catchall"
	}
	return sb.String()
}
