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
	"math/bits"
	"sync/atomic"

	"github.com/flowgate/flowgate/pkg/flow"
)

// partition associates one metadata value with the OR of the tags of every
// subtable holding a rule that matches this metadata value. A lookup reads
// tags to skip subtables whose tag does not intersect.
//
// tracker holds per-tag-bit reference counts so that removing the last rule
// contributing a bit clears it; tracker is guarded by the classifier's
// writer lock, tags is read by lock-free readers.
type partition struct {
	metadata uint64
	tags     atomic.Uint64
	tracker  [64]uint32
}

// tagArbitrary is the tag returned for a metadata value with no partition:
// it intersects TagAll subtables (which must always be visited) but, by
// construction, no subtable fingerprint.
const tagArbitrary uint64 = 1

// tagFromHash derives a two-bit subtable fingerprint. Bit 0 is reserved
// for tagArbitrary so that flows with unknown metadata skip all
// exact-metadata subtables.
func tagFromHash(h uint64) uint64 {
	return 1<<(1+h%63) | 1<<(1+(h>>16)%63)
}

// lookupPartition returns the tags a flow with the given metadata must be
// checked against. Safe for concurrent readers.
func (c *Classifier) lookupPartition(metadata uint64) uint64 {
	tags := tagArbitrary
	c.partitions.Get(flow.HashUint64(metadata), func(p *partition) bool {
		if p.metadata == metadata {
			tags = p.tags.Load()
			return false
		}
		return true
	})
	return tags
}

// findPartition returns the partition for metadata, or nil. Writer-side.
func (c *Classifier) findPartition(metadata uint64) *partition {
	var found *partition
	c.partitions.Get(flow.HashUint64(metadata), func(p *partition) bool {
		if p.metadata == metadata {
			found = p
			return false
		}
		return true
	})
	return found
}

// partitionAdd records one rule with the given metadata value living in a
// subtable with the given tag. Writer-side only.
func (c *Classifier) partitionAdd(metadata, tag uint64) {
	p := c.findPartition(metadata)
	if p == nil {
		p = &partition{metadata: metadata}
		c.partitions.Insert(flow.HashUint64(metadata), p)
	}
	for rest := tag; rest != 0; rest &= rest - 1 {
		p.tracker[bits.TrailingZeros64(rest)]++
	}
	p.tags.Store(p.tags.Load() | tag)
}

// partitionRemove drops one rule's contribution. The partition is destroyed
// when no tag bit remains referenced. Writer-side only.
func (c *Classifier) partitionRemove(metadata, tag uint64) {
	p := c.findPartition(metadata)
	if p == nil {
		return
	}
	tags := p.tags.Load()
	for rest := tag; rest != 0; rest &= rest - 1 {
		b := bits.TrailingZeros64(rest)
		if p.tracker[b] > 0 {
			p.tracker[b]--
		}
		if p.tracker[b] == 0 {
			tags &^= 1 << uint(b)
		}
	}
	if tags == 0 {
		c.partitions.Remove(flow.HashUint64(metadata), p)
		return
	}
	p.tags.Store(tags)
}
