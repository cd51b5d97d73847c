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
	"sync/atomic"

	"github.com/flowgate/flowgate/pkg/cmap"
	"github.com/flowgate/flowgate/pkg/flow"
)

// clsMatch is a rule's entry inside a subtable. Rules with identical
// (value, mask) form a priority-descending chain: only the head is indexed
// in the hash maps, the tail hangs off next. next is read by lock-free
// readers and written under the classifier's writer lock.
type clsMatch struct {
	rule     *Rule
	priority uint32
	next     atomic.Pointer[clsMatch]
}

// subtable holds every rule sharing one mask shape and performs the staged
// hashed lookup over them.
//
// The staged layout is data, not control flow: stageEnds lists the word
// boundaries of the supplementary prefix-hash indices, and the final stage
// over the full key is the rules map itself. A stage whose word range adds
// no mask bits is merged into its successor at creation time.
type subtable struct {
	mask     flow.Minimask
	maskHash uint64

	// tag is the metadata fingerprint; TagAll unless the mask pins the
	// whole metadata word, in which case flows can be partitioned by their
	// exact metadata value.
	tag uint64

	stageEnds []int
	indices   []cmap.Map[clsMatch]
	rules     cmap.Map[clsMatch]

	// triePlen[i] is the prefix length this subtable's mask demands on
	// trie i's field, or 0 if the trie does not apply to this mask.
	triePlen [MaxTries]int

	// Writer-side bookkeeping; readers order subtables through the
	// priority vector snapshot instead.
	nRules      int
	maxPriority uint32
	maxCount    int
}

func newSubtable(mask flow.Minimask, segments []uint8, tries []clsTrie) *subtable {
	s := &subtable{
		mask:     mask,
		maskHash: mask.Hash(flow.HashBasis),
		tag:      TagAll,
	}
	last := 0
	for _, b := range segments {
		end := int(b)
		if end <= last || end >= flow.U64s {
			continue
		}
		if mask.HasBitsInRange(last, end) {
			s.stageEnds = append(s.stageEnds, end)
			last = end
		}
	}
	// An index covering all of the mask's bits duplicates the full-key
	// map; drop it.
	if n := len(s.stageEnds); n > 0 && !mask.HasBitsInRange(s.stageEnds[n-1], flow.U64s) {
		s.stageEnds = s.stageEnds[:n-1]
	}
	s.indices = make([]cmap.Map[clsMatch], len(s.stageEnds))

	meta := flow.FieldByID(flow.FieldMetadata)
	if mask.Get(meta.Word) == ^uint64(0) {
		s.tag = tagFromHash(s.maskHash)
	}
	for i := range tries {
		if plen, ok := flow.PrefixLen32(maskBits32(&mask, tries[i].field)); ok {
			s.triePlen[i] = plen
		}
	}
	return s
}

// fullHashMiniflow hashes a rule's (pre-masked) value over all mask bits.
// The value is identical to chaining the stage hashes, so the rules map
// doubles as the final lookup stage.
func (s *subtable) fullHashMiniflow(mf *flow.Miniflow) uint64 {
	return flow.HashMiniflowInMinimask(mf, &s.mask, flow.HashBasis)
}

// findEqual returns the head whose value equals mf under the subtable
// mask, or nil.
func (s *subtable) findEqual(mf *flow.Miniflow, hash uint64) *clsMatch {
	var found *clsMatch
	s.rules.Get(hash, func(m *clsMatch) bool {
		if flow.MiniflowEqualInMinimask(&m.rule.match.Flow, mf, &s.mask) {
			found = m
			return false
		}
		return true
	})
	return found
}

// indexHashes computes the chained stage hashes of a rule value.
func (s *subtable) indexHashes(mf *flow.Miniflow) []uint64 {
	hashes := make([]uint64, len(s.stageEnds))
	basis := flow.HashBasis
	start := 0
	for i, end := range s.stageEnds {
		basis = flow.HashMiniflowInMinimaskRange(mf, &s.mask, start, end, basis)
		hashes[i] = basis
		start = end
	}
	return hashes
}

func (s *subtable) insertIndices(m *clsMatch) {
	for i, h := range s.indexHashes(&m.rule.match.Flow) {
		s.indices[i].Insert(h, m)
	}
}

func (s *subtable) removeIndices(m *clsMatch) {
	for i, h := range s.indexHashes(&m.rule.match.Flow) {
		s.indices[i].Remove(h, m)
	}
}

func (s *subtable) replaceHead(hash uint64, old, new *clsMatch) {
	s.rules.Replace(hash, old, new)
	for i, h := range s.indexHashes(&new.rule.match.Flow) {
		s.indices[i].Replace(h, old, new)
	}
}

// headInserted updates the max-priority tracking after a head at the given
// priority appeared.
func (s *subtable) headInserted(priority uint32) {
	switch {
	case s.rules.Len() == 1 || priority > s.maxPriority:
		s.maxPriority = priority
		s.maxCount = 1
	case priority == s.maxPriority:
		s.maxCount++
	}
}

// headRemoved updates the max-priority tracking after a head at the given
// priority disappeared (with no equal-priority replacement).
func (s *subtable) headRemoved(priority uint32) {
	if priority != s.maxPriority {
		return
	}
	s.maxCount--
	if s.maxCount > 0 {
		return
	}
	s.maxPriority = 0
	s.maxCount = 0
	cur := s.rules.Cursor()
	for m := cur.Next(); m != nil; m = cur.Next() {
		switch {
		case s.maxCount == 0 || m.priority > s.maxPriority:
			s.maxPriority = m.priority
			s.maxCount = 1
		case m.priority == s.maxPriority:
			s.maxCount++
		}
	}
}

// insert adds r, returning the evicted rule if an installed rule with
// identical (value, mask, priority) existed. Writer-side only.
func (s *subtable) insert(r *Rule) *Rule {
	hash := s.fullHashMiniflow(&r.match.Flow)
	head := s.findEqual(&r.match.Flow, hash)
	m := &clsMatch{rule: r, priority: r.priority}
	r.cls = m

	if head == nil {
		s.rules.Insert(hash, m)
		s.insertIndices(m)
		s.headInserted(r.priority)
		s.nRules++
		return nil
	}
	if r.priority > head.priority {
		// Rotate into the head slot; the former head becomes the first
		// chain member.
		m.next.Store(head)
		s.replaceHead(hash, head, m)
		s.headInserted(r.priority)
		if head.priority == s.maxPriority && head.priority != r.priority {
			// The demoted head no longer counts as a head.
			s.headRemoved(head.priority)
		}
		s.nRules++
		return nil
	}
	if r.priority == head.priority {
		// Identical (value, mask, priority): evict, adopting the chain.
		m.next.Store(head.next.Load())
		s.replaceHead(hash, head, m)
		head.rule.cls = nil
		return head.rule
	}
	// Splice into the chain at the position preserving descending
	// priority.
	prev := head
	for {
		next := prev.next.Load()
		if next == nil || next.priority < r.priority {
			m.next.Store(next)
			prev.next.Store(m)
			s.nRules++
			return nil
		}
		if next.priority == r.priority {
			m.next.Store(next.next.Load())
			prev.next.Store(m)
			next.rule.cls = nil
			return next.rule
		}
		prev = next
	}
}

// remove unlinks r. Returns false if r is not in this subtable.
// Writer-side only.
func (s *subtable) remove(r *Rule) bool {
	hash := s.fullHashMiniflow(&r.match.Flow)
	head := s.findEqual(&r.match.Flow, hash)
	if head == nil {
		return false
	}
	if head.rule == r {
		next := head.next.Load()
		if next != nil {
			// Promote the next-highest chain member into the head slot.
			s.replaceHead(hash, head, next)
			if next.priority != head.priority {
				s.headInserted(next.priority)
				s.headRemoved(head.priority)
			}
		} else {
			s.rules.Remove(hash, head)
			s.removeIndices(head)
			s.headRemoved(head.priority)
		}
		r.cls = nil
		s.nRules--
		return true
	}
	prev := head
	for next := prev.next.Load(); next != nil; next = prev.next.Load() {
		if next.rule == r {
			prev.next.Store(next.next.Load())
			r.cls = nil
			s.nRules--
			return true
		}
		prev = next
	}
	return false
}

// findMatch returns the head matching f under the subtable mask, given
// f's full-key hash.
func (s *subtable) findMatch(f *flow.Flow, hash uint64) *clsMatch {
	var found *clsMatch
	s.rules.Get(hash, func(m *clsMatch) bool {
		if flow.FlowEqualInMinimask(f, &m.rule.match.Flow, &s.mask) {
			found = m
			return false
		}
		return true
	})
	return found
}

// checkTries consults any not-yet-consulted trie whose field lies within
// the word range [start, end). A freshly consulted trie un-wildcards the
// address bits it examined. Returns true if a trie proves that no rule of
// this subtable can match, in which case the rest of the subtable is
// skipped.
func (s *subtable) checkTries(tries []trieCtx, start, end int, f *flow.Flow, wc *flow.Wildcards) bool {
	for i := range tries {
		plen := s.triePlen[i]
		if plen == 0 {
			continue
		}
		ctx := &tries[i]
		fld := ctx.trie.field
		if fld.Word < start || fld.Word >= end {
			continue
		}
		if !ctx.done {
			ctx.matchLen, ctx.checkBits = ctx.trie.query(fld.Load32(f))
			ctx.done = true
			wc.UnwildcardPrefix(fld, ctx.checkBits)
		}
		if plen > ctx.matchLen {
			// No address in the classifier extends past matchLen bits of
			// this flow's address, so a mask demanding plen bits cannot
			// match.
			return true
		}
	}
	return false
}

// lookup finds the matching head for f, accumulating un-wildcarding into
// wc. Stages abort as soon as a segment index proves no rule can match,
// un-wildcarding only the mask bits of the segments examined. A nil wc
// requests a plain full-key lookup. Safe for concurrent readers.
func (s *subtable) lookup(f *flow.Flow, wc *flow.Wildcards, tries []trieCtx) *clsMatch {
	if wc == nil {
		return s.findMatch(f, flow.HashFlowInMinimask(f, &s.mask, flow.HashBasis))
	}
	basis := flow.HashBasis
	start := 0
	for i, end := range s.stageEnds {
		if s.checkTries(tries, start, end, f, wc) {
			wc.FoldMinimaskRange(&s.mask, 0, start)
			return nil
		}
		basis = flow.HashFlowInMinimaskRange(f, &s.mask, start, end, basis)
		start = end
		if s.indices[i].GetFirst(basis) == nil {
			wc.FoldMinimaskRange(&s.mask, 0, start)
			return nil
		}
	}
	if s.checkTries(tries, start, flow.U64s, f, wc) {
		wc.FoldMinimaskRange(&s.mask, 0, start)
		return nil
	}
	hash := flow.HashFlowInMinimaskRange(f, &s.mask, start, flow.U64s, basis)
	m := s.findMatch(f, hash)
	wc.FoldMinimask(&s.mask)
	return m
}
