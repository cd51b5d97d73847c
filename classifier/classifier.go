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

// Package classifier implements a priority-ordered flow rule database:
// given a packet's header fields it returns the highest-priority matching
// rule and, as a side effect, a wildcard mask recording exactly which
// header bits influenced the decision. The mask lets downstream datapath
// caches install broad megaflows: a 0-bit means the bit played no role in
// the result.
//
// Rules sharing a mask shape live in one subtable, a hash table over the
// masked header bits. Subtables are consulted in descending order of their
// highest rule priority, so a found match cuts the remaining subtables
// off. Inside a subtable the lookup is staged over the metadata, L2, L3
// and L4 word ranges: a stage whose partial-key hash finds nothing aborts
// the subtable without un-wildcarding the rest of its mask. Metadata
// partitions and per-field prefix tries prune further.
//
// The structure is safe for any number of lock-free readers concurrent
// with a single writer. Writers serialize on an internal lock; every
// mutable pointer readers traverse is published atomically and displaced
// state is reclaimed by the garbage collector once the last reader drops
// it.
package classifier

import (
	"sync"
	"sync/atomic"

	"github.com/flowgate/flowgate/pkg/cmap"
	"github.com/flowgate/flowgate/pkg/flow"
	"github.com/flowgate/flowgate/pkg/private/serrors"
	"github.com/flowgate/flowgate/pkg/pvector"
)

const (
	// MaxSegments is the maximum number of staged-lookup boundaries, and
	// thus supplementary hash indices, per subtable.
	MaxSegments = 3
	// MaxTries is the maximum number of prefix tries per classifier.
	MaxTries = 3
	// MaxBatch is the largest number of flows LookupBatch accepts.
	MaxBatch = 256
	// TagAll is the subtable tag that intersects every partition: such a
	// subtable is visited regardless of the flow's metadata.
	TagAll = ^uint64(0)
)

// Classifier is the top-level rule database. The zero value is not usable;
// construct with New.
type Classifier struct {
	mu       sync.Mutex
	nRules   int
	segments []uint8

	subtablesMap cmap.Map[subtable]
	subtables    pvector.Vector[subtable]
	partitions   cmap.Map[partition]

	// tries is replaced wholesale by SetPrefixFields (legal only on an
	// empty classifier); the per-trie roots inside mutate per rule.
	tries  atomic.Pointer[[]clsTrie]
	nTries int

	metrics *Metrics
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// New creates a classifier with the given staged-lookup segmentation: a
// strictly ascending list of at most MaxSegments flow word boundaries. A
// nil segments disables staged lookup. Most callers want
// flow.DefaultSegments.
func New(segments []uint8, opts ...Option) (*Classifier, error) {
	if len(segments) > MaxSegments {
		return nil, serrors.Join(ErrConfigInvalid, nil,
			"reason", "too many segments", "n", len(segments))
	}
	prev := 0
	for _, b := range segments {
		if int(b) <= prev || int(b) >= flow.U64s {
			return nil, serrors.Join(ErrConfigInvalid, nil,
				"reason", "segment boundaries must ascend within the flow",
				"boundary", b)
		}
		prev = int(b)
	}
	c := &Classifier{segments: append([]uint8(nil), segments...)}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Destroy releases the classifier's internal state. Installed rules become
// uninstalled; they remain owned by the caller. The caller must guarantee
// that no reader is in flight.
func (c *Classifier) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.subtablesMap.Cursor()
	for s := cur.Next(); s != nil; s = cur.Next() {
		rc := s.rules.Cursor()
		for m := rc.Next(); m != nil; m = rc.Next() {
			for n := m; n != nil; n = n.next.Load() {
				n.rule.cls = nil
			}
		}
	}
	c.subtablesMap.Clear()
	c.subtables.Clear()
	c.partitions.Clear()
	c.tries.Store(nil)
	c.nTries = 0
	c.nRules = 0
}

// SetPrefixFields configures which address fields are tracked by prefix
// tries. Valid only on an empty classifier; at most MaxTries fields, each
// of which must be a prefix-capable 32-bit address field. Returns whether
// the configuration changed.
func (c *Classifier) SetPrefixFields(ids []flow.FieldID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nRules > 0 {
		return false, serrors.Join(ErrConfigInvalid, nil,
			"reason", "prefix fields can only change on an empty classifier",
			"rules", c.nRules)
	}
	if len(ids) > MaxTries {
		return false, serrors.Join(ErrConfigInvalid, nil,
			"reason", "too many prefix fields", "n", len(ids))
	}
	fields := make([]*flow.Field, 0, len(ids))
	for _, id := range ids {
		f := flow.FieldByID(id)
		if !f.Prefix {
			return false, serrors.Join(ErrConfigInvalid, nil,
				"reason", "field is not prefix-capable", "field", f.Name)
		}
		fields = append(fields, f)
	}
	changed := len(fields) != c.nTries
	if !changed {
		old := c.tries.Load()
		for i, f := range fields {
			if (*old)[i].field != f {
				changed = true
				break
			}
		}
	}
	if !changed {
		return false, nil
	}
	tries := make([]clsTrie, len(fields))
	for i, f := range fields {
		tries[i].field = f
	}
	c.tries.Store(&tries)
	c.nTries = len(tries)
	return true, nil
}

// Count returns the number of installed rules, counting priority-chain
// tails.
func (c *Classifier) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nRules
}

// IsEmpty reports whether no rule is installed.
func (c *Classifier) IsEmpty() bool {
	return c.Count() == 0
}

func (c *Classifier) loadTries() []clsTrie {
	if p := c.tries.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *Classifier) findSubtable(mask *flow.Minimask) *subtable {
	var found *subtable
	c.subtablesMap.Get(mask.Hash(flow.HashBasis), func(s *subtable) bool {
		if s.mask.Equal(mask) {
			found = s
			return false
		}
		return true
	})
	return found
}

func (c *Classifier) findOrCreateSubtable(mask *flow.Minimask) (*subtable, bool) {
	if s := c.findSubtable(mask); s != nil {
		return s, false
	}
	s := newSubtable(*mask, c.segments, c.loadTries())
	c.subtablesMap.Insert(s.maskHash, s)
	return s, true
}

func (c *Classifier) destroySubtable(s *subtable) {
	c.subtablesMap.Remove(s.maskHash, s)
	c.subtables.Remove(s)
}

// trieFieldAddr returns the rule's (pre-masked) value of trie field f.
func trieFieldAddr(r *Rule, f *flow.Field) uint32 {
	return uint32(r.match.Flow.Get(f.Word) >> f.Shift)
}

// Insert adds r to the classifier, which installs it. Callers must not
// insert a rule identical in (match, priority) to an installed one; if they
// do, Insert behaves as Replace and the returned rule reports the
// violation. Fails with ErrAlreadyInstalled if r itself is installed.
func (c *Classifier) Insert(r *Rule) (*Rule, error) {
	return c.Replace(r)
}

// Replace adds r to the classifier. If an installed rule with identical
// (value, mask, priority) exists, it is evicted, uninstalled and returned;
// otherwise returns nil. Fails with ErrAlreadyInstalled if r itself is
// installed.
func (c *Classifier) Replace(r *Rule) (*Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.cls != nil {
		return nil, serrors.Join(ErrAlreadyInstalled, nil, "rule", r.String())
	}

	s, created := c.findOrCreateSubtable(&r.match.Mask)
	prevMax := s.maxPriority
	evicted := s.insert(r)

	tries := c.loadTries()
	for i := range tries {
		if plen := s.triePlen[i]; plen > 0 {
			tries[i].insert(trieFieldAddr(r, tries[i].field), plen)
			if evicted != nil {
				tries[i].remove(trieFieldAddr(evicted, tries[i].field), plen)
			}
		}
	}
	if s.tag != TagAll {
		c.partitionAdd(r.match.Flow.Metadata(), s.tag)
		if evicted != nil {
			c.partitionRemove(evicted.match.Flow.Metadata(), s.tag)
		}
	}
	if evicted == nil {
		c.nRules++
	}

	switch {
	case created:
		c.subtables.Insert(s.maxPriority, s)
	case s.maxPriority != prevMax:
		c.subtables.ChangePriority(s, s.maxPriority)
	}
	if c.metrics != nil {
		c.metrics.Rules.Set(float64(c.nRules))
		c.metrics.Subtables.Set(float64(c.subtablesMap.Len()))
	}
	return evicted, nil
}

// Remove takes r out of the classifier and returns it, now uninstalled.
// Fails with ErrNotInstalled if r is not installed here.
func (c *Classifier) Remove(r *Rule) (*Rule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r.cls == nil {
		return nil, serrors.Join(ErrNotInstalled, nil, "rule", r.String())
	}
	s := c.findSubtable(&r.match.Mask)
	if s == nil {
		return nil, serrors.Join(ErrNotInstalled, nil, "rule", r.String())
	}
	prevMax := s.maxPriority
	if !s.remove(r) {
		return nil, serrors.Join(ErrNotInstalled, nil, "rule", r.String())
	}

	tries := c.loadTries()
	for i := range tries {
		if plen := s.triePlen[i]; plen > 0 {
			tries[i].remove(trieFieldAddr(r, tries[i].field), plen)
		}
	}
	if s.tag != TagAll {
		c.partitionRemove(r.match.Flow.Metadata(), s.tag)
	}
	c.nRules--

	switch {
	case s.nRules == 0:
		c.destroySubtable(s)
	case s.maxPriority != prevMax:
		c.subtables.ChangePriority(s, s.maxPriority)
	}
	if c.metrics != nil {
		c.metrics.Rules.Set(float64(c.nRules))
		c.metrics.Subtables.Set(float64(c.subtablesMap.Len()))
	}
	return r, nil
}

// Lookup returns the highest-priority rule matching f, or nil. Bits the
// lookup examined are accumulated into wc; a nil wc disables the
// accounting (and the staged/trie pruning that exists to minimize it).
// Safe for any number of concurrent readers; never blocks.
func (c *Classifier) Lookup(f *flow.Flow, wc *flow.Wildcards) *Rule {
	var ctxArr [MaxTries]trieCtx
	var ctxs []trieCtx
	if wc != nil {
		tries := c.loadTries()
		for i := range tries {
			ctxArr[i].trie = &tries[i]
		}
		ctxs = ctxArr[:len(tries)]
	}

	tags := c.lookupPartition(f.Metadata())
	if wc != nil && c.partitions.Len() > 0 {
		// With partitions in use, the metadata value decided which
		// subtables were even considered; the megaflow must pin it.
		wc.UnwildcardField(flow.FieldMetadata)
	}
	var best *clsMatch
	searched := 0
	for _, e := range c.subtables.Load() {
		if best != nil && e.Priority <= best.priority {
			break
		}
		s := e.Value
		if s.tag&tags == 0 {
			continue
		}
		searched++
		m := s.lookup(f, wc, ctxs)
		if m != nil && (best == nil || m.priority > best.priority) {
			best = m
		}
	}
	if c.metrics != nil {
		c.metrics.Lookups.Inc()
		c.metrics.SubtablesSearched.Add(float64(searched))
		if best != nil {
			c.metrics.Matches.Inc()
		}
	}
	if best == nil {
		return nil
	}
	return best.rule
}

// LookupBatch performs up to MaxBatch lookups, storing the results
// in-place in out. Returns whether any flow matched. No un-wildcarding is
// performed. Each flow observes its own consistent snapshot; flows of one
// batch may see different write generations.
func (c *Classifier) LookupBatch(flows []*flow.Miniflow, out []*Rule) (bool, error) {
	if len(flows) > MaxBatch {
		return false, serrors.Join(ErrConfigInvalid, nil,
			"reason", "batch too large", "n", len(flows), "max", MaxBatch)
	}
	if len(out) < len(flows) {
		return false, serrors.Join(ErrConfigInvalid, nil,
			"reason", "result slice shorter than batch",
			"n", len(flows), "out", len(out))
	}
	any := false
	for i, mf := range flows {
		f := mf.Expand()
		out[i] = c.Lookup(&f, nil)
		if out[i] != nil {
			any = true
		}
	}
	return any, nil
}

// FindRuleExactly returns the installed rule whose match and priority both
// equal target's, or nil.
func (c *Classifier) FindRuleExactly(target *Rule) *Rule {
	s := c.findSubtable(&target.match.Mask)
	if s == nil {
		return nil
	}
	head := s.findEqual(&target.match.Flow, s.fullHashMiniflow(&target.match.Flow))
	for m := head; m != nil && m.priority >= target.priority; m = m.next.Load() {
		if m.priority == target.priority {
			return m.rule
		}
	}
	return nil
}

// FindMatchExactly is the keyed variant of FindRuleExactly.
func (c *Classifier) FindMatchExactly(m *flow.Match, priority uint32) *Rule {
	target := &Rule{match: flow.MinimatchFrom(m), priority: priority}
	return c.FindRuleExactly(target)
}

// RuleOverlaps reports whether an installed rule of the same priority as
// target admits at least one packet that target also admits. Inserting an
// overlapping rule would shadow, or be shadowed by, that rule for part of
// the header space.
func (c *Classifier) RuleOverlaps(target *Rule) bool {
	for _, e := range c.subtables.Load() {
		if e.Priority < target.priority {
			// Subtables are ordered by max priority; none of the rest can
			// hold a rule of equal priority.
			break
		}
		s := e.Value
		cur := s.rules.Cursor()
		for head := cur.Next(); head != nil; head = cur.Next() {
			for m := head; m != nil; m = m.next.Load() {
				if m.priority != target.priority {
					continue
				}
				if minimatchOverlap(&m.rule.match, &target.match) {
					return true
				}
			}
		}
	}
	return false
}

// minimatchOverlap reports whether the two matches admit a common packet:
// on every bit both masks pin, the values agree.
func minimatchOverlap(a, b *flow.Minimatch) bool {
	for w := 0; w < flow.U64s; w++ {
		both := a.Mask.Get(w) & b.Mask.Get(w)
		if both&(a.Flow.Get(w)^b.Flow.Get(w)) != 0 {
			return false
		}
	}
	return true
}
