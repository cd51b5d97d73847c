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
	"github.com/flowgate/flowgate/pkg/cmap"
	"github.com/flowgate/flowgate/pkg/flow"
)

// Cursor iterates over the installed rules, optionally restricted to loose
// matches of a target rule. Iteration requires the writer role: it must
// not run concurrently with Insert or Remove, except that the safe variant
// permits removing the currently yielded rule.
type Cursor struct {
	cls       *Classifier
	target    *flow.Minimatch
	safe      bool
	subtables cmap.Cursor[subtable]
	cur       *subtable
	rules     cmap.Cursor[clsMatch]
	node      *clsMatch
	rule      *Rule
	prefetch  *Rule
}

// CursorStart positions a cursor on the first matching rule, or past the
// end if there is none. A nil or catchall target yields every rule. With
// safe set, the caller may remove the yielded rule before advancing.
func (c *Classifier) CursorStart(target *Rule, safe bool) *Cursor {
	cu := &Cursor{
		cls:       c,
		safe:      safe,
		subtables: c.subtablesMap.Cursor(),
	}
	if target != nil && !target.IsCatchall() {
		cu.target = &target.match
	}
	cu.rule = cu.findNext()
	if safe && cu.rule != nil {
		cu.prefetch = cu.findNext()
	}
	return cu
}

// Rule returns the rule at the cursor, or nil past the end.
func (cu *Cursor) Rule() *Rule {
	return cu.rule
}

// Advance moves to the next matching rule and returns it, or nil past the
// end.
func (cu *Cursor) Advance() *Rule {
	if cu.safe {
		cu.rule = cu.prefetch
		if cu.rule != nil {
			cu.prefetch = cu.findNext()
		}
		return cu.rule
	}
	cu.rule = cu.findNext()
	return cu.rule
}

func (cu *Cursor) findNext() *Rule {
	for {
		if cu.node != nil {
			n := cu.node
			cu.node = n.next.Load()
			return n.rule
		}
		if cu.cur == nil {
			s := cu.nextSubtable()
			if s == nil {
				return nil
			}
			cu.cur = s
			cu.rules = s.rules.Cursor()
		}
		head := cu.rules.Next()
		if head == nil {
			cu.cur = nil
			continue
		}
		// A chain shares (value, mask), so the head's verdict covers every
		// chain member.
		if cu.target == nil || head.rule.IsLooseMatch(cu.target) {
			cu.node = head
		}
	}
}

func (cu *Cursor) nextSubtable() *subtable {
	for {
		s := cu.subtables.Next()
		if s == nil {
			return nil
		}
		if cu.target != nil && !cu.target.Mask.IsSubsetOf(&s.mask) {
			// No rule of this shape can pin everything the target pins.
			continue
		}
		return s
	}
}
