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
	"fmt"

	"github.com/flowgate/flowgate/pkg/flow"
	"github.com/flowgate/flowgate/pkg/private/serrors"
)

// Rule is a classifier rule: a value+mask match and a priority. Higher
// numeric priority wins. Rules are owned by the caller; the classifier
// stores the pointer while the rule is installed and the caller must keep
// the rule alive until after Remove.
type Rule struct {
	match    flow.Minimatch
	priority uint32

	// cls links the rule to its subtable entry while installed; nil
	// otherwise. Guarded by the owning classifier's writer lock.
	cls *clsMatch
}

// NewRule builds a rule from a match and a priority. Fails with
// ErrInvalidMatch if the mask pins bits outside the registered fields.
func NewRule(m *flow.Match, priority uint32) (*Rule, error) {
	return NewRuleFromMinimatch(flow.MinimatchFrom(m), priority)
}

// NewRuleFromMinimatch is the compressed-form variant of NewRule.
func NewRuleFromMinimatch(mm flow.Minimatch, priority uint32) (*Rule, error) {
	valid := flow.ValidMask()
	for w := 0; w < flow.U64s; w++ {
		if mm.Mask.Get(w)&^valid[w] != 0 {
			return nil, serrors.Join(ErrInvalidMatch, nil, "word", w)
		}
	}
	return &Rule{match: mm, priority: priority}, nil
}

// Clone returns an uninstalled copy of the rule.
func (r *Rule) Clone() *Rule {
	return &Rule{match: r.match, priority: r.priority}
}

// Minimatch returns the rule's match in compressed form. The returned value
// must not be modified.
func (r *Rule) Minimatch() *flow.Minimatch {
	return &r.match
}

// Match returns the rule's match in expanded form.
func (r *Rule) Match() flow.Match {
	return r.match.Expand()
}

// Priority returns the rule's priority.
func (r *Rule) Priority() uint32 {
	return r.priority
}

// Installed reports whether the rule is currently in a classifier.
func (r *Rule) Installed() bool {
	return r.cls != nil
}

// Equal reports whether two rules have the same mask, the same value under
// the mask, and the same priority.
func (r *Rule) Equal(o *Rule) bool {
	return r.priority == o.priority && r.match.Equal(&o.match)
}

// Hash computes a hash over the rule's match and priority, chaining from
// basis.
func (r *Rule) Hash(basis uint64) uint64 {
	return flow.HashWord(r.match.Hash(basis), uint64(r.priority))
}

// IsCatchall reports whether the rule's mask is all zeros, i.e. the rule
// matches every packet.
func (r *Rule) IsCatchall() bool {
	return r.match.Mask.Miniflow.Equal(&flow.Miniflow{})
}

// IsLooseMatch reports whether this rule pins every bit criteria pins,
// identically: the rule is equal to or more specific than criteria.
func (r *Rule) IsLooseMatch(criteria *flow.Minimatch) bool {
	return criteria.Mask.IsSubsetOf(&r.match.Mask) &&
		flow.MiniflowEqualInMinimask(&r.match.Flow, &criteria.Flow, &criteria.Mask)
}

func (r *Rule) String() string {
	return fmt.Sprintf("priority=%d,%s", r.priority, r.match.String())
}
