// Copyright 2025 The seg6 Authors
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

package localsid

import "net/netip"

var (
	GetSRH               = getSRH
	GetAndValidateSRH    = getAndValidateSRH
	AdvanceNextSeg       = advanceNextSeg
	PopSRH               = popSRH
	Decap                = decap
	InsertSRHInline      = insertSRHInline
	EncapSRH             = encapSRH
	FindUpperProto       = findUpperProto
	CSIDArgZero          = csidArgZero
	CSIDAdvance          = csidAdvance
	ValidateCSIDGeometry = validateCSIDGeometry
)

// OverlapDescAttrs folds the required attribute set of the descriptor for a
// into its optional set and returns a func restoring the original sets.
func OverlapDescAttrs(a Action) func() {
	d, ok := descByAction(a)
	if !ok {
		return func() {}
	}
	old := d.optAttrs
	d.optAttrs |= d.attrs
	return func() { d.optAttrs = old }
}

// DescAttrSetsDisjoint reports whether the descriptor for a keeps its
// required and optional attribute sets disjoint.
func DescAttrSetsDisjoint(a Action) bool {
	d, ok := descByAction(a)
	return ok && d.attrs&d.optAttrs == 0
}

// RegisteredActions lists every behavior that has a descriptor.
func RegisteredActions() []Action {
	as := make([]Action, 0, len(actionDescs))
	for i := range actionDescs {
		as = append(as, actionDescs[i].action)
	}
	return as
}

func (p *Packet) DstAddr() netip.Addr { return p.dstAddr() }

func (p *Packet) PayloadLen() int { return p.payloadLen() }

func (s *State) Table() uint32 { return s.table }

func (s *State) NH6() netip.Addr { return s.nh6 }

func (s *State) SRHBytes() []byte { return s.srh }

func (s *State) VRFIfindex() int { return s.vrf.ifindex }
