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

// Package localsid implements the SRv6 local-segment (End.*) behavior
// engine: the per-tunnel state built from a tagged-attribute configuration
// message, and the per-packet state machine that applies the configured
// behavior and flavors to packets addressed to the local SID.
package localsid

import (
	"net/netip"
)

// Action identifies a local SID behavior. The numeric values are part of the
// configuration ABI and must be preserved bit for bit.
type Action uint32

const (
	ActionEnd Action = iota + 1
	ActionEndX
	ActionEndT
	ActionEndDX2
	ActionEndDX6
	ActionEndDX4
	ActionEndDT4
	ActionEndDT6
	ActionEndB6
	ActionEndB6Encap
	ActionEndBPF
	ActionEndDT46
)

var actionNames = map[Action]string{
	ActionEnd:        "End",
	ActionEndX:       "End.X",
	ActionEndT:       "End.T",
	ActionEndDX2:     "End.DX2",
	ActionEndDX6:     "End.DX6",
	ActionEndDX4:     "End.DX4",
	ActionEndDT4:     "End.DT4",
	ActionEndDT6:     "End.DT6",
	ActionEndB6:      "End.B6",
	ActionEndB6Encap: "End.B6.Encap",
	ActionEndBPF:     "End.BPF",
	ActionEndDT46:    "End.DT46",
}

func (a Action) String() string {
	if n, ok := actionNames[a]; ok {
		return n
	}
	return "unknown"
}

// ActionByName returns the action with the given display name.
func ActionByName(name string) (Action, bool) {
	for a, n := range actionNames {
		if n == name {
			return a, true
		}
	}
	return 0, false
}

// Attribute identifiers of the build message. Wire-stable.
const (
	attrUnspec = iota
	AttrAction
	AttrSRH
	AttrTable
	AttrNH4
	AttrNH6
	AttrIIF
	AttrOIF
	AttrBPF
	AttrVRFTable
	AttrCounters
	AttrFlavors
	attrMax
)

// Nested attribute identifiers of AttrBPF.
const (
	AttrBPFProg     = 1
	AttrBPFProgName = 2
)

// Nested attribute identifiers of AttrCounters.
const (
	AttrCntPackets = 1
	AttrCntBytes   = 2
	AttrCntErrors  = 3
)

// Nested attribute identifiers of AttrFlavors.
const (
	AttrFlavorOperation   = 1
	AttrFlavorLCBlockBits = 2
	AttrFlavorLCNodeBits  = 3
)

// maxProgNameLen bounds the BPF program name attribute.
const maxProgNameLen = 256

// attrSet is a set of attribute identifiers.
type attrSet uint16

func attrBit(id int) attrSet      { return 1 << id }
func (s attrSet) has(id int) bool { return s&attrBit(id) != 0 }

// Family is the address family of a decapsulated inner packet.
type Family uint8

const (
	FamilyIPv4 Family = iota + 1
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// vrfMode distinguishes how a DT behavior routes the inner packet.
type vrfMode uint8

const (
	// vrfModeLegacy routes with an explicit table id (DT6 with AttrTable).
	vrfModeLegacy vrfMode = iota
	// vrfModeDevice hands the packet to a resolved VRF device first.
	vrfModeDevice
)

// vrfInfo is the DT routing context resolved at build time.
type vrfInfo struct {
	table   uint32
	ifindex int
	family  Family
	mode    vrfMode
}

// bpfInfo holds the End.BPF program configuration. The name string is owned
// by the state; the program handle is shared with the program registry.
type bpfInfo struct {
	fd   int
	name string
	prog Program
}

// FlavorInfo is the validated flavor configuration of a tunnel.
type FlavorInfo struct {
	Ops FlavorOps
	// LCBlockBits and LCNodeFnBits define the NEXT-C-SID geometry: the
	// Locator-Block and Locator-Node Function lengths in bits.
	LCBlockBits  uint8
	LCNodeFnBits uint8
}

// State is the validated per-tunnel record. It is immutable after build; the
// data path reads it without locks. The per-CPU counter cells are the only
// mutable part and are written by at most one processor each.
type State struct {
	action Action
	desc   *actionDesc

	parsedOptional attrSet

	srh      []byte
	table    uint32
	nh4      netip.Addr
	nh6      netip.Addr
	iif      int
	oif      int
	bpf      bpfInfo
	vrf      vrfInfo
	flavors  FlavorInfo
	counters []counterCell
	headroom int

	destroyed bool
}

// Action returns the behavior of this tunnel.
func (s *State) Action() Action {
	return s.action
}

// Flavors returns the validated flavor configuration.
func (s *State) Flavors() FlavorInfo {
	return s.flavors
}

// Headroom returns the cumulative headroom hint accumulated during build.
// Packet sources should reserve this many bytes ahead of the payload so the
// encap behaviors can prepend headers without reallocating.
func (s *State) Headroom() int {
	return s.headroom
}

// VRFDevice returns the routing table and VRF device index a DT behavior
// resolved at build time. ok is false for states that route with an explicit
// table id, or that do not route at all.
func (s *State) VRFDevice() (table uint32, ifindex int, ok bool) {
	if s.vrf.mode != vrfModeDevice {
		return 0, 0, false
	}
	return s.vrf.table, s.vrf.ifindex, true
}

// CountersEnabled reports whether the counters attribute was supplied.
func (s *State) CountersEnabled() bool {
	return s.counters != nil
}

// Destroy releases all resources owned by the state: the SRH buffer, the
// BPF name and program reference, and the counter cells. Destroying a state
// twice, or one that was never fully built, is a no-op.
func (s *State) Destroy() {
	if s == nil || s.destroyed {
		return
	}
	s.destroyed = true
	destroyState(s)
}

// Compare reports structural equality of two built states: same behavior,
// same supplied attribute sets, and equal attribute contents.
func (s *State) Compare(o *State) bool {
	if s.action != o.action || s.parsedOptional != o.parsedOptional {
		return false
	}
	attrs := s.desc.attrs | s.parsedOptional
	for id := 0; id < attrMax; id++ {
		if !attrs.has(id) {
			continue
		}
		if cmp := attrOpsTable[id].cmp; cmp != nil && !cmp(s, o) {
			return false
		}
	}
	return true
}
