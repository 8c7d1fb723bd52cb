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

import (
	"errors"
	"net/netip"

	"github.com/srv6proto/seg6/pkg/private/serrors"
	"github.com/srv6proto/seg6/pkg/slayers"
)

// actionDesc describes one behavior: which attributes it requires and
// accepts, its packet input function, an optional constructor run after
// attribute parsing, and the flavor operations it supports.
type actionDesc struct {
	action         Action
	attrs          attrSet
	optAttrs       attrSet
	input          func(e *Engine, proc int, p *Packet, s *State) disposition
	build          func(e *Engine, s *State) error
	destroy        func(s *State)
	flavorOps      FlavorOps
	staticHeadroom int
}

var actionDescs = []actionDesc{
	{
		action:    ActionEnd,
		optAttrs:  attrBit(AttrCounters) | attrBit(AttrFlavors),
		input:     inputEnd,
		flavorOps: FlavorPSP | FlavorNextCSID,
	},
	{
		action:    ActionEndX,
		attrs:     attrBit(AttrNH6),
		optAttrs:  attrBit(AttrOIF) | attrBit(AttrCounters) | attrBit(AttrFlavors),
		input:     inputEndX,
		flavorOps: FlavorNextCSID,
	},
	{
		action:   ActionEndT,
		attrs:    attrBit(AttrTable),
		optAttrs: attrBit(AttrCounters),
		input:    inputEndT,
	},
	{
		action:   ActionEndDX2,
		attrs:    attrBit(AttrOIF),
		optAttrs: attrBit(AttrCounters),
		input:    inputEndDX2,
	},
	{
		action:   ActionEndDX6,
		attrs:    attrBit(AttrNH6),
		optAttrs: attrBit(AttrCounters),
		input:    inputEndDX6,
	},
	{
		action:   ActionEndDX4,
		attrs:    attrBit(AttrNH4),
		optAttrs: attrBit(AttrCounters),
		input:    inputEndDX4,
	},
	{
		action:   ActionEndDT4,
		attrs:    attrBit(AttrVRFTable),
		optAttrs: attrBit(AttrCounters),
		input:    inputEndDT4,
		build:    buildEndDT4,
	},
	{
		action:   ActionEndDT6,
		optAttrs: attrBit(AttrTable) | attrBit(AttrVRFTable) | attrBit(AttrCounters),
		input:    inputEndDT6,
		build:    buildEndDT6,
	},
	{
		action:   ActionEndDT46,
		attrs:    attrBit(AttrVRFTable),
		optAttrs: attrBit(AttrCounters),
		input:    inputEndDT46,
		build:    buildEndDT46,
	},
	{
		action:   ActionEndB6,
		attrs:    attrBit(AttrSRH),
		optAttrs: attrBit(AttrCounters),
		input:    inputEndB6,
	},
	{
		action:         ActionEndB6Encap,
		attrs:          attrBit(AttrSRH),
		optAttrs:       attrBit(AttrCounters),
		input:          inputEndB6Encap,
		staticHeadroom: ipv6HdrLen,
	},
	{
		action:   ActionEndBPF,
		attrs:    attrBit(AttrBPF),
		optAttrs: attrBit(AttrCounters),
		input:    inputEndBPF,
	},
}

func descByAction(a Action) (*actionDesc, bool) {
	for i := range actionDescs {
		if actionDescs[i].action == a {
			return &actionDescs[i], true
		}
	}
	return nil, false
}

// inputEnd is the regular endpoint. NEXT-C-SID advancement, when configured
// and the SID argument is not exhausted, replaces the whole rewrite; any
// remaining flavor goes through the decision table.
func inputEnd(e *Engine, proc int, p *Packet, s *State) disposition {
	ops := s.flavors.Ops
	if ops&FlavorNextCSID != 0 {
		daddr := p.dstAddr().As16()
		if !csidArgZero(daddr[:], s.flavors) {
			csidAdvance(p, s.flavors)
			return e.route(p, RouteRequest{Dst: p.dstAddr(), Family: FamilyIPv6})
		}
		ops &^= FlavorNextCSID
	}
	if ops == 0 {
		off, ok := getAndValidateSRH(p, e.co.HMAC)
		if !ok {
			return pDiscard
		}
		advanceNextSeg(p, off)
		return e.route(p, RouteRequest{Dst: p.dstAddr(), Family: FamilyIPv6})
	}
	pinfo, off := classifyPkt(p)
	act := endFlavorTable[endFlavorIndex(pinfo, ops)]
	if act == nil {
		return pDiscard
	}
	return act(e, p, s, off)
}

func inputEndX(e *Engine, proc int, p *Packet, s *State) disposition {
	if s.flavors.Ops&FlavorNextCSID != 0 {
		daddr := p.dstAddr().As16()
		if !csidArgZero(daddr[:], s.flavors) {
			csidAdvance(p, s.flavors)
			return e.route(p, RouteRequest{Dst: s.nh6, Family: FamilyIPv6, OutIface: s.oif})
		}
	}
	off, ok := getAndValidateSRH(p, e.co.HMAC)
	if !ok {
		return pDiscard
	}
	advanceNextSeg(p, off)
	return e.route(p, RouteRequest{Dst: s.nh6, Family: FamilyIPv6, OutIface: s.oif})
}

func inputEndT(e *Engine, proc int, p *Packet, s *State) disposition {
	off, ok := getAndValidateSRH(p, e.co.HMAC)
	if !ok {
		return pDiscard
	}
	advanceNextSeg(p, off)
	return e.route(p, RouteRequest{Dst: p.dstAddr(), Family: FamilyIPv6, Table: s.table})
}

const etherHdrLen = 14

// etherTypeMin is the lowest value that identifies an EtherType rather than
// an 802.3 length field.
const etherTypeMin = 0x0600

func inputEndDX2(e *Engine, proc int, p *Packet, s *State) disposition {
	if !decap(p, nhEthernet, e.co.HMAC) {
		return pDiscard
	}
	frame := p.Data()
	if len(frame) < etherHdrLen {
		return pDiscard
	}
	etherType := uint16(frame[12])<<8 | uint16(frame[13])
	if etherType < etherTypeMin {
		return pDiscard
	}
	if e.co.Link == nil {
		return pDiscard
	}
	dev, ok := e.co.Link.Device(s.oif)
	if !ok || !dev.Ethernet || !dev.Up || !dev.Carrier {
		return pDiscard
	}
	if len(frame)-etherHdrLen > dev.MTU {
		return pDiscard
	}
	if err := e.co.Link.Transmit(s.oif, frame); err != nil {
		return pDiscard
	}
	return pForwarded
}

func inputEndDX6(e *Engine, proc int, p *Packet, s *State) disposition {
	return endDXInput(e, p, s, FamilyIPv6)
}

func inputEndDX4(e *Engine, proc int, p *Packet, s *State) disposition {
	return endDXInput(e, p, s, FamilyIPv4)
}

func endDXInput(e *Engine, p *Packet, s *State, family Family) disposition {
	var nh netip.Addr
	switch family {
	case FamilyIPv6:
		if !decap(p, nhIPv6, e.co.HMAC) || !p.hasIPv6Header() {
			return pDiscard
		}
		nh = s.nh6
	case FamilyIPv4:
		if !decap(p, nhIPIP, e.co.HMAC) || !hasIPv4Header(p) {
			return pDiscard
		}
		nh = s.nh4
	default:
		return pDiscard
	}
	if nh.IsUnspecified() {
		nh = innerDst(p, family)
	}
	if !e.netfilterPrerouting(p, family) {
		return pDiscard
	}
	return e.route(p, RouteRequest{Dst: nh, Family: family})
}

func inputEndDT4(e *Engine, proc int, p *Packet, s *State) disposition {
	return endDTInput(e, p, s, FamilyIPv4)
}

func inputEndDT6(e *Engine, proc int, p *Packet, s *State) disposition {
	return endDTInput(e, p, s, FamilyIPv6)
}

// inputEndDT46 dispatches on the tunneled protocol; anything but IPv4 or
// IPv6 payloads drops.
func inputEndDT46(e *Engine, proc int, p *Packet, s *State) disposition {
	proto, ok := findUpperProto(p)
	if !ok {
		return pDiscard
	}
	switch proto {
	case nhIPIP:
		return endDTInput(e, p, s, FamilyIPv4)
	case nhIPv6:
		return endDTInput(e, p, s, FamilyIPv6)
	default:
		return pDiscard
	}
}

func endDTInput(e *Engine, p *Packet, s *State, family Family) disposition {
	var proto uint8
	switch family {
	case FamilyIPv4:
		proto = nhIPIP
	case FamilyIPv6:
		proto = nhIPv6
	default:
		return pDiscard
	}
	if !decap(p, proto, e.co.HMAC) {
		return pDiscard
	}
	if family == FamilyIPv6 && !p.hasIPv6Header() {
		return pDiscard
	}
	if family == FamilyIPv4 && !hasIPv4Header(p) {
		return pDiscard
	}

	switch s.vrf.mode {
	case vrfModeLegacy:
		return e.route(p, RouteRequest{
			Dst:           innerDst(p, family),
			Family:        family,
			Table:         s.table,
			LocalDelivery: true,
		})
	case vrfModeDevice:
		if e.co.VRF == nil {
			return pDiscard
		}
		np, err := e.co.VRF.Receive(p, family, s.vrf.ifindex)
		if err != nil {
			return pDiscard
		}
		if np == nil {
			// Consumed by the VRF.
			return pForwarded
		}
		return e.route(np, RouteRequest{
			Dst:           innerDst(np, family),
			Family:        family,
			LocalDelivery: true,
		})
	default:
		return pDiscard
	}
}

func inputEndB6(e *Engine, proc int, p *Packet, s *State) disposition {
	if _, ok := getAndValidateSRH(p, e.co.HMAC); !ok {
		return pDiscard
	}
	if !insertSRHInline(p, s.srh) {
		return pDiscard
	}
	return e.route(p, RouteRequest{Dst: p.dstAddr(), Family: FamilyIPv6})
}

func inputEndB6Encap(e *Engine, proc int, p *Packet, s *State) disposition {
	off, ok := getAndValidateSRH(p, e.co.HMAC)
	if !ok {
		return pDiscard
	}
	advanceNextSeg(p, off)
	if !encapSRH(p, s.srh) {
		return pDiscard
	}
	return e.route(p, RouteRequest{Dst: p.dstAddr(), Family: FamilyIPv6})
}

func inputEndBPF(e *Engine, proc int, p *Packet, s *State) disposition {
	off, ok := getAndValidateSRH(p, e.co.HMAC)
	if !ok {
		return pDiscard
	}
	advanceNextSeg(p, off)

	slot := e.slot(proc)
	*slot = SRHSlot{
		SRHOffset: off,
		SRHLen:    slayers.RawLen(p.Data()[off:]),
		Valid:     true,
	}
	verdict, err := s.bpf.prog.Run(p, slot)
	if err != nil {
		return pDiscard
	}
	switch verdict {
	case VerdictOK, VerdictRedirect:
	default:
		return pDiscard
	}
	// The program may have rewritten the SRH through helpers; a cleared
	// valid flag forces revalidation.
	if !slot.Valid {
		if _, ok := getSRH(p); !ok {
			return pDiscard
		}
	}
	if verdict == VerdictRedirect {
		return pForwarded
	}
	return e.route(p, RouteRequest{Dst: p.dstAddr(), Family: FamilyIPv6})
}

func buildEndDT4(e *Engine, s *State) error {
	return buildVRFInfo(e, s, FamilyIPv4)
}

// buildEndDT6 accepts either the legacy table mode or the VRF mode,
// exclusively.
func buildEndDT6(e *Engine, s *State) error {
	hasTable := s.parsedOptional.has(AttrTable)
	hasVRF := s.parsedOptional.has(AttrVRFTable)
	if hasTable == hasVRF {
		return serrors.Join(ErrInvalid, nil, "reason", "table or vrftable must be specified")
	}
	if hasVRF {
		return buildVRFInfo(e, s, FamilyIPv6)
	}
	s.vrf = vrfInfo{table: s.table, family: FamilyIPv6, mode: vrfModeLegacy}
	return nil
}

func buildEndDT46(e *Engine, s *State) error {
	// The family is picked per packet.
	return buildVRFInfo(e, s, 0)
}

// buildVRFInfo resolves the VRF device for the configured table once, at
// build time. An unresolvable table or an unavailable strict-VRF mode fails
// the build.
func buildVRFInfo(e *Engine, s *State, family Family) error {
	if e.co.VRFTables == nil {
		return serrors.Join(ErrPermission, nil, "reason", "strict VRF mode unavailable")
	}
	ifindex, err := e.co.VRFTables.ByTable(s.vrf.table)
	if err != nil {
		if errors.Is(err, ErrPermission) {
			return err
		}
		return serrors.Join(ErrNoDevice, err, "vrftable", s.vrf.table)
	}
	s.vrf.ifindex = ifindex
	s.vrf.family = family
	s.vrf.mode = vrfModeDevice
	return nil
}

// hasIPv4Header reports whether the window starts with a minimal IPv4
// header.
func hasIPv4Header(p *Packet) bool {
	b := p.Data()
	return len(b) >= 20 && b[0]>>4 == 4
}

// innerDst reads the destination address of the decapsulated inner header.
func innerDst(p *Packet, family Family) netip.Addr {
	if family == FamilyIPv4 {
		b := p.Data()
		return netip.AddrFrom4([4]byte(b[16:20]))
	}
	return p.dstAddr()
}

// findUpperProto walks the extension chain and returns the first
// non-extension protocol.
func findUpperProto(p *Packet) (uint8, bool) {
	if !p.hasIPv6Header() {
		return 0, false
	}
	b := p.Data()
	nh := b[ipv6NextHdrOff]
	off := ipv6HdrLen
	for {
		switch nh {
		case nhHopByHop, nhRouting, nhDestOpts:
			if off+2 > len(b) {
				return 0, false
			}
			nh = b[off]
			off += (int(b[off+1]) + 1) * 8
		case nhFragment:
			if off+8 > len(b) {
				return 0, false
			}
			nh = b[off]
			off += 8
		case nhNone:
			return 0, false
		default:
			return nh, true
		}
		if off > len(b) {
			return 0, false
		}
	}
}
