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
	"fmt"
	"net/netip"
	"strings"

	"github.com/srv6proto/seg6/pkg/private/serrors"
	"github.com/srv6proto/seg6/pkg/slayers"
)

// FlavorOps is the bitmask of flavor operations configured on a tunnel. The
// bit positions follow the configuration ABI: bit n stands for operation n.
type FlavorOps uint32

const (
	FlavorPSP      FlavorOps = 1 << 1
	FlavorUSP      FlavorOps = 1 << 2
	FlavorUSD      FlavorOps = 1 << 3
	FlavorNextCSID FlavorOps = 1 << 4
)

func (f FlavorOps) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, e := range []struct {
		op   FlavorOps
		name string
	}{
		{FlavorPSP, "psp"},
		{FlavorUSP, "usp"},
		{FlavorUSD, "usd"},
		{FlavorNextCSID, "next-csid"},
	} {
		if f&e.op != 0 {
			names = append(names, e.name)
			f &^= e.op
		}
	}
	if f != 0 {
		names = append(names, fmt.Sprintf("unknown(%#x)", uint32(f)))
	}
	return strings.Join(names, ",")
}

// Default NEXT-C-SID geometry when the lengths are not supplied.
const (
	defaultLCBlockBits  = 32
	defaultLCNodeFnBits = 16
)

// validateFlavors checks the flavor configuration against the behavior's
// supported set and, for NEXT-C-SID, the SID geometry.
func validateFlavors(desc *actionDesc, fi *FlavorInfo) error {
	if fi.Ops == 0 {
		return serrors.Join(ErrInvalid, nil, "reason", "empty flavor operation")
	}
	if bad := fi.Ops &^ desc.flavorOps; bad != 0 {
		return serrors.Join(ErrNotSupported, nil,
			"reason", "unsupported flavor operation",
			"behavior", desc.action, "ops", uint32(bad))
	}
	if fi.Ops&FlavorNextCSID != 0 {
		if err := validateCSIDGeometry(fi.LCBlockBits, fi.LCNodeFnBits); err != nil {
			return err
		}
	}
	return nil
}

func validateCSIDGeometry(blockBits, nodeBits uint8) error {
	check := func(name string, v uint8) error {
		if v == 0 || v > 120 || v%8 != 0 {
			return serrors.Join(ErrInvalid, nil,
				"reason", "bad NEXT-C-SID geometry", name, v)
		}
		return nil
	}
	if err := check("lcblock_bits", blockBits); err != nil {
		return err
	}
	if err := check("lcnode_fn_bits", nodeBits); err != nil {
		return err
	}
	if int(blockBits)+int(nodeBits) > 128 {
		return serrors.Join(ErrInvalid, nil,
			"reason", "NEXT-C-SID geometry exceeds address width",
			"lcblock_bits", blockBits, "lcnode_fn_bits", nodeBits)
	}
	return nil
}

// csidArgZero reports whether the SID argument is exhausted: all address
// bytes past the Locator-Block and Locator-Node Function are zero.
func csidArgZero(daddr []byte, fi FlavorInfo) bool {
	off := int(fi.LCBlockBits/8) + int(fi.LCNodeFnBits/8)
	for _, b := range daddr[off:] {
		if b != 0 {
			return false
		}
	}
	return true
}

// csidAdvance shifts the SID argument into the Locator-Node Function
// position: the next compressed SID becomes the active one. The SRH is not
// touched.
func csidAdvance(p *Packet, fi FlavorInfo) {
	bb := int(fi.LCBlockBits / 8)
	fb := int(fi.LCNodeFnBits / 8)
	daddr := p.dstAddr().As16()
	copy(daddr[bb:16-fb], daddr[bb+fb:])
	clear(daddr[16-fb:])
	p.setDstAddr(netip.AddrFrom16(daddr))
}

// pktInfo classifies a packet by the state of its segment list.
type pktInfo uint8

const (
	pinfoNoSRH pktInfo = iota
	pinfoSLZero
	pinfoSLOne
	pinfoSLMore
)

// classifyPkt locates and validates the SRH and classifies the packet. A
// missing or malformed SRH classifies as pinfoNoSRH; the offset is only
// meaningful for the other classes.
func classifyPkt(p *Packet) (pktInfo, int) {
	off, ok := getSRH(p)
	if !ok {
		return pinfoNoSRH, 0
	}
	switch slayers.RawSegmentsLeft(p.Data()[off:]) {
	case 0:
		return pinfoSLZero, off
	case 1:
		return pinfoSLOne, off
	default:
		return pinfoSLMore, off
	}
}

// flavorAction is one entry of the flavor decision table. srhOff is the
// validated SRH offset from classification.
type flavorAction func(e *Engine, p *Packet, s *State, srhOff int) disposition

// The End decision table covers the PSP bit; NEXT-C-SID is resolved before
// the table is consulted. The index combines the packet class with the
// flavor bits the behavior routes through the table.
const endFlavorTableBits = 1

func endFlavorIndex(pinfo pktInfo, ops FlavorOps) int {
	psp := 0
	if ops&FlavorPSP != 0 {
		psp = 1
	}
	return int(pinfo)<<endFlavorTableBits | psp
}

// endFlavorTable maps (packet class, PSP) to the rewrite to perform. Missing
// entries drop the packet.
var endFlavorTable = newEndFlavorTable()

func newEndFlavorTable() [8]flavorAction {
	var t [8]flavorAction
	t[endFlavorIndex(pinfoSLMore, FlavorPSP)] = endFlavorCore
	t[endFlavorIndex(pinfoSLOne, FlavorPSP)] = endFlavorCorePSP
	return t
}

// endFlavorCore is the regular End rewrite reached through the table: the
// SRH is already validated, so only the HMAC precondition remains.
func endFlavorCore(e *Engine, p *Packet, s *State, srhOff int) disposition {
	srh := p.Data()[srhOff:]
	if slayers.RawHasHMAC(srh) && e.co.HMAC != nil {
		if err := e.co.HMAC.Verify(p, srh[:slayers.RawLen(srh)]); err != nil {
			return pDiscard
		}
	}
	advanceNextSeg(p, srhOff)
	return e.route(p, RouteRequest{Dst: p.dstAddr(), Family: FamilyIPv6})
}

// endFlavorCorePSP advances onto the last segment and then pops the SRH, so
// the final hop receives a plain IPv6 packet.
func endFlavorCorePSP(e *Engine, p *Packet, s *State, srhOff int) disposition {
	srh := p.Data()[srhOff:]
	if slayers.RawHasHMAC(srh) && e.co.HMAC != nil {
		if err := e.co.HMAC.Verify(p, srh[:slayers.RawLen(srh)]); err != nil {
			return pDiscard
		}
	}
	advanceNextSeg(p, srhOff)
	if !popSRH(p, srhOff) {
		return pDiscard
	}
	return e.route(p, RouteRequest{Dst: p.dstAddr(), Family: FamilyIPv6})
}
