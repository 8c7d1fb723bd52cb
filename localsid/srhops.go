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
	"net/netip"

	"github.com/srv6proto/seg6/pkg/slayers"
)

// findExtHdr walks the IPv6 extension-header chain of b (which must start at
// the IPv6 header) looking for the first header with protocol target. It
// returns the offset of that header and the offset of the next-header field
// that points at it. The walk stops at the first non-extension protocol.
func findExtHdr(b []byte, target uint8) (off int, nhOff int, ok bool) {
	if len(b) < ipv6HdrLen {
		return 0, 0, false
	}
	nhOff = ipv6NextHdrOff
	nh := b[nhOff]
	off = ipv6HdrLen
	for {
		if nh == target {
			return off, nhOff, true
		}
		switch nh {
		case nhHopByHop, nhRouting, nhDestOpts:
			if off+2 > len(b) {
				return 0, 0, false
			}
			nhOff = off
			nh = b[off]
			off += (int(b[off+1]) + 1) * 8
		case nhFragment:
			if off+8 > len(b) {
				return 0, 0, false
			}
			nhOff = off
			nh = b[off]
			off += 8
		default:
			return 0, 0, false
		}
		if off > len(b) {
			return 0, 0, false
		}
	}
}

// getSRH locates the SRH in the packet and structurally validates it. The
// returned offset is relative to the data window.
func getSRH(p *Packet) (int, bool) {
	if !p.hasIPv6Header() {
		return 0, false
	}
	data := p.Data()
	off, _, ok := findExtHdr(data, nhRouting)
	if !ok || off+slayers.MinSRHLen > len(data) {
		return 0, false
	}
	srhLen := slayers.RawLen(data[off:])
	if off+srhLen > len(data) {
		return 0, false
	}
	if err := slayers.ValidateSRH(data[off : off+srhLen]); err != nil {
		return 0, false
	}
	return off, true
}

// getAndValidateSRH is getSRH plus the two data-path preconditions of the
// advancing behaviors: the segment list must not be exhausted, and an HMAC
// TLV, when advertised, must verify.
func getAndValidateSRH(p *Packet, hmac HMACVerifier) (int, bool) {
	off, ok := getSRH(p)
	if !ok {
		return 0, false
	}
	srh := p.Data()[off:]
	if slayers.RawSegmentsLeft(srh) == 0 {
		return 0, false
	}
	if slayers.RawHasHMAC(srh) && hmac != nil {
		if err := hmac.Verify(p, srh[:slayers.RawLen(srh)]); err != nil {
			return 0, false
		}
	}
	return off, true
}

// advanceNextSeg decrements segments_left and copies the new current segment
// into the destination address. The SRH at srhOff must have been validated
// with segments_left > 0.
func advanceNextSeg(p *Packet, srhOff int) {
	data := p.Data()
	sl := slayers.RawSegmentsLeft(data[srhOff:]) - 1
	// The segments-left byte shares a 16-bit word with the routing type.
	p.replace2(p.start+srhOff+2, uint16(data[srhOff+2])<<8|uint16(sl))
	var seg [16]byte
	copy(seg[:], slayers.RawSegment(data[srhOff:], int(sl)))
	p.setDstAddr(netip.AddrFrom16(seg))
}

// popSRH removes the SRH at srhOff from the packet, shifting the preceding
// headers forward over it and patching the header chain. It returns false,
// leaving the packet unchanged, on any bounds or chain violation, or when
// the transport header falls strictly inside the SRH and could not be
// restored after the shift.
func popSRH(p *Packet, srhOff int) bool {
	data := p.Data()
	if srhOff < ipv6HdrLen || srhOff+slayers.MinSRHLen > len(data) {
		return false
	}
	srhLen := slayers.RawLen(data[srhOff:])
	if srhOff+srhLen > len(data) {
		return false
	}
	tOff := p.TransportOffset()
	if tOff > srhOff && tOff < srhOff+srhLen {
		return false
	}
	off, nhOff, ok := findExtHdr(data, nhRouting)
	if !ok || off != srhOff {
		return false
	}
	nextProto := slayers.RawNextHdr(data[srhOff:])

	// Patch the preceding next-header field while offsets are still valid.
	// Extension headers start on 8-byte boundaries and the IPv6 next-header
	// field sits at offset 6, so the field is always the high byte of an
	// aligned 16-bit word.
	p.replace2(p.start+nhOff, uint16(nextProto)<<8|uint16(data[nhOff+1]))

	if p.csumMode == CsumComplete {
		p.csum = slayers.ChecksumSub(p.csum, slayers.Checksum(data[srhOff:srhOff+srhLen]))
	}

	// Shift the leading headers forward over the SRH.
	copy(p.buf[p.start+srhLen:p.start+srhLen+srhOff], p.buf[p.start:p.start+srhOff])
	p.start += srhLen
	p.networkOff = p.start
	if tOff >= 0 {
		if tOff >= srhOff+srhLen {
			p.SetTransportOffset(tOff - srhLen)
		} else {
			p.SetTransportOffset(tOff)
		}
	}
	p.replace2(p.networkOff+ipv6PayloadLenOff, uint16(p.payloadLen()-srhLen))
	return true
}

// decap strips the outer IPv6 header and its extension chain down to the
// first header of the given protocol. An outer SRH, if present, must be
// fully consumed (segments_left == 0) and must pass HMAC verification when
// it advertises one.
func decap(p *Packet, proto uint8, hmac HMACVerifier) bool {
	if !p.hasIPv6Header() {
		return false
	}
	data := p.Data()
	if srhOff, _, ok := findExtHdr(data, nhRouting); ok {
		if srhOff+slayers.MinSRHLen > len(data) {
			return false
		}
		srhLen := slayers.RawLen(data[srhOff:])
		if srhOff+srhLen > len(data) {
			return false
		}
		srh := data[srhOff : srhOff+srhLen]
		if err := slayers.ValidateSRH(srh); err != nil {
			return false
		}
		if slayers.RawSegmentsLeft(srh) > 0 {
			return false
		}
		if slayers.RawHasHMAC(srh) && hmac != nil {
			if err := hmac.Verify(p, srh); err != nil {
				return false
			}
		}
	}
	off, _, ok := findExtHdr(data, proto)
	if !ok {
		return false
	}
	return p.pull(off)
}

// insertSRHInline splices the configured SRH between the IPv6 header and the
// rest of the packet. The original destination address is preserved as the
// final segment of the inserted header and the destination is rewritten to
// the inserted header's current segment.
func insertSRHInline(p *Packet, srh []byte) bool {
	if !p.hasIPv6Header() {
		return false
	}
	srhLen := len(srh)
	if !p.push(srhLen) {
		return false
	}
	// Move the IPv6 header to the new front; the gap left behind receives
	// the new SRH.
	copy(p.buf[p.start:p.start+ipv6HdrLen], p.buf[p.start+srhLen:p.start+srhLen+ipv6HdrLen])
	p.networkOff = p.start
	hdr := p.buf[p.start : p.start+ipv6HdrLen]
	isrh := p.buf[p.start+ipv6HdrLen : p.start+ipv6HdrLen+srhLen]
	copy(isrh, srh)

	isrh[0] = hdr[ipv6NextHdrOff]
	hdr[ipv6NextHdrOff] = nhRouting

	// The original destination becomes the last segment of the splice.
	copy(slayers.RawSegment(isrh, 0), hdr[ipv6DstAddrOff:ipv6DstAddrOff+16])

	sl := int(slayers.RawSegmentsLeft(isrh))
	copy(hdr[ipv6DstAddrOff:ipv6DstAddrOff+16], slayers.RawSegment(isrh, sl))

	pl := p.Len() - ipv6HdrLen
	hdr[ipv6PayloadLenOff] = byte(pl >> 8)
	hdr[ipv6PayloadLenOff+1] = byte(pl)

	p.SetTransportOffset(ipv6HdrLen)
	if p.csumMode == CsumComplete {
		p.EnableCsum()
	}
	return true
}

// encapSRH wraps the packet in a fresh outer IPv6 header carrying the
// configured SRH as its routing extension. Traffic class, hop limit and
// source address are inherited from the inner header; the flow label is
// cleared. The destination is the outer SRH's current segment.
func encapSRH(p *Packet, srh []byte) bool {
	if !p.hasIPv6Header() {
		return false
	}
	srhLen := len(srh)
	inner := p.Data()[:ipv6HdrLen]
	var innerHdr [ipv6HdrLen]byte
	copy(innerHdr[:], inner)

	if !p.push(ipv6HdrLen + srhLen) {
		return false
	}
	p.networkOff = p.start
	hdr := p.buf[p.start : p.start+ipv6HdrLen]
	osrh := p.buf[p.start+ipv6HdrLen : p.start+ipv6HdrLen+srhLen]

	copy(hdr, innerHdr[:])
	// Clear the flow label; the outer flow is a new one.
	hdr[1] &= 0xf0
	hdr[2] = 0
	hdr[3] = 0
	hdr[ipv6NextHdrOff] = nhRouting
	pl := p.Len() - ipv6HdrLen
	hdr[ipv6PayloadLenOff] = byte(pl >> 8)
	hdr[ipv6PayloadLenOff+1] = byte(pl)

	copy(osrh, srh)
	osrh[0] = nhIPv6

	sl := int(slayers.RawSegmentsLeft(osrh))
	copy(hdr[ipv6DstAddrOff:ipv6DstAddrOff+16], slayers.RawSegment(osrh, sl))

	p.SetTransportOffset(ipv6HdrLen)
	if p.csumMode == CsumComplete {
		p.EnableCsum()
	}
	return true
}
