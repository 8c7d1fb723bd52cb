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

// IPv6 fixed header field offsets.
const (
	ipv6HdrLen        = 40
	ipv6PayloadLenOff = 4
	ipv6NextHdrOff    = 6
	ipv6HopLimitOff   = 7
	ipv6SrcAddrOff    = 8
	ipv6DstAddrOff    = 24
)

// IPv6 extension header and tunnel protocol numbers.
const (
	nhHopByHop = 0
	nhIPIP     = 4
	nhIPv6     = 41
	nhRouting  = 43
	nhFragment = 44
	nhNone     = 59
	nhDestOpts = 60
	nhEthernet = 143
)

// CsumMode describes what checksum state a packet carries.
type CsumMode uint8

const (
	// CsumNone means no running checksum is maintained.
	CsumNone CsumMode = iota
	// CsumComplete means Packet.csum is the folded ones-complement sum of
	// the current data window and must be kept in sync by header edits.
	CsumComplete
)

// Packet is a writable view of one packet. The data window is a slice of the
// underlying buffer; bytes before the window are headroom available for
// prepends. Offsets of the network and transport headers are tracked across
// pulls, pushes and in-place shifts, mirroring the way the data path reasons
// about header positions.
type Packet struct {
	buf   []byte
	start int
	end   int

	// networkOff is the absolute offset of the IPv6 header.
	networkOff int
	// transportOff is the absolute offset of the transport header, or -1 if
	// not known.
	transportOff int

	csumMode CsumMode
	csum     uint16
}

// NewPacket copies raw into a fresh buffer with the given headroom and
// returns a packet whose network header is at the start of the window.
func NewPacket(raw []byte, headroom int) *Packet {
	buf := make([]byte, headroom+len(raw))
	copy(buf[headroom:], raw)
	return &Packet{
		buf:          buf,
		start:        headroom,
		end:          len(buf),
		networkOff:   headroom,
		transportOff: -1,
	}
}

// Data returns the current data window.
func (p *Packet) Data() []byte {
	return p.buf[p.start:p.end]
}

// Len returns the length of the data window.
func (p *Packet) Len() int {
	return p.end - p.start
}

// Headroom returns the bytes available for prepends.
func (p *Packet) Headroom() int {
	return p.start
}

// NetworkHeader returns the window from the network header to the end of the
// packet.
func (p *Packet) NetworkHeader() []byte {
	return p.buf[p.networkOff:p.end]
}

// TransportOffset returns the transport header offset relative to the data
// window, or -1 if not set.
func (p *Packet) TransportOffset() int {
	if p.transportOff < 0 {
		return -1
	}
	return p.transportOff - p.start
}

// SetTransportOffset records the transport header position, relative to the
// data window.
func (p *Packet) SetTransportOffset(off int) {
	p.transportOff = p.start + off
}

// EnableCsum switches the packet to CsumComplete mode with the sum computed
// over the current window.
func (p *Packet) EnableCsum() {
	p.csumMode = CsumComplete
	p.csum = slayers.Checksum(p.Data())
}

// Csum returns the running checksum and whether one is maintained.
func (p *Packet) Csum() (uint16, bool) {
	return p.csum, p.csumMode == CsumComplete
}

// pull advances the data window by n bytes, subtracting the removed bytes
// from the running checksum. The network header is reset to the new window
// start and the transport offset is invalidated.
func (p *Packet) pull(n int) bool {
	if n < 0 || p.start+n > p.end {
		return false
	}
	if p.csumMode == CsumComplete {
		p.csum = slayers.ChecksumSub(p.csum, slayers.Checksum(p.buf[p.start:p.start+n]))
	}
	p.start += n
	p.networkOff = p.start
	p.transportOff = p.start
	return true
}

// push grows the data window by n bytes at the front. The new bytes are
// zeroed; callers fill them in and must account for them in the running
// checksum themselves.
func (p *Packet) push(n int) bool {
	if n < 0 || n > p.start {
		return false
	}
	p.start -= n
	clear(p.buf[p.start : p.start+n])
	return true
}

// dstAddr reads the IPv6 destination address of the network header.
func (p *Packet) dstAddr() netip.Addr {
	var a [16]byte
	copy(a[:], p.buf[p.networkOff+ipv6DstAddrOff:])
	return netip.AddrFrom16(a)
}

// setDstAddr overwrites the IPv6 destination address in place, keeping the
// running checksum in sync.
func (p *Packet) setDstAddr(a netip.Addr) {
	dst := p.buf[p.networkOff+ipv6DstAddrOff : p.networkOff+ipv6DstAddrOff+16]
	if p.csumMode == CsumComplete {
		p.csum = slayers.ChecksumSub(p.csum, slayers.Checksum(dst))
	}
	b := a.As16()
	copy(dst, b[:])
	if p.csumMode == CsumComplete {
		p.csum = slayers.ChecksumCombine(p.csum, slayers.Checksum(dst))
	}
}

// payloadLen reads the IPv6 payload length field.
func (p *Packet) payloadLen() int {
	off := p.networkOff + ipv6PayloadLenOff
	return int(p.buf[off])<<8 | int(p.buf[off+1])
}

// replace2 overwrites the 16-bit big-endian word at the given absolute
// offset, updating the running checksum. The offset must be 2-byte aligned
// relative to the window start.
func (p *Packet) replace2(off int, val uint16) {
	old := uint16(p.buf[off])<<8 | uint16(p.buf[off+1])
	p.buf[off] = byte(val >> 8)
	p.buf[off+1] = byte(val)
	if p.csumMode == CsumComplete {
		p.csum = slayers.ChecksumCombine(slayers.ChecksumSub(p.csum, old), val)
	}
}

// hasIPv6Header reports whether the window holds at least an IPv6 header
// with version 6.
func (p *Packet) hasIPv6Header() bool {
	return p.end-p.networkOff >= ipv6HdrLen && p.buf[p.networkOff]>>4 == 6
}
