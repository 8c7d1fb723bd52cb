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

// Package slayers contains gopacket layers and raw-header helpers for the
// IPv6 Segment Routing Header.
package slayers

import (
	"encoding/binary"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/srv6proto/seg6/pkg/private/serrors"
)

const (
	// RoutingTypeSRH identifies the Segment Routing routing header subtype.
	RoutingTypeSRH = 4

	// srhFixedLen is the length of the SRH up to the first segment.
	srhFixedLen = 8

	// MinSRHLen is the minimum length of a useful SRH: the fixed part plus
	// one 128-bit segment.
	MinSRHLen = srhFixedLen + 16

	// FlagHMAC marks the presence of an HMAC TLV (RFC 8754, section 2).
	FlagHMAC = 1 << 3

	// Pad1 and PadN TLV types.
	tlvTypePad1 = 0

	// tlvTypeHMAC is the HMAC TLV type (RFC 8754, section 2.1.2).
	tlvTypeHMAC = 5
)

// SRH is the IPv6 Segment Routing Header (RFC 8754).
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|  Next Header  |  Hdr Ext Len  | Routing Type  | Segments Left |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|  Last Entry   |     Flags     |              Tag              |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|            Segment List[0..n] (128 bits each)                 |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	//          Optional Type Length Value objects (variable)      //
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type SRH struct {
	layers.BaseLayer
	NextHdr      uint8
	HdrExtLen    uint8 // in 8-octet units, not including the first 8 octets
	RoutingType  uint8
	SegmentsLeft uint8
	LastEntry    uint8
	Flags        uint8
	Tag          uint16
	// Segments is the segment list in wire order; Segments[0] is the last
	// segment of the path.
	Segments []netip.Addr
	// TLVBytes is the raw trailing TLV region, if any.
	TLVBytes []byte
}

func (s *SRH) LayerType() gopacket.LayerType {
	return LayerTypeSRH
}

func (s *SRH) CanDecode() gopacket.LayerClass {
	return LayerClassSRH
}

func (s *SRH) NextLayerType() gopacket.LayerType {
	return gopacket.LayerTypePayload
}

// Len returns the total wire length of the header in bytes.
func (s *SRH) Len() int {
	return (int(s.HdrExtLen) + 1) * 8
}

// CurrentSegment returns the segment addressed by SegmentsLeft.
func (s *SRH) CurrentSegment() netip.Addr {
	return s.Segments[s.SegmentsLeft]
}

// DecodeFromBytes implements the gopacket.DecodingLayer interface.
func (s *SRH) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < srhFixedLen {
		df.SetTruncated()
		return serrors.New("SRH shorter than fixed header", "len", len(data))
	}
	s.NextHdr = data[0]
	s.HdrExtLen = data[1]
	s.RoutingType = data[2]
	s.SegmentsLeft = data[3]
	s.LastEntry = data[4]
	s.Flags = data[5]
	s.Tag = binary.BigEndian.Uint16(data[6:8])

	hdrLen := s.Len()
	if hdrLen > len(data) {
		df.SetTruncated()
		return serrors.New("SRH length exceeds data", "hdr_len", hdrLen, "len", len(data))
	}
	if s.RoutingType != RoutingTypeSRH {
		return serrors.New("unexpected routing type", "type", s.RoutingType)
	}
	segEnd := srhFixedLen + 16*(int(s.LastEntry)+1)
	if segEnd > hdrLen {
		return serrors.New("segment list exceeds header",
			"last_entry", s.LastEntry, "hdr_len", hdrLen)
	}
	if int(s.SegmentsLeft) > int(s.LastEntry) {
		return serrors.New("segments left beyond last entry",
			"segments_left", s.SegmentsLeft, "last_entry", s.LastEntry)
	}
	s.Segments = s.Segments[:0]
	for off := srhFixedLen; off < segEnd; off += 16 {
		addr, _ := netip.AddrFromSlice(data[off : off+16])
		s.Segments = append(s.Segments, addr)
	}
	s.TLVBytes = data[segEnd:hdrLen]
	if err := validateTLVs(s.TLVBytes); err != nil {
		return err
	}
	s.BaseLayer = layers.BaseLayer{Contents: data[:hdrLen], Payload: data[hdrLen:]}
	return nil
}

// SerializeTo implements the gopacket.SerializableLayer interface.
func (s *SRH) SerializeTo(b gopacket.SerializeBuffer, opts gopacket.SerializeOptions) error {
	if opts.FixLengths {
		hdrLen := srhFixedLen + 16*len(s.Segments) + len(s.TLVBytes)
		if hdrLen%8 != 0 {
			return serrors.New("SRH length not a multiple of 8", "len", hdrLen)
		}
		s.HdrExtLen = uint8(hdrLen/8 - 1)
		s.LastEntry = uint8(len(s.Segments) - 1)
	}
	bytes, err := b.PrependBytes(s.Len())
	if err != nil {
		return err
	}
	bytes[0] = s.NextHdr
	bytes[1] = s.HdrExtLen
	bytes[2] = s.RoutingType
	bytes[3] = s.SegmentsLeft
	bytes[4] = s.LastEntry
	bytes[5] = s.Flags
	binary.BigEndian.PutUint16(bytes[6:8], s.Tag)
	for i, seg := range s.Segments {
		copy(bytes[srhFixedLen+16*i:], seg.AsSlice())
	}
	copy(bytes[srhFixedLen+16*len(s.Segments):], s.TLVBytes)
	return nil
}

func decodeSRH(data []byte, pb gopacket.PacketBuilder) error {
	s := &SRH{}
	if err := s.DecodeFromBytes(data, pb); err != nil {
		return err
	}
	pb.AddLayer(s)
	return pb.NextDecoder(s.NextLayerType())
}

// Raw-header helpers. The data path edits SRH bytes in place and cannot
// afford a full decode per packet.

// RawLen returns the total length encoded in the SRH starting at b. b must
// hold at least the two leading bytes.
func RawLen(b []byte) int {
	return (int(b[1]) + 1) * 8
}

// RawSegmentsLeft returns the Segments Left field of the SRH at b.
func RawSegmentsLeft(b []byte) uint8 {
	return b[3]
}

// RawNextHdr returns the Next Header field of the SRH at b.
func RawNextHdr(b []byte) uint8 {
	return b[0]
}

// RawSegment returns the 16-byte slice of segment i of the SRH at b. Bounds
// must have been validated beforehand.
func RawSegment(b []byte, i int) []byte {
	off := srhFixedLen + 16*i
	return b[off : off+16]
}

// RawHasHMAC reports whether the SRH at b advertises an HMAC TLV.
func RawHasHMAC(b []byte) bool {
	return b[5]&FlagHMAC != 0
}

// ValidateSRH structurally validates the SRH starting at b. It checks the
// routing type, that the full header and the segment list fit in b, that the
// header carries at least one segment, and that the trailing TLV region is
// well formed.
func ValidateSRH(b []byte) error {
	if len(b) < MinSRHLen {
		return serrors.New("SRH too short", "len", len(b))
	}
	if b[2] != RoutingTypeSRH {
		return serrors.New("not an SRH", "routing_type", b[2])
	}
	hdrLen := RawLen(b)
	if hdrLen < MinSRHLen || hdrLen > len(b) {
		return serrors.New("bad SRH length", "hdr_len", hdrLen, "len", len(b))
	}
	lastEntry := int(b[4])
	segEnd := srhFixedLen + 16*(lastEntry+1)
	if segEnd > hdrLen {
		return serrors.New("segment list exceeds header",
			"last_entry", lastEntry, "hdr_len", hdrLen)
	}
	if int(b[3]) > lastEntry {
		return serrors.New("segments left beyond last entry",
			"segments_left", b[3], "last_entry", lastEntry)
	}
	return validateTLVs(b[segEnd:hdrLen])
}

func validateTLVs(b []byte) error {
	for off := 0; off < len(b); {
		if b[off] == tlvTypePad1 {
			off++
			continue
		}
		if off+2 > len(b) {
			return serrors.New("truncated TLV header", "offset", off)
		}
		off += 2 + int(b[off+1])
		if off > len(b) {
			return serrors.New("TLV exceeds header", "offset", off)
		}
	}
	return nil
}
