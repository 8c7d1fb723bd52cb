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

package localsid_test

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/stretchr/testify/require"

	"github.com/srv6proto/seg6/localsid"
	"github.com/srv6proto/seg6/pkg/slayers"
)

const testHeadroom = 128

// rawSRH serializes an SRH carrying the given segments in wire order.
func rawSRH(t *testing.T, nextHdr uint8, segmentsLeft uint8, segs ...string) []byte {
	t.Helper()
	s := &slayers.SRH{
		NextHdr:      nextHdr,
		RoutingType:  slayers.RoutingTypeSRH,
		SegmentsLeft: segmentsLeft,
	}
	for _, seg := range segs {
		s.Segments = append(s.Segments, netip.MustParseAddr(seg))
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, s.SerializeTo(buf, gopacket.SerializeOptions{FixLengths: true}))
	return buf.Bytes()
}

// rawIPv6 builds a fixed IPv6 header followed by the payload.
func rawIPv6(t *testing.T, nextHdr uint8, dst string, payload []byte) []byte {
	t.Helper()
	b := make([]byte, 40+len(payload))
	b[0] = 0x60
	binary.BigEndian.PutUint16(b[4:6], uint16(len(payload)))
	b[6] = nextHdr
	b[7] = 64
	src := netip.MustParseAddr("2001:db8:aaaa::1").As16()
	copy(b[8:24], src[:])
	d := netip.MustParseAddr(dst).As16()
	copy(b[24:40], d[:])
	copy(b[40:], payload)
	return b
}

// rawIPv4 builds a minimal IPv4 header followed by the payload.
func rawIPv4(t *testing.T, dst string, payload []byte) []byte {
	t.Helper()
	b := make([]byte, 20+len(payload))
	b[0] = 0x45
	binary.BigEndian.PutUint16(b[2:4], uint16(20+len(payload)))
	b[8] = 64
	b[9] = 17 // UDP
	src := netip.MustParseAddr("192.0.2.1").As4()
	copy(b[12:16], src[:])
	d := netip.MustParseAddr(dst).As4()
	copy(b[16:20], d[:])
	copy(b[20:], payload)
	return b
}

// srhPacket builds an IPv6 packet whose first extension header is the given
// SRH, followed by the payload bytes under the given inner protocol.
func srhPacket(t *testing.T, dst string, srh []byte, payload []byte) *localsid.Packet {
	t.Helper()
	body := append(append([]byte{}, srh...), payload...)
	return localsid.NewPacket(rawIPv6(t, 43, dst, body), testHeadroom)
}

type fakeRouter struct {
	reqs []localsid.RouteRequest
	pkts []*localsid.Packet
	err  error
}

func (r *fakeRouter) Route(p *localsid.Packet, req localsid.RouteRequest) error {
	if r.err != nil {
		return r.err
	}
	r.reqs = append(r.reqs, req)
	r.pkts = append(r.pkts, p)
	return nil
}

type fakeVRFResolver map[uint32]int

func (r fakeVRFResolver) ByTable(table uint32) (int, error) {
	ifindex, ok := r[table]
	if !ok {
		return 0, localsid.ErrNoDevice
	}
	return ifindex, nil
}

type fakeVRF struct {
	family  localsid.Family
	ifindex int
	consume bool
	calls   int
}

func (v *fakeVRF) Receive(
	p *localsid.Packet,
	family localsid.Family,
	ifindex int,
) (*localsid.Packet, error) {

	v.family = family
	v.ifindex = ifindex
	v.calls++
	if v.consume {
		return nil, nil
	}
	return p, nil
}

type fakeLink struct {
	dev    localsid.Device
	frames [][]byte
}

func (l *fakeLink) Device(ifindex int) (localsid.Device, bool) {
	if ifindex != l.dev.Index {
		return localsid.Device{}, false
	}
	return l.dev, true
}

func (l *fakeLink) Transmit(ifindex int, frame []byte) error {
	l.frames = append(l.frames, append([]byte{}, frame...))
	return nil
}

type fakeProgram struct {
	verdict    localsid.Verdict
	invalidate bool
	runs       int
	closed     int
}

func (f *fakeProgram) Run(p *localsid.Packet, slot *localsid.SRHSlot) (localsid.Verdict, error) {
	f.runs++
	if f.invalidate {
		slot.Valid = false
	}
	return f.verdict, nil
}

func (f *fakeProgram) Close() error {
	f.closed++
	return nil
}

type fakeResolver struct {
	progs map[int]*fakeProgram
}

func (r *fakeResolver) Resolve(fd int) (localsid.Program, error) {
	p, ok := r.progs[fd]
	if !ok {
		return nil, localsid.ErrInvalid
	}
	return p, nil
}
