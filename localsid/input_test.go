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
	"net/netip"
	"testing"

	"github.com/mdlayher/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srv6proto/seg6/localsid"
	"github.com/srv6proto/seg6/pkg/slayers"
)

func mustBuild(t *testing.T, e *localsid.Engine, msg []byte) *localsid.State {
	t.Helper()
	s, err := e.BuildState(msg)
	require.NoError(t, err)
	t.Cleanup(s.Destroy)
	return s
}

func TestInputEndAdvance(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEnd, nil))

	srh := rawSRH(t, 59, 2, "2001:db8::", "2001:db8::1", "2001:db8::2")
	p := srhPacket(t, "2001:db8::bad", srh, nil)
	before := append([]byte{}, p.Data()...)

	require.NoError(t, e.Process(0, p, s))

	require.Len(t, router.reqs, 1)
	assert.Equal(t, netip.MustParseAddr("2001:db8::1"), router.reqs[0].Dst)
	assert.Equal(t, localsid.FamilyIPv6, router.reqs[0].Family)
	assert.Zero(t, router.reqs[0].Table)

	assert.Equal(t, netip.MustParseAddr("2001:db8::1"), p.DstAddr())
	off, ok := localsid.GetSRH(p)
	require.True(t, ok)
	assert.Equal(t, uint8(1), slayers.RawSegmentsLeft(p.Data()[off:]))
	// Within the SRH only segments-left changes.
	assert.Equal(t, before[40:40+3], p.Data()[40:40+3])
	assert.Equal(t, before[40+4:], p.Data()[40+4:])
}

func TestInputEndNoSRH(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEnd, nil))

	p := localsid.NewPacket(rawIPv6(t, 59, "2001:db8::1", nil), testHeadroom)
	assert.ErrorIs(t, e.Process(0, p, s), localsid.ErrInvalid)
	assert.Empty(t, router.reqs)
}

func TestInputEndPSP(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEnd,
		func(ae *netlink.AttributeEncoder) { addFlavors(ae, localsid.FlavorPSP) }))

	payload := []byte{1, 2, 3, 4}
	srh := rawSRH(t, 17, 1, "2001:db8::", "2001:db8::1")
	p := srhPacket(t, "2001:db8::bad", srh, payload)
	inPayloadLen := p.PayloadLen()

	require.NoError(t, e.Process(0, p, s))

	require.Len(t, router.reqs, 1)
	assert.Equal(t, netip.MustParseAddr("2001:db8::"), router.reqs[0].Dst)

	out := p.Data()
	assert.Equal(t, uint8(17), out[6], "the SRH successor takes its place in the chain")
	assert.Equal(t, inPayloadLen-len(srh), p.PayloadLen())
	_, ok := localsid.GetSRH(p)
	assert.False(t, ok)
	assert.Equal(t, payload, out[len(out)-len(payload):])
}

func TestInputEndPSPMoreSegments(t *testing.T) {
	// With more than one segment pending, PSP behaves as plain End.
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEnd,
		func(ae *netlink.AttributeEncoder) { addFlavors(ae, localsid.FlavorPSP) }))

	srh := rawSRH(t, 59, 2, "2001:db8::", "2001:db8::1", "2001:db8::2")
	p := srhPacket(t, "2001:db8::bad", srh, nil)

	require.NoError(t, e.Process(0, p, s))
	off, ok := localsid.GetSRH(p)
	require.True(t, ok, "the SRH must survive a non-penultimate hop")
	assert.Equal(t, uint8(1), slayers.RawSegmentsLeft(p.Data()[off:]))
}

func TestInputEndPSPExhausted(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEnd,
		func(ae *netlink.AttributeEncoder) { addFlavors(ae, localsid.FlavorPSP) }))

	srh := rawSRH(t, 59, 0, "2001:db8::")
	p := srhPacket(t, "2001:db8::", srh, nil)
	assert.ErrorIs(t, e.Process(0, p, s), localsid.ErrInvalid)
	assert.Empty(t, router.reqs)
}

func TestInputEndNextCSID(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEnd,
		func(ae *netlink.AttributeEncoder) {
			addFlavors(ae, localsid.FlavorNextCSID, 48, 16)
		}))

	srh := rawSRH(t, 59, 1, "2001:db8::", "2001:db8::1")
	p := srhPacket(t, "fc00:0:1:2:3::", srh, nil)
	before := append([]byte{}, p.Data()[40:]...)

	require.NoError(t, e.Process(0, p, s))

	require.Len(t, router.reqs, 1)
	assert.Equal(t, netip.MustParseAddr("fc00:0:1:3::"), router.reqs[0].Dst)
	assert.Equal(t, before, p.Data()[40:], "the SRH must be untouched")
}

func TestInputEndNextCSIDExhaustedArg(t *testing.T) {
	// A zero argument falls through to the regular End rewrite.
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEnd,
		func(ae *netlink.AttributeEncoder) {
			addFlavors(ae, localsid.FlavorNextCSID, 48, 16)
		}))

	srh := rawSRH(t, 59, 1, "2001:db8::", "2001:db8::1")
	p := srhPacket(t, "fc00:0:1::", srh, nil)

	require.NoError(t, e.Process(0, p, s))
	require.Len(t, router.reqs, 1)
	assert.Equal(t, netip.MustParseAddr("2001:db8::"), router.reqs[0].Dst)
	off, ok := localsid.GetSRH(p)
	require.True(t, ok)
	assert.Equal(t, uint8(0), slayers.RawSegmentsLeft(p.Data()[off:]))
}

func TestInputEndX(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEndX,
		func(ae *netlink.AttributeEncoder) {
			addNH6(ae, "fe80::9")
			ae.Uint32(localsid.AttrOIF, 3)
		}))

	srh := rawSRH(t, 59, 1, "2001:db8::", "2001:db8::1")
	p := srhPacket(t, "2001:db8::bad", srh, nil)

	require.NoError(t, e.Process(0, p, s))
	require.Len(t, router.reqs, 1)
	assert.Equal(t, netip.MustParseAddr("fe80::9"), router.reqs[0].Dst)
	assert.Equal(t, 3, router.reqs[0].OutIface)
	assert.Equal(t, netip.MustParseAddr("2001:db8::"), p.DstAddr())
}

func TestInputEndT(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEndT,
		func(ae *netlink.AttributeEncoder) { ae.Uint32(localsid.AttrTable, 200) }))

	srh := rawSRH(t, 59, 1, "2001:db8::", "2001:db8::1")
	p := srhPacket(t, "2001:db8::bad", srh, nil)

	require.NoError(t, e.Process(0, p, s))
	require.Len(t, router.reqs, 1)
	assert.Equal(t, uint32(200), router.reqs[0].Table)
	assert.Equal(t, netip.MustParseAddr("2001:db8::"), router.reqs[0].Dst)
}

func ethFrame(size int) []byte {
	frame := make([]byte, size)
	frame[12] = 0x08 // IPv4 EtherType
	return frame
}

func TestInputEndDX2(t *testing.T) {
	dev := localsid.Device{Index: 9, MTU: 1500, Ethernet: true, Up: true, Carrier: true}
	msg := func(t *testing.T) []byte {
		return buildMsg(t, localsid.ActionEndDX2, func(ae *netlink.AttributeEncoder) {
			ae.Uint32(localsid.AttrOIF, 9)
			addCounters(ae)
		})
	}

	t.Run("forwarded", func(t *testing.T) {
		link := &fakeLink{dev: dev}
		e := newTestEngine(localsid.Collaborators{Link: link})
		s := mustBuild(t, e, msg(t))

		frame := ethFrame(100)
		p := localsid.NewPacket(rawIPv6(t, 143, "2001:db8::1", frame), testHeadroom)
		require.NoError(t, e.Process(0, p, s))
		require.Len(t, link.frames, 1)
		assert.Equal(t, frame, link.frames[0])
	})

	t.Run("mtu exceeded", func(t *testing.T) {
		link := &fakeLink{dev: dev}
		e := newTestEngine(localsid.Collaborators{Link: link})
		s := mustBuild(t, e, msg(t))

		p := localsid.NewPacket(rawIPv6(t, 143, "2001:db8::1", ethFrame(2000)), testHeadroom)
		assert.ErrorIs(t, e.Process(0, p, s), localsid.ErrInvalid)
		assert.Empty(t, link.frames)

		snap, ok := s.Counters()
		require.True(t, ok)
		assert.Equal(t, uint64(1), snap.Errors)
		assert.Zero(t, snap.Packets)
		assert.Zero(t, snap.Bytes)
	})

	t.Run("not an ethertype", func(t *testing.T) {
		link := &fakeLink{dev: dev}
		e := newTestEngine(localsid.Collaborators{Link: link})
		s := mustBuild(t, e, msg(t))

		frame := ethFrame(100)
		frame[12], frame[13] = 0x00, 0x40 // 802.3 length field
		p := localsid.NewPacket(rawIPv6(t, 143, "2001:db8::1", frame), testHeadroom)
		assert.ErrorIs(t, e.Process(0, p, s), localsid.ErrInvalid)
	})

	t.Run("device down", func(t *testing.T) {
		down := dev
		down.Up = false
		link := &fakeLink{dev: down}
		e := newTestEngine(localsid.Collaborators{Link: link})
		s := mustBuild(t, e, msg(t))

		p := localsid.NewPacket(rawIPv6(t, 143, "2001:db8::1", ethFrame(100)), testHeadroom)
		assert.ErrorIs(t, e.Process(0, p, s), localsid.ErrInvalid)
	})
}

func TestInputEndDX6(t *testing.T) {
	inner := rawIPv6(t, 59, "2001:db8:dead::1", nil)

	t.Run("configured next hop", func(t *testing.T) {
		router := &fakeRouter{}
		e := newTestEngine(localsid.Collaborators{Router: router})
		s := mustBuild(t, e, buildMsg(t, localsid.ActionEndDX6,
			func(ae *netlink.AttributeEncoder) { addNH6(ae, "fe80::9") }))

		p := localsid.NewPacket(rawIPv6(t, 41, "2001:db8::1", inner), testHeadroom)
		require.NoError(t, e.Process(0, p, s))
		require.Len(t, router.reqs, 1)
		assert.Equal(t, netip.MustParseAddr("fe80::9"), router.reqs[0].Dst)
		assert.Equal(t, inner, p.Data())
	})

	t.Run("unspecified next hop uses inner destination", func(t *testing.T) {
		router := &fakeRouter{}
		e := newTestEngine(localsid.Collaborators{Router: router})
		s := mustBuild(t, e, buildMsg(t, localsid.ActionEndDX6,
			func(ae *netlink.AttributeEncoder) { addNH6(ae, "::") }))

		p := localsid.NewPacket(rawIPv6(t, 41, "2001:db8::1", inner), testHeadroom)
		require.NoError(t, e.Process(0, p, s))
		require.Len(t, router.reqs, 1)
		assert.Equal(t, netip.MustParseAddr("2001:db8:dead::1"), router.reqs[0].Dst)
	})
}

func TestInputEndDX4(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	msg := buildMsg(t, localsid.ActionEndDX4, func(ae *netlink.AttributeEncoder) {
		nh := netip.MustParseAddr("192.0.2.9").As4()
		ae.Bytes(localsid.AttrNH4, nh[:])
	})
	s := mustBuild(t, e, msg)

	inner := rawIPv4(t, "198.51.100.1", []byte{1, 2, 3})
	p := localsid.NewPacket(rawIPv6(t, 4, "2001:db8::1", inner), testHeadroom)

	require.NoError(t, e.Process(0, p, s))
	require.Len(t, router.reqs, 1)
	assert.Equal(t, netip.MustParseAddr("192.0.2.9"), router.reqs[0].Dst)
	assert.Equal(t, localsid.FamilyIPv4, router.reqs[0].Family)
	assert.Equal(t, inner, p.Data())
}

func TestInputEndDT6VRFMode(t *testing.T) {
	inner := rawIPv6(t, 59, "2001:db8:dead::1", make([]byte, 60))
	msg := func(t *testing.T) []byte {
		return buildMsg(t, localsid.ActionEndDT6, func(ae *netlink.AttributeEncoder) {
			ae.Uint32(localsid.AttrVRFTable, 100)
		})
	}

	t.Run("returned for lookup", func(t *testing.T) {
		router := &fakeRouter{}
		vrf := &fakeVRF{}
		e := newTestEngine(localsid.Collaborators{
			Router:    router,
			VRF:       vrf,
			VRFTables: fakeVRFResolver{100: 7},
		})
		s := mustBuild(t, e, msg(t))

		p := localsid.NewPacket(rawIPv6(t, 41, "2001:db8::1", inner), testHeadroom)
		require.NoError(t, e.Process(0, p, s))

		assert.Equal(t, 1, vrf.calls)
		assert.Equal(t, 7, vrf.ifindex)
		assert.Equal(t, localsid.FamilyIPv6, vrf.family)

		require.Len(t, router.reqs, 1)
		assert.Equal(t, netip.MustParseAddr("2001:db8:dead::1"), router.reqs[0].Dst)
		assert.True(t, router.reqs[0].LocalDelivery)
		assert.Zero(t, router.reqs[0].Table, "the VRF scopes the lookup, not an explicit table")
	})

	t.Run("consumed by the vrf", func(t *testing.T) {
		router := &fakeRouter{}
		vrf := &fakeVRF{consume: true}
		e := newTestEngine(localsid.Collaborators{
			Router:    router,
			VRF:       vrf,
			VRFTables: fakeVRFResolver{100: 7},
		})
		s := mustBuild(t, e, msg(t))

		p := localsid.NewPacket(rawIPv6(t, 41, "2001:db8::1", inner), testHeadroom)
		require.NoError(t, e.Process(0, p, s))
		assert.Equal(t, 1, vrf.calls)
		assert.Empty(t, router.reqs)
	})
}

func TestInputEndDT6LegacyMode(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEndDT6,
		func(ae *netlink.AttributeEncoder) { ae.Uint32(localsid.AttrTable, 300) }))

	inner := rawIPv6(t, 59, "2001:db8:dead::1", nil)
	p := localsid.NewPacket(rawIPv6(t, 41, "2001:db8::1", inner), testHeadroom)

	require.NoError(t, e.Process(0, p, s))
	require.Len(t, router.reqs, 1)
	assert.Equal(t, uint32(300), router.reqs[0].Table)
	assert.True(t, router.reqs[0].LocalDelivery)
}

func TestInputEndDT46(t *testing.T) {
	co := func(router *fakeRouter, vrf *fakeVRF) localsid.Collaborators {
		return localsid.Collaborators{
			Router:    router,
			VRF:       vrf,
			VRFTables: fakeVRFResolver{100: 7},
		}
	}
	msg := func(t *testing.T) []byte {
		return buildMsg(t, localsid.ActionEndDT46, func(ae *netlink.AttributeEncoder) {
			ae.Uint32(localsid.AttrVRFTable, 100)
		})
	}

	t.Run("inner ipv4", func(t *testing.T) {
		router, vrf := &fakeRouter{}, &fakeVRF{}
		e := newTestEngine(co(router, vrf))
		s := mustBuild(t, e, msg(t))

		inner := rawIPv4(t, "198.51.100.1", nil)
		p := localsid.NewPacket(rawIPv6(t, 4, "2001:db8::1", inner), testHeadroom)
		require.NoError(t, e.Process(0, p, s))
		assert.Equal(t, localsid.FamilyIPv4, vrf.family)
	})

	t.Run("inner ipv6", func(t *testing.T) {
		router, vrf := &fakeRouter{}, &fakeVRF{}
		e := newTestEngine(co(router, vrf))
		s := mustBuild(t, e, msg(t))

		inner := rawIPv6(t, 59, "2001:db8:dead::1", nil)
		p := localsid.NewPacket(rawIPv6(t, 41, "2001:db8::1", inner), testHeadroom)
		require.NoError(t, e.Process(0, p, s))
		assert.Equal(t, localsid.FamilyIPv6, vrf.family)
	})

	t.Run("unknown inner type", func(t *testing.T) {
		router, vrf := &fakeRouter{}, &fakeVRF{}
		e := newTestEngine(co(router, vrf))
		s := mustBuild(t, e, msg(t))

		p := localsid.NewPacket(rawIPv6(t, 17, "2001:db8::1", make([]byte, 8)), testHeadroom)
		assert.ErrorIs(t, e.Process(0, p, s), localsid.ErrInvalid)
		assert.Zero(t, vrf.calls)
	})
}

func TestInputEndB6(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	spliced := rawSRH(t, 59, 1, "::", "fc00::7")
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEndB6,
		func(ae *netlink.AttributeEncoder) { ae.Bytes(localsid.AttrSRH, spliced) }))

	srh := rawSRH(t, 59, 1, "2001:db8::", "2001:db8::1")
	p := srhPacket(t, "2001:db8::bad", srh, nil)

	require.NoError(t, e.Process(0, p, s))
	require.Len(t, router.reqs, 1)
	assert.Equal(t, netip.MustParseAddr("fc00::7"), router.reqs[0].Dst)

	// The original SRH keeps its pending segment; only the splice drives
	// the path for now.
	off, ok := localsid.GetSRH(p)
	require.True(t, ok)
	assert.Equal(t, uint8(1), slayers.RawSegmentsLeft(p.Data()[off:]))
}

func TestInputEndB6Encap(t *testing.T) {
	router := &fakeRouter{}
	e := newTestEngine(localsid.Collaborators{Router: router})
	outer := rawSRH(t, 59, 1, "::", "fc00::7")
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEndB6Encap,
		func(ae *netlink.AttributeEncoder) { ae.Bytes(localsid.AttrSRH, outer) }))

	assert.Equal(t, 40, s.Headroom(), "encap declares headroom for the pushed header")

	srh := rawSRH(t, 59, 1, "2001:db8::", "2001:db8::1")
	p := srhPacket(t, "2001:db8::bad", srh, nil)

	require.NoError(t, e.Process(0, p, s))
	require.Len(t, router.reqs, 1)
	assert.Equal(t, netip.MustParseAddr("fc00::7"), router.reqs[0].Dst)

	// The inner SRH was advanced before encapsulation.
	inner := p.Data()[40+len(outer):]
	assert.Equal(t, uint8(0), slayers.RawSegmentsLeft(inner[40:]))
	assert.Equal(t, netip.MustParseAddr("2001:db8::").As16(), [16]byte(inner[24:40]))
}

func TestInputEndBPF(t *testing.T) {
	msg := func(t *testing.T) []byte {
		return buildMsg(t, localsid.ActionEndBPF, func(ae *netlink.AttributeEncoder) {
			ae.Nested(localsid.AttrBPF, func(ae *netlink.AttributeEncoder) error {
				ae.Uint32(localsid.AttrBPFProg, 5)
				ae.String(localsid.AttrBPFProgName, "seg6_test")
				return nil
			})
		})
	}
	mkPkt := func(t *testing.T) *localsid.Packet {
		srh := rawSRH(t, 59, 1, "2001:db8::", "2001:db8::1")
		return srhPacket(t, "2001:db8::bad", srh, nil)
	}

	t.Run("ok routes on", func(t *testing.T) {
		router := &fakeRouter{}
		prog := &fakeProgram{verdict: localsid.VerdictOK}
		e := newTestEngine(localsid.Collaborators{
			Router:   router,
			Programs: &fakeResolver{progs: map[int]*fakeProgram{5: prog}},
		})
		s := mustBuild(t, e, msg(t))

		require.NoError(t, e.Process(0, mkPkt(t), s))
		assert.Equal(t, 1, prog.runs)
		require.Len(t, router.reqs, 1)
		assert.Equal(t, netip.MustParseAddr("2001:db8::"), router.reqs[0].Dst)
	})

	t.Run("redirect skips routing", func(t *testing.T) {
		router := &fakeRouter{}
		prog := &fakeProgram{verdict: localsid.VerdictRedirect}
		e := newTestEngine(localsid.Collaborators{
			Router:   router,
			Programs: &fakeResolver{progs: map[int]*fakeProgram{5: prog}},
		})
		s := mustBuild(t, e, msg(t))

		require.NoError(t, e.Process(0, mkPkt(t), s))
		assert.Empty(t, router.reqs)
	})

	t.Run("drop verdict", func(t *testing.T) {
		router := &fakeRouter{}
		prog := &fakeProgram{verdict: localsid.VerdictDrop}
		e := newTestEngine(localsid.Collaborators{
			Router:   router,
			Programs: &fakeResolver{progs: map[int]*fakeProgram{5: prog}},
		})
		s := mustBuild(t, e, msg(t))

		assert.ErrorIs(t, e.Process(0, mkPkt(t), s), localsid.ErrInvalid)
		assert.Empty(t, router.reqs)
	})

	t.Run("invalidated srh revalidates", func(t *testing.T) {
		router := &fakeRouter{}
		prog := &fakeProgram{verdict: localsid.VerdictOK, invalidate: true}
		e := newTestEngine(localsid.Collaborators{
			Router:   router,
			Programs: &fakeResolver{progs: map[int]*fakeProgram{5: prog}},
		})
		s := mustBuild(t, e, msg(t))

		require.NoError(t, e.Process(0, mkPkt(t), s))
		require.Len(t, router.reqs, 1)
	})
}

func TestProcessRouterFailure(t *testing.T) {
	router := &fakeRouter{err: localsid.ErrNoDevice}
	e := newTestEngine(localsid.Collaborators{Router: router})
	s := mustBuild(t, e, buildMsg(t, localsid.ActionEnd, nil))

	srh := rawSRH(t, 59, 1, "2001:db8::", "2001:db8::1")
	p := srhPacket(t, "2001:db8::bad", srh, nil)
	assert.ErrorIs(t, e.Process(0, p, s), localsid.ErrInvalid)
}
