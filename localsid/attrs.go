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
	"bytes"
	"net/netip"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"

	"github.com/srv6proto/seg6/pkg/private/serrors"
	"github.com/srv6proto/seg6/pkg/slayers"
)

// attrOps bundles the per-attribute codec: parse consumes the raw attribute
// payload into the state and acquires any owned resource, put serializes it
// back, cmp is structural equality, destroy releases what parse acquired.
// Entries with nil parse are handled out of band (the action id).
type attrOps struct {
	parse   func(e *Engine, s *State, v []byte) error
	put     func(s *State, ae *netlink.AttributeEncoder) error
	cmp     func(a, b *State) bool
	destroy func(s *State)
}

var attrOpsTable = [attrMax]attrOps{
	AttrSRH: {
		parse:   parseSRHAttr,
		put:     putSRHAttr,
		cmp:     func(a, b *State) bool { return bytes.Equal(a.srh, b.srh) },
		destroy: func(s *State) { s.srh = nil },
	},
	AttrTable: {
		parse: parseTableAttr,
		put: func(s *State, ae *netlink.AttributeEncoder) error {
			ae.Uint32(AttrTable, s.table)
			return nil
		},
		cmp: func(a, b *State) bool { return a.table == b.table },
	},
	AttrNH4: {
		parse: parseNH4Attr,
		put: func(s *State, ae *netlink.AttributeEncoder) error {
			v := s.nh4.As4()
			ae.Bytes(AttrNH4, v[:])
			return nil
		},
		cmp: func(a, b *State) bool { return a.nh4 == b.nh4 },
	},
	AttrNH6: {
		parse: parseNH6Attr,
		put: func(s *State, ae *netlink.AttributeEncoder) error {
			v := s.nh6.As16()
			ae.Bytes(AttrNH6, v[:])
			return nil
		},
		cmp: func(a, b *State) bool { return a.nh6 == b.nh6 },
	},
	AttrIIF: {
		parse: parseIIFAttr,
		put: func(s *State, ae *netlink.AttributeEncoder) error {
			ae.Uint32(AttrIIF, uint32(s.iif))
			return nil
		},
		cmp: func(a, b *State) bool { return a.iif == b.iif },
	},
	AttrOIF: {
		parse: parseOIFAttr,
		put: func(s *State, ae *netlink.AttributeEncoder) error {
			ae.Uint32(AttrOIF, uint32(s.oif))
			return nil
		},
		cmp: func(a, b *State) bool { return a.oif == b.oif },
	},
	AttrBPF: {
		parse:   parseBPFAttr,
		put:     putBPFAttr,
		cmp:     func(a, b *State) bool { return a.bpf.fd == b.bpf.fd && a.bpf.name == b.bpf.name },
		destroy: destroyBPFAttr,
	},
	AttrVRFTable: {
		parse: parseVRFTableAttr,
		put: func(s *State, ae *netlink.AttributeEncoder) error {
			ae.Uint32(AttrVRFTable, s.vrf.table)
			return nil
		},
		cmp: func(a, b *State) bool { return a.vrf.table == b.vrf.table },
	},
	AttrCounters: {
		parse: parseCountersAttr,
		put:   putCountersAttr,
		// Presence is the configuration; the running values never make two
		// tunnels unequal.
		cmp:     func(a, b *State) bool { return true },
		destroy: func(s *State) { s.counters = nil },
	},
	AttrFlavors: {
		parse: parseFlavorsAttr,
		put:   putFlavorsAttr,
		cmp:   func(a, b *State) bool { return a.flavors == b.flavors },
	},
}

func parseSRHAttr(e *Engine, s *State, v []byte) error {
	if len(v) < slayers.MinSRHLen {
		return serrors.Join(ErrInvalid, nil, "reason", "SRH attribute too short", "len", len(v))
	}
	if got := slayers.RawLen(v); got != len(v) {
		return serrors.Join(ErrInvalid, nil,
			"reason", "SRH attribute length mismatch", "hdr_len", got, "len", len(v))
	}
	if err := slayers.ValidateSRH(v); err != nil {
		return serrors.Join(ErrInvalid, err, "reason", "invalid SRH attribute")
	}
	s.srh = bytes.Clone(v)
	return nil
}

func putSRHAttr(s *State, ae *netlink.AttributeEncoder) error {
	ae.Bytes(AttrSRH, s.srh)
	return nil
}

func parseTableAttr(e *Engine, s *State, v []byte) error {
	t, err := attrUint32(v)
	if err != nil {
		return err
	}
	s.table = t
	return nil
}

func parseNH4Attr(e *Engine, s *State, v []byte) error {
	if len(v) != 4 {
		return serrors.Join(ErrInvalid, nil, "reason", "bad nh4 length", "len", len(v))
	}
	s.nh4 = netip.AddrFrom4([4]byte(v))
	return nil
}

func parseNH6Attr(e *Engine, s *State, v []byte) error {
	if len(v) != 16 {
		return serrors.Join(ErrInvalid, nil, "reason", "bad nh6 length", "len", len(v))
	}
	s.nh6 = netip.AddrFrom16([16]byte(v))
	return nil
}

func parseIIFAttr(e *Engine, s *State, v []byte) error {
	i, err := attrUint32(v)
	if err != nil {
		return err
	}
	s.iif = int(i)
	return nil
}

func parseOIFAttr(e *Engine, s *State, v []byte) error {
	i, err := attrUint32(v)
	if err != nil {
		return err
	}
	s.oif = int(i)
	return nil
}

func parseBPFAttr(e *Engine, s *State, v []byte) error {
	ad, err := netlink.NewAttributeDecoder(v)
	if err != nil {
		return serrors.Join(ErrInvalid, err, "reason", "bad bpf attribute")
	}
	var (
		fd       int
		name     string
		haveFD   bool
		haveName bool
	)
	for ad.Next() {
		switch ad.Type() {
		case AttrBPFProg:
			fd = int(ad.Uint32())
			haveFD = true
		case AttrBPFProgName:
			name = ad.String()
			haveName = true
		}
	}
	if err := ad.Err(); err != nil {
		return serrors.Join(ErrInvalid, err, "reason", "bad bpf attribute")
	}
	if !haveFD || !haveName || len(name) > maxProgNameLen {
		return serrors.Join(ErrInvalid, nil, "reason", "bpf prog and prog name required")
	}
	if e.co.Programs == nil {
		return serrors.Join(ErrNotSupported, nil, "reason", "no program resolver")
	}
	prog, err := e.co.Programs.Resolve(fd)
	if err != nil {
		return serrors.Join(ErrInvalid, err, "reason", "cannot resolve program", "fd", fd)
	}
	s.bpf = bpfInfo{fd: fd, name: name, prog: prog}
	return nil
}

func putBPFAttr(s *State, ae *netlink.AttributeEncoder) error {
	ae.Nested(AttrBPF, func(ae *netlink.AttributeEncoder) error {
		ae.Uint32(AttrBPFProg, uint32(s.bpf.fd))
		ae.String(AttrBPFProgName, s.bpf.name)
		return nil
	})
	return nil
}

func destroyBPFAttr(s *State) {
	if s.bpf.prog != nil {
		s.bpf.prog.Close()
	}
	s.bpf = bpfInfo{}
}

func parseVRFTableAttr(e *Engine, s *State, v []byte) error {
	t, err := attrUint32(v)
	if err != nil {
		return err
	}
	s.vrf.table = t
	return nil
}

// parseCountersAttr treats the three nested counters as a presence set:
// supplying them enables per-processor accounting, the carried values are
// ignored.
func parseCountersAttr(e *Engine, s *State, v []byte) error {
	ad, err := netlink.NewAttributeDecoder(v)
	if err != nil {
		return serrors.Join(ErrInvalid, err, "reason", "bad counters attribute")
	}
	var have attrSet
	for ad.Next() {
		switch ad.Type() {
		case AttrCntPackets, AttrCntBytes, AttrCntErrors:
			have |= attrBit(int(ad.Type()))
		}
	}
	if err := ad.Err(); err != nil {
		return serrors.Join(ErrInvalid, err, "reason", "bad counters attribute")
	}
	want := attrBit(AttrCntPackets) | attrBit(AttrCntBytes) | attrBit(AttrCntErrors)
	if have != want {
		return serrors.Join(ErrInvalid, nil, "reason", "incomplete counters attribute")
	}
	s.counters = newCounterCells(e.cfg.NumProcessors)
	return nil
}

func putCountersAttr(s *State, ae *netlink.AttributeEncoder) error {
	snap, _ := s.Counters()
	ae.Nested(AttrCounters, func(ae *netlink.AttributeEncoder) error {
		ae.Uint64(AttrCntPackets, snap.Packets)
		ae.Uint64(AttrCntBytes, snap.Bytes)
		ae.Uint64(AttrCntErrors, snap.Errors)
		return nil
	})
	return nil
}

func parseFlavorsAttr(e *Engine, s *State, v []byte) error {
	ad, err := netlink.NewAttributeDecoder(v)
	if err != nil {
		return serrors.Join(ErrInvalid, err, "reason", "bad flavors attribute")
	}
	fi := FlavorInfo{
		LCBlockBits:  defaultLCBlockBits,
		LCNodeFnBits: defaultLCNodeFnBits,
	}
	haveOp := false
	for ad.Next() {
		switch ad.Type() {
		case AttrFlavorOperation:
			fi.Ops = FlavorOps(ad.Uint32())
			haveOp = true
		case AttrFlavorLCBlockBits:
			fi.LCBlockBits = ad.Uint8()
		case AttrFlavorLCNodeBits:
			fi.LCNodeFnBits = ad.Uint8()
		}
	}
	if err := ad.Err(); err != nil {
		return serrors.Join(ErrInvalid, err, "reason", "bad flavors attribute")
	}
	if !haveOp {
		return serrors.Join(ErrInvalid, nil, "reason", "flavor operation required")
	}
	if err := validateFlavors(s.desc, &fi); err != nil {
		return err
	}
	s.flavors = fi
	return nil
}

func putFlavorsAttr(s *State, ae *netlink.AttributeEncoder) error {
	ae.Nested(AttrFlavors, func(ae *netlink.AttributeEncoder) error {
		ae.Uint32(AttrFlavorOperation, uint32(s.flavors.Ops))
		if s.flavors.Ops&FlavorNextCSID != 0 {
			ae.Uint8(AttrFlavorLCBlockBits, s.flavors.LCBlockBits)
			ae.Uint8(AttrFlavorLCNodeBits, s.flavors.LCNodeFnBits)
		}
		return nil
	})
	return nil
}

func attrUint32(v []byte) (uint32, error) {
	if len(v) != 4 {
		return 0, serrors.Join(ErrInvalid, nil, "reason", "bad u32 attribute", "len", len(v))
	}
	return nlenc.Uint32(v), nil
}

// BuildState decodes a tagged-attribute configuration message, validates it
// against the descriptor of the selected behavior, and builds an immutable
// tunnel state. On any failure, attributes parsed so far are released and
// the error wraps one of the errno sentinels.
func (e *Engine) BuildState(msg []byte) (s *State, err error) {
	var action Action
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
		}
		theMetrics.BuildStates(action, result).Inc()
	}()

	ad, err := netlink.NewAttributeDecoder(msg)
	if err != nil {
		return nil, serrors.Join(ErrInvalid, err, "reason", "malformed message")
	}
	var (
		haveAction bool
		raw        = make(map[int][]byte)
	)
	for ad.Next() {
		id := int(ad.Type())
		if id <= attrUnspec || id >= attrMax {
			return nil, serrors.Join(ErrInvalid, nil, "reason", "unknown attribute", "id", id)
		}
		if id == AttrAction {
			action = Action(ad.Uint32())
			haveAction = true
			continue
		}
		raw[id] = ad.Bytes()
	}
	if err := ad.Err(); err != nil {
		return nil, serrors.Join(ErrInvalid, err, "reason", "malformed message")
	}
	if !haveAction {
		return nil, serrors.Join(ErrInvalid, nil, "reason", "missing action")
	}
	desc, ok := descByAction(action)
	if !ok {
		return nil, serrors.Join(ErrNotSupported, nil,
			"reason", "unknown behavior", "action", uint32(action))
	}
	if desc.attrs&desc.optAttrs != 0 {
		return nil, serrors.Join(ErrInvalid, nil,
			"reason", "required and optional attribute sets overlap",
			"behavior", desc.action)
	}
	for id := range raw {
		if !desc.attrs.has(id) && !desc.optAttrs.has(id) {
			return nil, serrors.Join(ErrInvalid, nil,
				"reason", "attribute forbidden for behavior",
				"behavior", desc.action, "id", id)
		}
	}

	s = &State{action: action, desc: desc, headroom: desc.staticHeadroom}
	var parsed attrSet
	rollback := func() {
		for id := 1; id < attrMax; id++ {
			if parsed.has(id) && attrOpsTable[id].destroy != nil {
				attrOpsTable[id].destroy(s)
			}
		}
	}
	for id := 1; id < attrMax; id++ {
		v, supplied := raw[id]
		switch {
		case desc.attrs.has(id):
			if !supplied {
				rollback()
				return nil, serrors.Join(ErrInvalid, nil,
					"reason", "missing required attribute",
					"behavior", desc.action, "id", id)
			}
		case desc.optAttrs.has(id) && supplied:
			s.parsedOptional |= attrBit(id)
		default:
			continue
		}
		if err := attrOpsTable[id].parse(e, s, v); err != nil {
			rollback()
			return nil, err
		}
		parsed |= attrBit(id)
	}
	if desc.build != nil {
		if err := desc.build(e, s); err != nil {
			rollback()
			return nil, err
		}
	}
	return s, nil
}

// Emit serializes the state back into the configuration representation,
// attributes in identifier order.
func (s *State) Emit() ([]byte, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(AttrAction, uint32(s.action))
	attrs := s.desc.attrs | s.parsedOptional
	for id := 1; id < attrMax; id++ {
		if !attrs.has(id) || attrOpsTable[id].put == nil {
			continue
		}
		if err := attrOpsTable[id].put(s, ae); err != nil {
			return nil, err
		}
	}
	b, err := ae.Encode()
	if err != nil {
		return nil, serrors.Wrap("encoding state", err, "behavior", s.action)
	}
	return b, nil
}

func destroyState(s *State) {
	if s.desc == nil {
		return
	}
	attrs := s.desc.attrs | s.parsedOptional
	for id := 1; id < attrMax; id++ {
		if attrs.has(id) && attrOpsTable[id].destroy != nil {
			attrOpsTable[id].destroy(s)
		}
	}
	if s.desc.destroy != nil {
		s.desc.destroy(s)
	}
}
