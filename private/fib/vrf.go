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

package fib

import (
	"net/netip"
	"sync"

	"github.com/srv6proto/seg6/localsid"
	"github.com/srv6proto/seg6/pkg/private/serrors"
)

// VRF routes packets received on a VRF device into the routing table bound
// to that device. It implements localsid.VRFForwarder; a routed packet is
// consumed, so Receive never hands a packet back for a second lookup.
type VRF struct {
	mu     sync.RWMutex
	router *Router
	tables map[int]uint32
}

// NewVRF creates a VRF forwarder on top of router with no bound devices.
func NewVRF(router *Router) *VRF {
	return &VRF{router: router, tables: make(map[int]uint32)}
}

// Bind associates a VRF device index with its routing table.
func (v *VRF) Bind(ifindex int, table uint32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tables[ifindex] = table
}

// Receive implements localsid.VRFForwarder.
func (v *VRF) Receive(p *localsid.Packet, family localsid.Family, ifindex int) (*localsid.Packet, error) {
	v.mu.RLock()
	table, ok := v.tables[ifindex]
	v.mu.RUnlock()
	if !ok {
		return nil, serrors.Wrap("receiving on unbound device", ErrNoRoute,
			"ifindex", ifindex)
	}
	dst, ok := packetDst(p, family)
	if !ok {
		return nil, serrors.New("truncated network header", "ifindex", ifindex)
	}
	if err := v.router.Route(p, localsid.RouteRequest{
		Dst:           dst,
		Family:        family,
		Table:         table,
		LocalDelivery: true,
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

func packetDst(p *localsid.Packet, family localsid.Family) (netip.Addr, bool) {
	b := p.Data()
	switch family {
	case localsid.FamilyIPv4:
		if len(b) < 20 {
			return netip.Addr{}, false
		}
		return netip.AddrFrom4([4]byte(b[16:20])), true
	case localsid.FamilyIPv6:
		if len(b) < 40 {
			return netip.Addr{}, false
		}
		return netip.AddrFrom16([16]byte(b[24:40])), true
	}
	return netip.Addr{}, false
}
