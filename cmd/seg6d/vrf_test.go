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

package main

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srv6proto/seg6/localsid"
	"github.com/srv6proto/seg6/pkg/private/serrors"
	"github.com/srv6proto/seg6/private/fib"
)

// tableResolver resolves routing tables to fixed device indexes.
type tableResolver map[uint32]int

func (r tableResolver) ByTable(table uint32) (int, error) {
	ifindex, ok := r[table]
	if !ok {
		return 0, serrors.New("no vrf device for table", "table", table)
	}
	return ifindex, nil
}

func rawInnerIPv6(dst string) []byte {
	b := make([]byte, 40)
	b[0] = 0x60
	b[6] = 59 // no next header
	b[7] = 64
	copy(b[24:40], netip.MustParseAddr(dst).AsSlice())
	return b
}

func TestBindLocalSIDVRFDevice(t *testing.T) {
	var delivered int
	router := fib.NewRouter(func(p *localsid.Packet, e fib.Entry) error {
		delivered++
		return nil
	})
	router.Insert(100, netip.MustParsePrefix("::/0"), fib.Entry{})

	vrf := fib.NewVRF(router)
	engine := localsid.NewEngine(localsid.Config{NumProcessors: 1},
		localsid.Collaborators{
			Router:    router,
			VRF:       vrf,
			VRFTables: tableResolver{100: 7},
		})

	sc := SIDConfig{SID: "2001:db8::100", Behavior: "End.DT6", VRFTable: 100}
	msg, err := sc.Message()
	require.NoError(t, err)
	state, err := engine.BuildState(msg)
	require.NoError(t, err)

	table, ifindex, ok := state.VRFDevice()
	require.True(t, ok)
	assert.Equal(t, uint32(100), table)
	assert.Equal(t, 7, ifindex)

	inner := localsid.NewPacket(rawInnerIPv6("2001:db8:f::1"), 0)

	// Before the binding, the forwarder has no table for the device.
	_, err = vrf.Receive(inner, localsid.FamilyIPv6, ifindex)
	require.ErrorIs(t, err, fib.ErrNoRoute)

	sids := fib.NewSIDTable()
	defer sids.Close()
	pfx, err := sc.Prefix()
	require.NoError(t, err)
	bindLocalSID(sids, vrf, pfx, state)

	np, err := vrf.Receive(inner, localsid.FamilyIPv6, ifindex)
	require.NoError(t, err)
	assert.Nil(t, np, "a routed packet is consumed by the VRF")
	assert.Equal(t, 1, delivered)
}
