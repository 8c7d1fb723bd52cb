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

//go:build linux

package main

import (
	"net/netip"

	"github.com/srv6proto/seg6/localsid"
	"github.com/srv6proto/seg6/localsid/ebpfprog"
	"github.com/srv6proto/seg6/localsid/vrfdev"
	"github.com/srv6proto/seg6/private/fib"
	"github.com/srv6proto/seg6/private/underlay/tun"
)

func openDevice(cfg TunConfig) (device, error) {
	return tun.Open(cfg.Name, cfg.MTU)
}

func collaborators(router *fib.Router) (localsid.Collaborators, *fib.VRF) {
	vrf := fib.NewVRF(router)
	return localsid.Collaborators{
		Router:    router,
		VRF:       vrf,
		VRFTables: vrfdev.Resolver{},
		Link:      vrfdev.NewLinkLayer(),
		Programs:  ebpfprog.Resolver{},
	}, vrf
}

// steerPrefix installs a kernel route sending the SID prefix into the
// device.
func steerPrefix(dev device, pfx netip.Prefix) error {
	return dev.(*tun.Device).AddRoute(pfx, 0)
}
