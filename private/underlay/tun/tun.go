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

// Package tun contains the low level Linux plumbing for the segment engine's
// packet source: TUN device creation and the netlink calls that steer SID
// prefixes into it.
package tun

import (
	"io"
	"net"
	"net/netip"

	"github.com/songgao/water"
	"github.com/vishvananda/netlink"

	"github.com/srv6proto/seg6/pkg/private/serrors"
)

// Device is an open TUN device.
type Device struct {
	io.ReadWriteCloser
	name  string
	index int
}

// Name returns the device name as created by the kernel.
func (d *Device) Name() string { return d.name }

// Index returns the device's interface index.
func (d *Device) Index() int { return d.index }

// Open creates (or opens) the TUN interface name, sets its MTU and brings it
// up.
func Open(name string, mtu int) (*Device, error) {
	iface, err := water.New(water.Config{
		DeviceType:             water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{Name: name},
	})
	if err != nil {
		return nil, serrors.Wrap("creating tun device", err, "name", name)
	}
	link, err := netlink.LinkByName(iface.Name())
	if err != nil {
		iface.Close()
		return nil, serrors.Wrap("getting tun link", err, "name", iface.Name())
	}
	if mtu != 0 {
		if err := netlink.LinkSetMTU(link, mtu); err != nil {
			iface.Close()
			return nil, serrors.Wrap("setting mtu", err, "name", iface.Name())
		}
	}
	if err := netlink.LinkSetUp(link); err != nil {
		iface.Close()
		return nil, serrors.Wrap("bringing link up", err, "name", iface.Name())
	}
	return &Device{
		ReadWriteCloser: iface,
		name:            iface.Name(),
		index:           link.Attrs().Index,
	}, nil
}

// AddRoute installs a route steering pfx into the device, optionally in a
// specific routing table.
func (d *Device) AddRoute(pfx netip.Prefix, table uint32) error {
	route := netlink.Route{
		LinkIndex: d.index,
		Dst:       prefixToIPNet(pfx),
		Table:     int(table),
	}
	if err := netlink.RouteAdd(&route); err != nil {
		return serrors.Wrap("adding route", err, "name", d.name, "dst", pfx)
	}
	return nil
}

func prefixToIPNet(pfx netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   pfx.Addr().AsSlice(),
		Mask: net.CIDRMask(pfx.Bits(), pfx.Addr().BitLen()),
	}
}
