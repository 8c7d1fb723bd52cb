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

// Package vrfdev adapts Linux VRF and link devices to the segment engine:
// it resolves routing tables to their VRF device and transmits raw frames
// through AF_PACKET sockets.
package vrfdev

import (
	"errors"
	"net"
	"os"
	"sync"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/srv6proto/seg6/localsid"
	"github.com/srv6proto/seg6/pkg/private/serrors"
)

// Resolver resolves routing table ids to VRF devices via rtnetlink. It
// implements localsid.VRFResolver.
type Resolver struct{}

// ByTable returns the index of the VRF device bound to table.
func (Resolver) ByTable(table uint32) (int, error) {
	links, err := netlink.LinkList()
	if err != nil {
		if os.IsPermission(err) {
			return 0, serrors.Wrap("listing links", localsid.ErrPermission)
		}
		return 0, serrors.Wrap("listing links", err)
	}
	for _, link := range links {
		vrf, ok := link.(*netlink.Vrf)
		if !ok {
			continue
		}
		if vrf.Table == table {
			return vrf.Attrs().Index, nil
		}
	}
	return 0, serrors.Wrap("resolving table", localsid.ErrNoDevice, "table", table)
}

// LinkLayer transmits frames through per-device AF_PACKET sockets. It
// implements localsid.LinkLayer.
type LinkLayer struct {
	mu    sync.Mutex
	socks map[int]int
}

// NewLinkLayer creates a link layer with no open sockets. Sockets are opened
// on first transmit per device and kept until Close.
func NewLinkLayer() *LinkLayer {
	return &LinkLayer{socks: make(map[int]int)}
}

// Device implements localsid.LinkLayer.
func (l *LinkLayer) Device(ifindex int) (localsid.Device, bool) {
	link, err := netlink.LinkByIndex(ifindex)
	if err != nil {
		return localsid.Device{}, false
	}
	attrs := link.Attrs()
	return localsid.Device{
		Index:    attrs.Index,
		MTU:      attrs.MTU,
		Ethernet: attrs.EncapType == "ether",
		Up:       attrs.Flags&net.FlagUp != 0,
		Carrier:  attrs.OperState == netlink.OperUp,
	}, true
}

// Transmit implements localsid.LinkLayer.
func (l *LinkLayer) Transmit(ifindex int, frame []byte) error {
	fd, err := l.socket(ifindex)
	if err != nil {
		return err
	}
	addr := &unix.SockaddrLinklayer{Ifindex: ifindex}
	if err := unix.Sendto(fd, frame, 0, addr); err != nil {
		return serrors.Wrap("transmitting frame", err, "ifindex", ifindex)
	}
	return nil
}

func (l *LinkLayer) socket(ifindex int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if fd, ok := l.socks[ifindex]; ok {
		return fd, nil
	}
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, 0)
	if err != nil {
		return 0, serrors.Wrap("opening packet socket", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{Ifindex: ifindex}); err != nil {
		unix.Close(fd)
		return 0, serrors.Wrap("binding packet socket", err, "ifindex", ifindex)
	}
	l.socks[ifindex] = fd
	return fd, nil
}

// Close releases all open sockets.
func (l *LinkLayer) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var errs []error
	for ifindex, fd := range l.socks {
		if err := unix.Close(fd); err != nil {
			errs = append(errs, serrors.Wrap("closing packet socket", err,
				"ifindex", ifindex))
		}
		delete(l.socks, ifindex)
	}
	return errors.Join(errs...)
}
