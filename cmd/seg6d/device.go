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
	"io"
	"net/netip"
)

// device is the packet source and sink of the daemon.
type device interface {
	io.ReadWriteCloser
}

var (
	defaultRoute6 = netip.MustParsePrefix("::/0")
	defaultRoute4 = netip.MustParsePrefix("0.0.0.0/0")
)

// ipv6Dst extracts the destination of an IPv6 packet.
func ipv6Dst(raw []byte) (netip.Addr, bool) {
	if len(raw) < 40 || raw[0]>>4 != 6 {
		return netip.Addr{}, false
	}
	return netip.AddrFrom16([16]byte(raw[24:40])), true
}
