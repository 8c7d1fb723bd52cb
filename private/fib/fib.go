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

// Package fib provides the longest-prefix-match tables behind the segment
// engine: a multi-table router implementing the Route collaborator, and a
// SID table mapping local segment prefixes to their tunnel states.
package fib

import (
	"net/netip"
	"sync"

	"github.com/gaissmai/bart"

	"github.com/srv6proto/seg6/localsid"
	"github.com/srv6proto/seg6/pkg/private/serrors"
)

// MainTable is the table id used when a route request does not name one.
const MainTable uint32 = 254

// ErrNoRoute indicates the lookup found no matching entry.
var ErrNoRoute = serrors.New("no route to destination")

// Entry is a forwarding table entry.
type Entry struct {
	// NextHop, when valid, is the gateway the packet is forwarded through.
	// Otherwise the destination is on-link.
	NextHop netip.Addr
	// OutIface is the egress interface index, zero if unbound.
	OutIface int
	// Local marks a route that delivers to the local host.
	Local bool
}

// Forwarder consumes a packet matched to an entry. A non-nil error means the
// packet was not sent.
type Forwarder func(p *localsid.Packet, e Entry) error

// Router is a set of routing tables keyed by table id. It implements
// localsid.Router; the zero table id falls back to MainTable.
type Router struct {
	mu      sync.RWMutex
	tables  map[uint32]*bart.Table[Entry]
	forward Forwarder
}

// NewRouter creates a router that hands matched packets to forward.
func NewRouter(forward Forwarder) *Router {
	return &Router{
		tables:  make(map[uint32]*bart.Table[Entry]),
		forward: forward,
	}
}

// Insert adds or replaces the entry for pfx in the given table.
func (r *Router) Insert(table uint32, pfx netip.Prefix, e Entry) {
	if table == 0 {
		table = MainTable
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[table]
	if !ok {
		t = &bart.Table[Entry]{}
		r.tables[table] = t
	}
	t.Insert(pfx, e)
}

// Delete removes the entry for pfx from the given table, if present.
func (r *Router) Delete(table uint32, pfx netip.Prefix) {
	if table == 0 {
		table = MainTable
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tables[table]; ok {
		t.Delete(pfx)
	}
}

// Lookup returns the longest-prefix-match entry for dst in the given table.
func (r *Router) Lookup(table uint32, dst netip.Addr) (Entry, bool) {
	if table == 0 {
		table = MainTable
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[table]
	if !ok {
		return Entry{}, false
	}
	return t.Lookup(dst)
}

// Route implements localsid.Router.
func (r *Router) Route(p *localsid.Packet, req localsid.RouteRequest) error {
	e, ok := r.Lookup(req.Table, req.Dst)
	if !ok {
		return serrors.Wrap("looking up destination", ErrNoRoute,
			"dst", req.Dst, "table", req.Table)
	}
	if e.Local && !req.LocalDelivery {
		return serrors.Wrap("matched local route", ErrNoRoute,
			"dst", req.Dst, "table", req.Table)
	}
	if req.OutIface != 0 && e.OutIface != 0 && e.OutIface != req.OutIface {
		return serrors.Wrap("egress interface mismatch", ErrNoRoute,
			"dst", req.Dst, "route_oif", e.OutIface, "requested_oif", req.OutIface)
	}
	if e.OutIface == 0 {
		e.OutIface = req.OutIface
	}
	return r.forward(p, e)
}

// SIDTable maps local segment prefixes to tunnel states. Lookups are
// longest-prefix-match so a compressed-SID block can be bound as a whole.
type SIDTable struct {
	mu   sync.RWMutex
	t    bart.Table[*localsid.State]
	sids map[netip.Prefix]*localsid.State
}

// NewSIDTable creates an empty SID table.
func NewSIDTable() *SIDTable {
	return &SIDTable{sids: make(map[netip.Prefix]*localsid.State)}
}

// Insert binds pfx to state, destroying any state previously bound to the
// exact same prefix.
func (s *SIDTable) Insert(pfx netip.Prefix, state *localsid.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.sids[pfx]; ok {
		old.Destroy()
	}
	s.sids[pfx] = state
	s.t.Insert(pfx, state)
}

// Delete unbinds pfx and destroys its state.
func (s *SIDTable) Delete(pfx netip.Prefix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.sids[pfx]
	if !ok {
		return
	}
	delete(s.sids, pfx)
	s.t.Delete(pfx)
	old.Destroy()
}

// Lookup returns the tunnel state matching dst, if any.
func (s *SIDTable) Lookup(dst netip.Addr) (*localsid.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.t.Lookup(dst)
}

// Tunnels returns the current tunnel set. It implements
// localsid.TunnelLister.
func (s *SIDTable) Tunnels() []localsid.Tunnel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]localsid.Tunnel, 0, len(s.sids))
	for pfx, state := range s.sids {
		out = append(out, localsid.Tunnel{SID: pfx, State: state})
	}
	return out
}

// Close destroys all bound states.
func (s *SIDTable) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pfx, state := range s.sids {
		state.Destroy()
		s.t.Delete(pfx)
		delete(s.sids, pfx)
	}
}
