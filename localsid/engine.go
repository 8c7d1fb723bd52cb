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
	"net/netip"
	"runtime"

	"github.com/srv6proto/seg6/pkg/log"
	"github.com/srv6proto/seg6/pkg/private/serrors"
)

// disposition is the outcome of a behavior input function.
type disposition int

const (
	pDiscard disposition = iota
	pForwarded
)

// RouteRequest describes a route lookup and hand-off for a rewritten packet.
type RouteRequest struct {
	Dst    netip.Addr
	Family Family
	// Table, when non-zero, restricts the lookup to that routing table.
	Table uint32
	// OutIface, when non-zero, hints the egress interface.
	OutIface int
	// LocalDelivery allows routes that deliver to the local host.
	LocalDelivery bool
}

// Router is the forwarding engine collaborator. Route looks up the request
// and hands the packet to the input of the resulting route; a non-nil error
// means the packet was not consumed and must be dropped.
type Router interface {
	Route(p *Packet, req RouteRequest) error
}

// VRFForwarder presents a decapsulated packet to a virtual routing instance.
// Receive may consume the packet (nil, nil), reject it (nil, err), or return
// it, possibly rewritten, for an ordinary route lookup.
type VRFForwarder interface {
	Receive(p *Packet, family Family, ifindex int) (*Packet, error)
}

// VRFResolver resolves a routing table id to its VRF device at build time.
// Implementations return an error wrapping ErrPermission when strict VRF
// mode is unavailable.
type VRFResolver interface {
	ByTable(table uint32) (int, error)
}

// HMACVerifier checks the HMAC TLV of an SRH. srh is the full header
// including the TLV region.
type HMACVerifier interface {
	Verify(p *Packet, srh []byte) error
}

// Device describes an egress link-layer device.
type Device struct {
	Index    int
	MTU      int
	Ethernet bool
	Up       bool
	Carrier  bool
}

// LinkLayer is the L2 collaborator used by End.DX2.
type LinkLayer interface {
	Device(ifindex int) (Device, bool)
	Transmit(ifindex int, frame []byte) error
}

// Netfilter applies the prerouting hook to a freshly decapsulated packet. A
// non-nil error drops the packet.
type Netfilter interface {
	Prerouting(p *Packet, family Family) error
}

// Verdict is the return of a packet program.
type Verdict uint32

const (
	VerdictOK       Verdict = 0
	VerdictDrop     Verdict = 2
	VerdictRedirect Verdict = 7
)

// SRHSlot is the per-processor scratch record published to a packet program
// while it runs. The program reads the SRH location through it and clears
// Valid when it rewrites the header, forcing revalidation.
type SRHSlot struct {
	SRHOffset int
	SRHLen    int
	Valid     bool

	_ [40]byte
}

// Program is a loaded packet program. Run executes it against the packet
// with the scratch slot exposed; Close releases the program reference.
type Program interface {
	Run(p *Packet, slot *SRHSlot) (Verdict, error)
	Close() error
}

// ProgramResolver turns a program file descriptor from the configuration
// message into a runnable program.
type ProgramResolver interface {
	Resolve(fd int) (Program, error)
}

// Collaborators are the external interfaces the engine dispatches to. Router
// is required for every behavior except End.DX2; the others are needed only
// by the behaviors that use them.
type Collaborators struct {
	Router    Router
	VRF       VRFForwarder
	VRFTables VRFResolver
	HMAC      HMACVerifier
	Link      LinkLayer
	Netfilter Netfilter
	Programs  ProgramResolver
}

// Config holds the engine runtime knobs.
type Config struct {
	// NumProcessors sizes the per-processor counter cells and program
	// scratch slots. Defaults to GOMAXPROCS.
	NumProcessors int
	// NetfilterHooks enables the prerouting hook on decapsulated packets.
	NetfilterHooks bool
}

// Engine executes local SID behaviors. It is safe for concurrent use by up
// to NumProcessors packet processors, each identified by its index.
type Engine struct {
	cfg    Config
	co     Collaborators
	slots  []SRHSlot
	logger log.Logger
}

// NewEngine creates an engine with the given collaborators.
func NewEngine(cfg Config, co Collaborators) *Engine {
	if cfg.NumProcessors < 1 {
		cfg.NumProcessors = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		cfg:    cfg,
		co:     co,
		slots:  make([]SRHSlot, cfg.NumProcessors),
		logger: log.New("comp", "localsid"),
	}
}

func (e *Engine) slot(proc int) *SRHSlot {
	return &e.slots[proc%len(e.slots)]
}

// Process runs the behavior configured in s on the packet, as processor
// proc. On success the packet has been handed to a collaborator and the
// return is nil; a dropped packet returns an error wrapping ErrInvalid.
// Counters, when enabled, credit packets and bytes (the wire length on
// entry) on success and errors on drop.
func (e *Engine) Process(proc int, p *Packet, s *State) error {
	wireLen := p.Len()
	d := s.desc.input(e, proc, p, s)
	if s.counters != nil {
		cell := &s.counters[proc%len(s.counters)]
		if d == pDiscard {
			cell.addError()
		} else {
			cell.addOK(wireLen)
		}
	}
	if d == pDiscard {
		theMetrics.ProcessedPackets(s.action, "drop").Inc()
		return serrors.Join(ErrInvalid, nil, "behavior", s.action)
	}
	theMetrics.ProcessedPackets(s.action, "forwarded").Inc()
	return nil
}

func (e *Engine) route(p *Packet, req RouteRequest) disposition {
	if e.co.Router == nil {
		return pDiscard
	}
	if err := e.co.Router.Route(p, req); err != nil {
		if e.logger.Enabled(log.DebugLevel) {
			e.logger.Debug("route failed", "dst", req.Dst, "err", err)
		}
		return pDiscard
	}
	return pForwarded
}

// netfilterPrerouting applies the hook when globally enabled; it reports
// whether processing may continue.
func (e *Engine) netfilterPrerouting(p *Packet, family Family) bool {
	if !e.cfg.NetfilterHooks || e.co.Netfilter == nil {
		return true
	}
	return e.co.Netfilter.Prerouting(p, family) == nil
}
