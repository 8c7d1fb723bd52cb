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
	"os"
	"strings"

	"github.com/gopacket/gopacket"
	"github.com/mdlayher/netlink"
	"github.com/pelletier/go-toml/v2"

	"github.com/srv6proto/seg6/localsid"
	"github.com/srv6proto/seg6/pkg/log"
	"github.com/srv6proto/seg6/pkg/private/serrors"
	"github.com/srv6proto/seg6/pkg/slayers"
)

// Config is the seg6d TOML configuration.
type Config struct {
	Log     log.Config    `toml:"log,omitempty"`
	Metrics MetricsConfig `toml:"metrics,omitempty"`
	Tun     TunConfig     `toml:"tun,omitempty"`
	Engine  EngineConfig  `toml:"engine,omitempty"`
	// LocalSIDs are the [[localsid]] entries, one per bound segment.
	LocalSIDs []SIDConfig `toml:"localsid,omitempty"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	// Prometheus is the address the metrics HTTP server listens on. Empty
	// disables the endpoint.
	Prometheus string `toml:"prometheus,omitempty"`
}

// TunConfig configures the packet source device.
type TunConfig struct {
	Name string `toml:"name,omitempty"`
	MTU  int    `toml:"mtu,omitempty"`
}

// EngineConfig holds the engine runtime knobs.
type EngineConfig struct {
	NumProcessors  int  `toml:"num_processors,omitempty"`
	NetfilterHooks bool `toml:"netfilter_hooks,omitempty"`
}

// SIDConfig is one local SID binding. SRH segments are listed in path
// traversal order, first hop first.
type SIDConfig struct {
	SID      string   `toml:"sid"`
	Behavior string   `toml:"behavior"`
	Table    uint32   `toml:"table,omitempty"`
	VRFTable uint32   `toml:"vrftable,omitempty"`
	NH4      string   `toml:"nh4,omitempty"`
	NH6      string   `toml:"nh6,omitempty"`
	IIF      int      `toml:"iif,omitempty"`
	OIF      int      `toml:"oif,omitempty"`
	SRH      []string `toml:"srh,omitempty"`
	BPFFD    int      `toml:"bpf_fd,omitempty"`
	BPFName  string   `toml:"bpf_name,omitempty"`
	Counters bool     `toml:"counters,omitempty"`
	Flavors  []string `toml:"flavors,omitempty"`
	// LCBlockBits and LCNodeFnBits set the NEXT-C-SID geometry; zero keeps
	// the defaults.
	LCBlockBits  uint8 `toml:"lcblock_bits,omitempty"`
	LCNodeFnBits uint8 `toml:"lcnode_fn_bits,omitempty"`
}

// LoadConfig reads and validates the TOML configuration at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.Wrap("reading config", err, "file", path)
	}
	var cfg Config
	dec := toml.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, serrors.Wrap("parsing config", err, "file", path)
	}
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// InitDefaults fills in defaults for unset fields.
func (cfg *Config) InitDefaults() {
	if cfg.Tun.Name == "" {
		cfg.Tun.Name = "seg6"
	}
	if cfg.Tun.MTU == 0 {
		cfg.Tun.MTU = 1500
	}
}

// Validate checks the configuration for errors that do not need the engine
// to detect.
func (cfg *Config) Validate() error {
	if len(cfg.LocalSIDs) == 0 {
		return serrors.New("no localsid entries configured")
	}
	seen := make(map[netip.Prefix]struct{}, len(cfg.LocalSIDs))
	for i, sc := range cfg.LocalSIDs {
		pfx, err := sc.Prefix()
		if err != nil {
			return serrors.Wrap("validating localsid entry", err, "index", i)
		}
		if _, ok := seen[pfx]; ok {
			return serrors.New("duplicate localsid entry", "sid", pfx)
		}
		seen[pfx] = struct{}{}
		if _, ok := localsid.ActionByName(sc.Behavior); !ok {
			return serrors.New("unknown behavior", "sid", pfx,
				"behavior", sc.Behavior)
		}
	}
	return nil
}

// Prefix parses the SID field. A bare address binds a /128.
func (sc *SIDConfig) Prefix() (netip.Prefix, error) {
	if strings.Contains(sc.SID, "/") {
		pfx, err := netip.ParsePrefix(sc.SID)
		if err != nil {
			return netip.Prefix{}, serrors.Wrap("parsing sid", err, "sid", sc.SID)
		}
		return pfx, nil
	}
	addr, err := netip.ParseAddr(sc.SID)
	if err != nil {
		return netip.Prefix{}, serrors.Wrap("parsing sid", err, "sid", sc.SID)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Message encodes the entry as the attribute blob consumed by
// localsid.BuildState.
func (sc *SIDConfig) Message() ([]byte, error) {
	action, ok := localsid.ActionByName(sc.Behavior)
	if !ok {
		return nil, serrors.New("unknown behavior", "behavior", sc.Behavior)
	}
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(localsid.AttrAction, uint32(action))
	if len(sc.SRH) > 0 {
		srh, err := encodeSRH(sc.SRH)
		if err != nil {
			return nil, err
		}
		ae.Bytes(localsid.AttrSRH, srh)
	}
	if sc.Table != 0 {
		ae.Uint32(localsid.AttrTable, sc.Table)
	}
	if sc.NH4 != "" {
		addr, err := netip.ParseAddr(sc.NH4)
		if err != nil || !addr.Is4() {
			return nil, serrors.New("invalid nh4 address", "nh4", sc.NH4)
		}
		v := addr.As4()
		ae.Bytes(localsid.AttrNH4, v[:])
	}
	if sc.NH6 != "" {
		addr, err := netip.ParseAddr(sc.NH6)
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return nil, serrors.New("invalid nh6 address", "nh6", sc.NH6)
		}
		v := addr.As16()
		ae.Bytes(localsid.AttrNH6, v[:])
	}
	if sc.IIF != 0 {
		ae.Uint32(localsid.AttrIIF, uint32(sc.IIF))
	}
	if sc.OIF != 0 {
		ae.Uint32(localsid.AttrOIF, uint32(sc.OIF))
	}
	if sc.BPFFD != 0 || sc.BPFName != "" {
		ae.Nested(localsid.AttrBPF, func(ae *netlink.AttributeEncoder) error {
			ae.Uint32(localsid.AttrBPFProg, uint32(sc.BPFFD))
			ae.String(localsid.AttrBPFProgName, sc.BPFName)
			return nil
		})
	}
	if sc.VRFTable != 0 {
		ae.Uint32(localsid.AttrVRFTable, sc.VRFTable)
	}
	if sc.Counters {
		ae.Nested(localsid.AttrCounters, func(ae *netlink.AttributeEncoder) error {
			ae.Uint64(localsid.AttrCntPackets, 0)
			ae.Uint64(localsid.AttrCntBytes, 0)
			ae.Uint64(localsid.AttrCntErrors, 0)
			return nil
		})
	}
	if len(sc.Flavors) > 0 {
		ops, err := parseFlavorOps(sc.Flavors)
		if err != nil {
			return nil, err
		}
		ae.Nested(localsid.AttrFlavors, func(ae *netlink.AttributeEncoder) error {
			ae.Uint32(localsid.AttrFlavorOperation, uint32(ops))
			if sc.LCBlockBits != 0 {
				ae.Uint8(localsid.AttrFlavorLCBlockBits, sc.LCBlockBits)
			}
			if sc.LCNodeFnBits != 0 {
				ae.Uint8(localsid.AttrFlavorLCNodeBits, sc.LCNodeFnBits)
			}
			return nil
		})
	}
	b, err := ae.Encode()
	if err != nil {
		return nil, serrors.Wrap("encoding attributes", err)
	}
	return b, nil
}

func parseFlavorOps(names []string) (localsid.FlavorOps, error) {
	var ops localsid.FlavorOps
	for _, name := range names {
		switch strings.ToLower(name) {
		case "psp":
			ops |= localsid.FlavorPSP
		case "usp":
			ops |= localsid.FlavorUSP
		case "usd":
			ops |= localsid.FlavorUSD
		case "next-csid":
			ops |= localsid.FlavorNextCSID
		default:
			return 0, serrors.New("unknown flavor", "flavor", name)
		}
	}
	return ops, nil
}

// encodeSRH serializes the segment list, given in path traversal order, as
// an SRH with all segments pending.
func encodeSRH(segs []string) ([]byte, error) {
	srh := &slayers.SRH{
		RoutingType:  slayers.RoutingTypeSRH,
		SegmentsLeft: uint8(len(segs) - 1),
	}
	// On the wire the last segment comes first.
	for i := len(segs) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(segs[i])
		if err != nil || !addr.Is6() || addr.Is4In6() {
			return nil, serrors.New("invalid srh segment", "segment", segs[i])
		}
		srh.Segments = append(srh.Segments, addr)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := srh.SerializeTo(buf, opts); err != nil {
		return nil, serrors.Wrap("serializing srh", err)
	}
	return buf.Bytes(), nil
}
